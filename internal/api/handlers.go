package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
	"github.com/Parser322/tg-pipeline/internal/pipeline"
	"github.com/Parser322/tg-pipeline/internal/rank"
	"github.com/Parser322/tg-pipeline/internal/storage"
	"github.com/Parser322/tg-pipeline/internal/translate"
)

type runRequest struct {
	UserID     string `json:"user_id"`
	Channel    string `json:"channel"`
	Mode       string `json:"mode"`
	Limit      int    `json:"limit"`
	Since      string `json:"since"`
	TargetLang string `json:"target_lang"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

type channelRequest struct {
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
}

type credentialsRequest struct {
	UserID  string `json:"user_id"`
	APIID   string `json:"api_id"`
	APIHash string `json:"api_hash"`
	Phone   string `json:"phone"`
}

type translateRequest struct {
	Lang string `json:"lang"`
}

type postResponse struct {
	domain.Post
	Media []domain.MediaRow
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if body.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)

		return
	}

	if s.control.Running(body.UserID) {
		http.Error(w, "a run is already active for this user", http.StatusConflict)

		return
	}

	req, err := s.buildRequest(r.Context(), body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	go func() {
		saved, err := s.runner.Run(context.Background(), req)
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("pipeline run failed")

			return
		}

		s.logger.Info().Str("user_id", req.UserID).Int("saved", saved).Msg("pipeline run finished")
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"mode":   req.Mode,
	})
}

// buildRequest fills request defaults: saved channel before configured
// channel, configured limit, quotas and lookback. A free-form "since"
// narrows the top selection window.
func (s *Server) buildRequest(ctx context.Context, body runRequest) (pipeline.Request, error) {
	req := pipeline.Request{
		UserID:     body.UserID,
		Channel:    body.Channel,
		Mode:       body.Mode,
		Limit:      body.Limit,
		Lookback:   s.defaults.Lookback,
		TargetLang: body.TargetLang,
		Quotas: rank.Quotas{
			Likes:    s.defaults.Quotas.Likes,
			Comments: s.defaults.Quotas.Comments,
			Views:    s.defaults.Quotas.Views,
		},
	}

	if req.Mode == "" {
		req.Mode = pipeline.ModeBatch
	}

	if req.Mode != pipeline.ModeBatch && req.Mode != pipeline.ModeTop {
		return pipeline.Request{}, errors.New("mode must be batch or top")
	}

	if req.Limit <= 0 {
		req.Limit = s.defaults.Limit
	}

	if req.Channel == "" {
		saved, err := s.store.GetSavedChannel(ctx, body.UserID)
		if err == nil {
			req.Channel = saved
		} else if !errors.Is(err, storage.ErrNoSavedChannel) {
			return pipeline.Request{}, err
		}
	}

	if req.Channel == "" {
		req.Channel = s.defaults.Channel
	}

	if req.Channel == "" {
		return pipeline.Request{}, errors.New("channel is required")
	}

	if body.TargetLang != "" {
		lang, err := translate.ValidateLang(body.TargetLang)
		if err != nil {
			return pipeline.Request{}, err
		}

		req.TargetLang = lang
	}

	if body.Since != "" {
		t, err := dateparse.ParseAny(body.Since)
		if err != nil {
			return pipeline.Request{}, errors.New("could not parse since date")
		}

		req.Lookback = time.Since(t)
		if req.Lookback <= 0 {
			return pipeline.Request{}, errors.New("since must be in the past")
		}
	}

	return req, nil
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var body userRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)

		return
	}

	stopped := s.control.Stop(body.UserID)

	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)

		return
	}

	state, err := s.store.GetProgress(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to get progress")
		http.Error(w, "failed to get progress", http.StatusInternalServerError)

		return
	}

	// The registry is authoritative for liveness; the mirrored row can
	// lag behind a crashed process.
	state.IsRunning = s.control.Running(userID)

	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.GetAllPosts(r.Context(), r.URL.Query().Get("sort_by"))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list posts")
		http.Error(w, "failed to list posts", http.StatusInternalServerError)

		return
	}

	out := make([]postResponse, 0, len(posts))

	for _, p := range posts {
		media, err := s.store.GetPostMedia(r.Context(), p.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("post_id", p.ID).Msg("failed to load post media")
			http.Error(w, "failed to list posts", http.StatusInternalServerError)

			return
		}

		out = append(out, postResponse{Post: p, Media: media})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	postID, ok := postIDParam(w, r)
	if !ok {
		return
	}

	post, err := s.store.GetPost(r.Context(), postID)
	if err != nil {
		http.NotFound(w, r)

		return
	}

	media, err := s.store.GetPostMedia(r.Context(), postID)
	if err != nil {
		s.logger.Error().Err(err).Str("post_id", postID).Msg("failed to load post media")
		http.Error(w, "failed to load post", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, postResponse{Post: post, Media: media})
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	postID, ok := postIDParam(w, r)
	if !ok {
		return
	}

	paths, err := s.store.DeletePost(r.Context(), postID)
	if err != nil {
		http.NotFound(w, r)

		return
	}

	for _, p := range paths {
		s.files.Remove(p)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleDeleteAllPosts(w http.ResponseWriter, r *http.Request) {
	paths, err := s.store.DeleteAllPosts(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to delete posts")
		http.Error(w, "failed to delete posts", http.StatusInternalServerError)

		return
	}

	for _, p := range paths {
		s.files.Remove(p)
	}

	writeJSON(w, http.StatusOK, map[string]int{"deleted_media": len(paths)})
}

func (s *Server) handleTranslatePost(w http.ResponseWriter, r *http.Request) {
	if s.translator == nil {
		http.Error(w, "translation is not configured", http.StatusServiceUnavailable)

		return
	}

	postID, ok := postIDParam(w, r)
	if !ok {
		return
	}

	var body translateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Lang == "" {
		http.Error(w, "lang is required", http.StatusBadRequest)

		return
	}

	lang, err := translate.ValidateLang(body.Lang)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	post, err := s.store.GetPost(r.Context(), postID)
	if err != nil {
		http.NotFound(w, r)

		return
	}

	translated, err := s.translator.Translate(r.Context(), post.Content, lang)
	if err != nil {
		s.logger.Error().Err(err).Str("post_id", postID).Msg("translation failed")
		http.Error(w, "translation failed", http.StatusBadGateway)

		return
	}

	if err := s.store.SetTranslation(r.Context(), postID, lang, translated); err != nil {
		s.logger.Error().Err(err).Str("post_id", postID).Msg("failed to store translation")
		http.Error(w, "failed to store translation", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"target_lang":        lang,
		"translated_content": translated,
	})
}

func (s *Server) handleLoadLargeMedia(w http.ResponseWriter, r *http.Request) {
	postID, ok := postIDParam(w, r)
	if !ok {
		return
	}

	mediaID := strings.TrimSpace(chi.URLParam(r, "mediaID"))
	if _, err := uuid.Parse(mediaID); err != nil {
		http.Error(w, "invalid media id", http.StatusBadRequest)

		return
	}

	row, err := s.runner.LoadLargeMedia(r.Context(), postID, mediaID)

	switch {
	case errors.Is(err, storage.ErrNoMediaRow), errors.Is(err, pipeline.ErrMediaNotFound):
		http.NotFound(w, r)

		return
	case errors.Is(err, pipeline.ErrMediaNotOversized):
		http.Error(w, err.Error(), http.StatusConflict)

		return
	case err != nil:
		s.logger.Error().Err(err).Str("media_id", mediaID).Msg("failed to load oversized media")
		http.Error(w, "failed to load media", http.StatusBadGateway)

		return
	}

	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleSaveChannel(w http.ResponseWriter, r *http.Request) {
	var body channelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" || body.Channel == "" {
		http.Error(w, "user_id and channel are required", http.StatusBadRequest)

		return
	}

	if err := s.store.SaveChannel(r.Context(), body.UserID, body.Channel); err != nil {
		s.logger.Error().Err(err).Msg("failed to save channel")
		http.Error(w, "failed to save channel", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"channel": body.Channel})
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)

		return
	}

	channel, err := s.store.GetSavedChannel(r.Context(), userID)
	if errors.Is(err, storage.ErrNoSavedChannel) {
		http.NotFound(w, r)

		return
	}

	if err != nil {
		s.logger.Error().Err(err).Msg("failed to get saved channel")
		http.Error(w, "failed to get saved channel", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"channel": channel})
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	var body userRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)

		return
	}

	if err := s.store.DeleteSavedChannel(r.Context(), body.UserID); err != nil {
		s.logger.Error().Err(err).Msg("failed to delete saved channel")
		http.Error(w, "failed to delete saved channel", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleSaveCredentials(w http.ResponseWriter, r *http.Request) {
	if s.box == nil {
		http.Error(w, "credential storage is not configured", http.StatusServiceUnavailable)

		return
	}

	var body credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil ||
		body.UserID == "" || body.APIID == "" || body.APIHash == "" || body.Phone == "" {
		http.Error(w, "user_id, api_id, api_hash and phone are required", http.StatusBadRequest)

		return
	}

	creds := storage.EncryptedCredentials{}

	var err error

	if creds.APIID, err = s.box.Encrypt(body.APIID); err == nil {
		if creds.APIHash, err = s.box.Encrypt(body.APIHash); err == nil {
			creds.Phone, err = s.box.Encrypt(body.Phone)
		}
	}

	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encrypt credentials")
		http.Error(w, "failed to store credentials", http.StatusInternalServerError)

		return
	}

	if err := s.store.SaveCredentials(r.Context(), body.UserID, creds); err != nil {
		s.logger.Error().Err(err).Msg("failed to save credentials")
		http.Error(w, "failed to store credentials", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)

		return
	}

	_, err := s.store.GetCredentials(r.Context(), userID)
	if errors.Is(err, storage.ErrNoCredentials) {
		writeJSON(w, http.StatusOK, map[string]bool{"has_credentials": false})

		return
	}

	if err != nil {
		s.logger.Error().Err(err).Msg("failed to get credentials")
		http.Error(w, "failed to get credentials", http.StatusInternalServerError)

		return
	}

	// Plaintext is never returned.
	writeJSON(w, http.StatusOK, map[string]bool{"has_credentials": true})
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	var body userRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)

		return
	}

	if err := s.store.DeleteCredentials(r.Context(), body.UserID); err != nil {
		s.logger.Error().Err(err).Msg("failed to delete credentials")
		http.Error(w, "failed to delete credentials", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

func (s *Server) handleValidateCredentials(w http.ResponseWriter, r *http.Request) {
	if s.box == nil {
		http.Error(w, "credential storage is not configured", http.StatusServiceUnavailable)

		return
	}

	var body userRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)

		return
	}

	creds, err := s.store.GetCredentials(r.Context(), body.UserID)
	if errors.Is(err, storage.ErrNoCredentials) {
		http.NotFound(w, r)

		return
	}

	if err != nil {
		s.logger.Error().Err(err).Msg("failed to get credentials")
		http.Error(w, "failed to get credentials", http.StatusInternalServerError)

		return
	}

	if reason, ok := s.checkCredentials(creds); !ok {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": reason})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// checkCredentials decrypts a stored row and shape-checks each field.
// Plaintext values never leave this function.
func (s *Server) checkCredentials(creds storage.EncryptedCredentials) (string, bool) {
	apiID, err := s.box.Decrypt(creds.APIID)
	if err != nil {
		return "api_id cannot be decrypted", false
	}

	if n, err := strconv.Atoi(apiID); err != nil || n <= 0 {
		return "api_id is not a positive number", false
	}

	apiHash, err := s.box.Decrypt(creds.APIHash)
	if err != nil {
		return "api_hash cannot be decrypted", false
	}

	if len(apiHash) < 8 {
		return "api_hash is too short", false
	}

	phone, err := s.box.Decrypt(creds.Phone)
	if err != nil {
		return "phone cannot be decrypted", false
	}

	if !phonePattern.MatchString(phone) {
		return "phone has an unexpected format", false
	}

	return "", true
}

func postIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "invalid post id", http.StatusBadRequest)

		return "", false
	}

	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
