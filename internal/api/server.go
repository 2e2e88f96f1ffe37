package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
	"github.com/Parser322/tg-pipeline/internal/pipeline"
	"github.com/Parser322/tg-pipeline/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Runner starts pipeline runs.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (int, error)
	LoadLargeMedia(ctx context.Context, postID, mediaID string) (domain.MediaRow, error)
}

// RunControl inspects and cancels in-flight runs.
type RunControl interface {
	Stop(userID string) bool
	Running(userID string) bool
}

// Store is the persistence surface the API reads and mutates.
type Store interface {
	GetProgress(ctx context.Context, userID string) (domain.ProgressState, error)
	GetAllPosts(ctx context.Context, sortBy string) ([]domain.Post, error)
	GetPost(ctx context.Context, postID string) (domain.Post, error)
	GetPostMedia(ctx context.Context, postID string) ([]domain.MediaRow, error)
	DeletePost(ctx context.Context, postID string) ([]string, error)
	DeleteAllPosts(ctx context.Context) ([]string, error)
	SetTranslation(ctx context.Context, postID, lang, text string) error
	SaveChannel(ctx context.Context, userID, channel string) error
	GetSavedChannel(ctx context.Context, userID string) (string, error)
	DeleteSavedChannel(ctx context.Context, userID string) error
	SaveCredentials(ctx context.Context, userID string, creds storage.EncryptedCredentials) error
	GetCredentials(ctx context.Context, userID string) (storage.EncryptedCredentials, error)
	DeleteCredentials(ctx context.Context, userID string) error
}

// Translator renders stored post content in a target language.
type Translator interface {
	Translate(ctx context.Context, content, targetLang string) (string, error)
}

// FileRemover cleans up stored media files for deleted posts.
type FileRemover interface {
	Remove(storagePath string)
}

// Encryptor seals credential values before they reach storage and
// opens them again for validation.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Defaults supplies request fallbacks configured at startup.
type Defaults struct {
	Channel  string
	Limit    int
	Lookback time.Duration
	Quotas   QuotaDefaults
}

// QuotaDefaults are the per-criterion top selection quotas.
type QuotaDefaults struct {
	Likes    int
	Comments int
	Views    int
}

// Server exposes the pipeline over HTTP: triggering runs, polling
// progress, browsing stored posts and serving stored media files.
type Server struct {
	runner     Runner
	control    RunControl
	store      Store
	translator Translator
	files      FileRemover
	box        Encryptor
	defaults   Defaults
	mediaRoot  string
	port       int
	logger     *zerolog.Logger
}

func NewServer(
	runner Runner,
	control RunControl,
	store Store,
	translator Translator,
	files FileRemover,
	box Encryptor,
	defaults Defaults,
	mediaRoot string,
	port int,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		runner:     runner,
		control:    control,
		store:      store,
		translator: translator,
		files:      files,
		box:        box,
		defaults:   defaults,
		mediaRoot:  mediaRoot,
		port:       port,
		logger:     logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Post("/stop", s.handleStop)
		r.Get("/status", s.handleStatus)

		r.Get("/posts", s.handleListPosts)
		r.Delete("/posts", s.handleDeleteAllPosts)
		r.Get("/posts/{id}", s.handleGetPost)
		r.Delete("/posts/{id}", s.handleDeletePost)
		r.Post("/posts/{id}/translate", s.handleTranslatePost)
		r.Post("/posts/{id}/media/{mediaID}/load-large", s.handleLoadLargeMedia)

		r.Post("/channel", s.handleSaveChannel)
		r.Get("/channel", s.handleGetChannel)
		r.Delete("/channel", s.handleDeleteChannel)

		r.Post("/credentials", s.handleSaveCredentials)
		r.Get("/credentials", s.handleGetCredentials)
		r.Delete("/credentials", s.handleDeleteCredentials)
		r.Post("/credentials/validate", s.handleValidateCredentials)
	})

	if s.mediaRoot != "" {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(s.mediaRoot))))
	}

	return r
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.port).Msg("API server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}
