package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
	"github.com/Parser322/tg-pipeline/internal/pipeline"
	"github.com/Parser322/tg-pipeline/internal/storage"
)

type fakeRunner struct {
	mu        sync.Mutex
	reqs      []pipeline.Request
	done      chan struct{}
	loadRow   domain.MediaRow
	loadErr   error
	loadCalls []string
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (int, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.done != nil {
		close(f.done)
	}

	return 1, nil
}

func (f *fakeRunner) LoadLargeMedia(_ context.Context, postID, mediaID string) (domain.MediaRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loadCalls = append(f.loadCalls, postID+"/"+mediaID)

	if f.loadErr != nil {
		return domain.MediaRow{}, f.loadErr
	}

	return f.loadRow, nil
}

func (f *fakeRunner) last() (pipeline.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.reqs) == 0 {
		return pipeline.Request{}, false
	}

	return f.reqs[len(f.reqs)-1], true
}

type fakeControl struct {
	running map[string]bool
	stopped []string
}

func (f *fakeControl) Stop(userID string) bool {
	f.stopped = append(f.stopped, userID)

	return f.running[userID]
}

func (f *fakeControl) Running(userID string) bool { return f.running[userID] }

type fakeAPIStore struct {
	posts       map[string]domain.Post
	media       map[string][]domain.MediaRow
	progress    map[string]domain.ProgressState
	channels    map[string]string
	credentials map[string]storage.EncryptedCredentials
	translated  map[string]string
}

func newFakeAPIStore() *fakeAPIStore {
	return &fakeAPIStore{
		posts:       map[string]domain.Post{},
		media:       map[string][]domain.MediaRow{},
		progress:    map[string]domain.ProgressState{},
		channels:    map[string]string{},
		credentials: map[string]storage.EncryptedCredentials{},
		translated:  map[string]string{},
	}
}

func (f *fakeAPIStore) GetProgress(_ context.Context, userID string) (domain.ProgressState, error) {
	state, ok := f.progress[userID]
	if !ok {
		return domain.ProgressState{UserID: userID}, nil
	}

	return state, nil
}

func (f *fakeAPIStore) GetAllPosts(_ context.Context, _ string) ([]domain.Post, error) {
	out := make([]domain.Post, 0, len(f.posts))
	for _, p := range f.posts {
		out = append(out, p)
	}

	return out, nil
}

func (f *fakeAPIStore) GetPost(_ context.Context, postID string) (domain.Post, error) {
	p, ok := f.posts[postID]
	if !ok {
		return domain.Post{}, pgx.ErrNoRows
	}

	return p, nil
}

func (f *fakeAPIStore) GetPostMedia(_ context.Context, postID string) ([]domain.MediaRow, error) {
	return f.media[postID], nil
}

func (f *fakeAPIStore) DeletePost(_ context.Context, postID string) ([]string, error) {
	if _, ok := f.posts[postID]; !ok {
		return nil, pgx.ErrNoRows
	}

	delete(f.posts, postID)

	var paths []string
	for _, m := range f.media[postID] {
		if m.StoragePath != "" {
			paths = append(paths, m.StoragePath)
		}
	}

	delete(f.media, postID)

	return paths, nil
}

func (f *fakeAPIStore) DeleteAllPosts(_ context.Context) ([]string, error) {
	var paths []string

	for id := range f.posts {
		for _, m := range f.media[id] {
			if m.StoragePath != "" {
				paths = append(paths, m.StoragePath)
			}
		}
	}

	f.posts = map[string]domain.Post{}
	f.media = map[string][]domain.MediaRow{}

	return paths, nil
}

func (f *fakeAPIStore) SetTranslation(_ context.Context, postID, lang, text string) error {
	f.translated[postID] = lang + ":" + text

	return nil
}

func (f *fakeAPIStore) SaveChannel(_ context.Context, userID, channel string) error {
	f.channels[userID] = channel

	return nil
}

func (f *fakeAPIStore) GetSavedChannel(_ context.Context, userID string) (string, error) {
	channel, ok := f.channels[userID]
	if !ok {
		return "", storage.ErrNoSavedChannel
	}

	return channel, nil
}

func (f *fakeAPIStore) DeleteSavedChannel(_ context.Context, userID string) error {
	delete(f.channels, userID)

	return nil
}

func (f *fakeAPIStore) SaveCredentials(_ context.Context, userID string, creds storage.EncryptedCredentials) error {
	f.credentials[userID] = creds

	return nil
}

func (f *fakeAPIStore) GetCredentials(_ context.Context, userID string) (storage.EncryptedCredentials, error) {
	creds, ok := f.credentials[userID]
	if !ok {
		return storage.EncryptedCredentials{}, storage.ErrNoCredentials
	}

	return creds, nil
}

func (f *fakeAPIStore) DeleteCredentials(_ context.Context, userID string) error {
	delete(f.credentials, userID)

	return nil
}

type fakeAPITranslator struct{}

func (fakeAPITranslator) Translate(_ context.Context, content, targetLang string) (string, error) {
	return "[" + targetLang + "] " + content, nil
}

type fakeRemover struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeRemover) Remove(storagePath string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removed = append(f.removed, storagePath)
}

type fakeEncryptor struct{}

func (fakeEncryptor) Encrypt(plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (fakeEncryptor) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "enc:") {
		return "", errors.New("bad ciphertext")
	}

	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

type apiFixture struct {
	runner  *fakeRunner
	control *fakeControl
	store   *fakeAPIStore
	files   *fakeRemover
	server  *Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := zerolog.Nop()
	f := &apiFixture{
		runner:  &fakeRunner{},
		control: &fakeControl{running: map[string]bool{}},
		store:   newFakeAPIStore(),
		files:   &fakeRemover{},
	}

	f.server = NewServer(
		f.runner,
		f.control,
		f.store,
		fakeAPITranslator{},
		f.files,
		fakeEncryptor{},
		Defaults{
			Channel:  "default_channel",
			Limit:    10,
			Lookback: 168 * time.Hour,
			Quotas:   QuotaDefaults{Likes: 4, Comments: 3, Views: 3},
		},
		t.TempDir(),
		0,
		&logger,
	)

	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	return rec
}

func TestHandleRunAppliesDefaults(t *testing.T) {
	f := newAPIFixture(t)
	f.runner.done = make(chan struct{})

	rec := f.do(t, http.MethodPost, "/api/v1/run", map[string]any{"user_id": "u1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-f.runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("run was not launched")
	}

	req, ok := f.runner.last()
	require.True(t, ok)
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, "default_channel", req.Channel)
	assert.Equal(t, pipeline.ModeBatch, req.Mode)
	assert.Equal(t, 10, req.Limit)
	assert.Equal(t, 168*time.Hour, req.Lookback)
	assert.Equal(t, 4, req.Quotas.Likes)
}

func TestHandleRunPrefersSavedChannel(t *testing.T) {
	f := newAPIFixture(t)
	f.runner.done = make(chan struct{})
	f.store.channels["u1"] = "saved_channel"

	rec := f.do(t, http.MethodPost, "/api/v1/run", map[string]any{"user_id": "u1", "mode": "top"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	<-f.runner.done

	req, ok := f.runner.last()
	require.True(t, ok)
	assert.Equal(t, "saved_channel", req.Channel)
	assert.Equal(t, pipeline.ModeTop, req.Mode)
}

func TestHandleRunConflictWhenActive(t *testing.T) {
	f := newAPIFixture(t)
	f.control.running["u1"] = true

	rec := f.do(t, http.MethodPost, "/api/v1/run", map[string]any{"user_id": "u1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleRunValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing user", body: map[string]any{"channel": "c"}},
		{name: "bad mode", body: map[string]any{"user_id": "u1", "mode": "weekly"}},
		{name: "bad lang", body: map[string]any{"user_id": "u1", "target_lang": "not a lang"}},
		{name: "bad since", body: map[string]any{"user_id": "u1", "since": "not a date"}},
		{name: "future since", body: map[string]any{"user_id": "u1", "since": "2999-01-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)

			rec := f.do(t, http.MethodPost, "/api/v1/run", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleRunSinceNarrowsLookback(t *testing.T) {
	f := newAPIFixture(t)
	f.runner.done = make(chan struct{})

	since := time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
	rec := f.do(t, http.MethodPost, "/api/v1/run", map[string]any{"user_id": "u1", "since": since})
	require.Equal(t, http.StatusAccepted, rec.Code)

	<-f.runner.done

	req, ok := f.runner.last()
	require.True(t, ok)
	assert.InDelta(t, (24 * time.Hour).Seconds(), req.Lookback.Seconds(), 60)
}

func TestHandleStop(t *testing.T) {
	f := newAPIFixture(t)
	f.control.running["u1"] = true

	rec := f.do(t, http.MethodPost, "/api/v1/stop", map[string]any{"user_id": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"u1"}, f.control.stopped)

	var out map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out["stopped"])
}

func TestHandleStatusReflectsRegistry(t *testing.T) {
	f := newAPIFixture(t)
	f.store.progress["u1"] = domain.ProgressState{UserID: "u1", Total: 5, Processed: 2, IsRunning: false}
	f.control.running["u1"] = true

	rec := f.do(t, http.MethodGet, "/api/v1/status?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state domain.ProgressState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, 5, state.Total)
	assert.Equal(t, 2, state.Processed)
	assert.True(t, state.IsRunning)
}

func TestHandleGetPost(t *testing.T) {
	f := newAPIFixture(t)
	id := "8a4b3f4e-1111-4222-8333-444455556666"
	f.store.posts[id] = domain.Post{ID: id, Content: "hello"}
	f.store.media[id] = []domain.MediaRow{{PostID: id, OrderIndex: 0, StoragePath: "/m/a.png"}}

	rec := f.do(t, http.MethodGet, "/api/v1/posts/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out postResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "hello", out.Content)
	require.Len(t, out.Media, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/posts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/posts/8a4b3f4e-9999-4222-8333-444455556666", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeletePostRemovesFiles(t *testing.T) {
	f := newAPIFixture(t)
	id := "8a4b3f4e-1111-4222-8333-444455556666"
	f.store.posts[id] = domain.Post{ID: id}
	f.store.media[id] = []domain.MediaRow{
		{PostID: id, StoragePath: "/m/a.png"},
		{PostID: id, StoragePath: "/m/b.mp4"},
	}

	rec := f.do(t, http.MethodDelete, "/api/v1/posts/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.store.posts)
	assert.ElementsMatch(t, []string{"/m/a.png", "/m/b.mp4"}, f.files.removed)
}

func TestHandleTranslatePost(t *testing.T) {
	f := newAPIFixture(t)
	id := "8a4b3f4e-1111-4222-8333-444455556666"
	f.store.posts[id] = domain.Post{ID: id, Content: "hola"}

	rec := f.do(t, http.MethodPost, "/api/v1/posts/"+id+"/translate", map[string]any{"lang": "en"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "en:[en] hola", f.store.translated[id])

	rec = f.do(t, http.MethodPost, "/api/v1/posts/"+id+"/translate", map[string]any{"lang": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/channel?user_id=u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/channel", map[string]any{"user_id": "u1", "channel": "durov"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/channel?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "durov", out["channel"])

	rec = f.do(t, http.MethodDelete, "/api/v1/channel", map[string]any{"user_id": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/channel?user_id=u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCredentialsAreEncryptedAndNeverReturned(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/credentials", map[string]any{
		"user_id":  "u1",
		"api_id":   "12345",
		"api_hash": "abc",
		"phone":    "+10000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	creds := f.store.credentials["u1"]
	assert.Equal(t, "enc:12345", creds.APIID)
	assert.Equal(t, "enc:abc", creds.APIHash)
	assert.Equal(t, "enc:+10000000000", creds.Phone)

	rec = f.do(t, http.MethodGet, "/api/v1/credentials?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "12345")
	assert.Contains(t, rec.Body.String(), `"has_credentials":true`)

	rec = f.do(t, http.MethodDelete, "/api/v1/credentials", map[string]any{"user_id": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/credentials?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"has_credentials":false`)
}

func TestHandleLoadLargeMedia(t *testing.T) {
	f := newAPIFixture(t)
	postID := "8a4b3f4e-1111-4222-8333-444455556666"
	mediaID := "8a4b3f4e-2222-4222-8333-444455556666"
	f.runner.loadRow = domain.MediaRow{
		ID:          mediaID,
		PostID:      postID,
		MediaType:   "video",
		IsOversized: true,
		IsLoaded:    true,
	}

	rec := f.do(t, http.MethodPost, "/api/v1/posts/"+postID+"/media/"+mediaID+"/load-large", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{postID + "/" + mediaID}, f.runner.loadCalls)

	var row domain.MediaRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &row))
	assert.True(t, row.IsLoaded)

	rec = f.do(t, http.MethodPost, "/api/v1/posts/"+postID+"/media/not-a-uuid/load-large", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.runner.loadErr = pipeline.ErrMediaNotFound
	rec = f.do(t, http.MethodPost, "/api/v1/posts/"+postID+"/media/"+mediaID+"/load-large", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.runner.loadErr = pipeline.ErrMediaNotOversized
	rec = f.do(t, http.MethodPost, "/api/v1/posts/"+postID+"/media/"+mediaID+"/load-large", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestValidateCredentials(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/credentials/validate", map[string]any{"user_id": "u1"})
	assert.Equal(t, http.StatusNotFound, rec.Code, "no stored credentials to validate")

	f.store.credentials["u1"] = storage.EncryptedCredentials{
		APIID:   "enc:12345",
		APIHash: "enc:0123456789abcdef",
		Phone:   "enc:+10000000000",
	}

	rec = f.do(t, http.MethodPost, "/api/v1/credentials/validate", map[string]any{"user_id": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, true, out["valid"])

	tests := []struct {
		name  string
		creds storage.EncryptedCredentials
	}{
		{
			name:  "api_id not numeric",
			creds: storage.EncryptedCredentials{APIID: "enc:abc", APIHash: "enc:0123456789abcdef", Phone: "enc:+10000000000"},
		},
		{
			name:  "api_hash too short",
			creds: storage.EncryptedCredentials{APIID: "enc:12345", APIHash: "enc:xy", Phone: "enc:+10000000000"},
		},
		{
			name:  "phone malformed",
			creds: storage.EncryptedCredentials{APIID: "enc:12345", APIHash: "enc:0123456789abcdef", Phone: "enc:not a phone"},
		},
		{
			name:  "undecryptable",
			creds: storage.EncryptedCredentials{APIID: "garbage", APIHash: "enc:0123456789abcdef", Phone: "enc:+10000000000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.store.credentials["u1"] = tt.creds

			rec := f.do(t, http.MethodPost, "/api/v1/credentials/validate", map[string]any{"user_id": "u1"})
			require.Equal(t, http.StatusOK, rec.Code)

			var out map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			assert.Equal(t, false, out["valid"])
			assert.NotEmpty(t, out["reason"])
		})
	}
}

func TestDeleteAllPosts(t *testing.T) {
	f := newAPIFixture(t)
	id := "8a4b3f4e-1111-4222-8333-444455556666"
	f.store.posts[id] = domain.Post{ID: id}
	f.store.media[id] = []domain.MediaRow{{PostID: id, StoragePath: "/m/a.png"}}

	rec := f.do(t, http.MethodDelete, "/api/v1/posts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.store.posts)
	assert.Equal(t, []string{"/m/a.png"}, f.files.removed)
}
