package media

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

const testCeiling = int64(200 * 1024 * 1024)

type fakeDownloader struct {
	calls int
	path  string
	err   error
}

func (f *fakeDownloader) DownloadMedia(_ context.Context, _ domain.RawMessage, destDir string) (string, error) {
	f.calls++

	if f.err != nil {
		return "", f.err
	}

	dst := filepath.Join(destDir, filepath.Base(f.path))
	if err := copyFile(f.path, dst); err != nil {
		return "", err
	}

	return dst, nil
}

func newTestAcquirer(t *testing.T, dl Downloader) *Acquirer {
	t.Helper()

	logger := zerolog.Nop()
	cacheDir := t.TempDir()
	brander := NewBrander("", "bottom-right", 24, cacheDir, time.Minute, &logger)

	a, err := NewAcquirer(dl, brander, cacheDir, testCeiling, time.Minute, &logger)
	require.NoError(t, err)

	return a
}

func writeTestImage(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	require.NoError(t, err)

	defer f.Close()

	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	require.NoError(t, png.Encode(f, img))

	return path
}

func TestAcquireNoMedia(t *testing.T) {
	dl := &fakeDownloader{}
	a := newTestAcquirer(t, dl)

	results := a.Acquire(context.Background(), domain.RawMessage{ID: 1})

	assert.Empty(t, results)
	assert.Zero(t, dl.calls)
}

func TestAcquireOversizedSkipsDownload(t *testing.T) {
	dl := &fakeDownloader{}
	a := newTestAcquirer(t, dl)

	msg := domain.RawMessage{
		ID: 42,
		Media: &domain.MediaRef{
			SizeBytes: 210 * 1024 * 1024,
			Kind:      domain.MediaKindVideo,
		},
	}

	results := a.Acquire(context.Background(), msg)

	require.Len(t, results, 1)
	assert.True(t, results[0].Oversized)
	assert.Empty(t, results[0].Path)
	assert.Equal(t, domain.MediaKindVideo, results[0].Kind)
	assert.Equal(t, int64(210*1024*1024), results[0].SizeBytes)
	assert.Equal(t, int64(42), results[0].SourceMessageID)
	assert.Zero(t, dl.calls, "oversized media must not be downloaded")
}

func TestAcquireSizeCeilingBoundary(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		oversized bool
	}{
		{name: "exactly at ceiling", size: testCeiling, oversized: false},
		{name: "one byte over", size: testCeiling + 1, oversized: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeTestImage(t, t.TempDir(), "photo.png")
			dl := &fakeDownloader{path: src}
			a := newTestAcquirer(t, dl)

			msg := domain.RawMessage{
				ID: 7,
				Media: &domain.MediaRef{
					SizeBytes: tt.size,
					Kind:      domain.MediaKindImage,
				},
			}

			results := a.Acquire(context.Background(), msg)

			require.Len(t, results, 1)
			assert.Equal(t, tt.oversized, results[0].Oversized)

			if tt.oversized {
				assert.Zero(t, dl.calls)
			} else {
				assert.Equal(t, 1, dl.calls)
				assert.FileExists(t, results[0].Path)
			}
		})
	}
}

func TestAcquireDownloadFailure(t *testing.T) {
	dl := &fakeDownloader{err: errors.New("connection reset")}
	a := newTestAcquirer(t, dl)

	msg := domain.RawMessage{
		ID:    9,
		Media: &domain.MediaRef{SizeBytes: 1024, Kind: domain.MediaKindImage},
	}

	results := a.Acquire(context.Background(), msg)

	assert.Empty(t, results, "failed download yields no results")
	assert.Equal(t, 1, dl.calls)
}

func TestAcquireImageIsBranded(t *testing.T) {
	src := writeTestImage(t, t.TempDir(), "photo.png")
	dl := &fakeDownloader{path: src}
	a := newTestAcquirer(t, dl)

	msg := domain.RawMessage{
		ID:    11,
		Media: &domain.MediaRef{SizeBytes: 2048, Kind: domain.MediaKindImage},
	}

	results := a.Acquire(context.Background(), msg)

	require.Len(t, results, 1)
	assert.Equal(t, domain.MediaKindImage, results[0].Kind)
	assert.False(t, results[0].Oversized)
	assert.FileExists(t, results[0].Path)
}

func TestAcquireCarriesMimeType(t *testing.T) {
	src := writeTestImage(t, t.TempDir(), "photo.png")
	dl := &fakeDownloader{path: src}
	a := newTestAcquirer(t, dl)

	msg := domain.RawMessage{
		ID:    15,
		Media: &domain.MediaRef{SizeBytes: 2048, Kind: domain.MediaKindImage, MimeType: "image/jpeg"},
	}

	results := a.Acquire(context.Background(), msg)

	require.Len(t, results, 1)
	assert.Equal(t, "image/jpeg", results[0].MimeType)

	oversized := a.Acquire(context.Background(), domain.RawMessage{
		ID:    16,
		Media: &domain.MediaRef{SizeBytes: testCeiling + 1, Kind: domain.MediaKindVideo, MimeType: "video/mp4"},
	})

	require.Len(t, oversized, 1)
	assert.Equal(t, "video/mp4", oversized[0].MimeType)
}

func TestAcquireLargeIgnoresCeiling(t *testing.T) {
	src := writeTestImage(t, t.TempDir(), "photo.png")
	dl := &fakeDownloader{path: src}
	a := newTestAcquirer(t, dl)

	msg := domain.RawMessage{
		ID: 21,
		Media: &domain.MediaRef{
			SizeBytes: testCeiling + 1,
			Kind:      domain.MediaKindImage,
			MimeType:  "image/png",
		},
	}

	res, err := a.AcquireLarge(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, 1, dl.calls, "ceiling does not apply to deferred loads")
	assert.False(t, res.Oversized)
	assert.Equal(t, "image/png", res.MimeType)
	assert.FileExists(t, res.Path)

	_, err = a.AcquireLarge(context.Background(), domain.RawMessage{ID: 22})
	assert.ErrorIs(t, err, ErrNoAttachment)
}

func TestAcquireOtherKindPassesThrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "document.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0o644))

	dl := &fakeDownloader{path: src}
	a := newTestAcquirer(t, dl)

	msg := domain.RawMessage{
		ID:    13,
		Media: &domain.MediaRef{SizeBytes: 8, Kind: domain.MediaKindOther},
	}

	results := a.Acquire(context.Background(), msg)

	require.Len(t, results, 1)
	assert.Equal(t, domain.MediaKindOther, results[0].Kind)
	assert.FileExists(t, results[0].Path)
}
