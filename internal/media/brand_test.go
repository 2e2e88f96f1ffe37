package media

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)

	defer f.Close()

	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
}

func TestBrandImageWithLogo(t *testing.T) {
	dir := t.TempDir()
	cache := t.TempDir()

	src := filepath.Join(dir, "photo.png")
	writePNG(t, src, 100, 80)

	logo := filepath.Join(dir, "logo.png")
	writePNG(t, logo, 20, 20)

	logger := zerolog.Nop()
	b := NewBrander(logo, "bottom-right", 4, cache, time.Minute, &logger)

	out := b.BrandImage(src)

	assert.True(t, strings.HasSuffix(out, "_branded.png"))
	assert.FileExists(t, out)

	img, err := decodeImage(out)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}

func TestBrandImageMissingLogoStillProduces(t *testing.T) {
	dir := t.TempDir()
	cache := t.TempDir()

	src := filepath.Join(dir, "photo.png")
	writePNG(t, src, 50, 50)

	logger := zerolog.Nop()
	b := NewBrander(filepath.Join(dir, "no-such-logo.png"), "bottom-right", 4, cache, time.Minute, &logger)

	out := b.BrandImage(src)

	assert.FileExists(t, out)
}

func TestBrandImageUndecodableFallsBackToCopy(t *testing.T) {
	dir := t.TempDir()
	cache := t.TempDir()

	src := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(src, []byte("not an image"), 0o644))

	logger := zerolog.Nop()
	b := NewBrander("", "bottom-right", 4, cache, time.Minute, &logger)

	out := b.BrandImage(src)

	assert.Equal(t, filepath.Join(cache, "broken.png"), out)
	assert.FileExists(t, out)
}

func TestScaleImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 60))
	scaled := scaleImage(src, 25, 15)

	assert.Equal(t, 25, scaled.Bounds().Dx())
	assert.Equal(t, 15, scaled.Bounds().Dy())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ref  *domain.MediaRef
		path string
		want domain.MediaKind
	}{
		{
			name: "declared kind wins",
			ref:  &domain.MediaRef{Kind: domain.MediaKindVideo},
			path: "file.jpg",
			want: domain.MediaKindVideo,
		},
		{
			name: "image extension",
			ref:  &domain.MediaRef{},
			path: "photo.JPEG",
			want: domain.MediaKindImage,
		},
		{
			name: "video extension",
			ref:  nil,
			path: "clip.webm",
			want: domain.MediaKindVideo,
		},
		{
			name: "unknown extension",
			ref:  &domain.MediaRef{},
			path: "archive.zip",
			want: domain.MediaKindOther,
		},
		{
			name: "no extension",
			ref:  nil,
			path: "blob",
			want: domain.MediaKindOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ref, tt.path))
		})
	}
}
