package media

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	// Registered decoders for channel photos.
	_ "image/gif"
	_ "image/jpeg"
)

const (
	logoWidthRatio  = 0.15
	brandedImageExt = "_branded.png"
	brandedVideoExt = "_branded.mp4"
)

// Brander stamps a logo onto images and videos. Image branding never
// fails: any error falls back to an unbranded copy of the original.
// Video branding shells out to ffmpeg under its own timeout and falls
// back to the original file when ffmpeg or the logo is unavailable.
type Brander struct {
	logoPath     string
	position     string
	margin       int
	cacheDir     string
	videoTimeout time.Duration
	logger       *zerolog.Logger
}

// NewBrander creates a Brander writing outputs under cacheDir.
func NewBrander(logoPath, position string, margin int, cacheDir string, videoTimeout time.Duration, logger *zerolog.Logger) *Brander {
	return &Brander{
		logoPath:     logoPath,
		position:     position,
		margin:       margin,
		cacheDir:     cacheDir,
		videoTimeout: videoTimeout,
		logger:       logger,
	}
}

// BrandImage composites the logo onto the image at imgPath and returns
// the output path under the cache dir. On any failure the original is
// copied unbranded instead.
func (b *Brander) BrandImage(imgPath string) string {
	out := filepath.Join(b.cacheDir, stem(imgPath)+brandedImageExt)

	if err := b.compositeImage(imgPath, out); err != nil {
		b.logger.Warn().Err(err).Str("path", imgPath).Msg("image branding failed, keeping unbranded copy")

		fallback := filepath.Join(b.cacheDir, filepath.Base(imgPath))
		if err := copyFile(imgPath, fallback); err != nil {
			b.logger.Error().Err(err).Str("path", imgPath).Msg("failed to copy unbranded image")

			return imgPath
		}

		return fallback
	}

	return out
}

func (b *Brander) compositeImage(imgPath, outPath string) error {
	src, err := decodeImage(imgPath)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	if b.logoPath != "" {
		if logo, err := decodeImage(b.logoPath); err == nil {
			b.overlayLogo(canvas, logo)
		}
		// Missing or unreadable logo still yields a valid output image.
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, canvas); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	return nil
}

// overlayLogo scales the logo to a fraction of the canvas width and
// draws it at the configured corner.
func (b *Brander) overlayLogo(canvas *image.RGBA, logo image.Image) {
	cw := canvas.Bounds().Dx()
	ch := canvas.Bounds().Dy()

	lw := logo.Bounds().Dx()
	lh := logo.Bounds().Dy()

	if lw == 0 || lh == 0 {
		return
	}

	targetW := int(float64(cw) * logoWidthRatio)
	if targetW < 1 {
		targetW = 1
	}

	targetH := lh * targetW / lw
	if targetH < 1 {
		targetH = 1
	}

	scaled := scaleImage(logo, targetW, targetH)

	x := cw - targetW - b.margin
	if strings.Contains(b.position, "left") {
		x = b.margin
	}

	y := ch - targetH - b.margin
	if strings.Contains(b.position, "top") {
		y = b.margin
	}

	rect := image.Rect(x, y, x+targetW, y+targetH)
	draw.Draw(canvas, rect, scaled, image.Point{}, draw.Over)
}

// scaleImage is a nearest-neighbour resize; logos are small enough that
// filtering quality does not matter.
func scaleImage(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := sb.Min.X + x*sb.Dx()/w
			sy := sb.Min.Y + y*sb.Dy()/h
			dst.Set(x, y, src.At(sx, sy))
		}
	}

	return dst
}

// BrandVideo overlays the logo via ffmpeg. Without ffmpeg or a logo the
// original file is moved into the cache dir unbranded; the same happens
// on transform timeout or failure.
func (b *Brander) BrandVideo(ctx context.Context, videoPath string) string {
	if !ffmpegAvailable() || !fileExists(b.logoPath) {
		return b.moveToCache(videoPath)
	}

	out := filepath.Join(b.cacheDir, stem(videoPath)+brandedVideoExt)

	tctx, cancel := context.WithTimeout(ctx, b.videoTimeout)
	defer cancel()

	overlay := fmt.Sprintf("overlay=W-w-%d:H-h-%d", b.margin, b.margin)
	cmd := exec.CommandContext(tctx, "ffmpeg", "-y",
		"-i", videoPath,
		"-i", b.logoPath,
		"-filter_complex", overlay,
		"-codec:a", "copy",
		out,
	)

	if err := cmd.Run(); err != nil {
		b.logger.Warn().Err(err).Str("path", videoPath).Msg("video branding failed, keeping original")
		_ = os.Remove(out)

		return b.moveToCache(videoPath)
	}

	_ = os.Remove(videoPath)

	return out
}

func (b *Brander) moveToCache(path string) string {
	dst := filepath.Join(b.cacheDir, filepath.Base(path))
	if dst == path {
		return path
	}

	if err := moveFile(path, dst); err != nil {
		b.logger.Error().Err(err).Str("path", path).Msg("failed to move file into cache")

		return path
	}

	return dst
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)

	return img, err
}

func ffmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")

	return err == nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}

	_, err := os.Stat(path)

	return err == nil
}

// stem returns the file name without its extension.
func stem(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	return out.Close()
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}

	return os.Remove(src)
}
