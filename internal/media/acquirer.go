package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
	"github.com/Parser322/tg-pipeline/internal/observability"
)

// ErrNoAttachment is returned when a message carries no media to fetch.
var ErrNoAttachment = errors.New("message has no media attachment")

// Downloader fetches the attachment of a raw message into destDir and
// returns the local file path. Implemented by the feed adapter.
type Downloader interface {
	DownloadMedia(ctx context.Context, msg domain.RawMessage, destDir string) (string, error)
}

// Acquirer turns a message attachment into a processed local file.
// Oversized attachments are rejected from their probe size alone,
// before any download happens. Download and branding failures degrade
// per item and never abort the caller.
type Acquirer struct {
	dl              Downloader
	brander         *Brander
	stagingDir      string
	sizeCeiling     int64
	downloadTimeout time.Duration
	logger          *zerolog.Logger
}

// NewAcquirer creates an Acquirer. Raw downloads land in a staging
// directory under cacheDir; processed files are written by the Brander.
func NewAcquirer(
	dl Downloader,
	brander *Brander,
	cacheDir string,
	sizeCeiling int64,
	downloadTimeout time.Duration,
	logger *zerolog.Logger,
) (*Acquirer, error) {
	staging := filepath.Join(cacheDir, "raw")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, err
	}

	return &Acquirer{
		dl:              dl,
		brander:         brander,
		stagingDir:      staging,
		sizeCeiling:     sizeCeiling,
		downloadTimeout: downloadTimeout,
		logger:          logger,
	}, nil
}

// Acquire processes the attachment of one message. It returns no
// results when the message has no media or the download fails, and a
// single oversized placeholder when the probe size exceeds the ceiling.
// A size exactly at the ceiling is still downloaded.
func (a *Acquirer) Acquire(ctx context.Context, msg domain.RawMessage) []domain.MediaResult {
	if msg.Media == nil {
		return nil
	}

	if msg.Media.SizeBytes > a.sizeCeiling {
		a.logger.Info().
			Int64("message_id", msg.ID).
			Int64("size_bytes", msg.Media.SizeBytes).
			Int64("ceiling_bytes", a.sizeCeiling).
			Msg("attachment over size ceiling, skipping download")
		observability.MediaDownloads.WithLabelValues("oversized").Inc()

		kind := msg.Media.Kind
		if kind == "" {
			kind = domain.MediaKindVideo
		}

		return []domain.MediaResult{{
			Kind:            kind,
			MimeType:        msg.Media.MimeType,
			Oversized:       true,
			SizeBytes:       msg.Media.SizeBytes,
			SourceMessageID: msg.ID,
		}}
	}

	res, err := a.download(ctx, msg)
	if err != nil {
		a.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("media download failed")
		observability.MediaDownloads.WithLabelValues("error").Inc()

		return nil
	}

	observability.MediaDownloads.WithLabelValues("ok").Inc()

	return []domain.MediaResult{res}
}

// AcquireLarge downloads and processes one attachment with the size
// ceiling lifted. It serves deferred loads of media that Acquire
// previously rejected as oversized.
func (a *Acquirer) AcquireLarge(ctx context.Context, msg domain.RawMessage) (domain.MediaResult, error) {
	if msg.Media == nil {
		return domain.MediaResult{}, ErrNoAttachment
	}

	res, err := a.download(ctx, msg)
	if err != nil {
		observability.MediaDownloads.WithLabelValues("error").Inc()

		return domain.MediaResult{}, fmt.Errorf("download large media: %w", err)
	}

	observability.MediaDownloads.WithLabelValues("ok").Inc()

	return res, nil
}

func (a *Acquirer) download(ctx context.Context, msg domain.RawMessage) (domain.MediaResult, error) {
	dctx, cancel := context.WithTimeout(ctx, a.downloadTimeout)
	defer cancel()

	rawPath, err := a.dl.DownloadMedia(dctx, msg, a.stagingDir)
	if err != nil {
		return domain.MediaResult{}, err
	}

	kind := Classify(msg.Media, rawPath)

	var processed string

	switch kind {
	case domain.MediaKindImage:
		processed = a.brander.BrandImage(rawPath)
		if processed != rawPath {
			_ = os.Remove(rawPath)
		}
	case domain.MediaKindVideo:
		processed = a.brander.BrandVideo(ctx, rawPath)
	default:
		processed = a.brander.moveToCache(rawPath)
	}

	return domain.MediaResult{
		Path:            processed,
		Kind:            kind,
		MimeType:        msg.Media.MimeType,
		SizeBytes:       msg.Media.SizeBytes,
		SourceMessageID: msg.ID,
	}, nil
}
