package feed

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

// ErrNoDownloadableMedia indicates the message media cannot be fetched.
var ErrNoDownloadableMedia = errors.New("message has no downloadable media")

// DownloadMedia fetches the attachment of msg into destDir and returns
// the local path. It implements the acquirer's Downloader interface.
func (f *Feed) DownloadMedia(ctx context.Context, msg domain.RawMessage, destDir string) (string, error) {
	if msg.Media == nil {
		return "", ErrNoDownloadableMedia
	}

	media, ok := msg.Media.Handle.(tg.MessageMediaClass)
	if !ok {
		return "", ErrNoDownloadableMedia
	}

	location, err := fileLocation(media)
	if err != nil {
		return "", err
	}

	path := filepath.Join(destDir, downloadFilename(msg))

	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	if _, err := downloader.NewDownloader().Download(f.api, location).ToPath(ctx, path); err != nil {
		return "", fmt.Errorf("failed to download media: %w", err)
	}

	return path, nil
}

func fileLocation(media tg.MessageMediaClass) (tg.InputFileLocationClass, error) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, ErrNoDownloadableMedia
		}

		thumbType := largestPhotoSizeType(photo)
		if thumbType == "" {
			return nil, ErrNoDownloadableMedia
		}

		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumbType,
		}, nil

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, ErrNoDownloadableMedia
		}

		return &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, nil

	default:
		return nil, ErrNoDownloadableMedia
	}
}

func largestPhotoSizeType(photo *tg.Photo) string {
	var (
		best     int
		bestType string
	)

	for _, size := range photo.Sizes {
		switch s := size.(type) {
		case *tg.PhotoSize:
			if s.W*s.H > best {
				best = s.W * s.H
				bestType = s.Type
			}
		case *tg.PhotoSizeProgressive:
			if s.W*s.H > best {
				best = s.W * s.H
				bestType = s.Type
			}
		}
	}

	return bestType
}

// downloadFilename derives a stable per-message filename. Originals may
// lack a name; fall back to the message ID plus a mime extension.
func downloadFilename(msg domain.RawMessage) string {
	if msg.Media.Filename != "" {
		return fmt.Sprintf("%d_%s", msg.ID, filepath.Base(msg.Media.Filename))
	}

	ext := ".bin"

	if exts, err := mime.ExtensionsByType(msg.Media.MimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}

	return fmt.Sprintf("%d%s", msg.ID, ext)
}
