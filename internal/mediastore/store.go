package mediastore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

// Store keeps processed media files under a root directory and maps
// every stored file to a public URL served by the HTTP API. Keys are
// namespaced by channel so two channels never collide.
type Store struct {
	root          string
	baseURL       string
	uploadTimeout time.Duration
	logger        *zerolog.Logger
}

func New(root, baseURL string, uploadTimeout time.Duration, logger *zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}

	return &Store{
		root:          root,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		uploadTimeout: uploadTimeout,
		logger:        logger,
	}, nil
}

// Root returns the directory the store serves files from.
func (s *Store) Root() string {
	return s.root
}

// Put moves a processed local file into the store under a key derived
// from the channel and message and returns the media row describing it.
// Each upload runs under the store's per-file timeout.
func (s *Store) Put(ctx context.Context, localPath, channel string, res domain.MediaResult, orderIndex int) (domain.MediaRow, error) {
	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	key := filepath.Join(Slugify(channel), fmt.Sprintf("%d_%s", res.SourceMessageID, filepath.Base(localPath)))
	dst := filepath.Join(s.root, key)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return domain.MediaRow{}, fmt.Errorf("create channel dir: %w", err)
	}

	size, err := s.copyFile(ctx, localPath, dst)
	if err != nil {
		return domain.MediaRow{}, fmt.Errorf("store media: %w", err)
	}

	_ = os.Remove(localPath)

	return domain.MediaRow{
		MediaType:     string(res.Kind),
		MimeType:      res.MimeType,
		URL:           s.baseURL + "/" + filepath.ToSlash(key),
		StoragePath:   key,
		OrderIndex:    orderIndex,
		FileSizeBytes: size,
		IsLoaded:      true,
		TGMessageID:   res.SourceMessageID,
		TGChannel:     channel,
	}, nil
}

// PlaceholderRow builds the media row recorded for an attachment that
// was too large to download. No file exists for it; the URL carries an
// oversized scheme so a client can render a stub.
func (s *Store) PlaceholderRow(channel string, res domain.MediaResult, orderIndex int) domain.MediaRow {
	return domain.MediaRow{
		MediaType:     string(res.Kind),
		MimeType:      res.MimeType,
		URL:           fmt.Sprintf("oversized://%s/%d", Slugify(channel), res.SourceMessageID),
		OrderIndex:    orderIndex,
		FileSizeBytes: res.SizeBytes,
		IsOversized:   true,
		IsLoaded:      false,
		TGMessageID:   res.SourceMessageID,
		TGChannel:     channel,
	}
}

// Remove deletes a stored file by its storage key. Missing files are
// not an error; a removed post may already be partially cleaned.
func (s *Store) Remove(storagePath string) {
	if storagePath == "" {
		return
	}

	path := filepath.Join(s.root, filepath.FromSlash(storagePath))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("path", storagePath).Msg("failed to remove stored media")
	}
}

func (s *Store) copyFile(ctx context.Context, src, dst string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, err
	}

	if err := ctx.Err(); err != nil {
		_ = os.Remove(dst)

		return 0, err
	}

	return n, out.Close()
}

// Slugify lowercases a channel identifier and collapses anything that
// is not alphanumeric into single underscores, so it is safe as a
// directory name and URL segment.
func Slugify(channel string) string {
	var b strings.Builder

	lastUnderscore := false

	for _, r := range strings.ToLower(strings.TrimPrefix(channel, "@")) {
		if unicode.IsLetter(r) && r < 128 || unicode.IsDigit(r) {
			b.WriteRune(r)

			lastUnderscore = false

			continue
		}

		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')

			lastUnderscore = true
		}
	}

	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return "channel"
	}

	return slug
}
