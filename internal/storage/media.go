package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

// ErrNoMediaRow is returned when a media row id does not exist.
var ErrNoMediaRow = errors.New("media row not found")

// AttachMedia stores one media row for a post.
func (db *DB) AttachMedia(ctx context.Context, m *domain.MediaRow) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO post_media (
			post_id, media_type, mime_type, url, storage_path,
			order_index, file_size_bytes, is_oversized, is_loaded,
			tg_message_id, tg_channel
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.PostID, m.MediaType, toText(m.MimeType), m.URL, toText(m.StoragePath),
		m.OrderIndex, m.FileSizeBytes, m.IsOversized, m.IsLoaded,
		m.TGMessageID, toText(m.TGChannel),
	)
	if err != nil {
		return fmt.Errorf("attach media: %w", err)
	}

	return nil
}

// GetMediaRow returns one media row by its id.
func (db *DB) GetMediaRow(ctx context.Context, mediaID string) (domain.MediaRow, error) {
	var (
		m                  domain.MediaRow
		mime, path, tgChan pgtype.Text
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT id, post_id, media_type, mime_type, url, storage_path,
			order_index, file_size_bytes, is_oversized, is_loaded,
			tg_message_id, tg_channel
		FROM post_media
		WHERE id = $1`,
		mediaID).Scan(
		&m.ID, &m.PostID, &m.MediaType, &mime, &m.URL, &path,
		&m.OrderIndex, &m.FileSizeBytes, &m.IsOversized, &m.IsLoaded,
		&m.TGMessageID, &tgChan,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MediaRow{}, fmt.Errorf("%w: %s", ErrNoMediaRow, mediaID)
	}

	if err != nil {
		return domain.MediaRow{}, fmt.Errorf("get media row: %w", err)
	}

	m.MimeType = mime.String
	m.StoragePath = path.String
	m.TGChannel = tgChan.String

	return m, nil
}

// MarkMediaLoaded replaces a placeholder row's file fields with the
// stored file and flips it to loaded.
func (db *DB) MarkMediaLoaded(ctx context.Context, m *domain.MediaRow) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE post_media
		SET media_type = $2, mime_type = $3, url = $4, storage_path = $5,
			file_size_bytes = $6, is_loaded = TRUE
		WHERE id = $1`,
		m.ID, m.MediaType, toText(m.MimeType), m.URL, toText(m.StoragePath),
		m.FileSizeBytes,
	)
	if err != nil {
		return fmt.Errorf("mark media loaded: %w", err)
	}

	return nil
}

// GetPostMedia returns media rows for a post ordered by their position
// within the post.
func (db *DB) GetPostMedia(ctx context.Context, postID string) ([]domain.MediaRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, post_id, media_type, mime_type, url, storage_path,
			order_index, file_size_bytes, is_oversized, is_loaded,
			tg_message_id, tg_channel
		FROM post_media
		WHERE post_id = $1
		ORDER BY order_index ASC`,
		postID)
	if err != nil {
		return nil, fmt.Errorf("get post media: %w", err)
	}
	defer rows.Close()

	var media []domain.MediaRow

	for rows.Next() {
		var (
			m                  domain.MediaRow
			mime, path, tgChan pgtype.Text
		)

		err := rows.Scan(
			&m.ID, &m.PostID, &m.MediaType, &mime, &m.URL, &path,
			&m.OrderIndex, &m.FileSizeBytes, &m.IsOversized, &m.IsLoaded,
			&m.TGMessageID, &tgChan,
		)
		if err != nil {
			return nil, fmt.Errorf("get post media: %w", err)
		}

		m.MimeType = mime.String
		m.StoragePath = path.String
		m.TGChannel = tgChan.String

		media = append(media, m)
	}

	return media, rows.Err()
}
