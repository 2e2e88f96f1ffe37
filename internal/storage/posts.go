package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

// InsertPost stores a parsed post and returns its id. A post already
// stored for the same channel and message keeps its original row.
func (db *DB) InsertPost(ctx context.Context, p *domain.Post) (string, error) {
	reactions, err := json.Marshal(p.Reactions)
	if err != nil {
		return "", fmt.Errorf("marshal reactions: %w", err)
	}

	var id string

	err = db.Pool.QueryRow(ctx, `
		INSERT INTO parsed_posts (
			source_channel, channel_title, channel_username,
			original_message_id, original_ids, original_date,
			content, translated_content, target_lang,
			has_media, media_count, is_merged, is_top_post,
			views, likes, comments, reactions
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (source_channel, original_message_id) DO NOTHING
		RETURNING id`,
		p.SourceChannel, toText(p.ChannelTitle), toText(p.ChannelUsername),
		p.OriginalMessageID, p.OriginalIDs, toTimestamptz(p.OriginalDate),
		p.Content, toText(p.TranslatedContent), toText(p.TargetLang),
		p.HasMedia, p.MediaCount, p.IsMerged, p.IsTopPost,
		p.Views, p.Likes, p.Comments, reactions,
	).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		err = db.Pool.QueryRow(ctx,
			`SELECT id FROM parsed_posts WHERE source_channel = $1 AND original_message_id = $2`,
			p.SourceChannel, p.OriginalMessageID,
		).Scan(&id)
	}

	if err != nil {
		return "", fmt.Errorf("insert post: %w", err)
	}

	return id, nil
}

// SetTranslation writes the translated content and target language for
// an existing post.
func (db *DB) SetTranslation(ctx context.Context, postID, lang, text string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE parsed_posts SET translated_content = $2, target_lang = $3 WHERE id = $1`,
		postID, text, lang,
	)
	if err != nil {
		return fmt.Errorf("set translation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set translation: post %s not found", postID)
	}

	return nil
}

// ReconcileMediaCount recomputes has_media and media_count from the
// attached media rows. Called after attachment so the post row never
// overstates what was actually stored.
func (db *DB) ReconcileMediaCount(ctx context.Context, postID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE parsed_posts p SET
			media_count = m.cnt,
			has_media = m.cnt > 0
		FROM (
			SELECT count(*) AS cnt FROM post_media WHERE post_id = $1
		) m
		WHERE p.id = $1`,
		postID,
	)
	if err != nil {
		return fmt.Errorf("reconcile media count: %w", err)
	}

	return nil
}

// GetAllPosts returns every stored post in publication order, oldest
// original first, unless sortBy is "saved_at" which lists newest saves
// first.
func (db *DB) GetAllPosts(ctx context.Context, sortBy string) ([]domain.Post, error) {
	order := "original_date ASC, saved_at DESC"
	if sortBy == "saved_at" {
		order = "saved_at DESC, original_date ASC"
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, source_channel, channel_title, channel_username,
			original_message_id, original_ids, original_date,
			content, translated_content, target_lang,
			has_media, media_count, is_merged, is_top_post,
			views, likes, comments, reactions, saved_at
		FROM parsed_posts
		ORDER BY `+order)
	if err != nil {
		return nil, fmt.Errorf("get all posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post

	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("get all posts: %w", err)
		}

		posts = append(posts, p)
	}

	return posts, rows.Err()
}

// GetPost returns one post by id.
func (db *DB) GetPost(ctx context.Context, postID string) (domain.Post, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, source_channel, channel_title, channel_username,
			original_message_id, original_ids, original_date,
			content, translated_content, target_lang,
			has_media, media_count, is_merged, is_top_post,
			views, likes, comments, reactions, saved_at
		FROM parsed_posts
		WHERE id = $1`,
		postID)
	if err != nil {
		return domain.Post{}, fmt.Errorf("get post: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.Post{}, fmt.Errorf("get post: %w", err)
		}

		return domain.Post{}, fmt.Errorf("get post: %w", pgx.ErrNoRows)
	}

	return scanPost(rows)
}

// DeletePost removes a post with its media rows and returns the storage
// paths of the removed media so the caller can clean up files.
func (db *DB) DeletePost(ctx context.Context, postID string) ([]string, error) {
	paths, err := db.mediaPaths(ctx, `SELECT storage_path FROM post_media WHERE post_id = $1 AND storage_path <> ''`, postID)
	if err != nil {
		return nil, fmt.Errorf("delete post: %w", err)
	}

	tag, err := db.Pool.Exec(ctx, `DELETE FROM parsed_posts WHERE id = $1`, postID)
	if err != nil {
		return nil, fmt.Errorf("delete post: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("delete post: post %s not found", postID)
	}

	return paths, nil
}

// DeleteAllPosts removes every post and returns the storage paths of
// all removed media.
func (db *DB) DeleteAllPosts(ctx context.Context) ([]string, error) {
	paths, err := db.mediaPaths(ctx, `SELECT storage_path FROM post_media WHERE storage_path <> ''`)
	if err != nil {
		return nil, fmt.Errorf("delete all posts: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, `DELETE FROM parsed_posts`); err != nil {
		return nil, fmt.Errorf("delete all posts: %w", err)
	}

	return paths, nil
}

func (db *DB) mediaPaths(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}

		paths = append(paths, p)
	}

	return paths, rows.Err()
}

func scanPost(rows pgx.Rows) (domain.Post, error) {
	var (
		p               domain.Post
		title, username pgtype.Text
		translated      pgtype.Text
		lang            pgtype.Text
		reactions       []byte
	)

	err := rows.Scan(
		&p.ID, &p.SourceChannel, &title, &username,
		&p.OriginalMessageID, &p.OriginalIDs, &p.OriginalDate,
		&p.Content, &translated, &lang,
		&p.HasMedia, &p.MediaCount, &p.IsMerged, &p.IsTopPost,
		&p.Views, &p.Likes, &p.Comments, &reactions, &p.SavedAt,
	)
	if err != nil {
		return domain.Post{}, err
	}

	p.ChannelTitle = title.String
	p.ChannelUsername = username.String
	p.TranslatedContent = translated.String
	p.TargetLang = lang.String

	if len(reactions) > 0 {
		if err := json.Unmarshal(reactions, &p.Reactions); err != nil {
			return domain.Post{}, fmt.Errorf("unmarshal reactions: %w", err)
		}
	}

	return p, nil
}
