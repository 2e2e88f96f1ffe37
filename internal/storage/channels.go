package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNoSavedChannel indicates the user has no saved channel.
var ErrNoSavedChannel = errors.New("no saved channel")

// SaveChannel stores the user's default source channel, replacing any
// previous one.
func (db *DB) SaveChannel(ctx context.Context, userID, channel string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO saved_channels (user_id, channel, saved_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
			channel = EXCLUDED.channel,
			saved_at = now()`,
		userID, channel,
	)
	if err != nil {
		return fmt.Errorf("save channel: %w", err)
	}

	return nil
}

// GetSavedChannel returns the user's default source channel.
func (db *DB) GetSavedChannel(ctx context.Context, userID string) (string, error) {
	var channel string

	err := db.Pool.QueryRow(ctx,
		`SELECT channel FROM saved_channels WHERE user_id = $1`, userID,
	).Scan(&channel)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoSavedChannel
	}

	if err != nil {
		return "", fmt.Errorf("get saved channel: %w", err)
	}

	return channel, nil
}

// DeleteSavedChannel removes the user's default source channel.
func (db *DB) DeleteSavedChannel(ctx context.Context, userID string) error {
	if _, err := db.Pool.Exec(ctx,
		`DELETE FROM saved_channels WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete saved channel: %w", err)
	}

	return nil
}
