package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

// SetProgress upserts the pipeline progress row for a user. Progress is
// mirrored here on every mutation so an API poll always sees the latest
// counters even across process restarts.
func (db *DB) SetProgress(ctx context.Context, s *domain.ProgressState) error {
	channels, err := json.Marshal(s.Channels)
	if err != nil {
		return fmt.Errorf("marshal progress channels: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO pipeline_state (user_id, processed, total, is_running, finished, channels, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO UPDATE SET
			processed = EXCLUDED.processed,
			total = EXCLUDED.total,
			is_running = EXCLUDED.is_running,
			finished = EXCLUDED.finished,
			channels = EXCLUDED.channels,
			updated_at = now()`,
		s.UserID, s.Processed, s.Total, s.IsRunning, s.Finished, channels,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}

	return nil
}

// GetProgress returns the stored progress for a user. A user with no
// stored state gets a zero state that is not running.
func (db *DB) GetProgress(ctx context.Context, userID string) (domain.ProgressState, error) {
	var (
		s        domain.ProgressState
		channels []byte
		updated  time.Time
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT user_id, processed, total, is_running, finished, channels, updated_at
		FROM pipeline_state
		WHERE user_id = $1`,
		userID,
	).Scan(&s.UserID, &s.Processed, &s.Total, &s.IsRunning, &s.Finished, &channels, &updated)

	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProgressState{UserID: userID}, nil
	}

	if err != nil {
		return domain.ProgressState{}, fmt.Errorf("get progress: %w", err)
	}

	s.UpdatedAt = updated

	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &s.Channels); err != nil {
			return domain.ProgressState{}, fmt.Errorf("unmarshal progress channels: %w", err)
		}
	}

	return s, nil
}
