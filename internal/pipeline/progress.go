package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

// ProgressStore persists per-user progress between mutations.
type ProgressStore interface {
	SetProgress(ctx context.Context, s *domain.ProgressState) error
}

// progress is the in-memory handle for one run's counters. Every
// mutation is mirrored to the store so status polls observe live
// counters, but a store failure never interrupts the run itself.
type progress struct {
	store  ProgressStore
	state  domain.ProgressState
	logger *zerolog.Logger
}

func newProgress(store ProgressStore, userID string, logger *zerolog.Logger) *progress {
	return &progress{
		store: store,
		state: domain.ProgressState{
			UserID:   userID,
			Channels: make(map[string]int64),
		},
		logger: logger,
	}
}

// begin marks the run started with a known unit total.
func (p *progress) begin(ctx context.Context, total int) {
	p.state.Total = total
	p.state.Processed = 0
	p.state.IsRunning = true
	p.state.Finished = false

	p.mirror(ctx)
}

// advance counts one unit as handled, regardless of its outcome.
func (p *progress) advance(ctx context.Context) {
	p.state.Processed++

	p.mirror(ctx)
}

// cursor records the newest message id seen for a channel.
func (p *progress) cursor(ctx context.Context, channel string, messageID int64) {
	if messageID > p.state.Channels[channel] {
		p.state.Channels[channel] = messageID

		p.mirror(ctx)
	}
}

// finish marks the run complete.
func (p *progress) finish(ctx context.Context) {
	p.state.IsRunning = false
	p.state.Finished = true

	p.mirror(ctx)
}

func (p *progress) mirror(ctx context.Context) {
	// Mirror with a background-capable context: a cancelled run still
	// records its final state.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}

	if err := p.store.SetProgress(ctx, &p.state); err != nil {
		p.logger.Warn().Err(err).Str("user_id", p.state.UserID).Msg("failed to mirror progress")
	}
}
