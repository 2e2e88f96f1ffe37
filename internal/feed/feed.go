package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
	"github.com/Parser322/tg-pipeline/internal/observability"
)

// Telegram caps GetHistory at 100 messages per request.
const historyPageLimit = 100

type resolvedPeer struct {
	input *tg.InputPeerChannel
	info  domain.ChannelInfo
}

// Feed reads channel history over a live MTProto connection. It is
// created by Client.Run and must not outlive the callback.
type Feed struct {
	api     *tg.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
	peers   map[string]resolvedPeer
}

func newFeed(client *telegram.Client, limiter *rate.Limiter, logger *zerolog.Logger) *Feed {
	return &Feed{
		api:     tg.NewClient(client),
		limiter: limiter,
		logger:  logger,
		peers:   make(map[string]resolvedPeer),
	}
}

// ResolveChannelInfo resolves a channel identifier to its title and
// username. Results are cached for the lifetime of the Feed.
func (f *Feed) ResolveChannelInfo(ctx context.Context, channel string) (domain.ChannelInfo, error) {
	peer, err := f.resolvePeer(ctx, channel)
	if err != nil {
		return domain.ChannelInfo{}, err
	}

	return peer.info, nil
}

func (f *Feed) resolvePeer(ctx context.Context, channel string) (resolvedPeer, error) {
	username := normalizeChannel(channel)

	if peer, ok := f.peers[username]; ok {
		return peer, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return resolvedPeer{}, err
	}

	resolved, err := f.api.ContactsResolveUsername(ctx, username)
	if err != nil {
		return resolvedPeer{}, fmt.Errorf("failed to resolve username: %w", err)
	}

	if len(resolved.Chats) == 0 {
		return resolvedPeer{}, fmt.Errorf("%w: %s", ErrChannelNotFound, username)
	}

	ch, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		return resolvedPeer{}, fmt.Errorf("%w: %s", ErrNotAChannel, username)
	}

	peer := resolvedPeer{
		input: &tg.InputPeerChannel{
			ChannelID:  ch.ID,
			AccessHash: ch.AccessHash,
		},
		info: domain.ChannelInfo{
			Title:    ch.Title,
			Username: ch.Username,
		},
	}

	f.peers[username] = peer
	f.logger.Debug().Str("channel", username).Int64("peer_id", ch.ID).Msg("Resolved channel")

	return peer, nil
}

// FetchRecent returns up to limit of the newest messages in the
// channel, newest first.
func (f *Feed) FetchRecent(ctx context.Context, channel string, limit int) ([]domain.RawMessage, error) {
	return f.fetch(ctx, channel, limit, time.Time{})
}

// ErrMessageNotFound indicates the requested message id does not exist
// in the channel anymore.
var ErrMessageNotFound = errors.New("message not found")

// FetchSingleMessage re-fetches one message by id, for deferred loads
// of media that was skipped during a run.
func (f *Feed) FetchSingleMessage(ctx context.Context, channel string, id int64) (domain.RawMessage, error) {
	peer, err := f.resolvePeer(ctx, channel)
	if err != nil {
		return domain.RawMessage{}, err
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return domain.RawMessage{}, err
	}

	result, err := f.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{
			ChannelID:  peer.input.ChannelID,
			AccessHash: peer.input.AccessHash,
		},
		ID: []tg.InputMessageClass{&tg.InputMessageID{ID: int(id)}},
	})
	if err != nil {
		return domain.RawMessage{}, fmt.Errorf("failed to get message: %w", err)
	}

	var messages []tg.MessageClass

	switch res := result.(type) {
	case *tg.MessagesChannelMessages:
		messages = res.Messages
	case *tg.MessagesMessages:
		messages = res.Messages
	case *tg.MessagesMessagesSlice:
		messages = res.Messages
	}

	for _, m := range messages {
		if msg, ok := m.(*tg.Message); ok && int64(msg.ID) == id {
			return toRawMessage(msg), nil
		}
	}

	return domain.RawMessage{}, fmt.Errorf("%w: %d in %s", ErrMessageNotFound, id, normalizeChannel(channel))
}

// FetchWindow returns messages no older than since, newest first, up to
// maxCount.
func (f *Feed) FetchWindow(ctx context.Context, channel string, since time.Time, maxCount int) ([]domain.RawMessage, error) {
	return f.fetch(ctx, channel, maxCount, since)
}

func (f *Feed) fetch(ctx context.Context, channel string, limit int, since time.Time) ([]domain.RawMessage, error) {
	username := normalizeChannel(channel)

	peer, err := f.resolvePeer(ctx, channel)
	if err != nil {
		return nil, err
	}

	var out []domain.RawMessage

	offsetID := 0

	for len(out) < limit {
		pageSize := limit - len(out)
		if pageSize > historyPageLimit {
			pageSize = historyPageLimit
		}

		messages, err := f.historyPage(ctx, username, peer.input, offsetID, pageSize)
		if err != nil {
			return nil, err
		}

		if len(messages) == 0 {
			break
		}

		done := false

		for _, m := range messages {
			msg, ok := m.(*tg.Message)
			if !ok {
				continue
			}

			offsetID = msg.ID

			date := time.Unix(int64(msg.Date), 0)
			if !since.IsZero() && date.Before(since) {
				done = true

				break
			}

			out = append(out, toRawMessage(msg))
			observability.MessagesFetched.WithLabelValues(username).Inc()
		}

		if done || len(messages) < pageSize {
			break
		}
	}

	f.logger.Debug().Str("channel", username).Int("count", len(out)).Msg("Fetched channel history")

	return out, nil
}

// historyPage requests one page of channel history, waiting out a
// single flood-wait before retrying.
func (f *Feed) historyPage(ctx context.Context, channel string, peer tg.InputPeerClass, offsetID, limit int) ([]tg.MessageClass, error) {
	for attempt := 0; ; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		history, err := f.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    limit,
		})
		if err != nil {
			floodErr, ok := tgerr.As(err)
			if ok && floodErr.Type == "FLOOD_WAIT" && attempt == 0 {
				f.logger.Warn().Int("seconds", floodErr.Argument).Str("channel", channel).Msg("flood wait")
				observability.FloodWaitSecondsTotal.WithLabelValues(channel).Add(float64(floodErr.Argument))

				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(floodErr.Argument) * time.Second):
				}

				continue
			}

			observability.FetchRequests.WithLabelValues(channel, "error").Inc()

			return nil, fmt.Errorf("failed to get history: %w", err)
		}

		observability.FetchRequests.WithLabelValues(channel, "ok").Inc()

		switch h := history.(type) {
		case *tg.MessagesMessages:
			return h.Messages, nil
		case *tg.MessagesMessagesSlice:
			return h.Messages, nil
		case *tg.MessagesChannelMessages:
			return h.Messages, nil
		default:
			return nil, nil
		}
	}
}
