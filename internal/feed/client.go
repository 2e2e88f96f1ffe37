package feed

import (
	"context"
	"errors"
	"strings"

	"github.com/gotd/td/telegram"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Parser322/tg-pipeline/internal/config"
)

// ErrChannelNotFound indicates the channel was not found.
var ErrChannelNotFound = errors.New("channel not found")

// ErrNotAChannel indicates the peer is not a channel.
var ErrNotAChannel = errors.New("peer is not a channel")

// Client owns the MTProto session. Each Run establishes a connection,
// authenticates if necessary and hands the callback a Feed bound to
// that connection.
type Client struct {
	cfg     *config.Config
	logger  *zerolog.Logger
	limiter *rate.Limiter
}

func NewClient(cfg *config.Config, logger *zerolog.Logger) *Client {
	rps := cfg.RateLimitRPS
	if rps < 1 {
		rps = 1
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Run connects to Telegram and invokes fn with a live Feed. The Feed is
// only valid for the duration of the callback.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context, f *Feed) error) error {
	client := telegram.NewClient(c.cfg.TGAPIID, c.cfg.TGAPIHash, telegram.Options{
		SessionStorage: &telegram.FileSessionStorage{
			Path: c.cfg.TGSessionPath,
		},
	})

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, c.authFlow()); err != nil {
			return err
		}

		c.logger.Info().Msg("Successfully authenticated as user")

		return fn(ctx, newFeed(client, c.limiter, c.logger))
	})
}

// normalizeChannel strips URL prefixes and a leading @ so that both
// "https://t.me/name" and "@name" address the same channel.
func normalizeChannel(channel string) string {
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(channel, prefix) {
			channel = strings.TrimPrefix(channel, prefix)

			break
		}
	}

	return strings.TrimPrefix(strings.TrimSpace(channel), "@")
}
