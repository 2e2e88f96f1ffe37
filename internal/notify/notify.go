package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/Parser322/tg-pipeline/internal/config"
)

// Notifier reports run outcomes to an operator chat through a bot.
// A Notifier without a configured token is a no-op so deployments can
// run without one.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zerolog.Logger
}

func New(cfg *config.Config, logger *zerolog.Logger) (*Notifier, error) {
	n := &Notifier{chatID: cfg.OperatorChatID, logger: logger}

	if cfg.BotToken == "" || cfg.OperatorChatID == 0 {
		logger.Info().Msg("Operator notifications disabled")

		return n, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	n.api = api

	return n, nil
}

// RunFinished reports a completed pipeline run.
func (n *Notifier) RunFinished(channel, mode string, saved int) {
	n.send(fmt.Sprintf("✅ Pipeline run finished\nChannel: %s\nMode: %s\nPosts saved: %d", channel, mode, saved))
}

// RunFailed reports a pipeline run that stopped on an error.
func (n *Notifier) RunFailed(channel, mode string, err error) {
	n.send(fmt.Sprintf("❌ Pipeline run failed\nChannel: %s\nMode: %s\nError: %v", channel, mode, err))
}

func (n *Notifier) send(text string) {
	if n.api == nil {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)

	if _, err := n.api.Send(msg); err != nil {
		n.logger.Warn().Err(err).Msg("failed to send operator notification")
	}
}
