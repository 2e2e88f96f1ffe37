package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"

	"github.com/Parser322/tg-pipeline/internal/config"
	"github.com/Parser322/tg-pipeline/internal/observability"
)

// Client is the part of the OpenAI API the translator uses.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Translator translates post content into a target language via an LLM.
type Translator struct {
	client Client
	model  string
	logger *zerolog.Logger
}

func New(cfg *config.Config, logger *zerolog.Logger) *Translator {
	return &Translator{
		client: openai.NewClient(cfg.LLMAPIKey),
		model:  cfg.LLMModel,
		logger: logger,
	}
}

// NewWithClient is used by tests to substitute the OpenAI transport.
func NewWithClient(client Client, model string, logger *zerolog.Logger) *Translator {
	return &Translator{client: client, model: model, logger: logger}
}

// ValidateLang checks that lang is a well-formed BCP 47 language tag
// and returns its canonical form.
func ValidateLang(lang string) (string, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return "", fmt.Errorf("invalid target language %q: %w", lang, err)
	}

	return tag.String(), nil
}

// Translate returns content rendered in the target language. Formatting
// and emoji are preserved; an empty input translates to an empty string.
func (t *Translator) Translate(ctx context.Context, content, targetLang string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}

	lang, err := ValidateLang(targetLang)
	if err != nil {
		return "", err
	}

	model := t.model
	if model == "" {
		model = openai.GPT4oMini
	}

	start := time.Now()

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(
					"You are a translator. Translate the user's message into %s. "+
						"Preserve line breaks, emoji and formatting. Return only the translation.",
					lang),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: content,
			},
		},
	})

	observability.TranslationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		observability.TranslationRequests.WithLabelValues("error").Inc()

		return "", fmt.Errorf("chat completion error: %w", err)
	}

	if len(resp.Choices) == 0 {
		observability.TranslationRequests.WithLabelValues("empty").Inc()

		return "", fmt.Errorf("chat completion returned no choices")
	}

	observability.TranslationRequests.WithLabelValues("ok").Inc()

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
