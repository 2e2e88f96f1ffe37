package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Parser322/tg-pipeline/internal/api"
	"github.com/Parser322/tg-pipeline/internal/config"
	"github.com/Parser322/tg-pipeline/internal/feed"
	"github.com/Parser322/tg-pipeline/internal/media"
	"github.com/Parser322/tg-pipeline/internal/mediastore"
	"github.com/Parser322/tg-pipeline/internal/notify"
	"github.com/Parser322/tg-pipeline/internal/observability"
	"github.com/Parser322/tg-pipeline/internal/pipeline"
	"github.com/Parser322/tg-pipeline/internal/secrets"
	"github.com/Parser322/tg-pipeline/internal/storage"
	"github.com/Parser322/tg-pipeline/internal/translate"
)

func main() {
	// Setup logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	setLogLevel(cfg.LogLevel)

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	// Connect to the database and apply migrations
	db, err := storage.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	// Media storage
	files, err := mediastore.New(cfg.MediaStoreDir, cfg.MediaBaseURL, cfg.UploadTimeout, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create media store")
	}

	// Telegram session
	tgClient := feed.NewClient(cfg, &logger)

	brander := media.NewBrander(
		cfg.LogoPath,
		cfg.LogoPosition,
		cfg.LogoMargin,
		cfg.MediaCacheDir,
		cfg.BrandTimeout,
		&logger,
	)

	connector := pipeline.ConnectorFunc(func(ctx context.Context, fn func(ctx context.Context, s pipeline.Session) error) error {
		return tgClient.Run(ctx, func(ctx context.Context, f *feed.Feed) error {
			return fn(ctx, f)
		})
	})

	newAcquirer := func(s pipeline.Session) (pipeline.MediaAcquirer, error) {
		return media.NewAcquirer(s, brander, cfg.MediaCacheDir, cfg.MediaSizeCeiling, cfg.DownloadTimeout, &logger)
	}

	// Optional collaborators
	var translator pipeline.Translator
	if cfg.LLMAPIKey != "" {
		translator = translate.New(cfg, &logger)
	}

	notifier, err := notify.New(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create notifier")
	}

	var box api.Encryptor
	if cfg.CredentialsKey != "" {
		b, err := secrets.NewBox(cfg.CredentialsKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid credentials key")
		}

		box = b
	}

	registry := pipeline.NewRegistry()
	driver := pipeline.NewDriver(connector, db, files, translator, notifier, registry, newAcquirer, &logger)

	// Start health server
	healthServer := observability.NewServer(db.Pool, cfg.HealthPort, &logger)

	go func() {
		logger.Info().Int("port", cfg.HealthPort).Msg("Starting health server")

		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Health server error")
		}
	}()

	// Start API server
	apiServer := api.NewServer(
		driver,
		registry,
		db,
		translator,
		files,
		box,
		api.Defaults{
			Channel:  cfg.DefaultChannel,
			Limit:    cfg.DefaultLimit,
			Lookback: cfg.TopLookback,
			Quotas: api.QuotaDefaults{
				Likes:    cfg.TopQuotaLikes,
				Comments: cfg.TopQuotaComment,
				Views:    cfg.TopQuotaViews,
			},
		},
		files.Root(),
		cfg.APIPort,
		&logger,
	)

	logger.Info().Int("port", cfg.APIPort).Msg("Starting API server")

	if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("API server error")
	}

	// Give in-flight run cancellation a moment to mirror progress.
	time.Sleep(time.Second)
	logger.Info().Msg("Pipeline stopped")
}

// setLogLevel sets the global log level based on the configuration.
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
