package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`

	// Telegram user session used for reading channel history.
	TGAPIID       int    `env:"TG_API_ID,required"`
	TGAPIHash     string `env:"TG_API_HASH,required"`
	TGPhone       string `env:"TG_PHONE"`
	TG2FAPassword string `env:"TG_2FA_PASSWORD"`
	TGSessionPath string `env:"TG_SESSION_PATH" envDefault:"./tg.session"`
	RateLimitRPS  int    `env:"RATE_LIMIT_RPS" envDefault:"1"`

	// Pipeline defaults. Requests may override channel, limit and window.
	DefaultChannel  string        `env:"DEFAULT_CHANNEL"`
	DefaultLimit    int           `env:"DEFAULT_LIMIT" envDefault:"10"`
	TopLookback     time.Duration `env:"TOP_LOOKBACK" envDefault:"168h"`
	TopQuotaLikes   int           `env:"TOP_QUOTA_LIKES" envDefault:"4"`
	TopQuotaComment int           `env:"TOP_QUOTA_COMMENTS" envDefault:"3"`
	TopQuotaViews   int           `env:"TOP_QUOTA_VIEWS" envDefault:"3"`

	// Media handling.
	MediaCacheDir    string        `env:"MEDIA_CACHE_DIR" envDefault:"./cache"`
	MediaStoreDir    string        `env:"MEDIA_STORE_DIR" envDefault:"./media"`
	MediaBaseURL     string        `env:"MEDIA_BASE_URL" envDefault:"http://localhost:8081/media"`
	MediaSizeCeiling int64         `env:"MEDIA_SIZE_CEILING_BYTES" envDefault:"209715200"`
	DownloadTimeout  time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"5m"`
	UploadTimeout    time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"5m"`

	// Branding.
	LogoPath     string        `env:"LOGO_PATH"`
	LogoPosition string        `env:"LOGO_POSITION" envDefault:"bottom-right"`
	LogoMargin   int           `env:"LOGO_MARGIN" envDefault:"24"`
	BrandTimeout time.Duration `env:"BRAND_TIMEOUT" envDefault:"10m"`

	// Translation.
	LLMAPIKey string `env:"LLM_API_KEY"`
	LLMModel  string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`

	// Operator notifications.
	BotToken       string `env:"BOT_TOKEN"`
	OperatorChatID int64  `env:"OPERATOR_CHAT_ID"`

	// Credential encryption. 32 bytes, hex encoded.
	CredentialsKey string `env:"CREDENTIALS_KEY"`

	APIPort    int `env:"API_PORT" envDefault:"8081"`
	HealthPort int `env:"HEALTH_PORT" envDefault:"8080"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
