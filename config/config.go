package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Server struct {
		Addr string `env:"SERVER_ADDR" envDefault:":8000"`

		// Absolute base used when building public URLs for uploaded files
		PublicBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8000"`

		CORSOrigins []string `env:"BACKEND_CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:3001"`

		LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

		// Default request timeout applied to every handler context
		RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	}

	Database struct {
		// One of sqlite, mysql, postgres
		Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
		DSN    string `env:"DATABASE_URL" envDefault:"habitat.db"`
		Debug  bool   `env:"DB_DEBUG" envDefault:"false"`
	}

	Auth struct {
		SecretKey      string        `env:"SECRET_KEY"`
		AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"30m"`
		BcryptCost     int           `env:"BCRYPT_COST" envDefault:"12"`
	}

	Admin struct {
		// Seeded on startup when the users table is empty
		Username string `env:"ADMIN_USERNAME" envDefault:"admin"`
		Email    string `env:"ADMIN_EMAIL" envDefault:"admin@habitat.com"`
		Password string `env:"ADMIN_PASSWORD"`
	}

	Upload struct {
		Dir     string `env:"UPLOAD_DIR" envDefault:"static/uploads"`
		MaxSize int64  `env:"UPLOAD_MAX_BYTES" envDefault:"10485760"`
	}

	Mail struct {
		Host     string `env:"MAIL_SERVER"`
		Port     int    `env:"MAIL_PORT" envDefault:"587"`
		Username string `env:"MAIL_USERNAME"`
		Password string `env:"MAIL_PASSWORD"`
		From     string `env:"MAIL_FROM"`
	}

	Telegram struct {
		BotToken string `env:"TELEGRAM_BOT_TOKEN"`
		ChatID   string `env:"TELEGRAM_CHAT_ID"`
	}

	Redis struct {
		Addr     string        `env:"REDIS_ADDR"`
		Password string        `env:"REDIS_PASSWORD"`
		DB       int           `env:"REDIS_DB" envDefault:"0"`
		TTL      time.Duration `env:"SETTINGS_CACHE_TTL" envDefault:"5m"`
	}

	Search struct {
		MeilisearchHost string `env:"MEILISEARCH_HOST"`
		MeilisearchKey  string `env:"MEILISEARCH_KEY"`
		Index           string `env:"MEILISEARCH_INDEX" envDefault:"properties"`

		// Background index pipeline
		BatchSize  int           `env:"SEARCH_BATCH_SIZE" envDefault:"100"`
		QueueSize  int           `env:"SEARCH_QUEUE_SIZE" envDefault:"256"`
		MaxRetries int           `env:"SEARCH_MAX_RETRIES" envDefault:"3"`
		RetryDelay time.Duration `env:"SEARCH_RETRY_DELAY" envDefault:"2s"`
		// Full reindex period; zero only reindexes at startup
		ReindexInterval time.Duration `env:"SEARCH_REINDEX_INTERVAL" envDefault:"24h"`
	}

	Geocoding struct {
		Enabled     bool          `env:"GEOCODING_ENABLED" envDefault:"false"`
		Endpoint    string        `env:"GEOCODING_ENDPOINT" envDefault:"https://nominatim.openstreetmap.org/search"`
		CountryCode string        `env:"GEOCODING_COUNTRY" envDefault:"ve"`
		CacheDir    string        `env:"GEOCODING_CACHE_DIR"`
		MinInterval time.Duration `env:"GEOCODING_MIN_INTERVAL" envDefault:"1s"`
	}

	RateLimit struct {
		// Per-client requests per second on public write endpoints
		RequestsPerSecond float64 `env:"RATE_LIMIT_RPS" envDefault:"1"`
		Burst             int     `env:"RATE_LIMIT_BURST" envDefault:"5"`
	}
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Auth.SecretKey == "" {
		return errors.New("SECRET_KEY environment variable is not set")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	c.Server.PublicBaseURL = strings.TrimRight(c.Server.PublicBaseURL, "/")
	return nil
}

// MailEnabled reports whether an SMTP server is configured.
func (c *Config) MailEnabled() bool {
	return c.Mail.Host != "" && c.Mail.From != ""
}

// TelegramEnabled reports whether new-contact alerts should be sent.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
