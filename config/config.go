package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`
	Port     string `env:"PORT"      envDefault:"8080"  validate:"required"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	ControlJWTSecret string `env:"CONTROL_JWT_SECRET,required" validate:"required,min=32"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"file"                validate:"oneof=file sqlite postgres"`
	StorePath   string `env:"STORE_PATH"   envDefault:"data/schedules.yaml" validate:"required_unless=StoreDriver postgres"`
	DatabaseURL string `env:"DATABASE_URL"                                  validate:"required_if=StoreDriver postgres"`
	CatalogPath string `env:"CATALOG_PATH" envDefault:"config/catalog.yaml"`

	RunPodAPIKey string `env:"RUNPOD_API_KEY,required" validate:"required"`

	TickSpec string `env:"TICK_SPEC" envDefault:"@every 1m" validate:"required"`

	ProbeMaxAttempts    int           `env:"PROBE_MAX_ATTEMPTS"    envDefault:"3"    validate:"min=1,max=10"`
	ProbeBaseDelay      time.Duration `env:"PROBE_BASE_DELAY"      envDefault:"5s"   validate:"gt=0"`
	ProbeMaxDelay       time.Duration `env:"PROBE_MAX_DELAY"       envDefault:"1m"   validate:"gtefield=ProbeBaseDelay"`
	ProbeAttemptTimeout time.Duration `env:"PROBE_ATTEMPT_TIMEOUT" envDefault:"2m"   validate:"gt=0"`
	ProbeTimeout        time.Duration `env:"PROBE_TIMEOUT"         envDefault:"10m"  validate:"gtefield=ProbeAttemptTimeout"`
	ProbeMessage        string        `env:"PROBE_MESSAGE"         envDefault:"keep-warm probe"`

	FailureThreshold   int    `env:"FAILURE_THRESHOLD"     envDefault:"3"    validate:"min=1,max=100"`
	ColdStartSoftLimit int    `env:"COLD_START_SOFT_LIMIT" envDefault:"2"    validate:"min=0"`
	MaxConcurrency     int    `env:"MAX_CONCURRENCY"       envDefault:"10"   validate:"min=1,max=256"`
	MaxIntervalMinutes int    `env:"MAX_INTERVAL_MINUTES"  envDefault:"1440" validate:"min=1,max=10080"`
	DefaultTimezone    string `env:"DEFAULT_TIMEZONE"      envDefault:"Asia/Seoul" validate:"required,timezone"`

	SlackWebhookURL  string `env:"SLACK_WEBHOOK_URL"  validate:"omitempty,url"`
	SlackBotToken    string `env:"SLACK_BOT_TOKEN"`
	SlackChannel     string `env:"SLACK_CHANNEL"      envDefault:"#runpod-alerts"`
	SlackMentionUser string `env:"SLACK_MENTION_USER" envDefault:"here"`
	SlackUsername    string `env:"SLACK_USERNAME"     envDefault:"RunPod Supervisor"`
	SlackIconEmoji   string `env:"SLACK_ICON_EMOJI"   envDefault:":robot_face:"`

	ResendAPIKey string `env:"RESEND_API_KEY"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_with=ResendAPIKey"`
	AlertEmailTo string `env:"ALERT_EMAIL_TO" validate:"omitempty,email"`

	TelegramToken  string `env:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID" validate:"required_with=TelegramToken"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"      envDefault:"0" validate:"min=0"`
	RedisChannel  string `env:"REDIS_CHANNEL" envDefault:"keepwarm:events"`

	NatsURL     string `env:"NATS_URL"`
	NatsSubject string `env:"NATS_SUBJECT" envDefault:"keepwarm.events"`

	NotifyWorkers    int `env:"NOTIFY_WORKERS"      envDefault:"2"   validate:"min=1,max=32"`
	NotifyQueueSize  int `env:"NOTIFY_QUEUE_SIZE"   envDefault:"256" validate:"min=1"`
	NotifyRatePerSec int `env:"NOTIFY_RATE_PER_SEC" envDefault:"1"   validate:"min=1"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// cold starts alone must never be able to flip a model into Error
	if cfg.ColdStartSoftLimit >= cfg.FailureThreshold {
		cfg.ColdStartSoftLimit = cfg.FailureThreshold - 1
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
