package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"order-mailer/pkg/cooldown"
)

// Config is built once at startup and handed to every component.
type Config struct {
	DatabaseURL          string        `env:"DATABASE_URL,required"`
	DatabaseFallbackURLs []string      `env:"DATABASE_FALLBACK_URLS" envSeparator:","`
	DBConnectTimeout     time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"10s"`

	PDFDir string `env:"PDF_DIR,required"`

	SMTPHost          string        `env:"SMTP_HOST" envDefault:"smtp-mail.outlook.com"`
	SMTPPort          int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser          string        `env:"SMTP_USER"`
	SMTPPassword      string        `env:"SMTP_PASSWORD"`
	SenderName        string        `env:"SENDER_NAME" envDefault:"Sistema de Vendas"`
	MailRatePerMinute int           `env:"MAIL_RATE_PER_MINUTE" envDefault:"30"` // 0 = no pacing
	BreakerEnabled    bool          `env:"SMTP_BREAKER_ENABLED" envDefault:"true"`
	BreakerFailures   uint32        `env:"SMTP_BREAKER_FAILURES" envDefault:"3"`
	BreakerCooldown   time.Duration `env:"SMTP_BREAKER_COOLDOWN" envDefault:"1m"`

	InitialPass      bool          `env:"INITIAL_PASS" envDefault:"true"`
	SettleDelay      time.Duration `env:"SETTLE_DELAY" envDefault:"5s"`
	PeriodicEnabled  bool          `env:"PERIODIC_ENABLED" envDefault:"true"`
	PeriodicInterval time.Duration `env:"PERIODIC_INTERVAL" envDefault:"10m"`

	// Cooldown tiers are kept raw so a bad value falls back instead of
	// failing startup.
	CooldownAttempt1     string `env:"COOLDOWN_ATTEMPT_1"`
	CooldownAttempt2     string `env:"COOLDOWN_ATTEMPT_2"`
	CooldownAttempt3     string `env:"COOLDOWN_ATTEMPT_3"`
	CooldownAttempt4     string `env:"COOLDOWN_ATTEMPT_4"`
	CooldownAttempt5Plus string `env:"COOLDOWN_ATTEMPT_5_PLUS"`

	StaleProcessingAfter time.Duration `env:"STALE_PROCESSING_AFTER" envDefault:"15m"`
	ErrorMaxLen          int           `env:"ERROR_MAX_LEN" envDefault:"500"`

	ReportDir   string `env:"REPORT_DIR"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	AdminAddr   string `env:"ADMIN_ADDR" envDefault:":9091"`

	Log LogConfig
}

type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	File       string `env:"LOG_FILE" envDefault:"logs/order-mailer.log"` // empty = stdout only
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"10"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"30"`
}

// Load reads the optional env files into the process environment and parses
// the configuration. Missing env files are not an error.
func Load(files ...string) (*Config, error) {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SettleDelay < 0 {
		return fmt.Errorf("SETTLE_DELAY must not be negative")
	}
	if c.PeriodicEnabled && c.PeriodicInterval <= 0 {
		return fmt.Errorf("PERIODIC_INTERVAL must be positive when PERIODIC_ENABLED is set")
	}
	if c.MailRatePerMinute < 0 {
		return fmt.Errorf("MAIL_RATE_PER_MINUTE must not be negative")
	}
	if c.ErrorMaxLen <= 0 {
		return fmt.Errorf("ERROR_MAX_LEN must be positive")
	}
	return nil
}

// RequireMail checks the settings only the sending mode needs.
func (c *Config) RequireMail() error {
	if c.SMTPUser == "" || c.SMTPPassword == "" {
		return fmt.Errorf("SMTP_USER and SMTP_PASSWORD are required to send mail")
	}
	return nil
}

// Cooldown builds the retry cooldown policy from the raw tier settings.
func (c *Config) Cooldown() cooldown.Policy {
	return cooldown.Parse(
		c.CooldownAttempt1,
		c.CooldownAttempt2,
		c.CooldownAttempt3,
		c.CooldownAttempt4,
		c.CooldownAttempt5Plus,
	)
}
