package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	extErrors "github.com/pkg/errors"
	"github.com/spf13/viper"
)

var validate *validator.Validate = validator.New()

// Environment is the running mode of a binary
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
)

type Database struct {
	URI string `validate:"required"`
}

type Stripe struct {
	Key           string `validate:"required"`
	WebhookSecret string `validate:"required"`
}

type HTTP struct {
	Port   int    `validate:"required,min=1,max=65535"`
	AppURL string `validate:"omitempty,url"`
}

type SMTP struct {
	Host     string
	Port     int `validate:"omitempty,min=1,max=65535"`
	Username string
	Password string
	From     string `validate:"omitempty,email"`
}

// Enabled reports whether receipts can be delivered over SMTP
func (s SMTP) Enabled() bool {
	return len(s.Host) > 0
}

type Redis struct {
	URI      string
	Password string
	SeenTTL  time.Duration `validate:"min=0"`
}

type AMQP struct {
	URI string
}

type Outbox struct {
	Interval   time.Duration `validate:"required"`
	BatchSize  int           `validate:"required,min=1"`
	StaleAfter time.Duration `validate:"min=0"`
}

// Config holds every setting read from the environment
type Config struct {
	Environment Environment
	Database    Database
	Stripe      Stripe
	HTTP        HTTP
	SMTP        SMTP
	Redis       Redis
	AMQP        AMQP
	Outbox      Outbox
}

// Load reads the dotfile for the current ENV (if present) followed by the process environment
func Load() (*Config, error) {
	env := EnvDevelopment
	dotFile := ".env.development"
	if strings.EqualFold(os.Getenv("ENV"), string(EnvProduction)) {
		env = EnvProduction
		dotFile = ".env.production"
	}

	if err := godotenv.Load(dotFile); err != nil && !os.IsNotExist(err) {
		return nil, extErrors.Wrap(err, "Cannot load configurations from "+dotFile)
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 42069)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("OUTBOX_INTERVAL", 2*time.Second)
	v.SetDefault("OUTBOX_BATCH_SIZE", 5)
	v.SetDefault("OUTBOX_STALE_AFTER", time.Duration(0))
	v.SetDefault("SEEN_CACHE_TTL", 24*time.Hour)

	return &Config{
		Environment: env,
		Database: Database{
			URI: v.GetString("POSTGRES_URI"),
		},
		Stripe: Stripe{
			Key:           v.GetString("STRIPE_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		},
		HTTP: HTTP{
			Port:   v.GetInt("PORT"),
			AppURL: v.GetString("APP_URL"),
		},
		SMTP: SMTP{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},
		Redis: Redis{
			URI:      v.GetString("REDIS_URI"),
			Password: v.GetString("REDIS_PW"),
			SeenTTL:  v.GetDuration("SEEN_CACHE_TTL"),
		},
		AMQP: AMQP{
			URI: v.GetString("AMQP_URI"),
		},
		Outbox: Outbox{
			Interval:   v.GetDuration("OUTBOX_INTERVAL"),
			BatchSize:  v.GetInt("OUTBOX_BATCH_SIZE"),
			StaleAfter: v.GetDuration("OUTBOX_STALE_AFTER"),
		},
	}, nil
}

// ValidateAPI checks the sections required by the webhook server
func (c *Config) ValidateAPI() error {
	for _, section := range []interface{}{c.Database, c.Stripe, c.HTTP, c.Redis} {
		if err := validate.Struct(section); err != nil {
			return extErrors.Wrap(err, "Invalid configuration")
		}
	}
	return nil
}

// ValidateWorker checks the sections required by the outbox worker
func (c *Config) ValidateWorker() error {
	for _, section := range []interface{}{c.Database, c.SMTP, c.Outbox} {
		if err := validate.Struct(section); err != nil {
			return extErrors.Wrap(err, "Invalid configuration")
		}
	}
	return nil
}
