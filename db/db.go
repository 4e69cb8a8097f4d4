package db

import (
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

// Options configures the database handle
type Options struct {
	URI    string
	Logger *zap.Logger
}

// Config returns the gorm configuration shared by every dialect. Timestamps
// are stored in UTC so ordering and eligibility comparisons are stable.
func Config(logger *zap.Logger) *gorm.Config {
	gLogger := zapgorm2.New(logger)
	gLogger.LogLevel = gormlogger.Warn
	gLogger.SlowThreshold = time.Second
	// ErrRecordNotFound is handled in application logic, let's not forward this to zap/sentry
	gLogger.IgnoreRecordNotFoundError = true

	return &gorm.Config{
		Logger: gLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// New returns an instance for interacting with the PostgreSQL database
func New(option Options) (*gorm.DB, error) {
	if option.Logger == nil {
		return nil, extErrors.New("nil Logger is invalid")
	}
	db, err := gorm.Open(postgres.Open(option.URI), Config(option.Logger))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to database")
	}
	pool, err := db.DB()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot get the connection pool")
	}
	pool.SetMaxIdleConns(1)
	pool.SetMaxOpenConns(20)
	pool.SetConnMaxLifetime(time.Hour)
	return db, nil
}
