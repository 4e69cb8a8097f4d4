package idempotency

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Key is a claim ticket for a side effect that must run at most once.
// Rows are append-only.
type Key struct {
	Key       string    `json:"key" gorm:"primaryKey"`
	Scope     string    `json:"scope" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Key) TableName() string {
	return "idempotency_keys"
}

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

type Manager struct {
	ManagerOptions
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Key{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize idempotency.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// Claim inserts (key, scope) and reports whether this caller won it. Exactly one
// of any number of concurrent claims for the same pair returns true.
func (m *Manager) Claim(ctx context.Context, key, scope string) (bool, error) {
	result := m.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Key{
			Key:   key,
			Scope: scope,
		})
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.String("Key", key),
			zap.String("Scope", scope),
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot claim idempotency key")
	}
	return result.RowsAffected == 1, nil
}
