package billing

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

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
	if err := option.DB.AutoMigrate(&Event{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize billing.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

func (m *Manager) WithTx(tx *gorm.DB) *Manager {
	c := *m
	c.DB = tx
	return &c
}

// Record inserts the audit row unless one exists for the same Stripe event.
// Returns whether a row was written.
func (m *Manager) Record(ctx context.Context, e *Event) (bool, error) {
	result := m.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_event_id"}},
			DoNothing: true,
		}).
		Create(e)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.String("EventID", e.StripeEventID),
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot record billing event")
	}
	return result.RowsAffected == 1, nil
}

// ListBySubscription returns the audit rows of a subscription, newest first
func (m *Manager) ListBySubscription(ctx context.Context, subscriptionID uint) ([]Event, error) {
	events := make([]Event, 0, 1)
	result := m.DB.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at desc").
		Find(&events)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list billing events")
	}
	return events, nil
}
