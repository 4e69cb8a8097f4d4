package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
	Now    func() time.Time
}

// Manager is the deduplication ledger of webhook events
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
	if option.Now == nil {
		option.Now = time.Now
	}
	if err := option.DB.AutoMigrate(&Record{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize ledger.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// Begin inserts the event as in flight if it has never been seen, then reports
// whether a previous delivery already processed it.
func (m *Manager) Begin(ctx context.Context, eventID, eventType string) (bool, error) {
	logger := m.Logger.With(zap.String("EventID", eventID))

	result := m.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Record{
			EventID:   eventID,
			EventType: eventType,
		})
	if result.Error != nil {
		logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot record webhook event")
	}
	if result.RowsAffected == 1 {
		return false, nil
	}

	rec, err := m.Get(ctx, eventID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, extErrors.Errorf("Webhook event %s vanished after insert", eventID)
	}
	return rec.ProcessedAt != nil, nil
}

// MarkProcessed sets the processed timestamp and clears the last error
func (m *Manager) MarkProcessed(ctx context.Context, eventID string) error {
	result := m.DB.WithContext(ctx).
		Model(&Record{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"processed_at": m.Now().UTC(),
			"last_error":   nil,
		})
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.String("EventID", eventID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot mark webhook event as processed")
	}
	return nil
}

// MarkFailed records the handler error. The event stays unprocessed so a redelivery is handled again.
func (m *Manager) MarkFailed(ctx context.Context, eventID string, cause error) error {
	result := m.DB.WithContext(ctx).
		Model(&Record{}).
		Where("event_id = ? AND processed_at IS NULL", eventID).
		Update("last_error", cause.Error())
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.String("EventID", eventID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot mark webhook event as failed")
	}
	return nil
}

func (m *Manager) Get(ctx context.Context, eventID string) (*Record, error) {
	var rec Record
	result := m.DB.WithContext(ctx).First(&rec, "event_id = ?", eventID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get webhook event")
	}

	return &rec, nil
}
