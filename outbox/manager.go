package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
	Now    func() time.Time
}

// Manager enqueues jobs. Use WithTx so a job commits together with the state change that needs it.
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
	if err := option.DB.AutoMigrate(&Job{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize outbox.Manager")
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

// Enqueue appends a PENDING job eligible immediately. A non-empty dedupeKey makes
// the enqueue a no-op when a job with the same key exists. Returns whether a job was added.
func (m *Manager) Enqueue(ctx context.Context, jobType Type, payload interface{}, dedupeKey string) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, extErrors.Wrap(err, "Cannot encode job payload")
	}

	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   datatypes.JSON(body),
		Status:    StatusPending,
		NextRunAt: m.Now().UTC(),
	}
	if len(dedupeKey) > 0 {
		job.DedupeKey = &dedupeKey
	}

	result := m.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(job)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.String("JobType", string(jobType)),
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot enqueue outbox job")
	}

	if result.RowsAffected == 0 {
		m.Logger.Debug("Outbox job already enqueued",
			zap.String("DedupeKey", dedupeKey),
		)
		return false, nil
	}
	return true, nil
}

// Get returns a job by id, nil if it does not exist
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	result := m.DB.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&job)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get outbox job")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &job, nil
}

// List returns jobs of the given status in creation order
func (m *Manager) List(ctx context.Context, status Status) ([]Job, error) {
	jobs := make([]Job, 0, 2)
	result := m.DB.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc").
		Find(&jobs)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list outbox jobs")
	}
	return jobs, nil
}
