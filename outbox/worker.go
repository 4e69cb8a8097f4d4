package outbox

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Executor performs the side effect of a job. A returned error schedules a retry.
type Executor interface {
	Execute(ctx context.Context, job *Job) error
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, job *Job) error

func (f ExecutorFunc) Execute(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

const (
	DefaultInterval  = 2 * time.Second
	DefaultBatchSize = 5
	maxBackoffMinute = 30
)

// Backoff is the delay before a job that has failed attempts times so far becomes eligible again
func Backoff(attempts int) time.Duration {
	minutes := attempts + 1
	if minutes > maxBackoffMinute {
		minutes = maxBackoffMinute
	}
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

type WorkerOptions struct {
	DB        *gorm.DB
	Logger    *zap.Logger
	Executors map[Type]Executor
	Interval  time.Duration
	BatchSize int
	// StaleAfter returns PROCESSING jobs claimed longer ago than this to PENDING. Zero disables it.
	StaleAfter time.Duration
	Now        func() time.Time
}

// Worker polls the outbox and executes jobs outside of any transaction.
// Any number of workers may share a database.
type Worker struct {
	WorkerOptions
}

func NewWorker(option WorkerOptions) (*Worker, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.Executors) == 0 {
		return nil, fmt.Errorf("empty Executors is invalid")
	}
	if option.Interval <= 0 {
		option.Interval = DefaultInterval
	}
	if option.BatchSize <= 0 {
		option.BatchSize = DefaultBatchSize
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	return &Worker{
		WorkerOptions: option,
	}, nil
}

// Run ticks every Interval until ctx is done
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.Logger.Info("Outbox worker started",
		zap.Duration("Interval", w.Interval),
		zap.Int("BatchSize", w.BatchSize),
		zap.Duration("StaleAfter", w.StaleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("Outbox worker stopped")
			return
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				w.Logger.Error("Outbox tick failed",
					zap.Error(err),
				)
			}
		}
	}
}

// Tick claims one batch of eligible jobs and executes them. Returns the number of jobs claimed.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	if w.StaleAfter > 0 {
		if _, err := w.ReclaimStale(ctx); err != nil {
			return 0, err
		}
	}

	jobs, err := w.claim(ctx)
	if err != nil {
		return 0, err
	}

	for i := range jobs {
		if ctx.Err() != nil {
			w.release(ctx, jobs[i:])
			break
		}
		w.process(ctx, &jobs[i])
	}
	return len(jobs), nil
}

// claim marks up to BatchSize eligible jobs PROCESSING, oldest first. Rows locked
// by another worker's claim are skipped. The transaction ends before any job executes.
func (w *Worker) claim(ctx context.Context) ([]Job, error) {
	now := w.Now().UTC()
	jobs := make([]Job, 0, w.BatchSize)

	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_run_at <= ?", StatusPending, now).
			Order("created_at asc").
			Limit(w.BatchSize).
			Find(&jobs)
		if result.Error != nil {
			return result.Error
		}
		if len(jobs) == 0 {
			return nil
		}

		ids := make([]string, 0, len(jobs))
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
		update := tx.Model(&Job{}).
			Where("id IN ? AND status = ?", ids, StatusPending).
			Updates(map[string]interface{}{
				"status":    StatusProcessing,
				"locked_at": now,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected != int64(len(ids)) {
			return extErrors.Errorf("Claimed %d of %d selected jobs", update.RowsAffected, len(ids))
		}
		for i := range jobs {
			jobs[i].Status = StatusProcessing
			jobs[i].LockedAt = &now
		}
		return nil
	})
	if err != nil {
		w.Logger.Error("Database returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot claim outbox jobs")
	}
	return jobs, nil
}

func (w *Worker) process(ctx context.Context, job *Job) {
	logger := w.Logger.With(
		zap.String("JobID", job.ID),
		zap.String("JobType", string(job.Type)),
		zap.Int("Attempts", job.Attempts),
	)

	executor, ok := w.Executors[job.Type]
	var err error
	if !ok {
		err = extErrors.Errorf("No executor for job type %s", job.Type)
	} else {
		err = executor.Execute(ctx, job)
	}

	if err != nil && ctx.Err() != nil {
		logger.Info("Outbox job interrupted by shutdown",
			zap.Error(err),
		)
		w.release(ctx, []Job{*job})
		return
	}

	if err != nil {
		logger.Warn("Outbox job failed",
			zap.Error(err),
		)
		if markErr := w.markFailed(ctx, job, err); markErr != nil {
			logger.Error("Cannot reschedule outbox job",
				zap.Error(markErr),
			)
		}
		return
	}

	if markErr := w.markDone(ctx, job); markErr != nil {
		logger.Error("Cannot complete outbox job",
			zap.Error(markErr),
		)
		return
	}
	logger.Debug("Outbox job done")
}

// markDone, markFailed and release record the outcome of work that already
// happened, so they must complete even after ctx is canceled.

func (w *Worker) markDone(ctx context.Context, job *Job) error {
	result := w.DB.WithContext(context.WithoutCancel(ctx)).
		Model(&Job{}).
		Where("id = ? AND status = ?", job.ID, StatusProcessing).
		Updates(map[string]interface{}{
			"status":     StatusDone,
			"locked_at":  nil,
			"last_error": nil,
		})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark outbox job as done")
	}
	return nil
}

func (w *Worker) markFailed(ctx context.Context, job *Job, cause error) error {
	now := w.Now().UTC()
	result := w.DB.WithContext(context.WithoutCancel(ctx)).
		Model(&Job{}).
		Where("id = ? AND status = ?", job.ID, StatusProcessing).
		Updates(map[string]interface{}{
			"status":      StatusPending,
			"attempts":    job.Attempts + 1,
			"next_run_at": now.Add(Backoff(job.Attempts)),
			"last_error":  cause.Error(),
			"locked_at":   nil,
		})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot reschedule outbox job")
	}
	return nil
}

// release hands claimed jobs that were not executed back to PENDING without
// counting an attempt
func (w *Worker) release(ctx context.Context, jobs []Job) {
	if len(jobs) == 0 {
		return
	}
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	result := w.DB.WithContext(context.WithoutCancel(ctx)).
		Model(&Job{}).
		Where("id IN ? AND status = ?", ids, StatusProcessing).
		Updates(map[string]interface{}{
			"status":    StatusPending,
			"locked_at": nil,
		})
	if result.Error != nil {
		w.Logger.Error("Cannot release outbox jobs",
			zap.Strings("JobIDs", ids),
			zap.Error(result.Error),
		)
		return
	}
	w.Logger.Info("Released unstarted outbox jobs",
		zap.Int64("Count", result.RowsAffected),
	)
}

// ReclaimStale returns jobs stuck in PROCESSING for longer than StaleAfter to PENDING
func (w *Worker) ReclaimStale(ctx context.Context) (int64, error) {
	if w.StaleAfter <= 0 {
		return 0, nil
	}
	now := w.Now().UTC()
	result := w.DB.WithContext(ctx).
		Model(&Job{}).
		Where("status = ? AND locked_at < ?", StatusProcessing, now.Add(-w.StaleAfter)).
		Updates(map[string]interface{}{
			"status":      StatusPending,
			"next_run_at": now,
			"locked_at":   nil,
			"last_error":  "Reclaimed after exceeding processing deadline",
		})
	if result.Error != nil {
		w.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot reclaim stale outbox jobs")
	}
	if result.RowsAffected > 0 {
		w.Logger.Warn("Reclaimed stale outbox jobs",
			zap.Int64("Count", result.RowsAffected),
		)
	}
	return result.RowsAffected, nil
}
