package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// TradeTaskRepository is the database-backed trade task queue.
type TradeTaskRepository struct {
	db *gorm.DB
}

func NewTradeTaskRepository() *TradeTaskRepository {
	return &TradeTaskRepository{db: database.MainDB}
}

func (r *TradeTaskRepository) WithDB(db *gorm.DB) *TradeTaskRepository {
	return &TradeTaskRepository{db: db}
}

// Enqueue inserts task unless a task with the same idempotency key exists, in
// which case the stored task is returned and created is false.
func (r *TradeTaskRepository) Enqueue(ctx context.Context, task *model.TradeTask) (stored *model.TradeTask, created bool, err error) {
	logger.WithFields(map[string]interface{}{
		"repo":            "TradeTaskRepository",
		"op":              "Enqueue",
		"idempotency_key": task.IdempotencyKey,
		"account_id":      task.AccountID,
	}).Debug("Enqueueing trade task")

	existing, err := r.FindByIdempotencyKey(ctx, task.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, findErr := r.FindByIdempotencyKey(ctx, task.IdempotencyKey)
			if findErr != nil {
				return nil, false, findErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}

		logger.WithFields(map[string]interface{}{
			"repo": "TradeTaskRepository",
			"op":   "Enqueue",
		}).WithError(err).Error("Failed to enqueue trade task")

		return nil, false, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "TradeTaskRepository",
		"op":      "Enqueue",
		"task_id": task.ID,
	}).Info("Trade task enqueued")

	return task, true, nil
}

// FindByIdempotencyKey returns (nil, nil) when no task carries key.
func (r *TradeTaskRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.TradeTask, error) {
	var task model.TradeTask
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// FindByID returns (nil, nil) when the task does not exist.
func (r *TradeTaskRepository) FindByID(ctx context.Context, id uint) (*model.TradeTask, error) {
	var task model.TradeTask
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// Claim takes one runnable task: a queued task that is due, or a running task
// whose lock is older than visibilityTimeout (its worker is presumed gone)
// and that has attempts left. Expired tasks without attempts left are
// dead-lettered. The claimed task is marked running and its attempt counter
// incremented.
// Returns (nil, nil) when nothing is runnable.
func (r *TradeTaskRepository) Claim(ctx context.Context, now time.Time, visibilityTimeout time.Duration) (*model.TradeTask, error) {
	var claimed *model.TradeTask

	expired := now.Add(-visibilityTimeout)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// a worker lost while holding its last attempt leaves nothing to retry
		dead := tx.Model(&model.TradeTask{}).
			Where("status = ? AND locked_at < ? AND attempts >= max_attempts",
				model.TradeTaskStatusRunning, expired).
			Updates(map[string]interface{}{
				"status":     model.TradeTaskStatusDead,
				"locked_at":  nil,
				"last_error": "lock expired on the final attempt",
			})
		if dead.Error != nil {
			return dead.Error
		}
		if dead.RowsAffected > 0 {
			logger.WithFields(map[string]interface{}{
				"repo":  "TradeTaskRepository",
				"op":    "Claim",
				"count": dead.RowsAffected,
			}).Warn("Dead-lettered expired trade tasks")
		}

		var task model.TradeTask
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? AND next_run_at <= ?) OR (status = ? AND locked_at < ? AND attempts < max_attempts)",
				model.TradeTaskStatusQueued, now,
				model.TradeTaskStatusRunning, expired).
			Order("next_run_at ASC, id ASC").
			Limit(1).
			Find(&task).Error
		if err != nil {
			return err
		}
		if task.ID == 0 {
			return nil
		}

		task.Status = model.TradeTaskStatusRunning
		task.Attempts++
		task.LockedAt = &now

		if err := tx.Model(&model.TradeTask{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":    task.Status,
				"attempts":  task.Attempts,
				"locked_at": now,
			}).Error; err != nil {
			return err
		}

		claimed = &task
		return nil
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeTaskRepository",
			"op":   "Claim",
		}).WithError(err).Error("Failed to claim trade task")
		return nil, err
	}

	return claimed, nil
}

// MarkDone completes a task.
func (r *TradeTaskRepository) MarkDone(ctx context.Context, id uint) error {
	return r.finish(ctx, id, map[string]interface{}{
		"status":     model.TradeTaskStatusDone,
		"locked_at":  nil,
		"last_error": "",
	})
}

// MarkRetry puts a task back in the queue to run again at nextRunAt.
func (r *TradeTaskRepository) MarkRetry(ctx context.Context, id uint, nextRunAt time.Time, lastErr string) error {
	return r.finish(ctx, id, map[string]interface{}{
		"status":      model.TradeTaskStatusQueued,
		"next_run_at": nextRunAt,
		"locked_at":   nil,
		"last_error":  lastErr,
	})
}

// MarkDead dead-letters a task for manual inspection.
func (r *TradeTaskRepository) MarkDead(ctx context.Context, id uint, lastErr string) error {
	return r.finish(ctx, id, map[string]interface{}{
		"status":     model.TradeTaskStatusDead,
		"locked_at":  nil,
		"last_error": lastErr,
	})
}

func (r *TradeTaskRepository) finish(ctx context.Context, id uint, values map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&model.TradeTask{}).
		Where("id = ?", id).
		Updates(values).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TradeTaskRepository",
			"op":      "finish",
			"task_id": id,
			"status":  values["status"],
		}).WithError(err).Error("Failed to update trade task")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "TradeTaskRepository",
		"task_id": id,
		"status":  values["status"],
	}).Debug("Trade task updated")

	return nil
}
