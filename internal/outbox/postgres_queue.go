package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/tracing"
	"github.com/customeros/draftsync/internal/utils"
)

type postgresJobQueue struct {
	db *gorm.DB
}

func NewPostgresJobQueue(db *gorm.DB) (interfaces.JobQueue, error) {
	if err := MigratePostgresJobQueue(db); err != nil {
		return nil, err
	}
	return &postgresJobQueue{db: db}, nil
}

func MigratePostgresJobQueue(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.OutboxJob{}); err != nil {
		return fmt.Errorf("migrating outbox_jobs: %w", err)
	}
	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_jobs_queued_key ON outbox_jobs (key) WHERE state = 'queued'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_jobs_running_key ON outbox_jobs (key) WHERE state = 'running'`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("creating outbox index: %w", err)
		}
	}
	return nil
}

func (q *postgresJobQueue) EnqueueUnique(ctx context.Context, job *models.OutboxJob) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "postgresJobQueue.EnqueueUnique")
	defer span.Finish()
	tracing.TagComponentQueue(span)

	if err := validateJob(job); err != nil {
		return err
	}
	job.Prepare()
	job.State = enum.JobStateQueued
	job.LeasedAt = nil
	span.SetTag("job.key", job.Key)

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ? AND state = ?", job.Key, enum.JobStateQueued).Delete(&models.OutboxJob{}).Error; err != nil {
			return err
		}
		return tx.Create(job).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to enqueue job %s: %w", job.Key, err)
	}
	return nil
}

func (q *postgresJobQueue) Dequeue(ctx context.Context, now time.Time) (*models.OutboxJob, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "postgresJobQueue.Dequeue")
	defer span.Finish()
	tracing.TagComponentQueue(span)

	var leased *models.OutboxJob
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.OutboxJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("state = ? AND run_at <= ?", enum.JobStateQueued, now).
			Where("NOT EXISTS (SELECT 1 FROM outbox_jobs r WHERE r.key = outbox_jobs.key AND r.state = ?)", enum.JobStateRunning).
			Order("run_at ASC, created_at ASC").
			First(&job).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		job.State = enum.JobStateRunning
		job.LeasedAt = utils.TimePtr(now)
		job.Attempt++
		job.UpdatedAt = now
		if err := tx.Save(&job).Error; err != nil {
			return err
		}
		leased = &job
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	return leased, nil
}

func (q *postgresJobQueue) Complete(ctx context.Context, job *models.OutboxJob) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "postgresJobQueue.Complete")
	defer span.Finish()
	tracing.TagComponentQueue(span)

	if err := q.db.WithContext(ctx).Where("id = ?", job.ID).Delete(&models.OutboxJob{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}
	return nil
}

func (q *postgresJobQueue) Reschedule(ctx context.Context, job *models.OutboxJob, runAt time.Time, lastError string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "postgresJobQueue.Reschedule")
	defer span.Finish()
	tracing.TagComponentQueue(span)

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.OutboxJob
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", job.ID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		var newer int64
		if err := tx.Model(&models.OutboxJob{}).
			Where("key = ? AND state = ? AND id <> ?", current.Key, enum.JobStateQueued, current.ID).
			Count(&newer).Error; err != nil {
			return err
		}
		if newer > 0 {
			return tx.Delete(&current).Error
		}
		return tx.Model(&current).Updates(map[string]interface{}{
			"state":      enum.JobStateQueued,
			"attempt":    job.Attempt,
			"run_at":     runAt,
			"leased_at":  nil,
			"last_error": lastError,
			"updated_at": utils.Now(),
		}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to reschedule job %s: %w", job.ID, err)
	}
	return nil
}

func (q *postgresJobQueue) Cancel(ctx context.Context, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "postgresJobQueue.Cancel")
	defer span.Finish()
	tracing.TagComponentQueue(span)

	err := q.db.WithContext(ctx).Where("key = ? AND state = ?", key, enum.JobStateQueued).Delete(&models.OutboxJob{}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to cancel job %s: %w", key, err)
	}
	return nil
}

func (q *postgresJobQueue) Rekey(ctx context.Context, oldDraftID, newDraftID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "postgresJobQueue.Rekey")
	defer span.Finish()
	tracing.TagComponentQueue(span)

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var jobs []models.OutboxJob
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("draft_id = ?", oldDraftID).Find(&jobs).Error; err != nil {
			return err
		}
		for _, job := range jobs {
			job.DraftID = newDraftID
			newKey := models.JobKey(job.Kind, job.Target())

			if job.State == enum.JobStateQueued {
				var existing models.OutboxJob
				err := tx.Where("key = ? AND state = ? AND id <> ?", newKey, enum.JobStateQueued, job.ID).First(&existing).Error
				switch {
				case err == nil && existing.CreatedAt.After(job.CreatedAt):
					if err := tx.Delete(&models.OutboxJob{}, "id = ?", job.ID).Error; err != nil {
						return err
					}
					continue
				case err == nil:
					if err := tx.Delete(&models.OutboxJob{}, "id = ?", existing.ID).Error; err != nil {
						return err
					}
				case !errors.Is(err, gorm.ErrRecordNotFound):
					return err
				}
			}
			if err := tx.Model(&models.OutboxJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
				"draft_id":   newDraftID,
				"key":        newKey,
				"updated_at": utils.Now(),
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to rekey jobs of %s: %w", oldDraftID, err)
	}
	return nil
}

func (q *postgresJobQueue) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "postgresJobQueue.RecoverStale")
	defer span.Finish()
	tracing.TagComponentQueue(span)

	recovered := 0
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []models.OutboxJob
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("state = ? AND leased_at < ?", enum.JobStateRunning, cutoff).
			Find(&stale).Error; err != nil {
			return err
		}
		for _, job := range stale {
			var queued int64
			if err := tx.Model(&models.OutboxJob{}).Where("key = ? AND state = ?", job.Key, enum.JobStateQueued).Count(&queued).Error; err != nil {
				return err
			}
			var err error
			if queued > 0 {
				err = tx.Delete(&models.OutboxJob{}, "id = ?", job.ID).Error
			} else {
				now := utils.Now()
				err = tx.Model(&models.OutboxJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
					"state":      enum.JobStateQueued,
					"leased_at":  nil,
					"run_at":     now,
					"updated_at": now,
				}).Error
			}
			if err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	span.SetTag("recovered", recovered)
	return recovered, nil
}

func (q *postgresJobQueue) Get(ctx context.Context, key string) ([]*models.OutboxJob, error) {
	var jobs []*models.OutboxJob
	if err := q.db.WithContext(ctx).Where("key = ?", key).Order("run_at ASC, id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to get jobs %s: %w", key, err)
	}
	return jobs, nil
}

func (q *postgresJobQueue) List(ctx context.Context) ([]*models.OutboxJob, error) {
	var jobs []*models.OutboxJob
	if err := q.db.WithContext(ctx).Order("run_at ASC, id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (q *postgresJobQueue) Close() error {
	return nil
}
