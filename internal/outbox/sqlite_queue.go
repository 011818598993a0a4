package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/utils"
)

type migration struct {
	version int
	sql     string
}

var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
		CREATE TABLE IF NOT EXISTS outbox_jobs (
			id                   TEXT PRIMARY KEY,
			key                  TEXT NOT NULL,
			kind                 TEXT NOT NULL,
			state                TEXT NOT NULL,
			owner_id             TEXT NOT NULL,
			draft_id             TEXT NOT NULL DEFAULT '',
			attachment_id        TEXT NOT NULL DEFAULT '',
			remote_attachment_id TEXT NOT NULL DEFAULT '',
			revision             INTEGER NOT NULL DEFAULT 0,
			attempt              INTEGER NOT NULL DEFAULT 0,
			run_at               INTEGER NOT NULL,
			leased_at            INTEGER,
			last_error           TEXT NOT NULL DEFAULT '',
			created_at           INTEGER NOT NULL,
			updated_at           INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_jobs_queued_key ON outbox_jobs(key) WHERE state = 'queued';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_jobs_running_key ON outbox_jobs(key) WHERE state = 'running';
		CREATE INDEX IF NOT EXISTS idx_outbox_jobs_due ON outbox_jobs(state, run_at);
		CREATE INDEX IF NOT EXISTS idx_outbox_jobs_draft ON outbox_jobs(draft_id);
		CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
		INSERT INTO schema_version (version) VALUES (1);`,
	},
}

// sqliteJobRow stores timestamps as unix nanoseconds so ordering is numeric.
type sqliteJobRow struct {
	ID                 string        `db:"id"`
	Key                string        `db:"key"`
	Kind               string        `db:"kind"`
	State              string        `db:"state"`
	OwnerID            string        `db:"owner_id"`
	DraftID            string        `db:"draft_id"`
	AttachmentID       string        `db:"attachment_id"`
	RemoteAttachmentID string        `db:"remote_attachment_id"`
	Revision           int64         `db:"revision"`
	Attempt            int           `db:"attempt"`
	RunAt              int64         `db:"run_at"`
	LeasedAt           sql.NullInt64 `db:"leased_at"`
	LastError          string        `db:"last_error"`
	CreatedAt          int64         `db:"created_at"`
	UpdatedAt          int64         `db:"updated_at"`
}

func toRow(j *models.OutboxJob) sqliteJobRow {
	row := sqliteJobRow{
		ID:                 j.ID,
		Key:                j.Key,
		Kind:               j.Kind.String(),
		State:              j.State.String(),
		OwnerID:            j.OwnerID,
		DraftID:            j.DraftID,
		AttachmentID:       j.AttachmentID,
		RemoteAttachmentID: j.RemoteAttachmentID,
		Revision:           j.Revision,
		Attempt:            j.Attempt,
		RunAt:              j.RunAt.UnixNano(),
		LastError:          j.LastError,
		CreatedAt:          j.CreatedAt.UnixNano(),
		UpdatedAt:          j.UpdatedAt.UnixNano(),
	}
	if j.LeasedAt != nil {
		row.LeasedAt = sql.NullInt64{Int64: j.LeasedAt.UnixNano(), Valid: true}
	}
	return row
}

func (r sqliteJobRow) toJob() *models.OutboxJob {
	j := &models.OutboxJob{
		ID:                 r.ID,
		Key:                r.Key,
		Kind:               enum.JobKind(r.Kind),
		State:              enum.JobState(r.State),
		OwnerID:            r.OwnerID,
		DraftID:            r.DraftID,
		AttachmentID:       r.AttachmentID,
		RemoteAttachmentID: r.RemoteAttachmentID,
		Revision:           r.Revision,
		Attempt:            r.Attempt,
		RunAt:              time.Unix(0, r.RunAt).UTC(),
		LastError:          r.LastError,
		CreatedAt:          time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:          time.Unix(0, r.UpdatedAt).UTC(),
	}
	if r.LeasedAt.Valid {
		j.LeasedAt = utils.TimePtr(time.Unix(0, r.LeasedAt.Int64).UTC())
	}
	return j
}

const sqliteJobColumns = `id, key, kind, state, owner_id, draft_id, attachment_id, remote_attachment_id,
	revision, attempt, run_at, leased_at, last_error, created_at, updated_at`

const sqliteInsertJob = `INSERT INTO outbox_jobs (` + sqliteJobColumns + `) VALUES (
	:id, :key, :kind, :state, :owner_id, :draft_id, :attachment_id, :remote_attachment_id,
	:revision, :attempt, :run_at, :leased_at, :last_error, :created_at, :updated_at)`

type sqliteJobQueue struct {
	db *sqlx.DB
}

// NewSQLiteJobQueue opens (or creates) the queue database at dbPath.
func NewSQLiteJobQueue(dbPath string) (interfaces.JobQueue, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, draftsyncerrors.ErrInvalidInput
	}
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite queue: %w", err)
	}
	// one connection serializes transactions and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	q := &sqliteJobQueue{db: db}
	if err := q.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return q, nil
}

func (q *sqliteJobQueue) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := q.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := q.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := q.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (q *sqliteJobQueue) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (q *sqliteJobQueue) EnqueueUnique(ctx context.Context, job *models.OutboxJob) error {
	if err := validateJob(job); err != nil {
		return err
	}
	job.Prepare()
	job.State = enum.JobStateQueued
	job.LeasedAt = nil

	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM outbox_jobs WHERE key = ? AND state = 'queued'", job.Key); err != nil {
			return fmt.Errorf("replacing queued job %s: %w", job.Key, err)
		}
		if _, err := tx.NamedExecContext(ctx, sqliteInsertJob, toRow(job)); err != nil {
			return fmt.Errorf("inserting job %s: %w", job.Key, err)
		}
		return nil
	})
}

func (q *sqliteJobQueue) Dequeue(ctx context.Context, now time.Time) (*models.OutboxJob, error) {
	var leased *models.OutboxJob
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		var row sqliteJobRow
		err := tx.GetContext(ctx, &row, `
			SELECT `+sqliteJobColumns+` FROM outbox_jobs j
			WHERE j.state = 'queued' AND j.run_at <= ?
			  AND NOT EXISTS (SELECT 1 FROM outbox_jobs r WHERE r.key = j.key AND r.state = 'running')
			ORDER BY j.run_at, j.created_at
			LIMIT 1`, now.UnixNano())
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("selecting next job: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE outbox_jobs SET state = 'running', leased_at = ?, attempt = attempt + 1, updated_at = ?
			WHERE id = ?`, now.UnixNano(), now.UnixNano(), row.ID)
		if err != nil {
			return fmt.Errorf("leasing job %s: %w", row.ID, err)
		}
		leased = row.toJob()
		leased.State = enum.JobStateRunning
		leased.LeasedAt = utils.TimePtr(now)
		leased.Attempt++
		leased.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

func (q *sqliteJobQueue) Complete(ctx context.Context, job *models.OutboxJob) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM outbox_jobs WHERE id = ?", job.ID); err != nil {
		return fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return nil
}

func (q *sqliteJobQueue) Reschedule(ctx context.Context, job *models.OutboxJob, runAt time.Time, lastError string) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		var key string
		if err := tx.GetContext(ctx, &key, "SELECT key FROM outbox_jobs WHERE id = ?", job.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("loading job %s: %w", job.ID, err)
		}
		var newer int
		if err := tx.GetContext(ctx, &newer,
			"SELECT COUNT(*) FROM outbox_jobs WHERE key = ? AND state = 'queued' AND id <> ?", key, job.ID); err != nil {
			return fmt.Errorf("checking superseding job: %w", err)
		}
		if newer > 0 {
			_, err := tx.ExecContext(ctx, "DELETE FROM outbox_jobs WHERE id = ?", job.ID)
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE outbox_jobs SET state = 'queued', attempt = ?, run_at = ?, leased_at = NULL, last_error = ?, updated_at = ?
			WHERE id = ?`, job.Attempt, runAt.UnixNano(), lastError, utils.Now().UnixNano(), job.ID)
		return err
	})
}

func (q *sqliteJobQueue) Cancel(ctx context.Context, key string) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM outbox_jobs WHERE key = ? AND state = 'queued'", key); err != nil {
		return fmt.Errorf("cancelling job %s: %w", key, err)
	}
	return nil
}

func (q *sqliteJobQueue) Rekey(ctx context.Context, oldDraftID, newDraftID string) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []sqliteJobRow
		if err := tx.SelectContext(ctx, &rows,
			"SELECT "+sqliteJobColumns+" FROM outbox_jobs WHERE draft_id = ?", oldDraftID); err != nil {
			return fmt.Errorf("loading jobs of %s: %w", oldDraftID, err)
		}
		for _, row := range rows {
			job := row.toJob()
			job.DraftID = newDraftID
			newKey := models.JobKey(job.Kind, job.Target())

			if job.State == enum.JobStateQueued {
				var existing sqliteJobRow
				err := tx.GetContext(ctx, &existing,
					"SELECT "+sqliteJobColumns+" FROM outbox_jobs WHERE key = ? AND state = 'queued' AND id <> ?", newKey, job.ID)
				switch {
				case err == nil && existing.CreatedAt > row.CreatedAt:
					if _, err := tx.ExecContext(ctx, "DELETE FROM outbox_jobs WHERE id = ?", job.ID); err != nil {
						return err
					}
					continue
				case err == nil:
					if _, err := tx.ExecContext(ctx, "DELETE FROM outbox_jobs WHERE id = ?", existing.ID); err != nil {
						return err
					}
				case !errors.Is(err, sql.ErrNoRows):
					return err
				}
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE outbox_jobs SET draft_id = ?, key = ?, updated_at = ? WHERE id = ?",
				newDraftID, newKey, utils.Now().UnixNano(), job.ID); err != nil {
				return fmt.Errorf("rekeying job %s: %w", job.ID, err)
			}
		}
		return nil
	})
}

func (q *sqliteJobQueue) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	recovered := 0
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []sqliteJobRow
		if err := tx.SelectContext(ctx, &rows,
			"SELECT "+sqliteJobColumns+" FROM outbox_jobs WHERE state = 'running' AND leased_at < ?", cutoff.UnixNano()); err != nil {
			return fmt.Errorf("loading stale jobs: %w", err)
		}
		now := utils.Now().UnixNano()
		for _, row := range rows {
			var queued int
			if err := tx.GetContext(ctx, &queued,
				"SELECT COUNT(*) FROM outbox_jobs WHERE key = ? AND state = 'queued'", row.Key); err != nil {
				return err
			}
			var err error
			if queued > 0 {
				_, err = tx.ExecContext(ctx, "DELETE FROM outbox_jobs WHERE id = ?", row.ID)
			} else {
				_, err = tx.ExecContext(ctx,
					"UPDATE outbox_jobs SET state = 'queued', leased_at = NULL, run_at = ?, updated_at = ? WHERE id = ?",
					now, now, row.ID)
			}
			if err != nil {
				return fmt.Errorf("recovering job %s: %w", row.ID, err)
			}
			recovered++
		}
		return nil
	})
	return recovered, err
}

func (q *sqliteJobQueue) Get(ctx context.Context, key string) ([]*models.OutboxJob, error) {
	return q.selectJobs(ctx, "SELECT "+sqliteJobColumns+" FROM outbox_jobs WHERE key = ? ORDER BY run_at, id", key)
}

func (q *sqliteJobQueue) List(ctx context.Context) ([]*models.OutboxJob, error) {
	return q.selectJobs(ctx, "SELECT "+sqliteJobColumns+" FROM outbox_jobs ORDER BY run_at, id")
}

func (q *sqliteJobQueue) selectJobs(ctx context.Context, query string, args ...interface{}) ([]*models.OutboxJob, error) {
	var rows []sqliteJobRow
	if err := q.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	jobs := make([]*models.OutboxJob, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toJob())
	}
	return jobs, nil
}

func (q *sqliteJobQueue) Close() error {
	return q.db.Close()
}
