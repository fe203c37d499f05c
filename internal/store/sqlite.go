package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"transcription-jobs/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transcription_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	audio_file_url TEXT NOT NULL,
	webhook_url TEXT,
	result TEXT,
	error TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcription_jobs_status ON transcription_jobs(status);
`

// SQLite persists jobs in a single database file. Timestamps are stored as
// unix microseconds.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and if needed creates) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateJob inserts a pending job.
func (s *SQLite) CreateJob(ctx context.Context, p models.NewJob) (models.Job, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	job := models.Job{
		ID:           uuid.New().String(),
		Status:       models.StatusPending,
		AudioFileURL: p.AudioFileURL,
		WebhookURL:   copyString(p.WebhookURL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcription_jobs (id, status, audio_file_url, webhook_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.ID, string(job.Status), job.AudioFileURL, nullString(job.WebhookURL), now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return models.Job{}, storageErr("insert job", err)
	}
	return job, nil
}

// UpdateJob applies a sparse update inside a transaction.
func (s *SQLite) UpdateJob(ctx context.Context, id string, u models.JobUpdate) (models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Job{}, storageErr("begin tx", err)
	}
	defer tx.Rollback()

	current, err := scanSQLiteJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM transcription_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, storageErr("update job", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if err != nil {
		return models.Job{}, storageErr("select job", err)
	}
	if err := checkUpdate(current, u); err != nil {
		return models.Job{}, storageErr("update job", err)
	}

	next := u.Apply(current)
	next.UpdatedAt = nextUpdatedAt(current.UpdatedAt, time.Now().UTC().Truncate(time.Microsecond))

	_, err = tx.ExecContext(ctx, `
		UPDATE transcription_jobs SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(next.Status), nullString(next.Result), nullString(next.Error), next.UpdatedAt.UnixMicro(), id)
	if err != nil {
		return models.Job{}, storageErr("update job", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Job{}, storageErr("commit", err)
	}
	return next, nil
}

// GetJob fetches a job by id. A missing row is not an error.
func (s *SQLite) GetJob(ctx context.Context, id string) (models.Job, bool, error) {
	job, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM transcription_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, storageErr("get job", err)
	}
	return job, true, nil
}

func scanSQLiteJob(row *sql.Row) (models.Job, error) {
	var job models.Job
	var status string
	var webhook, result, lastErr sql.NullString
	var created, updated int64
	if err := row.Scan(&job.ID, &status, &job.AudioFileURL, &webhook, &result, &lastErr, &created, &updated); err != nil {
		return models.Job{}, err
	}
	job.Status = models.Status(status)
	job.WebhookURL = nullPtr(webhook)
	job.Result = nullPtr(result)
	job.Error = nullPtr(lastErr)
	job.CreatedAt = time.UnixMicro(created).UTC()
	job.UpdatedAt = time.UnixMicro(updated).UTC()
	return job, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullPtr(v sql.NullString) *string {
	if v.Valid {
		return &v.String
	}
	return nil
}
