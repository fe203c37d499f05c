package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"transcription-jobs/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const jobColumns = `id, status, audio_file_url, webhook_url, result, error, created_at, updated_at`

// Postgres wraps pgxpool for job persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in name order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// CreateJob inserts a pending job row and returns it as persisted.
func (s *Postgres) CreateJob(ctx context.Context, p models.NewJob) (models.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC().Truncate(time.Microsecond)

	row := s.pool.QueryRow(ctx, `
		INSERT INTO transcription_jobs (id, status, audio_file_url, webhook_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING `+jobColumns, id, string(models.StatusPending), p.AudioFileURL, p.WebhookURL, now)
	job, err := scanPgJob(row)
	if err != nil {
		return models.Job{}, storageErr("insert job", err)
	}
	return job, nil
}

// UpdateJob applies a sparse update under a row lock so the terminal check and
// the write are atomic.
func (s *Postgres) UpdateJob(ctx context.Context, id string, u models.JobUpdate) (models.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	current, err := scanPgJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM transcription_jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, storageErr("update job", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if err != nil {
		return models.Job{}, storageErr("select job", err)
	}
	if err := checkUpdate(current, u); err != nil {
		return models.Job{}, storageErr("update job", err)
	}

	var status *string
	if u.Status != nil {
		v := string(*u.Status)
		status = &v
	}
	updatedAt := nextUpdatedAt(current.UpdatedAt, time.Now().UTC().Truncate(time.Microsecond))

	job, err := scanPgJob(tx.QueryRow(ctx, `
		UPDATE transcription_jobs
		SET status = COALESCE($2, status),
		    result = COALESCE($3, result),
		    error = COALESCE($4, error),
		    updated_at = $5
		WHERE id = $1
		RETURNING `+jobColumns, id, status, u.Result, u.Error, updatedAt))
	if err != nil {
		return models.Job{}, storageErr("update job", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, storageErr("commit", err)
	}
	return job, nil
}

// GetJob fetches a job by id. A missing row is not an error.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, bool, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM transcription_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, storageErr("get job", err)
	}
	return job, true, nil
}

func scanPgJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var status string
	var webhook, result, lastErr pgtype.Text
	if err := row.Scan(&job.ID, &status, &job.AudioFileURL, &webhook, &result, &lastErr, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, err
	}
	job.Status = models.Status(status)
	job.WebhookURL = textPtr(webhook)
	job.Result = textPtr(result)
	job.Error = textPtr(lastErr)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
