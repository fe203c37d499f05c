package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"transcription-jobs/internal/faults"
	"transcription-jobs/internal/models"
)

type jobStore interface {
	CreateJob(ctx context.Context, p models.NewJob) (models.Job, error)
	UpdateJob(ctx context.Context, id string, u models.JobUpdate) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, bool, error)
}

func newSQLiteForTest(t *testing.T) *SQLite {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func forEachStore(t *testing.T, fn func(t *testing.T, st jobStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteForTest(t)) })
}

func TestCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, st jobStore) {
		ctx := context.Background()
		hook := "https://hooks.example.com/done"
		created, err := st.CreateJob(ctx, models.NewJob{AudioFileURL: "https://example.com/a.mp3", WebhookURL: &hook})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if created.ID == "" || created.Status != models.StatusPending {
			t.Fatalf("unexpected created job: %+v", created)
		}
		if !created.CreatedAt.Equal(created.UpdatedAt) {
			t.Fatalf("expected created_at == updated_at on creation")
		}

		got, found, err := st.GetJob(ctx, created.ID)
		if err != nil || !found {
			t.Fatalf("get: found=%v err=%v", found, err)
		}
		if got.AudioFileURL != created.AudioFileURL || got.WebhookURL == nil || *got.WebhookURL != hook {
			t.Fatalf("record mismatch: %+v", got)
		}
		if got.Result != nil || got.Error != nil {
			t.Fatalf("pending job must not carry result or error")
		}
		if !got.CreatedAt.Equal(created.CreatedAt) {
			t.Fatalf("created_at changed: %s vs %s", got.CreatedAt, created.CreatedAt)
		}
	})
}

func TestGetUnknown(t *testing.T) {
	forEachStore(t, func(t *testing.T, st jobStore) {
		_, found, err := st.GetJob(context.Background(), "missing")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if found {
			t.Fatalf("expected not found")
		}
	})
}

func TestUpdateLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, st jobStore) {
		ctx := context.Background()
		job, err := st.CreateJob(ctx, models.NewJob{AudioFileURL: "https://example.com/a.mp3"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		processing, err := st.UpdateJob(ctx, job.ID, models.JobUpdate{Status: models.StatusPtr(models.StatusProcessing)})
		if err != nil {
			t.Fatalf("to processing: %v", err)
		}
		if !processing.UpdatedAt.After(job.UpdatedAt) {
			t.Fatalf("updated_at must increase: %s -> %s", job.UpdatedAt, processing.UpdatedAt)
		}

		done, err := st.UpdateJob(ctx, job.ID, models.JobUpdate{
			Status: models.StatusPtr(models.StatusCompleted),
			Result: models.StringPtr("hello"),
		})
		if err != nil {
			t.Fatalf("to completed: %v", err)
		}
		if done.Result == nil || *done.Result != "hello" || done.Error != nil {
			t.Fatalf("unexpected completed record: %+v", done)
		}
		if !done.UpdatedAt.After(processing.UpdatedAt) {
			t.Fatalf("updated_at must increase on every mutation")
		}
		if !done.CreatedAt.Equal(job.CreatedAt) {
			t.Fatalf("created_at must never change")
		}

		_, err = st.UpdateJob(ctx, job.ID, models.JobUpdate{
			Status: models.StatusPtr(models.StatusFailed),
			Error:  models.StringPtr("late failure"),
		})
		if !errors.Is(err, ErrJobFinalized) {
			t.Fatalf("expected ErrJobFinalized, got %v", err)
		}

		final, _, _ := st.GetJob(ctx, job.ID)
		if final.Status != models.StatusCompleted || final.Error != nil {
			t.Fatalf("terminal record was mutated: %+v", final)
		}
	})
}

func TestUpdateRejectsBackwardTransition(t *testing.T) {
	forEachStore(t, func(t *testing.T, st jobStore) {
		ctx := context.Background()
		job, _ := st.CreateJob(ctx, models.NewJob{AudioFileURL: "https://example.com/a.mp3"})
		_, err := st.UpdateJob(ctx, job.ID, models.JobUpdate{Status: models.StatusPtr(models.StatusCompleted)})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestUpdateRejectsMismatchedFields(t *testing.T) {
	forEachStore(t, func(t *testing.T, st jobStore) {
		ctx := context.Background()
		job, _ := st.CreateJob(ctx, models.NewJob{AudioFileURL: "https://example.com/a.mp3"})
		if _, err := st.UpdateJob(ctx, job.ID, models.JobUpdate{Status: models.StatusPtr(models.StatusProcessing)}); err != nil {
			t.Fatalf("processing: %v", err)
		}

		text, msg := "hello", "boom"
		cases := []models.JobUpdate{
			{Status: models.StatusPtr(models.StatusCompleted), Result: &text, Error: &msg},
			{Status: models.StatusPtr(models.StatusFailed), Result: &text, Error: &msg},
			{Result: &text},
			{Error: &msg},
		}
		for i, u := range cases {
			if _, err := st.UpdateJob(ctx, job.ID, u); !errors.Is(err, ErrInvalidUpdate) {
				t.Fatalf("case %d: expected ErrInvalidUpdate, got %v", i, err)
			}
		}

		got, _, _ := st.GetJob(ctx, job.ID)
		if got.Status != models.StatusProcessing || got.Result != nil || got.Error != nil {
			t.Fatalf("rejected updates must not change the record: %+v", got)
		}
	})
}

func TestUpdateUnknown(t *testing.T) {
	forEachStore(t, func(t *testing.T, st jobStore) {
		_, err := st.UpdateJob(context.Background(), "missing", models.JobUpdate{Status: models.StatusPtr(models.StatusProcessing)})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if !faults.Is(err, faults.KindStorage) {
			t.Fatalf("expected storage kind, got %v", err)
		}
	})
}
