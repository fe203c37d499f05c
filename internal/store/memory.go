package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"transcription-jobs/internal/models"
)

// Memory keeps jobs in process memory. It backs the CLI and tests.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
	now  func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]models.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a pending job with a fresh id.
func (m *Memory) CreateJob(_ context.Context, p models.NewJob) (models.Job, error) {
	now := m.now().Truncate(time.Microsecond)
	job := models.Job{
		ID:           uuid.New().String(),
		Status:       models.StatusPending,
		AudioFileURL: p.AudioFileURL,
		WebhookURL:   copyString(p.WebhookURL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	return cloneJob(job), nil
}

// UpdateJob applies a sparse update to an existing, non-terminal job.
func (m *Memory) UpdateJob(_ context.Context, id string, u models.JobUpdate) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.jobs[id]
	if !ok {
		return models.Job{}, storageErr("update job", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if err := checkUpdate(current, u); err != nil {
		return models.Job{}, storageErr("update job", err)
	}

	next := u.Apply(current)
	next.UpdatedAt = nextUpdatedAt(current.UpdatedAt, m.now().Truncate(time.Microsecond))
	m.jobs[id] = next
	return cloneJob(next), nil
}

// GetJob returns the job if it exists.
func (m *Memory) GetJob(_ context.Context, id string) (models.Job, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, false, nil
	}
	return cloneJob(job), true, nil
}

func cloneJob(j models.Job) models.Job {
	j.WebhookURL = copyString(j.WebhookURL)
	j.Result = copyString(j.Result)
	j.Error = copyString(j.Error)
	return j
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
