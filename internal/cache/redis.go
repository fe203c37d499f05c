package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"transcription-jobs/internal/models"
)

// Backend is the durable store behind the cache.
type Backend interface {
	CreateJob(ctx context.Context, p models.NewJob) (models.Job, error)
	UpdateJob(ctx context.Context, id string, u models.JobUpdate) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, bool, error)
}

// Store is a write-through Redis cache in front of a Backend. Redis failures
// never fail a call; the backend stays the source of truth.
type Store struct {
	backend Backend
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	log     logrus.FieldLogger
}

// New wraps backend with a cache using the given client.
func New(backend Backend, client redis.Cmdable, ttl time.Duration, log logrus.FieldLogger) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		backend: backend,
		client:  client,
		prefix:  "transcription:job:",
		ttl:     ttl,
		log:     log,
	}
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// CreateJob persists through the backend and primes the cache.
func (s *Store) CreateJob(ctx context.Context, p models.NewJob) (models.Job, error) {
	job, err := s.backend.CreateJob(ctx, p)
	if err != nil {
		return models.Job{}, err
	}
	s.put(ctx, job)
	return job, nil
}

// UpdateJob persists through the backend and refreshes the cached copy. When
// the backend rejects the update the cached copy is dropped.
func (s *Store) UpdateJob(ctx context.Context, id string, u models.JobUpdate) (models.Job, error) {
	job, err := s.backend.UpdateJob(ctx, id, u)
	if err != nil {
		s.evict(ctx, id)
		return models.Job{}, err
	}
	s.put(ctx, job)
	return job, nil
}

// GetJob serves from Redis when possible and falls back to the backend.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, bool, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	switch {
	case err == nil:
		var job models.Job
		if jsonErr := json.Unmarshal(raw, &job); jsonErr == nil {
			return job, true, nil
		}
		s.evict(ctx, id)
	case errors.Is(err, redis.Nil):
	default:
		s.log.WithError(err).WithField("job_id", id).Warn("job cache read failed")
	}

	job, found, err := s.backend.GetJob(ctx, id)
	if err != nil || !found {
		return job, found, err
	}
	s.fill(ctx, job)
	return job, true, nil
}

// fill caches a record read from the backend only if no write-through landed
// in the meantime, so an older read never replaces a newer update.
func (s *Store) fill(ctx context.Context, job models.Job) {
	raw, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := s.client.SetNX(ctx, s.key(job.ID), raw, s.ttl).Err(); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Warn("job cache fill failed")
	}
}

func (s *Store) put(ctx context.Context, job models.Job) {
	raw, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, s.key(job.ID), raw, s.ttl).Err(); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Warn("job cache write failed")
	}
}

func (s *Store) evict(ctx context.Context, id string) {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		s.log.WithError(err).WithField("job_id", id).Warn("job cache evict failed")
	}
}
