package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"transcription-jobs/internal/faults"
	"transcription-jobs/internal/models"
	"transcription-jobs/internal/ratelimit"
	"transcription-jobs/internal/telemetry"
)

const (
	defaultWait = 30 * time.Second
	maxWait     = 5 * time.Minute
)

// Jobs is the slice of the orchestrator the HTTP layer needs.
type Jobs interface {
	CreateJob(ctx context.Context, audioFileURL string, webhookURL *string) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, bool, error)
	WaitForJob(ctx context.Context, id string) error
}

// Limiter decides whether a tenant may create another job.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the transcription API.
type Server struct {
	jobs    Jobs
	limiter Limiter
	log     logrus.FieldLogger
}

// New constructs the API server. limiter may be nil.
func New(jobs Jobs, limiter Limiter, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{jobs: jobs, limiter: limiter, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreate)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/{id}/wait", s.handleWait)
	return r
}

type createRequest struct {
	AudioFileURL string  `json:"audio_file_url"`
	WebhookURL   *string `json:"webhook_url"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		tenant := tenantFromRequest(r)
		decision, err := s.limiter.Allow(r.Context(), tenant)
		if err != nil {
			s.log.WithError(err).WithField("tenant", tenant).Error("rate limiter unavailable")
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !decision.Allowed {
			telemetry.RateLimitRejects.Inc()
			secs := int(math.Ceil(decision.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	job, err := s.jobs.CreateJob(r.Context(), req.AudioFileURL, req.WebhookURL)
	if err != nil {
		if faults.Is(err, faults.KindValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.WithError(err).Error("create job")
		http.Error(w, "could not create job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	s.writeJob(w, r, chi.URLParam(r, "id"))
}

// handleWait blocks until the job's pipeline finishes or the wait budget
// (?timeout=, capped at five minutes) runs out, then returns the record.
// Clients tell the two apart by the job status.
func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	timeout := defaultWait
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "invalid timeout", http.StatusBadRequest)
			return
		}
		timeout = min(d, maxWait)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	if err := s.jobs.WaitForJob(ctx, id); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		// client went away
		return
	}
	s.writeJob(w, r, id)
}

func (s *Server) writeJob(w http.ResponseWriter, r *http.Request, id string) {
	job, ok, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		s.log.WithError(err).WithField("job_id", id).Error("get job")
		http.Error(w, "could not load job", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
