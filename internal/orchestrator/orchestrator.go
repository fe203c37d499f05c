// Package orchestrator owns the lifecycle of transcription jobs: it creates
// them, drives each one through download, transcription, persistence and
// notification on its own goroutine, and lets callers wait for completion.
package orchestrator

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"transcription-jobs/internal/faults"
	"transcription-jobs/internal/models"
	"transcription-jobs/internal/telemetry"
)

// Store persists job records. Ids, timestamps and uniqueness belong to it.
type Store interface {
	CreateJob(ctx context.Context, p models.NewJob) (models.Job, error)
	UpdateJob(ctx context.Context, id string, u models.JobUpdate) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, bool, error)
}

// Fetcher retrieves the audio at url into localPath, enforcing its own limits.
type Fetcher interface {
	Fetch(ctx context.Context, url, localPath string) error
}

// Transcriber converts a local audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, localPath string) (string, error)
}

// Notifier delivers a job snapshot to a caller-supplied endpoint.
type Notifier interface {
	Notify(ctx context.Context, url string, job models.Job) error
}

// EventPublisher announces terminal jobs to downstream consumers.
type EventPublisher interface {
	PublishCompletion(ctx context.Context, job models.Job) error
}

// Orchestrator is safe for concurrent use. Multiple instances never share
// in-flight state unless given the same Tracker.
type Orchestrator struct {
	store       Store
	fetcher     Fetcher
	transcriber Transcriber
	notifier    Notifier
	events      EventPublisher
	tracker     *Tracker
	log         logrus.FieldLogger
	baseCtx     context.Context

	tempDir   string
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error

	// workspaces holds the base names of directories owned by running pipelines.
	wsMu       sync.Mutex
	workspaces map[string]struct{}
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithTracker injects the in-flight tracker.
func WithTracker(t *Tracker) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracker = t
		}
	}
}

// WithLogger sets the logger used for pipeline diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithEvents publishes completion events for every terminal job.
func WithEvents(p EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithTempDir sets the parent directory of per-job workspaces.
func WithTempDir(dir string) Option {
	return func(o *Orchestrator) { o.tempDir = dir }
}

// New wires an orchestrator around its collaborators.
func New(st Store, f Fetcher, tr Transcriber, n Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       st,
		fetcher:     f,
		transcriber: tr,
		notifier:    n,
		tracker:     NewTracker(),
		log:         logrus.StandardLogger(),
		baseCtx:     context.Background(),
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		workspaces:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateJob persists a pending job, starts its pipeline in the background and
// returns the record as created. Only validation and storage failures are
// returned; everything after that lands on the job record.
func (o *Orchestrator) CreateJob(ctx context.Context, audioFileURL string, webhookURL *string) (models.Job, error) {
	audioFileURL = strings.TrimSpace(audioFileURL)
	if err := validateAudioURL(audioFileURL); err != nil {
		return models.Job{}, err
	}
	webhookURL, err := normalizeWebhook(webhookURL)
	if err != nil {
		return models.Job{}, err
	}

	job, err := o.store.CreateJob(ctx, models.NewJob{AudioFileURL: audioFileURL, WebhookURL: webhookURL})
	if err != nil {
		return models.Job{}, err
	}
	telemetry.JobsCreated.Inc()

	done := o.tracker.Track(job.ID)
	go o.run(job, done)

	o.log.WithFields(logrus.Fields{"job_id": job.ID, "webhook": webhookURL != nil}).Info("job created")
	return job, nil
}

// GetJob returns the persisted record, or found=false for an unknown id.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (models.Job, bool, error) {
	return o.store.GetJob(ctx, id)
}

// WaitForJob blocks until the pipeline for id has finished. It returns
// immediately for ids with no running pipeline and never reports the job's
// own failure; read the record afterwards. A non-nil error means ctx ended
// first.
func (o *Orchestrator) WaitForJob(ctx context.Context, id string) error {
	return o.tracker.Wait(ctx, id)
}

// Shutdown waits for every running pipeline. Pipelines are not interrupted.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.tracker.WaitAll(ctx)
}

// InFlight returns the number of running pipelines.
func (o *Orchestrator) InFlight() int {
	return o.tracker.Len()
}

// WorkspaceInUse reports whether dir is the workspace of a running pipeline.
func (o *Orchestrator) WorkspaceInUse(dir string) bool {
	o.wsMu.Lock()
	defer o.wsMu.Unlock()
	_, ok := o.workspaces[filepath.Base(dir)]
	return ok
}

func validateAudioURL(raw string) error {
	if raw == "" {
		return faults.New(faults.KindValidation, "create job", "audio_file_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return faults.Newf(faults.KindValidation, "create job", "audio_file_url must be an absolute url, got %q", raw)
	}
	return nil
}

func normalizeWebhook(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" {
		return nil, nil
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, faults.Newf(faults.KindValidation, "create job", "webhook_url must be an absolute http(s) url, got %q", v)
	}
	return &v, nil
}
