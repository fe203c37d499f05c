package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"transcription-jobs/internal/cleanup"
	"transcription-jobs/internal/faults"
	"transcription-jobs/internal/models"
	"transcription-jobs/internal/telemetry"
)

// run is the per-job pipeline. Nothing it does is reported to the creator;
// every outcome ends on the job record or in the log.
type run struct {
	job models.Job
	log logrus.FieldLogger
	// settled is set once a terminal write has been attempted. Later
	// panics must not trigger another one.
	settled bool
}

func (o *Orchestrator) run(job models.Job, done func()) {
	defer done()
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	ctx := o.baseCtx
	r := &run{job: job, log: o.log.WithField("job_id", job.ID)}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithFields(logrus.Fields{
				"panic": fmt.Sprint(rec),
				"stack": string(debug.Stack()),
			}).Error("pipeline panicked")
			if !r.settled {
				o.fail(ctx, r, fmt.Errorf("panic: %v", rec))
			}
		}
	}()

	o.process(ctx, r)
}

func (o *Orchestrator) process(ctx context.Context, r *run) {
	processing, err := o.store.UpdateJob(ctx, r.job.ID, models.JobUpdate{Status: models.StatusPtr(models.StatusProcessing)})
	if err != nil {
		o.fail(ctx, r, kinded(faults.KindStorage, "mark processing", err))
		return
	}
	r.job = processing

	dir, err := o.mkdirTemp(o.tempDir, cleanup.WorkspacePrefix+"*")
	if err != nil {
		o.fail(ctx, r, faults.Wrap(faults.KindFetch, "create workspace", err))
		return
	}
	o.wsMu.Lock()
	o.workspaces[filepath.Base(dir)] = struct{}{}
	o.wsMu.Unlock()
	defer o.release(r, dir)

	localPath := filepath.Join(dir, "source"+audioExt(r.job.AudioFileURL))

	start := time.Now()
	err = o.fetcher.Fetch(ctx, r.job.AudioFileURL, localPath)
	telemetry.StageDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	if err != nil {
		o.fail(ctx, r, kinded(faults.KindFetch, "fetch audio", err))
		return
	}

	start = time.Now()
	text, err := o.transcriber.Transcribe(ctx, localPath)
	telemetry.StageDuration.WithLabelValues("transcribe").Observe(time.Since(start).Seconds())
	if err != nil {
		o.fail(ctx, r, kinded(faults.KindTranscription, "transcribe audio", err))
		return
	}

	completed, err := o.store.UpdateJob(ctx, r.job.ID, models.JobUpdate{
		Status: models.StatusPtr(models.StatusCompleted),
		Result: &text,
	})
	if err != nil {
		o.fail(ctx, r, kinded(faults.KindStorage, "save result", err))
		return
	}
	r.settled = true
	r.job = completed
	telemetry.JobsCompleted.Inc()
	r.log.WithField("chars", len(text)).Info("job completed")

	o.notify(ctx, r)
	o.publish(ctx, r)
}

// fail makes exactly one attempt to record cause on the job. If that write
// fails too the job stays non-terminal and only the log and the stuck
// counter know about it.
func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) {
	r.settled = true
	msg := faults.Message(cause)
	failed, err := o.store.UpdateJob(ctx, r.job.ID, models.JobUpdate{
		Status: models.StatusPtr(models.StatusFailed),
		Error:  &msg,
	})
	if err != nil {
		telemetry.JobsStuck.Inc()
		r.log.WithError(err).WithField("cause", cause.Error()).Error("could not record job failure, job left non-terminal")
		return
	}
	r.job = failed
	telemetry.JobsFailed.Inc()
	r.log.WithError(cause).Warn("job failed")
	o.publish(ctx, r)
}

// notify only fires for completed jobs that asked for it. Delivery problems
// are logged and never touch the record.
func (o *Orchestrator) notify(ctx context.Context, r *run) {
	if o.notifier == nil || r.job.WebhookURL == nil || r.job.Status != models.StatusCompleted {
		return
	}
	start := time.Now()
	err := o.notifier.Notify(ctx, *r.job.WebhookURL, r.job)
	telemetry.StageDuration.WithLabelValues("notify").Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.WebhookFailures.Inc()
		r.log.WithError(err).Warn("webhook delivery failed")
	}
}

func (o *Orchestrator) publish(ctx context.Context, r *run) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishCompletion(ctx, r.job); err != nil {
		r.log.WithError(err).Warn("completion event not published")
	}
}

func (o *Orchestrator) release(r *run, dir string) {
	if err := o.removeAll(dir); err != nil {
		r.log.WithError(err).WithField("dir", dir).Warn("workspace not removed")
	}
	o.wsMu.Lock()
	delete(o.workspaces, filepath.Base(dir))
	o.wsMu.Unlock()
}

// kinded keeps an existing classification and otherwise attributes err to
// the stage that returned it.
func kinded(kind faults.Kind, op string, err error) error {
	if _, ok := faults.KindOf(err); ok {
		return err
	}
	return faults.Wrap(kind, op, err)
}

// audioExt keeps the source extension so format-sniffing transcribers see it.
func audioExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, c := range ext[1:] {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return ""
		}
	}
	return ext
}
