package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"transcription-jobs/internal/faults"
	"transcription-jobs/internal/models"
)

// Options configures webhook delivery.
type Options struct {
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Webhook POSTs the job record as JSON to the caller's URL, retrying
// transport errors, 429 and 5xx responses.
type Webhook struct {
	client *http.Client
	opts   Options
	log    logrus.FieldLogger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewWebhook builds a notifier. Zero options select defaults.
func NewWebhook(opts Options, log logrus.FieldLogger) *Webhook {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffInitial == 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Webhook{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		log:    log,
		sleep:  sleepCtx,
	}
}

// Notify delivers job to url.
func (w *Webhook) Notify(ctx context.Context, url string, job models.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return faults.Wrap(faults.KindNotification, "encode webhook payload", err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		retry, err := w.post(ctx, url, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == w.opts.MaxAttempts {
			break
		}

		wait := backoffWithJitter(w.opts.BackoffInitial, w.opts.BackoffMax, attempt)
		w.log.WithFields(logrus.Fields{
			"job_id":  job.ID,
			"attempt": attempt,
			"wait":    wait.String(),
		}).WithError(err).Warn("webhook delivery failed, retrying")
		if err := w.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	return faults.Wrap(faults.KindNotification, "deliver webhook", lastErr)
}

// post performs one delivery attempt and reports whether a failure is retryable.
func (w *Webhook) post(ctx context.Context, url string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "transcription-jobs-webhook/1")

	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook responded %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
