package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"transcription-jobs/internal/models"
)

// CompletionEvent is published once per job when it reaches a terminal state.
type CompletionEvent struct {
	JobID       string        `json:"job_id"`
	Status      models.Status `json:"status"`
	Result      *string       `json:"result,omitempty"`
	Error       *string       `json:"error,omitempty"`
	CompletedAt int64         `json:"completed_at"`
}

// NewCompletionEvent builds the event for a terminal job record.
func NewCompletionEvent(job models.Job) CompletionEvent {
	completedAt := job.UpdatedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	return CompletionEvent{
		JobID:       job.ID,
		Status:      job.Status,
		Result:      job.Result,
		Error:       job.Error,
		CompletedAt: completedAt.Unix(),
	}
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher sends completion events to a NATS subject.
type NATSPublisher struct {
	conn    publisher
	subject string
	closeFn func()
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("transcription-jobs"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: nc, subject: subject, closeFn: nc.Close}, nil
}

// PublishCompletion encodes and publishes the event for job.
func (p *NATSPublisher) PublishCompletion(_ context.Context, job models.Job) error {
	data, err := json.Marshal(NewCompletionEvent(job))
	if err != nil {
		return fmt.Errorf("encode completion event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish completion event: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.closeFn != nil {
		p.closeFn()
	}
}
