package models

import (
	"time"
)

// Status enumerates lifecycle states persisted for a transcription job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions may follow s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition enforces the forward-only state machine edges.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Job is the persisted record of one transcription request.
type Job struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	AudioFileURL string    `json:"audio_file_url"`
	WebhookURL   *string   `json:"webhook_url,omitempty"`
	Result       *string   `json:"result,omitempty"`
	Error        *string   `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewJob collects the caller-supplied fields of a job creation.
type NewJob struct {
	AudioFileURL string
	WebhookURL   *string
}

// JobUpdate is a sparse update; nil fields are left untouched.
type JobUpdate struct {
	Status *Status
	Result *string
	Error  *string
}

// Apply returns a copy of j with the non-nil fields of u set.
func (u JobUpdate) Apply(j Job) Job {
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.Result != nil {
		j.Result = StringPtr(*u.Result)
	}
	if u.Error != nil {
		j.Error = StringPtr(*u.Error)
	}
	return j
}

// StringPtr returns a pointer to a copy of v.
func StringPtr(v string) *string {
	return &v
}

// StatusPtr returns a pointer to a copy of s.
func StatusPtr(s Status) *Status {
	return &s
}
