// Package store persists transcription jobs. All implementations are safe for
// concurrent use and refuse to mutate a job once it reached a terminal state.
package store

import (
	"errors"
	"fmt"
	"time"

	"transcription-jobs/internal/faults"
	"transcription-jobs/internal/models"
)

var (
	// ErrNotFound is returned by updates addressed to an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrJobFinalized is returned when an update targets a completed or failed job.
	ErrJobFinalized = errors.New("job already finalized")
	// ErrInvalidTransition is returned for status changes outside the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidUpdate is returned when result or error do not match the target status.
	ErrInvalidUpdate = errors.New("invalid job update")
)

// checkUpdate validates u against the currently persisted record.
func checkUpdate(current models.Job, u models.JobUpdate) error {
	if current.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinalized, current.ID, current.Status)
	}
	if u.Status != nil && *u.Status != current.Status && !current.Status.CanTransition(*u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, *u.Status)
	}
	target := current.Status
	if u.Status != nil {
		target = *u.Status
	}
	if u.Result != nil && target != models.StatusCompleted {
		return fmt.Errorf("%w: result on a %s job", ErrInvalidUpdate, target)
	}
	if u.Error != nil && target != models.StatusFailed {
		return fmt.Errorf("%w: error on a %s job", ErrInvalidUpdate, target)
	}
	return nil
}

// nextUpdatedAt keeps updated_at strictly increasing even when the clock stalls.
func nextUpdatedAt(prev, now time.Time) time.Time {
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func storageErr(op string, err error) error {
	return faults.Wrap(faults.KindStorage, op, err)
}
