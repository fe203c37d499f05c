// Package faults classifies the failures that can end a transcription job.
package faults

import (
	"errors"
	"fmt"
)

// Kind names a category of failure.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindFetch         Kind = "fetch"
	KindTranscription Kind = "transcription"
	KindStorage       Kind = "storage"
	KindNotification  Kind = "notification"
)

// FallbackMessage is recorded on a job when the failure carries no known kind.
const FallbackMessage = "unexpected error while processing job"

// Error is a failure tagged with a kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds a kinded error from a message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost kinded error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind != "" {
		return fe.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Message converts err into the text stored on a failed job.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if _, ok := KindOf(err); ok {
		return err.Error()
	}
	return FallbackMessage
}
