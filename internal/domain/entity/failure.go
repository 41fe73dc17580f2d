package entity

import (
	"errors"
	"fmt"
)

// FailureKind decides whether the retry machinery redrives an event or parks
// it in the dead-letter queue immediately.
type FailureKind string

const (
	// FailurePermanent marks failures that cannot succeed on redelivery
	// (unsupported format, empty frame set). Never retried.
	FailurePermanent FailureKind = "permanent"

	// FailureTransient marks failures worth redriving (I/O timeouts, store
	// unavailability, budget exhaustion).
	FailureTransient FailureKind = "transient"
)

// PipelineError carries the retry classification alongside the cause.
type PipelineError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func Permanentf(op, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: FailurePermanent, Op: op, Err: fmt.Errorf(format, args...)}
}

func Transientf(op, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: FailureTransient, Op: op, Err: fmt.Errorf(format, args...)}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(op string, err error) *PipelineError {
	return &PipelineError{Kind: FailurePermanent, Op: op, Err: err}
}

// Transient wraps err as a retryable failure.
func Transient(op string, err error) *PipelineError {
	return &PipelineError{Kind: FailureTransient, Op: op, Err: err}
}

// Classify maps an arbitrary error to its failure kind. Unclassified errors
// count as transient, which covers context expiry from the event budget:
// retrying a hopeless event wastes attempts, but dropping a recoverable one
// loses data.
func Classify(err error) FailureKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return FailureTransient
}

// IsPermanent reports whether err is classified as a permanent failure.
func IsPermanent(err error) bool {
	return Classify(err) == FailurePermanent
}
