package domain

import "errors"

// Classification is the error taxonomy from the failure/retry discipline:
// each classification maps to a retry policy in the scheduler package.
type Classification string

const (
	ClassTransientTransport Classification = "transient_transport"
	ClassTransientContention Classification = "transient_contention"
	ClassSerialization      Classification = "serialization"
	ClassValidation         Classification = "validation"
	ClassTimeout            Classification = "timeout"
	ClassCircuitOpen        Classification = "circuit_open"
	ClassFatal              Classification = "fatal"
)

// ClassifiedError carries a Classification alongside the underlying error so
// callers can dispatch retry behavior without string-matching error text.
type ClassifiedError struct {
	Class Classification
	Err   error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return string(e.Class) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err with the given classification.
func Classify(class Classification, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: err}
}

// ClassificationOf extracts the Classification from err, defaulting to
// ClassFatal when err carries no classification (an unclassified error is
// treated as unrecoverable rather than silently retried forever).
func ClassificationOf(err error) Classification {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassFatal
}

// API-surface errors (§4.1) — the only failures ever surfaced to callers of
// the Scheduling API; everything else is absorbed into internal retry.
var (
	ErrInvalidArg  = errors.New("invalid argument")
	ErrDuplicate   = errors.New("duplicate")
	ErrInvalidCron = errors.New("invalid cron expression")
	ErrUnknownTZ   = errors.New("unknown timezone")
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
)
