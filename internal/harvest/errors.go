package harvest

import (
	"errors"
	"fmt"
)

// Job-level terminal conditions.
var (
	// ErrProxyExhausted signals that no proxy identity is currently usable.
	ErrProxyExhausted = errors.New("no healthy proxy available")
	// ErrCircuitOpen signals the job's failure-rate breaker has tripped.
	ErrCircuitOpen = errors.New("failure circuit breaker open")
	// ErrJobNotFound is returned by job stores for unknown IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when mutating a finished job.
	ErrJobTerminal = errors.New("job already in a terminal state")
	// ErrQueueClosed is returned by queue implementations once shutdown has
	// begun; workers treat it as a signal to exit rather than a fault.
	ErrQueueClosed = errors.New("job queue closed")
)

// TransientError marks a failure worth retrying with backoff: timeouts,
// navigation errors, and detected soft-blocks.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return "transient: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transientf builds a TransientError with a formatted reason.
func Transientf(format string, args ...any) *TransientError {
	return &TransientError{Reason: fmt.Sprintf(format, args...)}
}

// WrapTransient wraps err as transient with a short reason.
func WrapTransient(reason string, err error) *TransientError {
	return &TransientError{Reason: reason, Err: err}
}

// PermanentError marks a failure that retrying cannot fix: not-found,
// confirmed removal, structurally absent content.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent: %s: %v", e.Reason, e.Err)
	}
	return "permanent: " + e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanentf builds a PermanentError with a formatted reason.
func Permanentf(format string, args ...any) *PermanentError {
	return &PermanentError{Reason: fmt.Sprintf(format, args...)}
}

// ExtractionError reports content that fetched fine but could not be
// parsed into an article. It is permanent for the candidate; RawRef keeps
// the archived snapshot reachable for offline diagnosis.
type ExtractionError struct {
	URL    string
	RawRef string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.RawRef != "" {
		return fmt.Sprintf("extraction failed for %s (raw %s): %v", e.URL, e.RawRef, e.Err)
	}
	return fmt.Sprintf("extraction failed for %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// DetectionError is a transient failure caused by an anti-automation
// response. It carries the marker that matched so operators can see what
// the platform served.
type DetectionError struct {
	Marker string
}

func (e *DetectionError) Error() string {
	return "soft-block detected: " + e.Marker
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var de *DetectionError
	return errors.As(err, &de)
}

// IsPermanent reports whether err is a non-retryable candidate failure.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	var xe *ExtractionError
	return errors.As(err, &xe)
}

// IsDetection reports whether err carries a soft-block signal.
func IsDetection(err error) bool {
	var de *DetectionError
	return errors.As(err, &de)
}
