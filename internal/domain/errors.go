package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the public API; check with errors.Is.
var (
	// ErrUnknownSubsystem is returned when a payload names a subsystem that
	// is not in the configured subsystem list. The payload is dropped and
	// logged; reception of other subsystems continues.
	ErrUnknownSubsystem = errors.New("histoship: unknown subsystem")

	// ErrInvalidFilename is returned when a payload's filename is empty,
	// hidden, or contains path separators. The payload is rejected.
	ErrInvalidFilename = errors.New("histoship: invalid filename")

	// ErrReplayExhausted signals normal replay termination: the source run
	// directory has no remaining files. It is not a failure.
	ErrReplayExhausted = errors.New("histoship: replay source exhausted")

	// ErrAlreadyRunning is returned when Start is called on a running pipeline.
	ErrAlreadyRunning = errors.New("histoship: already running")

	// ErrNotRunning is returned when Stop is called on a stopped pipeline.
	ErrNotRunning = errors.New("histoship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("histoship: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("histoship: invalid configuration")
)

// TransportError wraps a retryable delivery failure: timeouts, refused
// connections, transient endpoint errors. Attempts are bounded by the
// configured retry limit.
type TransportError struct {
	Destination string
	Err         error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure to %s: %v", e.Destination, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ContentConflictError reports that a destination rejected a payload because
// the name already exists with different content. Retrying cannot succeed, so
// the pair is terminally failed without consuming the retry counter.
type ContentConflictError struct {
	Destination string
	Filename    string
	Reason      string
}

func (e *ContentConflictError) Error() string {
	return fmt.Sprintf("content conflict at %s for %s: %s", e.Destination, e.Filename, e.Reason)
}

// Retryable classifies a delivery error. Transport failures are retryable;
// content conflicts and anything else unclassified are not.
func Retryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Conflict reports whether err is a content conflict.
func Conflict(err error) bool {
	var ce *ContentConflictError
	return errors.As(err, &ce)
}
