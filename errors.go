package jsonindex

import (
	"errors"
	"fmt"

	"github.com/hupe1980/jsonindex/engine"
	"github.com/hupe1980/jsonindex/lease"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("jsonindex: closed")

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("jsonindex: not found")

	// ErrUnknownArea is returned for changes to an area the index does not serve.
	ErrUnknownArea = errors.New("jsonindex: unknown area")

	// ErrInvalidDocument is returned when a document cannot be mapped.
	ErrInvalidDocument = errors.New("jsonindex: invalid document")

	// ErrRetry is returned when an operation raced with a restore or close of
	// the writer. Retrying is safe.
	ErrRetry = errors.New("jsonindex: writer was replaced, retry")

	// ErrRunning is returned when a Manager is started twice.
	ErrRunning = errors.New("jsonindex: manager already running")
)

// translateError maps errors of the component packages onto the package
// sentinels, keeping the original in the chain.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, lease.ErrExpired), errors.Is(err, lease.ErrTerminated):
		return fmt.Errorf("%w: %w", ErrRetry, err)
	}
	return err
}

// IsRetryable reports whether err signals a race with a writer replacement.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetry) ||
		errors.Is(err, lease.ErrExpired) ||
		errors.Is(err, lease.ErrTerminated) ||
		errors.Is(err, engine.ErrClosed)
}
