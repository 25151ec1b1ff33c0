package store

import (
	"errors"
	"fmt"

	"github.com/palantir/lead-enrichment-pipeline/internal/util"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// PersistenceError reports a failed store operation. Error returns a short
// description safe to show to API clients; the cause stays reachable through
// Unwrap for logs.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return e.Op + " failed"
	}
	return fmt.Sprintf("%s failed: %s", e.Op, util.RedactSecrets(rootMessage(e.Err)))
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err and a *PersistenceError otherwise.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// FilterValidationError reports malformed query parameters.
type FilterValidationError struct {
	Field  string
	Reason string
}

func (e *FilterValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
