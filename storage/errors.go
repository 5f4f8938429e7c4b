package storage

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by every Store operation. Backends map their native
// failure modes onto exactly one of these.
var (
	// ErrNotFound indicates the identifier is unknown to the backend.
	ErrNotFound = errors.New("lockstore: not found")
	// ErrAlreadyExists indicates origination of an identifier that is
	// already present, saved or reserved.
	ErrAlreadyExists = errors.New("lockstore: already exists")
	// ErrAlreadyLocked indicates another lock token is outstanding.
	ErrAlreadyLocked = errors.New("lockstore: already locked")
	// ErrInvalidLock indicates the presented token does not match the
	// currently recorded lock.
	ErrInvalidLock = errors.New("lockstore: invalid lock")
	// ErrInvalidFormat indicates identifier text that does not parse.
	ErrInvalidFormat = errors.New("lockstore: invalid identifier format")
	// ErrWipeNotAllowed indicates Wipe was called on a store constructed
	// without AllowWipe.
	ErrWipeNotAllowed = errors.New("lockstore: wipe not allowed")
	// ErrCASMismatch is the backends' internal conditional-write failure.
	// Store operations translate it into a domain error (ErrAlreadyLocked,
	// ErrInvalidLock, ErrAlreadyExists) before it reaches callers; it leaks
	// only through BackendError causes.
	ErrCASMismatch = errors.New("lockstore: cas mismatch")
)

// DecodeError wraps a codec failure on stored bytes.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("lockstore: decode item: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// BackendError wraps an I/O or service failure with the operation that hit it.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("lockstore: %s: %v", e.Op, e.Err) }
func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError wraps err for op, passing nil through.
func NewBackendError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Err: err}
}

type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// NewTransientError marks err as retryable for the internal metadata retry
// loop. Contention outcomes are never marked transient.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked as retryable.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}
