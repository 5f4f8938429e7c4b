// Package storage defines the locked-storage contract shared by every
// backend: the Store operation set, the identifier Scheme and item Codec
// capabilities, the Lock ownership token, and the error taxonomy.
//
// A Store serialises mutation of any single item through an explicit
// lock/unlock protocol. The backend, never the calling process, is the lock
// arbiter: each lock-state transition is one atomic backend operation
// (exclusive file creation on disk, a conditional write against an object
// store), so the protocol holds across independent processes with no central
// coordinator.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Scheme describes one identifier strategy for an item type. Identifiers are
// plain comparable values; the scheme carries the behaviour that in other
// languages would live on the identifier type itself: parsing, validation,
// generation and ordering.
//
// Generate must be side-effect-free with respect to storage. Callers supply
// the previous highest value themselves (nil means no identifier has been
// generated yet); sequential schemes return previous+1, random schemes ignore
// the hint, externally-sourced schemes reject generation outright.
type Scheme[K comparable] interface {
	// Parse converts the text form back into an identifier. Malformed input
	// fails with an error matching ErrInvalidFormat.
	Parse(text string) (K, error)
	// ValidFormat reports whether text would parse. Pure, no I/O, and it
	// agrees with Parse's success or failure.
	ValidFormat(text string) bool
	// Generate mints a new identifier. previous is the highest value seen so
	// far, or nil when none exists.
	Generate(previous *K) (K, error)
	// Text renders the identifier for storage keys and display.
	Text(id K) string
	// Compare orders identifiers: negative when a < b, zero when equal,
	// positive when a > b.
	Compare(a, b K) int
}

// Codec converts caller items to and from their stored byte form. The store
// never inspects payload contents; Encode and Decode are pure and perform no
// I/O. Decode failures surface as a DecodeError.
type Codec[T any] interface {
	Encode(item T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// Type binds an item type to its identifier scheme and byte codec. Name is
// the per-type namespace prefix inside the backend (directory on disk, key
// prefix in object storage); two backend instances pointed at the same
// namespace must share serialization expectations.
type Type[T any, K comparable] struct {
	Name  string
	IDs   Scheme[K]
	Codec Codec[T]
}

// Validate reports whether the descriptor is usable by a backend.
func (t Type[T, K]) Validate() error {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return fmt.Errorf("storage: type name required")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("storage: type name %q must not contain path separators", t.Name)
	}
	if t.IDs == nil {
		return fmt.Errorf("storage: type %q missing identifier scheme", name)
	}
	if t.Codec == nil {
		return fmt.Errorf("storage: type %q missing codec", name)
	}
	return nil
}

// Store is the backend-agnostic operation set over one item type. All
// operations are fallible and surface exactly one error kind from this
// package; none retries contention outcomes (ErrAlreadyLocked,
// ErrInvalidLock, ErrAlreadyExists) on the caller's behalf.
type Store[T any, K comparable] interface {
	// Create allocates a fresh identifier (consulting the scheme and the
	// highest-seen metadata), reserves it, and returns it locked. The
	// identifier exists from this point on, before any Save. A reservation
	// collision on a freshly generated identifier is a generation bug and
	// surfaces as a BackendError, never a silent retry.
	Create(ctx context.Context) (K, Lock, error)

	// LockNew reserves a caller-supplied identifier and locks it. Fails with
	// ErrAlreadyExists when the identifier is already known to the backend,
	// whether saved or merely reserved.
	LockNew(ctx context.Context, id K) (Lock, error)

	// Lock acquires the mutation right for an existing identifier. Fails
	// with ErrAlreadyLocked while another token is outstanding and
	// ErrNotFound for unknown identifiers.
	Lock(ctx context.Context, id K) (Lock, error)

	// Unlock releases the lock if the presented token is the one currently
	// recorded. ErrInvalidLock on mismatch, ErrNotFound for unknown ids.
	// Releasing an identifier that was reserved but never saved discards the
	// reservation; the identifier reads as absent afterwards.
	Unlock(ctx context.Context, id K, lock Lock) error

	// ForceUnlock clears any lock unconditionally. Operator recovery for
	// locks abandoned by crashed holders; auditing is the caller's job.
	// A never-saved reservation is discarded, as with Unlock.
	ForceUnlock(ctx context.Context, id K) error

	// VerifyLock reports whether lock is still the currently recorded owner.
	// No state change; long-running holders use it to detect pre-emption by
	// a ForceUnlock before committing a Save.
	VerifyLock(ctx context.Context, id K, lock Lock) (bool, error)

	// Load returns the decoded item. No lock required; readers may observe
	// in-flight state. ErrNotFound when absent, DecodeError on corrupt bytes.
	Load(ctx context.Context, id K) (T, error)

	// Save persists the item only while lock matches the recorded token.
	// It does not unlock; multiple saves under one lock are allowed.
	Save(ctx context.Context, id K, lock Lock, item T) error

	// Exists reports whether the identifier has been created or reserved,
	// regardless of lock state.
	Exists(ctx context.Context, id K) (bool, error)

	// ScanIDs enumerates every known identifier exactly once, in
	// backend-defined order, calling visit for each. Backends with paginated
	// native listings carry continuation cursors internally. A non-nil error
	// from visit stops the scan and is returned as-is.
	ScanIDs(ctx context.Context, visit func(id K) error) error

	// HighestSeenID returns the highest identifier value ever generated for
	// this type. ok is false when none has been generated yet.
	HighestSeenID(ctx context.Context) (id K, ok bool, err error)

	// DisplayLock renders the current lock state for diagnostics. Empty
	// string when unlocked. Not part of the correctness contract.
	DisplayLock(ctx context.Context, id K) (string, error)

	// Wipe clears all items and metadata for this backend instance. Fails
	// with ErrWipeNotAllowed unless wiping was enabled at construction.
	Wipe(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// MetadataAttempts bounds the internal retry loop for the highest-seen
// metadata's read-modify-conditional-write cycle. Races on that record are
// benign and retried; exhaustion surfaces as a BackendError.
const MetadataAttempts = 5
