// Package memory implements the storage contract in process memory. Nothing
// survives a restart; the package exists as the reference implementation of
// the lock protocol and as a drop-in test double for callers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"pkt.systems/lockstore/storage"
)

// Config configures the in-memory store.
type Config struct {
	// AllowWipe gates the test-only Wipe operation.
	AllowWipe bool
}

// Store implements storage.Store in memory. The process-local mutex is this
// backend's atomic primitive; cross-process exclusion is meaningless here by
// construction.
type Store[T any, K comparable] struct {
	typ       storage.Type[T, K]
	allowWipe bool

	mu      sync.RWMutex
	records map[K]*record
	highest *K
}

type record struct {
	payload []byte
	saved   bool
	lock    *storage.Lock
}

// New returns a ready to use in-memory store for the item type.
func New[T any, K comparable](typ storage.Type[T, K], cfg Config) (*Store[T, K], error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	return &Store[T, K]{
		typ:       typ,
		allowWipe: cfg.AllowWipe,
		records:   make(map[K]*record),
	}, nil
}

// Create claims the next identifier from the highest-seen value, reserves it
// locked, and returns it.
func (s *Store[T, K]) Create(_ context.Context) (K, storage.Lock, error) {
	var zero K
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.typ.IDs.Generate(s.highest)
	if err != nil {
		return zero, storage.Lock{}, storage.NewBackendError("create", err)
	}
	if _, exists := s.records[id]; exists {
		return zero, storage.Lock{}, storage.NewBackendError("create",
			fmt.Errorf("generated id %q collides: %w", s.typ.IDs.Text(id), storage.ErrAlreadyExists))
	}
	lock := storage.NewLock(s.typ.IDs.Text(id))
	s.records[id] = &record{lock: &lock}
	s.advanceHighestLocked(id)
	return id, lock, nil
}

// LockNew reserves a caller-supplied identifier and locks it.
func (s *Store[T, K]) LockNew(_ context.Context, id K) (storage.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		return storage.Lock{}, storage.ErrAlreadyExists
	}
	lock := storage.NewLock(s.typ.IDs.Text(id))
	s.records[id] = &record{lock: &lock}
	s.advanceHighestLocked(id)
	return lock, nil
}

// Lock acquires the mutation right for an existing identifier.
func (s *Store[T, K]) Lock(_ context.Context, id K) (storage.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[id]
	if !exists {
		return storage.Lock{}, storage.ErrNotFound
	}
	if rec.lock != nil {
		return storage.Lock{}, storage.ErrAlreadyLocked
	}
	lock := storage.NewLock(s.typ.IDs.Text(id))
	rec.lock = &lock
	return lock, nil
}

// Unlock releases the lock when the presented token matches. Releasing an
// identifier that was never saved discards the reservation.
func (s *Store[T, K]) Unlock(_ context.Context, id K, lock storage.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[id]
	if !exists {
		return storage.ErrNotFound
	}
	if rec.lock == nil || rec.lock.Token != lock.Token {
		return storage.ErrInvalidLock
	}
	if !rec.saved {
		delete(s.records, id)
		return nil
	}
	rec.lock = nil
	return nil
}

// ForceUnlock clears any lock unconditionally. Like Unlock, it discards a
// reservation that was never saved.
func (s *Store[T, K]) ForceUnlock(_ context.Context, id K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[id]
	if !exists {
		return storage.ErrNotFound
	}
	if !rec.saved {
		delete(s.records, id)
		return nil
	}
	rec.lock = nil
	return nil
}

// VerifyLock reports whether lock is still the recorded owner of id.
func (s *Store[T, K]) VerifyLock(_ context.Context, id K, lock storage.Lock) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.records[id]
	if !exists {
		return false, nil
	}
	return rec.lock != nil && rec.lock.Token == lock.Token, nil
}

// Load decodes and returns the stored item. A reserved identifier with no
// saved payload yet reads as absent.
func (s *Store[T, K]) Load(_ context.Context, id K) (T, error) {
	var zero T
	s.mu.RLock()
	rec, exists := s.records[id]
	saved := exists && rec.saved
	var payload []byte
	if saved {
		payload = append([]byte(nil), rec.payload...)
	}
	s.mu.RUnlock()
	if !saved {
		return zero, storage.ErrNotFound
	}
	return s.typ.Codec.Decode(payload)
}

// Save persists the item while lock matches the recorded token. It does not
// unlock.
func (s *Store[T, K]) Save(_ context.Context, id K, lock storage.Lock, item T) error {
	payload, err := s.typ.Codec.Encode(item)
	if err != nil {
		return storage.NewBackendError("save: encode item", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[id]
	if !exists {
		return storage.ErrNotFound
	}
	if rec.lock == nil || rec.lock.Token != lock.Token {
		return storage.ErrInvalidLock
	}
	rec.payload = append([]byte(nil), payload...)
	rec.saved = true
	return nil
}

// Exists reports whether the identifier has been created or reserved.
func (s *Store[T, K]) Exists(_ context.Context, id K) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.records[id]
	return exists, nil
}

// ScanIDs visits every known identifier over a point-in-time snapshot.
func (s *Store[T, K]) ScanIDs(ctx context.Context, visit func(id K) error) error {
	s.mu.RLock()
	ids := make([]K, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// HighestSeenID returns the highest identifier generated so far.
func (s *Store[T, K]) HighestSeenID(_ context.Context) (K, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var zero K
	if s.highest == nil {
		return zero, false, nil
	}
	return *s.highest, true, nil
}

// DisplayLock renders the current lock state of id.
func (s *Store[T, K]) DisplayLock(_ context.Context, id K) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.records[id]
	if !exists {
		return "", storage.ErrNotFound
	}
	if rec.lock == nil {
		return "", nil
	}
	return rec.lock.String(), nil
}

// Wipe clears all records and metadata when enabled.
func (s *Store[T, K]) Wipe(_ context.Context) error {
	if !s.allowWipe {
		return storage.ErrWipeNotAllowed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[K]*record)
	s.highest = nil
	return nil
}

// Close satisfies storage.Store and requires no action for memory.
func (s *Store[T, K]) Close() error { return nil }

func (s *Store[T, K]) advanceHighestLocked(id K) {
	if s.highest == nil || s.typ.IDs.Compare(id, *s.highest) > 0 {
		value := id
		s.highest = &value
	}
}
