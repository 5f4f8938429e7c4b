// Package disk implements the storage contract on a local or shared
// filesystem. Exclusive lock marker creation is the backend's atomic
// primitive and item writes go through temp files renamed into place.
package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"pkt.systems/lockstore/internal/loggingutil"
	"pkt.systems/lockstore/storage"
	"pkt.systems/pslog"
)

// Config captures the tunables for the disk backend.
type Config struct {
	// Root is the base directory. Items for the configured type live in a
	// subdirectory named after the type.
	Root string
	// AllowWipe gates the test-only Wipe operation.
	AllowWipe bool
}

// Store implements storage.Store backed by the local filesystem. Layout under
// the type directory:
//
//	items/<id>           encoded item payload
//	locks/<id>.lock      lock record, created with O_EXCL
//	metadata/highest.<n> highest identifier handed out, one file per generation
//	tmp/                 staging area for atomic renames
//
// The highest-seen value lives in a chain of generation files. Each update
// links a fully written temp file to the next generation number; the link
// fails when another writer claimed that generation first, which is the
// compare step of the conditional update. A crash mid-update leaves at most
// a stray temp file or a superseded generation, never state that blocks
// later writers.
type Store[T any, K comparable] struct {
	typ       storage.Type[T, K]
	allowWipe bool

	root    string
	itemDir string
	lockDir string
	metaDir string
	tmpDir  string
}

const highestPrefix = "highest."

// New initialises a disk-backed store for the item type rooted at cfg.Root.
func New[T any, K comparable](typ storage.Type[T, K], cfg Config) (*Store[T, K], error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("disk: root path required")
	}
	root := filepath.Join(filepath.Clean(cfg.Root), typ.Name)
	s := &Store[T, K]{
		typ:       typ,
		allowWipe: cfg.AllowWipe,
		root:      root,
		itemDir:   filepath.Join(root, "items"),
		lockDir:   filepath.Join(root, "locks"),
		metaDir:   filepath.Join(root, "metadata"),
		tmpDir:    filepath.Join(root, "tmp"),
	}
	for _, dir := range []string{s.itemDir, s.lockDir, s.metaDir, s.tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("disk: prepare directory %q: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store[T, K]) loggers(ctx context.Context) (pslog.Logger, pslog.Logger) {
	logger := loggingutil.EnsureLogger(pslog.LoggerFromContext(ctx))
	logger = logger.With("storage_backend", "disk", "item_type", s.typ.Name)
	return logger, logger
}

func encodeID(text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("disk: id required")
	}
	encoded := url.PathEscape(text)
	if strings.Contains(encoded, "..") {
		return "", fmt.Errorf("disk: invalid id %q", text)
	}
	return encoded, nil
}

func (s *Store[T, K]) itemPath(encoded string) string {
	return filepath.Join(s.itemDir, encoded)
}

func (s *Store[T, K]) lockPath(encoded string) string {
	return filepath.Join(s.lockDir, encoded+".lock")
}

// Create claims the next identifier in the shared metadata file, then
// reserves it with an exclusive lock marker. A reservation collision after a
// successful claim means the identifier scheme or metadata is broken, so it
// surfaces as a backend error instead of a retry.
func (s *Store[T, K]) Create(ctx context.Context) (K, storage.Lock, error) {
	logger, verbose := s.loggers(ctx)
	start := time.Now()
	verbose.Trace("disk.create.begin")
	var zero K

	id, err := s.claimNextID(ctx)
	if err != nil {
		logger.Debug("disk.create.claim_error", "error", err)
		return zero, storage.Lock{}, err
	}
	text := s.typ.IDs.Text(id)
	lock, err := s.reserve(text)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			err = storage.NewBackendError("create",
				fmt.Errorf("claimed id %q already reserved: %w", text, err))
		}
		logger.Debug("disk.create.reserve_error", "id", text, "error", err)
		return zero, storage.Lock{}, err
	}
	verbose.Debug("disk.create.success", "id", text, "duration", time.Since(start))
	return id, lock, nil
}

// LockNew reserves a caller-supplied identifier and locks it.
func (s *Store[T, K]) LockNew(ctx context.Context, id K) (storage.Lock, error) {
	logger, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	verbose.Trace("disk.lock_new.begin", "id", text)

	exists, err := s.Exists(ctx, id)
	if err != nil {
		return storage.Lock{}, err
	}
	if exists {
		return storage.Lock{}, storage.ErrAlreadyExists
	}
	lock, err := s.reserve(text)
	if err != nil {
		logger.Debug("disk.lock_new.error", "id", text, "error", err)
		return storage.Lock{}, err
	}
	if err := s.recordSeenID(ctx, id); err != nil {
		logger.Debug("disk.lock_new.metadata_error", "id", text, "error", err)
		return storage.Lock{}, err
	}
	verbose.Debug("disk.lock_new.success", "id", text)
	return lock, nil
}

// reserve creates the lock marker with O_CREATE|O_EXCL so exactly one caller
// across processes wins, then writes the lock record into it.
func (s *Store[T, K]) reserve(text string) (storage.Lock, error) {
	encoded, err := encodeID(text)
	if err != nil {
		return storage.Lock{}, storage.ErrInvalidFormat
	}
	lock := storage.NewLock(text)
	payload, err := json.Marshal(lock)
	if err != nil {
		return storage.Lock{}, storage.NewBackendError("reserve: encode lock", err)
	}
	f, err := os.OpenFile(s.lockPath(encoded), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return storage.Lock{}, storage.ErrAlreadyExists
	}
	if err != nil {
		return storage.Lock{}, storage.NewBackendError("reserve", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(s.lockPath(encoded))
		return storage.Lock{}, storage.NewBackendError("reserve: write lock", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(s.lockPath(encoded))
		return storage.Lock{}, storage.NewBackendError("reserve: sync lock", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(s.lockPath(encoded))
		return storage.Lock{}, storage.NewBackendError("reserve: close lock", err)
	}
	_ = syncDir(s.lockDir)
	return lock, nil
}

// Lock acquires the mutation right for an existing identifier.
func (s *Store[T, K]) Lock(ctx context.Context, id K) (storage.Lock, error) {
	logger, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	verbose.Trace("disk.lock.begin", "id", text)

	exists, err := s.Exists(ctx, id)
	if err != nil {
		return storage.Lock{}, err
	}
	if !exists {
		return storage.Lock{}, storage.ErrNotFound
	}
	lock, err := s.reserve(text)
	if errors.Is(err, storage.ErrAlreadyExists) {
		verbose.Debug("disk.lock.already_locked", "id", text)
		return storage.Lock{}, storage.ErrAlreadyLocked
	}
	if err != nil {
		logger.Debug("disk.lock.error", "id", text, "error", err)
		return storage.Lock{}, err
	}
	verbose.Debug("disk.lock.success", "id", text)
	return lock, nil
}

// Unlock releases the lock when the presented token matches the marker file.
// Releasing an identifier that was never saved leaves no file behind, so the
// reservation is discarded with it.
func (s *Store[T, K]) Unlock(ctx context.Context, id K, lock storage.Lock) error {
	logger, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	verbose.Trace("disk.unlock.begin", "id", text)

	encoded, err := encodeID(text)
	if err != nil {
		return storage.ErrInvalidFormat
	}
	current, err := s.readLock(encoded)
	if err != nil {
		return err
	}
	if current == nil {
		exists, err := s.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrInvalidLock
	}
	if current.Token != lock.Token {
		verbose.Debug("disk.unlock.token_mismatch", "id", text)
		return storage.ErrInvalidLock
	}
	if err := os.Remove(s.lockPath(encoded)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Debug("disk.unlock.error", "id", text, "error", err)
		return storage.NewBackendError("unlock", err)
	}
	_ = syncDir(s.lockDir)
	verbose.Debug("disk.unlock.success", "id", text)
	return nil
}

// ForceUnlock clears any lock marker unconditionally. Like Unlock, it
// discards a reservation that was never saved.
func (s *Store[T, K]) ForceUnlock(ctx context.Context, id K) error {
	_, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	encoded, err := encodeID(text)
	if err != nil {
		return storage.ErrInvalidFormat
	}
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	if err := os.Remove(s.lockPath(encoded)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storage.NewBackendError("force unlock", err)
	}
	_ = syncDir(s.lockDir)
	verbose.Debug("disk.force_unlock.success", "id", text)
	return nil
}

// VerifyLock reports whether lock is still the recorded owner of id.
func (s *Store[T, K]) VerifyLock(_ context.Context, id K, lock storage.Lock) (bool, error) {
	encoded, err := encodeID(s.typ.IDs.Text(id))
	if err != nil {
		return false, storage.ErrInvalidFormat
	}
	current, err := s.readLock(encoded)
	if err != nil {
		return false, err
	}
	return current != nil && current.Token == lock.Token, nil
}

func (s *Store[T, K]) readLock(encoded string) (*storage.Lock, error) {
	payload, err := os.ReadFile(s.lockPath(encoded))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.NewBackendError("read lock", err)
	}
	var lock storage.Lock
	if err := json.Unmarshal(payload, &lock); err != nil {
		return nil, storage.NewBackendError("decode lock",
			fmt.Errorf("corrupt lock record: %w", err))
	}
	return &lock, nil
}

// Load decodes and returns the stored item. A reserved identifier with no
// saved payload yet reads as absent.
func (s *Store[T, K]) Load(ctx context.Context, id K) (T, error) {
	logger, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	verbose.Trace("disk.load.begin", "id", text)
	var zero T

	encoded, err := encodeID(text)
	if err != nil {
		return zero, storage.ErrInvalidFormat
	}
	payload, err := os.ReadFile(s.itemPath(encoded))
	if errors.Is(err, fs.ErrNotExist) {
		return zero, storage.ErrNotFound
	}
	if err != nil {
		logger.Debug("disk.load.error", "id", text, "error", err)
		return zero, storage.NewBackendError("load", err)
	}
	item, err := s.typ.Codec.Decode(payload)
	if err != nil {
		logger.Debug("disk.load.decode_error", "id", text, "error", err)
		return zero, err
	}
	verbose.Debug("disk.load.success", "id", text, "bytes", len(payload))
	return item, nil
}

// Save persists the item while lock matches the recorded token. It writes to
// a temp file and renames into place so readers never see partial payloads.
func (s *Store[T, K]) Save(ctx context.Context, id K, lock storage.Lock, item T) error {
	logger, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	verbose.Trace("disk.save.begin", "id", text)

	encoded, err := encodeID(text)
	if err != nil {
		return storage.ErrInvalidFormat
	}
	current, err := s.readLock(encoded)
	if err != nil {
		return err
	}
	if current == nil {
		exists, err := s.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrInvalidLock
	}
	if current.Token != lock.Token {
		verbose.Debug("disk.save.token_mismatch", "id", text)
		return storage.ErrInvalidLock
	}
	payload, err := s.typ.Codec.Encode(item)
	if err != nil {
		return storage.NewBackendError("save: encode item", err)
	}
	if err := s.writeBytesAtomic(s.itemPath(encoded), payload, "item"); err != nil {
		logger.Debug("disk.save.error", "id", text, "error", err)
		return storage.NewBackendError("save", err)
	}
	verbose.Debug("disk.save.success", "id", text, "bytes", len(payload))
	return nil
}

// Exists reports whether the identifier has an item payload or a reservation.
func (s *Store[T, K]) Exists(_ context.Context, id K) (bool, error) {
	encoded, err := encodeID(s.typ.IDs.Text(id))
	if err != nil {
		return false, storage.ErrInvalidFormat
	}
	for _, p := range []string{s.itemPath(encoded), s.lockPath(encoded)} {
		if _, err := os.Stat(p); err == nil {
			return true, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, storage.NewBackendError("exists", err)
		}
	}
	return false, nil
}

// ScanIDs visits every identifier with an item payload or a reservation, in
// scheme order. Files that do not decode to a valid identifier are skipped so
// foreign files in the directory cannot break enumeration.
func (s *Store[T, K]) ScanIDs(ctx context.Context, visit func(id K) error) error {
	logger, verbose := s.loggers(ctx)
	start := time.Now()
	verbose.Trace("disk.scan_ids.begin")

	seen := make(map[K]struct{})
	ids := make([]K, 0, 64)
	collect := func(dir, trimSuffix string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return storage.NewBackendError("scan ids", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), trimSuffix)
			if trimSuffix != "" && name == entry.Name() {
				continue
			}
			text, err := url.PathUnescape(name)
			if err != nil {
				logger.Debug("disk.scan_ids.skip", "file", entry.Name(), "error", err)
				continue
			}
			id, err := s.typ.IDs.Parse(text)
			if err != nil {
				logger.Debug("disk.scan_ids.skip", "file", entry.Name(), "error", err)
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		return nil
	}
	if err := collect(s.itemDir, ""); err != nil {
		return err
	}
	if err := collect(s.lockDir, ".lock"); err != nil {
		return err
	}
	sort.Slice(ids, func(i, j int) bool { return s.typ.IDs.Compare(ids[i], ids[j]) < 0 })
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := visit(id); err != nil {
			return err
		}
	}
	verbose.Debug("disk.scan_ids.success", "count", len(ids), "duration", time.Since(start))
	return nil
}

// HighestSeenID returns the highest identifier recorded in metadata.
func (s *Store[T, K]) HighestSeenID(_ context.Context) (K, bool, error) {
	var zero K
	text, _, found, err := s.readHighest()
	if err != nil || !found {
		return zero, false, err
	}
	id, err := s.typ.IDs.Parse(text)
	if err != nil {
		return zero, false, storage.NewBackendError("read metadata",
			fmt.Errorf("corrupt highest id %q: %w", text, err))
	}
	return id, true, nil
}

// DisplayLock renders the current lock state of id.
func (s *Store[T, K]) DisplayLock(ctx context.Context, id K) (string, error) {
	encoded, err := encodeID(s.typ.IDs.Text(id))
	if err != nil {
		return "", storage.ErrInvalidFormat
	}
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", storage.ErrNotFound
	}
	current, err := s.readLock(encoded)
	if err != nil {
		return "", err
	}
	if current == nil {
		return "", nil
	}
	return current.String(), nil
}

// Wipe removes every item, lock marker and the metadata file when enabled.
func (s *Store[T, K]) Wipe(ctx context.Context) error {
	if !s.allowWipe {
		return storage.ErrWipeNotAllowed
	}
	logger, _ := s.loggers(ctx)
	for _, dir := range []string{s.itemDir, s.lockDir, s.metaDir, s.tmpDir} {
		if err := os.RemoveAll(dir); err != nil {
			return storage.NewBackendError("wipe", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return storage.NewBackendError("wipe", err)
		}
	}
	logger.Debug("disk.wipe.success", "root", s.root)
	return nil
}

// Close satisfies storage.Store and requires no action for disk.
func (s *Store[T, K]) Close() error { return nil }

// claimNextID generates the next identifier above the recorded high-water
// mark. Schemes without a generation order may produce a value at or below
// it; the stored mark still never moves backwards.
func (s *Store[T, K]) claimNextID(ctx context.Context) (K, error) {
	return s.updateHighest(ctx, func(prev *K) (K, bool, error) {
		next, err := s.typ.IDs.Generate(prev)
		if err != nil {
			var zero K
			return zero, false, storage.NewBackendError("create", err)
		}
		if prev != nil && s.typ.IDs.Compare(next, *prev) <= 0 {
			return next, false, nil
		}
		return next, true, nil
	})
}

// recordSeenID raises the metadata high-water mark to id when id is above it.
func (s *Store[T, K]) recordSeenID(ctx context.Context, id K) error {
	_, err := s.updateHighest(ctx, func(prev *K) (K, bool, error) {
		if prev != nil && s.typ.IDs.Compare(id, *prev) <= 0 {
			return id, false, nil
		}
		return id, true, nil
	})
	return err
}

// updateHighest runs an optimistic read-modify-conditional-write cycle over
// the metadata generation chain. advance receives the recorded value, or nil
// when none exists, and reports the resulting identifier plus whether the
// record must move to it. Lost races retry with backoff up to
// storage.MetadataAttempts.
func (s *Store[T, K]) updateHighest(ctx context.Context, advance func(prev *K) (K, bool, error)) (K, error) {
	var zero K
	for attempt := 0; attempt < storage.MetadataAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		text, gen, found, err := s.readHighest()
		if err != nil {
			return zero, err
		}
		var prev *K
		if found {
			previous, err := s.typ.IDs.Parse(text)
			if err != nil {
				return zero, storage.NewBackendError("read metadata",
					fmt.Errorf("corrupt highest id %q: %w", text, err))
			}
			prev = &previous
		}
		next, write, err := advance(prev)
		if err != nil {
			return zero, err
		}
		if !write {
			return next, nil
		}
		err = s.casHighest(s.typ.IDs.Text(next), gen+1)
		if errors.Is(err, storage.ErrCASMismatch) {
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		if err != nil {
			return zero, err
		}
		return next, nil
	}
	return zero, storage.NewBackendError("write metadata",
		storage.NewTransientError(fmt.Errorf("disk: metadata contended after %d attempts", storage.MetadataAttempts)))
}

// readHighest returns the newest recorded value and its generation number.
// A generation file can vanish between listing and reading when a concurrent
// writer prunes it, so the scan restarts in that case. Files under metadata/
// that are not generation files are ignored.
func (s *Store[T, K]) readHighest() (string, uint64, bool, error) {
	for attempt := 0; attempt < storage.MetadataAttempts; attempt++ {
		entries, err := os.ReadDir(s.metaDir)
		if errors.Is(err, fs.ErrNotExist) {
			return "", 0, false, nil
		}
		if err != nil {
			return "", 0, false, storage.NewBackendError("read metadata", err)
		}
		var best uint64
		found := false
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			raw, ok := strings.CutPrefix(entry.Name(), highestPrefix)
			if !ok {
				continue
			}
			gen, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				continue
			}
			if !found || gen > best {
				best = gen
				found = true
			}
		}
		if !found {
			return "", 0, false, nil
		}
		payload, err := os.ReadFile(s.generationPath(best))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", 0, false, storage.NewBackendError("read metadata", err)
		}
		return strings.TrimSpace(string(payload)), best, true, nil
	}
	return "", 0, false, storage.NewBackendError("read metadata",
		storage.NewTransientError(fmt.Errorf("disk: metadata churned through %d reads", storage.MetadataAttempts)))
}

// casHighest publishes text as generation nextGen. The value is written to a
// temp file first, so the generation file appears complete or not at all; the
// link itself fails with fs.ErrExist when another writer owns that
// generation already.
func (s *Store[T, K]) casHighest(text string, nextGen uint64) error {
	tmp, err := os.CreateTemp(s.tmpDir, "lockstore-meta-*")
	if err != nil {
		return storage.NewBackendError("write metadata", err)
	}
	name := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(name)
		return storage.NewBackendError("write metadata", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return storage.NewBackendError("write metadata", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return storage.NewBackendError("write metadata", err)
	}
	err = os.Link(name, s.generationPath(nextGen))
	os.Remove(name)
	if errors.Is(err, fs.ErrExist) {
		return storage.ErrCASMismatch
	}
	if err != nil {
		return storage.NewBackendError("write metadata", err)
	}
	_ = syncDir(s.metaDir)
	s.pruneGenerations(nextGen)
	return nil
}

// pruneGenerations drops generation files below keep. Best effort; leftovers
// are superseded data and the next successful update retries them.
func (s *Store[T, K]) pruneGenerations(keep uint64) {
	entries, err := os.ReadDir(s.metaDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		raw, ok := strings.CutPrefix(entry.Name(), highestPrefix)
		if !ok {
			continue
		}
		gen, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || gen >= keep {
			continue
		}
		os.Remove(filepath.Join(s.metaDir, entry.Name()))
	}
}

func (s *Store[T, K]) generationPath(gen uint64) string {
	return filepath.Join(s.metaDir, highestPrefix+strconv.FormatUint(gen, 10))
}

func (s *Store[T, K]) writeBytesAtomic(dest string, payload []byte, prefix string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.tmpDir, "lockstore-"+prefix+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	_ = syncDir(filepath.Dir(dest))
	return nil
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
