// Package s3 implements the storage contract on S3-compatible object
// storage. Each identifier maps to a single JSON record holding both the
// item payload and the lock fields, so every lock transition is one
// ETag-conditioned PutObject and the backend never needs more than the
// store's conditional-write primitive.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/lockstore/internal/loggingutil"
	"pkt.systems/lockstore/storage"
	"pkt.systems/pslog"
)

// Config controls the behaviour of the S3 storage backend.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	CustomCreds    *credentials.Credentials
	Transport      http.RoundTripper
	// ListMaxKeys caps the page size of bucket listings. Zero means the
	// client default. Scans stay complete at any page size; the listing
	// cursor is carried internally.
	ListMaxKeys int
	// AllowWipe gates the test-only Wipe operation.
	AllowWipe bool
}

// Store implements storage.Store backed by S3-compatible object storage.
type Store[T any, K comparable] struct {
	typ       storage.Type[T, K]
	client    *minio.Client
	cfg       Config
	allowWipe bool
}

// record is the stored shape of one identifier. Payload carries the encoded
// item and Lock the current owner, both guarded by the object's ETag.
type record struct {
	ID      string        `json:"id"`
	Payload []byte        `json:"payload,omitempty"`
	Saved   bool          `json:"saved"`
	Lock    *storage.Lock `json:"lock,omitempty"`
}

// New constructs a Store using the provided configuration.
func New[T any, K comparable](typ storage.Type[T, K], cfg Config) (*Store[T, K], error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultTransport()
	}
	var creds *credentials.Credentials
	if cfg.CustomCreds != nil {
		creds = cfg.CustomCreds
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Store[T, K]{typ: typ, client: client, cfg: cfg, allowWipe: cfg.AllowWipe}, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	if clone.MaxIdleConns == 0 {
		clone.MaxIdleConns = 256
	}
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 64
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	if clone.TLSHandshakeTimeout == 0 {
		clone.TLSHandshakeTimeout = 10 * time.Second
	}
	return clone
}

// Client exposes the underlying MinIO client for diagnostics and tests.
func (s *Store[T, K]) Client() *minio.Client { return s.client }

// BucketExists reports whether the configured bucket exists.
func (s *Store[T, K]) BucketExists(ctx context.Context) (bool, error) {
	return s.client.BucketExists(ctx, s.cfg.Bucket)
}

func (s *Store[T, K]) loggers(ctx context.Context) (pslog.Logger, pslog.Logger) {
	logger := loggingutil.EnsureLogger(pslog.LoggerFromContext(ctx))
	logger = logger.With("storage_backend", "s3", "item_type", s.typ.Name)
	return logger, logger
}

func (s *Store[T, K]) itemKey(text string) string {
	return s.withPrefix(path.Join("items", url.PathEscape(text)+".json"))
}

func (s *Store[T, K]) metadataKey() string {
	return s.withPrefix("metadata/highest")
}

func (s *Store[T, K]) withPrefix(key string) string {
	parts := []string{}
	if s.cfg.Prefix != "" {
		parts = append(parts, s.cfg.Prefix)
	}
	parts = append(parts, s.typ.Name, key)
	return path.Join(parts...)
}

// getRecord fetches the record for object, returning its ETag for later
// conditional writes. found is false on 404.
func (s *Store[T, K]) getRecord(ctx context.Context, object string) (record, string, bool, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, object, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return record{}, "", false, nil
		}
		return record{}, "", false, s.wrapError(err, "s3: get record")
	}
	defer obj.Close()
	payload, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return record{}, "", false, nil
		}
		return record{}, "", false, s.wrapError(err, "s3: read record")
	}
	stat, err := obj.Stat()
	if err != nil {
		return record{}, "", false, s.wrapError(err, "s3: stat record")
	}
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return record{}, "", false, storage.NewBackendError("decode record",
			fmt.Errorf("corrupt record %q: %w", object, err))
	}
	return rec, stripETag(stat.ETag), true, nil
}

// putRecord writes the record conditionally. With expectedETag set the write
// only succeeds against that exact version; otherwise it only succeeds when
// the object does not exist yet. CAS conflicts come back as ErrCASMismatch.
func (s *Store[T, K]) putRecord(ctx context.Context, object string, rec record, expectedETag string) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return storage.NewBackendError("encode record", err)
	}
	options := minio.PutObjectOptions{ContentType: "application/json"}
	if expectedETag != "" {
		options.SetMatchETag(expectedETag)
	} else {
		options.SetMatchETagExcept("*")
	}
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, object, bytes.NewReader(payload), int64(len(payload)), options)
	if err != nil {
		if isPreconditionFailed(err) {
			return storage.ErrCASMismatch
		}
		return s.wrapError(err, "s3: put record")
	}
	return nil
}

// Create claims the next identifier in the shared metadata object, then
// writes the record with an if-absent condition. A collision after a
// successful claim indicates broken metadata and surfaces as a backend
// error rather than a silent retry.
func (s *Store[T, K]) Create(ctx context.Context) (K, storage.Lock, error) {
	logger, verbose := s.loggers(ctx)
	start := time.Now()
	verbose.Trace("s3.create.begin")
	var zero K

	id, err := s.claimNextID(ctx)
	if err != nil {
		logger.Debug("s3.create.claim_error", "error", err)
		return zero, storage.Lock{}, err
	}
	text := s.typ.IDs.Text(id)
	lock := storage.NewLock(text)
	rec := record{ID: text, Lock: &lock}
	if err := s.putRecord(ctx, s.itemKey(text), rec, ""); err != nil {
		if errors.Is(err, storage.ErrCASMismatch) {
			err = storage.NewBackendError("create",
				fmt.Errorf("claimed id %q already exists: %w", text, storage.ErrAlreadyExists))
		}
		logger.Debug("s3.create.reserve_error", "id", text, "error", err)
		return zero, storage.Lock{}, err
	}
	verbose.Debug("s3.create.success", "id", text, "elapsed", time.Since(start))
	return id, lock, nil
}

// LockNew reserves a caller-supplied identifier and locks it.
func (s *Store[T, K]) LockNew(ctx context.Context, id K) (storage.Lock, error) {
	logger, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	verbose.Trace("s3.lock_new.begin", "id", text)

	lock := storage.NewLock(text)
	rec := record{ID: text, Lock: &lock}
	if err := s.putRecord(ctx, s.itemKey(text), rec, ""); err != nil {
		if errors.Is(err, storage.ErrCASMismatch) {
			verbose.Debug("s3.lock_new.already_exists", "id", text)
			return storage.Lock{}, storage.ErrAlreadyExists
		}
		logger.Debug("s3.lock_new.error", "id", text, "error", err)
		return storage.Lock{}, err
	}
	if err := s.recordSeenID(ctx, id); err != nil {
		logger.Debug("s3.lock_new.metadata_error", "id", text, "error", err)
		return storage.Lock{}, err
	}
	verbose.Debug("s3.lock_new.success", "id", text)
	return lock, nil
}

// Lock acquires the mutation right for an existing identifier. The write is
// conditioned on the ETag read just before, so two racing lockers cannot
// both succeed.
func (s *Store[T, K]) Lock(ctx context.Context, id K) (storage.Lock, error) {
	logger, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	verbose.Trace("s3.lock.begin", "id", text)

	object := s.itemKey(text)
	rec, etag, found, err := s.getRecord(ctx, object)
	if err != nil {
		logger.Debug("s3.lock.get_error", "id", text, "error", err)
		return storage.Lock{}, err
	}
	if !found {
		return storage.Lock{}, storage.ErrNotFound
	}
	if rec.Lock != nil {
		verbose.Debug("s3.lock.already_locked", "id", text)
		return storage.Lock{}, storage.ErrAlreadyLocked
	}
	lock := storage.NewLock(text)
	rec.Lock = &lock
	if err := s.putRecord(ctx, object, rec, etag); err != nil {
		if errors.Is(err, storage.ErrCASMismatch) {
			verbose.Debug("s3.lock.lost_race", "id", text)
			return storage.Lock{}, storage.ErrAlreadyLocked
		}
		logger.Debug("s3.lock.put_error", "id", text, "error", err)
		return storage.Lock{}, err
	}
	verbose.Debug("s3.lock.success", "id", text)
	return lock, nil
}

// Unlock releases the lock when the presented token matches. Releasing an
// identifier that was never saved removes the record, discarding the
// reservation.
func (s *Store[T, K]) Unlock(ctx context.Context, id K, lock storage.Lock) error {
	logger, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	verbose.Trace("s3.unlock.begin", "id", text)

	object := s.itemKey(text)
	rec, etag, found, err := s.getRecord(ctx, object)
	if err != nil {
		return err
	}
	if !found {
		return storage.ErrNotFound
	}
	if rec.Lock == nil || rec.Lock.Token != lock.Token {
		verbose.Debug("s3.unlock.token_mismatch", "id", text)
		return storage.ErrInvalidLock
	}
	if !rec.Saved {
		if err := s.client.RemoveObject(ctx, s.cfg.Bucket, object, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
			logger.Debug("s3.unlock.remove_error", "id", text, "error", err)
			return s.wrapError(err, "s3: remove reservation")
		}
		verbose.Debug("s3.unlock.success", "id", text)
		return nil
	}
	rec.Lock = nil
	if err := s.putRecord(ctx, object, rec, etag); err != nil {
		if errors.Is(err, storage.ErrCASMismatch) {
			return storage.ErrInvalidLock
		}
		logger.Debug("s3.unlock.put_error", "id", text, "error", err)
		return err
	}
	verbose.Debug("s3.unlock.success", "id", text)
	return nil
}

// ForceUnlock clears any lock unconditionally, retrying through concurrent
// record updates. Like Unlock, it discards a reservation that was never
// saved.
func (s *Store[T, K]) ForceUnlock(ctx context.Context, id K) error {
	logger, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	object := s.itemKey(text)

	for attempt := 0; attempt < storage.MetadataAttempts; attempt++ {
		rec, etag, found, err := s.getRecord(ctx, object)
		if err != nil {
			return err
		}
		if !found {
			return storage.ErrNotFound
		}
		if rec.Lock == nil {
			return nil
		}
		if !rec.Saved {
			if err := s.client.RemoveObject(ctx, s.cfg.Bucket, object, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
				logger.Debug("s3.force_unlock.remove_error", "id", text, "error", err)
				return s.wrapError(err, "s3: remove reservation")
			}
			verbose.Debug("s3.force_unlock.success", "id", text)
			return nil
		}
		rec.Lock = nil
		err = s.putRecord(ctx, object, rec, etag)
		if errors.Is(err, storage.ErrCASMismatch) {
			continue
		}
		if err != nil {
			logger.Debug("s3.force_unlock.put_error", "id", text, "error", err)
			return err
		}
		verbose.Debug("s3.force_unlock.success", "id", text)
		return nil
	}
	return storage.NewBackendError("force unlock",
		storage.NewTransientError(fmt.Errorf("s3: record %q kept changing after %d attempts", text, storage.MetadataAttempts)))
}

// VerifyLock reports whether lock is still the recorded owner of id.
func (s *Store[T, K]) VerifyLock(ctx context.Context, id K, lock storage.Lock) (bool, error) {
	rec, _, found, err := s.getRecord(ctx, s.itemKey(s.typ.IDs.Text(id)))
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return rec.Lock != nil && rec.Lock.Token == lock.Token, nil
}

// Load decodes and returns the stored item. A reserved identifier with no
// saved payload yet reads as absent.
func (s *Store[T, K]) Load(ctx context.Context, id K) (T, error) {
	logger, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	verbose.Trace("s3.load.begin", "id", text)
	var zero T

	rec, _, found, err := s.getRecord(ctx, s.itemKey(text))
	if err != nil {
		logger.Debug("s3.load.error", "id", text, "error", err)
		return zero, err
	}
	if !found || !rec.Saved {
		return zero, storage.ErrNotFound
	}
	item, err := s.typ.Codec.Decode(rec.Payload)
	if err != nil {
		logger.Debug("s3.load.decode_error", "id", text, "error", err)
		return zero, err
	}
	verbose.Debug("s3.load.success", "id", text, "bytes", len(rec.Payload))
	return item, nil
}

// Save persists the item while lock matches the recorded token. The write is
// conditioned on the ETag of the record that carried the matching token.
func (s *Store[T, K]) Save(ctx context.Context, id K, lock storage.Lock, item T) error {
	logger, verbose := s.loggers(ctx)
	text := s.typ.IDs.Text(id)
	verbose.Trace("s3.save.begin", "id", text)

	payload, err := s.typ.Codec.Encode(item)
	if err != nil {
		return storage.NewBackendError("save: encode item", err)
	}
	object := s.itemKey(text)
	rec, etag, found, err := s.getRecord(ctx, object)
	if err != nil {
		return err
	}
	if !found {
		return storage.ErrNotFound
	}
	if rec.Lock == nil || rec.Lock.Token != lock.Token {
		verbose.Debug("s3.save.token_mismatch", "id", text)
		return storage.ErrInvalidLock
	}
	rec.Payload = payload
	rec.Saved = true
	if err := s.putRecord(ctx, object, rec, etag); err != nil {
		if errors.Is(err, storage.ErrCASMismatch) {
			return storage.ErrInvalidLock
		}
		logger.Debug("s3.save.put_error", "id", text, "error", err)
		return err
	}
	verbose.Debug("s3.save.success", "id", text, "bytes", len(payload))
	return nil
}

// Exists reports whether the identifier has been created or reserved.
func (s *Store[T, K]) Exists(ctx context.Context, id K) (bool, error) {
	_, err := s.client.StatObject(ctx, s.cfg.Bucket, s.itemKey(s.typ.IDs.Text(id)), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, s.wrapError(err, "s3: stat record")
	}
	return true, nil
}

// ScanIDs visits every identifier under the items prefix. Objects whose keys
// do not decode to a valid identifier are skipped so foreign objects in the
// bucket cannot break enumeration. Listing pagination stays inside the
// client; the visitor only ever sees identifiers.
func (s *Store[T, K]) ScanIDs(ctx context.Context, visit func(id K) error) error {
	logger, verbose := s.loggers(ctx)
	start := time.Now()
	prefix := s.withPrefix("items") + "/"
	verbose.Trace("s3.scan_ids.begin", "prefix", prefix)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	count := 0
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true, MaxKeys: s.cfg.ListMaxKeys}
	for object := range s.client.ListObjects(ctx, s.cfg.Bucket, opts) {
		if object.Err != nil {
			logger.Debug("s3.scan_ids.error", "error", object.Err)
			return s.wrapError(object.Err, "s3: list records")
		}
		rel := strings.TrimPrefix(object.Key, prefix)
		if rel == "" || rel == object.Key || !strings.HasSuffix(rel, ".json") {
			continue
		}
		text, err := url.PathUnescape(strings.TrimSuffix(rel, ".json"))
		if err != nil {
			logger.Debug("s3.scan_ids.skip", "object", object.Key, "error", err)
			continue
		}
		id, err := s.typ.IDs.Parse(text)
		if err != nil {
			logger.Debug("s3.scan_ids.skip", "object", object.Key, "error", err)
			continue
		}
		if err := visit(id); err != nil {
			return err
		}
		count++
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	verbose.Debug("s3.scan_ids.success", "count", count, "elapsed", time.Since(start))
	return nil
}

// HighestSeenID returns the highest identifier recorded in metadata.
func (s *Store[T, K]) HighestSeenID(ctx context.Context) (K, bool, error) {
	var zero K
	text, _, found, err := s.getMetadata(ctx)
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
	rec, _, found, err := s.getRecord(ctx, s.itemKey(s.typ.IDs.Text(id)))
	if err != nil {
		return "", err
	}
	if !found {
		return "", storage.ErrNotFound
	}
	if rec.Lock == nil {
		return "", nil
	}
	return rec.Lock.String(), nil
}

// Wipe removes every record and the metadata object when enabled.
func (s *Store[T, K]) Wipe(ctx context.Context) error {
	if !s.allowWipe {
		return storage.ErrWipeNotAllowed
	}
	logger, _ := s.loggers(ctx)
	prefix := s.withPrefix("") + "/"
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	keys := make([]string, 0, 64)
	for object := range s.client.ListObjects(listCtx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true, MaxKeys: s.cfg.ListMaxKeys}) {
		if object.Err != nil {
			return s.wrapError(object.Err, "s3: list for wipe")
		}
		keys = append(keys, object.Key)
	}
	for _, key := range keys {
		if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
			return s.wrapError(err, "s3: remove object")
		}
	}
	logger.Debug("s3.wipe.success", "prefix", prefix, "objects", len(keys))
	return nil
}

// Close satisfies storage.Store and is a no-op for the S3 client.
func (s *Store[T, K]) Close() error { return nil }

// claimNextID advances the shared metadata object with a bounded CAS loop
// and returns the freshly generated identifier.
func (s *Store[T, K]) claimNextID(ctx context.Context) (K, error) {
	var zero K
	for attempt := 0; attempt < storage.MetadataAttempts; attempt++ {
		text, etag, found, err := s.getMetadata(ctx)
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
		next, err := s.typ.IDs.Generate(prev)
		if err != nil {
			return zero, storage.NewBackendError("create", err)
		}
		err = s.putMetadata(ctx, s.typ.IDs.Text(next), etag)
		if errors.Is(err, storage.ErrCASMismatch) {
			continue
		}
		if err != nil {
			return zero, err
		}
		return next, nil
	}
	return zero, storage.NewBackendError("claim id",
		storage.NewTransientError(fmt.Errorf("s3: metadata contended after %d attempts", storage.MetadataAttempts)))
}

// recordSeenID raises the metadata high-water mark to id when id is above it.
func (s *Store[T, K]) recordSeenID(ctx context.Context, id K) error {
	for attempt := 0; attempt < storage.MetadataAttempts; attempt++ {
		text, etag, found, err := s.getMetadata(ctx)
		if err != nil {
			return err
		}
		if found {
			previous, err := s.typ.IDs.Parse(text)
			if err != nil {
				return storage.NewBackendError("read metadata",
					fmt.Errorf("corrupt highest id %q: %w", text, err))
			}
			if s.typ.IDs.Compare(id, previous) <= 0 {
				return nil
			}
		}
		err = s.putMetadata(ctx, s.typ.IDs.Text(id), etag)
		if errors.Is(err, storage.ErrCASMismatch) {
			continue
		}
		return err
	}
	return storage.NewBackendError("record seen id",
		storage.NewTransientError(fmt.Errorf("s3: metadata contended after %d attempts", storage.MetadataAttempts)))
}

func (s *Store[T, K]) getMetadata(ctx context.Context) (string, string, bool, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.metadataKey(), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return "", "", false, nil
		}
		return "", "", false, s.wrapError(err, "s3: get metadata")
	}
	defer obj.Close()
	payload, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return "", "", false, nil
		}
		return "", "", false, s.wrapError(err, "s3: read metadata")
	}
	stat, err := obj.Stat()
	if err != nil {
		return "", "", false, s.wrapError(err, "s3: stat metadata")
	}
	return strings.TrimSpace(string(payload)), stripETag(stat.ETag), true, nil
}

func (s *Store[T, K]) putMetadata(ctx context.Context, text, expectedETag string) error {
	options := minio.PutObjectOptions{ContentType: "text/plain"}
	if expectedETag != "" {
		options.SetMatchETag(expectedETag)
	} else {
		options.SetMatchETagExcept("*")
	}
	payload := []byte(text)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.metadataKey(), bytes.NewReader(payload), int64(len(payload)), options)
	if err != nil {
		if isPreconditionFailed(err) {
			return storage.ErrCASMismatch
		}
		return s.wrapError(err, "s3: put metadata")
	}
	return nil
}

func stripETag(etag string) string {
	return strings.Trim(etag, "\"")
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}

func isPreconditionFailed(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		if errResp.StatusCode == http.StatusPreconditionFailed {
			return true
		}
		if errResp.StatusCode == http.StatusConflict {
			switch errResp.Code {
			case "ConditionalRequestConflict", "OperationAborted":
				return true
			}
		}
	}
	return false
}

func (s *Store[T, K]) wrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	retryable := isRetryable(err)
	if msg != "" {
		err = fmt.Errorf("%s: %w", msg, err)
	}
	if retryable {
		err = storage.NewTransientError(err)
	}
	return storage.NewBackendError("s3", err)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if isNetworkConnectionError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode >= http.StatusInternalServerError && resp.StatusCode != 0 {
		return true
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusRequestTimeout:
		return true
	}
	return false
}

func isNetworkConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return isNetworkConnectionError(opErr.Err)
	}
	return false
}
