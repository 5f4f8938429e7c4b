package s3

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"pkt.systems/lockstore/id"
	"pkt.systems/lockstore/storage"
)

type note struct {
	Title string `json:"title"`
}

func noteType() storage.Type[note, id.Sequential] {
	return storage.Type[note, id.Sequential]{
		Name:  "notes",
		IDs:   id.SequentialIDs(),
		Codec: storage.JSON[note](),
	}
}

func setupFakeS3(t *testing.T) (*httptest.Server, Config) {
	t.Helper()
	backend := s3mem.New()
	fs := gofakes3.New(backend)
	server := httptest.NewServer(fs.Server())
	bucket := "lockstore-test"
	if err := backend.CreateBucket(bucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	endpoint := strings.TrimPrefix(server.URL, "http://")
	os.Setenv("AWS_ACCESS_KEY_ID", "test")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	cfg := Config{
		Endpoint:       endpoint,
		Region:         "us-east-1",
		Bucket:         bucket,
		Prefix:         "locked",
		Insecure:       true,
		ForcePathStyle: true,
		AllowWipe:      true,
	}
	return server, cfg
}

func newTestStore(t *testing.T) (*httptest.Server, *Store[note, id.Sequential]) {
	t.Helper()
	server, cfg := setupFakeS3(t)
	store, err := New(noteType(), cfg)
	if err != nil {
		server.Close()
		t.Fatalf("new store: %v", err)
	}
	return server, store
}

func TestLockProtocolLifecycle(t *testing.T) {
	server, store := newTestStore(t)
	defer server.Close()
	ctx := context.Background()

	idv, lock, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if idv != 1 {
		t.Fatalf("expected first id 1, got %d", idv)
	}
	if _, err := store.Lock(ctx, idv); !errors.Is(err, storage.ErrAlreadyLocked) {
		t.Fatalf("expected already locked, got %v", err)
	}
	if err := store.Save(ctx, idv, storage.Lock{Token: "bogus"}, note{Title: "nope"}); !errors.Is(err, storage.ErrInvalidLock) {
		t.Fatalf("expected invalid lock, got %v", err)
	}
	if err := store.Save(ctx, idv, lock, note{Title: "hello"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Unlock(ctx, idv, storage.Lock{Token: "bogus"}); !errors.Is(err, storage.ErrInvalidLock) {
		t.Fatalf("expected invalid lock on unlock, got %v", err)
	}
	if err := store.Unlock(ctx, idv, lock); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	got, err := store.Load(ctx, idv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Title != "hello" {
		t.Fatalf("expected hello, got %q", got.Title)
	}
	relock, err := store.Lock(ctx, idv)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	if relock.Token == lock.Token {
		t.Fatal("expected fresh token on re-acquisition")
	}
}

func TestCreateSequencesThroughMetadata(t *testing.T) {
	server, store := newTestStore(t)
	defer server.Close()
	ctx := context.Background()

	first, _, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, _, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", first, second)
	}
	highest, found, err := store.HighestSeenID(ctx)
	if err != nil || !found {
		t.Fatalf("highest: found=%v err=%v", found, err)
	}
	if highest != 2 {
		t.Fatalf("expected highest 2, got %d", highest)
	}
}

func TestLockNewDuplicateAndMetadata(t *testing.T) {
	server, store := newTestStore(t)
	defer server.Close()
	ctx := context.Background()

	if _, err := store.LockNew(ctx, 7); err != nil {
		t.Fatalf("lock new: %v", err)
	}
	if _, err := store.LockNew(ctx, 7); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	next, _, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if next != 8 {
		t.Fatalf("expected id 8 after reserving 7, got %d", next)
	}
}

func TestForceUnlockRecovery(t *testing.T) {
	server, store := newTestStore(t)
	defer server.Close()
	ctx := context.Background()

	idv, stale, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Save(ctx, idv, stale, note{Title: "initial"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.ForceUnlock(ctx, idv); err != nil {
		t.Fatalf("force unlock: %v", err)
	}
	fresh, err := store.Lock(ctx, idv)
	if err != nil {
		t.Fatalf("lock after force unlock: %v", err)
	}
	held, err := store.VerifyLock(ctx, idv, stale)
	if err != nil || held {
		t.Fatalf("stale token must not verify, got %v %v", held, err)
	}
	if err := store.Save(ctx, idv, stale, note{Title: "stale"}); !errors.Is(err, storage.ErrInvalidLock) {
		t.Fatalf("expected stale token rejected, got %v", err)
	}
	if err := store.Save(ctx, idv, fresh, note{Title: "fresh"}); err != nil {
		t.Fatalf("save with fresh token: %v", err)
	}
}

func TestUnknownIdentifierErrors(t *testing.T) {
	server, store := newTestStore(t)
	defer server.Close()
	ctx := context.Background()
	unknown := id.Sequential(99)

	if _, err := store.Load(ctx, unknown); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("load: expected not found, got %v", err)
	}
	if _, err := store.Lock(ctx, unknown); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("lock: expected not found, got %v", err)
	}
	if err := store.Unlock(ctx, unknown, storage.Lock{Token: "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unlock: expected not found, got %v", err)
	}
	if err := store.ForceUnlock(ctx, unknown); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("force unlock: expected not found, got %v", err)
	}
	exists, err := store.Exists(ctx, unknown)
	if err != nil || exists {
		t.Fatalf("exists unknown: expected false, got %v %v", exists, err)
	}
}

func TestScanIDsComplete(t *testing.T) {
	server, store := newTestStore(t)
	defer server.Close()
	ctx := context.Background()

	want := make(map[id.Sequential]bool)
	for i := 0; i < 5; i++ {
		idv, lock, err := store.Create(ctx)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		want[idv] = true
		if i%2 == 0 {
			if err := store.Save(ctx, idv, lock, note{Title: "x"}); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
	}
	got := make(map[id.Sequential]bool)
	if err := store.ScanIDs(ctx, func(idv id.Sequential) error {
		got[idv] = true
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(got))
	}
	for idv := range want {
		if !got[idv] {
			t.Fatalf("missing id %d in scan", idv)
		}
	}
}

func TestReleaseDiscardsUnsavedReservation(t *testing.T) {
	server, store := newTestStore(t)
	defer server.Close()
	ctx := context.Background()

	idv, lock, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Unlock(ctx, idv, lock); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	exists, err := store.Exists(ctx, idv)
	if err != nil || exists {
		t.Fatalf("expected discarded reservation, got exists=%v err=%v", exists, err)
	}
	if _, err := store.Lock(ctx, idv); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after discard, got %v", err)
	}
	// The metadata high-water mark survives the discard.
	next, _, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if next != idv+1 {
		t.Fatalf("expected sequence to continue at %d, got %d", idv+1, next)
	}

	if _, err := store.LockNew(ctx, 42); err != nil {
		t.Fatalf("lock new: %v", err)
	}
	if err := store.ForceUnlock(ctx, 42); err != nil {
		t.Fatalf("force unlock: %v", err)
	}
	exists, err = store.Exists(ctx, 42)
	if err != nil || exists {
		t.Fatalf("expected force unlock to discard reservation, got exists=%v err=%v", exists, err)
	}
}

func TestScanIDsPaginates(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()
	ctx := context.Background()

	// A page size below the item count forces the listing through its
	// continuation cursor; the scan must still see every identifier once.
	cfg.ListMaxKeys = 2
	store, err := New(noteType(), cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	const items = 7
	want := make(map[id.Sequential]bool)
	for i := 0; i < items; i++ {
		idv, lock, err := store.Create(ctx)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		want[idv] = true
		if err := store.Save(ctx, idv, lock, note{Title: "x"}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	got := make(map[id.Sequential]bool)
	if err := store.ScanIDs(ctx, func(idv id.Sequential) error {
		if got[idv] {
			t.Fatalf("id %d visited twice", idv)
		}
		got[idv] = true
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != items {
		t.Fatalf("expected %d ids, got %d", items, len(got))
	}
	for idv := range want {
		if !got[idv] {
			t.Fatalf("missing id %d in scan", idv)
		}
	}
}

func TestDisplayLock(t *testing.T) {
	server, store := newTestStore(t)
	defer server.Close()
	ctx := context.Background()

	idv, lock, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	display, err := store.DisplayLock(ctx, idv)
	if err != nil {
		t.Fatalf("display: %v", err)
	}
	if display == "" {
		t.Fatal("expected lock description")
	}
	if err := store.Save(ctx, idv, lock, note{Title: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Unlock(ctx, idv, lock); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	display, err = store.DisplayLock(ctx, idv)
	if err != nil {
		t.Fatalf("display unlocked: %v", err)
	}
	if display != "" {
		t.Fatalf("expected empty display when unlocked, got %q", display)
	}
}

func TestWipe(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()
	ctx := context.Background()

	guardedCfg := cfg
	guardedCfg.AllowWipe = false
	guarded, err := New(noteType(), guardedCfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := guarded.Wipe(ctx); !errors.Is(err, storage.ErrWipeNotAllowed) {
		t.Fatalf("expected wipe not allowed, got %v", err)
	}

	store, err := New(noteType(), cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	idv, lock, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Save(ctx, idv, lock, note{Title: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Wipe(ctx); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if _, err := store.Load(ctx, idv); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after wipe, got %v", err)
	}
	if _, found, err := store.HighestSeenID(ctx); err != nil || found {
		t.Fatalf("expected empty metadata after wipe, got found=%v err=%v", found, err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(noteType(), Config{}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
	typ := noteType()
	typ.Name = ""
	if _, err := New(typ, Config{Bucket: "b"}); err == nil {
		t.Fatal("expected error for invalid type descriptor")
	}
}
