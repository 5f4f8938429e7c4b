package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type counter struct {
	N uint64
}

func (c counter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, c.N)
	return buf, nil
}

func (c *counter) UnmarshalBinary(data []byte) error {
	if len(data) != 8 {
		return fmt.Errorf("counter: want 8 bytes, got %d", len(data))
	}
	c.N = binary.BigEndian.Uint64(data)
	return nil
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	codec := Binary[counter]()
	payload, err := codec.Encode(counter{N: 1234})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := codec.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.N != 1234 {
		t.Fatalf("expected 1234, got %d", got.N)
	}
}

func TestBinaryCodecDecodeError(t *testing.T) {
	codec := Binary[counter]()
	_, err := codec.Decode([]byte("junk"))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	type doc struct {
		Title string `json:"title"`
	}
	codec := JSON[doc]()
	payload, err := codec.Encode(doc{Title: "hello"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := codec.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Title != "hello" {
		t.Fatalf("expected hello, got %q", got.Title)
	}
	if _, err := codec.Decode([]byte("{broken")); err == nil {
		t.Fatal("expected decode failure on corrupt bytes")
	}
}

func TestTypeValidate(t *testing.T) {
	codec := JSON[counter]()
	valid := Type[counter, string]{Name: "counters", IDs: fakeScheme{}, Codec: codec}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid type, got %v", err)
	}
	cases := []Type[counter, string]{
		{Name: "", IDs: fakeScheme{}, Codec: codec},
		{Name: "a/b", IDs: fakeScheme{}, Codec: codec},
		{Name: "counters", IDs: nil, Codec: codec},
		{Name: "counters", IDs: fakeScheme{}, Codec: nil},
	}
	for i, typ := range cases {
		if err := typ.Validate(); err == nil {
			t.Fatalf("case %d: expected validation failure", i)
		}
	}
}

type fakeScheme struct{}

func (fakeScheme) Parse(text string) (string, error) { return text, nil }
func (fakeScheme) ValidFormat(string) bool           { return true }
func (fakeScheme) Generate(_ *string) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (fakeScheme) Text(id string) string   { return id }
func (fakeScheme) Compare(a, b string) int { return strings.Compare(a, b) }

func TestNewLock(t *testing.T) {
	a := NewLock("42")
	b := NewLock("42")
	if a.Token == "" || b.Token == "" {
		t.Fatal("expected non-empty tokens")
	}
	if a.Token == b.Token {
		t.Fatalf("expected unique tokens, got %q twice", a.Token)
	}
	if a.ID != "42" {
		t.Fatalf("expected id 42, got %q", a.ID)
	}
	if a.AcquiredAt.IsZero() {
		t.Fatal("expected acquisition time")
	}
}

func TestLockString(t *testing.T) {
	if got := (Lock{}).String(); got != "" {
		t.Fatalf("expected empty display for zero lock, got %q", got)
	}
	lock := NewLock("alpha")
	display := lock.String()
	if !strings.Contains(display, "alpha") || !strings.Contains(display, lock.Token) {
		t.Fatalf("expected id and token in display, got %q", display)
	}
}

func TestBackendErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewBackendError("save", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected unwrap to cause, got %v", err)
	}
	var backendErr *BackendError
	if !errors.As(err, &backendErr) || backendErr.Op != "save" {
		t.Fatalf("expected BackendError with op save, got %v", err)
	}
	if NewBackendError("save", nil) != nil {
		t.Fatal("expected nil passthrough")
	}
}

func TestTransientMarking(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransientError(cause)
	if !IsTransient(err) {
		t.Fatal("expected transient")
	}
	if !IsTransient(fmt.Errorf("wrapped: %w", err)) {
		t.Fatal("expected transient through wrapping")
	}
	if IsTransient(cause) {
		t.Fatal("plain error must not be transient")
	}
	if IsTransient(ErrAlreadyLocked) {
		t.Fatal("contention outcomes are never transient")
	}
}
