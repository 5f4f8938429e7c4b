package s3

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"testing"

	minio "github.com/minio/minio-go/v7"

	"pkt.systems/lockstore/storage"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "context deadline", err: context.DeadlineExceeded, expected: true},
		{name: "net timeout", err: fakeTimeoutErr{}, expected: true},
		{name: "connection reset", err: &net.OpError{Op: "read", Err: syscall.ECONNRESET}, expected: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, expected: true},
		{name: "server error", err: minio.ErrorResponse{StatusCode: http.StatusInternalServerError}, expected: true},
		{name: "throttled", err: minio.ErrorResponse{StatusCode: http.StatusTooManyRequests}, expected: true},
		{name: "not found", err: minio.ErrorResponse{StatusCode: http.StatusNotFound}, expected: false},
		{name: "plain", err: errors.New("nope"), expected: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryable(tc.err); got != tc.expected {
				t.Fatalf("isRetryable(%v) = %v, want %v", tc.err, got, tc.expected)
			}
		})
	}
}

func TestWrapErrorMarksTransient(t *testing.T) {
	store := &Store[note, int32]{}
	err := store.wrapError(&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, "s3: put record")
	if !storage.IsTransient(err) {
		t.Fatalf("expected transient classification, got %v", err)
	}
	var backendErr *storage.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if store.wrapError(nil, "s3: noop") != nil {
		t.Fatal("expected nil passthrough")
	}
}

func TestPreconditionClassification(t *testing.T) {
	if !isPreconditionFailed(minio.ErrorResponse{StatusCode: http.StatusPreconditionFailed}) {
		t.Fatal("412 must classify as precondition failure")
	}
	if !isPreconditionFailed(minio.ErrorResponse{StatusCode: http.StatusConflict, Code: "ConditionalRequestConflict"}) {
		t.Fatal("conditional request conflict must classify as precondition failure")
	}
	if isPreconditionFailed(minio.ErrorResponse{StatusCode: http.StatusNotFound}) {
		t.Fatal("404 is not a precondition failure")
	}
	if !isNotFound(minio.ErrorResponse{StatusCode: http.StatusNotFound}) {
		t.Fatal("404 must classify as not found")
	}
}

func TestStripETag(t *testing.T) {
	if got := stripETag(`"abc123"`); got != "abc123" {
		t.Fatalf("expected abc123, got %q", got)
	}
	if got := stripETag("abc123"); got != "abc123" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}
