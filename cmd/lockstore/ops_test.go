package main

import (
	"context"
	"testing"

	"pkt.systems/lockstore"
	"pkt.systems/lockstore/id"
	"pkt.systems/lockstore/storage"
)

func newMemTextStore(t *testing.T) *textStore {
	t.Helper()
	store, err := adapt(lockstore.Config{Store: "mem://"}, storage.Type[document, id.Sequential]{
		Name:  "docs",
		IDs:   id.SequentialIDs(),
		Codec: storage.JSON[document](),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestRunExerciseCountsEveryAttempt(t *testing.T) {
	store := newMemTextStore(t)
	defer store.close()

	const workers, attempts = 4, 10
	report, err := runExercise(context.Background(), store, workers, attempts)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if report.Attempts != workers*attempts {
		t.Fatalf("expected %d attempts, got %d", workers*attempts, report.Attempts)
	}
	if total := report.Succeeded + report.Contended + report.Failed; total != int64(workers*attempts) {
		t.Fatalf("tally %d does not cover %d attempts", total, workers*attempts)
	}
	if report.Failed != 0 {
		t.Fatalf("expected no failures, got %d", report.Failed)
	}
	if report.Succeeded == 0 {
		t.Fatal("expected at least one successful round")
	}
	// Every successful round incremented the shared counter exactly once.
	if report.Counter != float64(report.Succeeded) {
		t.Fatalf("counter %v does not match %d successful rounds", report.Counter, report.Succeeded)
	}
}

func TestRunExerciseSingleWorkerNeverContends(t *testing.T) {
	store := newMemTextStore(t)
	defer store.close()

	report, err := runExercise(context.Background(), store, 1, 5)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if report.Contended != 0 || report.Failed != 0 {
		t.Fatalf("expected clean run, got contended=%d failed=%d", report.Contended, report.Failed)
	}
	if report.Succeeded != 5 || report.Counter != 5 {
		t.Fatalf("expected 5 increments, got succeeded=%d counter=%v", report.Succeeded, report.Counter)
	}
}
