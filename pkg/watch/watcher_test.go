package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func startWatcher(t *testing.T, dir string, existing bool) <-chan string {
	t.Helper()
	w, err := NewWatcher(50*time.Millisecond, quiet)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	if err := w.Add(dir); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	w.IncludeExisting = existing

	seen := make(chan string, 16)
	w.OnReady = func(_ context.Context, path string) error {
		seen <- filepath.Base(path)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return seen
}

func expect(t *testing.T, seen <-chan string, want string) {
	t.Helper()
	select {
	case got := <-seen:
		if got != want {
			t.Errorf("ready file = %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no ready file, want %q", want)
	}
}

func expectNone(t *testing.T, seen <-chan string) {
	t.Helper()
	select {
	case got := <-seen:
		t.Errorf("unexpected ready file %q", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_ReportsNewStreams(t *testing.T) {
	dir := t.TempDir()
	seen := startWatcher(t, dir, false)
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run.jsonl"), []byte(`["start",{}]`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	expect(t, seen, "run.jsonl")
	expectNone(t, seen)
}

func TestWatcher_IncludeExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.ndjson"), []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	seen := startWatcher(t, dir, true)
	expect(t, seen, "old.ndjson")
}

func TestWatcher_AddRejectsFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.jsonl")
	os.WriteFile(file, nil, 0644)

	w, err := NewWatcher(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Add(file); err == nil {
		t.Error("Add(file) returned nil")
	}
	if err := w.Add(filepath.Join(dir, "missing")); err == nil {
		t.Error("Add(missing) returned nil")
	}
}
