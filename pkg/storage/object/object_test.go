package object

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/interfaces"
)

func TestLocalStorage_CommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error: %v", err)
	}

	w, err := s.Create(ctx, "run/primary.csv", interfaces.CreateOptions{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	w.Write([]byte("a,b\n"))

	if ok, _ := s.Exists(ctx, "run/primary.csv"); ok {
		t.Fatal("object visible before Commit")
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	data, err := os.ReadFile(s.Location("run/primary.csv"))
	if err != nil || string(data) != "a,b\n" {
		t.Errorf("committed data = %q, %v", data, err)
	}
	entries, _ := os.ReadDir(filepath.Join(s.Root(), "run"))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestLocalStorage_Abort(t *testing.T) {
	ctx := context.Background()
	s, _ := NewLocalStorage(t.TempDir())

	w, _ := s.Create(ctx, "partial.jsonl", interfaces.CreateOptions{})
	w.Write([]byte("{}\n"))
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort() error: %v", err)
	}
	entries, _ := os.ReadDir(s.Root())
	if len(entries) != 0 {
		t.Errorf("Abort left %d entries", len(entries))
	}
	if err := w.Abort(); err != nil {
		t.Errorf("second Abort() error: %v", err)
	}
}

func TestLocalStorage_Overwrite(t *testing.T) {
	ctx := context.Background()
	s, _ := NewLocalStorage(t.TempDir())
	if err := os.WriteFile(s.Location("x.csv"), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	w, _ := s.Create(ctx, "x.csv", interfaces.CreateOptions{})
	w.Write([]byte("new"))
	if err := w.Commit(); !errors.Is(err, exerrors.ErrPathExists) {
		t.Errorf("Commit() error = %v, want PathExists", err)
	}

	w, _ = s.Create(ctx, "x.csv", interfaces.CreateOptions{Overwrite: true})
	w.Write([]byte("new"))
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if data, _ := os.ReadFile(s.Location("x.csv")); string(data) != "new" {
		t.Errorf("data = %q, want %q", data, "new")
	}
}

func TestLocalStorage_RejectsEscapingPath(t *testing.T) {
	s, _ := NewLocalStorage(t.TempDir())
	if _, err := s.Create(context.Background(), "../x", interfaces.CreateOptions{}); err == nil {
		t.Error("Create(../x) succeeded, want error")
	}
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	w, _ := s.Create(ctx, "a.jsonl", interfaces.CreateOptions{ContentType: "application/x-ndjson"})
	w.Write([]byte("line\n"))
	if _, ok := s.Get("a.jsonl"); ok {
		t.Fatal("object visible before Commit")
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if data, ok := s.Get("a.jsonl"); !ok || string(data) != "line\n" {
		t.Errorf("Get() = %q, %v", data, ok)
	}
	if s.Options("a.jsonl").ContentType != "application/x-ndjson" {
		t.Error("content type not recorded")
	}

	w, _ = s.Create(ctx, "a.jsonl", interfaces.CreateOptions{})
	if err := w.Commit(); !errors.Is(err, exerrors.ErrPathExists) {
		t.Errorf("Commit() error = %v, want PathExists", err)
	}

	w, _ = s.Create(ctx, "b.jsonl", interfaces.CreateOptions{})
	w.Abort()
	if s.Aborted() != 1 || len(s.Paths()) != 1 {
		t.Errorf("Aborted() = %d, Paths() = %v", s.Aborted(), s.Paths())
	}
}
