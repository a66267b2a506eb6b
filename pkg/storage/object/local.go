// Package object provides object storage implementations.
package object

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/interfaces"
)

// LocalStorage implements ObjectStorage for local filesystem. Objects are
// written to a hidden temp file next to their destination and renamed into
// place on commit.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a new local filesystem storage.
func NewLocalStorage(root string) (*LocalStorage, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}

	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	return &LocalStorage{root: absRoot}, nil
}

// Scheme returns "file".
func (s *LocalStorage) Scheme() string {
	return "file"
}

// Root returns the absolute storage root.
func (s *LocalStorage) Root() string {
	return s.root
}

// Location returns the absolute file path for path.
func (s *LocalStorage) Location(path string) string {
	return s.fullPath(path)
}

// Exists checks if an object exists.
func (s *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(s.fullPath(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create opens a temp file for path.
func (s *LocalStorage) Create(ctx context.Context, path string, opts interfaces.CreateOptions) (interfaces.ObjectWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !filepath.IsLocal(filepath.FromSlash(path)) {
		return nil, exerrors.New(exerrors.CodeFileWrite, "path escapes storage root").
			WithContext("path", path)
	}

	final := s.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return nil, exerrors.FileWrite(err, final)
	}

	tmp := filepath.Join(filepath.Dir(final), "."+filepath.Base(final)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, exerrors.FileWrite(err, final)
	}

	return &localWriter{file: f, tmp: tmp, final: final, overwrite: opts.Overwrite}, nil
}

func (s *LocalStorage) fullPath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

type localWriter struct {
	file      *os.File
	tmp       string
	final     string
	overwrite bool
	done      bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	return w.file.Write(p)
}

func (w *localWriter) Commit() error {
	if w.done {
		return os.ErrClosed
	}
	w.done = true

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.tmp)
		return exerrors.FileWrite(err, w.final)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmp)
		return exerrors.FileWrite(err, w.final)
	}

	if w.overwrite {
		if err := os.Rename(w.tmp, w.final); err != nil {
			os.Remove(w.tmp)
			return exerrors.FileWrite(err, w.final)
		}
		return nil
	}

	// Link fails if the destination exists, so a file created by someone
	// else after Create is never clobbered.
	err := os.Link(w.tmp, w.final)
	if err == nil {
		os.Remove(w.tmp)
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		os.Remove(w.tmp)
		return exerrors.New(exerrors.CodePathExists, "output file already exists").
			WithContext("path", w.final)
	}

	// Filesystems without hard links.
	if _, statErr := os.Stat(w.final); statErr == nil {
		os.Remove(w.tmp)
		return exerrors.New(exerrors.CodePathExists, "output file already exists").
			WithContext("path", w.final)
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		os.Remove(w.tmp)
		return exerrors.FileWrite(err, w.final)
	}
	return nil
}

func (w *localWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	closeErr := w.file.Close()
	if err := os.Remove(w.tmp); err != nil && !os.IsNotExist(err) {
		return exerrors.FileWrite(err, w.tmp)
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return exerrors.FileWrite(closeErr, w.tmp)
	}
	return nil
}
