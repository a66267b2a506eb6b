package object

import (
	"bytes"
	"context"
	"os"
	"sort"
	"sync"

	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/interfaces"
)

// MemoryStorage implements ObjectStorage in memory. It backs dry runs and
// tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
	meta    map[string]interfaces.CreateOptions
	aborted int
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string][]byte),
		meta:    make(map[string]interfaces.CreateOptions),
	}
}

// Scheme returns "mem".
func (s *MemoryStorage) Scheme() string {
	return "mem"
}

// Location returns a mem:// URL for path.
func (s *MemoryStorage) Location(path string) string {
	return "mem://" + path
}

// Exists checks if an object exists.
func (s *MemoryStorage) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

// Put stores data directly, bypassing the pending-object protocol.
func (s *MemoryStorage) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
}

// Get returns a copy of a committed object.
func (s *MemoryStorage) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Options returns the create options a committed object was written with.
func (s *MemoryStorage) Options(path string) interfaces.CreateOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta[path]
}

// Paths returns the committed object paths in sorted order.
func (s *MemoryStorage) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.objects))
	for p := range s.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Aborted returns how many pending objects were discarded.
func (s *MemoryStorage) Aborted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aborted
}

// Create opens a pending in-memory object.
func (s *MemoryStorage) Create(ctx context.Context, path string, opts interfaces.CreateOptions) (interfaces.ObjectWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryWriter{storage: s, path: path, opts: opts}, nil
}

type memoryWriter struct {
	storage *MemoryStorage
	path    string
	opts    interfaces.CreateOptions
	buf     bytes.Buffer
	done    bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *memoryWriter) Commit() error {
	if w.done {
		return os.ErrClosed
	}
	w.done = true

	s := w.storage
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[w.path]; exists && !w.opts.Overwrite {
		return exerrors.New(exerrors.CodePathExists, "output object already exists").
			WithContext("path", w.path)
	}
	s.objects[w.path] = w.buf.Bytes()
	s.meta[w.path] = w.opts
	return nil
}

func (w *memoryWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.storage.mu.Lock()
	w.storage.aborted++
	w.storage.mu.Unlock()
	return nil
}
