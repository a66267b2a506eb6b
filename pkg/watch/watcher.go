// Package watch monitors directories for document stream files and hands
// each one to a callback once it stops changing.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/logflow/docexport/pkg/validation"
)

// DefaultSettle is how long a file must be quiet before it is handed on.
const DefaultSettle = 2 * time.Second

// Watcher reports document stream files that were created or written in
// its directories. A file is reported again only when its size or
// modification time changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	dirs    []string
	settle  time.Duration
	log     *slog.Logger

	mu    sync.Mutex
	files map[string]*fileState

	// IncludeExisting reports files already present when Run starts.
	IncludeExisting bool

	OnReady func(ctx context.Context, path string) error
	OnError func(path string, err error)
}

type fileState struct {
	lastModified time.Time
	size         int64
	timer        *time.Timer
}

// NewWatcher creates a watcher; settle <= 0 uses DefaultSettle.
func NewWatcher(settle time.Duration, log *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		watcher: fsWatcher,
		settle:  settle,
		log:     log,
		files:   make(map[string]*fileState),
	}, nil
}

// Add watches dir. Subdirectories are not followed.
func (w *Watcher) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if err := w.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	w.dirs = append(w.dirs, abs)
	return nil
}

// Run processes events until ctx is done. OnReady is called from Run's
// goroutine, one file at a time.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	ready := make(chan string)
	defer w.stopTimers()

	if w.IncludeExisting {
		for _, dir := range w.dirs {
			entries, err := os.ReadDir(dir)
			if err != nil {
				w.reportError(dir, err)
				continue
			}
			for _, e := range entries {
				if !e.IsDir() && validation.IsDocumentStream(e.Name()) {
					w.schedule(ctx, filepath.Join(dir, e.Name()), ready)
				}
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !validation.IsDocumentStream(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name, ready)

		case path := <-ready:
			w.handleReady(ctx, path)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.reportError("", err)
		}
	}
}

// schedule (re)starts the settle timer of path.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.files[path]
	if !ok {
		state = &fileState{}
		w.files[path] = state
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(w.settle, func() {
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) handleReady(ctx context.Context, path string) {
	stat, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.reportError(path, err)
		}
		return
	}

	w.mu.Lock()
	state := w.files[path]
	unchanged := stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size
	w.mu.Unlock()
	if unchanged {
		return
	}

	w.log.Debug("stream file settled", "path", path, "size", stat.Size())
	if w.OnReady != nil {
		if err := w.OnReady(ctx, path); err != nil {
			w.reportError(path, err)
		}
	}

	w.mu.Lock()
	state.lastModified = stat.ModTime()
	state.size = stat.Size()
	w.mu.Unlock()
}

func (w *Watcher) reportError(path string, err error) {
	if w.OnError != nil {
		w.OnError(path, err)
		return
	}
	w.log.Error("watch error", "path", path, "error", err)
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, state := range w.files {
		if state.timer != nil {
			state.timer.Stop()
		}
	}
}

// Close stops the watcher without running it.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
