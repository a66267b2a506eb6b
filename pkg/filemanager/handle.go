package filemanager

import (
	"bufio"
	"sync"

	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/interfaces"
)

// Handle is an open output file. Handles are created by Manager.Acquire
// and closed exactly once by Manager.Release or Manager.CloseAll.
type Handle struct {
	path     string
	owner    string
	label    string
	location string

	mu     sync.Mutex
	obj    interfaces.ObjectWriter
	buf    *bufio.Writer
	fin    Finalizer
	size   int64
	err    error
	closed bool
}

// Path returns the reserved relative path.
func (h *Handle) Path() string { return h.path }

// Location returns the user-facing location of the file.
func (h *Handle) Location() string { return h.location }

// Label returns the stream the handle belongs to.
func (h *Handle) Label() string { return h.label }

// Size returns the bytes accepted so far.
func (h *Handle) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Err returns the write error that poisoned the handle, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Writer adapts the handle to io.Writer through m.
func (m *Manager) Writer(h *Handle) *HandleWriter {
	return &HandleWriter{m: m, h: h}
}

// HandleWriter is an io.Writer over a handle. It has no Close method;
// encoders that close their sink leave the handle open.
type HandleWriter struct {
	m *Manager
	h *Handle
}

func (w *HandleWriter) Write(p []byte) (int, error) {
	return w.m.Write(w.h, p)
}

func (h *Handle) commit() error {
	h.mu.Lock()
	fin := h.fin
	h.mu.Unlock()

	// The finalizer writes through the manager, so it runs unlocked.
	if fin != nil && h.Err() == nil {
		if err := fin.Finalize(); err != nil {
			h.mu.Lock()
			if h.err == nil {
				h.err = exerrors.FileWrite(err, h.location)
			}
			h.mu.Unlock()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	if h.err != nil {
		h.obj.Abort()
		return h.err
	}
	if err := h.buf.Flush(); err != nil {
		h.obj.Abort()
		h.err = exerrors.FileWrite(err, h.location)
		return h.err
	}
	if err := h.obj.Commit(); err != nil {
		if exerrors.IsCode(err, exerrors.CodePathExists) {
			return err
		}
		return exerrors.FileWrite(err, h.location)
	}
	return nil
}

func (h *Handle) abort() error {
	h.mu.Lock()
	fin := h.fin
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	if fin != nil {
		fin.Discard()
	}
	if err := h.obj.Abort(); err != nil {
		return exerrors.FileWrite(err, h.location)
	}
	return nil
}
