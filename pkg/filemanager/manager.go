// Package filemanager owns every output file of an export. It reserves
// paths, hands out write handles and commits or aborts them as a unit per
// owner (one owner per run). A single Manager may serve several runs
// concurrently.
package filemanager

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/interfaces"
)

// Policy decides what happens when a reserved path is already taken.
type Policy string

const (
	// PolicyError rejects a path that exists or is reserved by someone else.
	PolicyError Policy = "error"
	// PolicySuffix picks the first free name_1.ext, name_2.ext, ...
	PolicySuffix Policy = "suffix"
	// PolicyReplace overwrites an existing file on commit.
	PolicyReplace Policy = "replace"
)

// ParsePolicy parses an overwrite policy; "" means PolicyError.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyError:
		return PolicyError, nil
	case PolicySuffix:
		return PolicySuffix, nil
	case PolicyReplace:
		return PolicyReplace, nil
	}
	return "", exerrors.Newf(exerrors.CodeInvalidConfig, "unknown overwrite policy %q", s)
}

// maxSuffix bounds the search for a free suffixed name.
const maxSuffix = 10000

// Finalizer is attached to a handle by the encoder that writes it. Finalize
// writes trailing bytes (footers, indexes) before commit; Discard releases
// encoder resources when the handle is aborted.
type Finalizer interface {
	Finalize() error
	Discard()
}

type reservation struct {
	owner  string
	label  string
	policy Policy
}

// Manager tracks reservations, open handles and committed artifacts.
type Manager struct {
	storage interfaces.ObjectStorage
	bufSize int
	logger  *slog.Logger

	mu        sync.Mutex
	reserved  map[string]reservation
	handles   map[string]*Handle
	order     map[string][]string
	artifacts map[string]map[string][]string
}

// Option configures a Manager.
type Option func(*Manager)

// WithBufferSize sets the write buffer size of each handle.
func WithBufferSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.bufSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Manager writing through storage.
func New(storage interfaces.ObjectStorage, opts ...Option) *Manager {
	m := &Manager{
		storage:   storage,
		bufSize:   64 * 1024,
		logger:    slog.Default(),
		reserved:  make(map[string]reservation),
		handles:   make(map[string]*Handle),
		order:     make(map[string][]string),
		artifacts: make(map[string]map[string][]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Storage returns the underlying object storage.
func (m *Manager) Storage() interfaces.ObjectStorage {
	return m.storage
}

// Reserve claims p for (owner, label) and returns the path actually
// reserved, which differs from p only under PolicySuffix. Reserving the same
// path again for the same owner and label is a no-op.
func (m *Manager) Reserve(ctx context.Context, owner, label, p string, policy Policy) (string, error) {
	if policy == "" {
		policy = PolicyError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i <= maxSuffix; i++ {
		candidate := p
		if i > 0 {
			candidate = suffixed(p, i)
		}

		if r, taken := m.reserved[candidate]; taken {
			if r.owner == owner && r.label == label {
				return candidate, nil
			}
			if policy == PolicySuffix {
				continue
			}
			return "", exerrors.New(exerrors.CodePathExists, "path is reserved by another stream").
				WithContext("path", candidate).
				WithContext("holder", r.owner+"/"+r.label)
		}

		if policy != PolicyReplace {
			exists, err := m.storage.Exists(ctx, candidate)
			if err != nil {
				return "", exerrors.FileWrite(err, m.storage.Location(candidate))
			}
			if exists {
				if policy == PolicySuffix {
					continue
				}
				return "", exerrors.New(exerrors.CodePathExists, "output file already exists").
					WithContext("path", m.storage.Location(candidate))
			}
		}

		m.reserved[candidate] = reservation{owner: owner, label: label, policy: policy}
		m.order[owner] = append(m.order[owner], candidate)
		return candidate, nil
	}
	return "", exerrors.New(exerrors.CodePathExists, "no free suffixed name").WithContext("path", p)
}

func suffixed(p string, n int) string {
	dir, file := path.Split(p)
	ext := path.Ext(file)
	return fmt.Sprintf("%s%s_%d%s", dir, strings.TrimSuffix(file, ext), n, ext)
}

// Acquire returns the open handle for p, creating it on first use.
// p must have been reserved by owner.
func (m *Manager) Acquire(ctx context.Context, owner, p string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reserved[p]
	if !ok || r.owner != owner {
		return nil, exerrors.New(exerrors.CodeFileWrite, "path was not reserved by this run").
			WithContext("path", p).
			WithContext("owner", owner)
	}
	if h, open := m.handles[p]; open {
		return h, nil
	}

	obj, err := m.storage.Create(ctx, p, interfaces.CreateOptions{
		Overwrite:   r.policy == PolicyReplace,
		ContentType: contentType(p),
		Metadata:    map[string]string{"run": owner, "stream": r.label},
	})
	if err != nil {
		return nil, exerrors.FileWrite(err, m.storage.Location(p))
	}

	h := &Handle{
		path:     p,
		owner:    owner,
		label:    r.label,
		location: m.storage.Location(p),
		obj:      obj,
	}
	h.buf = bufio.NewWriterSize(obj, m.bufSize)
	m.handles[p] = h
	m.logger.Debug("opened output", "run", owner, "stream", r.label, "path", h.location)
	return h, nil
}

// Write appends p to the handle. A failed write poisons the handle; every
// later write and the eventual commit report the same FileWriteError.
func (m *Manager) Write(h *Handle, p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.err != nil {
		return 0, h.err
	}
	if h.closed {
		return 0, exerrors.FileWrite(os.ErrClosed, h.location)
	}
	n, err := h.buf.Write(p)
	h.size += int64(n)
	if err != nil {
		h.err = exerrors.FileWrite(err, h.location)
		return n, h.err
	}
	return n, nil
}

// Attach registers the encoder that finalizes h.
func (m *Manager) Attach(h *Handle, f Finalizer) {
	h.mu.Lock()
	h.fin = f
	h.mu.Unlock()
}

// Release closes every handle of owner. With commit, each handle is
// finalized, flushed and committed; the first failure aborts the handles
// not yet committed. Without commit, all handles are aborted and partial
// data is removed. Reservations of owner are dropped either way.
func (m *Manager) Release(ctx context.Context, owner string, commit bool) error {
	m.mu.Lock()
	var handles []*Handle
	for _, p := range m.order[owner] {
		if h, ok := m.handles[p]; ok {
			handles = append(handles, h)
			delete(m.handles, p)
		}
		delete(m.reserved, p)
	}
	delete(m.order, owner)
	m.mu.Unlock()

	if commit && ctx.Err() != nil {
		commit = false
		m.logger.Warn("release canceled, aborting outputs", "run", owner)
	}

	errs := &exerrors.MultiError{}
	if !commit {
		for _, h := range handles {
			errs.Add(h.abort())
		}
		if err := ctx.Err(); err != nil && len(handles) > 0 {
			errs.Add(exerrors.ContextCanceled("release"))
		}
		return errs.Combined()
	}

	for i, h := range handles {
		if err := h.commit(); err != nil {
			errs.Add(err)
			for _, rest := range handles[i+1:] {
				errs.Add(rest.abort())
			}
			break
		}
		m.record(owner, h.label, h.location)
		m.logger.Debug("committed output", "run", owner, "stream", h.label, "path", h.location, "bytes", h.size)
	}
	return errs.Combined()
}

func (m *Manager) record(owner, label, location string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byLabel, ok := m.artifacts[owner]
	if !ok {
		byLabel = make(map[string][]string)
		m.artifacts[owner] = byLabel
	}
	byLabel[label] = append(byLabel[label], location)
}

// Artifacts returns the committed locations of owner grouped by label.
func (m *Manager) Artifacts(owner string) map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string, len(m.artifacts[owner]))
	for label, locs := range m.artifacts[owner] {
		out[label] = append([]string(nil), locs...)
	}
	return out
}

// Open returns how many handles are currently open.
func (m *Manager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// CloseAll aborts every handle still open, across all owners.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.handles = make(map[string]*Handle)
	m.reserved = make(map[string]reservation)
	m.order = make(map[string][]string)
	m.mu.Unlock()

	errs := &exerrors.MultiError{}
	for _, h := range handles {
		m.logger.Warn("aborting output left open", "run", h.owner, "stream", h.label, "path", h.location)
		errs.Add(h.abort())
	}
	return errs.Combined()
}

func contentType(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".jsonl":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".arrow":
		return "application/vnd.apache.arrow.file"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}
