package checkpoint

import (
	"context"
	"errors"
	"os"
)

// Backend stores run records. Implementations can store checkpoints in
// various locations (local directory, Redis).
type Backend interface {
	// Save persists a record, replacing any previous record of the run.
	Save(ctx context.Context, r *Record) error

	// Load retrieves the record of a run; os.ErrNotExist if there is none.
	Load(ctx context.Context, id string) (*Record, error)

	// Delete removes the record of a run.
	Delete(ctx context.Context, id string) error

	// List returns all records whose run uid starts with prefix.
	List(ctx context.Context, prefix string) ([]*Record, error)

	// ListIncomplete returns the records of runs still open.
	ListIncomplete(ctx context.Context) ([]*Record, error)

	// Name returns the backend name for logging.
	Name() string
}

// MultiBackend writes to a primary and a mirror backend.
type MultiBackend struct {
	primary   Backend
	secondary Backend
}

// NewMultiBackend creates a backend that writes to both primary and secondary.
func NewMultiBackend(primary, secondary Backend) *MultiBackend {
	return &MultiBackend{
		primary:   primary,
		secondary: secondary,
	}
}

// Save writes to both backends (primary first). The mirror is best-effort.
func (m *MultiBackend) Save(ctx context.Context, r *Record) error {
	if err := m.primary.Save(ctx, r); err != nil {
		return err
	}
	_ = m.secondary.Save(ctx, r)
	return nil
}

// Load reads from primary, falls back to secondary.
func (m *MultiBackend) Load(ctx context.Context, id string) (*Record, error) {
	r, err := m.primary.Load(ctx, id)
	if err == nil {
		return r, nil
	}
	return m.secondary.Load(ctx, id)
}

// Delete removes from both backends.
func (m *MultiBackend) Delete(ctx context.Context, id string) error {
	return errors.Join(m.primary.Delete(ctx, id), m.secondary.Delete(ctx, id))
}

// List returns the records of the primary.
func (m *MultiBackend) List(ctx context.Context, prefix string) ([]*Record, error) {
	return m.primary.List(ctx, prefix)
}

// ListIncomplete returns incomplete records from primary.
func (m *MultiBackend) ListIncomplete(ctx context.Context) ([]*Record, error) {
	return m.primary.ListIncomplete(ctx)
}

// Name returns the combined backend names.
func (m *MultiBackend) Name() string {
	return m.primary.Name() + "+" + m.secondary.Name()
}

// IsNotFound reports whether err means a record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
