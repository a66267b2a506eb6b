package sources

import (
	"context"
	"io"

	"github.com/logflow/docexport/internal/model"
)

// Source yields the (kind, document) items of one input stream in order.
// Next returns io.EOF once the stream is exhausted.
type Source interface {
	Next(ctx context.Context) (model.Item, error)
	Name() string
	Close() error
}

// MemorySource replays a fixed list of items.
type MemorySource struct {
	name  string
	items []model.Item
	pos   int
}

// NewMemorySource returns a Source over items.
func NewMemorySource(name string, items []model.Item) *MemorySource {
	return &MemorySource{name: name, items: items}
}

func (m *MemorySource) Next(ctx context.Context) (model.Item, error) {
	if err := ctx.Err(); err != nil {
		return model.Item{}, err
	}
	if m.pos >= len(m.items) {
		return model.Item{}, io.EOF
	}
	item := m.items[m.pos]
	m.pos++
	return item, nil
}

func (m *MemorySource) Name() string { return m.name }
func (m *MemorySource) Close() error { return nil }

// Drain reads src to the end, calling fn for every item. It stops at the
// first error returned by fn.
func Drain(ctx context.Context, src Source, fn func(model.Item) error) error {
	for {
		item, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
}
