package sources

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"github.com/logflow/docexport/internal/model"
	exerrors "github.com/logflow/docexport/pkg/errors"
)

// JSONLSource decodes a JSON Lines document stream. Each line is either a
// two element array ["kind", {...}] or an object {"name": "kind", "doc": {...}}.
type JSONLSource struct {
	name    string
	dec     *json.Decoder
	cleanup func() error
	index   int
}

// NewJSONLSource reads items from r. name identifies the stream in errors.
func NewJSONLSource(name string, r io.Reader) *JSONLSource {
	return &JSONLSource{
		name:    name,
		dec:     json.NewDecoder(bufio.NewReaderSize(r, 1<<20)),
		cleanup: func() error { return nil },
	}
}

// OpenJSONL opens path (see Open) as a JSONLSource.
func OpenJSONL(path string) (*JSONLSource, error) {
	r, cleanup, err := Open(path)
	if err != nil {
		return nil, exerrors.Wrap(err, exerrors.CodeInvalidConfig, "cannot open input").WithContext("path", path)
	}
	src := NewJSONLSource(path, r)
	src.cleanup = cleanup
	return src, nil
}

type namedItem struct {
	Name string         `json:"name"`
	Doc  map[string]any `json:"doc"`
}

func (s *JSONLSource) Next(ctx context.Context) (model.Item, error) {
	if err := ctx.Err(); err != nil {
		return model.Item{}, err
	}

	var raw json.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return model.Item{}, io.EOF
		}
		return model.Item{}, s.invalid(err, "malformed JSON")
	}
	s.index++

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return model.Item{}, s.invalid(nil, "empty item")
	}

	var item model.Item
	switch trimmed[0] {
	case '[':
		var pair []json.RawMessage
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return model.Item{}, s.invalid(err, "malformed item")
		}
		if len(pair) != 2 {
			return model.Item{}, s.invalid(nil, "item must be a [kind, document] pair")
		}
		var kind string
		if err := json.Unmarshal(pair[0], &kind); err != nil {
			return model.Item{}, s.invalid(err, "item kind must be a string")
		}
		var doc map[string]any
		if err := json.Unmarshal(pair[1], &doc); err != nil {
			return model.Item{}, s.invalid(err, "item document must be an object")
		}
		item = model.Item{Kind: model.Kind(kind), Doc: doc}
	case '{':
		var named namedItem
		if err := json.Unmarshal(trimmed, &named); err != nil {
			return model.Item{}, s.invalid(err, "malformed item")
		}
		item = model.Item{Kind: model.Kind(named.Name), Doc: named.Doc}
	default:
		return model.Item{}, s.invalid(nil, "item must be an array or an object")
	}

	if !item.Kind.Valid() {
		return model.Item{}, s.invalid(nil, "unknown document kind").WithContext("kind", string(item.Kind))
	}
	if item.Doc == nil {
		return model.Item{}, s.invalid(nil, "missing document").WithContext("kind", string(item.Kind))
	}
	return item, nil
}

func (s *JSONLSource) invalid(cause error, msg string) *exerrors.ExportError {
	var err *exerrors.ExportError
	if cause != nil {
		err = exerrors.Wrap(cause, exerrors.CodeInvalidDocument, msg)
	} else {
		err = exerrors.New(exerrors.CodeInvalidDocument, msg)
	}
	return err.WithContext("source", s.name).WithContext("item", s.index)
}

// Position returns the number of items decoded so far.
func (s *JSONLSource) Position() int { return s.index }

func (s *JSONLSource) Name() string { return s.name }

func (s *JSONLSource) Close() error { return s.cleanup() }

// Writer emits items as ["kind", {...}] lines. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
}

// NewWriter returns a Writer on w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{buf: buf, enc: json.NewEncoder(buf)}
}

// Write appends one item.
func (w *Writer) Write(kind model.Kind, doc any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode([]any{string(kind), doc})
}

// Flush writes buffered items to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}
