package sources

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/logflow/docexport/internal/model"
	exerrors "github.com/logflow/docexport/pkg/errors"
)

const stream = `["start", {"uid": "abc", "time": 1}]
{"name": "descriptor", "doc": {"uid": "d1", "run_start": "abc", "name": "primary"}}

["stop", {"uid": "s", "run_start": "abc", "exit_status": "success"}]
`

func readAll(t *testing.T, src Source) []model.Item {
	t.Helper()
	var items []model.Item
	if err := Drain(context.Background(), src, func(item model.Item) error {
		items = append(items, item)
		return nil
	}); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}
	return items
}

func kinds(items []model.Item) []model.Kind {
	out := make([]model.Kind, len(items))
	for i, item := range items {
		out[i] = item.Kind
	}
	return out
}

func TestJSONLSource_BothShapes(t *testing.T) {
	src := NewJSONLSource("test", strings.NewReader(stream))
	items := readAll(t, src)

	want := []model.Kind{model.KindStart, model.KindDescriptor, model.KindStop}
	if got := kinds(items); !reflect.DeepEqual(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	doc := items[1].Doc.(map[string]any)
	if doc["uid"] != "d1" || doc["name"] != "primary" {
		t.Errorf("descriptor doc = %v", doc)
	}
	if src.Position() != 3 {
		t.Errorf("Position() = %d, want 3", src.Position())
	}
}

func TestJSONLSource_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"malformed", `["start", {"uid": }]`},
		{"unknown kind", `["begin", {"uid": "abc"}]`},
		{"short pair", `["start"]`},
		{"kind not string", `[1, {"uid": "abc"}]`},
		{"doc not object", `["start", "abc"]`},
		{"scalar", `42`},
		{"missing doc", `{"name": "start"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewJSONLSource("bad", strings.NewReader(tt.input))
			_, err := src.Next(context.Background())
			if !errors.Is(err, exerrors.ErrInvalidDocument) {
				t.Fatalf("Next() error = %v, want InvalidDocument", err)
			}
			var ee *exerrors.ExportError
			if errors.As(err, &ee) && ee.Context["source"] != "bad" {
				t.Errorf("error context = %v", ee.Context)
			}
		})
	}
}

func TestJSONLSource_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := NewJSONLSource("test", strings.NewReader(stream))
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() error = %v, want context.Canceled", err)
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Write(model.KindStart, map[string]any{"uid": "abc", "time": 1.0})
	w.Write(model.KindStop, map[string]any{"uid": "s", "run_start": "abc"})
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	if !strings.HasPrefix(buf.String(), `["start",`) {
		t.Errorf("output = %q", buf.String())
	}
	items := readAll(t, NewJSONLSource("rt", &buf))
	if got := kinds(items); !reflect.DeepEqual(got, []model.Kind{model.KindStart, model.KindStop}) {
		t.Errorf("kinds = %v", got)
	}
}

func writeCompressed(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var w io.WriteCloser
	switch Compression(path) {
	case "gzip":
		w = gzip.NewWriter(f)
	case "zstd":
		zw, err := zstd.NewWriter(f)
		if err != nil {
			t.Fatal(err)
		}
		w = zw
	default:
		if _, err := f.WriteString(stream); err != nil {
			t.Fatal(err)
		}
		return
	}
	if _, err := io.WriteString(w, stream); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenJSONL_Compression(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"plain.jsonl", "run.jsonl.gz", "run.ndjson.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			writeCompressed(t, path)

			src, err := OpenJSONL(path)
			if err != nil {
				t.Fatalf("OpenJSONL() error: %v", err)
			}
			defer src.Close()
			if got := len(readAll(t, src)); got != 3 {
				t.Errorf("read %d items, want 3", got)
			}
		})
	}
}

func TestCreate_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"gen.jsonl", "gen.jsonl.gz", "gen.jsonl.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			out, err := Create(path)
			if err != nil {
				t.Fatalf("Create() error: %v", err)
			}
			w := NewWriter(out)
			w.Write(model.KindStart, map[string]any{"uid": "abc"})
			w.Write(model.KindStop, map[string]any{"uid": "s", "run_start": "abc"})
			if err := w.Flush(); err != nil {
				t.Fatal(err)
			}
			if err := out.Close(); err != nil {
				t.Fatalf("Close() error: %v", err)
			}

			src, err := OpenJSONL(path)
			if err != nil {
				t.Fatal(err)
			}
			defer src.Close()
			if got := len(readAll(t, src)); got != 2 {
				t.Errorf("read %d items, want 2", got)
			}
		})
	}
}

func TestStripCompression(t *testing.T) {
	tests := map[string]string{
		"a.jsonl.gz":  "a.jsonl",
		"a.jsonl.ZST": "a.jsonl",
		"a.jsonl":     "a.jsonl",
	}
	for in, want := range tests {
		if got := StripCompression(in); got != want {
			t.Errorf("StripCompression(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExpand(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		filepath.Join(dir, "a.jsonl"),
		filepath.Join(sub, "b.ndjson.gz"),
		filepath.Join(sub, "notes.txt"),
	} {
		if err := os.WriteFile(p, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := Expand([]string{dir, filepath.Join(dir, "*.jsonl"), "-"})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	want := []string{"-", filepath.Join(dir, "a.jsonl"), filepath.Join(sub, "b.ndjson.gz")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand() = %v, want %v", got, want)
	}

	if _, err := Expand([]string{filepath.Join(dir, "missing-*.jsonl")}); !errors.Is(err, exerrors.ErrInvalidConfig) {
		t.Errorf("Expand(missing) error = %v, want InvalidConfig", err)
	}
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource("mem", []model.Item{{Kind: model.KindStart, Doc: map[string]any{"uid": "abc"}}})
	if got := len(readAll(t, src)); got != 1 {
		t.Errorf("read %d items, want 1", got)
	}
	if _, err := src.Next(context.Background()); err != io.EOF {
		t.Errorf("Next() after end = %v, want io.EOF", err)
	}
}
