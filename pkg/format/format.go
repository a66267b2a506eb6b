// Package format provides the record encoders that turn a stream's events
// into output files. Each format registers a Factory under its name.
package format

import (
	"io"
	"sort"
	"strings"
	"sync"

	exerrors "github.com/logflow/docexport/pkg/errors"
)

// Record is one output row. Values are keyed by column name.
type Record struct {
	SeqNum  int64
	Time    float64
	Elapsed float64
	Values  map[string]any
}

// Encoder writes records of one schema to a sink. Finalize writes trailing
// data and must be called once after the last Encode; Discard releases
// resources without completing the output.
type Encoder interface {
	Encode(rec Record) error
	Finalize() error
	Discard()
}

// Options configures encoders.
type Options struct {
	// Compression names a codec: none, snappy, gzip, zstd, lz4.
	Compression string

	// BatchSize is the number of rows buffered per columnar batch.
	BatchSize int
}

// DefaultOptions returns the default encoder options.
func DefaultOptions() Options {
	return Options{Compression: "snappy", BatchSize: 1024}
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultOptions().BatchSize
	}
	return o.BatchSize
}

// Factory creates an encoder writing to w.
type Factory func(w io.Writer, schema Schema, opts Options) (Encoder, error)

// Format is a registered output format.
type Format struct {
	Name      string
	Extension string
	New       Factory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Format{}
)

// Register adds a format. Registering a name twice replaces it.
func Register(f Format) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[f.Name] = f
}

// Lookup returns the format registered under name.
func Lookup(name string) (Format, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return Format{}, exerrors.Newf(exerrors.CodeInvalidConfig, "unknown format %q", name).
			WithContext("known", strings.Join(namesLocked(), ", "))
	}
	return f, nil
}

// Names returns the registered format names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(Format{Name: "jsonl", Extension: ".jsonl", New: NewJSONL})
	Register(Format{Name: "csv", Extension: ".csv", New: NewCSV})
	Register(Format{Name: "parquet", Extension: ".parquet", New: NewParquet})
	Register(Format{Name: "arrow", Extension: ".arrow", New: NewArrow})
	Register(Format{Name: "xlsx", Extension: ".xlsx", New: NewXLSX})
	Register(Format{Name: "duckdb", Extension: ".parquet", New: NewDuckDB})
}

// writeOnly hides io.Closer on sinks handed to writers that close them.
type writeOnly struct {
	io.Writer
}
