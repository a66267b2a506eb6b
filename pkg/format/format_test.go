package format

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/xuri/excelize/v2"

	"github.com/logflow/docexport/internal/model"
	exerrors "github.com/logflow/docexport/pkg/errors"
)

var testDescriptor = model.Descriptor{
	UID:  "d1",
	Name: "primary",
	DataKeys: map[string]model.DataKey{
		"det":   {Dtype: "number"},
		"count": {Dtype: "integer"},
		"fit":   {Dtype: "array", Fields: []string{"amp", "center"}},
		"label": {Dtype: "string"},
		"image": {Dtype: "array", External: "FILESTORE:"},
		"time":  {Dtype: "number"},
	},
}

func testSchema() Schema {
	sample := map[string]any{
		"det":   1.5,
		"count": 3.0,
		"fit":   map[string]any{"amp": 2.0, "center": 0.5},
		"label": "a",
	}
	s := NewSchema(testDescriptor, sample)
	s.Metadata["stream_name"] = "primary"
	return s
}

func testRecords(s Schema) []Record {
	var recs []Record
	for i := 1; i <= 3; i++ {
		data := map[string]any{
			"det":   float64(i) * 1.5,
			"count": float64(i),
			"fit":   map[string]any{"amp": 2.0, "center": float64(i)},
			"label": "pt",
			"image": map[string]any{"path": "/data/x.h5"},
		}
		if i == 2 {
			data["det"] = nil
		}
		recs = append(recs, Record{
			SeqNum:  int64(i),
			Time:    100 + float64(i),
			Elapsed: float64(i),
			Values:  s.Values(data),
		})
	}
	return recs
}

func encodeAll(t *testing.T, name string, opts Options) ([]byte, Schema) {
	t.Helper()
	f, err := Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%q) error: %v", name, err)
	}
	s := testSchema()
	var buf bytes.Buffer
	enc, err := f.New(&buf, s, opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	for _, rec := range testRecords(s) {
		if err := enc.Encode(rec); err != nil {
			t.Fatalf("Encode() error: %v", err)
		}
	}
	if err := enc.Finalize(); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	return buf.Bytes(), s
}

func TestNewSchema(t *testing.T) {
	s := testSchema()
	want := []string{
		"seq_num", "time", "elapsed_time",
		"count", "det", "fit/amp", "fit/center", "image", "label", "data/time",
	}
	got := s.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	types := map[string]ColumnType{}
	for _, c := range s.Columns {
		types[c.Name] = c.Type
	}
	if types["count"] != TypeInt64 || types["det"] != TypeFloat64 || types["image"] != TypeJSON || types["label"] != TypeString {
		t.Errorf("unexpected column types: %v", types)
	}
}

func TestNewSchema_MembersFromSample(t *testing.T) {
	desc := model.Descriptor{DataKeys: map[string]model.DataKey{"peak": {Dtype: "array"}}}
	s := NewSchema(desc, map[string]any{"peak": map[string]any{"y": 1.0, "x": true}})
	got := s.Names()[3:]
	if len(got) != 2 || got[0] != "peak/x" || got[1] != "peak/y" {
		t.Errorf("member columns = %v", got)
	}
	if s.Columns[0].Type != TypeBool {
		t.Errorf("peak/x type = %v, want bool", s.Columns[0].Type)
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"jsonl", "csv", "parquet", "arrow", "xlsx", "duckdb"} {
		if _, err := Lookup(name); err != nil {
			t.Errorf("Lookup(%q) error: %v", name, err)
		}
	}
	if _, err := Lookup("hdf5"); err == nil {
		t.Error("Lookup(hdf5) succeeded")
	}
}

func TestJSONL(t *testing.T) {
	data, _ := encodeAll(t, "jsonl", DefaultOptions())
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	want := `{"seq_num":2,"time":102,"elapsed_time":2,"count":2,"det":null,"fit/amp":2,"fit/center":2,"image":{"path":"/data/x.h5"},"label":"pt","data/time":null}`
	if lines[1] != want {
		t.Errorf("line 2 = %s\nwant     %s", lines[1], want)
	}
}

func TestCSV(t *testing.T) {
	data, _ := encodeAll(t, "csv", DefaultOptions())
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	if lines[0] != "seq_num,time,elapsed_time,count,det,fit/amp,fit/center,image,label,data/time" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != `1,101,1,1,1.5,2,1,"{""path"":""/data/x.h5""}",pt,` {
		t.Errorf("row 1 = %q", lines[1])
	}
}

func TestParquet(t *testing.T) {
	data, _ := encodeAll(t, "parquet", Options{Compression: "zstd", BatchSize: 2})
	tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
		parquet.NewReaderProperties(memory.DefaultAllocator), pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("ReadTable() error: %v", err)
	}
	defer tbl.Release()

	if tbl.NumRows() != 3 {
		t.Errorf("NumRows() = %d, want 3", tbl.NumRows())
	}
	if tbl.NumCols() != 10 {
		t.Errorf("NumCols() = %d, want 10", tbl.NumCols())
	}
	if v, ok := tbl.Schema().Metadata().GetValue("stream_name"); !ok || v != "primary" {
		t.Errorf("schema metadata stream_name = %q, %v", v, ok)
	}
}

func TestParquet_UnknownCompression(t *testing.T) {
	if _, err := NewParquet(&bytes.Buffer{}, testSchema(), Options{Compression: "rar"}); err == nil {
		t.Error("NewParquet() with unknown codec succeeded")
	}
}

func TestArrow(t *testing.T) {
	data, _ := encodeAll(t, "arrow", Options{BatchSize: 2})
	if !bytes.HasPrefix(data, []byte("ARROW1")) {
		t.Fatalf("output does not start with the arrow file magic")
	}
	r, err := ipc.NewFileReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewFileReader() error: %v", err)
	}
	defer r.Close()

	rows := int64(0)
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			t.Fatalf("Record(%d) error: %v", i, err)
		}
		rows += rec.NumRows()
	}
	if rows != 3 {
		t.Errorf("read %d rows, want 3", rows)
	}
	if len(r.Schema().Fields()) != 10 {
		t.Errorf("schema has %d fields, want 10", len(r.Schema().Fields()))
	}
}

func TestXLSX(t *testing.T) {
	data, _ := encodeAll(t, "xlsx", DefaultOptions())
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(dataSheet)
	if err != nil {
		t.Fatalf("GetRows() error: %v", err)
	}
	if len(rows) != 4 || rows[0][0] != "seq_num" || rows[3][0] != "3" {
		t.Errorf("unexpected rows: %v", rows)
	}
	meta, _ := f.GetRows(metadataSheet)
	if len(meta) != 1 || meta[0][0] != "stream_name" || meta[0][1] != "primary" {
		t.Errorf("metadata sheet = %v", meta)
	}
}

func TestDuckDB(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping duckdb export in short mode")
	}
	data, _ := encodeAll(t, "duckdb", Options{Compression: "snappy", BatchSize: 2})
	if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Fatalf("output is not a parquet file (%d bytes)", len(data))
	}
	tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
		parquet.NewReaderProperties(memory.DefaultAllocator), pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("ReadTable() error: %v", err)
	}
	defer tbl.Release()
	if tbl.NumRows() != 3 {
		t.Errorf("NumRows() = %d, want 3", tbl.NumRows())
	}
}

func TestDiscard(t *testing.T) {
	for _, name := range []string{"jsonl", "csv", "parquet", "arrow", "xlsx"} {
		f, _ := Lookup(name)
		s := testSchema()
		enc, err := f.New(&bytes.Buffer{}, s, DefaultOptions())
		if err != nil {
			t.Fatalf("%s: New() error: %v", name, err)
		}
		enc.Encode(testRecords(s)[0])
		enc.Discard()
	}
}

func TestTypedEncoders_RejectMismatchedValues(t *testing.T) {
	bad := []map[string]any{
		{"det": "not-a-number"},
		{"count": 1.5},
		{"count": map[string]any{"a": 1.0}},
	}
	for _, name := range []string{"parquet", "arrow", "duckdb"} {
		if name == "duckdb" && testing.Short() {
			continue
		}
		t.Run(name, func(t *testing.T) {
			f, _ := Lookup(name)
			s := testSchema()
			var buf bytes.Buffer
			enc, err := f.New(&buf, s, DefaultOptions())
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			for _, data := range bad {
				err := enc.Encode(Record{SeqNum: 9, Time: 109, Elapsed: 9, Values: s.Values(data)})
				if !errors.Is(err, exerrors.ErrInvalidDocument) {
					t.Errorf("Encode(%v) = %v, want InvalidDocument", data, err)
				}
			}

			// Rejected records leave nothing behind.
			for _, rec := range testRecords(s) {
				if err := enc.Encode(rec); err != nil {
					t.Fatalf("Encode() error: %v", err)
				}
			}
			if err := enc.Finalize(); err != nil {
				t.Fatalf("Finalize() error: %v", err)
			}
			if name == "arrow" {
				return
			}
			tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(buf.Bytes()),
				parquet.NewReaderProperties(memory.DefaultAllocator), pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
			if err != nil {
				t.Fatalf("ReadTable() error: %v", err)
			}
			defer tbl.Release()
			if tbl.NumRows() != 3 {
				t.Errorf("NumRows() = %d, want 3", tbl.NumRows())
			}
		})
	}
}

func TestNewSchema_NullSampleMemberIsText(t *testing.T) {
	desc := model.Descriptor{DataKeys: map[string]model.DataKey{"peak": {Dtype: "array", Fields: []string{"x"}}}}
	s := NewSchema(desc, map[string]any{"peak": map[string]any{"x": nil}})
	if s.Columns[0].Type != TypeJSON {
		t.Errorf("peak/x type = %v, want json", s.Columns[0].Type)
	}
	v, err := typedValue(s.Columns[0], "late string")
	if err != nil || v != "late string" {
		t.Errorf("typedValue() = %v, %v", v, err)
	}
}
