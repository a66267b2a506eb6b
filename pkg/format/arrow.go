package format

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
)

// ArrowSchema converts a Schema to an Arrow schema with its metadata.
func ArrowSchema(s Schema) *arrow.Schema {
	fields := []arrow.Field{
		{Name: ColumnSeqNum, Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: ColumnTime, Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: ColumnElapsed, Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	}
	for _, c := range s.Columns {
		fields = append(fields, arrow.Field{Name: c.Name, Type: arrowType(c.Type), Nullable: true})
	}

	var md *arrow.Metadata
	if len(s.Metadata) > 0 {
		m := arrow.MetadataFrom(s.Metadata)
		md = &m
	}
	return arrow.NewSchema(fields, md)
}

func arrowType(t ColumnType) arrow.DataType {
	switch t {
	case TypeFloat64:
		return arrow.PrimitiveTypes.Float64
	case TypeInt64:
		return arrow.PrimitiveTypes.Int64
	case TypeBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// batcher accumulates records into Arrow record batches.
type batcher struct {
	schema  Schema
	arrow   *arrow.Schema
	builder *array.RecordBuilder
	rows    int
	size    int
	cells   []any
}

func newBatcher(s Schema, size int) *batcher {
	as := ArrowSchema(s)
	return &batcher{
		schema:  s,
		arrow:   as,
		builder: array.NewRecordBuilder(memory.NewGoAllocator(), as),
		size:    size,
	}
}

// add appends rec and reports whether the batch is full. Values are
// converted before anything is appended so a rejected record leaves the
// builders aligned.
func (b *batcher) add(rec Record) (bool, error) {
	if cap(b.cells) < len(b.schema.Columns) {
		b.cells = make([]any, len(b.schema.Columns))
	}
	cells := b.cells[:len(b.schema.Columns)]
	for i, c := range b.schema.Columns {
		v, err := typedValue(c, rec.Values[c.Name])
		if err != nil {
			return false, err
		}
		cells[i] = v
	}

	b.builder.Field(0).(*array.Int64Builder).Append(rec.SeqNum)
	b.builder.Field(1).(*array.Float64Builder).Append(rec.Time)
	b.builder.Field(2).(*array.Float64Builder).Append(rec.Elapsed)

	for i, v := range cells {
		fb := b.builder.Field(3 + i)
		if v == nil {
			fb.AppendNull()
			continue
		}
		switch bld := fb.(type) {
		case *array.Float64Builder:
			bld.Append(v.(float64))
		case *array.Int64Builder:
			bld.Append(v.(int64))
		case *array.BooleanBuilder:
			bld.Append(v.(bool))
		case *array.StringBuilder:
			bld.Append(v.(string))
		}
	}
	b.rows++
	return b.rows >= b.size, nil
}

// flush builds the pending batch; the caller releases it. It returns nil
// when no rows are pending.
func (b *batcher) flush() arrow.Record {
	if b.rows == 0 {
		return nil
	}
	b.rows = 0
	return b.builder.NewRecord()
}

func (b *batcher) release() {
	if b.builder != nil {
		b.builder.Release()
		b.builder = nil
	}
}

// ArrowEncoder writes an Arrow IPC file (the random-access format with a
// footer, conventionally named .arrow).
type ArrowEncoder struct {
	batch  *batcher
	writer *ipc.FileWriter
}

// NewArrow creates an Arrow IPC file encoder.
func NewArrow(w io.Writer, schema Schema, opts Options) (Encoder, error) {
	b := newBatcher(schema, opts.batchSize())
	fw, err := ipc.NewFileWriter(writeOnly{w}, ipc.WithSchema(b.arrow), ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		b.release()
		return nil, fmt.Errorf("failed to create arrow writer: %w", err)
	}
	return &ArrowEncoder{batch: b, writer: fw}, nil
}

// Encode buffers rec and writes a batch when full.
func (e *ArrowEncoder) Encode(rec Record) error {
	full, err := e.batch.add(rec)
	if err != nil || !full {
		return err
	}
	return e.writeBatch()
}

func (e *ArrowEncoder) writeBatch() error {
	rec := e.batch.flush()
	if rec == nil {
		return nil
	}
	defer rec.Release()
	if err := e.writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write arrow batch: %w", err)
	}
	return nil
}

// Finalize writes pending rows and the file footer.
func (e *ArrowEncoder) Finalize() error {
	defer e.batch.release()
	if err := e.writeBatch(); err != nil {
		return err
	}
	return e.writer.Close()
}

// Discard releases buffered rows.
func (e *ArrowEncoder) Discard() {
	e.batch.release()
}
