package format

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"
)

const (
	dataSheet     = "data"
	metadataSheet = "metadata"
)

// XLSXEncoder streams rows into a workbook and writes it on Finalize.
// The workbook has a data sheet and a metadata sheet of key/value pairs.
type XLSXEncoder struct {
	w      io.Writer
	schema Schema
	file   *excelize.File
	stream *excelize.StreamWriter
	row    int
}

// NewXLSX creates an Excel encoder.
func NewXLSX(w io.Writer, schema Schema, _ Options) (Encoder, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", dataSheet); err != nil {
		f.Close()
		return nil, err
	}
	sw, err := f.NewStreamWriter(dataSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create xlsx stream: %w", err)
	}

	names := schema.Names()
	header := make([]interface{}, len(names))
	for i, n := range names {
		header[i] = n
	}
	if err := sw.SetRow("A1", header); err != nil {
		f.Close()
		return nil, err
	}
	return &XLSXEncoder{w: w, schema: schema, file: f, stream: sw, row: 1}, nil
}

// Encode appends rec as the next row.
func (e *XLSXEncoder) Encode(rec Record) error {
	e.row++
	cell, err := excelize.CoordinatesToCellName(1, e.row)
	if err != nil {
		return err
	}

	values := make([]interface{}, 0, 3+len(e.schema.Columns))
	values = append(values, rec.SeqNum, rec.Time, rec.Elapsed)
	for _, c := range e.schema.Columns {
		values = append(values, cellValue(c.Type, rec.Values[c.Name]))
	}
	return e.stream.SetRow(cell, values)
}

func cellValue(t ColumnType, v any) interface{} {
	if v == nil {
		return nil
	}
	switch t {
	case TypeFloat64:
		if f, ok := asFloat64(v); ok {
			return f
		}
	case TypeInt64:
		if n, ok := asInt64(v); ok {
			return n
		}
	case TypeBool:
		if b, ok := asBool(v); ok {
			return b
		}
	}
	return asText(v)
}

// Finalize writes the metadata sheet and the workbook.
func (e *XLSXEncoder) Finalize() error {
	defer e.file.Close()
	if err := e.stream.Flush(); err != nil {
		return err
	}

	if len(e.schema.Metadata) > 0 {
		if _, err := e.file.NewSheet(metadataSheet); err != nil {
			return err
		}
		keys := make([]string, 0, len(e.schema.Metadata))
		for k := range e.schema.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			cell, _ := excelize.CoordinatesToCellName(1, i+1)
			row := []interface{}{k, e.schema.Metadata[k]}
			if err := e.file.SetSheetRow(metadataSheet, cell, &row); err != nil {
				return err
			}
		}
	}

	_, err := e.file.WriteTo(e.w)
	return err
}

// Discard closes the workbook without writing it.
func (e *XLSXEncoder) Discard() {
	e.file.Close()
}
