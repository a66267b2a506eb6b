package format

import (
	"encoding/csv"
	"io"
)

// CSVEncoder writes a header row followed by one row per record.
type CSVEncoder struct {
	w      *csv.Writer
	schema Schema
	row    []string
}

// NewCSV creates a CSV encoder and writes the header.
func NewCSV(w io.Writer, schema Schema, _ Options) (Encoder, error) {
	e := &CSVEncoder{
		w:      csv.NewWriter(w),
		schema: schema,
		row:    make([]string, 3+len(schema.Columns)),
	}
	if err := e.w.Write(schema.Names()); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode writes rec as one row.
func (e *CSVEncoder) Encode(rec Record) error {
	e.row[0] = asText(rec.SeqNum)
	e.row[1] = asText(rec.Time)
	e.row[2] = asText(rec.Elapsed)
	for i, c := range e.schema.Columns {
		e.row[3+i] = asText(rec.Values[c.Name])
	}
	if err := e.w.Write(e.row); err != nil {
		return err
	}
	return nil
}

// Finalize flushes buffered rows.
func (e *CSVEncoder) Finalize() error {
	e.w.Flush()
	return e.w.Error()
}

// Discard is a no-op.
func (e *CSVEncoder) Discard() {}
