package format

import (
	"io"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/logflow/docexport/internal/pool"
)

// JSONLEncoder writes one JSON object per record, columns in schema order.
type JSONLEncoder struct {
	w      io.Writer
	schema Schema
	keys   [][]byte
}

// NewJSONL creates a JSON Lines encoder.
func NewJSONL(w io.Writer, schema Schema, _ Options) (Encoder, error) {
	e := &JSONLEncoder{w: w, schema: schema}
	for _, c := range schema.Columns {
		k, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		e.keys = append(e.keys, k)
	}
	return e, nil
}

// Encode writes rec as a single line.
func (e *JSONLEncoder) Encode(rec Record) error {
	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)

	buf.Data = append(buf.Data, `{"seq_num":`...)
	buf.Data = strconv.AppendInt(buf.Data, rec.SeqNum, 10)
	buf.Data = append(buf.Data, `,"time":`...)
	buf.Data = appendFloat(buf.Data, rec.Time)
	buf.Data = append(buf.Data, `,"elapsed_time":`...)
	buf.Data = appendFloat(buf.Data, rec.Elapsed)

	for i, c := range e.schema.Columns {
		buf.Data = append(buf.Data, ',')
		buf.Data = append(buf.Data, e.keys[i]...)
		buf.Data = append(buf.Data, ':')

		v := rec.Values[c.Name]
		if f, ok := v.(float64); ok {
			buf.Data = appendFloat(buf.Data, f)
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			buf.Data = append(buf.Data, "null"...)
			continue
		}
		buf.Data = append(buf.Data, b...)
	}
	buf.Data = append(buf.Data, '}', '\n')

	_, err := e.w.Write(buf.Data)
	return err
}

// Finalize is a no-op; every line is complete once written.
func (e *JSONLEncoder) Finalize() error { return nil }

// Discard is a no-op.
func (e *JSONLEncoder) Discard() {}

func appendFloat(dst []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(dst, "null"...)
	}
	return strconv.AppendFloat(dst, f, 'g', -1, 64)
}
