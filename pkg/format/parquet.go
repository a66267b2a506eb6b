package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// ParquetEncoder writes a Parquet file through Arrow record batches.
type ParquetEncoder struct {
	batch  *batcher
	writer *pqarrow.FileWriter
}

// Codec maps a compression name to a Parquet codec.
func Codec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "lz4":
		return compress.Codecs.Lz4, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	}
	return compress.Codecs.Uncompressed, fmt.Errorf("unknown compression %q", name)
}

// NewParquet creates a Parquet encoder.
func NewParquet(w io.Writer, schema Schema, opts Options) (Encoder, error) {
	codec, err := Codec(opts.Compression)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024), // 1MB
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	b := newBatcher(schema, opts.batchSize())
	fw, err := pqarrow.NewFileWriter(b.arrow, writeOnly{w}, writerProps, arrowProps)
	if err != nil {
		b.release()
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	return &ParquetEncoder{batch: b, writer: fw}, nil
}

// Encode buffers rec and writes a row group when the batch is full.
func (e *ParquetEncoder) Encode(rec Record) error {
	full, err := e.batch.add(rec)
	if err != nil || !full {
		return err
	}
	return e.writeBatch()
}

func (e *ParquetEncoder) writeBatch() error {
	rec := e.batch.flush()
	if rec == nil {
		return nil
	}
	defer rec.Release()
	if err := e.writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write parquet batch: %w", err)
	}
	return nil
}

// Finalize writes pending rows and the file footer.
func (e *ParquetEncoder) Finalize() error {
	defer e.batch.release()
	if err := e.writeBatch(); err != nil {
		return err
	}
	return e.writer.Close()
}

// Discard releases buffered rows.
func (e *ParquetEncoder) Discard() {
	e.batch.release()
}
