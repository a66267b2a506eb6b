package format

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// DuckDBEncoder stages rows in an in-memory DuckDB table and exports them
// as Parquet with COPY on Finalize.
type DuckDBEncoder struct {
	w       io.Writer
	schema  Schema
	opts    Options
	db      *sql.DB
	tx      *sql.Tx
	stmt    *sql.Stmt
	pending int
	args    []any
}

// NewDuckDB creates a DuckDB-backed Parquet encoder.
func NewDuckDB(w io.Writer, schema Schema, opts Options) (Encoder, error) {
	if _, err := Codec(opts.Compression); err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)

	cols := []string{
		quoteIdent(ColumnSeqNum) + " BIGINT NOT NULL",
		quoteIdent(ColumnTime) + " DOUBLE NOT NULL",
		quoteIdent(ColumnElapsed) + " DOUBLE NOT NULL",
	}
	for _, c := range schema.Columns {
		cols = append(cols, quoteIdent(c.Name)+" "+sqlType(c.Type))
	}
	if _, err := db.Exec("CREATE TABLE records (" + strings.Join(cols, ", ") + ")"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	e := &DuckDBEncoder{
		w:      w,
		schema: schema,
		opts:   opts,
		db:     db,
		args:   make([]any, 3+len(schema.Columns)),
	}
	if err := e.begin(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *DuckDBEncoder) begin() error {
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(e.args)), ", ")
	stmt, err := tx.Prepare("INSERT INTO records VALUES (" + placeholders + ")")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	e.tx, e.stmt = tx, stmt
	return nil
}

func (e *DuckDBEncoder) commitBatch() error {
	e.stmt.Close()
	if err := e.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	e.pending = 0
	return nil
}

// Encode inserts rec; rows are committed in batches.
func (e *DuckDBEncoder) Encode(rec Record) error {
	e.args[0] = rec.SeqNum
	e.args[1] = rec.Time
	e.args[2] = rec.Elapsed
	for i, c := range e.schema.Columns {
		v, err := typedValue(c, rec.Values[c.Name])
		if err != nil {
			return err
		}
		e.args[3+i] = v
	}
	if _, err := e.stmt.Exec(e.args...); err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}

	e.pending++
	if e.pending >= e.opts.batchSize() {
		if err := e.commitBatch(); err != nil {
			return err
		}
		return e.begin()
	}
	return nil
}

// Finalize exports the table to a temporary Parquet file and copies it to
// the sink.
func (e *DuckDBEncoder) Finalize() error {
	defer e.db.Close()
	if err := e.commitBatch(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "docexport-duckdb-*.parquet")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	compression := strings.ToLower(e.opts.Compression)
	switch compression {
	case "":
		compression = "snappy"
	case "none":
		compression = "uncompressed"
	}
	query := fmt.Sprintf("COPY records TO '%s' (FORMAT PARQUET, COMPRESSION '%s')",
		strings.ReplaceAll(tmpPath, "'", "''"), compression)
	if _, err := e.db.Exec(query); err != nil {
		return fmt.Errorf("failed to export parquet: %w", err)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(e.w, f)
	return err
}

// Discard drops the staged rows.
func (e *DuckDBEncoder) Discard() {
	if e.stmt != nil {
		e.stmt.Close()
	}
	if e.tx != nil {
		e.tx.Rollback()
	}
	e.db.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlType(t ColumnType) string {
	switch t {
	case TypeFloat64:
		return "DOUBLE"
	case TypeInt64:
		return "BIGINT"
	case TypeBool:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}
