// Package sources reads document streams: JSON Lines files (optionally gzip
// or zstd compressed), stdin, and in-memory item lists.
package sources

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/validation"
)

// Open opens path for reading, decompressing .gz and .zst transparently.
// "-" reads stdin. The caller must call the returned cleanup function.
func Open(path string) (io.Reader, func() error, error) {
	if path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	switch Compression(path) {
	case "gzip":
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, nil, err
		}
		return gz, func() error {
			gz.Close()
			return file.Close()
		}, nil
	case "zstd":
		zr, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, nil, err
		}
		return zr, func() error {
			zr.Close()
			return file.Close()
		}, nil
	}
	return file, file.Close, nil
}

// Create creates path for writing, compressing by extension like Open.
// "-" writes to stdout. Close flushes the compressor and the file.
func Create(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	switch Compression(path) {
	case "gzip":
		return &stackedWriter{WriteCloser: gzip.NewWriter(file), file: file}, nil
	case "zstd":
		zw, err := zstd.NewWriter(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		return &stackedWriter{WriteCloser: zw, file: file}, nil
	}
	return file, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// stackedWriter closes a compressor and then the file beneath it.
type stackedWriter struct {
	io.WriteCloser
	file *os.File
}

func (w *stackedWriter) Close() error {
	err := w.WriteCloser.Close()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Compression names the codec implied by the extension of path, or "".
func Compression(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return "gzip"
	case strings.HasSuffix(lower, ".zst"):
		return "zstd"
	}
	return ""
}

// StripCompression removes a compression extension from path.
func StripCompression(path string) string {
	switch Compression(path) {
	case "gzip":
		return path[:len(path)-len(".gz")]
	case "zstd":
		return path[:len(path)-len(".zst")]
	}
	return path
}

// Expand resolves glob patterns and directories into the sorted list of
// document streams they name. Directories are searched recursively.
func Expand(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, pattern := range patterns {
		if pattern == "-" {
			add(pattern)
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, exerrors.Wrapf(err, exerrors.CodeInvalidConfig, "bad input pattern %q", pattern)
		}
		if len(matches) == 0 {
			return nil, exerrors.New(exerrors.CodeInvalidConfig, "input not found").WithContext("path", pattern)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, exerrors.Wrap(err, exerrors.CodeInvalidConfig, "cannot access input").WithContext("path", m)
			}
			if !info.IsDir() {
				add(m)
				continue
			}
			err = filepath.WalkDir(m, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && validation.IsDocumentStream(p) {
					add(p)
				}
				return nil
			})
			if err != nil {
				return nil, exerrors.Wrap(err, exerrors.CodeInvalidConfig, "cannot scan input directory").WithContext("path", m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
