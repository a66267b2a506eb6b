package validation

import (
	"os"
	"path/filepath"
	"strings"

	exerrors "github.com/logflow/docexport/pkg/errors"
)

// MaxPathLength is the maximum allowed path length.
const MaxPathLength = 4096

// supportedInputs lists the document stream encodings sources can open.
var supportedInputs = []string{".jsonl", ".jsonl.gz", ".jsonl.zst", ".ndjson", ".ndjson.gz", ".ndjson.zst"}

// ValidateInputFile validates that an input document stream exists and is readable.
func ValidateInputFile(path string) error {
	if path == "-" {
		return nil // stdin is always valid
	}
	if path == "" {
		return exerrors.New(exerrors.CodeInvalidConfig, "empty input path")
	}
	if len(path) > MaxPathLength {
		return exerrors.New(exerrors.CodeInvalidConfig, "path too long").
			WithContext("maxLength", MaxPathLength)
	}

	info, err := os.Stat(filepath.Clean(path))
	if os.IsNotExist(err) {
		return exerrors.New(exerrors.CodeInvalidConfig, "input not found").WithContext("path", path)
	}
	if err != nil {
		return exerrors.Wrap(err, exerrors.CodeInvalidConfig, "cannot access input").WithContext("path", path)
	}
	if info.IsDir() {
		return exerrors.New(exerrors.CodeInvalidConfig, "path is a directory, expected file").
			WithContext("path", path)
	}

	if !IsDocumentStream(path) {
		return exerrors.New(exerrors.CodeInvalidConfig, "unsupported input extension").
			WithContext("path", path).
			WithContext("supported", strings.Join(supportedInputs, ", "))
	}
	return nil
}

// IsDocumentStream reports whether path has a recognized stream extension.
func IsDocumentStream(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range supportedInputs {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ValidateOutputDir validates an output directory, creating it if needed.
func ValidateOutputDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", exerrors.Wrap(err, exerrors.CodeInvalidConfig, "invalid output directory")
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", exerrors.Wrap(err, exerrors.CodeFileWrite, "cannot create output directory").
			WithContext("path", abs)
	}
	return abs, nil
}
