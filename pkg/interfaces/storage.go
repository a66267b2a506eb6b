// Package interfaces declares the pluggable collaborators of the exporter.
package interfaces

import (
	"context"
	"io"
)

// ObjectStorage creates output objects atomically. Nothing written through
// an ObjectWriter is visible at its final location until Commit succeeds.
type ObjectStorage interface {
	// Create opens a pending object at path, relative to the storage root.
	Create(ctx context.Context, path string, opts CreateOptions) (ObjectWriter, error)

	// Exists reports whether a committed object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Location returns the user-facing location of path (file path or URL).
	Location(path string) string

	// Scheme returns the storage scheme (e.g., "file", "s3", "mem").
	Scheme() string
}

// ObjectWriter is a pending object. Exactly one of Commit or Abort must be
// called; both release the writer's resources.
type ObjectWriter interface {
	io.Writer

	// Commit publishes the written bytes at the final location.
	Commit() error

	// Abort discards the written bytes.
	Abort() error
}

// CreateOptions configures a pending object.
type CreateOptions struct {
	// Overwrite allows Commit to replace an existing object. Without it,
	// Commit fails if the object appeared after Create.
	Overwrite bool

	ContentType string
	Metadata    map[string]string
}
