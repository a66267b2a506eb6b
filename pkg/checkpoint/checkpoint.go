// Package checkpoint records the progress of export runs so interrupted
// exports can be found and reported after a restart.
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Status of a recorded run.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusErrored Status = "errored"
)

// Record tracks the progress of one run.
type Record struct {
	RunUID string `json:"run_uid"`
	Source string `json:"source,omitempty"`
	Status Status `json:"status"`

	// Progress
	Documents int64            `json:"documents"`
	Events    map[string]int64 `json:"events,omitempty"`
	LastSeq   map[string]int64 `json:"last_seq_num,omitempty"`

	Artifacts map[string][]string `json:"artifacts,omitempty"`
	Error     string              `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRecord creates an open record for runUID.
func NewRecord(runUID, source string) *Record {
	now := time.Now()
	return &Record{
		RunUID:    runUID,
		Source:    source,
		Status:    StatusOpen,
		Events:    map[string]int64{},
		LastSeq:   map[string]int64{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// SetStatus updates the status; terminal states set CompletedAt.
func (r *Record) SetStatus(s Status) {
	now := time.Now()
	r.Status = s
	r.UpdatedAt = now
	if s != StatusOpen {
		r.CompletedAt = &now
	}
}

// Done reports whether the run reached a terminal state.
func (r *Record) Done() bool {
	return r.Status == StatusClosed || r.Status == StatusErrored
}

// Duration returns how long the run has been (or was) open.
func (r *Record) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// FileBackend stores one JSON file per run in a directory.
type FileBackend struct {
	dir string
}

const fileExt = ".checkpoint"

// NewFileBackend creates dir if needed and returns a backend over it.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(id string) string {
	return filepath.Join(b.dir, sanitizeKey(id)+fileExt)
}

// Save writes the record through a temp file and rename.
func (b *FileBackend) Save(ctx context.Context, r *Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	dst := b.path(r.RunUID)
	tmp := dst + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Load reads the record of a run. A missing record is os.ErrNotExist.
func (b *FileBackend) Load(ctx context.Context, id string) (*Record, error) {
	return readRecord(b.path(id))
}

func readRecord(p string) (*Record, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint %s: %w", p, err)
	}
	return &r, nil
}

// Delete removes the record of a run.
func (b *FileBackend) Delete(ctx context.Context, id string) error {
	err := os.Remove(b.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns the records whose run uid starts with prefix, newest first.
func (b *FileBackend) List(ctx context.Context, prefix string) ([]*Record, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}

	var records []*Record
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != fileExt {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := readRecord(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			continue
		}
		if strings.HasPrefix(r.RunUID, prefix) {
			records = append(records, r)
		}
	}
	sortRecords(records)
	return records, nil
}

// ListIncomplete returns the records of runs that are still open.
func (b *FileBackend) ListIncomplete(ctx context.Context) ([]*Record, error) {
	all, err := b.List(ctx, "")
	if err != nil {
		return nil, err
	}
	return incomplete(all), nil
}

// Cleanup removes finished records last updated before maxAge ago.
func (b *FileBackend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	all, err := b.List(ctx, "")
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, r := range all {
		if r.Done() && r.UpdatedAt.Before(cutoff) {
			if err := os.Remove(b.path(r.RunUID)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Name returns "file".
func (b *FileBackend) Name() string {
	return "file"
}

func incomplete(records []*Record) []*Record {
	var out []*Record
	for _, r := range records {
		if !r.Done() {
			out = append(out, r)
		}
	}
	return out
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].StartedAt.After(records[j].StartedAt)
		}
		return records[i].RunUID < records[j].RunUID
	})
}

// sanitizeKey removes characters that may cause issues in keys and file names.
func sanitizeKey(s string) string {
	return strings.NewReplacer("/", "_", `\`, "_", ":", "_", " ", "_").Replace(s)
}
