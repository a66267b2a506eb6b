package serializer

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/logflow/docexport/internal/model"
	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/filemanager"
	"github.com/logflow/docexport/pkg/storage/object"
)

func newTestRouter(t *testing.T, files *filemanager.Manager, mutate func(*Config)) *Router {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewRouter(cfg, files, WithLogger(quiet))
	if err != nil {
		t.Fatalf("NewRouter() error: %v", err)
	}
	return r
}

func TestRouter_InterleavedRuns(t *testing.T) {
	ctx := context.Background()
	store := object.NewMemoryStorage()
	r := newTestRouter(t, filemanager.New(store), nil)

	docs := []model.Item{
		{Kind: model.KindStart, Doc: startDoc("abc")},
		{Kind: model.KindDescriptor, Doc: descDoc("d1", "abc", "primary", "x")},
		{Kind: model.KindStart, Doc: startDoc("def")},
		{Kind: model.KindDescriptor, Doc: descDoc("d2", "def", "primary", "x")},
		{Kind: model.KindEvent, Doc: eventDoc("d1", 1, map[string]any{"x": 1.0})},
		{Kind: model.KindEvent, Doc: eventDoc("d2", 1, map[string]any{"x": 10.0})},
		{Kind: model.KindEvent, Doc: eventDoc("d2", 2, map[string]any{"x": 20.0})},
		{Kind: model.KindStop, Doc: stopDoc("def")},
		{Kind: model.KindEvent, Doc: eventDoc("d1", 2, map[string]any{"x": 2.0})},
		{Kind: model.KindStop, Doc: stopDoc("abc")},
	}
	for _, item := range docs {
		if err := r.Process(ctx, item.Kind, item.Doc); err != nil {
			t.Fatalf("Process(%s) error: %v", item.Kind, err)
		}
	}

	manifests := r.Manifests()
	if len(manifests) != 2 || manifests[0].RunUID != "def" || manifests[1].RunUID != "abc" {
		t.Fatalf("Manifests() = %+v", manifests)
	}
	if got := store.Paths(); !reflect.DeepEqual(got, []string{"abc-primary.jsonl", "def-primary.jsonl"}) {
		t.Errorf("Paths() = %v", got)
	}
	if r.Open() != 0 || r.Failed() != 0 {
		t.Errorf("Open() = %d, Failed() = %d", r.Open(), r.Failed())
	}
}

func TestRouter_Errors(t *testing.T) {
	ctx := context.Background()
	store := object.NewMemoryStorage()
	r := newTestRouter(t, filemanager.New(store), nil)

	if err := r.Process(ctx, model.KindEvent, eventDoc("d1", 1, map[string]any{"x": 1.0})); !errors.Is(err, exerrors.ErrOutOfSequence) {
		t.Errorf("event without run = %v, want OutOfSequence", err)
	}
	if err := r.Process(ctx, model.KindStop, stopDoc("nope")); err != nil {
		t.Errorf("stop for unknown run = %v, want nil", err)
	}

	r.Process(ctx, model.KindStart, startDoc("abc"))
	if err := r.Process(ctx, model.KindStart, startDoc("abc")); !errors.Is(err, exerrors.ErrOutOfSequence) {
		t.Errorf("duplicate start = %v, want OutOfSequence", err)
	}

	// Descriptors without run_start go to the current run.
	d := descDoc("d1", "", "primary", "x")
	delete(d, "run_start")
	if err := r.Process(ctx, model.KindDescriptor, d); err != nil {
		t.Fatalf("Process(descriptor) error: %v", err)
	}
	r.Process(ctx, model.KindEvent, eventDoc("d1", 1, map[string]any{"x": 1.0}))

	if err := r.Close(ctx); err == nil {
		t.Error("Close() with an open run returned nil")
	}
	if r.Failed() != 1 || len(store.Paths()) != 0 {
		t.Errorf("Failed() = %d, Paths() = %v", r.Failed(), store.Paths())
	}
}

func TestRouter_DropsDocumentsOfFailedRun(t *testing.T) {
	ctx := context.Background()
	store := object.NewMemoryStorage()
	r := newTestRouter(t, filemanager.New(store), nil)

	for _, item := range []model.Item{
		{Kind: model.KindStart, Doc: startDoc("abc")},
		{Kind: model.KindDescriptor, Doc: descDoc("d1", "abc", "primary", "x")},
		{Kind: model.KindStart, Doc: startDoc("def")},
		{Kind: model.KindDescriptor, Doc: descDoc("d2", "def", "primary", "x")},
	} {
		if err := r.Process(ctx, item.Kind, item.Doc); err != nil {
			t.Fatalf("Process(%s) error: %v", item.Kind, err)
		}
	}

	if err := r.Process(ctx, model.KindEvent, eventDoc("d1", 1, map[string]any{"x": 1.0, "y": 1.0})); !errors.Is(err, exerrors.ErrUnknownField) {
		t.Fatalf("unknown field = %v, want UnknownField", err)
	}
	if r.Failed() != 1 {
		t.Fatalf("Failed() = %d, want 1", r.Failed())
	}

	for _, item := range []model.Item{
		{Kind: model.KindEvent, Doc: eventDoc("d1", 2, map[string]any{"x": 2.0})},
		{Kind: model.KindStop, Doc: stopDoc("abc")},
		{Kind: model.KindEvent, Doc: eventDoc("d2", 1, map[string]any{"x": 1.0})},
		{Kind: model.KindStop, Doc: stopDoc("def")},
	} {
		if err := r.Process(ctx, item.Kind, item.Doc); err != nil {
			t.Errorf("Process(%s) error: %v", item.Kind, err)
		}
	}
	if r.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", r.Dropped())
	}
	if got := store.Paths(); !reflect.DeepEqual(got, []string{"def-primary.jsonl"}) {
		t.Errorf("Paths() = %v", got)
	}
}

func TestRouter_SharedManagerAcrossGoroutines(t *testing.T) {
	ctx := context.Background()
	store := object.NewMemoryStorage()
	files := filemanager.New(store)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := newTestRouter(t, files, func(c *Config) { c.OverwritePolicy = filemanager.PolicySuffix })
			for _, item := range []model.Item{
				{Kind: model.KindStart, Doc: startDoc("abc")},
				{Kind: model.KindDescriptor, Doc: descDoc("d1", "abc", "primary", "x")},
				{Kind: model.KindEvent, Doc: eventDoc("d1", 1, map[string]any{"x": 1.0})},
				{Kind: model.KindStop, Doc: stopDoc("abc")},
			} {
				if err := r.Process(ctx, item.Kind, item.Doc); err != nil {
					t.Errorf("Process(%s) error: %v", item.Kind, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := len(store.Paths()); got != 4 {
		t.Errorf("committed %d files, want 4 distinct paths: %v", got, store.Paths())
	}
}

func TestRouter_UnroutableDocumentsFailCurrentRun(t *testing.T) {
	tests := []struct {
		name string
		docs []model.Item
		want error
	}{
		{
			name: "datum on undeclared resource",
			docs: []model.Item{
				{Kind: model.KindStart, Doc: startDoc("abc")},
				{Kind: model.KindDescriptor, Doc: descDoc("d1", "abc", "primary", "x")},
				{Kind: model.KindEvent, Doc: eventDoc("d1", 1, map[string]any{"x": 1.0})},
				{Kind: model.KindDatum, Doc: map[string]any{"datum_id": "r9/0", "resource": "r9", "datum_kwargs": map[string]any{}}},
				{Kind: model.KindEvent, Doc: eventDoc("d1", 2, map[string]any{"x": 2.0})},
				{Kind: model.KindStop, Doc: stopDoc("abc")},
			},
			want: exerrors.ErrDanglingReference,
		},
		{
			name: "event before its descriptor",
			docs: []model.Item{
				{Kind: model.KindStart, Doc: startDoc("abc")},
				{Kind: model.KindEvent, Doc: eventDoc("d1", 1, map[string]any{"x": 1.0})},
				{Kind: model.KindDescriptor, Doc: descDoc("d1", "abc", "primary", "x")},
				{Kind: model.KindEvent, Doc: eventDoc("d1", 2, map[string]any{"x": 2.0})},
				{Kind: model.KindStop, Doc: stopDoc("abc")},
			},
			want: exerrors.ErrOutOfSequence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := object.NewMemoryStorage()
			r := newTestRouter(t, filemanager.New(store), nil)

			var errs []error
			for _, item := range tt.docs {
				if err := r.Process(ctx, item.Kind, item.Doc); err != nil {
					errs = append(errs, err)
				}
			}

			if len(errs) != 1 || !errors.Is(errs[0], tt.want) {
				t.Fatalf("errors = %v, want one %v", errs, tt.want)
			}
			if r.Failed() != 1 || r.Open() != 0 {
				t.Errorf("Failed() = %d, Open() = %d, want 1, 0", r.Failed(), r.Open())
			}
			if got := store.Paths(); len(got) != 0 {
				t.Errorf("Paths() = %v, want none", got)
			}
			m := r.Manifests()
			if len(m) != 1 || m[0].Status != Errored.String() {
				t.Errorf("Manifests() = %+v, want one errored run", m)
			}
		})
	}
}

func TestRouter_LateDocumentOfClosedRunSparesCurrentRun(t *testing.T) {
	ctx := context.Background()
	store := object.NewMemoryStorage()
	r := newTestRouter(t, filemanager.New(store), nil)

	docs := []model.Item{
		{Kind: model.KindStart, Doc: startDoc("abc")},
		{Kind: model.KindDescriptor, Doc: descDoc("d1", "abc", "primary", "x")},
		{Kind: model.KindEvent, Doc: eventDoc("d1", 1, map[string]any{"x": 1.0})},
		{Kind: model.KindStop, Doc: stopDoc("abc")},
		{Kind: model.KindStart, Doc: startDoc("def")},
		{Kind: model.KindDescriptor, Doc: descDoc("d2", "def", "primary", "x")},
	}
	for _, item := range docs {
		if err := r.Process(ctx, item.Kind, item.Doc); err != nil {
			t.Fatalf("Process(%s) error: %v", item.Kind, err)
		}
	}

	if err := r.Process(ctx, model.KindEvent, eventDoc("d1", 2, map[string]any{"x": 2.0})); !errors.Is(err, exerrors.ErrOutOfSequence) {
		t.Errorf("late event = %v, want OutOfSequence", err)
	}
	for _, item := range []model.Item{
		{Kind: model.KindEvent, Doc: eventDoc("d2", 1, map[string]any{"x": 10.0})},
		{Kind: model.KindStop, Doc: stopDoc("def")},
	} {
		if err := r.Process(ctx, item.Kind, item.Doc); err != nil {
			t.Fatalf("Process(%s) error: %v", item.Kind, err)
		}
	}

	if r.Failed() != 0 || r.Open() != 0 {
		t.Errorf("Failed() = %d, Open() = %d, want 0, 0", r.Failed(), r.Open())
	}
	if got := store.Paths(); !reflect.DeepEqual(got, []string{"abc-primary.jsonl", "def-primary.jsonl"}) {
		t.Errorf("Paths() = %v", got)
	}
}
