package serializer

import (
	"context"
	"log/slog"

	"github.com/logflow/docexport/internal/model"
	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/filemanager"
)

// Router feeds a stream that may carry several runs to one Serializer per
// run. Documents are routed by run_start, descriptor uid or resource uid;
// documents without a known routing key go to the most recently started run.
type Router struct {
	cfg   Config
	files *filemanager.Manager
	opts  []Option
	log   *slog.Logger

	runs        map[string]*Serializer
	descriptors map[string]string
	resources   map[string]string
	current     string

	// failedRuns keeps the routing keys of errored runs so their remaining
	// documents are dropped instead of reported one by one.
	failedRuns map[string]bool
	dropped    int

	finished []*Manifest
	failed   int
}

// NewRouter creates a Router whose runs share files.
func NewRouter(cfg Config, files *filemanager.Manager, opts ...Option) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Router{
		cfg:         cfg,
		files:       files,
		opts:        opts,
		log:         slog.Default(),
		runs:        make(map[string]*Serializer),
		descriptors: make(map[string]string),
		resources:   make(map[string]string),
		failedRuns:  make(map[string]bool),
	}
	// The router logs through the same logger as its runs.
	configured := &Serializer{logger: r.log}
	for _, opt := range opts {
		opt(configured)
	}
	r.log = configured.logger
	return r, nil
}

// Process routes one document. Errors are those of the owning Serializer,
// or OutOfSequence when no open run can take the document.
func (r *Router) Process(ctx context.Context, kind model.Kind, doc any) error {
	decoded, err := model.Decode(kind, doc)
	if err != nil {
		return exerrors.Wrap(err, exerrors.CodeInvalidDocument, "cannot decode document").
			WithContext("kind", string(kind))
	}

	if start, ok := decoded.(model.Start); ok {
		if _, dup := r.runs[start.UID]; dup {
			return exerrors.OutOfSequence(string(kind), "run started twice").WithContext("run", start.UID)
		}
		s, err := New(r.cfg, r.files, r.opts...)
		if err != nil {
			return err
		}
		if err := s.Process(ctx, kind, start); err != nil {
			return err
		}
		r.runs[start.UID] = s
		r.current = start.UID
		delete(r.failedRuns, start.UID)
		return nil
	}

	run := r.route(decoded)
	if r.failedRuns[run] {
		r.dropped++
		r.log.Debug("document of failed run dropped", "run", run, "kind", string(kind))
		return nil
	}
	s, ok := r.runs[run]
	if !ok {
		if stop, isStop := decoded.(model.Stop); isStop {
			r.log.Warn("stop for unknown run ignored", "run_start", stop.RunStart)
			return nil
		}
		return exerrors.OutOfSequence(string(kind), "no open run for document").WithContext("run", run)
	}

	switch d := decoded.(type) {
	case model.Descriptor:
		r.descriptors[d.UID] = run
	case model.Resource:
		r.resources[d.UID] = run
	}

	err = s.Process(ctx, kind, decoded)
	if s.State().Terminal() {
		r.retire(run, s)
	}
	return err
}

func (r *Router) route(doc any) string {
	switch d := doc.(type) {
	case model.Descriptor:
		if d.RunStart != "" {
			return d.RunStart
		}
	case model.Resource:
		if d.RunStart != "" {
			return d.RunStart
		}
	case model.Event:
		return r.owner(r.descriptors, d.Descriptor)
	case model.EventPage:
		return r.owner(r.descriptors, d.Descriptor)
	case model.Datum:
		return r.owner(r.resources, d.Resource)
	case model.DatumPage:
		return r.owner(r.resources, d.Resource)
	case model.Stop:
		return d.RunStart
	}
	return r.current
}

// owner looks up the run that declared uid. Unknown uids go to the current
// run, whose Serializer rejects them and fails the run.
func (r *Router) owner(table map[string]string, uid string) string {
	if run, ok := table[uid]; ok {
		return run
	}
	return r.current
}

func (r *Router) retire(run string, s *Serializer) {
	delete(r.runs, run)
	if r.current == run {
		r.current = ""
	}
	r.finished = append(r.finished, s.Manifest())
	if s.State() == Errored {
		r.failed++
		r.failedRuns[run] = true
	}
	// Descriptor and resource uids stay mapped to the closed run so its late
	// documents are rejected instead of reaching the current run.
}

// Close ends every run still open; their files are aborted.
func (r *Router) Close(ctx context.Context) error {
	errs := &exerrors.MultiError{}
	for run, s := range r.runs {
		errs.Add(s.Close(ctx))
		r.retire(run, s)
	}
	return errs.Combined()
}

// Open returns the number of runs still open.
func (r *Router) Open() int { return len(r.runs) }

// Failed returns the number of runs that ended in Errored.
func (r *Router) Failed() int { return r.failed }

// Dropped returns the number of documents discarded because their run
// had already failed.
func (r *Router) Dropped() int { return r.dropped }

// Manifests returns the manifests of finished runs in completion order.
func (r *Router) Manifests() []*Manifest {
	return append([]*Manifest(nil), r.finished...)
}
