// Package serializer turns the ordered document stream of a run into output
// files. A Serializer owns exactly one run; a Router dispatches a stream
// carrying several runs to one Serializer per run.
package serializer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/logflow/docexport/internal/model"
	"github.com/logflow/docexport/pkg/checkpoint"
	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/filemanager"
	"github.com/logflow/docexport/pkg/format"
	"github.com/logflow/docexport/pkg/resource"
	"github.com/logflow/docexport/pkg/template"
	"github.com/logflow/docexport/pkg/validation"
)

// State is the lifecycle state of a run.
type State int

const (
	AwaitingStart State = iota
	Open
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case AwaitingStart:
		return "awaiting_start"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// Terminal reports whether no more documents are accepted.
func (s State) Terminal() bool {
	return s == Closed || s == Errored
}

// checkpointEvery is the number of documents between progress saves.
const checkpointEvery = 1000

// Serializer processes the documents of one run. It is not safe for
// concurrent use.
type Serializer struct {
	cfg    Config
	tpl    *template.Template
	format format.Format
	files  *filemanager.Manager

	logger      *slog.Logger
	tracer      trace.Tracer
	checkpoints checkpoint.Backend
	source      string

	state State
	err   error
	owner string
	start model.Start
	stop  *model.Stop

	descriptors map[string]model.Descriptor
	roles       map[string]streamRole
	byDesc      map[string]*stream
	streams     map[string]*stream
	resources   *resource.Reconciler
	live        map[string]any

	docs     int64
	record   *checkpoint.Record
	span     trace.Span
	manifest *Manifest
}

// Option configures a Serializer.
type Option func(*Serializer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Serializer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer used for the run span.
func WithTracer(t trace.Tracer) Option {
	return func(s *Serializer) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithCheckpoint records run progress in b. source names the input the run
// is read from.
func WithCheckpoint(b checkpoint.Backend, source string) Option {
	return func(s *Serializer) {
		s.checkpoints = b
		s.source = source
	}
}

// New creates a Serializer writing through files.
func New(cfg Config, files *filemanager.Manager, opts ...Option) (*Serializer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tpl, err := template.Compile(cfg.Template, template.WithLocation(cfg.Location))
	if err != nil {
		return nil, err
	}
	f, err := format.Lookup(cfg.Format)
	if err != nil {
		return nil, err
	}

	s := &Serializer{
		cfg:         cfg,
		tpl:         tpl,
		format:      f,
		files:       files,
		logger:      slog.Default(),
		tracer:      noop.NewTracerProvider().Tracer(""),
		owner:       uuid.NewString(),
		descriptors: make(map[string]model.Descriptor),
		roles:       make(map[string]streamRole),
		byDesc:      make(map[string]*stream),
		streams:     make(map[string]*stream),
		resources:   resource.NewReconciler(),
		live:        make(map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Serializer) State() State { return s.state }

// Err returns the error that failed the run, if any.
func (s *Serializer) Err() error { return s.err }

// Manifest returns the manifest of a finished run, or nil while it is open.
func (s *Serializer) Manifest() *Manifest { return s.manifest }

// RunUID returns the uid of the open run; it implements validation.State.
func (s *Serializer) RunUID() string {
	if s.state != Open {
		return ""
	}
	return s.start.UID
}

// Descriptor implements validation.State.
func (s *Serializer) Descriptor(uid string) (model.Descriptor, bool) {
	d, ok := s.descriptors[uid]
	return d, ok
}

// HasResource implements validation.State.
func (s *Serializer) HasResource(uid string) bool {
	return s.resources.HasResource(uid)
}

// Process handles one document. Recoverable errors (an out-of-order event
// under the warn policy) leave the run open; any other error while the run
// is open fails it, aborts its output files and is returned.
func (s *Serializer) Process(ctx context.Context, kind model.Kind, doc any) error {
	if s.state.Terminal() {
		return exerrors.OutOfSequence(string(kind), "run is already "+s.state.String())
	}
	if ctx.Err() != nil {
		return s.fail(ctx, exerrors.ContextCanceled("process "+string(kind)))
	}

	decoded, err := model.Decode(kind, doc)
	if err != nil {
		return s.fail(ctx, exerrors.Wrap(err, exerrors.CodeInvalidDocument, "cannot decode document").
			WithContext("kind", string(kind)))
	}
	s.docs++

	if s.state == AwaitingStart {
		switch d := decoded.(type) {
		case model.Start:
			return s.handleStart(ctx, d)
		case model.Stop:
			s.logger.Warn("stop before start ignored", "run_start", d.RunStart)
			return nil
		}
		return exerrors.OutOfSequence(string(kind), "document before start")
	}

	switch d := decoded.(type) {
	case model.Start:
		err = exerrors.OutOfSequence(string(kind), "second start while a run is open").
			WithContext("run", s.start.UID).
			WithContext("start", d.UID)
	case model.Descriptor:
		err = s.handleDescriptor(d)
	case model.Event:
		err = s.handleEvent(ctx, d)
	case model.EventPage:
		err = s.handleEventPage(ctx, d)
	case model.Resource:
		err = s.handleResource(d)
	case model.Datum:
		err = s.handleDatum(d)
	case model.DatumPage:
		for _, datum := range d.Datums() {
			if err = s.handleDatum(datum); err != nil {
				break
			}
		}
	case model.Stop:
		return s.handleStop(ctx, d)
	}

	if err != nil && exerrors.IsFatal(err) {
		return s.fail(ctx, err)
	}
	if s.docs%checkpointEvery == 0 {
		s.saveCheckpoint(ctx)
	}
	return err
}

// Close ends the run when the caller stops delivering documents. A run
// that is still open is failed and its files aborted.
func (s *Serializer) Close(ctx context.Context) error {
	switch s.state {
	case AwaitingStart:
		s.state = Closed
		return nil
	case Open:
		return s.fail(ctx, exerrors.New(exerrors.CodeOutOfSequence, "document stream ended without stop").
			WithContext("run", s.start.UID))
	}
	return nil
}

func (s *Serializer) handleStart(ctx context.Context, d model.Start) error {
	if res := validation.Validate(model.KindStart, d, s); !res.OK() {
		return res.Err
	}
	s.start = d
	s.state = Open
	s.logger = s.logger.With("run", d.UID)

	_, s.span = s.tracer.Start(ctx, "docexport.run", trace.WithAttributes(
		attribute.String("run.uid", d.UID),
		attribute.String("export.format", s.format.Name),
		attribute.String("export.template", s.tpl.String()),
	))

	if s.checkpoints != nil {
		s.record = checkpoint.NewRecord(d.UID, s.source)
	}
	s.saveCheckpoint(ctx)
	s.logger.Info("run started", "time", model.ISOTime(d.Time, s.cfg.Location))
	return nil
}

func (s *Serializer) handleDescriptor(d model.Descriptor) error {
	if d.RunStart != "" && d.RunStart != s.start.UID {
		return exerrors.New(exerrors.CodeInvalidDocument, "descriptor belongs to another run").
			WithContext("descriptor", d.UID).
			WithContext("run_start", d.RunStart)
	}
	if res := validation.Validate(model.KindDescriptor, d, s); !res.OK() {
		return res.Err
	}

	fp := fingerprint(d)
	if prev, ok := s.descriptors[d.UID]; ok {
		if fingerprint(prev) != fp || prev.Name != d.Name {
			return exerrors.New(exerrors.CodeInvalidDocument, "descriptor uid redeclared with a different schema").
				WithContext("descriptor", d.UID)
		}
		return nil
	}
	s.descriptors[d.UID] = d

	switch {
	case matchAny(s.cfg.MetadataStreams, d.Name):
		s.roles[d.UID] = roleMetadata
		return nil
	case matchAny(s.cfg.IgnoreStreams, d.Name):
		s.roles[d.UID] = roleIgnored
		s.logger.Debug("ignoring stream", "stream", d.Name)
		return nil
	}

	st, ok := s.streams[d.Name]
	if !ok {
		st = newStream(d, fp)
		s.streams[d.Name] = st
		s.byDesc[d.UID] = st
		s.logger.Debug("stream declared", "stream", d.Name, "descriptor", d.UID)
		return nil
	}
	s.byDesc[d.UID] = st
	if st.fingerprint == fp {
		return nil
	}

	if s.cfg.SchemaChange == SchemaError {
		return exerrors.New(exerrors.CodeSchemaConflict, "stream redefined with a different schema").
			WithContext("stream", d.Name).
			WithContext("descriptor", d.UID)
	}
	st.rotate(d, fp)
	s.logger.Info("stream schema changed, starting new file", "stream", d.Name, "generation", st.generation)
	return nil
}

func (s *Serializer) handleResource(r model.Resource) error {
	if r.RunStart != "" && r.RunStart != s.start.UID {
		return exerrors.New(exerrors.CodeInvalidDocument, "resource belongs to another run").
			WithContext("resource", r.UID).
			WithContext("run_start", r.RunStart)
	}
	if res := validation.Validate(model.KindResource, r, s); !res.OK() {
		return res.Err
	}
	return s.resources.Declare(r)
}

func (s *Serializer) handleDatum(d model.Datum) error {
	if res := validation.Validate(model.KindDatum, d, s); !res.OK() {
		return res.Err
	}
	return s.resources.RecordDatum(d)
}

func (s *Serializer) handleStop(ctx context.Context, d model.Stop) error {
	res := validation.Validate(model.KindStop, d, s)
	if !res.OK() {
		return s.fail(ctx, res.Err)
	}
	if len(res.Warnings) > 0 {
		for _, w := range res.Warnings {
			s.logger.Warn(w)
		}
		return nil
	}
	s.stop = &d

	if s.cfg.Sidecar {
		if err := s.writeSidecar(ctx); err != nil {
			return s.fail(ctx, err)
		}
	}
	if err := s.files.Release(ctx, s.owner, true); err != nil {
		return s.fail(ctx, err)
	}

	s.state = Closed
	s.manifest = s.buildManifest()
	if s.span != nil {
		s.span.SetAttributes(attribute.String("run.exit_status", d.ExitStatus))
		s.span.End()
	}
	s.saveCheckpoint(ctx)
	s.logger.Info("run closed", "exit_status", d.ExitStatus, "files", len(s.manifest.Files()))
	return nil
}

// fail moves an open run to Errored, aborts its files and returns err.
func (s *Serializer) fail(ctx context.Context, err error) error {
	if s.state != Open {
		return err
	}
	s.state = Errored
	s.err = err

	if rerr := s.files.Release(context.WithoutCancel(ctx), s.owner, false); rerr != nil {
		s.logger.Error("cleanup after failure", "error", rerr)
	}
	s.manifest = s.buildManifest()
	if s.span != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, exerrors.GetCode(err).Name())
		s.span.End()
	}
	s.saveCheckpoint(context.WithoutCancel(ctx))
	s.logger.Error("run failed", "code", exerrors.GetCode(err), "error", err)
	return err
}

func (s *Serializer) saveCheckpoint(ctx context.Context) {
	if s.record == nil {
		return
	}
	r := s.record
	r.Documents = s.docs
	r.UpdatedAt = time.Now()
	for name, st := range s.streams {
		r.Events[name] = st.events
		r.LastSeq[name] = st.maxSeq
	}
	switch s.state {
	case Closed:
		r.Artifacts = s.manifest.Streams
		r.SetStatus(checkpoint.StatusClosed)
	case Errored:
		r.Error = s.err.Error()
		r.SetStatus(checkpoint.StatusErrored)
	}
	if err := s.checkpoints.Save(ctx, r); err != nil {
		s.logger.Warn("checkpoint save failed", "backend", s.checkpoints.Name(), "error", err)
	}
}
