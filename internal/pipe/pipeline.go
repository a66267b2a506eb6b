// Package pipe runs document sources through the serializer: a reader
// goroutine decodes items while a consumer feeds them to a Router.
package pipe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logflow/docexport/internal/model"
	"github.com/logflow/docexport/pkg/checkpoint"
	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/filemanager"
	"github.com/logflow/docexport/pkg/serializer"
	"github.com/logflow/docexport/pkg/sources"
	"github.com/logflow/docexport/pkg/telemetry"
)

// Config holds pipeline configuration.
type Config struct {
	Serializer serializer.Config
	Options    []serializer.Option

	// Checkpoints, when set, records the progress of every run together
	// with the input it was read from.
	Checkpoints checkpoint.Backend

	// BufferSize is the channel buffer between reader and consumer.
	BufferSize int

	// Jobs bounds how many inputs RunAll processes at once.
	Jobs int
}

// Pipeline exports sources into one file manager.
type Pipeline struct {
	cfg     Config
	files   *filemanager.Manager
	metrics *telemetry.Metrics
	log     *slog.Logger

	// callbacks run under mu
	mu         sync.Mutex
	progressFn func(stats ProgressStats)
	problemFn  func(source string, err error)
	doneFn     func(res *Result)
}

// ProgressStats is a snapshot of one input being processed.
type ProgressStats struct {
	Source        string
	Documents     int64
	DocsPerSecond float64
	Elapsed       time.Duration
}

// Result describes one processed input.
type Result struct {
	Source    string
	Documents int64
	Problems  int
	Failed    int
	Dropped   int
	Manifests []*serializer.Manifest
	Elapsed   time.Duration
	Err       error
}

// Events returns the number of events written across all runs.
func (r *Result) Events() int64 {
	var n int64
	for _, m := range r.Manifests {
		for _, st := range m.Stats {
			n += st.Events
		}
	}
	return n
}

// New creates a pipeline. metrics may be nil.
func New(cfg Config, files *filemanager.Manager, metrics *telemetry.Metrics, log *slog.Logger) *Pipeline {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Jobs <= 0 {
		cfg.Jobs = 1
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{cfg: cfg, files: files, metrics: metrics, log: log}
}

// SetProgressCallback sets a callback for throttled progress updates.
func (p *Pipeline) SetProgressCallback(fn func(stats ProgressStats)) { p.progressFn = fn }

// SetProblemCallback sets a callback for documents that were rejected.
func (p *Pipeline) SetProblemCallback(fn func(source string, err error)) { p.problemFn = fn }

// SetDoneCallback sets a callback invoked as each input finishes.
func (p *Pipeline) SetDoneCallback(fn func(res *Result)) { p.doneFn = fn }

// Metrics returns the collector the pipeline updates.
func (p *Pipeline) Metrics() *telemetry.Metrics { return p.metrics }

// Run exports every run in src. Rejected documents are reported and
// skipped; a read error stops the input and aborts its open runs. The
// returned error is the read error, if any.
func (p *Pipeline) Run(ctx context.Context, src sources.Source) (*Result, error) {
	started := time.Now()
	res := &Result{Source: src.Name()}

	opts := slices.Clone(p.cfg.Options)
	if p.cfg.Checkpoints != nil {
		opts = append(opts, serializer.WithCheckpoint(p.cfg.Checkpoints, res.Source))
	}
	router, err := serializer.NewRouter(p.cfg.Serializer, p.files, opts...)
	if err != nil {
		return nil, err
	}

	items := make(chan model.Item, p.cfg.BufferSize)
	var docs atomic.Int64
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(items)
		for {
			item, err := src.Next(gctx)
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			select {
			case items <- item:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		lastReport := time.Now()
		for {
			var item model.Item
			select {
			case <-gctx.Done():
				return gctx.Err()
			case next, ok := <-items:
				if !ok {
					return nil
				}
				item = next
			}

			if err := router.Process(gctx, item.Kind, item.Doc); err != nil {
				res.Problems++
				p.problem(res.Source, err)
			}
			n := docs.Add(1)
			p.metrics.Documents.Add(1)

			if p.progressFn != nil && time.Since(lastReport) > 100*time.Millisecond {
				elapsed := time.Since(started)
				p.progress(ProgressStats{
					Source:        res.Source,
					Documents:     n,
					DocsPerSecond: float64(n) / elapsed.Seconds(),
					Elapsed:       elapsed,
				})
				lastReport = time.Now()
			}
		}
	})

	readErr := g.Wait()
	if readErr != nil {
		code := exerrors.GetCode(readErr)
		if errors.Is(readErr, context.Canceled) || errors.Is(readErr, context.DeadlineExceeded) {
			code = exerrors.CodeContextCanceled
		}
		readErr = exerrors.Wrap(readErr, code, "input aborted").
			WithContext("source", res.Source).
			WithContext("documents", docs.Load())
	}

	// Runs still open never saw their stop document.
	if err := router.Close(context.WithoutCancel(ctx)); err != nil && readErr == nil {
		res.Problems++
		p.problem(res.Source, err)
	}

	res.Documents = docs.Load()
	res.Manifests = router.Manifests()
	res.Failed = router.Failed()
	res.Dropped = router.Dropped()
	res.Elapsed = time.Since(started)
	res.Err = readErr

	p.metrics.Events.Add(res.Events())
	p.metrics.RunsClosed.Add(int64(len(res.Manifests) - res.Failed))
	p.metrics.RunsFailed.Add(int64(res.Failed))
	p.metrics.Errors.Add(int64(res.Problems))
	p.metrics.RecordLatency(res.Elapsed)

	p.log.Info("input finished",
		"source", res.Source,
		"documents", res.Documents,
		"runs", len(res.Manifests),
		"failed", res.Failed,
		"problems", res.Problems,
		"elapsed", res.Elapsed)

	p.mu.Lock()
	if p.doneFn != nil {
		p.doneFn(res)
	}
	p.mu.Unlock()
	return res, readErr
}

// OpenFunc opens an input by name.
type OpenFunc func(name string) (sources.Source, error)

// RunAll exports inputs with up to Jobs running at once. A failing input
// does not stop the others; their errors are combined.
func (p *Pipeline) RunAll(ctx context.Context, inputs []string, open OpenFunc) ([]*Result, error) {
	results := make([]*Result, len(inputs))
	errs := &exerrors.MultiError{}
	var errMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.cfg.Jobs)
	for i, name := range inputs {
		g.Go(func() error {
			res, err := p.runOne(ctx, name, open)
			results[i] = res
			if err != nil {
				errMu.Lock()
				errs.Add(err)
				errMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return results, errs.Combined()
}

func (p *Pipeline) runOne(ctx context.Context, name string, open OpenFunc) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return &Result{Source: name, Err: err}, err
	}
	src, err := open(name)
	if err != nil {
		return &Result{Source: name, Err: err}, err
	}
	defer src.Close()

	res, err := p.Run(ctx, src)
	if res == nil {
		res = &Result{Source: name, Err: err}
	}
	return res, err
}

func (p *Pipeline) problem(source string, err error) {
	p.log.Debug("document rejected", "source", source, "error", err)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.problemFn != nil {
		p.problemFn(source, err)
	}
}

func (p *Pipeline) progress(stats ProgressStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progressFn(stats)
}
