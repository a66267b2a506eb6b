package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/logflow/docexport/internal/pipe"
	"github.com/logflow/docexport/pkg/checkpoint"
	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/filemanager"
	"github.com/logflow/docexport/pkg/interfaces"
	"github.com/logflow/docexport/pkg/serializer"
	"github.com/logflow/docexport/pkg/sources"
	"github.com/logflow/docexport/pkg/storage/object"
	"github.com/logflow/docexport/pkg/telemetry"
	"github.com/logflow/docexport/pkg/tui"
)

// Export flags, shared by export, validate and watch.
var (
	outputDir       string
	templateFlag    string
	formatFlag      string
	compressionFlag string
	batchSize       int
	overwriteFlag   string
	sequenceFlag    string
	schemaFlag      string
	sidecarFlag     bool
	ignoreStreams   []string
	jobs            int
	jsonOutput      bool
	noProgress      bool
)

var exportCmd = &cobra.Command{
	Use:   "export [inputs...]",
	Short: "Export document streams to files",
	Long: `Export one or more document streams. Inputs are JSON Lines files (optionally
.gz or .zst compressed), directories searched for such files, glob patterns,
or "-" for stdin. Each line is ["kind", {...}] or {"name": "kind", "doc": {...}}.

Examples:
  docexport export scan.jsonl -o out/
  docexport export runs/ -f parquet --compression zstd -j 8
  docexport export 'data/*.jsonl.gz' -t '{plan_name}/%Y-%m-%d/{uid}-{stream_name}'
  cat scan.jsonl | docexport export - -f csv --sidecar`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd, args, false)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [inputs...]",
	Short: "Check document streams without writing files",
	Long: `Run the full export into memory and report every rejected document and
failed run. Nothing is written.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd, args, true)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{exportCmd, validateCmd, watchCmd} {
		addExportFlags(cmd)
	}
	exportCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (local storage)")
	watchCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (local storage)")
	exportCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
}

func addExportFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&templateFlag, "template", "t", "", "File name template, e.g. '{uid}-{stream_name}'")
	f.StringVarP(&formatFlag, "format", "f", "", "Output format (jsonl, csv, parquet, arrow, xlsx, duckdb)")
	f.StringVar(&compressionFlag, "compression", "", "Columnar compression (none, snappy, gzip, zstd, lz4)")
	f.IntVar(&batchSize, "batch-size", 0, "Rows per columnar batch")
	f.StringVar(&overwriteFlag, "overwrite", "", "Existing file policy (error, suffix, replace)")
	f.StringVar(&sequenceFlag, "sequence-check", "", "Out-of-order events (warn, strict)")
	f.StringVar(&schemaFlag, "schema-change", "", "Redefined streams (new_file, error)")
	f.BoolVar(&sidecarFlag, "sidecar", false, "Write a <prefix>-metadata.json file per run")
	f.StringArrayVar(&ignoreStreams, "ignore-stream", nil, "Glob pattern of streams to drop (repeatable)")
	f.IntVarP(&jobs, "jobs", "j", 0, "Inputs processed in parallel")
	f.BoolVar(&jsonOutput, "json", false, "Print run manifests as JSON")
}

// applyExportFlags overrides the loaded configuration with flags the user set.
func applyExportFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	e := &cfg.Export
	if f.Changed("output") {
		e.Directory = outputDir
	}
	if f.Changed("template") {
		e.Template = templateFlag
	}
	if f.Changed("format") {
		e.Format = formatFlag
	}
	if f.Changed("compression") {
		e.Compression = compressionFlag
	}
	if f.Changed("batch-size") {
		e.BatchSize = batchSize
	}
	if f.Changed("overwrite") {
		e.OverwritePolicy = overwriteFlag
	}
	if f.Changed("sequence-check") {
		e.SequenceCheck = sequenceFlag
	}
	if f.Changed("schema-change") {
		e.SchemaChange = schemaFlag
	}
	if f.Changed("sidecar") {
		e.Sidecar = sidecarFlag
	}
	if f.Changed("ignore-stream") {
		e.IgnoreStreams = ignoreStreams
	}
	if f.Changed("jobs") {
		e.Jobs = jobs
	}
}

// session holds what one export invocation shares across its inputs.
type session struct {
	pipeline  *pipe.Pipeline
	telemetry *telemetry.Provider
}

func newSession(ctx context.Context, store interfaces.ObjectStorage, dryRun bool) (*session, error) {
	serCfg, err := cfg.Serializer()
	if err != nil {
		return nil, err
	}

	provider, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, exerrors.Wrap(err, exerrors.CodeInvalidConfig, "cannot set up tracing")
	}

	var backend checkpoint.Backend
	if !dryRun {
		if backend, err = cfg.Checkpoints(ctx); err != nil {
			provider.Shutdown(ctx)
			return nil, err
		}
	}

	files := filemanager.New(store, filemanager.WithLogger(logger))
	p := pipe.New(pipe.Config{
		Serializer: serCfg,
		Options: []serializer.Option{
			serializer.WithLogger(logger),
			serializer.WithTracer(provider.Tracer()),
		},
		Checkpoints: backend,
		Jobs:        cfg.Export.Jobs,
	}, files, telemetry.NewMetrics(), logger)

	return &session{pipeline: p, telemetry: provider}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.telemetry.Shutdown(ctx); err != nil {
		logger.Warn("trace flush failed", "error", err)
	}
}

func openInput(name string) (sources.Source, error) {
	return sources.OpenJSONL(name)
}

func runExport(cmd *cobra.Command, args []string, dryRun bool) error {
	ctx := cmd.Context()
	applyExportFlags(cmd)

	inputs, err := sources.Expand(args)
	if err != nil {
		return err
	}

	var store interfaces.ObjectStorage
	if dryRun {
		store = object.NewMemoryStorage()
	} else if store, err = cfg.ObjectStorage(ctx); err != nil {
		return err
	}

	sess, err := newSession(ctx, store, dryRun)
	if err != nil {
		return err
	}
	defer sess.close()

	errOut := cmd.ErrOrStderr()
	printer := tui.NewPrinter(errOut)
	sess.pipeline.SetProblemCallback(func(source string, err error) {
		printer.Problem(source, err)
	})

	showBar := !noProgress && !verbose && !jsonOutput && len(inputs) > 1
	if showBar {
		bar := tui.ShowProgress(errOut, int64(len(inputs)), "exporting")
		sess.pipeline.SetDoneCallback(func(*pipe.Result) { bar.Add(1) })
		defer bar.Finish()
	}

	results, runErr := sess.pipeline.RunAll(ctx, inputs, openInput)

	var manifests []*serializer.Manifest
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Err != nil {
			printer.Problem(res.Source, res.Err)
		}
		manifests = append(manifests, res.Manifests...)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(manifests); err != nil {
			return err
		}
	} else {
		out := tui.NewPrinter(cmd.OutOrStdout())
		for _, m := range manifests {
			out.Manifest(m)
		}
		out.Summary(sess.pipeline.Metrics().Summary(), dryRun)
	}

	summary := sess.pipeline.Metrics().Summary()
	switch {
	case ctx.Err() != nil:
		return exerrors.ContextCanceled("export")
	case runErr != nil:
		return fmt.Errorf("%d of %d inputs could not be read", countFailedInputs(results), len(inputs))
	case summary.RunsFailed > 0:
		return fmt.Errorf("%d runs failed", summary.RunsFailed)
	}
	return nil
}

func countFailedInputs(results []*pipe.Result) int {
	n := 0
	for _, res := range results {
		if res != nil && res.Err != nil {
			n++
		}
	}
	return n
}
