package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/docexport/internal/pipe"
	"github.com/logflow/docexport/pkg/sources"
	"github.com/logflow/docexport/pkg/tui"
	"github.com/logflow/docexport/pkg/watch"
)

var (
	settle   time.Duration
	existing bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [directories...]",
	Short: "Export stream files as they appear in directories",
	Long: `Watch directories for new or updated document stream files and export each
one once it has stopped changing for the settle period. Runs until interrupted.

Examples:
  docexport watch incoming/ -o exported/ -f parquet
  docexport watch incoming/ --existing --settle 5s`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&settle, "settle", watch.DefaultSettle, "Quiet period before a file is exported")
	watchCmd.Flags().BoolVar(&existing, "existing", false, "Also export files already in the directories")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	applyExportFlags(cmd)

	store, err := cfg.ObjectStorage(ctx)
	if err != nil {
		return err
	}
	sess, err := newSession(ctx, store, false)
	if err != nil {
		return err
	}
	defer sess.close()

	w, err := watch.NewWatcher(settle, logger)
	if err != nil {
		return err
	}
	for _, dir := range args {
		if err := w.Add(dir); err != nil {
			w.Close()
			return err
		}
	}
	w.IncludeExisting = existing

	printer := tui.NewPrinter(cmd.OutOrStdout())
	sess.pipeline.SetProblemCallback(func(source string, err error) {
		printer.Problem(source, err)
	})
	sess.pipeline.SetDoneCallback(func(res *pipe.Result) {
		for _, m := range res.Manifests {
			printer.Manifest(m)
		}
	})
	w.OnReady = func(ctx context.Context, path string) error {
		src, err := sources.OpenJSONL(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = sess.pipeline.Run(ctx, src)
		return err
	}
	w.OnError = func(path string, err error) {
		printer.Problem(path, err)
	}

	logger.Info("watching", "directories", args, "settle", settle)
	err = w.Run(ctx)
	printer.Summary(sess.pipeline.Metrics().Summary(), false)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
