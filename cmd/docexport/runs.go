package main

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/logflow/docexport/pkg/checkpoint"
	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/tui"
)

var (
	runsIncomplete bool
	runsPrefix     string
	runsCleanup    time.Duration
	runsJSON       bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List checkpointed runs",
	Long: `List the runs recorded by the checkpoint backend, newest first.

Examples:
  docexport runs
  docexport runs --incomplete
  docexport runs --cleanup 168h`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().BoolVar(&runsIncomplete, "incomplete", false, "Only runs that never closed")
	runsCmd.Flags().StringVar(&runsPrefix, "prefix", "", "Only runs whose uid starts with prefix")
	runsCmd.Flags().DurationVar(&runsCleanup, "cleanup", 0, "Delete finished records older than this (file backend)")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Print records as JSON")
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	backend, err := cfg.Checkpoints(ctx)
	if err != nil {
		return err
	}
	if backend == nil {
		return exerrors.New(exerrors.CodeInvalidConfig, "no checkpoint backend configured").
			WithContext("hint", "set checkpoint.backend to file or redis")
	}

	if cmd.Flags().Changed("cleanup") {
		fb, ok := backend.(*checkpoint.FileBackend)
		if !ok {
			return exerrors.New(exerrors.CodeInvalidConfig, "cleanup needs the file backend").
				WithContext("backend", backend.Name())
		}
		n, err := fb.Cleanup(ctx, runsCleanup)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d records\n", n)
		return nil
	}

	var records []*checkpoint.Record
	if runsIncomplete {
		records, err = backend.ListIncomplete(ctx)
	} else {
		records, err = backend.List(ctx, runsPrefix)
	}
	if err != nil {
		return err
	}

	if runsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	tui.NewPrinter(cmd.OutOrStdout()).Runs(records)
	return nil
}
