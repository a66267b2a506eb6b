// docexport - exports data-acquisition document streams to tabular files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logflow/docexport/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configPath string
	verbose    bool
	logLevel   string
	logFormat  string
)

// Loaded in PersistentPreRunE.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "docexport",
	Short: "Export run document streams to tabular files",
	Long: `docexport reads streams of run documents (start, descriptor, event, resource,
datum, stop and their paged forms) and writes one file per run and stream in
CSV, JSON Lines, Parquet, Arrow, XLSX or DuckDB-built Parquet.

Configuration is read from /etc/docexport/config.yaml, ~/.docexport/config.yaml,
./.docexport.yaml, DOCEXPORT_* environment variables and flags, in that order.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file loaded after the default locations")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	m := config.NewManager()
	if err := m.Load(configPath); err != nil {
		return err
	}
	cfg = m.Get()

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	} else if verbose {
		cfg.Logging.Level = "debug"
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	var err error
	logger, err = cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Debug("configuration loaded", "paths", m.GetPaths())
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := config.NewManager()
		if err := m.Load(configPath); err != nil {
			return err
		}
		data, err := m.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
