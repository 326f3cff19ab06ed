package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gstripling00/prompt-system/internal/common/config"
	"github.com/gstripling00/prompt-system/internal/common/logger"
)

var (
	cfgDir       string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "promptcatalog",
	Short: "Versioned prompt catalog with batch ingestion, usage analytics and health alerts",
	Long: `promptcatalog maintains the prompt catalog warehouse.

Batch files (CSV or XLSX) landing in the configured landing area are parsed,
reconciled against the current catalog and written with full version history.
Usage events update per-prompt counters, and the health monitor raises alerts
when pipeline executions or warehouse writes keep failing.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config", "", "directory containing config.yaml (default: . or /etc/promptcatalog)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml or json")

	rootCmd.AddCommand(serveCmd, ingestCmd, monitorCmd)
}

// loadRuntime reads configuration and builds the process logger.
func loadRuntime() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadWithPath(cfgDir)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.SetDefault(log)
	return cfg, log, nil
}

func writeOutput(w io.Writer, format string, data any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
