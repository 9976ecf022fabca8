// Package commands implements the pipeline command line.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/dataresearchcenter/datasets/pkg/config"
	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/dataresearchcenter/datasets/pkg/pipeline"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "pipeline",
	Short:         "pipeline extracts upstream records and materializes them as graph entities.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath *string

func init() {
	configPath = rootCmd.PersistentFlags().StringP("config", "c", "pipeline.yaml",
		"The configuration file. A <name>.local.yaml next to it overrides it.")
}

// ExecuteContext runs the command line and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return pipeline.ExitCode(err)
	}
	return pipeline.ExitOK
}

// loadConfig reads --config and sets up the global logger. A missing or
// unreadable file is a configuration error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		if failure.IsConfiguration(err) {
			return nil, err
		}
		return nil, &failure.ConfigError{Component: "config", Field: "file", Reason: *configPath, Err: err}
	}
	logging.Setup(cfg.LoggerConfig())
	return cfg, nil
}
