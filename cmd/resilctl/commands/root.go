// Package commands implements the resilctl command tree.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Nathan-Paranhos/AithosRag-sub003/config"
	"github.com/Nathan-Paranhos/AithosRag-sub003/logging"
)

// flags shared by every subcommand
type flags struct {
	configPath string
	output     string
	verbose    bool
}

// NewRootCmd builds the resilctl command tree
func NewRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "resilctl",
		Short: "Inspect and operate the client resilience layer",
		Long: `resilctl works on the same storage and API as the chat client's
resilience layer: it checks API health, inspects persisted caches, lists and
drains the offline sync queue, and serves metrics.

Use "resilctl [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "Path to config file (YAML)")
	root.PersistentFlags().StringVarP(&f.output, "output", "o", "table", "Output format (table|json)")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newHealthCmd(f),
		newCacheCmd(f),
		newQueueCmd(f),
		newServeCmd(f),
	)
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// load reads the configuration and builds the logger it describes
func (f *flags) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if f.verbose {
		cfg.Logging.Level = "DEBUG"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func (f *flags) json() bool {
	return f.output == "json"
}
