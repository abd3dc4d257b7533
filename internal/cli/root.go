// Package cli wires configuration, storage, the source connector and the
// indexing/search core into the channel-search command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/renderinc/channel-search/internal/source"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	ConfigPath string
	DataDir    string
	Verbose    bool

	// Connector overrides the HTTP connector built from config (for testing).
	Connector source.Connector
	// EnvFiles overrides the .env files consulted by config loading.
	EnvFiles []string
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel-search",
		Short: "Index public channels and search their messages",
		Long: `channel-search crawls curated public channels through a gateway API,
stores their messages in SQLite and answers keyword queries ranked by
engagement (views + forwards) and recency.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "directory for the database (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newIndexCommand(opts))
	cmd.AddCommand(newIndexAllCommand(opts))
	cmd.AddCommand(newUpdateCommand(opts))
	cmd.AddCommand(newSearchCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newChannelsCommand(opts))

	return cmd
}
