// Package cli wires the wrencc driver's command tree, grounded on the
// retrieval pack's own cobra-based CLI drivers: a root command carrying
// global flags (verbose logging), with leaf commands doing the actual
// work against internal/irdoc, wrencc, and internal/simulate.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/wrencc/wrencc/internal/logging"
)

// RootOptions holds flags shared by every subcommand.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand builds the wrencc command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "wrencc",
		Short: "wrencc compiles a resolved IR document to native LLVM IR",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := logging.DefaultConfig()
			if opts.Verbose {
				cfg.Level = -4 // slog.LevelDebug, spelled out to avoid importing log/slog here just for one constant
			}
			logging.Init(cfg)
		},
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug-level logging")

	cmd.AddCommand(newCompileCommand(opts))
	cmd.AddCommand(newSimCommand(opts))
	return cmd
}
