// Package cli assembles the strobe command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/strobe/internal/cli/helpers"
	"github.com/coral-mesh/strobe/internal/cli/inspect"
	"github.com/coral-mesh/strobe/internal/cli/trace"
	"github.com/coral-mesh/strobe/pkg/version"
)

// NewRootCmd builds the strobe command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	g := &helpers.Globals{}
	root := &cobra.Command{
		Use:   "strobe",
		Short: "Strobe - debug-info resolution and live probes for native processes",
		Long: `Resolve function globs, pointer-chain expressions and file:line locations
in a natively compiled binary into exact machine addresses, then sample
values on traced calls or render logpoints in a running process without
recompiling it.

Offline commands (symbols, vars, resolve, line, addr, locals) only read the
binary. trace attaches to a live process with eBPF uprobes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.Register(root.PersistentFlags())

	root.AddCommand(inspect.Commands(&inspect.Env{Globals: g})...)
	root.AddCommand(trace.NewTraceCmd(g))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if format == string(helpers.FormatJSON) {
				return (&helpers.JSONFormatter{}).Format(info, cmd.OutOrStdout())
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "text", "Output format (text, json)")
	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
