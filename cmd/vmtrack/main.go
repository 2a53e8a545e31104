// Package main provides the entry point for the vmtrack CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vmtrack/cmd/vmtrack/commands"
	"github.com/Sumatoshi-tech/vmtrack/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "vmtrack",
		Short: "vmtrack - virtual memory region tracking and trace analysis",
		Long: `vmtrack tracks reserved and committed virtual memory regions.

Commands:
  replay    Replay a trace document and report per-tag usage
  report    Render a saved baseline
  diff      Compare two baselines
  plot      Render a replay timeline chart
  trace     Trace document utilities (validate, synth)
  mcp       Run the MCP server for AI agent integration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress output")
	rootCmd.PersistentFlags().String("config", "", "config file (default: vmtrack.yaml in ., ./config, /etc/vmtrack)")

	rootCmd.AddCommand(commands.NewReplayCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(commands.NewDiffCommand())
	rootCmd.AddCommand(commands.NewPlotCommand())
	rootCmd.AddCommand(commands.NewTraceCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "vmtrack %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
