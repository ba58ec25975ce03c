// Package main is the entry point for the autoproxy CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error returned from the command tree to spec.md
// §6's process exit codes (0 success, 1 config error, 2 bind error).
// RunE implementations tag errors with configError/bindError so this
// stays a single dispatch point rather than scattering os.Exit calls.
func exitCodeFor(err error) int {
	switch {
	case isConfigError(err):
		return 1
	case isBindError(err):
		return 2
	default:
		return 1
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "autoproxy",
		Short:         "A local HTTP forward-proxy with failover across equivalent upstream API providers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to the provider config file (default ~/.claude-proxy-manager/providers.json)")
	root.AddCommand(versionCmd(), startCmd(), configCmd(), serviceCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version, commit, and build date",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("autoproxy %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
