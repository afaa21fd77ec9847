// Package cli implements the CLI adapter for prtl.
// This package provides Cobra commands that delegate to the app layer.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/prtl/prtl/internal/app"
	"github.com/prtl/prtl/pkg/version"
)

// NewRootCmd creates the root command for the prtl CLI.
func NewRootCmd() *cobra.Command {
	var opts app.Options

	rootCmd := &cobra.Command{
		Use:   "prtl",
		Short: "prtl - a distributed reverse-proxy mesh",
		Long: `prtl exposes one HTTP ingress and routes each request, by its target
domain, to a worker process over a NATS message bus. Successful responses
are cached in Redis.

Requests take the form /<domain>/<path>?<query>.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to config file (default: prtl.yaml in /etc/prtl, ~/.config/prtl or .)")
	rootCmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "Load environment variables from this file first")

	rootCmd.AddCommand(newGatewayCmd(&opts))
	rootCmd.AddCommand(newWorkerCmd(&opts))
	rootCmd.AddCommand(newDevCmd(&opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the CLI and exits non-zero on error.
func Execute(ver, commit, date string) {
	version.Set(ver, commit, date)
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newGatewayCmd(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway",
		Long: `Run the gateway: the HTTP ingress, the admin listener, the worker
registration listener and the cache refresh loop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.RunGateway(cmd.Context(), *opts)
		},
	}
}

func newWorkerCmd(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:       "worker <name>",
		Short:     "Run a built-in proxy worker",
		Args:      cobra.ExactArgs(1),
		ValidArgs: app.WorkerNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunWorker(cmd.Context(), *opts, args[0])
		},
	}
}

func newDevCmd(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "dev",
		Short: "Run the gateway and all built-in workers in one process",
		Long: `Run the gateway and every built-in worker in a single process, over an
in-process bus and an in-memory cache. Neither NATS nor Redis is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.RunDev(cmd.Context(), *opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			if short {
				cmd.Println(version.Version())
				return
			}
			cmd.Println(version.String())
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "Show only version number")

	return cmd
}
