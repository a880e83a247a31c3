// Package cmd defines and implements the CLI commands for the reports executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/class-reports/internal/config"
	"github.com/JakeFAU/class-reports/internal/server"
)

// cfgKeyType is the key for storing the loaded Config in the context.
type cfgKeyType struct{}

// Runner is the application surface the commands use. Tests swap in a fake.
type Runner interface {
	Run(ctx context.Context, c server.Components) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (Runner, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Asynchronous class performance report service.",
		Long: `reports accepts report requests for a class over HTTP, generates PDF and
spreadsheet artifacts on a worker pool, and hands out short-lived download links.`,
		SilenceUsage: true,

		// Runs before every subcommand; the loaded config travels in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKeyType{}, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newRunCmd("serve", "Run the API, worker pool and reaper in one process",
			server.Components{API: true, Workers: true, Reaper: true}),
		newRunCmd("api", "Run only the HTTP API", server.Components{API: true}),
		newRunCmd("worker", "Run only the worker pool and reaper",
			server.Components{Workers: true, Reaper: true}),
		newMigrateCmd(),
		newReapCmd(),
	)
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKeyType{}).(config.Config)
	if !ok {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		os.Exit(1)
	}
}
