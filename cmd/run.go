package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/class-reports/internal/server"
)

// newRunCmd builds a long-running subcommand that starts the given components.
func newRunCmd(use, short string, components server.Components) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() { _ = app.Close(context.WithoutCancel(cmd.Context())) }()

			if err := app.Run(cmd.Context(), components); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s: %w", use, err)
			}
			return nil
		},
	}
}
