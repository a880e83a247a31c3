package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/class-reports/internal/server"
)

// newBuilder is the full application factory used by one-shot commands.
var newBuilder = server.Build

func newReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Run one stale-processing sweep and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			app, err := newBuilder(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() { _ = app.Close(context.WithoutCancel(cmd.Context())) }()

			ids, err := app.Reaper.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("reap: %w", err)
			}
			cmd.Printf("reaped %d request(s)\n", len(ids))
			for _, id := range ids {
				cmd.Println(id)
			}
			return nil
		},
	}
}
