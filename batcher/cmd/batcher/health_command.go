package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the finishing server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a batchApp) error {
				if err := a.Health(cmd.Context()); err != nil {
					return fmt.Errorf("server unhealthy: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "server ok")
				return nil
			})
		},
	}
}
