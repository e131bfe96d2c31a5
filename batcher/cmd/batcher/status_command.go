package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [batch-id]",
		Short: "Show mirrored batches or the items of one batch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a batchApp) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					snaps, err := a.Recent(cmd.Context(), limit)
					if err != nil {
						return err
					}
					if len(snaps) == 0 {
						fmt.Fprintln(out, "No batches recorded")
						return nil
					}
					fmt.Fprintln(out, renderBatches(snaps, time.Now()))
					return nil
				}

				snap, ok, err := a.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("batch %s not found", args[0])
				}
				fmt.Fprintf(out, "Batch %s (%s)\n", snap.BatchID, snap.Phase)
				fmt.Fprintln(out, renderItems(snap))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of batches to list")
	return cmd
}
