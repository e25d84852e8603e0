package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulp/internal/ipc"
)

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove completed batches from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ClearCompleted()
				if err != nil {
					return err
				}
				removed := int64(0)
				if resp != nil {
					removed = resp.Removed
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed batch(es)\n", removed)
				return nil
			})
		},
	}
}
