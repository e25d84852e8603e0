package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulp/internal/api"
	"pulp/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded batches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.BatchList(limit)
				if err != nil {
					return err
				}
				if resp == nil || len(resp.Batches) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No batches recorded")
					return nil
				}
				table := renderTable(
					[]string{"Batch", "Status", "Total", "Succeeded", "Failed", "Created", "Completed"},
					buildBatchRows(resp.Batches),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of batches to list")
	return cmd
}

func buildBatchRows(batches []api.Batch) [][]string {
	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		rows = append(rows, []string{
			b.ID,
			b.Status,
			fmt.Sprintf("%d", b.Total),
			fmt.Sprintf("%d", b.Successful),
			fmt.Sprintf("%d", b.Failed),
			b.CreatedAt,
			b.CompletedAt,
		})
	}
	return rows
}
