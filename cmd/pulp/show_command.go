package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pulp/internal/api"
	"pulp/internal/ipc"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch>",
		Short: "Display one batch and its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.BatchShow(args[0])
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty response from daemon")
				}

				stdout := cmd.OutOrStdout()
				b := resp.Batch
				fmt.Fprintf(stdout, "Batch %s: %s (%d succeeded, %d failed of %d)\n",
					b.ID, b.Status, b.Successful, b.Failed, b.Total)
				if b.CreatedAt != "" {
					fmt.Fprintf(stdout, "Created:   %s\n", b.CreatedAt)
				}
				if b.CompletedAt != "" {
					fmt.Fprintf(stdout, "Completed: %s\n", b.CompletedAt)
				}

				if len(resp.Documents) == 0 {
					fmt.Fprintln(stdout, "No documents recorded")
					return nil
				}
				table := renderTable(
					[]string{"#", "Document", "Status", "Progress", "Chunks", "Vectors", "Entities", "Error"},
					buildDocumentRows(resp.Documents),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}
}

func buildDocumentRows(docs []api.Document) [][]string {
	rows := make([][]string, 0, len(docs))
	for _, doc := range docs {
		name := strings.TrimSpace(doc.DisplayName)
		if name == "" {
			name = doc.SourcePath
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", doc.BatchIndex),
			name,
			doc.Status,
			fmt.Sprintf("%.0f%%", doc.Progress*100),
			fmt.Sprintf("%d", doc.ChunkCount),
			fmt.Sprintf("%d", doc.VectorCount),
			fmt.Sprintf("%d", doc.EntityCount),
			truncate(doc.ErrorMessage, 60),
		})
	}
	return rows
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
