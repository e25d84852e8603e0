package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pulp/internal/ipc"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Submit documents for processing as one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := make([]string, 0, len(args))
			for _, arg := range args {
				absPath, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve path %q: %w", arg, err)
				}
				info, err := os.Stat(absPath)
				if err != nil {
					if errors.Is(err, os.ErrNotExist) {
						return fmt.Errorf("file does not exist: %s", absPath)
					}
					return fmt.Errorf("inspect file: %w", err)
				}
				if info.IsDir() {
					return fmt.Errorf("%s is a directory", absPath)
				}
				paths = append(paths, absPath)
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Ingest(paths, nil)
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty response from daemon")
				}
				receipt := resp.Receipt
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %s admitted with %d document(s)\n", receipt.BatchID, receipt.Total)
				if !watch {
					return nil
				}
				return followEvents(cmd, client, 0, receipt.BatchID)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream progress events until the batch completes")
	return cmd
}
