package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulp/internal/events"
	"pulp/internal/ipc"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var since uint64
	var batchID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live progress events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				return followEvents(cmd, client, since, batchID)
			})
		},
	}

	cmd.Flags().Uint64Var(&since, "since", 0, "Replay events after this cursor before following")
	cmd.Flags().StringVar(&batchID, "batch", "", "Only show events for one batch")
	return cmd
}

// followEvents polls the daemon's event cursor and prints each event. With a
// batch filter it returns once that batch completes; otherwise it follows
// until the command context is cancelled.
func followEvents(cmd *cobra.Command, client *ipc.Client, since uint64, batchID string) error {
	stdout := cmd.OutOrStdout()
	cursor := since
	dropped := uint64(0)
	filter := newEventFilter()

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		default:
		}

		resp, err := client.Events(ipc.EventsRequest{
			Since:      cursor,
			Limit:      100,
			WaitMillis: 1000,
		})
		if err != nil {
			if cmd.Context().Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch events: %w", err)
		}
		if resp == nil {
			continue
		}
		if resp.Dropped > dropped {
			fmt.Fprintf(stdout, "... %d event(s) dropped by the daemon\n", resp.Dropped-dropped)
			dropped = resp.Dropped
		}
		for _, evt := range resp.Events {
			if batchID != "" && eventBatchID(evt) != batchID {
				continue
			}
			if !filter.keep(evt) {
				continue
			}
			fmt.Fprintln(stdout, formatEvent(evt))
			if batchID != "" && evt.Type == events.TypeBatchComplete {
				return nil
			}
		}
		if resp.NextCursor > cursor {
			cursor = resp.NextCursor
		}
	}
}
