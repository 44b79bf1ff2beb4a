package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"staffplanner/internal/app"
)

var errNoOutbox = errors.New("outbox is only available with the postgres storage driver")

func newOutboxCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and replay failed outbox events",
	}

	var limit int
	failed := &cobra.Command{
		Use:   "failed",
		Short: "List events that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Outbox == nil {
					return errNoOutbox
				}
				events, err := a.Outbox.GetFailedEvents(ctx, limit)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), events)
			})
		},
	}
	failed.Flags().IntVar(&limit, "limit", 100, "maximum events to list")

	var ids []int64
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Reset failed events to pending (all of them unless --id is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Outbox == nil {
					return errNoOutbox
				}
				n, err := a.Outbox.ReplayFailedEvents(ctx, ids)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), map[string]int64{"replayed": n})
			})
		},
	}
	replay.Flags().Int64SliceVar(&ids, "id", nil, "event id to replay (repeatable)")

	cmd.AddCommand(failed, replay)
	return cmd
}
