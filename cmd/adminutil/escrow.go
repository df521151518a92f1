package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/sudo-init-do/tradiehub/internal/app"
	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/escrow"
)

var noticeWindow time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Release escrows whose protection period has ended",
	Long: `Runs one expiry sweep now, the same work the worker schedules.
Disputed escrows are never released. With --notices, expiry notices are
sent first for escrows releasing within the notice window.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if noticeWindow > 0 {
				n, err := a.Escrow.NotifyExpiring(ctx, noticeWindow)
				if err != nil {
					return err
				}
				cmd.Printf("expiry notices sent: %d\n", n)
			}
			res, err := a.Escrow.ReleaseOnExpiry(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}

var resolveNotes string

var resolveCmd = &cobra.Command{
	Use:   "resolve-dispute <escrow-id> <release|reinstate>",
	Short: "Resolve an open dispute on an escrow",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			e, err := a.Escrow.ResolveDispute(ctx, adminCaller(), args[0], escrow.Resolution{
				Outcome: domain.DisputeOutcome(args[1]),
				Notes:   resolveNotes,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, e)
		})
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&noticeWindow, "notices", 0, "also send expiry notices for this window (e.g. 48h)")
	resolveCmd.Flags().StringVar(&resolveNotes, "notes", "", "resolution notes shown to both parties")
}
