package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sudo-init-do/tradiehub/internal/app"
	"github.com/sudo-init-do/tradiehub/internal/domain"
)

var failReason string

var withdrawalCmd = &cobra.Command{
	Use:   "withdrawal <withdrawal-id> <processing|completed|failed>",
	Short: "Move a withdrawal through the payout lifecycle",
	Long: `Records the outcome of a manual payout. A failed withdrawal returns
its amount to the payee's available balance.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, to := args[0], domain.WithdrawalStatus(args[1])
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var (
				w   domain.Withdrawal
				err error
			)
			switch to {
			case domain.WithdrawalProcessing:
				w, err = a.Wallet.MarkProcessing(ctx, adminCaller(), id)
			case domain.WithdrawalCompleted:
				w, err = a.Wallet.MarkCompleted(ctx, adminCaller(), id)
			case domain.WithdrawalFailed:
				w, err = a.Wallet.MarkFailed(ctx, adminCaller(), id, failReason)
			default:
				return fmt.Errorf("unknown status %q", args[1])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, w)
		})
	},
}

func init() {
	withdrawalCmd.Flags().StringVar(&failReason, "reason", "", "failure reason (failed only)")
}
