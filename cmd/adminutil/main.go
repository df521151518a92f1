package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/sudo-init-do/tradiehub/internal/app"
	"github.com/sudo-init-do/tradiehub/internal/config"
	"github.com/sudo-init-do/tradiehub/internal/domain"
)

var actor string

var rootCmd = &cobra.Command{
	Use:           "adminutil",
	Short:         "Operator tools for the TradieHub escrow core",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "ops", "admin user id recorded on the change")
	rootCmd.AddCommand(schemaCmd, sweepCmd, resolveCmd, withdrawalCmd, userCmd, tokenCmd)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func adminCaller() domain.Caller {
	return domain.Caller{UserID: actor, Role: domain.RoleAdmin}
}

// withApp loads configuration and runs fn against the wired services.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.Logger("adminutil")
	slog.SetDefault(log)
	a, err := app.New(cmd.Context(), cfg, log, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
