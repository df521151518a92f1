package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sudo-init-do/tradiehub/internal/config"
	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/utils"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <user-id> <role>",
	Short: "Mint a bearer token for local testing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Env == "production" {
			return errors.New("refusing to mint tokens in production")
		}
		tok, err := utils.SignToken([]byte(cfg.JWTSecret), args[0], domain.Role(args[1]), tokenTTL, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
