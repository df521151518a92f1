package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sudo-init-do/tradiehub/internal/app"
	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/user"
)

var syncUser domain.User

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the local user mirror",
}

var userSyncCmd = &cobra.Command{
	Use:   "sync <user-id>",
	Short: "Create or update a mirrored user",
	Example: `  adminutil user sync u_123 --email jo@example.com --role admin
  adminutil user sync u_456 --email sam@example.com --role tradie --parent u_789`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u := syncUser
		u.ID = args[0]
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out, err := user.Sync(ctx, a.Store, u)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		})
	},
}

func init() {
	f := userSyncCmd.Flags()
	f.StringVar(&syncUser.Email, "email", "", "email address")
	f.StringVar(&syncUser.Name, "name", "", "display name")
	f.StringVar(&syncUser.Phone, "phone", "", "phone number")
	f.StringVar((*string)(&syncUser.Role), "role", "", "owner, tradie or admin")
	f.StringVar(&syncUser.ParentID, "parent", "", "referring parent tradie id")
	_ = userSyncCmd.MarkFlagRequired("email")
	_ = userSyncCmd.MarkFlagRequired("role")
	userCmd.AddCommand(userSyncCmd)
}
