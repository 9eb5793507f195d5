package command

import (
	"context"
	"io"

	"eventmanager/internal/microservices/bridge"

	"github.com/spf13/cobra"
)

var checkAdminCmd = &cobra.Command{
	Use:   "check-admin",
	Short: "Check whether a user administers a guild",
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, _ := cmd.Flags().GetString("guild")
		userID, _ := cmd.Flags().GetString("user")
		return runCheckAdmin(cmd.Context(), botClient, cmd.OutOrStdout(), guildID, userID)
	},
}

func runCheckAdmin(ctx context.Context, svc *bridge.Service, w io.Writer, guildID, userID string) error {
	isAdmin, err := svc.CheckAdmin(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if isAdmin {
		printOK(w, "user %s is an administrator of guild %s", userID, guildID)
	} else {
		infoColor.Fprintf(w, "user %s is not an administrator of guild %s\n", userID, guildID)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(checkAdminCmd)

	checkAdminCmd.Flags().String("guild", "", "guild ID")
	checkAdminCmd.Flags().String("user", "", "user ID")
	checkAdminCmd.MarkFlagRequired("guild")
	checkAdminCmd.MarkFlagRequired("user")
}
