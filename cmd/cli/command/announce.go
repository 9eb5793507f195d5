package command

import (
	"context"
	"io"
	"strings"

	"eventmanager/internal/microservices/bridge"

	"github.com/spf13/cobra"
)

var announceCmd = &cobra.Command{
	Use:   "announce [message]",
	Short: "Post an announcement to a channel",
	Long: `Post an announcement through the bot. Without --channel the message goes to
the default channel (CHANNEL_ID).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channelID, _ := cmd.Flags().GetString("channel")
		everyone, _ := cmd.Flags().GetBool("everyone")

		return runAnnounce(cmd.Context(), botClient, cmd.OutOrStdout(), bridge.Announcement{
			ChannelID: channelID,
			Message:   strings.Join(args, " "),
			Everyone:  everyone,
		})
	},
}

func runAnnounce(ctx context.Context, svc *bridge.Service, w io.Writer, a bridge.Announcement) error {
	text, err := svc.SendAnnouncement(ctx, a)
	if err != nil {
		return err
	}
	printOK(w, "%s", text)
	return nil
}

func init() {
	rootCmd.AddCommand(announceCmd)

	announceCmd.Flags().StringP("channel", "c", "", "target channel ID")
	announceCmd.Flags().Bool("everyone", false, "mention @everyone")
}
