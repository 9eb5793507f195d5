package command

import (
	"context"
	"fmt"
	"io"
	"time"

	"eventmanager/internal/microservices/bridge"
	"eventmanager/internal/microservices/dispatcher"

	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Guild event commands",
}

type eventOptions struct {
	guildID     string
	channelID   string
	name        string
	description string
	start       string
	end         string
	entityType  string
	location    string
	image       string
}

var newEvent eventOptions

var eventCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Schedule a guild event",
	Long: `Schedule a guild event through the bot.

Times accept RFC 3339 ("2030-05-01T18:00:00+09:00") or a local time without a
zone ("2030-05-01 18:00"); a time that does not parse is rejected before
anything is sent. A missing start defaults to one minute from now. A missing
end, or one not after the start, becomes one hour after the start.`,
	Example: `  eventctl event create --guild 123 --name "Movie night" --description "Bring snacks" \
    --type voice --channel 456 --start "2030-05-01 20:00"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreateEvent(cmd.Context(), botClient, cmd.OutOrStdout(), newEvent)
	},
}

func runCreateEvent(ctx context.Context, svc *bridge.Service, w io.Writer, opts eventOptions) error {
	start, err := dispatcher.ParseEventTime(opts.start, time.Local)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := dispatcher.ParseEventTime(opts.end, time.Local)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	text, err := svc.CreateEvent(ctx, bridge.Event{
		GuildID:     opts.guildID,
		ChannelID:   opts.channelID,
		Name:        opts.name,
		Description: opts.description,
		Start:       start,
		End:         end,
		EntityType:  opts.entityType,
		Location:    opts.location,
		ImageURI:    opts.image,
	})
	if err != nil {
		return err
	}
	printOK(w, "%s", text)
	return nil
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(eventCreateCmd)

	f := eventCreateCmd.Flags()
	f.StringVar(&newEvent.guildID, "guild", "", "guild ID")
	f.StringVar(&newEvent.channelID, "channel", "", "voice or stage channel ID")
	f.StringVar(&newEvent.name, "name", "", "event name")
	f.StringVar(&newEvent.description, "description", "", "event description")
	f.StringVar(&newEvent.start, "start", "", "start time")
	f.StringVar(&newEvent.end, "end", "", "end time")
	f.StringVar(&newEvent.entityType, "type", "external", "stage_instance, voice or external")
	f.StringVar(&newEvent.location, "location", "", "location for external events")
	f.StringVar(&newEvent.image, "image", "", "cover image URL")

	eventCreateCmd.MarkFlagRequired("guild")
	eventCreateCmd.MarkFlagRequired("name")
	eventCreateCmd.MarkFlagRequired("description")
}
