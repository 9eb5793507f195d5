package command

import (
	"context"
	"io"
	"time"

	"eventmanager/internal/microservices/bridge"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the bot answers on its connector socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPing(cmd.Context(), botClient, cmd.OutOrStdout())
	},
}

func runPing(ctx context.Context, svc *bridge.Service, w io.Writer) error {
	start := time.Now()
	if err := svc.Ping(ctx); err != nil {
		return err
	}
	printOK(w, "bot is alive (%s)", time.Since(start).Round(time.Millisecond))
	return nil
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
