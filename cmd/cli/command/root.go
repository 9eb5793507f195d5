package command

// root.go defines the root command for eventctl and the bot connection
// shared by its subcommands.

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"eventmanager/internal/config"
	"eventmanager/internal/logging"
	"eventmanager/internal/microservices/bridge"
	"eventmanager/internal/microservices/connector"

	"github.com/spf13/cobra"
)

var (
	botAddr   string        // Global flag for the bot receiver address
	timeout   time.Duration // per-request timeout
	retries   int           // dial attempts
	verbose   bool
	cfg       *config.Config
	logger    *slog.Logger
	sender    *connector.Sender
	botClient *bridge.Service
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "eventctl",
	Short: "eventctl - operator CLI for the event manager bot",
	Long: `eventctl talks to a running event manager bot over its connector socket.
Operators can use it to:
- Check that the bot is alive
- Post announcements to a channel
- Schedule guild events
- Check guild admin status and manage the allow-list

Use "eventctl command --help" to see all available commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return err
		}

		level := "warn"
		if verbose {
			level = "debug"
		}
		logger = logging.NewWithWriter(os.Stderr, logging.Options{Level: level, Format: "text"})

		if botAddr == "" {
			botAddr = cfg.BotSockAddr()
		}
		sender = connector.NewSender(connector.SenderConfig{
			Addr:           botAddr,
			DialTimeout:    cfg.DialTimeout,
			Retries:        retries,
			Delay:          cfg.ConnectDelay,
			MaxMessageSize: cfg.MaxMessageSize,
			Logger:         logger,
		})
		botClient = bridge.NewService(sender, nil, bridge.Config{
			DefaultChannelID: cfg.DefaultChannelID,
			RequestTimeout:   timeout,
			Logger:           logger,
		})
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if sender != nil {
			return sender.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printFailure(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&botAddr, "addr", "", "bot receiver address (default BOT_SOCK_ADDRESS:BOT_SOCK_PORT)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 1, "connection attempts before giving up")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log connector activity to stderr")
}

func printFailure(w io.Writer, err error) {
	fmt.Fprintln(w, errorColor.Sprint("✗ "+describe(err)))
}
