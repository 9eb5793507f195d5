package command

import (
	"context"
	"errors"
	"fmt"
	"io"

	"eventmanager/database"
	"eventmanager/internal/microservices/allowlist"
	"eventmanager/internal/microservices/bridge"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var allowCmd = &cobra.Command{
	Use:   "allow",
	Short: "Manage the web-tier allow-list",
	Long:  `Users on the allow-list may use the web tier without being guild administrators.`,
}

var allowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allowed users",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, db, err := openAllowList(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close(db)
		return runAllowList(cmd.Context(), repo, cmd.OutOrStdout())
	},
}

var allowAddCmd = &cobra.Command{
	Use:   "add [user-id]",
	Short: "Add a user to the allow-list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, db, err := openAllowList(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close(db)
		return runAllowAdd(cmd.Context(), repo, cmd.OutOrStdout(), args[0])
	},
}

var allowCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a user may use the web tier",
	Long: `A user passes when they are on the allow-list or, with --guild, when the bot
reports them as an administrator of that guild.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		guildID, _ := cmd.Flags().GetString("guild")

		repo, db, err := openAllowList(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close(db)

		svc := bridge.NewService(sender, repo, bridge.Config{
			DefaultChannelID: cfg.DefaultChannelID,
			RequestTimeout:   timeout,
			Logger:           logger,
		})
		return runAllowCheck(cmd.Context(), svc, cmd.OutOrStdout(), userID, guildID)
	},
}

func openAllowList(ctx context.Context) (allowlist.Repository, *gorm.DB, error) {
	db, err := database.ConnectDB(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	repo := allowlist.NewRepository(db)
	if err := repo.Init(ctx); err != nil {
		database.Close(db)
		return nil, nil, err
	}
	return repo, db, nil
}

func runAllowList(ctx context.Context, repo allowlist.Repository, w io.Writer) error {
	users, err := repo.List(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(w, "No allowed users.")
		return nil
	}

	fmt.Fprintf(w, "Allowed users (%d total):\n\n", len(users))
	for _, u := range users {
		fmt.Fprintf(w, "%-20s  added %s\n", u.UserID, u.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runAllowAdd(ctx context.Context, repo allowlist.Repository, w io.Writer, userID string) error {
	err := repo.Add(ctx, userID)
	if errors.Is(err, allowlist.ErrAlreadyAllowed) {
		infoColor.Fprintf(w, "user %s is already allowed\n", userID)
		return nil
	}
	if err != nil {
		return err
	}
	printOK(w, "user %s added to the allow-list", userID)
	return nil
}

func runAllowCheck(ctx context.Context, svc *bridge.Service, w io.Writer, userID, guildID string) error {
	allowed, err := svc.IsUserAllowed(ctx, userID, guildID)
	if err != nil {
		return err
	}
	if allowed {
		printOK(w, "user %s is allowed", userID)
	} else {
		infoColor.Fprintf(w, "user %s is not allowed\n", userID)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(allowCmd)
	allowCmd.AddCommand(allowListCmd, allowAddCmd, allowCheckCmd)

	allowCheckCmd.Flags().String("user", "", "user ID")
	allowCheckCmd.Flags().String("guild", "", "guild ID for the admin fallback")
	allowCheckCmd.MarkFlagRequired("user")
}
