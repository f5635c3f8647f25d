package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arborworks/arbor/internal/manager"
)

var (
	purgePrompts bool
	purgeBan     bool
	purgeAfter   string
	purgeBefore  string
)

var purgeCmd = &cobra.Command{
	Use:   "purge <user-id>",
	Short: "Remove a user's contributions",
	Long: `Hard-deletes the user's replies and everything below them; affected
trees are replayed through the state machine. With --prompts, trees the user
rooted are removed entirely. With --ban, reactions, labels, tasks and journal
entries are wiped too and the account is disabled. --after and --before
restrict the purge to messages created inside the window (RFC 3339).`,
	Args: cobra.ExactArgs(1),
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().BoolVar(&purgePrompts, "prompts", false,
		"also remove trees rooted by the user")
	purgeCmd.Flags().BoolVar(&purgeBan, "ban", false,
		"wipe all remaining user data and disable the account")
	purgeCmd.Flags().StringVar(&purgeAfter, "after", "",
		"only purge messages created after this time")
	purgeCmd.Flags().StringVar(&purgeBefore, "before", "",
		"only purge messages created before this time")
	rootCmd.AddCommand(purgeCmd)
}

func purgeWindow() (*manager.TimeWindow, error) {
	if purgeAfter == "" && purgeBefore == "" {
		return nil, nil
	}
	var w manager.TimeWindow
	var err error
	if purgeAfter != "" {
		if w.After, err = time.Parse(time.RFC3339, purgeAfter); err != nil {
			return nil, fmt.Errorf("invalid --after %q: %w", purgeAfter, err)
		}
	}
	if purgeBefore != "" {
		if w.Before, err = time.Parse(time.RFC3339, purgeBefore); err != nil {
			return nil, fmt.Errorf("invalid --before %q: %w", purgeBefore, err)
		}
	}
	return &w, nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	userID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", args[0], err)
	}
	window, err := purgeWindow()
	if err != nil {
		return err
	}
	if purgeBan && window != nil {
		return fmt.Errorf("--ban wipes all user data and cannot be combined with a time window")
	}

	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := context.Background()
	if purgeBan {
		if err := r.manager.PurgeUser(ctx, userID, purgePrompts); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged and disabled user %s\n", userID)
		return nil
	}
	if err := r.manager.PurgeUserMessages(ctx, userID, purgePrompts, window); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged messages of user %s\n", userID)
	return nil
}
