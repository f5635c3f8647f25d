package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arborworks/arbor/internal/domain/tree"
)

var availabilityLang string

var availabilityCmd = &cobra.Command{
	Use:   "availability <user-id>",
	Short: "Show how many tasks of each kind the user could be handed",
	Args:  cobra.ExactArgs(1),
	RunE:  runAvailability,
}

func init() {
	availabilityCmd.Flags().StringVar(&availabilityLang, "lang", "en", "task language")
	rootCmd.AddCommand(availabilityCmd)
}

func runAvailability(cmd *cobra.Command, args []string) error {
	userID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", args[0], err)
	}

	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	avail, err := r.manager.TaskAvailability(context.Background(), userID, availabilityLang)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tAVAILABLE")
	for _, kind := range tree.RequestTypes {
		fmt.Fprintf(w, "%s\t%d\n", kind, avail[kind])
	}
	fmt.Fprintf(w, "total\t%d\n", avail.Total())
	return w.Flush()
}
