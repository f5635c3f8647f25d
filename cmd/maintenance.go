package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run one maintenance pass and exit",
	Long: `Repairs trees without a state row, advances trees that satisfy their
next state condition, and retries trees stuck in scoring_failed.`,
	RunE: runMaintenance,
}

func init() {
	rootCmd.AddCommand(maintenanceCmd)
}

func runMaintenance(cmd *cobra.Command, args []string) error {
	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := context.Background()
	if err := r.manager.EnsureTreeStates(ctx); err != nil {
		return fmt.Errorf("ensuring tree states: %w", err)
	}
	if err := r.manager.RetryScoringFailed(ctx); err != nil {
		return fmt.Errorf("retrying failed scorings: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "maintenance pass complete")
	return nil
}
