package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show tree counts per state and active tree progress",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	stats, err := r.manager.TreeManagerStats(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tTREES")
	for _, sc := range stats.StateCounts {
		fmt.Fprintf(w, "%s\t%d\n", sc.State, sc.Count)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(stats.Trees) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TREE\tSTATE\tMESSAGES\tGOAL\tDEPTH\tAGE")
	for _, ts := range stats.Trees {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			ts.MessageTreeID, ts.State, ts.Count, ts.GoalTreeSize, ts.Depth,
			time.Since(ts.Oldest).Round(time.Minute))
	}
	return w.Flush()
}
