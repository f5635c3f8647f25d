package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arborworks/arbor/internal/export"
)

var (
	exportOut  string
	exportUser string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export finished trees as JSONL",
	Long: `Writes one JSON document per tree, replies nested under their parent
and ordered by consensus rank. A .gz output path enables gzip compression.
By default every tree in ready_for_export is written; --user exports every
tree the user contributed to instead, regardless of state.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "trees.jsonl",
		"output file (.gz for gzip)")
	exportCmd.Flags().StringVar(&exportUser, "user", "",
		"export the trees this user contributed to")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := context.Background()
	var trees []*export.Tree
	if exportUser != "" {
		userID, err := uuid.Parse(exportUser)
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", exportUser, err)
		}
		trees, err = export.ExportUserTrees(ctx, r.db, userID)
		if err != nil {
			return err
		}
	} else {
		trees, err = export.ExportReadyTrees(ctx, r.db)
		if err != nil {
			return err
		}
	}

	if err := export.WriteFile(exportOut, trees); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d trees to %s\n", len(trees), exportOut)
	return nil
}
