package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storescout/storescout/internal/dataset"
)

// newMergeCmd creates the 'merge' subcommand. It folds one result file
// into the master dataset and is what the orchestrator configures as its
// merge worker by default.
func newMergeCmd() *cobra.Command {
	var tolerance float64

	cmd := &cobra.Command{
		Use:   "merge <new-results.csv> <master.csv> <target>",
		Short: "Merge a scrape result file into the master dataset",
		Long: `Reads the new result file and the master dataset, removes duplicates
(by store handle, by name plus address, or by name plus coordinates
within the proximity tolerance), and rewrites the master file. Newer
data wins on conflicts.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := dataset.Merge(args[0], args[1], args[2], tolerance)
			if err != nil {
				return fmt.Errorf("merge: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Master rows before: %d\n", stats.MasterBefore)
			fmt.Fprintf(out, "New rows read: %d\n", stats.NewRows)
			fmt.Fprintf(out, "Duplicates removed: %d\n", stats.DuplicatesRemoved)
			fmt.Fprintf(out, "Rows added: %d\n", stats.RowsAdded)
			fmt.Fprintf(out, "✅ Master rows after: %d\n", stats.MasterAfter)
			return nil
		},
	}

	cmd.Flags().Float64Var(&tolerance, "tolerance", dataset.DefaultToleranceMeters,
		"proximity tolerance in meters for coordinate-based duplicate matching")
	return cmd
}
