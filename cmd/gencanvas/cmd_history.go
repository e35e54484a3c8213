package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("limit", 20, "number of runs to show")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent generation runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return readApp(cmd, func(ctx context.Context, a *app) error {
			records, err := a.journal.Recent(ctx, a.graph.CanvasID(), limit)
			if err != nil {
				return fmt.Errorf("read run journal: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tMODE\tNODE\tOK\tFAILED\tMS\tNOTE")
			for _, r := range records {
				note := r.Notice
				if r.Error != "" {
					note = r.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.At.Format("2006-01-02 15:04:05"), r.Mode, r.NodeID, r.Succeeded, r.Failed, r.Duration, oneLine(note, 60))
			}
			return w.Flush()
		})
	},
}
