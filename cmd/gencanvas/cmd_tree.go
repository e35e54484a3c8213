package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/gencanvas/internal/view"
)

func init() {
	rootCmd.AddCommand(treeCmd)
	treeCmd.Flags().Int("latest", -1, "only show nodes within this many levels of a leaf (0 shows all)")
	treeCmd.Flags().Bool("previews", false, "count previews under collapsed nodes")
	treeCmd.Flags().Int("depth", 0, "preview depth under collapsed nodes")
}

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the visible canvas as a tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return readApp(cmd, func(_ context.Context, a *app) error {
			prefs := viewPrefs(a.cfg.Preferences)
			f := cmd.Flags()
			if f.Changed("latest") {
				prefs.LatestLevels, _ = f.GetInt("latest")
			}
			if f.Changed("previews") {
				prefs.PreviewImages, _ = f.GetBool("previews")
			}
			if f.Changed("depth") {
				prefs.PreviewDepth, _ = f.GetInt("depth")
			}
			return view.Render(os.Stdout, view.Project(a.graph.Nodes(), a.graph.Edges(), prefs))
		})
	},
}
