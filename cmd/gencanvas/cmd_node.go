package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/gencanvas/internal/types"
)

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.AddCommand(nodeAddCmd, nodeListCmd, nodeShowCmd, nodeEditCmd, nodeBranchCmd,
		nodeDuplicateCmd, nodeRemoveCmd, nodeRevisionsCmd, nodeRestoreCmd,
		nodeCollapseCmd, nodeFavoriteCmd, nodeSelectCmd)

	addEditFlags(nodeAddCmd)
	addEditFlags(nodeEditCmd)
	addOverrideFlags(nodeBranchCmd)
	nodeListCmd.Flags().Bool("archived", false, "include archived nodes")
	nodeRestoreCmd.Flags().Bool("generate", false, "generate from the restored prompt")
	nodeCollapseCmd.Flags().Bool("off", false, "expand instead of collapse")
	nodeFavoriteCmd.Flags().Bool("off", false, "clear the favorite flag")
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage canvas nodes",
}

var nodeAddCmd = &cobra.Command{
	Use:   "add [prompt]",
	Short: "Add a root node",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := patchFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(_ context.Context, a *app) error {
			n := &types.Node{BaseMode: types.BaseModePrompt}
			if len(args) == 1 {
				n.Prompt = args[0]
			}
			patch.Apply(n)
			if !cmd.Flags().Changed("count") {
				n.Count = 0
			}
			newNodeDefaults(n, a.cfg.Preferences)
			id := a.graph.AddNode(n)
			fmt.Fprintln(os.Stdout, id)
			return nil
		})
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		archived, _ := cmd.Flags().GetBool("archived")
		return readApp(cmd, func(_ context.Context, a *app) error {
			nodes := a.graph.Nodes()
			if len(nodes) == 0 {
				fmt.Println("No nodes found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tCOUNT\tIMAGES\tPROMPT")
			for _, n := range nodes {
				if n.Archived && !archived {
					continue
				}
				status := string(n.Status)
				if n.Archived {
					status += " (archived)"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", n.ID, status, n.Count, len(n.Images), oneLine(n.Prompt, 60))
			}
			return w.Flush()
		})
	},
}

var nodeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a node as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return readApp(cmd, func(_ context.Context, a *app) error {
			n, ok := a.graph.Node(types.NodeID(args[0]))
			if !ok {
				return fmt.Errorf("node %s not found", args[0])
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(n)
		})
	},
}

var nodeEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a node's prompt and parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := patchFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(_ context.Context, a *app) error {
			changed, err := a.graph.CommitNodeEdit(types.NodeID(args[0]), patch, types.RevisionManual)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Println("No changes.")
			}
			return nil
		})
	},
}

var nodeBranchCmd = &cobra.Command{
	Use:   "branch <id>",
	Short: "Create a child node copying the source's prompt and parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := overridesFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(_ context.Context, a *app) error {
			id, err := a.graph.BranchNode(types.NodeID(args[0]), overrides)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, id)
			return nil
		})
	},
}

var nodeDuplicateCmd = &cobra.Command{
	Use:   "duplicate <id>",
	Short: "Duplicate a node without its results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app) error {
			id, err := a.graph.DuplicateNode(types.NodeID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, id)
			return nil
		})
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a node and its edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app) error {
			return a.graph.RemoveNode(types.NodeID(args[0]))
		})
	},
}

var nodeRevisionsCmd = &cobra.Command{
	Use:   "revisions <id>",
	Short: "List a node's revisions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return readApp(cmd, func(_ context.Context, a *app) error {
			n, ok := a.graph.Node(types.NodeID(args[0]))
			if !ok {
				return fmt.Errorf("node %s not found", args[0])
			}
			if len(n.Revisions) == 0 {
				fmt.Println("No revisions.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tAT\tPROMPT")
			for _, r := range n.Revisions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Source, r.At.Format("2006-01-02 15:04:05"), oneLine(r.Prompt, 60))
			}
			return w.Flush()
		})
	},
}

var nodeRestoreCmd = &cobra.Command{
	Use:   "restore <id> <revision-id>",
	Short: "Roll a node back to a revision",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		generate, _ := cmd.Flags().GetBool("generate")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if generate {
				a.analysis.Start(ctx)
				defer a.analysis.Stop()
			}
			res, err := a.orch.RestoreRevision(ctx, types.NodeID(args[0]), types.RevisionID(args[1]), generate)
			if err != nil {
				return err
			}
			if generate {
				printResult(res)
			}
			return nil
		})
	},
}

var nodeCollapseCmd = &cobra.Command{
	Use:   "collapse <id>",
	Short: "Collapse a node's subtree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")
		return withApp(cmd, func(_ context.Context, a *app) error {
			return a.graph.SetCollapsed(types.NodeID(args[0]), !off)
		})
	},
}

var nodeFavoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Mark a node as favorite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")
		return withApp(cmd, func(_ context.Context, a *app) error {
			return a.graph.SetFavorite(types.NodeID(args[0]), !off)
		})
	},
}

var nodeSelectCmd = &cobra.Command{
	Use:   "select [id...]",
	Short: "Replace the selection; no ids clears it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app) error {
			if len(args) == 0 {
				a.graph.ClearSelection()
				return nil
			}
			ids := make([]types.NodeID, len(args))
			for i, id := range args {
				ids[i] = types.NodeID(id)
			}
			a.graph.SetSelection(ids)
			return nil
		})
	},
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
