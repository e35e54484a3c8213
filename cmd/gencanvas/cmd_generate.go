package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/gencanvas/internal/batch"
	"github.com/user/gencanvas/internal/orchestrator"
	"github.com/user/gencanvas/internal/types"
)

func init() {
	rootCmd.AddCommand(generateCmd, continueCmd, batchCmd)

	addOverrideFlags(generateCmd)
	generateCmd.Flags().Bool("regenerate", false, "archive previous regenerate batches and replace them")
	generateCmd.Flags().Bool("select", false, "select the new children")

	addEditFlags(continueCmd)
	continueCmd.Flags().String("mode", "", "continue mode (single, multi); defaults to preferences")

	batchCmd.Flags().Int("concurrency", 0, "parallel workers (1-6); defaults to preferences")
	batchCmd.Flags().Bool("regenerate", false, "regenerate instead of adding children")
	batchCmd.Flags().Bool("selected", false, "run every selected node")
}

var generateCmd = &cobra.Command{
	Use:   "generate <id>",
	Short: "Generate child images from a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := overridesFromFlags(cmd)
		if err != nil {
			return err
		}
		regenerate, _ := cmd.Flags().GetBool("regenerate")
		autoSelect, _ := cmd.Flags().GetBool("select")
		opts := orchestrator.Options{Mode: orchestrator.ModeGenerate, Overrides: overrides, AutoSelect: autoSelect}
		if regenerate {
			opts.Mode = orchestrator.ModeRegenerate
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			a.analysis.Start(ctx)
			defer a.analysis.Stop()
			res, err := a.orch.GenerateFromNode(ctx, types.NodeID(args[0]), opts)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		})
	},
}

var continueCmd = &cobra.Command{
	Use:   "continue <id> <image-id>",
	Short: "Branch from a produced image and generate one continuation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := overridesFromFlags(cmd)
		if err != nil {
			return err
		}
		mode, _ := cmd.Flags().GetString("mode")
		switch orchestrator.ContinueMode(mode) {
		case "", orchestrator.ContinueSingle, orchestrator.ContinueMulti:
		default:
			return fmt.Errorf("invalid continue mode %q", mode)
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			a.analysis.Start(ctx)
			defer a.analysis.Stop()
			res, err := a.orch.ContinueFromImage(ctx, types.NodeID(args[0]), types.ImageID(args[1]),
				orchestrator.ContinueMode(mode), overrides)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		})
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [id...]",
	Short: "Generate from many nodes with bounded parallelism",
	RunE: func(cmd *cobra.Command, args []string) error {
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		regenerate, _ := cmd.Flags().GetBool("regenerate")
		selected, _ := cmd.Flags().GetBool("selected")
		if len(args) == 0 && !selected {
			return fmt.Errorf("give node ids or --selected")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			ids := make([]types.NodeID, 0, len(args))
			for _, id := range args {
				ids = append(ids, types.NodeID(id))
			}
			if selected {
				for _, n := range a.graph.Nodes() {
					if n.Selected && !n.Archived {
						ids = append(ids, n.ID)
					}
				}
			}
			if concurrency == 0 {
				concurrency = a.cfg.Preferences.BatchConcurrency
			}
			opts := batch.Options{Concurrency: concurrency, Mode: orchestrator.ModeGenerate}
			if regenerate {
				opts.Mode = orchestrator.ModeRegenerate
			}

			a.analysis.Start(ctx)
			defer a.analysis.Stop()
			sum, err := a.scheduler.Run(ctx, ids, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "workers=%d succeeded=%d failed=%d incomplete=%d skipped_empty=%d skipped_missing=%d errored=%d elapsed=%s\n",
				sum.Workers, sum.Succeeded, sum.Failed, sum.Incomplete, sum.SkippedEmpty, sum.SkippedMissing, sum.Errored, sum.Elapsed.Round(time.Millisecond))
			return nil
		})
	},
}

func printResult(res *orchestrator.Result) {
	fmt.Fprintf(os.Stdout, "succeeded=%d failed=%d\n", res.Succeeded, res.Failed)
	for _, id := range res.ChildIDs {
		fmt.Fprintln(os.Stdout, id)
	}
	if res.Notice != "" {
		fmt.Fprintln(os.Stdout, "note:", res.Notice)
	}
	if res.CallErr != nil {
		fmt.Fprintln(os.Stdout, "error:", res.CallError())
	}
}
