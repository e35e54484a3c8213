package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/gencanvas/internal/graph"
	"github.com/user/gencanvas/internal/types"
)

// addEditFlags registers the node fields an edit, branch or generation may
// replace.
func addEditFlags(cmd *cobra.Command) {
	cmd.Flags().String("prompt", "", "prompt text")
	cmd.Flags().Int("count", 0, "images per generation (1-8)")
	cmd.Flags().String("size", "", "image size (1K, 2K, 4K)")
	cmd.Flags().String("aspect", "", "aspect ratio, e.g. 16:9")
	cmd.Flags().StringSlice("tag", nil, "tags (repeatable)")
	cmd.Flags().String("notes", "", "free-form notes")
}

func addOverrideFlags(cmd *cobra.Command) {
	addEditFlags(cmd)
	cmd.Flags().String("base", "", "generation base mode (prompt, image)")
	cmd.Flags().String("reference", "", "reference image id")
}

// patchFromFlags builds a patch holding only the flags the user set.
func patchFromFlags(cmd *cobra.Command) (graph.Patch, error) {
	var p graph.Patch
	f := cmd.Flags()
	if f.Changed("prompt") {
		v, _ := f.GetString("prompt")
		p.Prompt = &v
	}
	if f.Changed("count") {
		v, _ := f.GetInt("count")
		p.Count = &v
	}
	if f.Changed("size") {
		v, _ := f.GetString("size")
		size := types.ImageSize(v)
		if !size.Valid() {
			return p, fmt.Errorf("invalid image size %q", v)
		}
		p.ImageSize = &size
	}
	if f.Changed("aspect") {
		v, _ := f.GetString("aspect")
		aspect := types.AspectRatio(v)
		if !aspect.Valid() {
			return p, fmt.Errorf("invalid aspect ratio %q", v)
		}
		p.AspectRatio = &aspect
	}
	if f.Changed("tag") {
		v, _ := f.GetStringSlice("tag")
		p.Tags = &v
	}
	if f.Changed("notes") {
		v, _ := f.GetString("notes")
		p.Notes = &v
	}
	return p, nil
}

func overridesFromFlags(cmd *cobra.Command) (graph.Overrides, error) {
	patch, err := patchFromFlags(cmd)
	if err != nil {
		return graph.Overrides{}, err
	}
	o := graph.Overrides{Patch: patch}
	f := cmd.Flags()
	if f.Lookup("base") != nil && f.Changed("base") {
		v, _ := f.GetString("base")
		mode := types.BaseMode(v)
		if mode != types.BaseModePrompt && mode != types.BaseModeImage {
			return o, fmt.Errorf("invalid base mode %q", v)
		}
		o.BaseMode = &mode
	}
	if f.Lookup("reference") != nil && f.Changed("reference") {
		v, _ := f.GetString("reference")
		id := types.ImageID(v)
		o.ReferenceImageID = &id
	}
	return o, nil
}

// withApp opens the configured canvas, runs fn and saves the result.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	return runApp(cmd, true, fn)
}

// readApp is withApp without the save.
func readApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	return runApp(cmd, false, fn)
}

func runApp(cmd *cobra.Command, save bool, fn func(ctx context.Context, a *app) error) error {
	cfg := loadConfig()
	setupLogging(cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		return err
	}
	if !save {
		return nil
	}
	return a.save(ctx)
}
