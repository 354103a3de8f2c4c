package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/menta2k/image-detailer/internal/utils"
	"github.com/menta2k/image-detailer/pkg/processing"
	"github.com/menta2k/image-detailer/pkg/types"
)

type detectOptions struct {
	Labels     []string
	OutputDir  string
	TestVision bool
}

var detectOpts detectOptions

var detectCmd = &cobra.Command{
	Use:   "detect [flags] <image|dir>...",
	Short: "Show which regions would be detailed without regenerating anything",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDetect(cmd.Context(), detectOpts, args)
	},
}

func init() {
	detectCmd.Flags().StringSliceVarP(&detectOpts.Labels, "label", "l", []string{types.LabelFace}, "region labels: person,face,hand")
	detectCmd.Flags().StringVarP(&detectOpts.OutputDir, "out", "o", "", "write debug overlays to this directory")
	detectCmd.Flags().BoolVar(&detectOpts.TestVision, "test-vision", false, "ask the model to describe the image first")
	rootCmd.AddCommand(detectCmd)
}

// detectReport is printed as JSON for every input
type detectReport struct {
	File        string                  `json:"file"`
	Label       string                  `json:"label"`
	Kept        []types.RegionCandidate `json:"kept"`
	Dropped     []types.RegionCandidate `json:"dropped"`
	Description string                  `json:"description,omitempty"`
}

func runDetect(ctx context.Context, opts detectOptions, args []string) error {
	files, err := utils.CollectInputs(args)
	if err != nil {
		return err
	}
	if opts.OutputDir != "" {
		if err := utils.EnsureDir(opts.OutputDir); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	detailer, err := newDetailer()
	if err != nil {
		return err
	}

	processor := processing.NewProcessor()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, f := range files {
		img, err := processor.LoadImage(f)
		if err != nil {
			logger.Warn("skipping unreadable image", slog.String("file", f), slog.String("err", err.Error()))
			continue
		}

		var description string
		if opts.TestVision {
			description, err = detailer.TestVision(ctx, img)
			if err != nil {
				return fmt.Errorf("vision test failed for %s: %w", f, err)
			}
		}

		for _, label := range opts.Labels {
			det, err := detailer.Detect(ctx, img, label)
			if err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
			logger.Info("regions detected",
				slog.String("file", f),
				slog.String("label", label),
				slog.Int("kept", len(det.Kept)),
				slog.Int("dropped", len(det.Dropped)))

			if err := enc.Encode(detectReport{
				File:        f,
				Label:       label,
				Kept:        det.Kept,
				Dropped:     det.Dropped,
				Description: description,
			}); err != nil {
				return err
			}

			if opts.OutputDir == "" {
				continue
			}
			overlay := detailer.DebugOverlay(img, det)
			path := utils.GenerateOutputFilename(f, opts.OutputDir, "", "_"+label+"_debug", "png")
			if err := processor.SaveImage(overlay, filepath.Clean(path), "png", 0, false); err != nil {
				logger.Error("debug overlay save failed", slog.String("path", path), slog.String("err", err.Error()))
				continue
			}
			logger.Info("wrote", slog.String("path", path))
		}
	}
	return nil
}
