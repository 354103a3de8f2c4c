package main

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/menta2k/image-detailer/internal/utils"
	"github.com/menta2k/image-detailer/pkg/processing"
)

type runOptions struct {
	Prompt    string
	Negative  string
	Seed      int64
	OutputDir string
	Format    string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run [flags] <image|dir>...",
	Short: "Detail every input image and write the results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDetailing(cmd.Context(), runOpts, args)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.Prompt, "prompt", "p", "", "prompt the images were generated with")
	runCmd.Flags().StringVarP(&runOpts.Negative, "negative", "n", "", "negative prompt")
	runCmd.Flags().Int64VarP(&runOpts.Seed, "seed", "s", 0, "seed of the first image, incremented per image (0 = random)")
	runCmd.Flags().StringVarP(&runOpts.OutputDir, "out", "o", "", "output directory (default from config)")
	runCmd.Flags().StringVar(&runOpts.Format, "ext", "", "output format: png|jpg|webp (default from config)")
	rootCmd.AddCommand(runCmd)
}

func runDetailing(ctx context.Context, opts runOptions, args []string) error {
	files, err := utils.CollectInputs(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %v", args)
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = cfg.Output.OutputDir
	}
	format := opts.Format
	if format == "" {
		format = cfg.Output.Format
	}
	if err := utils.EnsureDir(outDir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	detailer, err := newDetailer()
	if err != nil {
		return err
	}

	processor := processing.NewProcessor()
	var inputs []string
	var images []image.Image
	for _, f := range files {
		img, err := processor.LoadImage(f)
		if err != nil {
			logger.Warn("skipping unreadable image", slog.String("file", f), slog.String("err", err.Error()))
			continue
		}
		inputs = append(inputs, f)
		images = append(images, img)
	}
	if len(images) == 0 {
		return fmt.Errorf("none of the %d inputs could be loaded", len(files))
	}

	var seeds []int64
	if opts.Seed != 0 {
		for i := range images {
			seeds = append(seeds, opts.Seed+int64(i))
		}
	}
	run := detailer.NewRun(opts.Prompt, opts.Negative, seeds, len(images), outDir)

	// Stop before the next image and abort the backend job on Ctrl+C. A skip
	// signal (SIGUSR1) drops the current backend job and the next image only.
	skips := make(chan os.Signal, 1)
	notifySkip(skips)
	defer signal.Stop(skips)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Warn("interrupted, stopping after the current image")
				if err := detailer.Interrupt(context.Background()); err != nil {
					logger.Error("backend interrupt failed", slog.String("err", err.Error()))
				}
				return
			case <-skips:
				logger.Warn("skip requested")
				if err := detailer.Skip(context.Background()); err != nil {
					logger.Error("backend skip failed", slog.String("err", err.Error()))
				}
			case <-done:
				return
			}
		}
	}()

	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("detailing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	start := time.Now()
	// Backend calls run on a context that outlives Ctrl+C so the current
	// image can finish cleanly; the signal stops the batch.
	results, runErr := detailer.DetailBatch(context.WithoutCancel(ctx), run, images, func(n, total int) {
		_ = bar.Set(n)
	})
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	written := 0
	for i, img := range results[:len(images)] {
		if img == nil {
			continue
		}
		path := utils.GenerateOutputFilename(inputs[i], outDir, cfg.Output.Prefix, cfg.Output.Suffix, format)
		if err := processor.SaveImage(img, path, format, cfg.Output.Quality, cfg.Output.Lossless); err != nil {
			logger.Error("save failed", slog.String("path", path), slog.String("err", err.Error()))
			continue
		}
		written++
		logger.Info("wrote", slog.String("path", path))
	}
	for i, img := range results[len(images):] {
		path := filepath.Join(outDir, fmt.Sprintf("extra_%03d.%s", i+1, format))
		if err := processor.SaveImage(img, path, format, cfg.Output.Quality, cfg.Output.Lossless); err != nil {
			logger.Error("save failed", slog.String("path", path), slog.String("err", err.Error()))
		}
	}

	logger.Info("detailing finished",
		slog.Int("images", len(images)),
		slog.Int("written", written),
		slog.Duration("elapsed", time.Since(start)))
	return runErr
}
