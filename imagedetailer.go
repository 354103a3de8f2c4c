// Package imagedetailer regenerates the faces, hands and people of generated
// images at higher fidelity.
//
// A vision-language model locates the regions, a mask is drawn for every
// selected region and an AUTOMATIC1111-compatible backend inpaints it. The
// whole sequence runs inside guards that keep conditioning integrations and
// host settings away from the localized calls and restore them afterwards.
//
// Basic usage:
//
//	vc, _ := ollama.NewClient("http://localhost:11434")
//	sd, _ := sdapi.NewClient("http://127.0.0.1:7860", sdapi.DefaultDefaults())
//	d := imagedetailer.New(vc, sd, imagedetailer.DefaultConfig(), nil)
//
//	run := d.NewRun("1girl, smile", "lowres", []int64{1234}, 1, "out")
//	images, err := d.DetailBatch(ctx, run, []image.Image{img}, nil)
//
// The package consists of these components:
//
//  1. Detection (pkg/detection): label prompts, box conversion and caching
//  2. Detailing (pkg/detailing): select, mask and regenerate one label's regions
//  3. Guard (pkg/guard): reentrancy and checkpoint scopes
//  4. Pipeline (pkg/pipeline): the fixed stage order and batch loop
//  5. SD API (pkg/sdapi): img2img, options, models and controlnet units
package imagedetailer

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"slices"

	"github.com/menta2k/image-detailer/internal/utils"
	"github.com/menta2k/image-detailer/pkg/client"
	"github.com/menta2k/image-detailer/pkg/detailing"
	"github.com/menta2k/image-detailer/pkg/detection"
	"github.com/menta2k/image-detailer/pkg/guard"
	"github.com/menta2k/image-detailer/pkg/pipeline"
	"github.com/menta2k/image-detailer/pkg/processing"
	"github.com/menta2k/image-detailer/pkg/sdapi"
	"github.com/menta2k/image-detailer/pkg/segment"
	"github.com/menta2k/image-detailer/pkg/types"
)

// Version of the image detailer library
const Version = "0.3.0"

// Config bundles the settings of every component
type Config struct {
	Detection   detection.Config
	MaskShape   segment.Shape
	Pipeline    pipeline.Config
	MaxElements int

	// ControlNet units are attached to every run built by NewRun
	ControlNet []types.ConditioningStep

	SnapshotFormat  string
	SnapshotQuality int
}

// DefaultConfig returns a configuration that details the largest face only
func DefaultConfig() Config {
	return Config{
		Detection: detection.DefaultConfig(),
		MaskShape: segment.ShapeEllipse,
		Pipeline: pipeline.Config{
			Modules: types.ModuleConfig{
				Face: types.RegionModule{
					Strength: 1,
					Limit:    1,
					Options: types.Options{
						Prompt:            types.PromptMarker,
						DenoisingStrength: 0.4,
						MaskBlur:          4,
						Dilation:          4,
					},
				},
			},
			Finish: processing.DefaultFinishConfig(),
		},
		SnapshotFormat:  "png",
		SnapshotQuality: 95,
	}
}

// Synthesis is the generation backend a Detailer drives
type Synthesis interface {
	client.Synthesizer
	client.ModelRegistry
	client.SettingStore
	Interrupt(ctx context.Context) error
	Skip(ctx context.Context) error
}

// Detailer provides a high-level interface for detailing images
type Detailer struct {
	config    Config
	detector  *detection.Detector
	segmenter *segment.BoxSegmenter
	synth     Synthesis
	saver     *processing.FileSaver
	processor *processing.Processor
	signal    *pipeline.Signal
	logger    *slog.Logger
}

// New creates a Detailer. A nil logger uses slog.Default.
func New(vc client.VisionClient, synth Synthesis, cfg Config, logger *slog.Logger) *Detailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detailer{
		config:    cfg,
		detector:  detection.NewDetector(vc, cfg.Detection),
		segmenter: segment.NewBoxSegmenter(cfg.MaskShape),
		synth:     synth,
		saver:     processing.NewFileSaver(cfg.SnapshotFormat, cfg.SnapshotQuality, false),
		processor: processing.NewProcessor(),
		signal:    pipeline.NewSignal(),
		logger:    logger,
	}
}

// Signal returns the stop/skip signal shared by all runs of the Detailer
func (d *Detailer) Signal() *pipeline.Signal {
	return d.signal
}

// Interrupt stops the current batch and asks the backend to abort its job
func (d *Detailer) Interrupt(ctx context.Context) error {
	d.signal.Stop()
	return d.synth.Interrupt(ctx)
}

// Skip leaves the next image of the batch undetailed and asks the backend to
// drop the job it is running. Later images are processed as usual.
func (d *Detailer) Skip(ctx context.Context) error {
	d.signal.Skip()
	return d.synth.Skip(ctx)
}

// NewRun describes a batch of n images sharing one prompt pair. Missing
// seeds are left at zero, which lets the backend pick one.
func (d *Detailer) NewRun(prompt, negative string, seeds []int64, n int, outputDir string) *types.Run {
	run := &types.Run{
		AllPrompts:         make([]string, n),
		AllNegativePrompts: make([]string, n),
		Seeds:              make([]int64, n),
		OutputDir:          outputDir,
	}
	for i := range n {
		run.AllPrompts[i] = prompt
		run.AllNegativePrompts[i] = negative
		if i < len(seeds) {
			run.Seeds[i] = seeds[i]
		}
	}
	for _, step := range d.config.ControlNet {
		run.Steps = append(run.Steps, step)
	}
	return run
}

// orchestrator wires a fresh hook table and controlnet integration for run
func (d *Detailer) orchestrator(run *types.Run, progress func(done, total int)) *pipeline.Orchestrator {
	hooks := guard.NewHooks(d.synth.Regenerate, nil)
	controlNet := sdapi.NewControlNet(run, d.logger)
	controlNet.Install(hooks)

	regions := detailing.NewProcessor(d.detector, d.segmenter, hooks,
		detailing.Config{MaxElements: d.config.MaxElements}, d.logger)

	return pipeline.New(d.config.Pipeline, pipeline.Dependencies{
		Regions:     regions,
		Detector:    d.detector,
		Synth:       hooks,
		Hooks:       hooks,
		Settings:    d.synth,
		Integration: controlNet,
		Models:      d.synth,
		Saver:       d.saver,
		Signal:      d.signal,
		Logger:      d.logger,
		Progress:    progress,
	})
}

// DetailBatch runs the detailing pipeline over images. See
// pipeline.Orchestrator.RunBatch for the shape of the result.
func (d *Detailer) DetailBatch(ctx context.Context, run *types.Run, images []image.Image, progress func(done, total int)) ([]image.Image, error) {
	return d.orchestrator(run, progress).RunBatch(ctx, run, images)
}

// DetailImage runs the pipeline over the index-th image of run
func (d *Detailer) DetailImage(ctx context.Context, run *types.Run, index int, img image.Image) (image.Image, error) {
	return d.orchestrator(run, nil).RunImage(ctx, run, run.Context(index, img))
}

// Detection is the outcome of Detect: the regions the pipeline would
// regenerate and the ones it would leave alone
type Detection struct {
	Kept    []types.RegionCandidate `json:"kept"`
	Dropped []types.RegionCandidate `json:"dropped"`
}

// Detect reports which regions of label the configured module would select
func (d *Detailer) Detect(ctx context.Context, img image.Image, label string) (Detection, error) {
	module, ok := d.config.Pipeline.Modules.Region(label)
	if !ok {
		return Detection{}, fmt.Errorf("%w: %s", detailing.ErrUnknownRegion, label)
	}

	candidates, err := d.detector.Detect(ctx, img, label)
	if err != nil {
		return Detection{}, err
	}

	regions := detailing.NewProcessor(d.detector, d.segmenter, nil,
		detailing.Config{MaxElements: d.config.MaxElements}, d.logger)
	kept := regions.Select(module, candidates)

	var dropped []types.RegionCandidate
	for _, c := range candidates {
		if !slices.Contains(kept, c) {
			dropped = append(dropped, c)
		}
	}
	return Detection{Kept: kept, Dropped: dropped}, nil
}

// DebugOverlay draws kept regions in green and dropped ones in red
func (d *Detailer) DebugOverlay(img image.Image, det Detection) image.Image {
	return d.processor.CreateDebugOverlay(img, det.Kept, det.Dropped)
}

// TestVision checks that the vision backend answers for img
func (d *Detailer) TestVision(ctx context.Context, img image.Image) (string, error) {
	return d.detector.TestVision(ctx, img)
}

// ProcessImageFile is a convenience function that loads, details and saves
// one image
func (d *Detailer) ProcessImageFile(ctx context.Context, inputPath, outputPath, prompt, negative string, seed int64) error {
	img, err := d.processor.LoadImageSmart(inputPath)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}

	run := d.NewRun(prompt, negative, []int64{seed}, 1, "")
	result, err := d.DetailImage(ctx, run, 0, img)
	if err != nil {
		return fmt.Errorf("detailing failed: %w", err)
	}

	format := utils.GetFileExtension(outputPath)
	if err := d.processor.SaveImage(result, outputPath, format, d.config.SnapshotQuality, false); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
