// Package pipeline runs the fixed detailing stage sequence over generated images.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/menta2k/image-detailer/pkg/client"
	"github.com/menta2k/image-detailer/pkg/guard"
	"github.com/menta2k/image-detailer/pkg/processing"
	"github.com/menta2k/image-detailer/pkg/types"
)

// ErrNoImage is returned when a pipeline context carries no image
var ErrNoImage = errors.New("pipeline context has no image")

// Snapshot suffixes
const (
	SuffixBefore = "-before-detailing"
	SuffixAfter  = "-after-detailing"
)

// RegionProcessor details the regions of one label
type RegionProcessor interface {
	Process(ctx context.Context, pc *types.PipelineContext, modules types.ModuleConfig, label string) (image.Image, error)
}

// Config is the per-run pipeline configuration. It is read-only while a run is in progress.
type Config struct {
	Modules types.ModuleConfig      `json:"modules" yaml:"modules"`
	Resize  ResizeConfig            `json:"resize" yaml:"resize"`
	Upscale UpscaleConfig           `json:"upscale" yaml:"upscale"`
	Finish  processing.FinishConfig `json:"finish" yaml:"finish"`

	SaveBefore  bool `json:"save_before" yaml:"save_before"`
	SaveAfter   bool `json:"save_after" yaml:"save_after"`
	ShowExtends bool `json:"show_extends" yaml:"show_extends"`

	UseSpecificModel bool   `json:"use_specific_model" yaml:"use_specific_model"`
	Model            string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Dependencies are the collaborators of an Orchestrator. Regions is
// required; everything else may be left nil.
type Dependencies struct {
	Regions     RegionProcessor
	Detector    client.Detector
	Synth       client.Synthesizer
	Hooks       guard.BatchSuppressor
	Settings    client.SettingStore
	Integration guard.Integration
	Models      client.ModelRegistry
	Saver       client.Saver
	Signal      *Signal
	Logger      *slog.Logger

	// Progress is called after every image of a batch
	Progress func(done, total int)
}

// Orchestrator runs the detailing stages for each image inside the
// reentrancy guard and the model switch
type Orchestrator struct {
	config      Config
	regions     RegionProcessor
	detector    client.Detector
	synth       client.Synthesizer
	hooks       guard.BatchSuppressor
	settings    client.SettingStore
	integration guard.Integration
	models      client.ModelRegistry
	saver       client.Saver
	signal      *Signal
	logger      *slog.Logger
	progress    func(done, total int)
}

// New creates an orchestrator
func New(cfg Config, deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		config:      cfg,
		regions:     deps.Regions,
		detector:    deps.Detector,
		synth:       deps.Synth,
		hooks:       deps.Hooks,
		settings:    deps.Settings,
		integration: deps.Integration,
		models:      deps.Models,
		saver:       deps.Saver,
		signal:      deps.Signal,
		logger:      deps.Logger,
		progress:    deps.Progress,
	}
	if o.hooks == nil {
		o.hooks = guard.NewHooks(nil, nil)
	}
	if o.settings == nil {
		o.settings = guard.NewMemorySettings(nil)
	}
	if o.signal == nil {
		o.signal = NewSignal()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Signal returns the interrupt signal checked before every image
func (o *Orchestrator) Signal() *Signal {
	return o.signal
}

// RunImage details pc.Image and returns the result. pc.Image is replaced at
// every stage boundary, so after a failure it holds the last completed stage's
// output. An interrupted or skipped run returns pc.Image unchanged.
func (o *Orchestrator) RunImage(ctx context.Context, run *types.Run, pc *types.PipelineContext) (image.Image, error) {
	if o.signal.Interrupted() || o.signal.Skipped() {
		o.logger.Info("image not processed: interrupted", slog.Int("index", pc.Index))
		return pc.Image, nil
	}
	if pc.Image == nil {
		return nil, ErrNoImage
	}

	original := pc.Image
	if o.config.SaveBefore {
		o.snapshot(run, pc, original, SuffixBefore)
	}
	if o.config.ShowExtends {
		pc.Extra = append(pc.Extra, original)
	}

	reentrancy := guard.NewReentrancy(run, o.hooks, o.settings, o.integration, o.logger)
	modelSwitch := guard.NewModelSwitch(o.models, o.config.UseSpecificModel, o.config.Model, o.logger)

	err := reentrancy.Run(ctx, func(ctx context.Context) error {
		return modelSwitch.Run(ctx, func(ctx context.Context) error {
			return o.runStages(ctx, pc)
		})
	})
	if err != nil {
		return nil, err
	}

	if o.config.SaveAfter {
		o.snapshot(run, pc, pc.Image, SuffixAfter)
	}
	return pc.Image, nil
}

func (o *Orchestrator) runStages(ctx context.Context, pc *types.PipelineContext) error {
	for _, s := range o.stages() {
		img, err := s.run(ctx, pc)
		if err != nil {
			return fmt.Errorf("stage %s: %w", s.name, err)
		}
		pc.Image = img
		o.logger.Debug("stage finished", slog.String("stage", s.name), slog.Int("index", pc.Index))
	}
	return nil
}

// RunBatch processes images one after another. The result holds one slot per
// input, nil where processing failed, followed by the pre-processing originals
// when ShowExtends is set. Failures are joined into the returned error.
func (o *Orchestrator) RunBatch(ctx context.Context, run *types.Run, images []image.Image) ([]image.Image, error) {
	out := make([]image.Image, len(images))
	var extra []image.Image
	var errs []error

	for i, img := range images {
		pc := run.Context(i, img)
		res, err := o.RunImage(ctx, run, pc)
		o.signal.clearSkip()
		if err != nil {
			o.logger.Error("image failed", slog.Int("index", i), slog.String("err", err.Error()))
			errs = append(errs, fmt.Errorf("image %d: %w", i, err))
		} else {
			out[i] = res
		}
		extra = append(extra, pc.Extra...)

		if o.progress != nil {
			o.progress(i+1, len(images))
		}
	}

	return append(out, extra...), errors.Join(errs...)
}

// snapshot saves img; failures are logged only
func (o *Orchestrator) snapshot(run *types.Run, pc *types.PipelineContext, img image.Image, suffix string) {
	if o.saver == nil {
		return
	}
	if err := o.saver.Save(img, run.OutputDir, pc.Seed, pc.Prompt, suffix); err != nil {
		o.logger.Warn("snapshot failed", slog.String("suffix", suffix), slog.String("err", err.Error()))
	}
}
