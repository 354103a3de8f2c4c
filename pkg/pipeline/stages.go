package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/menta2k/image-detailer/pkg/processing"
	"github.com/menta2k/image-detailer/pkg/segment"
	"github.com/menta2k/image-detailer/pkg/selector"
	"github.com/menta2k/image-detailer/pkg/types"
)

// Resize modes
const (
	ResizeStretching = "stretching"
	ResizeInpaint    = "inpaint"
)

// ResizeConfig shrinks images whose main subject fills too much of the frame
type ResizeConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Mode is ResizeStretching (blurred fill) or ResizeInpaint (fill regenerated)
	Mode string `json:"mode" yaml:"mode"`
	// Ratio is the largest allowed subject height as a fraction of the image height
	Ratio     float64 `json:"ratio" yaml:"ratio"`
	Dilation  int     `json:"dilation" yaml:"dilation"`
	Denoising float64 `json:"denoising_strength" yaml:"denoising_strength"`
}

// UpscaleConfig enlarges the image before or after detailing
type UpscaleConfig struct {
	Enabled  bool    `json:"enabled" yaml:"enabled"`
	Ratio    float64 `json:"ratio" yaml:"ratio"`
	Upscaler string  `json:"upscaler" yaml:"upscaler"`
	// DetailAfterUpscale upscales first so the regions are detailed at full size
	DetailAfterUpscale bool `json:"detail_after_upscale" yaml:"detail_after_upscale"`
}

// stage is one step of the fixed image pipeline
type stage struct {
	name string
	run  func(ctx context.Context, pc *types.PipelineContext) (image.Image, error)
}

// StageNames lists the pipeline stages in execution order
var StageNames = []string{
	"resize_by_subject",
	"upscale_before_detailing",
	types.LabelPerson,
	types.LabelFace,
	types.LabelHand,
	"upscale_after_detailing",
	"finish",
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{StageNames[0], o.resizeBySubject},
		{StageNames[1], o.upscaleBefore},
		{StageNames[2], o.region(types.LabelPerson)},
		{StageNames[3], o.region(types.LabelFace)},
		{StageNames[4], o.region(types.LabelHand)},
		{StageNames[5], o.upscaleAfter},
		{StageNames[6], o.finish},
	}
}

func (o *Orchestrator) region(label string) func(context.Context, *types.PipelineContext) (image.Image, error) {
	return func(ctx context.Context, pc *types.PipelineContext) (image.Image, error) {
		return o.regions.Process(ctx, pc, o.config.Modules, label)
	}
}

// resizeBySubject shrinks the image onto a same-sized canvas when the largest
// person is taller than the configured ratio
func (o *Orchestrator) resizeBySubject(ctx context.Context, pc *types.PipelineContext) (image.Image, error) {
	cfg := o.config.Resize
	img := pc.Image
	if !cfg.Enabled || cfg.Ratio <= 0 || cfg.Ratio >= 1 {
		return img, nil
	}
	if o.detector == nil {
		return nil, fmt.Errorf("resize by subject requires a detector")
	}

	candidates, err := o.detector.Detect(ctx, img, types.LabelPerson)
	if err != nil {
		return nil, fmt.Errorf("person detection failed: %w", err)
	}
	largest := selector.Select(candidates, 1)
	if len(largest) == 0 {
		return img, nil
	}

	ratio := float64(largest[0].Rect.Dy()) / float64(img.Bounds().Dy())
	if ratio <= cfg.Ratio {
		return img, nil
	}
	scale := cfg.Ratio / ratio
	o.logger.Info("resizing by subject",
		slog.Float64("subject_ratio", ratio),
		slog.Float64("scale", scale),
		slog.String("mode", cfg.Mode))

	canvas, mask := processing.ShrinkOnCanvas(img, scale)
	if cfg.Mode != ResizeInpaint {
		return canvas, nil
	}
	if o.synth == nil {
		return nil, fmt.Errorf("inpaint resize requires a synthesizer")
	}

	mask = segment.Dilate(mask, cfg.Dilation)
	opts := types.Options{
		Prompt:            pc.Prompt,
		NegativePrompt:    pc.NegativePrompt,
		DenoisingStrength: cfg.Denoising,
		Mask:              mask,
	}
	out, err := o.synth.Regenerate(ctx, pc, canvas, opts)
	if err != nil {
		return nil, fmt.Errorf("inpaint resize failed: %w", err)
	}
	return processing.Composite(canvas, out, mask), nil
}

func (o *Orchestrator) upscaleBefore(ctx context.Context, pc *types.PipelineContext) (image.Image, error) {
	cfg := o.config.Upscale
	if !cfg.Enabled || !cfg.DetailAfterUpscale {
		return pc.Image, nil
	}
	return processing.Upscale(pc.Image, cfg.Ratio, cfg.Upscaler), nil
}

func (o *Orchestrator) upscaleAfter(ctx context.Context, pc *types.PipelineContext) (image.Image, error) {
	cfg := o.config.Upscale
	if !cfg.Enabled || cfg.DetailAfterUpscale {
		return pc.Image, nil
	}
	return processing.Upscale(pc.Image, cfg.Ratio, cfg.Upscaler), nil
}

func (o *Orchestrator) finish(ctx context.Context, pc *types.PipelineContext) (image.Image, error) {
	// An unset config means no finishing, not zero contrast
	if o.config.Finish == (processing.FinishConfig{}) {
		return pc.Image, nil
	}
	return processing.Finish(pc.Image, o.config.Finish, pc.Seed), nil
}
