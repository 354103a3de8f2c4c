// Package detailing regenerates detected regions of an image one by one.
package detailing

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/menta2k/image-detailer/pkg/client"
	"github.com/menta2k/image-detailer/pkg/processing"
	"github.com/menta2k/image-detailer/pkg/resolver"
	"github.com/menta2k/image-detailer/pkg/segment"
	"github.com/menta2k/image-detailer/pkg/selector"
	"github.com/menta2k/image-detailer/pkg/types"
)

// ErrUnknownRegion is returned for a label without a module configuration
var ErrUnknownRegion = errors.New("unknown region label")

// Config holds processor wide settings
type Config struct {
	// MaxElements caps the number of regions regenerated per label. 0 means no cap.
	MaxElements int
}

// Processor runs detect, mask, pre-treat, resolve, regenerate and composite
// for every selected candidate of one region label
type Processor struct {
	detector  client.Detector
	segmenter client.Segmenter
	synth     client.Synthesizer
	config    Config
	logger    *slog.Logger
}

// NewProcessor creates a region processor. A nil logger uses slog.Default().
func NewProcessor(detector client.Detector, segmenter client.Segmenter, synth client.Synthesizer, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		detector:  detector,
		segmenter: segmenter,
		synth:     synth,
		config:    cfg,
		logger:    logger,
	}
}

// Process details every selected label region of pc.Image and returns the new
// image. A disabled module or an empty detection returns pc.Image itself.
func (p *Processor) Process(ctx context.Context, pc *types.PipelineContext, modules types.ModuleConfig, label string) (image.Image, error) {
	module, ok := modules.Region(label)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegion, label)
	}

	img := pc.Image
	if !module.Enabled() {
		return img, nil
	}

	candidates, err := p.detector.Detect(ctx, img, label)
	if err != nil {
		return nil, fmt.Errorf("%s detection failed: %w", label, err)
	}
	selected := p.Select(module, candidates)
	p.logger.Debug("regions selected",
		slog.String("label", label),
		slog.Int("detected", len(candidates)),
		slog.Int("selected", len(selected)),
		slog.Bool("multiple", module.Multiple()))
	if len(selected) == 0 {
		return img, nil
	}

	work := img
	for idx, cand := range selected {
		opts, ok := resolver.Resolve(module, idx, pc.Prompt, pc.NegativePrompt)
		if !ok {
			p.logger.Debug("no options for candidate, skipping", slog.String("label", label), slog.Int("index", idx))
			continue
		}

		mask, err := p.segmenter.Segment(ctx, work, cand.Rect)
		if err != nil {
			return nil, fmt.Errorf("%s %d: segmentation failed: %w", label, idx, err)
		}
		mask = segment.Dilate(mask, opts.Dilation)

		if module.Lighting > 0 {
			work = processing.BrightenMasked(work, mask, 1+module.Lighting)
		}

		opts.Mask = mask
		out, err := p.synth.Regenerate(ctx, pc, work, opts)
		if err != nil {
			return nil, fmt.Errorf("%s %d: regeneration failed: %w", label, idx, err)
		}

		work = processing.Composite(work, out, segment.Feather(mask, float64(opts.MaskBlur)))

		p.logger.Info("region detailed",
			slog.String("label", label),
			slog.Int("index", idx),
			slog.Int("area", cand.Area()),
			slog.Float64("coverage", segment.Coverage(mask)),
			slog.Float64("score", cand.Score))
	}

	return work, nil
}

// Select applies the box threshold, the module limit and order, and the
// global element cap
func (p *Processor) Select(module types.RegionModule, candidates []types.RegionCandidate) []types.RegionCandidate {
	if module.BoxThreshold > 0 {
		candidates = selector.FilterScore(candidates, module.BoxThreshold)
	}
	if module.Multiple() {
		limit := len(module.Candidates)
		if module.Limit > 0 && module.Limit < limit {
			limit = module.Limit
		}
		return selector.Select(candidates, capLimit(limit, p.config.MaxElements))
	}
	return selector.SelectBy(candidates, selector.ParseOrder(module.SortBy), capLimit(module.Limit, p.config.MaxElements))
}

// capLimit combines two limits where 0 means unlimited
func capLimit(limit, maxElements int) int {
	if maxElements <= 0 {
		return limit
	}
	if limit <= 0 || limit > maxElements {
		return maxElements
	}
	return limit
}
