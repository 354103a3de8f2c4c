package sdapi

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/menta2k/image-detailer/pkg/guard"
	"github.com/menta2k/image-detailer/pkg/types"
)

// ControlNetUnit is one unit of the controlnet alwayson script
type ControlNetUnit struct {
	Enabled bool    `json:"enabled"`
	Module  string  `json:"module"`
	Model   string  `json:"model,omitempty"`
	Weight  float64 `json:"weight"`
}

// ControlNet attaches the run's conditioning units to generation calls made
// through the host hooks. Postprocess suspends the units and Process resumes
// them, so the guard can keep them away from localized calls.
type ControlNet struct {
	mu        sync.Mutex
	units     []ControlNetUnit
	suspended bool
	logger    *slog.Logger
}

// NewControlNet collects the enabled conditioning steps of run
func NewControlNet(run *types.Run, logger *slog.Logger) *ControlNet {
	if logger == nil {
		logger = slog.Default()
	}
	cn := &ControlNet{logger: logger}
	for _, step := range run.Steps {
		cs, ok := step.(types.ConditioningStep)
		if !ok || !cs.Enabled {
			continue
		}
		weight := cs.Weight
		if weight == 0 {
			weight = 1
		}
		cn.units = append(cn.units, ControlNetUnit{Enabled: true, Module: cs.Module, Model: cs.Model, Weight: weight})
	}
	return cn
}

// Units returns the configured units
func (cn *ControlNet) Units() []ControlNetUnit {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	out := make([]ControlNetUnit, len(cn.units))
	copy(out, cn.units)
	return out
}

// Suspended reports whether the units are currently detached
func (cn *ControlNet) Suspended() bool {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.suspended
}

// Postprocess detaches the units after the full image pass
func (cn *ControlNet) Postprocess(ctx context.Context, run *types.Run) error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.suspended = true
	cn.logger.Debug("controlnet units suspended", slog.Int("units", len(cn.units)))
	return nil
}

// Process attaches the units again
func (cn *ControlNet) Process(ctx context.Context, run *types.Run) error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.suspended = false
	cn.logger.Debug("controlnet units resumed", slog.Int("units", len(cn.units)))
	return nil
}

// Install wraps the host entries so that every call carries the units
func (cn *ControlNet) Install(h *guard.Hooks) {
	h.Wrap(
		func(next guard.ProcessImagesFunc) guard.ProcessImagesFunc {
			return func(ctx context.Context, pc *types.PipelineContext, img image.Image, opts types.Options) (image.Image, error) {
				return next(cn.attach(ctx), pc, img, opts)
			}
		},
		func(next guard.ProcessBatchFunc) guard.ProcessBatchFunc {
			return func(ctx context.Context, pc *types.PipelineContext, imgs []image.Image, opts types.Options) ([]image.Image, error) {
				return next(cn.attach(ctx), pc, imgs, opts)
			}
		},
	)
}

func (cn *ControlNet) attach(ctx context.Context) context.Context {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.suspended || len(cn.units) == 0 {
		return ctx
	}
	units := make([]ControlNetUnit, len(cn.units))
	copy(units, cn.units)
	return withScript(ctx, "controlnet", map[string]any{"args": units})
}
