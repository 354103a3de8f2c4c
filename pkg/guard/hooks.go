// Package guard scopes the process-wide side effects of a detailing run:
// host batch hooks, host settings, conditioning integrations and the active
// checkpoint. Every scope restores what it changed exactly once.
package guard

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/menta2k/image-detailer/pkg/types"
)

// ProcessImagesFunc runs one host generation for a single image
type ProcessImagesFunc func(ctx context.Context, pc *types.PipelineContext, img image.Image, opts types.Options) (image.Image, error)

// ProcessBatchFunc runs one host generation per input image
type ProcessBatchFunc func(ctx context.Context, pc *types.PipelineContext, imgs []image.Image, opts types.Options) ([]image.Image, error)

// BatchSuppressor swaps the host batch entry points for their unhooked
// originals and back
type BatchSuppressor interface {
	Suppress()
	Restore()
}

// Hooks is the host's indirection table for its generation entry points.
// Integrations wrap the entries; Suppress reinstalls the unwrapped base
// functions until the matching Restore.
type Hooks struct {
	mu sync.RWMutex

	processImages ProcessImagesFunc
	processBatch  ProcessBatchFunc

	baseImages ProcessImagesFunc
	baseBatch  ProcessBatchFunc

	saved []savedHooks
}

type savedHooks struct {
	processImages ProcessImagesFunc
	processBatch  ProcessBatchFunc
}

// NewHooks creates a table whose base entries are images and batch. A nil
// batch runs images once per input.
func NewHooks(images ProcessImagesFunc, batch ProcessBatchFunc) *Hooks {
	if batch == nil {
		batch = SequentialBatch(images)
	}
	return &Hooks{
		processImages: images,
		processBatch:  batch,
		baseImages:    images,
		baseBatch:     batch,
	}
}

// SequentialBatch builds a batch entry that calls images for every input in order
func SequentialBatch(images ProcessImagesFunc) ProcessBatchFunc {
	return func(ctx context.Context, pc *types.PipelineContext, imgs []image.Image, opts types.Options) ([]image.Image, error) {
		out := make([]image.Image, 0, len(imgs))
		for i, img := range imgs {
			res, err := images(ctx, pc, img, opts)
			if err != nil {
				return out, fmt.Errorf("batch image %d: %w", i, err)
			}
			out = append(out, res)
		}
		return out, nil
	}
}

// Wrap installs integration wrappers around the current entries. A nil
// wrapper leaves that entry alone.
func (h *Hooks) Wrap(images func(ProcessImagesFunc) ProcessImagesFunc, batch func(ProcessBatchFunc) ProcessBatchFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if images != nil {
		h.processImages = images(h.processImages)
	}
	if batch != nil {
		h.processBatch = batch(h.processBatch)
	}
}

// ProcessImages returns the current single image entry
func (h *Hooks) ProcessImages() ProcessImagesFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processImages
}

// ProcessBatch returns the current batch entry
func (h *Hooks) ProcessBatch() ProcessBatchFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processBatch
}

// Suppress saves the current entries and installs the base functions
func (h *Hooks) Suppress() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved = append(h.saved, savedHooks{processImages: h.processImages, processBatch: h.processBatch})
	h.processImages = h.baseImages
	h.processBatch = h.baseBatch
}

// Restore reinstalls the entries saved by the latest Suppress
func (h *Hooks) Restore() {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.saved)
	if n == 0 {
		return
	}
	last := h.saved[n-1]
	h.saved = h.saved[:n-1]
	h.processImages = last.processImages
	h.processBatch = last.processBatch
}

// Suppressed reports whether a Suppress is pending
func (h *Hooks) Suppressed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.saved) > 0
}

// Regenerate calls the current single image entry
func (h *Hooks) Regenerate(ctx context.Context, pc *types.PipelineContext, img image.Image, opts types.Options) (image.Image, error) {
	return h.ProcessImages()(ctx, pc, img, opts)
}

// RegenerateBatch calls the current batch entry
func (h *Hooks) RegenerateBatch(ctx context.Context, pc *types.PipelineContext, imgs []image.Image, opts types.Options) ([]image.Image, error) {
	return h.ProcessBatch()(ctx, pc, imgs, opts)
}
