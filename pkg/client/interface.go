package client

import (
	"context"
	"image"

	"github.com/menta2k/image-detailer/pkg/types"
)

// VisionClient is a vision-language model backend able to locate regions
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	LocateRegions(ctx context.Context, model, prompt, imgB64 string) (*types.DetectionResult, error)
}

// Detector finds candidate regions for a semantic label. Detect must return the
// same candidates for identical image content and label.
type Detector interface {
	Detect(ctx context.Context, img image.Image, label string) ([]types.RegionCandidate, error)
}

// Segmenter produces a single-channel mask, sized like img, for one box
type Segmenter interface {
	Segment(ctx context.Context, img image.Image, box image.Rectangle) (*image.Gray, error)
}

// Synthesizer regenerates the masked part of an image
type Synthesizer interface {
	Regenerate(ctx context.Context, pc *types.PipelineContext, img image.Image, opts types.Options) (image.Image, error)
}

// ModelRegistry exposes the active checkpoint of the synthesis backend
type ModelRegistry interface {
	Current(ctx context.Context) (string, error)
	Activate(ctx context.Context, name string) error
}

// SettingStore reads and writes boolean host settings. present is false when
// the host does not know the key.
type SettingStore interface {
	Bool(ctx context.Context, key string) (value bool, present bool, err error)
	SetBool(ctx context.Context, key string, value bool) error
}

// Saver persists intermediate images
type Saver interface {
	Save(img image.Image, dest string, seed int64, prompt, suffix string) error
}
