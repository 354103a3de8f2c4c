package detection

import (
	"context"
	"crypto/sha256"
	"fmt"
	"image"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/menta2k/image-detailer/pkg/client"
	"github.com/menta2k/image-detailer/pkg/processing"
	"github.com/menta2k/image-detailer/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// locatePrompt asks the vision model for every instance of one region label.
// %s is replaced with the label description.
const locatePrompt = `You are an image region locator.

Find EVERY %s visible in the image.

Return JSON only:
{
  "detections": [
    {"label": "string", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- Each box must tightly enclose exactly one instance.
- Confidence is in [0,1].
- If nothing is found, return {"detections": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// labelDescriptions gives the model a precise target per region label
var labelDescriptions = map[string]string{
	types.LabelPerson: "person (full body silhouette, head to feet as far as visible)",
	types.LabelFace:   "human face (forehead to chin, ear to ear)",
	types.LabelHand:   "human hand (wrist to fingertips)",
}

// Config controls how images are sent to the vision model
type Config struct {
	Model       string
	MaxDim      int
	Format      string
	Quality     int
	MinBoxRatio float64
	// CacheSize bounds the number of remembered detections
	CacheSize int
}

// DefaultConfig returns the settings used by the CLI
func DefaultConfig() Config {
	return Config{
		MaxDim:      1024,
		Format:      "jpg",
		Quality:     90,
		MinBoxRatio: 0.0001,
		CacheSize:   64,
	}
}

// Detector locates region candidates using a vision model.
// Results are cached per image content, size and label so repeated calls agree.
type Detector struct {
	client client.VisionClient
	config Config
	cache  *lru.Cache[cacheKey, []types.RegionCandidate]
}

// cacheKey hashes the encoded image, which is downscaled to MaxDim, so the
// bounds are part of the key: candidates are in pixels of the original size.
type cacheKey struct {
	sum    [sha256.Size]byte
	bounds image.Rectangle
	label  string
}

// NewDetector creates a new detector with a vision client
func NewDetector(vc client.VisionClient, cfg Config) *Detector {
	if cfg.MaxDim <= 0 {
		cfg.MaxDim = DefaultConfig().MaxDim
	}
	if cfg.Format == "" {
		cfg.Format = DefaultConfig().Format
	}
	if cfg.Quality <= 0 {
		cfg.Quality = DefaultConfig().Quality
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	// New only fails for a non-positive size
	cache, _ := lru.New[cacheKey, []types.RegionCandidate](cfg.CacheSize)
	return &Detector{
		client: vc,
		config: cfg,
		cache:  cache,
	}
}

// Prompt returns the locate prompt sent for label
func Prompt(label string) string {
	desc, ok := labelDescriptions[label]
	if !ok {
		desc = label
	}
	return fmt.Sprintf(locatePrompt, desc)
}

// Detect returns the candidates for label in pixel coordinates of img
func (d *Detector) Detect(ctx context.Context, img image.Image, label string) ([]types.RegionCandidate, error) {
	imgB64, err := processing.EncodeBase64(img, d.config.Format, d.config.MaxDim, d.config.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	key := cacheKey{sum: sha256.Sum256([]byte(imgB64)), bounds: img.Bounds(), label: label}
	if cached, ok := d.cache.Get(key); ok {
		return cloneCandidates(cached), nil
	}

	result, err := d.client.LocateRegions(ctx, d.config.Model, Prompt(label), imgB64)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", label, err)
	}

	candidates := d.toCandidates(result, img.Bounds(), label)

	d.cache.Add(key, candidates)

	return cloneCandidates(candidates), nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := processing.EncodeBase64(img, d.config.Format, d.config.MaxDim, d.config.Quality)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return d.client.SimpleQuery(ctx, d.config.Model, SimpleTestPrompt, imgB64)
}

func (d *Detector) toCandidates(result *types.DetectionResult, bounds image.Rectangle, label string) []types.RegionCandidate {
	if result == nil {
		return []types.RegionCandidate{}
	}

	minArea := d.config.MinBoxRatio * float64(bounds.Dx()*bounds.Dy())
	out := make([]types.RegionCandidate, 0, len(result.Detections))
	for _, det := range result.Detections {
		rect := processing.NormalizedToRect(normalizeBox(det.Box), bounds)
		if rect.Empty() || float64(rect.Dx()*rect.Dy()) < minArea {
			continue
		}
		out = append(out, types.RegionCandidate{
			Rect:  rect,
			Score: clamp(det.Confidence, 0, 1),
			Label: label,
		})
	}
	return out
}

func cloneCandidates(in []types.RegionCandidate) []types.RegionCandidate {
	out := make([]types.RegionCandidate, len(in))
	copy(out, in)
	return out
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox ensures box coordinates are within [0,1] bounds
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}
