package detection

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/menta2k/image-detailer/pkg/processing"
	"github.com/menta2k/image-detailer/pkg/types"
)

type fakeVisionClient struct {
	result  *types.DetectionResult
	err     error
	calls   int
	prompts []string
}

func (f *fakeVisionClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return "a test pattern", nil
}

func (f *fakeVisionClient) LocateRegions(ctx context.Context, model, prompt, imgB64 string) (*types.DetectionResult, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// createTestImage creates a simple gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 255 / width), uint8(y * 255 / height), 128, 255})
		}
	}
	return img
}

func TestDetectConvertsBoxes(t *testing.T) {
	fake := &fakeVisionClient{result: &types.DetectionResult{Detections: []types.Detection{
		{Label: "face", Confidence: 0.9, Box: types.Box{X: 0.1, Y: 0.2, W: 0.3, H: 0.4}},
		{Label: "face", Confidence: 1.7, Box: types.Box{X: 0.8, Y: 0.5, W: 0.5, H: 0.9}},
	}}}
	d := NewDetector(fake, Config{Model: "test"})

	cands, err := d.Detect(context.Background(), createTestImage(100, 50), types.LabelFace)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(cands))
	}

	if cands[0].Rect != image.Rect(10, 10, 40, 30) {
		t.Errorf("Unexpected first rect %v", cands[0].Rect)
	}
	if cands[0].Label != types.LabelFace {
		t.Errorf("Expected label face, got %s", cands[0].Label)
	}

	// Overflowing box is clipped to the image and confidence to 1
	if cands[1].Rect.Max.X > 100 || cands[1].Rect.Max.Y > 50 {
		t.Errorf("Second rect %v exceeds the image", cands[1].Rect)
	}
	if cands[1].Score != 1 {
		t.Errorf("Expected score clamped to 1, got %f", cands[1].Score)
	}

	if !strings.Contains(fake.prompts[0], "human face") {
		t.Error("Expected the face description in the prompt")
	}
}

func TestDetectIsCached(t *testing.T) {
	fake := &fakeVisionClient{result: &types.DetectionResult{Detections: []types.Detection{
		{Label: "hand", Confidence: 0.5, Box: types.Box{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}},
	}}}
	d := NewDetector(fake, Config{})
	img := createTestImage(64, 64)

	first, err := d.Detect(context.Background(), img, types.LabelHand)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	first[0].Label = "changed"

	second, err := d.Detect(context.Background(), img, types.LabelHand)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if fake.calls != 1 {
		t.Errorf("Expected one backend call for identical input, got %d", fake.calls)
	}
	if second[0].Label != types.LabelHand {
		t.Error("Modifying a returned slice must not change later results")
	}

	if _, err := d.Detect(context.Background(), img, types.LabelFace); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("Expected a new backend call for another label, got %d calls", fake.calls)
	}
}

func TestDetectCacheSeparatesSizes(t *testing.T) {
	fake := &fakeVisionClient{result: &types.DetectionResult{Detections: []types.Detection{
		{Label: "person", Confidence: 0.8, Box: types.Box{X: 0.5, Y: 0.5, W: 0.5, H: 0.5}},
	}}}
	// Both images shrink to the same 64px encoding
	d := NewDetector(fake, Config{MaxDim: 64})

	src := createTestImage(128, 128)
	upscaled := processing.Upscale(src, 2, "lanczos")

	first, err := d.Detect(context.Background(), src, types.LabelPerson)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	second, err := d.Detect(context.Background(), upscaled, types.LabelPerson)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if first[0].Rect != image.Rect(64, 64, 128, 128) {
		t.Errorf("Unexpected source rect %v", first[0].Rect)
	}
	if second[0].Rect != image.Rect(128, 128, 256, 256) {
		t.Errorf("Expected the rect in upscaled pixels, got %v", second[0].Rect)
	}
	if fake.calls != 2 {
		t.Errorf("Expected one backend call per image size, got %d", fake.calls)
	}
}

func TestDetectCacheIsBounded(t *testing.T) {
	fake := &fakeVisionClient{result: &types.DetectionResult{}}
	d := NewDetector(fake, Config{CacheSize: 1})
	img := createTestImage(32, 32)

	for _, label := range []string{types.LabelFace, types.LabelHand, types.LabelFace} {
		if _, err := d.Detect(context.Background(), img, label); err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
	}
	if fake.calls != 3 {
		t.Errorf("Expected the face entry to be evicted, got %d calls", fake.calls)
	}
	if d.cache.Len() != 1 {
		t.Errorf("Expected one cached entry, got %d", d.cache.Len())
	}
}

func TestDetectDropsTinyBoxes(t *testing.T) {
	fake := &fakeVisionClient{result: &types.DetectionResult{Detections: []types.Detection{
		{Label: "face", Confidence: 0.5, Box: types.Box{X: 0.5, Y: 0.5, W: 0.001, H: 0.001}},
	}}}
	d := NewDetector(fake, Config{MinBoxRatio: 0.01})

	cands, err := d.Detect(context.Background(), createTestImage(100, 100), types.LabelFace)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("Expected tiny box to be dropped, got %+v", cands)
	}
}

func TestDetectEmpty(t *testing.T) {
	d := NewDetector(&fakeVisionClient{result: &types.DetectionResult{}}, Config{})

	cands, err := d.Detect(context.Background(), createTestImage(32, 32), types.LabelPerson)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("Expected no candidates, got %d", len(cands))
	}
}

func TestDetectError(t *testing.T) {
	backendErr := errors.New("connection refused")
	d := NewDetector(&fakeVisionClient{err: backendErr}, Config{})

	_, err := d.Detect(context.Background(), createTestImage(32, 32), types.LabelFace)
	if !errors.Is(err, backendErr) {
		t.Errorf("Expected wrapped backend error, got %v", err)
	}
}

func TestPromptUnknownLabel(t *testing.T) {
	if !strings.Contains(Prompt("cat"), "EVERY cat") {
		t.Error("Unknown labels should be used verbatim in the prompt")
	}
}

func TestTestVision(t *testing.T) {
	d := NewDetector(&fakeVisionClient{}, Config{})
	answer, err := d.TestVision(context.Background(), createTestImage(16, 16))
	if err != nil || answer == "" {
		t.Errorf("Expected an answer, got %q (%v)", answer, err)
	}
}
