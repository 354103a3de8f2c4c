package processing

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/image-detailer/pkg/types"
)

// createTestImage creates a flat image of the given color
func createTestImage(width, height int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func rectMask(width, height int, r image.Rectangle) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, width, height))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			mask.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return mask
}

func TestComposite(t *testing.T) {
	base := createTestImage(20, 20, color.NRGBA{10, 10, 10, 255})
	overlay := createTestImage(20, 20, color.NRGBA{200, 100, 50, 255})
	mask := rectMask(20, 20, image.Rect(5, 5, 10, 10))

	out := Composite(base, overlay, mask)

	if got := out.NRGBAAt(7, 7); got != (color.NRGBA{200, 100, 50, 255}) {
		t.Errorf("Expected overlay color inside mask, got %v", got)
	}
	if got := out.NRGBAAt(0, 0); got != (color.NRGBA{10, 10, 10, 255}) {
		t.Errorf("Expected base color outside mask, got %v", got)
	}
	if got := base.NRGBAAt(7, 7); got != (color.NRGBA{10, 10, 10, 255}) {
		t.Errorf("Composite must not modify the base image, got %v", got)
	}
}

func TestCompositeResizesOverlay(t *testing.T) {
	base := createTestImage(20, 20, color.NRGBA{0, 0, 0, 255})
	overlay := createTestImage(40, 40, color.NRGBA{255, 255, 255, 255})
	mask := rectMask(20, 20, image.Rect(0, 0, 20, 20))

	out := Composite(base, overlay, mask)
	if out.Bounds().Dx() != 20 || out.Bounds().Dy() != 20 {
		t.Fatalf("Expected 20x20 result, got %v", out.Bounds())
	}
	if got := out.NRGBAAt(10, 10); got.R != 255 {
		t.Errorf("Expected overlay pixel, got %v", got)
	}
}

func TestBrightenMasked(t *testing.T) {
	img := createTestImage(10, 10, color.NRGBA{100, 100, 100, 255})
	mask := rectMask(10, 10, image.Rect(0, 0, 5, 10))

	out := BrightenMasked(img, mask, 1.5)

	if got := out.NRGBAAt(2, 2); got.R != 150 {
		t.Errorf("Expected brightened pixel 150, got %d", got.R)
	}
	if got := out.NRGBAAt(7, 2); got.R != 100 {
		t.Errorf("Expected untouched pixel 100, got %d", got.R)
	}
}

func TestFinishNeutral(t *testing.T) {
	img := createTestImage(10, 10, color.NRGBA{100, 100, 100, 255})
	out := Finish(img, DefaultFinishConfig(), 1)
	if out != image.Image(img) {
		t.Error("Neutral finishing filters should return the same image")
	}
}

func TestFinishBrightnessAndColor(t *testing.T) {
	img := createTestImage(10, 10, color.NRGBA{100, 50, 20, 255})

	cfg := DefaultFinishConfig()
	cfg.Brightness = 2
	out := Finish(img, cfg, 1).(*image.NRGBA)
	if got := out.NRGBAAt(0, 0); got.R != 200 || got.G != 100 || got.B != 40 {
		t.Errorf("Expected doubled brightness, got %v", got)
	}

	cfg = DefaultFinishConfig()
	cfg.Color = 0
	out = Finish(img, cfg, 1).(*image.NRGBA)
	if got := out.NRGBAAt(0, 0); got.R != got.G || got.G != got.B {
		t.Errorf("Expected grayscale pixel with color 0, got %v", got)
	}
}

func TestFinishNoiseIsReproducible(t *testing.T) {
	img := createTestImage(16, 16, color.NRGBA{128, 128, 128, 255})
	cfg := DefaultFinishConfig()
	cfg.NoiseAlpha = 0.3

	a := Finish(img, cfg, 42).(*image.NRGBA)
	b := Finish(img, cfg, 42).(*image.NRGBA)
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			t.Fatal("Noise with the same seed should be identical")
		}
	}
}

func TestAdjustTemperature(t *testing.T) {
	img := createTestImage(4, 4, color.NRGBA{100, 100, 100, 255})

	warm := AdjustTemperature(img, 2000).NRGBAAt(0, 0)
	if warm.R <= 100 || warm.B >= 100 {
		t.Errorf("Expected warmer pixel, got %v", warm)
	}

	cool := AdjustTemperature(img, -2000).NRGBAAt(0, 0)
	if cool.R >= 100 || cool.B <= 100 {
		t.Errorf("Expected cooler pixel, got %v", cool)
	}
}

func TestEnhanceEdges(t *testing.T) {
	img := createTestImage(20, 20, color.NRGBA{255, 255, 255, 255})
	for y := 0; y < 20; y++ {
		for x := 10; x < 20; x++ {
			img.SetNRGBA(x, y, color.NRGBA{0, 0, 0, 255})
		}
	}

	out := EnhanceEdges(img, EdgeConfig{Enabled: true, LowThreshold: 50, HighThreshold: 200, Strength: 1})

	if got := out.NRGBAAt(9, 10); got.R >= 255 {
		t.Errorf("Expected edge pixel to be darkened, got %v", got)
	}
	if got := out.NRGBAAt(2, 10); got.R != 255 {
		t.Errorf("Expected flat area untouched, got %v", got)
	}
}

func TestUpscale(t *testing.T) {
	img := createTestImage(10, 20, color.NRGBA{1, 2, 3, 255})

	if out := Upscale(img, 1, "Lanczos"); out != image.Image(img) {
		t.Error("Ratio 1 should return the same image")
	}

	out := Upscale(img, 1.5, "nearest")
	if out.Bounds().Dx() != 15 || out.Bounds().Dy() != 30 {
		t.Errorf("Expected 15x30, got %v", out.Bounds())
	}
}

func TestShrinkOnCanvas(t *testing.T) {
	img := createTestImage(100, 100, color.NRGBA{50, 50, 50, 255})

	canvas, mask := ShrinkOnCanvas(img, 0.5)

	if canvas.Bounds() != img.Bounds() {
		t.Fatalf("Canvas should keep the original size, got %v", canvas.Bounds())
	}
	// Shrunk image sits bottom-centered at (25,50)-(75,100)
	if mask.GrayAt(50, 75).Y != 0 {
		t.Error("Expected covered area to be excluded from the mask")
	}
	if mask.GrayAt(5, 5).Y != 255 {
		t.Error("Expected filled area to be part of the mask")
	}
}

func TestNormalizedToRect(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)
	r := NormalizedToRect(types.Box{X: 0.25, Y: 0.5, W: 0.5, H: 0.25}, bounds)
	if r != image.Rect(50, 50, 150, 75) {
		t.Errorf("Unexpected rectangle %v", r)
	}

	r = NormalizedToRect(types.Box{X: 0.9, Y: 0.9, W: 0.5, H: 0.5}, bounds)
	if !r.In(bounds) {
		t.Errorf("Rectangle %v should be clipped to %v", r, bounds)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	img := createTestImage(64, 32, color.NRGBA{10, 20, 30, 255})

	b64, err := EncodeBase64(img, "png", 32, 90)
	if err != nil {
		t.Fatalf("EncodeBase64 failed: %v", err)
	}
	if b64 == "" {
		t.Fatal("Expected non-empty encoding")
	}
}

func TestSaveAndLoadImage(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(16, 16, color.NRGBA{10, 20, 30, 255})
	dir := t.TempDir()

	for _, format := range []string{"png", "jpg", "webp"} {
		path := filepath.Join(dir, "out."+format)
		if err := p.SaveImage(img, path, format, 90, true); err != nil {
			t.Fatalf("SaveImage(%s) failed: %v", format, err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("Expected file %s: %v", path, err)
		}
		loaded, err := p.LoadImage(path)
		if err != nil {
			t.Fatalf("LoadImage(%s) failed: %v", format, err)
		}
		if loaded.Bounds().Dx() != 16 {
			t.Errorf("Expected width 16 for %s, got %d", format, loaded.Bounds().Dx())
		}
	}
}

func TestCreateDebugOverlay(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(50, 50, color.NRGBA{0, 0, 0, 255})
	kept := []types.RegionCandidate{{Rect: image.Rect(10, 10, 30, 30)}}

	out := p.CreateDebugOverlay(img, kept, nil).(*image.NRGBA)
	if got := out.NRGBAAt(10, 20); got.G != 255 {
		t.Errorf("Expected green outline, got %v", got)
	}
	if got := img.NRGBAAt(10, 20); got.G != 0 {
		t.Error("Overlay must not modify the input image")
	}
}
