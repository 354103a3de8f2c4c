package processing

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/disintegration/imaging"
)

// FinishConfig holds the whole-image finishing filters. Factors of 1 and
// zero offsets leave the image unchanged.
type FinishConfig struct {
	Contrast         float64    `json:"contrast" yaml:"contrast"`
	Brightness       float64    `json:"brightness" yaml:"brightness"`
	Sharpness        float64    `json:"sharpness" yaml:"sharpness"`
	Color            float64    `json:"color" yaml:"color"`
	ColorTemperature float64    `json:"color_temperature" yaml:"color_temperature"`
	NoiseAlpha       float64    `json:"noise_alpha" yaml:"noise_alpha"`
	Edge             EdgeConfig `json:"edge" yaml:"edge"`
}

// EdgeConfig controls edge enhancement
type EdgeConfig struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	LowThreshold  float64 `json:"low_threshold" yaml:"low_threshold"`
	HighThreshold float64 `json:"high_threshold" yaml:"high_threshold"`
	Strength      float64 `json:"strength" yaml:"strength"`
}

// DefaultFinishConfig returns neutral finishing filters
func DefaultFinishConfig() FinishConfig {
	return FinishConfig{
		Contrast:   1,
		Brightness: 1,
		Sharpness:  1,
		Color:      1,
		Edge: EdgeConfig{
			LowThreshold:  50,
			HighThreshold: 200,
			Strength:      0.5,
		},
	}
}

// IsNeutral reports whether Finish would return the image untouched
func (c FinishConfig) IsNeutral() bool {
	return c.Contrast == 1 && c.Brightness == 1 && c.Sharpness == 1 && c.Color == 1 &&
		c.ColorTemperature == 0 && c.NoiseAlpha == 0 && !c.Edge.Enabled
}

// Finish applies the finishing filters in a fixed order: contrast, brightness,
// sharpness, color, color temperature, noise, edge enhancement.
// The seed makes the noise pattern reproducible.
func Finish(img image.Image, cfg FinishConfig, seed int64) image.Image {
	if cfg.IsNeutral() {
		return img
	}

	out := imaging.Clone(img)
	if cfg.Contrast != 1 {
		out = enhance(contrastBase(out), out, cfg.Contrast)
	}
	if cfg.Brightness != 1 {
		out = enhance(image.NewNRGBA(out.Bounds()), out, cfg.Brightness)
	}
	if cfg.Sharpness != 1 {
		out = enhance(imaging.Blur(out, 1.0), out, cfg.Sharpness)
	}
	if cfg.Color != 1 {
		out = enhance(imaging.Grayscale(out), out, cfg.Color)
	}
	if cfg.ColorTemperature != 0 {
		out = AdjustTemperature(out, cfg.ColorTemperature)
	}
	if cfg.NoiseAlpha > 0 {
		out = AddNoise(out, cfg.NoiseAlpha, seed)
	}
	if cfg.Edge.Enabled && cfg.Edge.Strength > 0 {
		out = EnhanceEdges(out, cfg.Edge)
	}
	return out
}

// enhance interpolates between a degenerate image and img:
// factor 0 gives base, 1 gives img, values above 1 extrapolate.
func enhance(base, img *image.NRGBA, factor float64) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(base.Pix[i+c]) + factor*(float64(img.Pix[i+c])-float64(base.Pix[i+c]))
			out.Pix[i+c] = clampUint8(v)
		}
		out.Pix[i+3] = img.Pix[i+3]
	}
	return out
}

// contrastBase returns a flat image filled with the mean luminance of img
func contrastBase(img *image.NRGBA) *image.NRGBA {
	var sum float64
	n := len(img.Pix) / 4
	for i := 0; i < len(img.Pix); i += 4 {
		sum += 0.299*float64(img.Pix[i]) + 0.587*float64(img.Pix[i+1]) + 0.114*float64(img.Pix[i+2])
	}
	mean := uint8(0)
	if n > 0 {
		mean = clampUint8(sum / float64(n))
	}
	return imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.NRGBA{mean, mean, mean, 255})
}

// AdjustTemperature shifts the white balance. Positive offsets warm the image,
// negative ones cool it. The offset is in the -2000..2000 range.
func AdjustTemperature(img image.Image, offset float64) *image.NRGBA {
	t := clamp(offset/2000, -1, 1) * 0.15
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		c.R = clampUint8(float64(c.R) * (1 + t))
		c.B = clampUint8(float64(c.B) * (1 - t))
		return c
	})
}

// AddNoise blends monochrome noise over img with the given alpha
func AddNoise(img image.Image, alpha float64, seed int64) *image.NRGBA {
	alpha = clamp(alpha, 0, 1)
	rng := rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
	out := imaging.Clone(img)
	for i := 0; i < len(out.Pix); i += 4 {
		n := rng.Float64() * 255
		for c := 0; c < 3; c++ {
			out.Pix[i+c] = clampUint8(float64(out.Pix[i+c])*(1-alpha) + n*alpha)
		}
	}
	return out
}

// EnhanceEdges darkens pixels on strong luminance edges. Sobel magnitudes
// between the low and high thresholds ramp the effect from 0 to full strength.
func EnhanceEdges(img image.Image, cfg EdgeConfig) *image.NRGBA {
	gray := imaging.Grayscale(img)
	opts := &imaging.ConvolveOptions{Abs: true}
	gx := imaging.Convolve3x3(gray, [9]float64{-1, 0, 1, -2, 0, 2, -1, 0, 1}, opts)
	gy := imaging.Convolve3x3(gray, [9]float64{-1, -2, -1, 0, 0, 0, 1, 2, 1}, opts)

	low, high := cfg.LowThreshold, cfg.HighThreshold
	if high <= low {
		high = low + 1
	}
	strength := clamp(cfg.Strength, 0, 1)

	out := imaging.Clone(img)
	for i := 0; i < len(out.Pix); i += 4 {
		mag := math.Hypot(float64(gx.Pix[i]), float64(gy.Pix[i]))
		w := clamp((mag-low)/(high-low), 0, 1) * strength
		if w == 0 {
			continue
		}
		for c := 0; c < 3; c++ {
			out.Pix[i+c] = clampUint8(float64(out.Pix[i+c]) * (1 - w))
		}
	}
	return out
}

// Brighten multiplies every channel by factor
func Brighten(img image.Image, factor float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		c.R = clampUint8(float64(c.R) * factor)
		c.G = clampUint8(float64(c.G) * factor)
		c.B = clampUint8(float64(c.B) * factor)
		return c
	})
}

// BrightenMasked brightens img by factor inside the mask only
func BrightenMasked(img image.Image, mask *image.Gray, factor float64) *image.NRGBA {
	return Composite(img, Brighten(img, factor), mask)
}

// Composite returns a copy of base with overlay drawn through mask. Overlay is
// resized to the base size first; mask must cover the base bounds.
func Composite(base, overlay image.Image, mask *image.Gray) *image.NRGBA {
	dst := imaging.Clone(base)
	size := dst.Bounds().Size()
	if overlay.Bounds().Size() != size {
		overlay = imaging.Resize(overlay, size.X, size.Y, imaging.Lanczos)
	}

	// Gray has no alpha channel; reinterpret the same bytes as an alpha mask
	alpha := &image.Alpha{Pix: mask.Pix, Stride: mask.Stride, Rect: mask.Rect}
	draw.DrawMask(dst, dst.Bounds(), overlay, overlay.Bounds().Min, alpha, alpha.Rect.Min, draw.Over)
	return dst
}

// ResampleFilter maps an upscaler name onto an imaging filter. Unknown names use Lanczos.
func ResampleFilter(name string) imaging.ResampleFilter {
	switch strings.ToLower(strings.ReplaceAll(name, " ", "")) {
	case "nearest", "nearestneighbor":
		return imaging.NearestNeighbor
	case "box":
		return imaging.Box
	case "linear", "bilinear":
		return imaging.Linear
	case "catmullrom", "bicubic":
		return imaging.CatmullRom
	case "mitchell", "mitchellnetravali":
		return imaging.MitchellNetravali
	default:
		return imaging.Lanczos
	}
}

// Upscale enlarges img by ratio. Ratios of 1 or less return img unchanged.
func Upscale(img image.Image, ratio float64, upscaler string) image.Image {
	if ratio <= 1 {
		return img
	}
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * ratio))
	h := int(math.Round(float64(b.Dy()) * ratio))
	return imaging.Resize(img, w, h, ResampleFilter(upscaler))
}

// ShrinkOnCanvas scales img down by scale and places it bottom-centered on a
// canvas of the original size. The uncovered area is filled with a blurred,
// stretched copy of the original. The returned mask is white where the canvas
// was filled and needs regeneration.
func ShrinkOnCanvas(img image.Image, scale float64) (*image.NRGBA, *image.Gray) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	sw := int(math.Round(float64(w) * scale))
	sh := int(math.Round(float64(h) * scale))

	canvas := imaging.Blur(img, 12)
	small := imaging.Resize(img, sw, sh, imaging.Lanczos)
	pos := image.Pt((w-sw)/2, h-sh)
	canvas = imaging.Paste(canvas, small, pos)

	mask := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(mask, mask.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(mask, image.Rectangle{Min: pos, Max: pos.Add(image.Pt(sw, sh))}, image.Black, image.Point{}, draw.Src)
	return canvas, mask
}

func clampUint8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
