// Package segment turns detection boxes into region masks.
package segment

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

// Shape selects the mask outline drawn inside a box
type Shape string

const (
	ShapeRect    Shape = "rect"
	ShapeEllipse Shape = "ellipse"
)

// BoxSegmenter builds masks directly from the detection box. It is the
// fallback when no segmentation model is available.
type BoxSegmenter struct {
	shape Shape
}

// NewBoxSegmenter creates a segmenter drawing the given shape
func NewBoxSegmenter(shape Shape) *BoxSegmenter {
	if shape == "" {
		shape = ShapeRect
	}
	return &BoxSegmenter{shape: shape}
}

// Segment returns a mask sized like img, white inside box
func (s *BoxSegmenter) Segment(ctx context.Context, img image.Image, box image.Rectangle) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	box = box.Intersect(bounds)
	if box.Empty() {
		return nil, fmt.Errorf("box %v lies outside image bounds %v", box, bounds)
	}

	mask := image.NewGray(bounds)
	switch s.shape {
	case ShapeEllipse:
		fillEllipse(mask, box)
	default:
		draw.Draw(mask, box, image.White, image.Point{}, draw.Src)
	}
	return mask, nil
}

func fillEllipse(mask *image.Gray, box image.Rectangle) {
	cx := float64(box.Min.X+box.Max.X) / 2
	cy := float64(box.Min.Y+box.Max.Y) / 2
	rx := float64(box.Dx()) / 2
	ry := float64(box.Dy()) / 2
	for y := box.Min.Y; y < box.Max.Y; y++ {
		dy := (float64(y) + 0.5 - cy) / ry
		for x := box.Min.X; x < box.Max.X; x++ {
			dx := (float64(x) + 0.5 - cx) / rx
			if dx*dx+dy*dy <= 1 {
				mask.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
}

// Dilate grows the white area of mask by radius pixels using a square kernel.
// A non-positive radius returns mask unchanged.
func Dilate(mask *image.Gray, radius int) *image.Gray {
	if radius <= 0 {
		return mask
	}
	return maxFilter(maxFilter(mask, radius, true), radius, false)
}

// maxFilter runs a one-dimensional running maximum along rows or columns
func maxFilter(src *image.Gray, radius int, horizontal bool) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var m uint8
			for k := -radius; k <= radius; k++ {
				sx, sy := x, y
				if horizontal {
					sx += k
				} else {
					sy += k
				}
				if sx < 0 || sy < 0 || sx >= w || sy >= h {
					continue
				}
				if v := src.Pix[sy*src.Stride+sx]; v > m {
					m = v
					if m == 255 {
						break
					}
				}
			}
			dst.Pix[y*dst.Stride+x] = m
		}
	}
	return dst
}

// Feather softens mask edges with a gaussian blur of the given sigma
func Feather(mask *image.Gray, sigma float64) *image.Gray {
	if sigma <= 0 {
		return mask
	}
	blurred := imaging.Blur(mask, sigma)
	out := image.NewGray(mask.Bounds())
	for i, j := 0, 0; i < len(blurred.Pix); i, j = i+4, j+1 {
		out.Pix[j] = blurred.Pix[i]
	}
	return out
}

// Coverage returns the fraction of white pixels in mask
func Coverage(mask *image.Gray) float64 {
	b := mask.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	var sum float64
	for y := 0; y < b.Dy(); y++ {
		row := mask.Pix[y*mask.Stride : y*mask.Stride+b.Dx()]
		for _, v := range row {
			sum += float64(v)
		}
	}
	return math.Min(1, sum/(255*float64(total)))
}
