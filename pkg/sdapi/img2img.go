package sdapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"maps"
	"net/http"
	"strings"

	"github.com/menta2k/image-detailer/pkg/processing"
	"github.com/menta2k/image-detailer/pkg/types"
)

// Img2ImgRequest is the body of POST /sdapi/v1/img2img
type Img2ImgRequest struct {
	InitImages            []string       `json:"init_images"`
	Mask                  string         `json:"mask,omitempty"`
	Prompt                string         `json:"prompt"`
	NegativePrompt        string         `json:"negative_prompt"`
	DenoisingStrength     float64        `json:"denoising_strength"`
	Steps                 int            `json:"steps"`
	CFGScale              float64        `json:"cfg_scale"`
	Width                 int            `json:"width"`
	Height                int            `json:"height"`
	Seed                  int64          `json:"seed"`
	SamplerName           string         `json:"sampler_name,omitempty"`
	MaskBlur              int            `json:"mask_blur"`
	InpaintingFill        int            `json:"inpainting_fill"`
	InpaintFullRes        bool           `json:"inpaint_full_res"`
	InpaintFullResPadding int            `json:"inpaint_full_res_padding"`
	InpaintingMaskInvert  int            `json:"inpainting_mask_invert"`
	AlwaysonScripts       map[string]any `json:"alwayson_scripts,omitempty"`
}

// Img2ImgResponse is the answer of POST /sdapi/v1/img2img
type Img2ImgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

// inpaintingFillOriginal keeps the original pixels under the mask as the starting point
const inpaintingFillOriginal = 1

type scriptsKey struct{}

// withScript returns a context carrying alwayson script arguments for the next img2img call
func withScript(ctx context.Context, name string, args any) context.Context {
	scripts := map[string]any{}
	if prev, ok := ctx.Value(scriptsKey{}).(map[string]any); ok {
		maps.Copy(scripts, prev)
	}
	scripts[name] = args
	return context.WithValue(ctx, scriptsKey{}, scripts)
}

func scriptsFrom(ctx context.Context) map[string]any {
	scripts, _ := ctx.Value(scriptsKey{}).(map[string]any)
	return scripts
}

// NewImg2ImgRequest builds a request for img from opts, filling zero values from the client defaults
func (c *Client) NewImg2ImgRequest(pc *types.PipelineContext, img image.Image, opts types.Options) (*Img2ImgRequest, error) {
	initImage, err := processing.EncodeBase64(img, "png", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to encode init image: %w", err)
	}

	req := &Img2ImgRequest{
		InitImages:            []string{initImage},
		Prompt:                opts.Prompt,
		NegativePrompt:        opts.NegativePrompt,
		DenoisingStrength:     firstFloat(opts.DenoisingStrength, c.defaults.DenoisingStrength),
		Steps:                 firstInt(opts.Steps, c.defaults.Steps),
		CFGScale:              firstFloat(opts.CFGScale, c.defaults.CFGScale),
		Width:                 firstInt(opts.Width, img.Bounds().Dx()),
		Height:                firstInt(opts.Height, img.Bounds().Dy()),
		Seed:                  -1,
		SamplerName:           opts.Sampler,
		MaskBlur:              firstInt(opts.MaskBlur, c.defaults.MaskBlur),
		InpaintingFill:        inpaintingFillOriginal,
		InpaintFullRes:        opts.InpaintFullRes,
		InpaintFullResPadding: firstInt(opts.InpaintPadding, c.defaults.InpaintPadding),
	}
	if req.SamplerName == "" {
		req.SamplerName = c.defaults.Sampler
	}
	if pc != nil {
		if req.Prompt == "" {
			req.Prompt = pc.Prompt
		}
		if req.NegativePrompt == "" {
			req.NegativePrompt = pc.NegativePrompt
		}
		if pc.Seed != 0 {
			req.Seed = pc.Seed
		}
	}

	if opts.Mask != nil {
		mask, err := processing.EncodeBase64(opts.Mask, "png", 0, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to encode mask: %w", err)
		}
		req.Mask = mask
	}

	return req, nil
}

// Img2Img sends req and returns the raw response
func (c *Client) Img2Img(ctx context.Context, req *Img2ImgRequest) (*Img2ImgResponse, error) {
	respBody, err := c.sendRequest(ctx, http.MethodPost, "/sdapi/v1/img2img", req)
	if err != nil {
		return nil, fmt.Errorf("img2img request failed: %w", err)
	}

	var resp Img2ImgResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse img2img response: %w", err)
	}
	return &resp, nil
}

// Regenerate runs one img2img call for img and decodes the first returned image.
// Script arguments attached to ctx by an integration are forwarded.
func (c *Client) Regenerate(ctx context.Context, pc *types.PipelineContext, img image.Image, opts types.Options) (image.Image, error) {
	req, err := c.NewImg2ImgRequest(pc, img, opts)
	if err != nil {
		return nil, err
	}
	req.AlwaysonScripts = scriptsFrom(ctx)

	resp, err := c.Img2Img(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 || resp.Images[0] == "" {
		return nil, ErrEmptyResponse
	}

	return decodeBase64Image(resp.Images[0])
}

func decodeBase64Image(s string) (image.Image, error) {
	// Strip a data URL prefix when present
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}
	img, err := processing.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func firstInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func firstFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}
