package types

import "image"

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detection is one region reported by the vision model
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// DetectionResult contains every region the vision model located for a label
type DetectionResult struct {
	Detections []Detection `json:"detections"`
}

// RegionCandidate is a detected sub-area of the full image in pixel coordinates.
// Candidates are values and are never modified after detection.
type RegionCandidate struct {
	Rect  image.Rectangle `json:"rect"`
	Score float64         `json:"score"`
	Label string          `json:"label"`
}

// Area returns the pixel area of the candidate box
func (c RegionCandidate) Area() int {
	return c.Rect.Dx() * c.Rect.Dy()
}

// Region labels understood by the detailing stages
const (
	LabelPerson = "person"
	LabelFace   = "face"
	LabelHand   = "hand"
)

// PromptMarker is replaced with the current prompt when it appears in a module prompt
const PromptMarker = "#!org!#"

// Options are the parameters of one localized regeneration call
type Options struct {
	Prompt            string  `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	NegativePrompt    string  `json:"negative_prompt,omitempty" yaml:"negative_prompt,omitempty"`
	DenoisingStrength float64 `json:"denoising_strength,omitempty" yaml:"denoising_strength,omitempty"`
	Steps             int     `json:"steps,omitempty" yaml:"steps,omitempty"`
	CFGScale          float64 `json:"cfg_scale,omitempty" yaml:"cfg_scale,omitempty"`
	Width             int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height            int     `json:"height,omitempty" yaml:"height,omitempty"`
	MaskBlur          int     `json:"mask_blur,omitempty" yaml:"mask_blur,omitempty"`
	Dilation          int     `json:"dilation,omitempty" yaml:"dilation,omitempty"`
	Sampler           string  `json:"sampler,omitempty" yaml:"sampler,omitempty"`
	InpaintFullRes    bool    `json:"inpaint_full_res,omitempty" yaml:"inpaint_full_res,omitempty"`
	InpaintPadding    int     `json:"inpaint_full_res_padding,omitempty" yaml:"inpaint_full_res_padding,omitempty"`

	// Mask restricts the regeneration to the white pixels. Set at runtime only.
	Mask *image.Gray `json:"-" yaml:"-"`
}

// RegionModule configures detailing for one region label.
//
// With an empty Candidates list the module runs in single mode and Strength
// is its trigger: 0 disables it. With Candidates set, the i-th largest
// detection is regenerated with Candidates[i].
type RegionModule struct {
	Strength     float64   `json:"strength" yaml:"strength"`
	Lighting     float64   `json:"lighting,omitempty" yaml:"lighting,omitempty"`
	Limit        int       `json:"limit,omitempty" yaml:"limit,omitempty"`
	SortBy       string    `json:"sort_by,omitempty" yaml:"sort_by,omitempty"`
	BoxThreshold float64   `json:"box_threshold,omitempty" yaml:"box_threshold,omitempty"`
	Options      Options   `json:"options" yaml:"options"`
	Candidates   []Options `json:"candidates,omitempty" yaml:"candidates,omitempty"`
}

// Multiple reports whether the module uses per-candidate options
func (m RegionModule) Multiple() bool {
	return len(m.Candidates) > 0
}

// Enabled reports whether the module would do any work
func (m RegionModule) Enabled() bool {
	return m.Multiple() || m.Strength != 0
}

// ModuleConfig maps region labels to their module configuration
type ModuleConfig struct {
	Person RegionModule `json:"person" yaml:"person"`
	Face   RegionModule `json:"face" yaml:"face"`
	Hand   RegionModule `json:"hand" yaml:"hand"`
}

// Region returns the module configured for label
func (m ModuleConfig) Region(label string) (RegionModule, bool) {
	switch label {
	case LabelPerson:
		return m.Person, true
	case LabelFace:
		return m.Face, true
	case LabelHand:
		return m.Hand, true
	}
	return RegionModule{}, false
}

// PipelineContext is the per-image state handed through the detailing stages
type PipelineContext struct {
	Prompt         string
	NegativePrompt string
	Seed           int64
	Index          int
	Image          image.Image
	Extra          []image.Image
}

// Run describes the host generation run a batch of images belongs to
type Run struct {
	AllPrompts         []string
	AllNegativePrompts []string
	Seeds              []int64
	Steps              []PipelineStep
	OutputDir          string
}

// Context builds the pipeline context for the index-th image of the run
func (r *Run) Context(index int, img image.Image) *PipelineContext {
	pc := &PipelineContext{Index: index, Image: img}
	if index < len(r.AllPrompts) {
		pc.Prompt = r.AllPrompts[index]
	}
	if index < len(r.AllNegativePrompts) {
		pc.NegativePrompt = r.AllNegativePrompts[index]
	}
	if index < len(r.Seeds) {
		pc.Seed = r.Seeds[index]
	}
	return pc
}
