package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/image-detailer/pkg/pipeline"
	"github.com/menta2k/image-detailer/pkg/processing"
	"github.com/menta2k/image-detailer/pkg/sdapi"
	"github.com/menta2k/image-detailer/pkg/segment"
	"github.com/menta2k/image-detailer/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Vision    VisionConfig    `json:"vision" yaml:"vision"`
	Synthesis SynthesisConfig `json:"synthesis" yaml:"synthesis"`
	Detailing DetailingConfig `json:"detailing" yaml:"detailing"`
	Output    OutputConfig    `json:"output" yaml:"output"`
}

// VisionConfig holds configuration for region detection
type VisionConfig struct {
	Backend     string  `json:"backend" yaml:"backend"`
	URL         string  `json:"url" yaml:"url"`
	Model       string  `json:"model" yaml:"model"`
	MaxDim      int     `json:"max_dim" yaml:"max_dim"`
	Format      string  `json:"format" yaml:"format"`
	Quality     int     `json:"quality" yaml:"quality"`
	MinBoxRatio float64 `json:"min_box_ratio" yaml:"min_box_ratio"`
	CacheSize   int     `json:"cache_size" yaml:"cache_size"`
	MaskShape   string  `json:"mask_shape" yaml:"mask_shape"`
}

// SynthesisConfig holds configuration for the image generation backend
type SynthesisConfig struct {
	URL        string                   `json:"url" yaml:"url"`
	Defaults   sdapi.Defaults           `json:"defaults" yaml:"defaults"`
	ControlNet []types.ConditioningStep `json:"controlnet,omitempty" yaml:"controlnet,omitempty"`
}

// DetailingConfig holds the pipeline stages and module settings
type DetailingConfig struct {
	pipeline.Config `yaml:",inline"`

	MaxElements int `json:"max_elements" yaml:"max_elements"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Format    string `json:"format" yaml:"format"`
	Quality   int    `json:"quality" yaml:"quality"`
	Lossless  bool   `json:"lossless" yaml:"lossless"`
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	Prefix    string `json:"prefix" yaml:"prefix"`
	Suffix    string `json:"suffix" yaml:"suffix"`
}

// Vision backends
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Vision: VisionConfig{
			Backend:     BackendOllama,
			URL:         "http://localhost:11434",
			Model:       "qwen2.5vl:7b",
			MaxDim:      1024,
			Format:      "jpg",
			Quality:     90,
			MinBoxRatio: 0.0001,
			CacheSize:   64,
			MaskShape:   string(segment.ShapeEllipse),
		},
		Synthesis: SynthesisConfig{
			URL:      "http://127.0.0.1:7860",
			Defaults: sdapi.DefaultDefaults(),
		},
		Detailing: DetailingConfig{
			Config: pipeline.Config{
				Modules: types.ModuleConfig{
					Face: types.RegionModule{
						Strength: 1,
						Limit:    1,
						SortBy:   "size",
						Options: types.Options{
							Prompt:            types.PromptMarker,
							DenoisingStrength: 0.4,
							MaskBlur:          4,
							Dilation:          4,
							InpaintFullRes:    true,
							InpaintPadding:    32,
						},
					},
				},
				Resize: pipeline.ResizeConfig{
					Mode:      pipeline.ResizeStretching,
					Ratio:     0.85,
					Dilation:  4,
					Denoising: 0.6,
				},
				Upscale: pipeline.UpscaleConfig{
					Ratio:    1.5,
					Upscaler: "lanczos",
				},
				Finish: processing.DefaultFinishConfig(),
			},
		},
		Output: OutputConfig{
			Format:    "png",
			Quality:   95,
			OutputDir: "./output",
			Suffix:    "_detailed",
		},
	}
}

// isYAML reports whether filename should be read as YAML
func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFromFile loads configuration from a JSON or YAML file. Values missing
// from the file keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Vision.Backend {
	case BackendOllama, BackendLlamaCpp:
	default:
		return fmt.Errorf("vision.backend must be %q or %q", BackendOllama, BackendLlamaCpp)
	}

	if c.Vision.Model == "" && c.Vision.Backend == BackendOllama {
		return fmt.Errorf("vision.model is required for the ollama backend")
	}

	if c.Vision.MinBoxRatio < 0 || c.Vision.MinBoxRatio > 1 {
		return fmt.Errorf("vision.min_box_ratio must be between 0 and 1")
	}

	switch segment.Shape(c.Vision.MaskShape) {
	case "", segment.ShapeRect, segment.ShapeEllipse:
	default:
		return fmt.Errorf("vision.mask_shape must be %q or %q", segment.ShapeRect, segment.ShapeEllipse)
	}

	if c.Synthesis.URL == "" {
		return fmt.Errorf("synthesis.url cannot be empty")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if c.Detailing.MaxElements < 0 {
		return fmt.Errorf("detailing.max_elements cannot be negative")
	}

	modules := map[string]types.RegionModule{
		types.LabelPerson: c.Detailing.Modules.Person,
		types.LabelFace:   c.Detailing.Modules.Face,
		types.LabelHand:   c.Detailing.Modules.Hand,
	}
	for label, m := range modules {
		if err := validateModule(m); err != nil {
			return fmt.Errorf("detailing.modules.%s: %w", label, err)
		}
	}

	resize := c.Detailing.Resize
	if resize.Enabled {
		if resize.Ratio <= 0 || resize.Ratio >= 1 {
			return fmt.Errorf("detailing.resize.ratio must be between 0 and 1")
		}
		if resize.Mode != pipeline.ResizeStretching && resize.Mode != pipeline.ResizeInpaint {
			return fmt.Errorf("detailing.resize.mode must be %q or %q", pipeline.ResizeStretching, pipeline.ResizeInpaint)
		}
	}

	if c.Detailing.Upscale.Enabled && c.Detailing.Upscale.Ratio < 1 {
		return fmt.Errorf("detailing.upscale.ratio must be at least 1")
	}

	if c.Detailing.UseSpecificModel && c.Detailing.Model == "" {
		return fmt.Errorf("detailing.model is required when use_specific_model is set")
	}

	return nil
}

func validateModule(m types.RegionModule) error {
	if m.Limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	if m.Lighting < 0 {
		return fmt.Errorf("lighting cannot be negative")
	}
	if m.BoxThreshold < 0 || m.BoxThreshold > 1 {
		return fmt.Errorf("box_threshold must be between 0 and 1")
	}
	opts := append([]types.Options{m.Options}, m.Candidates...)
	for i, o := range opts {
		if o.DenoisingStrength < 0 || o.DenoisingStrength > 1 {
			return fmt.Errorf("options %d: denoising_strength must be between 0 and 1", i)
		}
		if o.Dilation < 0 || o.MaskBlur < 0 {
			return fmt.Errorf("options %d: dilation and mask_blur cannot be negative", i)
		}
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "image-detailer", "config.yaml")
}
