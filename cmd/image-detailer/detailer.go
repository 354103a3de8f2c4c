package main

import (
	"fmt"

	imagedetailer "github.com/menta2k/image-detailer"
	"github.com/menta2k/image-detailer/internal/config"
	"github.com/menta2k/image-detailer/pkg/client"
	"github.com/menta2k/image-detailer/pkg/detection"
	"github.com/menta2k/image-detailer/pkg/llamacpp"
	"github.com/menta2k/image-detailer/pkg/ollama"
	"github.com/menta2k/image-detailer/pkg/sdapi"
	"github.com/menta2k/image-detailer/pkg/segment"
)

// newVisionClient creates the client for the configured backend
func newVisionClient(c config.VisionConfig) (client.VisionClient, error) {
	switch c.Backend {
	case config.BackendOllama:
		vc, err := ollama.NewClient(c.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return vc, nil
	case config.BackendLlamaCpp:
		vc, err := llamacpp.NewClient(c.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return vc, nil
	}
	return nil, fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", c.Backend)
}

// detailerConfig maps the file configuration onto the library configuration
func detailerConfig(c *config.Config) imagedetailer.Config {
	det := detection.DefaultConfig()
	det.Model = c.Vision.Model
	if c.Vision.MaxDim > 0 {
		det.MaxDim = c.Vision.MaxDim
	}
	if c.Vision.Format != "" {
		det.Format = c.Vision.Format
	}
	if c.Vision.Quality > 0 {
		det.Quality = c.Vision.Quality
	}
	det.MinBoxRatio = c.Vision.MinBoxRatio
	if c.Vision.CacheSize > 0 {
		det.CacheSize = c.Vision.CacheSize
	}

	return imagedetailer.Config{
		Detection:       det,
		MaskShape:       segment.Shape(c.Vision.MaskShape),
		Pipeline:        c.Detailing.Config,
		MaxElements:     c.Detailing.MaxElements,
		ControlNet:      c.Synthesis.ControlNet,
		SnapshotFormat:  c.Output.Format,
		SnapshotQuality: c.Output.Quality,
	}
}

// newDetailer wires both backends from the loaded configuration
func newDetailer() (*imagedetailer.Detailer, error) {
	vc, err := newVisionClient(cfg.Vision)
	if err != nil {
		return nil, err
	}
	sd, err := sdapi.NewClient(cfg.Synthesis.URL, cfg.Synthesis.Defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to create SD API client: %w", err)
	}
	return imagedetailer.New(vc, sd, detailerConfig(cfg), logger), nil
}
