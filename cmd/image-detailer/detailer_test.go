package main

import (
	"testing"

	"github.com/menta2k/image-detailer/internal/config"
	"github.com/menta2k/image-detailer/pkg/segment"
	"github.com/menta2k/image-detailer/pkg/types"
)

func TestDetailerConfig(t *testing.T) {
	c := config.Default()
	c.Vision.Model = "minicpm-v"
	c.Vision.MaxDim = 0
	c.Vision.MaskShape = string(segment.ShapeRect)
	c.Detailing.MaxElements = 2
	c.Synthesis.ControlNet = []types.ConditioningStep{{Enabled: true, Module: "depth"}}

	got := detailerConfig(c)
	if got.Detection.Model != "minicpm-v" {
		t.Errorf("Expected model minicpm-v, got %s", got.Detection.Model)
	}
	if got.Detection.MaxDim != 1024 {
		t.Errorf("Expected the default max dim to be kept, got %d", got.Detection.MaxDim)
	}
	if got.MaskShape != segment.ShapeRect {
		t.Errorf("Expected rect masks, got %s", got.MaskShape)
	}
	if got.MaxElements != 2 || len(got.ControlNet) != 1 {
		t.Errorf("Unexpected mapping %+v", got)
	}
	if got.Pipeline.Modules.Face.Strength != c.Detailing.Modules.Face.Strength {
		t.Error("Expected the module configuration to be passed through")
	}
}

func TestNewVisionClient(t *testing.T) {
	for _, backend := range []string{config.BackendOllama, config.BackendLlamaCpp} {
		vc, err := newVisionClient(config.VisionConfig{Backend: backend, URL: "http://localhost:1234"})
		if err != nil || vc == nil {
			t.Errorf("%s: unexpected error %v", backend, err)
		}
	}
	if _, err := newVisionClient(config.VisionConfig{Backend: "onnx"}); err == nil {
		t.Error("Expected an error for an unknown backend")
	}
}

func TestNewLogger(t *testing.T) {
	if l := newLogger("json", true); l == nil {
		t.Fatal("Expected a logger")
	}
	if l := newLogger("text", false); l.Enabled(t.Context(), -4) {
		t.Error("Expected debug logging to be off")
	}
}
