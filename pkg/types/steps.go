package types

// PipelineStep is one extension attached to a host run. The set of variants is
// closed: ConditioningStep and ScriptStep.
type PipelineStep interface {
	StepName() string
	isStep()
}

// ConditioningStep is a conditioning-network unit (e.g. a ControlNet unit).
// Such integrations expect one call per full image and must not see the
// localized detailing calls.
type ConditioningStep struct {
	Module  string  `json:"module" yaml:"module"`
	Model   string  `json:"model,omitempty" yaml:"model,omitempty"`
	Weight  float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
	Enabled bool    `json:"enabled" yaml:"enabled"`
}

func (s ConditioningStep) StepName() string { return "conditioning:" + s.Module }
func (ConditioningStep) isStep() {}

// ScriptStep is any other run extension
type ScriptStep struct {
	Name string `json:"name" yaml:"name"`
}

func (s ScriptStep) StepName() string { return s.Name }
func (ScriptStep) isStep() {}

// ReentrantIntegrationActive reports whether any enabled conditioning unit is
// attached to the run
func ReentrantIntegrationActive(steps []PipelineStep) bool {
	for _, step := range steps {
		if cs, ok := step.(ConditioningStep); ok && cs.Enabled {
			return true
		}
	}
	return false
}
