package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/menta2k/image-detailer/pkg/client"
)

// ModelSwitch activates a specific checkpoint for the duration of a run and
// reactivates the previous one afterwards
type ModelSwitch struct {
	registry client.ModelRegistry
	enabled  bool
	model    string
	logger   *slog.Logger
}

// NewModelSwitch creates a switch to model. It does nothing unless enabled
// is set and model is not empty.
func NewModelSwitch(registry client.ModelRegistry, enabled bool, model string, logger *slog.Logger) *ModelSwitch {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelSwitch{registry: registry, enabled: enabled, model: model, logger: logger}
}

// Run calls fn with the configured checkpoint active
func (m *ModelSwitch) Run(ctx context.Context, fn func(context.Context) error) (err error) {
	if !m.enabled || m.model == "" || m.registry == nil {
		return fn(ctx)
	}

	previous, err := m.registry.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current checkpoint: %w", err)
	}
	if err := m.registry.Activate(ctx, m.model); err != nil {
		return fmt.Errorf("failed to activate checkpoint %q: %w", m.model, err)
	}
	m.logger.Info("checkpoint switched", slog.String("from", previous), slog.String("to", m.model))

	defer func() {
		if restoreErr := m.registry.Activate(context.WithoutCancel(ctx), previous); restoreErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to restore checkpoint %q: %w", previous, restoreErr))
			return
		}
		m.logger.Info("checkpoint restored", slog.String("model", previous))
	}()

	return fn(ctx)
}
