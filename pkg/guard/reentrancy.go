package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/menta2k/image-detailer/pkg/client"
	"github.com/menta2k/image-detailer/pkg/types"
)

// Integration is a conditioning integration attached to the host run.
// Postprocess detaches it after the full image pass and Process attaches it
// again for the next one.
type Integration interface {
	Postprocess(ctx context.Context, run *types.Run) error
	Process(ctx context.Context, run *types.Run) error
}

// Reentrancy keeps localized regeneration calls from triggering the host's
// batch hooks and the run's conditioning integration
type Reentrancy struct {
	run         *types.Run
	hooks       BatchSuppressor
	settings    client.SettingStore
	integration Integration
	logger      *slog.Logger

	prompts   []string
	negatives []string
}

// NewReentrancy snapshots the run's prompt lists. integration may be nil.
func NewReentrancy(run *types.Run, hooks BatchSuppressor, settings client.SettingStore, integration Integration, logger *slog.Logger) *Reentrancy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reentrancy{
		run:         run,
		hooks:       hooks,
		settings:    settings,
		integration: integration,
		logger:      logger,
		prompts:     slices.Clone(run.AllPrompts),
		negatives:   slices.Clone(run.AllNegativePrompts),
	}
}

// scope records what enter changed so exit undoes exactly that
type scope struct {
	active     bool
	suppressed bool

	progressSaved bool
	progress      bool

	scriptControlSaved bool
	scriptControl      bool

	closed bool
}

// Run calls fn inside the guard. The guard is released on every return path,
// including a panic in fn.
func (r *Reentrancy) Run(ctx context.Context, fn func(context.Context) error) (err error) {
	s, err := r.enter(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if exitErr := r.exit(context.WithoutCancel(ctx), s); exitErr != nil {
			err = errors.Join(err, exitErr)
		}
	}()
	return fn(ctx)
}

// Active reports whether the run carries an enabled conditioning integration
func (r *Reentrancy) Active() bool {
	return r.integration != nil && types.ReentrantIntegrationActive(r.run.Steps)
}

func (r *Reentrancy) enter(ctx context.Context) (*scope, error) {
	s := &scope{}

	if r.Active() {
		if err := r.integration.Postprocess(ctx, r.run); err != nil {
			return nil, fmt.Errorf("integration postprocess failed: %w", err)
		}
		s.active = true
		r.restorePrompts()
	}

	r.hooks.Suppress()
	s.suppressed = true

	allow, present, err := r.settings.Bool(ctx, SettingAllowScriptControl)
	if err != nil {
		return nil, r.abort(ctx, s, fmt.Errorf("read %s: %w", SettingAllowScriptControl, err))
	}
	if present {
		if err := r.settings.SetBool(ctx, SettingAllowScriptControl, true); err != nil {
			return nil, r.abort(ctx, s, fmt.Errorf("set %s: %w", SettingAllowScriptControl, err))
		}
		s.scriptControlSaved = true
		s.scriptControl = allow
	}

	// A host without the toggle has no parallel progress display to silence
	progress, present, err := r.settings.Bool(ctx, SettingMultipleProgress)
	if err != nil {
		return nil, r.abort(ctx, s, fmt.Errorf("read %s: %w", SettingMultipleProgress, err))
	}
	if present {
		if err := r.settings.SetBool(ctx, SettingMultipleProgress, false); err != nil {
			return nil, r.abort(ctx, s, fmt.Errorf("set %s: %w", SettingMultipleProgress, err))
		}
		s.progressSaved = true
		s.progress = progress
	}

	r.logger.Debug("reentrancy guard entered",
		slog.Bool("integration_active", s.active),
		slog.Bool("script_control_saved", s.scriptControlSaved),
		slog.Bool("progress_saved", s.progressSaved))
	return s, nil
}

// abort undoes a partially entered scope
func (r *Reentrancy) abort(ctx context.Context, s *scope, cause error) error {
	return errors.Join(cause, r.exit(ctx, s))
}

func (r *Reentrancy) exit(ctx context.Context, s *scope) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.suppressed {
		r.hooks.Restore()
	}
	if s.scriptControlSaved {
		if err := r.settings.SetBool(ctx, SettingAllowScriptControl, s.scriptControl); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", SettingAllowScriptControl, err))
		}
	}
	if s.progressSaved {
		if err := r.settings.SetBool(ctx, SettingMultipleProgress, s.progress); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", SettingMultipleProgress, err))
		}
	}
	if s.active {
		if err := r.integration.Process(ctx, r.run); err != nil {
			errs = append(errs, fmt.Errorf("integration process failed: %w", err))
		}
		r.restorePrompts()
	}

	r.logger.Debug("reentrancy guard released", slog.Int("errors", len(errs)))
	return errors.Join(errs...)
}

func (r *Reentrancy) restorePrompts() {
	r.run.AllPrompts = slices.Clone(r.prompts)
	r.run.AllNegativePrompts = slices.Clone(r.negatives)
}
