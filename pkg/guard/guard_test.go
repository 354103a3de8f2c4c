package guard

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"testing"

	"github.com/menta2k/image-detailer/pkg/types"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func baseImages(ctx context.Context, pc *types.PipelineContext, img image.Image, opts types.Options) (image.Image, error) {
	return img, nil
}

// markingHooks returns hooks whose wrapped entry records that it ran
func markingHooks(wrappedCalls *int) *Hooks {
	h := NewHooks(baseImages, nil)
	h.Wrap(func(next ProcessImagesFunc) ProcessImagesFunc {
		return func(ctx context.Context, pc *types.PipelineContext, img image.Image, opts types.Options) (image.Image, error) {
			*wrappedCalls++
			return next(ctx, pc, img, opts)
		}
	}, nil)
	return h
}

type fakeIntegration struct {
	events []string
	err    error
}

func (f *fakeIntegration) Postprocess(ctx context.Context, run *types.Run) error {
	f.events = append(f.events, "postprocess")
	// The host rewrites prompts while detaching
	run.AllPrompts = []string{"rewritten"}
	return f.err
}

func (f *fakeIntegration) Process(ctx context.Context, run *types.Run) error {
	f.events = append(f.events, "process")
	run.AllNegativePrompts = nil
	return nil
}

func newRun(active bool) *types.Run {
	return &types.Run{
		AllPrompts:         []string{"1girl", "2girls"},
		AllNegativePrompts: []string{"lowres", "blurry"},
		Steps:              []types.PipelineStep{types.ConditioningStep{Module: "openpose", Enabled: active}},
	}
}

func TestHooksSuppressRestore(t *testing.T) {
	var wrapped int
	h := markingHooks(&wrapped)

	h.Regenerate(context.Background(), &types.PipelineContext{}, nil, types.Options{})
	if wrapped != 1 {
		t.Fatalf("Expected wrapped entry to run, got %d calls", wrapped)
	}

	h.Suppress()
	if !h.Suppressed() {
		t.Error("Expected hooks to report suppression")
	}
	h.Regenerate(context.Background(), &types.PipelineContext{}, nil, types.Options{})
	h.RegenerateBatch(context.Background(), &types.PipelineContext{}, []image.Image{nil, nil}, types.Options{})
	if wrapped != 1 {
		t.Errorf("Wrapped entry must not run while suppressed, got %d calls", wrapped)
	}

	h.Restore()
	h.Restore() // unmatched restore is a no-op
	h.Regenerate(context.Background(), &types.PipelineContext{}, nil, types.Options{})
	if wrapped != 2 {
		t.Errorf("Expected wrapped entry back after restore, got %d calls", wrapped)
	}
}

func TestSequentialBatch(t *testing.T) {
	calls := 0
	batch := SequentialBatch(func(ctx context.Context, pc *types.PipelineContext, img image.Image, opts types.Options) (image.Image, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("second failed")
		}
		return img, nil
	})

	out, err := batch(context.Background(), &types.PipelineContext{}, []image.Image{nil, nil, nil}, types.Options{})
	if err == nil {
		t.Fatal("Expected the second image error")
	}
	if len(out) != 1 || calls != 2 {
		t.Errorf("Expected processing to stop at the failure (out=%d calls=%d)", len(out), calls)
	}
}

func TestReentrancyRestoresOnSuccess(t *testing.T) {
	var wrapped int
	hooks := markingHooks(&wrapped)
	settings := NewMemorySettings(map[string]bool{
		SettingMultipleProgress:   true,
		SettingAllowScriptControl: false,
	})
	run := newRun(false)
	guard := NewReentrancy(run, hooks, settings, &fakeIntegration{}, discardLogger)

	err := guard.Run(context.Background(), func(ctx context.Context) error {
		if v, _, _ := settings.Bool(ctx, SettingMultipleProgress); v {
			t.Error("multiple_tqdm should be off inside the guard")
		}
		if v, _, _ := settings.Bool(ctx, SettingAllowScriptControl); !v {
			t.Error("control_net_allow_script_control should be on inside the guard")
		}
		hooks.Regenerate(ctx, &types.PipelineContext{}, nil, types.Options{})
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if wrapped != 0 {
		t.Error("Hooks should be suppressed inside the guard")
	}
	if hooks.Suppressed() {
		t.Error("Hooks should be restored after the guard")
	}
	if v, _, _ := settings.Bool(context.Background(), SettingMultipleProgress); !v {
		t.Error("multiple_tqdm should be restored")
	}
	if v, _, _ := settings.Bool(context.Background(), SettingAllowScriptControl); v {
		t.Error("control_net_allow_script_control should be restored")
	}
}

func TestReentrancyRestoresOnError(t *testing.T) {
	hooks := NewHooks(baseImages, nil)
	settings := NewMemorySettings(map[string]bool{SettingMultipleProgress: true})
	guard := NewReentrancy(newRun(false), hooks, settings, nil, discardLogger)

	bodyErr := errors.New("regeneration failed")
	err := guard.Run(context.Background(), func(ctx context.Context) error { return bodyErr })
	if !errors.Is(err, bodyErr) {
		t.Errorf("Expected body error, got %v", err)
	}
	if hooks.Suppressed() {
		t.Error("Hooks should be restored after a failure")
	}
	if v, _, _ := settings.Bool(context.Background(), SettingMultipleProgress); !v {
		t.Error("multiple_tqdm should be restored after a failure")
	}
	if _, present, _ := settings.Bool(context.Background(), SettingAllowScriptControl); present {
		t.Error("An unknown host setting must not be created")
	}
}

func TestReentrancyRestoresOnPanic(t *testing.T) {
	hooks := NewHooks(baseImages, nil)
	settings := NewMemorySettings(map[string]bool{SettingMultipleProgress: true})
	guard := NewReentrancy(newRun(false), hooks, settings, nil, discardLogger)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Expected the panic to propagate")
			}
		}()
		guard.Run(context.Background(), func(ctx context.Context) error { panic("boom") })
	}()

	if hooks.Suppressed() {
		t.Error("Hooks should be restored after a panic")
	}
	if v, _, _ := settings.Bool(context.Background(), SettingMultipleProgress); !v {
		t.Error("multiple_tqdm should be restored after a panic")
	}
}

func TestReentrancyLeavesAbsentProgressAlone(t *testing.T) {
	settings := NewMemorySettings(map[string]bool{SettingAllowScriptControl: false})
	guard := NewReentrancy(newRun(false), NewHooks(baseImages, nil), settings, nil, discardLogger)

	err := guard.Run(context.Background(), func(ctx context.Context) error {
		if _, present, _ := settings.Bool(ctx, SettingMultipleProgress); present {
			t.Error("multiple_tqdm must not be created inside the guard")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, present, _ := settings.Bool(context.Background(), SettingMultipleProgress); present {
		t.Error("multiple_tqdm must not be created on exit")
	}
	if v, _, _ := settings.Bool(context.Background(), SettingAllowScriptControl); v {
		t.Error("control_net_allow_script_control should be restored")
	}
}

func TestReentrancyIntegrationActive(t *testing.T) {
	integration := &fakeIntegration{}
	run := newRun(true)
	guard := NewReentrancy(run, NewHooks(baseImages, nil), NewMemorySettings(nil), integration, discardLogger)

	if !guard.Active() {
		t.Fatal("Expected an active integration")
	}

	err := guard.Run(context.Background(), func(ctx context.Context) error {
		if len(integration.events) != 1 || integration.events[0] != "postprocess" {
			t.Errorf("Expected postprocess on enter, got %v", integration.events)
		}
		if run.AllPrompts[0] != "1girl" {
			t.Errorf("Prompts should be restored after postprocess, got %v", run.AllPrompts)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(integration.events) != 2 || integration.events[1] != "process" {
		t.Errorf("Expected process on exit, got %v", integration.events)
	}
	if len(run.AllNegativePrompts) != 2 || run.AllNegativePrompts[1] != "blurry" {
		t.Errorf("Negative prompts should be restored after process, got %v", run.AllNegativePrompts)
	}
}

func TestReentrancyInactiveIntegration(t *testing.T) {
	integration := &fakeIntegration{}
	guard := NewReentrancy(newRun(false), NewHooks(baseImages, nil), NewMemorySettings(nil), integration, discardLogger)

	if err := guard.Run(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(integration.events) != 0 {
		t.Errorf("Disabled integration should not be called, got %v", integration.events)
	}
}

func TestReentrancyPostprocessFailure(t *testing.T) {
	hooks := NewHooks(baseImages, nil)
	integration := &fakeIntegration{err: errors.New("detach failed")}
	guard := NewReentrancy(newRun(true), hooks, NewMemorySettings(nil), integration, discardLogger)

	called := false
	err := guard.Run(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("Expected the body to be skipped on enter failure (err=%v called=%v)", err, called)
	}
	if hooks.Suppressed() {
		t.Error("Hooks must not stay suppressed after an enter failure")
	}
}

type fakeRegistry struct {
	current   string
	activated []string
	failOn    string
}

func (f *fakeRegistry) Current(ctx context.Context) (string, error) {
	return f.current, nil
}

func (f *fakeRegistry) Activate(ctx context.Context, name string) error {
	if name == f.failOn {
		return errors.New("load failed")
	}
	f.activated = append(f.activated, name)
	f.current = name
	return nil
}

func TestModelSwitch(t *testing.T) {
	registry := &fakeRegistry{current: "A"}
	sw := NewModelSwitch(registry, true, "B", discardLogger)

	err := sw.Run(context.Background(), func(ctx context.Context) error {
		if registry.current != "B" {
			t.Errorf("Expected B active inside the switch, got %s", registry.current)
		}
		return errors.New("body failed")
	})
	if err == nil {
		t.Error("Expected the body error")
	}
	if registry.current != "A" {
		t.Errorf("Expected A restored, got %s", registry.current)
	}
	if len(registry.activated) != 2 || registry.activated[0] != "B" || registry.activated[1] != "A" {
		t.Errorf("Expected activations [B A], got %v", registry.activated)
	}
}

func TestModelSwitchDisabled(t *testing.T) {
	registry := &fakeRegistry{current: "A"}

	for _, sw := range []*ModelSwitch{
		NewModelSwitch(registry, false, "B", discardLogger),
		NewModelSwitch(registry, true, "", discardLogger),
	} {
		if err := sw.Run(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}
	if len(registry.activated) != 0 {
		t.Errorf("Disabled switch should not touch the registry, got %v", registry.activated)
	}
}

func TestModelSwitchActivateFailure(t *testing.T) {
	registry := &fakeRegistry{current: "A", failOn: "B"}
	sw := NewModelSwitch(registry, true, "B", discardLogger)

	called := false
	err := sw.Run(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("Expected activation failure to skip the body (err=%v called=%v)", err, called)
	}
}

func TestNestedScopesReleaseInOrder(t *testing.T) {
	hooks := NewHooks(baseImages, nil)
	registry := &fakeRegistry{current: "A"}
	guard := NewReentrancy(newRun(false), hooks, NewMemorySettings(nil), nil, discardLogger)
	sw := NewModelSwitch(registry, true, "B", discardLogger)

	err := guard.Run(context.Background(), func(ctx context.Context) error {
		return sw.Run(ctx, func(ctx context.Context) error {
			return errors.New("stage failed")
		})
	})
	if err == nil {
		t.Fatal("Expected the stage error")
	}
	if hooks.Suppressed() || registry.current != "A" {
		t.Error("Both scopes should be released after a failure")
	}
}
