package guard

import (
	"context"
	"sync"
)

// Host setting keys touched while a detailing run is in progress
const (
	SettingMultipleProgress   = "multiple_tqdm"
	SettingAllowScriptControl = "control_net_allow_script_control"
)

// MemorySettings is an in-process SettingStore
type MemorySettings struct {
	mu     sync.RWMutex
	values map[string]bool
}

// NewMemorySettings creates a store holding a copy of initial
func NewMemorySettings(initial map[string]bool) *MemorySettings {
	values := make(map[string]bool, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemorySettings{values: values}
}

// Bool returns the value of key and whether the key is known
func (s *MemorySettings) Bool(ctx context.Context, key string) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// SetBool stores value under key
func (s *MemorySettings) SetBool(ctx context.Context, key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
