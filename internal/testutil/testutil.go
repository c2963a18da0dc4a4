// Package testutil provides shared helpers for package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/geekxflood/common/logging"
)

// MockConfig implements config.Provider and config.Manager over an in-memory map.
type MockConfig struct {
	mu   sync.RWMutex
	data map[string]any

	reloadCount int
	reloadErr   error
}

// NewMockConfig creates a MockConfig seeded with the given values.
func NewMockConfig(values map[string]any) *MockConfig {
	m := &MockConfig{data: make(map[string]any, len(values))}
	for k, v := range values {
		m.data[k] = v
	}
	return m
}

// Set stores a value under key.
func (m *MockConfig) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *MockConfig) lookup(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MockConfig) GetString(key string, defaultValue ...string) (string, error) {
	if value, exists := m.lookup(key); exists {
		if str, ok := value.(string); ok {
			return str, nil
		}
		return fmt.Sprintf("%v", value), nil
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return "", fmt.Errorf("key not found: %s", key)
}

func (m *MockConfig) GetInt(key string, defaultValue ...int) (int, error) {
	if value, exists := m.lookup(key); exists {
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return 0, fmt.Errorf("key not found: %s", key)
}

func (m *MockConfig) GetFloat(key string, defaultValue ...float64) (float64, error) {
	if value, exists := m.lookup(key); exists {
		if f, ok := value.(float64); ok {
			return f, nil
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return 0, fmt.Errorf("key not found: %s", key)
}

func (m *MockConfig) GetBool(key string, defaultValue ...bool) (bool, error) {
	if value, exists := m.lookup(key); exists {
		if b, ok := value.(bool); ok {
			return b, nil
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return false, fmt.Errorf("key not found: %s", key)
}

func (m *MockConfig) GetDuration(key string, defaultValue ...time.Duration) (time.Duration, error) {
	if value, exists := m.lookup(key); exists {
		if d, ok := value.(time.Duration); ok {
			return d, nil
		}
		if str, ok := value.(string); ok {
			return time.ParseDuration(str)
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return 0, fmt.Errorf("key not found: %s", key)
}

func (m *MockConfig) GetStringSlice(key string, defaultValue ...[]string) ([]string, error) {
	if value, exists := m.lookup(key); exists {
		if slice, ok := value.([]string); ok {
			return slice, nil
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return nil, fmt.Errorf("key not found: %s", key)
}

func (m *MockConfig) GetMap(key string) (map[string]any, error) {
	if value, exists := m.lookup(key); exists {
		if mapVal, ok := value.(map[string]any); ok {
			return mapVal, nil
		}
	}
	return nil, fmt.Errorf("key not found: %s", key)
}

func (m *MockConfig) Get(key string) (any, error) {
	if value, exists := m.lookup(key); exists {
		return value, nil
	}
	return nil, fmt.Errorf("key not found: %s", key)
}

func (m *MockConfig) Exists(key string) bool {
	_, exists := m.lookup(key)
	return exists
}

func (m *MockConfig) IsSet(key string) bool {
	return m.Exists(key)
}

// AllSettings returns a copy of the stored values.
func (m *MockConfig) AllSettings() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	settings := make(map[string]any, len(m.data))
	for k, v := range m.data {
		settings[k] = v
	}
	return settings
}

// AllKeys returns the stored keys in sorted order.
func (m *MockConfig) AllKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *MockConfig) Validate() error {
	return nil
}

// SetReloadError makes the next calls to Reload fail with err.
func (m *MockConfig) SetReloadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadErr = err
}

// ReloadCount returns how many times Reload was called.
func (m *MockConfig) ReloadCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reloadCount
}

func (m *MockConfig) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCount++
	return m.reloadErr
}

func (m *MockConfig) Close() error {
	return nil
}

func (m *MockConfig) OnConfigChange(callback func(error)) {}

func (m *MockConfig) StartHotReload(ctx context.Context) error {
	return nil
}

func (m *MockConfig) StopHotReload() {}

// NewTestLogger creates a debug JSON logger for tests.
func NewTestLogger(t testing.TB) logging.Logger {
	t.Helper()
	logger, _, err := logging.NewLogger(logging.Config{
		Level:  "debug",
		Format: "json",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}
