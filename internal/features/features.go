package features

import (
	"sort"
	"sync"

	"price-tracker-api/internal/config"
)

// Flag names.
const (
	// FeatureCacheEnabled turns on caching of price analyses and trending lists.
	FeatureCacheEnabled = "cache_enabled"
	// FeatureEventHooksEnabled turns on in-process event subscribers.
	FeatureEventHooksEnabled = "event_hooks_enabled"
	// FeatureNotificationDedup makes the evaluator attach an idempotency key
	// to every notification so a re-evaluated price point notifies once.
	FeatureNotificationDedup = "notification_dedup"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{flags: make(map[string]*FeatureFlag)}
}

// FromConfig registers the known flags with their configured values.
func FromConfig(cfg config.FeaturesConfig) *Manager {
	m := NewManager()
	m.Register(FeatureCacheEnabled, cfg.CacheEnabled, "cache price analyses and trending lists")
	m.Register(FeatureEventHooksEnabled, cfg.EventHooksEnabled, "run in-process event subscribers")
	m.Register(FeatureNotificationDedup, cfg.NotificationDedup, "deduplicate notifications per favorite, rule and price point")
	return m
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled reports whether name is registered and on. A nil manager has
// every flag off.
func (m *Manager) IsEnabled(name string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	return exists && flag.Enabled
}

// Set flips a registered flag and reports whether it exists.
func (m *Manager) Set(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, exists := m.flags[name]
	if exists {
		flag.Enabled = enabled
	}
	return exists
}

// List returns a copy of every flag, sorted by name.
func (m *Manager) List() []FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FeatureFlag, 0, len(m.flags))
	for _, f := range m.flags {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
