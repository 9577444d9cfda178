package features

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"price-tracker-api/internal/config"
)

func TestFromConfig(t *testing.T) {
	m := FromConfig(config.FeaturesConfig{CacheEnabled: true, NotificationDedup: true})

	assert.True(t, m.IsEnabled(FeatureCacheEnabled))
	assert.False(t, m.IsEnabled(FeatureEventHooksEnabled))
	assert.True(t, m.IsEnabled(FeatureNotificationDedup))
	assert.False(t, m.IsEnabled("unknown"))

	flags := m.List()
	assert.Len(t, flags, 3)
	assert.Equal(t, FeatureCacheEnabled, flags[0].Name)
}

func TestSet(t *testing.T) {
	m := FromConfig(config.FeaturesConfig{})

	assert.True(t, m.Set(FeatureNotificationDedup, true))
	assert.True(t, m.IsEnabled(FeatureNotificationDedup))
	assert.False(t, m.Set("unknown", true))
	assert.False(t, m.IsEnabled("unknown"))
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.IsEnabled(FeatureCacheEnabled))
}
