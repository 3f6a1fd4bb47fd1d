package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRefreshConfig_ClampsTTL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, minRefreshTTLSeconds, NormalizeRefreshConfig(RefreshConfig{TTLSeconds: 1}).TTLSeconds)
	assert.Equal(t, maxRefreshTTLSeconds, NormalizeRefreshConfig(RefreshConfig{TTLSeconds: 999999999}).TTLSeconds)
	assert.Equal(t, defaultRefreshTTLSeconds, NormalizeRefreshConfig(RefreshConfig{}).TTLSeconds)
}

func TestNormalizeRefreshConfig_DefaultsTriggers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"manual"}, NormalizeRefreshConfig(RefreshConfig{}).Triggers)
	cfg := NormalizeRefreshConfig(RefreshConfig{Triggers: []string{"scheduled"}})
	assert.Equal(t, []string{"scheduled"}, cfg.Triggers)
}

func TestRefreshConfig_IsDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	disabled := RefreshConfig{Enabled: false, TTLSeconds: 3600}
	assert.False(t, disabled.IsDue(RefreshState{}, now))

	enabled := RefreshConfig{Enabled: true, TTLSeconds: 3600}
	assert.True(t, enabled.IsDue(RefreshState{}, now), "never succeeded is due immediately")

	recent := now.Add(-30 * time.Minute)
	assert.False(t, enabled.IsDue(RefreshState{LastSuccessAt: &recent}, now))

	stale := now.Add(-2 * time.Hour)
	assert.True(t, enabled.IsDue(RefreshState{LastSuccessAt: &stale}, now))
}

func TestDefaultRefreshConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultRefreshConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, defaultRefreshTTLSeconds, cfg.TTLSeconds)
	assert.Equal(t, []string{"manual"}, cfg.Triggers)
}
