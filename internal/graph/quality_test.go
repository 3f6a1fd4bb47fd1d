package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScoreDescription(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, scoreDescription(""))
	assert.Equal(t, 30, scoreDescription("a concept description"))
}

func TestScoreEvidenceCount(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, scoreEvidenceCount(0))
	assert.Equal(t, 15, scoreEvidenceCount(1))
	assert.Equal(t, 15, scoreEvidenceCount(2))
	assert.Equal(t, 25, scoreEvidenceCount(3))
}

func TestScoreDegree(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, scoreDegree(0))
	assert.Equal(t, 5, scoreDegree(1))
	assert.Equal(t, 15, scoreDegree(2))
	assert.Equal(t, 15, scoreDegree(4))
	assert.Equal(t, 25, scoreDegree(5))
}

func TestClassifyFreshness(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, FreshnessNone, classifyFreshness(nil, now))

	fresh := []Claim{{CreatedAt: now.Add(-5 * 24 * time.Hour)}}
	assert.Equal(t, FreshnessFresh, classifyFreshness(fresh, now))

	aging := []Claim{{CreatedAt: now.Add(-90 * 24 * time.Hour)}}
	assert.Equal(t, FreshnessAging, classifyFreshness(aging, now))

	stale := []Claim{{CreatedAt: now.Add(-200 * 24 * time.Hour)}}
	assert.Equal(t, FreshnessStale, classifyFreshness(stale, now))

	mixed := []Claim{
		{CreatedAt: now.Add(-200 * 24 * time.Hour)},
		{CreatedAt: now.Add(-1 * time.Hour)},
	}
	assert.Equal(t, FreshnessFresh, classifyFreshness(mixed, now))
}

func TestClassifyGraphHealth(t *testing.T) {
	t.Parallel()
	assert.Equal(t, HealthHealthy, ClassifyGraphHealth(85))
	assert.Equal(t, HealthNeedsAttention, ClassifyGraphHealth(55))
	assert.Equal(t, HealthPoor, ClassifyGraphHealth(10))
}
