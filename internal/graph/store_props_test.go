package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeProp_ReadsNativeTime(t *testing.T) {
	t.Parallel()
	want := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	props := map[string]any{"created_at": want}
	assert.True(t, want.Equal(timeProp(props, "created_at")))
}

func TestTimeProp_MissingKeyYieldsZeroValue(t *testing.T) {
	t.Parallel()
	assert.True(t, timeProp(map[string]any{}, "created_at").IsZero())
}

func TestTimeProp_WrongTypeYieldsZeroValue(t *testing.T) {
	t.Parallel()
	props := map[string]any{"created_at": "not-a-time"}
	assert.True(t, timeProp(props, "created_at").IsZero())
}

func TestStringProp_MissingKeyYieldsEmptyString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", stringProp(map[string]any{}, "missing"))
}

func TestStringSliceProp_FiltersNonStringElements(t *testing.T) {
	t.Parallel()
	props := map[string]any{"on_branches": []any{"main", 7, "draft"}}
	assert.Equal(t, []string{"main", "draft"}, stringSliceProp(props, "on_branches"))
}
