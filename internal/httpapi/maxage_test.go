package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMaxAgeSeconds_Nil(t *testing.T) {
	t.Parallel()
	got, err := parseMaxAgeSeconds(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestParseMaxAgeSeconds_FromJSONNumber(t *testing.T) {
	t.Parallel()
	got, err := parseMaxAgeSeconds(float64(6))
	require.NoError(t, err)
	assert.Equal(t, 6*3600, got)
}

func TestParseMaxAgeSeconds_FromString(t *testing.T) {
	t.Parallel()
	got, err := parseMaxAgeSeconds("12")
	require.NoError(t, err)
	assert.Equal(t, 12*3600, got)
}

func TestParseMaxAgeSeconds_FromInt(t *testing.T) {
	t.Parallel()
	got, err := parseMaxAgeSeconds(24)
	require.NoError(t, err)
	assert.Equal(t, 24*3600, got)
}

func TestParseMaxAgeSeconds_RejectsFractionalHours(t *testing.T) {
	t.Parallel()
	_, err := parseMaxAgeSeconds(1.5)
	require.Error(t, err)
}

func TestParseMaxAgeSeconds_RejectsNonNumericString(t *testing.T) {
	t.Parallel()
	_, err := parseMaxAgeSeconds("soon")
	require.Error(t, err)
}

func TestParseMaxAgeSeconds_RejectsNegative(t *testing.T) {
	t.Parallel()
	_, err := parseMaxAgeSeconds(-3)
	require.Error(t, err)
}

func TestParseMaxAgeSeconds_RejectsUnsupportedType(t *testing.T) {
	t.Parallel()
	_, err := parseMaxAgeSeconds(true)
	require.Error(t, err)
}
