package httpapi

import (
	"fmt"
	"strconv"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

// parseMaxAgeSeconds normalizes the max_age_hours refresh-check parameter
// (§9 open question: inconsistently typed int/string upstream) to integer
// seconds, rejecting anything that isn't a non-negative whole number of
// hours rather than guessing at intent.
func parseMaxAgeSeconds(raw any) (int, error) {
	if raw == nil {
		return 0, nil
	}
	var hours int
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, apperr.NewInvalidInput(fmt.Sprintf("max_age_hours must be a whole number, got %v", v), nil)
		}
		hours = int(v)
	case int:
		hours = v
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, apperr.NewInvalidInput(fmt.Sprintf("max_age_hours must be an integer, got %q", v), nil)
		}
		hours = parsed
	default:
		return 0, apperr.NewInvalidInput(fmt.Sprintf("max_age_hours has unsupported type %T", raw), nil)
	}
	if hours < 0 {
		return 0, apperr.NewInvalidInput(fmt.Sprintf("max_age_hours must be >= 0, got %d", hours), nil)
	}
	return hours * 3600, nil
}
