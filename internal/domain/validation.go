package domain

import (
	"fmt"
)

// ValidatePayloadValue checks that v is accepted by the destination API:
// a bool, a number, a string, or a slice of those. Nested objects are rejected.
func ValidatePayloadValue(v any) error {
	switch val := v.(type) {
	case bool, string, float64, float32, int, int64, int32:
		return nil
	case []any:
		for i, item := range val {
			if _, nested := item.([]any); nested {
				return fmt.Errorf("invalid payload value: nested array at index %d", i)
			}
			if err := ValidatePayloadValue(item); err != nil {
				return fmt.Errorf("invalid payload value at index %d: %w", i, err)
			}
		}
		return nil
	case nil:
		return fmt.Errorf("invalid payload value: nil")
	default:
		return fmt.Errorf("invalid payload value: unsupported type %T", v)
	}
}

// ValidatePayload validates every value of a destination payload.
func ValidatePayload(payload map[string]any) error {
	for columnID, v := range payload {
		if err := ValidatePayloadValue(v); err != nil {
			return fmt.Errorf("column %s: %w", columnID, err)
		}
	}
	return nil
}
