package tree

import (
	"fmt"

	"github.com/spf13/cast"
)

// ToFloat coerces a written value to float64. Numbers and numeric strings
// are accepted.
func ToFloat(v any) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: expected number, got nil", ErrInvalidValue)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%w: expected number, got %v", ErrInvalidValue, v)
	}
	return f, nil
}

// ToBool coerces a written value to bool. Booleans, numbers and the usual
// string spellings ("true", "0", "f", ...) are accepted.
func ToBool(v any) (bool, error) {
	if v == nil {
		return false, fmt.Errorf("%w: expected boolean, got nil", ErrInvalidValue)
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("%w: expected boolean, got %v", ErrInvalidValue, v)
	}
	return b, nil
}

// ToString coerces a written value to a string, rejecting mappings and
// lists.
func ToString(v any) (string, error) {
	switch v.(type) {
	case nil, map[string]any, map[any]any, []any:
		return "", fmt.Errorf("%w: expected string, got %T", ErrInvalidValue, v)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w: expected string, got %T", ErrInvalidValue, v)
	}
	return s, nil
}
