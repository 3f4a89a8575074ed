package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loreweave/loreweave/pkg/apperror"
)

// ValidateProperties checks props against the type's field schemas and
// returns a coerced copy. Undeclared properties pass through untouched
// (the store is schemaless; the schema only constrains declared fields).
// Writes to system-protected fields are rejected unless systemActor is
// set.
func ValidateProperties(ts *TypeSchema, props map[string]any, systemActor bool) (map[string]any, error) {
	if len(props) == 0 {
		return map[string]any{}, nil
	}

	validated := make(map[string]any, len(props))
	for key, value := range props {
		def, declared := ts.Fields[key]
		if !declared {
			validated[key] = value
			continue
		}
		if def.Protection == ProtectionSystem && !systemActor {
			return nil, apperror.NewValidation(key, "field is system-managed and cannot be set")
		}
		if value == nil {
			validated[key] = nil
			continue
		}
		coerced, err := coerceValue(value, def.Type)
		if err != nil {
			return nil, apperror.NewValidation(key, err.Error())
		}
		validated[key] = coerced
	}
	return validated, nil
}

func coerceValue(value any, target FieldType) (any, error) {
	switch target {
	case FieldNumber:
		return coerceToNumber(value)
	case FieldBoolean:
		return coerceToBoolean(value)
	case FieldDate:
		return coerceToDate(value)
	case FieldArray:
		if _, ok := value.([]any); !ok {
			return nil, fmt.Errorf("expected array, got %T", value)
		}
		return value, nil
	case FieldObject:
		if _, ok := value.(map[string]any); !ok {
			return nil, fmt.Errorf("expected object, got %T", value)
		}
		return value, nil
	case FieldText:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	default:
		return value, nil
	}
}

func coerceToNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, fmt.Errorf("empty string cannot be converted to number")
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number format: %s", v)
		}
		return parsed, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

func coerceToBoolean(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0", "":
			return false, nil
		default:
			return false, fmt.Errorf("invalid boolean format: %s", v)
		}
	case int, int64, int32, float64, float32:
		return fmt.Sprintf("%v", v) != "0", nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

func coerceToDate(value any) (string, error) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return "", fmt.Errorf("empty string cannot be converted to date")
		}
		formats := []string{
			time.RFC3339,
			time.RFC3339Nano,
			"2006-01-02",
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
		}
		for _, format := range formats {
			if t, err := time.Parse(format, trimmed); err == nil {
				return t.Format(time.RFC3339), nil
			}
		}
		return "", fmt.Errorf("invalid date format: %s (expected ISO 8601)", v)
	case time.Time:
		return v.Format(time.RFC3339), nil
	default:
		return "", fmt.Errorf("cannot convert %T to date", value)
	}
}
