package metadata

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// Coerce converts an incoming JSON or GraphQL scalar into the driver value
// for this field's SQL type. Numbers arrive as json.Number or float64,
// times and uuids as strings, bytes as base64 strings. A value that cannot
// be coerced is a client error; callers wrap it accordingly.
func (f *Field) Coerce(value any) (any, error) {
	if value == nil {
		if !f.Nullable {
			return nil, fmt.Errorf("field %q is not nullable", f.Name)
		}
		return nil, nil
	}

	switch f.Type {
	case TypeString:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, coerceErr(f, value, err)
		}
		return s, nil

	case TypeInt:
		n, err := cast.ToInt64E(value)
		if err != nil {
			return nil, coerceErr(f, value, err)
		}
		return n, nil

	case TypeFloat:
		fl, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, coerceErr(f, value, err)
		}
		return fl, nil

	case TypeDecimal:
		// Decimals travel as strings so the driver keeps full precision.
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, coerceErr(f, value, err)
		}
		return s, nil

	case TypeBool:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return nil, coerceErr(f, value, err)
		}
		return b, nil

	case TypeDateTime:
		t, err := cast.ToTimeE(value)
		if err != nil {
			return nil, coerceErr(f, value, err)
		}
		return t, nil

	case TypeUUID:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, coerceErr(f, value, err)
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, coerceErr(f, value, err)
		}
		// Canonical string form works across all four drivers.
		return u.String(), nil

	case TypeBytes:
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			raw, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, coerceErr(f, value, err)
			}
			return raw, nil
		default:
			return nil, coerceErr(f, value, fmt.Errorf("expected base64 string"))
		}

	case TypeJSON:
		switch v := value.(type) {
		case string:
			if !json.Valid([]byte(v)) {
				return nil, coerceErr(f, value, fmt.Errorf("not valid JSON"))
			}
			return v, nil
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, coerceErr(f, value, err)
			}
			return string(raw), nil
		}
	}

	return nil, fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
}

func coerceErr(f *Field, value any, cause error) error {
	return fmt.Errorf("field %q: cannot use %v as %s: %w", f.Name, value, f.Type, cause)
}
