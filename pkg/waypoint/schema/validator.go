package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ValidationError describes the first value that failed to match a schema.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// formatTags maps schema formats onto go-playground/validator tags.
var formatTags = map[string]string{
	"email":    "email",
	"uuid":     "uuid",
	"url":      "url",
	"uri":      "uri",
	"ipv4":     "ipv4",
	"ipv6":     "ipv6",
	"ip":       "ip",
	"hostname": "hostname",
	"hex":      "hexadecimal",
	"base64":   "base64",
}

type mode int

const (
	modeValidate mode = iota
	modeCoerce
	modeSerialize
)

// Validator validates, coerces and serializes values against schemas.
type Validator struct {
	formats *validator.Validate
}

// NewValidator creates a validator using go-playground/validator for
// string format checks.
func NewValidator() *Validator {
	return &Validator{formats: validator.New()}
}

// Default is the validator used when none is configured.
var Default = NewValidator()

// Validate checks value against s without converting it.
func (v *Validator) Validate(value any, s *Schema) error {
	_, err := v.walk(value, s, "", modeValidate, false)
	return err
}

// Coerce validates an inbound value and converts it into its canonical
// form: integers become int64, dates become time.Time.
func (v *Validator) Coerce(value any, s *Schema) (any, error) {
	return v.walk(value, s, "", modeCoerce, false)
}

// Serialize converts a Go value to the JSON data model and validates it
// against s. Primitive types are never coerced. Undeclared object
// properties are dropped, or rejected when strict is set.
func (v *Validator) Serialize(value any, s *Schema, strict bool) (any, error) {
	data, err := toData(value)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("cannot serialize %T: %v", value, err)}
	}
	return v.walk(data, s, "", modeSerialize, strict)
}

func (v *Validator) walk(value any, s *Schema, path string, m mode, strict bool) (any, error) {
	if s == nil || s.Type == Any || s.Type == "" {
		return value, nil
	}
	if value == nil {
		if s.Nullable {
			return nil, nil
		}
		return nil, fail(path, "must be %s, got null", s.Type)
	}

	var (
		out any
		err error
	)
	switch s.Type {
	case String:
		out, err = v.walkString(value, s, path)
	case Number:
		f, ok := toFloat(value)
		if !ok {
			return nil, fail(path, "must be number, got %s", describe(value))
		}
		out = value
		if m == modeCoerce {
			out = f
		}
	case Integer:
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) {
			return nil, fail(path, "must be integer, got %s", describe(value))
		}
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, fail(path, "integer out of range")
		}
		out = value
		if m == modeCoerce {
			out = int64(f)
		}
	case Boolean:
		if _, ok := value.(bool); !ok {
			return nil, fail(path, "must be boolean, got %s", describe(value))
		}
		out = value
	case Date:
		out, err = walkDate(value, path, m)
	case File, Stream:
		out = value
	case Object:
		out, err = v.walkObject(value, s, path, m, strict)
	case Array:
		out, err = v.walkArray(value, s, path, m, strict)
	default:
		return nil, fail(path, "unsupported schema type %q", s.Type)
	}
	if err != nil {
		return nil, err
	}
	if len(s.Enum) > 0 && !inEnum(out, s.Enum) {
		return nil, fail(path, "must be one of %v", s.Enum)
	}
	return out, nil
}

func (v *Validator) walkString(value any, s *Schema, path string) (any, error) {
	str, ok := value.(string)
	if !ok {
		return nil, fail(path, "must be string, got %s", describe(value))
	}
	if s.Format == "" {
		return str, nil
	}
	if s.Format == "date-time" {
		if _, err := time.Parse(time.RFC3339, str); err != nil {
			return nil, fail(path, "must be a date-time")
		}
		return str, nil
	}
	if tag, ok := formatTags[s.Format]; ok {
		if err := v.formats.Var(str, tag); err != nil {
			return nil, fail(path, "must be a valid %s", s.Format)
		}
	}
	return str, nil
}

func walkDate(value any, path string, m mode) (any, error) {
	switch d := value.(type) {
	case time.Time:
		return d, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
			if t, err := time.Parse(layout, d); err == nil {
				if m == modeCoerce {
					return t, nil
				}
				return d, nil
			}
		}
		return nil, fail(path, "must be a date, got %q", d)
	}
	return nil, fail(path, "must be date, got %s", describe(value))
}

func (v *Validator) walkObject(value any, s *Schema, path string, m mode, strict bool) (any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fail(path, "must be object, got %s", describe(value))
	}
	for _, name := range s.Required {
		val, present := obj[name]
		prop := s.Properties[name]
		if !present || (val == nil && (prop == nil || !prop.Nullable)) {
			return nil, fail(join(path, name), "is required")
		}
	}

	open := len(s.Properties) == 0
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(obj))
	for _, key := range keys {
		val := obj[key]
		prop, declared := s.Properties[key]
		if !declared {
			switch {
			case open || m != modeSerialize:
				out[key] = val
			case strict:
				return nil, fail(join(path, key), "is not a declared property")
			}
			continue
		}
		if val == nil && !s.IsRequired(key) && !prop.Nullable {
			continue
		}
		res, err := v.walk(val, prop, join(path, key), m, strict)
		if err != nil {
			return nil, err
		}
		out[key] = res
	}
	return out, nil
}

func (v *Validator) walkArray(value any, s *Schema, path string, m mode, strict bool) (any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fail(path, "must be array, got %s", describe(value))
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		res, err := v.walk(rv.Index(i).Interface(), s.Items, fmt.Sprintf("%s[%d]", path, i), m, strict)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

// toData converts a Go value into the JSON data model
// (map[string]any, []any, string, float64, bool, nil).
func toData(value any) (any, error) {
	switch value.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return value, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toFloat(value any) (float64, bool) {
	if n, ok := value.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func inEnum(value any, enum []any) bool {
	for _, e := range enum {
		if reflect.DeepEqual(value, e) {
			return true
		}
		a, aok := toFloat(value)
		b, bok := toFloat(e)
		if aok && bok && a == b {
			return true
		}
	}
	return false
}

func describe(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := toFloat(value); ok {
		return "number"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", value), "*")
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func fail(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}
