package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RoundTrip(t *testing.T) {
	r := NewRegistry()
	s := r.MustNormalize("{name: string, age?: integer, tags: [string]}")

	matching := map[string]any{"name": "vincent", "tags": []any{"a", "b"}}
	assert.NoError(t, Default.Validate(matching, s))

	missing := map[string]any{"tags": []any{}}
	err := Default.Validate(missing, s)
	require.Error(t, err)
	assert.Equal(t, "name: is required", err.Error())
}

func TestCoerce(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name    string
		expr    string
		input   any
		want    any
		wantErr string
	}{
		{"integer from float", "integer", float64(42), int64(42), ""},
		{"fractional integer", "integer", 4.5, nil, "must be integer"},
		{"integer out of range", "integer", 1e30, nil, "integer out of range"},
		{"number", "number", 3, float64(3), ""},
		{"string type mismatch", "string", 12.0, nil, "must be string, got number"},
		{"boolean", "boolean", true, true, ""},
		{"date", "date", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ""},
		{"bad date", "date", "yesterday", nil, "must be a date"},
		{"null", "string", nil, nil, "got null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Default.Coerce(tt.input, r.MustNormalize(tt.expr))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerce_Formats(t *testing.T) {
	email := &Schema{Type: String, Format: "email"}
	id := &Schema{Type: String, Format: "uuid"}

	_, err := Default.Coerce("someone@example.com", email)
	assert.NoError(t, err)
	_, err = Default.Coerce("not-an-email", email)
	assert.EqualError(t, err, "must be a valid email")

	_, err = Default.Coerce("0b5a9c3e-2f4d-4d6f-9a59-0f2e7c1b8a11", id)
	assert.NoError(t, err)
	_, err = Default.Coerce("1234", id)
	assert.Error(t, err)
}

func TestCoerce_Enum(t *testing.T) {
	s := &Schema{Type: String, Enum: []any{"asc", "desc"}}

	_, err := Default.Coerce("asc", s)
	assert.NoError(t, err)
	_, err = Default.Coerce("sideways", s)
	assert.Error(t, err)
}

func TestSerialize_NeverCoercesPrimitives(t *testing.T) {
	_, err := Default.Serialize(42, &Schema{Type: String}, false)
	require.Error(t, err)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "must be string")
}

func TestSerialize_Structs(t *testing.T) {
	r := NewRegistry()
	s := r.MustNormalize("{name: string, age?: integer}")

	type withExtra struct {
		Name   string `json:"name"`
		Age    int    `json:"age"`
		Secret string `json:"secret"`
	}

	out, err := Default.Serialize(withExtra{Name: "vincent", Age: 30, Secret: "x"}, s, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "vincent", "age": float64(30)}, out)

	_, err = Default.Serialize(withExtra{Name: "vincent", Secret: "x"}, s, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret: is not a declared property")
}

func TestSerialize_NestedPath(t *testing.T) {
	r := NewRegistry()
	s := r.MustNormalize("{items: [{id: integer}]}")

	_, err := Default.Serialize(map[string]any{"items": []any{map[string]any{"id": "one"}}}, s, false)
	require.Error(t, err)
	assert.Equal(t, "items[0].id: must be integer, got string", err.Error())
}

func TestSerialize_OpenObjectKeepsProperties(t *testing.T) {
	out, err := Default.Serialize(map[string]int{"a": 1}, &Schema{Type: Object}, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, out)
}
