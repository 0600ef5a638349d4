// Package schema normalizes compact type shorthand into canonical schema
// nodes and validates, coerces and serializes values against them.
package schema

import (
	"encoding/json"
	"sort"
)

// Type is the declared type of a schema node.
type Type string

const (
	String  Type = "string"
	Number  Type = "number"
	Integer Type = "integer"
	Boolean Type = "boolean"
	Object  Type = "object"
	Array   Type = "array"
	Any     Type = "any"
	Date    Type = "date"
	File    Type = "file"
	Stream  Type = "stream"
)

// typeAliases maps accepted primitive spellings to their canonical type.
var typeAliases = map[string]Type{
	"string":  String,
	"str":     String,
	"number":  Number,
	"float":   Number,
	"float32": Number,
	"float64": Number,
	"double":  Number,
	"integer": Integer,
	"int":     Integer,
	"int32":   Integer,
	"int64":   Integer,
	"boolean": Boolean,
	"bool":    Boolean,
	"object":  Object,
	"map":     Object,
	"array":   Array,
	"any":     Any,
	"date":    Date,
	"time":    Date,
	"file":    File,
	"binary":  File,
	"buffer":  File,
	"stream":  Stream,
}

// Schema is the canonical schema node.
type Schema struct {
	Type        Type               `json:"type"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Format      string             `json:"format,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
	Default     any                `json:"default,omitempty"`
	Description string             `json:"description,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
	Ref         string             `json:"$ref,omitempty"`

	// Optional is set when the expression carried a trailing "?".
	Optional bool `json:"-"`
}

// IsBinary reports whether values of this schema are written as raw bytes.
func (s *Schema) IsBinary() bool {
	return s != nil && (s.Type == File || s.Type == Stream)
}

// IsRequired reports whether the named property is listed as required.
func (s *Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	c := *s
	if s.Properties != nil {
		c.Properties = make(map[string]*Schema, len(s.Properties))
		for k, v := range s.Properties {
			c.Properties[k] = v.Clone()
		}
	}
	c.Items = s.Items.Clone()
	if s.Required != nil {
		c.Required = append([]string(nil), s.Required...)
	}
	if s.Enum != nil {
		c.Enum = append([]any(nil), s.Enum...)
	}
	return &c
}

// String renders the schema as compact JSON.
func (s *Schema) String() string {
	if s == nil {
		return "null"
	}
	b, err := json.Marshal(s)
	if err != nil {
		return string(s.Type)
	}
	return string(b)
}

// NewObject builds an object schema from properties, marking every
// property not listed in optional as required.
func NewObject(props map[string]*Schema, optional ...string) *Schema {
	skip := make(map[string]bool, len(optional))
	for _, name := range optional {
		skip[name] = true
	}
	s := &Schema{Type: Object, Properties: props, Required: []string{}}
	for name, prop := range props {
		if !skip[name] && !prop.Optional {
			s.Required = append(s.Required, name)
		}
	}
	sort.Strings(s.Required)
	return s
}

// NewArray builds an array schema of the given item schema.
func NewArray(items *Schema) *Schema {
	return &Schema{Type: Array, Items: items}
}
