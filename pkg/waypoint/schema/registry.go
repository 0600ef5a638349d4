package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Registry holds the schemas registered for model types and resolves
// type expressions into canonical schema nodes.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*Schema
	byName map[string]*Schema
}

// NewRegistry creates an empty schema registry
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*Schema),
		byName: make(map[string]*Schema),
	}
}

// Register associates a schema expression with a model type so later
// expressions can reference it by value, reflect.Type or type name.
func (r *Registry) Register(model any, expr any) (*Schema, error) {
	t := modelType(model)
	if t == nil {
		return nil, fmt.Errorf("schema: cannot register nil model")
	}
	s, err := r.Normalize(expr)
	if err != nil {
		return nil, fmt.Errorf("schema: register %s: %w", t.Name(), err)
	}
	s.Ref = t.Name()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[t] = s
	r.byName[t.Name()] = s
	return s.Clone(), nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(model any, expr any) *Schema {
	s, err := r.Register(model, expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Lookup returns the schema registered for a model.
func (r *Registry) Lookup(model any) (*Schema, bool) {
	t := modelType(model)
	if t == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byType[t]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Normalize converts a type expression into a canonical schema.
//
// Accepted expressions: shorthand strings ("string", "number?", "[string]",
// "{name: string, age?: integer}" or a registered model name), object
// literals (map[string]any, keys may end in "?"), single-item array
// literals ([]any), *Schema values, and registered model values or types.
func (r *Registry) Normalize(expr any) (*Schema, error) {
	switch v := expr.(type) {
	case nil:
		return nil, fmt.Errorf("schema: missing type expression")
	case *Schema:
		if v == nil {
			return nil, fmt.Errorf("schema: missing type expression")
		}
		return v.Clone(), nil
	case Schema:
		return v.Clone(), nil
	case Type:
		return r.fromName(string(v), false)
	case string:
		return r.fromShorthand(v)
	case map[string]any:
		return r.fromObject(v)
	case map[string]string:
		obj := make(map[string]any, len(v))
		for k, e := range v {
			obj[k] = e
		}
		return r.fromObject(obj)
	case []any:
		return r.fromArray(v)
	case []string:
		items := make([]any, len(v))
		for i, e := range v {
			items[i] = e
		}
		return r.fromArray(items)
	}

	t := modelType(expr)
	r.mu.RLock()
	s, ok := r.byType[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("schema: no schema registered for model %s", t)
	}
	return s.Clone(), nil
}

// MustNormalize is like Normalize but panics on error.
func (r *Registry) MustNormalize(expr any) *Schema {
	s, err := r.Normalize(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (r *Registry) fromShorthand(input string) (*Schema, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("schema: empty type expression")
	}
	node, err := parseShorthand(input)
	if err != nil {
		return nil, fmt.Errorf("schema: invalid expression %q: %w", input, err)
	}
	return r.fromExpr(node)
}

func (r *Registry) fromExpr(node *typeExpr) (*Schema, error) {
	var (
		s   *Schema
		err error
	)
	switch {
	case node.Object != nil:
		props := make(map[string]*Schema, len(node.Object.Fields))
		var optional []string
		for _, f := range node.Object.Fields {
			if _, dup := props[f.Name]; dup {
				return nil, fmt.Errorf("schema: duplicate property %q", f.Name)
			}
			prop, err := r.fromExpr(f.Type)
			if err != nil {
				return nil, fmt.Errorf("schema: property %q: %w", f.Name, err)
			}
			if f.Optional || prop.Optional {
				optional = append(optional, f.Name)
			}
			prop.Optional = false
			props[f.Name] = prop
		}
		s = NewObject(props, optional...)
	case node.Array != nil:
		if len(node.Array.Items) != 1 {
			return nil, fmt.Errorf("schema: array must declare exactly one item type, got %d", len(node.Array.Items))
		}
		items, err := r.fromExpr(node.Array.Items[0])
		if err != nil {
			return nil, err
		}
		items.Optional = false
		s = NewArray(items)
	default:
		s, err = r.fromName(node.Name, false)
		if err != nil {
			return nil, err
		}
	}
	if node.Optional {
		s.Optional = true
	}
	return s, nil
}

func (r *Registry) fromName(name string, optional bool) (*Schema, error) {
	if strings.HasSuffix(name, "?") {
		name = strings.TrimSuffix(name, "?")
		optional = true
	}
	var s *Schema
	if t, ok := typeAliases[strings.ToLower(name)]; ok {
		s = &Schema{Type: t}
		if t == Object {
			s.Properties = map[string]*Schema{}
		}
		if t == Array {
			s.Items = &Schema{Type: Any}
		}
	} else {
		r.mu.RLock()
		registered, ok := r.byName[name]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("schema: unknown type %q (no schema registered for model %s)", name, name)
		}
		s = registered.Clone()
	}
	s.Optional = optional
	return s, nil
}

func (r *Registry) fromObject(obj map[string]any) (*Schema, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	props := make(map[string]*Schema, len(obj))
	var optional []string
	for _, key := range keys {
		name := strings.TrimSuffix(key, "?")
		if name == "" {
			return nil, fmt.Errorf("schema: empty property name")
		}
		if _, dup := props[name]; dup {
			return nil, fmt.Errorf("schema: duplicate property %q", name)
		}
		prop, err := r.Normalize(obj[key])
		if err != nil {
			return nil, fmt.Errorf("schema: property %q: %w", name, err)
		}
		if name != key || prop.Optional {
			optional = append(optional, name)
		}
		prop.Optional = false
		props[name] = prop
	}
	return NewObject(props, optional...), nil
}

func (r *Registry) fromArray(items []any) (*Schema, error) {
	if len(items) != 1 {
		return nil, fmt.Errorf("schema: array must declare exactly one item type, got %d", len(items))
	}
	item, err := r.Normalize(items[0])
	if err != nil {
		return nil, err
	}
	item.Optional = false
	return NewArray(item), nil
}

// Infer derives a schema from a Go type. Registered models resolve to
// their registered schema; structs without one become open objects.
func (r *Registry) Infer(t reflect.Type) *Schema {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	registered, ok := r.byType[t]
	r.mu.RUnlock()
	if ok {
		return registered.Clone()
	}
	if t.PkgPath() == "time" && t.Name() == "Time" {
		return &Schema{Type: Date}
	}
	switch t.Kind() {
	case reflect.String:
		return &Schema{Type: String}
	case reflect.Bool:
		return &Schema{Type: Boolean}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: Integer}
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: Number}
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return &Schema{Type: File}
		}
		return NewArray(r.Infer(t.Elem()))
	case reflect.Map, reflect.Struct:
		return &Schema{Type: Object, Properties: map[string]*Schema{}}
	default:
		return &Schema{Type: Any}
	}
}

func modelType(model any) reflect.Type {
	if model == nil {
		return nil
	}
	t, ok := model.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(model)
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
