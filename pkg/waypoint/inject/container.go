// Package inject resolves controller instances and their dependencies
// from registered constructors.
package inject

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Scope decides how long a resolved instance lives.
type Scope int

const (
	// Singleton instances are built once per container.
	Singleton Scope = iota
	// Transient instances are built on every resolution.
	Transient
	// Request instances are built once per RequestScope.
	Request
)

func (s Scope) String() string {
	switch s {
	case Transient:
		return "TRANSIENT"
	case Request:
		return "REQUEST"
	default:
		return "SINGLETON"
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type provider struct {
	ctor     reflect.Value
	out      reflect.Type
	scope    Scope
	once     sync.Once
	instance reflect.Value
	err      error
}

// Container holds constructors keyed by the type they produce.
type Container struct {
	mu        sync.RWMutex
	providers map[reflect.Type]*provider
}

// New creates an empty container
func New() *Container {
	return &Container{providers: make(map[reflect.Type]*provider)}
}

// Provide registers a constructor. ctor is either a function returning
// T or (T, error), whose parameters are resolved from the container, or
// a non-function value registered as a ready singleton.
func (c *Container) Provide(ctor any, scope Scope) error {
	if ctor == nil {
		return fmt.Errorf("inject: nil constructor")
	}
	v := reflect.ValueOf(ctor)
	p := &provider{ctor: v, scope: scope}

	if v.Kind() != reflect.Func {
		p.out = v.Type()
		p.scope = Singleton
		p.once.Do(func() { p.instance = v })
	} else {
		t := v.Type()
		switch {
		case t.NumOut() == 1 && t.Out(0) != errorType:
		case t.NumOut() == 2 && t.Out(1) == errorType:
		default:
			return fmt.Errorf("inject: constructor %s must return T or (T, error)", t)
		}
		if t.IsVariadic() {
			return fmt.Errorf("inject: constructor %s must not be variadic", t)
		}
		p.out = t.Out(0)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.providers[p.out]; exists {
		return fmt.Errorf("inject: %s is already provided", p.out)
	}
	c.providers[p.out] = p
	return nil
}

// Has reports whether t has a provider.
func (c *Container) Has(t reflect.Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.providers[t]
	return ok
}

// RequestScope caches request-scoped instances.
type RequestScope struct {
	mu        sync.Mutex
	instances map[reflect.Type]reflect.Value
}

// NewScope starts a request scope.
func (c *Container) NewScope() *RequestScope {
	return &RequestScope{instances: make(map[reflect.Type]reflect.Value)}
}

// Resolve returns an instance of t. Request-scoped providers need a
// non-nil scope.
func (c *Container) Resolve(t reflect.Type, scope *RequestScope) (reflect.Value, error) {
	return c.resolve(t, scope, nil)
}

func (c *Container) resolve(t reflect.Type, scope *RequestScope, stack []reflect.Type) (reflect.Value, error) {
	for _, seen := range stack {
		if seen == t {
			return reflect.Value{}, fmt.Errorf("inject: dependency cycle: %s", cyclePath(append(stack, t)))
		}
	}

	c.mu.RLock()
	p, ok := c.providers[t]
	c.mu.RUnlock()
	if !ok {
		return reflect.Value{}, fmt.Errorf("inject: no provider for %s", t)
	}
	stack = append(stack, t)

	switch p.scope {
	case Singleton:
		p.once.Do(func() {
			p.instance, p.err = c.invoke(p, scope, stack)
		})
		return p.instance, p.err
	case Request:
		if scope == nil {
			return reflect.Value{}, fmt.Errorf("inject: %s is request scoped and needs a request scope", t)
		}
		scope.mu.Lock()
		v, cached := scope.instances[t]
		scope.mu.Unlock()
		if cached {
			return v, nil
		}
		v, err := c.invoke(p, scope, stack)
		if err != nil {
			return reflect.Value{}, err
		}
		scope.mu.Lock()
		scope.instances[t] = v
		scope.mu.Unlock()
		return v, nil
	default:
		return c.invoke(p, scope, stack)
	}
}

func (c *Container) invoke(p *provider, scope *RequestScope, stack []reflect.Type) (reflect.Value, error) {
	t := p.ctor.Type()
	args := make([]reflect.Value, t.NumIn())
	for i := range args {
		dep, err := c.resolve(t.In(i), scope, stack)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("inject: resolve %s for %s: %w", t.In(i), p.out, err)
		}
		args[i] = dep
	}
	out := p.ctor.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return reflect.Value{}, fmt.Errorf("inject: construct %s: %w", p.out, out[1].Interface().(error))
	}
	return out[0], nil
}

func cyclePath(stack []reflect.Type) string {
	names := make([]string, len(stack))
	for i, t := range stack {
		names[i] = t.String()
	}
	return strings.Join(names, " -> ")
}

// Resolve is the typed form of Container.Resolve.
func Resolve[T any](c *Container, scope *RequestScope) (T, error) {
	var zero T
	v, err := c.Resolve(reflect.TypeOf((*T)(nil)).Elem(), scope)
	if err != nil {
		return zero, err
	}
	return v.Interface().(T), nil
}
