package waypoint

import (
	"fmt"
	"sort"
	"sync"
)

// MiddlewareInstance is a named middleware registered with an App
type MiddlewareInstance struct {
	// Name is the name declarations refer to via UseNamed
	Name string

	// Handler is the middleware function applied to routes
	Handler MiddlewareFunc
}

// MiddlewareRegistry resolves middleware by name
type MiddlewareRegistry struct {
	mu          sync.RWMutex
	middlewares map[string]MiddlewareInstance
}

// NewMiddlewareRegistry creates an empty middleware registry
func NewMiddlewareRegistry() *MiddlewareRegistry {
	return &MiddlewareRegistry{
		middlewares: make(map[string]MiddlewareInstance),
	}
}

// Register adds a named middleware. Registering a name twice is an error.
func (r *MiddlewareRegistry) Register(name string, handler MiddlewareFunc) error {
	if name == "" {
		return fmt.Errorf("middleware name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("middleware %q has no handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.middlewares[name]; exists {
		return fmt.Errorf("middleware %q is already registered", name)
	}
	r.middlewares[name] = MiddlewareInstance{Name: name, Handler: handler}
	return nil
}

// Get retrieves a middleware by name
func (r *MiddlewareRegistry) Get(name string) (MiddlewareInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.middlewares[name]
	return m, ok
}

// Names returns the registered names, sorted
func (r *MiddlewareRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.middlewares))
	for name := range r.middlewares {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RouteInfo contains metadata about a registered route
type RouteInfo struct {
	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string

	// Path is the full route path with parameter placeholders (e.g., "/api/v1/users/:id")
	Path string

	// Pattern is the compiled regular expression the path matches against
	Pattern string

	// ControllerName is the name of the controller that owns this route
	ControllerName string

	// HandlerName is the name of the handler method
	HandlerName string

	// Middlewares lists the named middleware applied to this route
	Middlewares []string

	// Guards lists the guard types enforced on this route, in order
	Guards []string

	// Params lists the path parameter names in order
	Params []string

	Deprecated bool
}
