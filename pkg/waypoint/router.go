package waypoint

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	werrors "github.com/toyz/waypoint/internal/errors"
)

// Route is a compiled, matchable action with its precomputed stack.
type Route struct {
	Method     string
	Path       string
	Compiled   *CompiledPath
	Controller *ControllerModule
	Action     *ActionModule
	Handler    HandlerFunc
}

// Router matches requests against compiled routes. Routes are kept sorted
// by descending path string, so for overlapping patterns the
// lexicographically greater path wins ("/items/new" before "/items/:id").
type Router struct {
	mu     sync.RWMutex
	routes []*Route
	app    *App
}

// NewRouter creates an empty router for app.
func NewRouter(app *App) *Router {
	return &Router{app: app}
}

// compileRoutes compiles every action of modules, failing on any
// method and path bound more than once across the whole set.
func compileRoutes(modules []*ControllerModule, stack func(*ActionModule) HandlerFunc) ([]*Route, error) {
	var (
		routes []*Route
		seen   = make(map[string]*ActionModule)
	)
	for _, cm := range modules {
		for _, am := range cm.Actions {
			key := am.Method + " " + am.Path
			if prev, ok := seen[key]; ok {
				return nil, werrors.NewRouteConflictError(am.Method, am.Path, []string{prev.FullName(), am.FullName()})
			}
			seen[key] = am

			compiled, err := Path(am.Path).Compile()
			if err != nil {
				return nil, werrors.NewRegistrationError("route", am.FullName(), err.Error())
			}
			routes = append(routes, &Route{
				Method:     am.Method,
				Path:       am.Path,
				Compiled:   compiled,
				Controller: cm,
				Action:     am,
				Handler:    stack(am),
			})
		}
	}
	sortRoutes(routes)
	return routes, nil
}

func sortRoutes(routes []*Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].Path > routes[j].Path
	})
}

// Replace swaps in a new route set.
func (r *Router) Replace(routes []*Route) {
	sorted := append([]*Route(nil), routes...)
	sortRoutes(sorted)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = sorted
}

// Routes returns a snapshot of the routes in match order.
func (r *Router) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Route(nil), r.routes...)
}

// Match returns the first route whose method and pattern match.
func (r *Router) Match(method, path string) (*Route, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.routes {
		if !strings.EqualFold(route.Method, method) {
			continue
		}
		if params, ok := route.Compiled.Match(path); ok {
			return route, params
		}
	}
	return nil, nil
}

// Middleware dispatches matching requests to their route. Requests that
// match nothing are passed to next; if next leaves a 404 status unwritten
// (or next is nil) a Not Found error is raised.
func (r *Router) Middleware() MiddlewareFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx RequestContext) error {
			route, params := r.Match(ctx.Method(), ctx.Path())
			if route == nil {
				if next == nil {
					return ErrNotFound("Not Found")
				}
				if err := next(ctx); err != nil {
					return err
				}
				res := ctx.Response()
				if !res.Written() && res.Status() == http.StatusNotFound {
					return ErrNotFound("Not Found")
				}
				return nil
			}

			ctx.Set(moduleContextKey, &ModuleContext{App: r.app, Controller: route.Controller, Action: route.Action})
			ctx.Set(pathParamsKey, params)
			return route.Handler(ctx)
		}
	}
}
