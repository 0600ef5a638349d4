package waypoint

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"sync"

	"go.uber.org/zap"

	werrors "github.com/toyz/waypoint/internal/errors"
	"github.com/toyz/waypoint/pkg/waypoint/inject"
	"github.com/toyz/waypoint/pkg/waypoint/schema"
)

// ErrorKind classifies errors reported to error listeners.
type ErrorKind string

const (
	// ErrorKindContract marks a handler result that broke its response schema.
	ErrorKindContract ErrorKind = "contract"
	// ErrorKindUncaught marks any untyped error or panic.
	ErrorKindUncaught ErrorKind = "uncaught"
)

// ErrorEvent is emitted for every error translated to a 500 response.
type ErrorEvent struct {
	Kind   ErrorKind
	Err    error
	Method string
	Path   string
}

// ErrorListener observes server-side errors.
type ErrorListener func(ErrorEvent)

// App owns the metadata store, the registered controllers and the router.
type App struct {
	logger     *zap.Logger
	store      *MetadataStore
	schemas    *schema.Registry
	validator  Validator
	bodies     BodyParser
	container  *inject.Container
	middleware *MiddlewareRegistry
	router     *Router

	prefix  string
	convert bool
	proxies []*net.IPNet

	mu          sync.Mutex
	pipeline    []MiddlewareFunc
	appPacks    []MiddlewarePack
	appGuards   []GuardGroup
	controllers []Controller
	modules     []*ControllerModule
	listeners   []ErrorListener
	built       bool
}

// Option configures an App
type Option func(*App)

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithGlobalPrefix prefixes every controller path.
func WithGlobalPrefix(prefix string) Option {
	return func(a *App) { a.prefix = prefix }
}

// WithSchemaRegistry shares a schema registry with the App.
func WithSchemaRegistry(r *schema.Registry) Option {
	return func(a *App) { a.schemas = r }
}

// WithValidator replaces the validation collaborator.
func WithValidator(v Validator) Option {
	return func(a *App) { a.validator = v }
}

// WithBodyParser replaces the body parsing collaborator.
func WithBodyParser(p BodyParser) Option {
	return func(a *App) { a.bodies = p }
}

// WithContainer shares a dependency container with the App.
func WithContainer(c *inject.Container) Option {
	return func(a *App) { a.container = c }
}

// WithResponseConversion toggles schema-based response serialization.
func WithResponseConversion(enabled bool) Option {
	return func(a *App) { a.convert = enabled }
}

// New creates an App
func New(opts ...Option) *App {
	a := &App{
		logger:     zap.NewNop(),
		store:      NewMetadataStore(),
		schemas:    schema.NewRegistry(),
		validator:  schema.Default,
		bodies:     &DefaultBodyParser{},
		container:  inject.New(),
		middleware: NewMiddlewareRegistry(),
		convert:    true,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = NewRouter(a)
	return a
}

// Logger returns the app logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Schemas returns the schema registry used to resolve type expressions.
func (a *App) Schemas() *schema.Registry { return a.schemas }

// Store returns the metadata store holding controller declarations.
func (a *App) Store() *MetadataStore { return a.store }

// Container returns the dependency container.
func (a *App) Container() *inject.Container { return a.container }

// Router returns the router.
func (a *App) Router() *Router { return a.router }

// Use adds middleware to the hosting pipeline. It runs for every request
// ahead of routing, inside the error boundary.
func (a *App) Use(middlewares ...MiddlewareFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pipeline = append(a.pipeline, middlewares...)
}

// Mount declares app-level middleware merged into every action.
func (a *App) Mount(pack MiddlewarePack) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pack.Mount == MountOverride {
		a.appPacks = nil
	}
	a.appPacks = append(a.appPacks, pack)
}

// Guard declares an app-level guard group.
func (a *App) Guard(group GuardGroup) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appGuards = append(a.appGuards, group)
}

// RegisterMiddleware names a middleware for UseNamed declarations.
func (a *App) RegisterMiddleware(name string, mw MiddlewareFunc) error {
	if err := a.middleware.Register(name, mw); err != nil {
		return werrors.NewRegistrationError("middleware", name, err.Error())
	}
	return nil
}

// OnError adds a listener for contract violations and uncaught errors.
func (a *App) OnError(listener ErrorListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, listener)
}

// Provide registers a constructor with the dependency container.
func (a *App) Provide(ctor any, scope inject.Scope) error {
	if err := a.container.Provide(ctor, scope); err != nil {
		return werrors.WrapDependencyError(fmt.Sprintf("%T", ctor), "provider", err)
	}
	return nil
}

// Register runs the declarations of each controller and queues it for Build.
func (a *App) Register(controllers ...Controller) error {
	for _, c := range controllers {
		if c == nil || reflect.ValueOf(c).Kind() == reflect.Ptr && reflect.ValueOf(c).IsNil() {
			return werrors.NewRegistrationError("controller", "<nil>", "controller is nil")
		}
		t := reflect.TypeOf(c)
		if a.store.markDeclared(t) {
			c.Declare(&Declaration{store: a.store, subject: t})
		}
		a.mu.Lock()
		a.controllers = append(a.controllers, c)
		a.built = false
		a.mu.Unlock()
	}
	return nil
}

// RegisterType resolves controllers from the container and registers them.
// Each argument is a value of the controller type, typically a nil pointer:
//
//	app.RegisterType((*PeopleController)(nil))
func (a *App) RegisterType(types ...any) error {
	for _, model := range types {
		t := reflect.TypeOf(model)
		if t == nil {
			return werrors.NewRegistrationError("controller", "<nil>", "controller type is nil")
		}
		v, err := a.container.Resolve(t, nil)
		if err != nil {
			return werrors.WrapDependencyError(t.String(), typeName(t), err)
		}
		c, ok := v.Interface().(Controller)
		if !ok {
			return werrors.NewRegistrationError("controller", t.String(), "type does not implement waypoint.Controller")
		}
		if err := a.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Build turns the registered controllers into routes. It fails on
// colliding routes, unknown middleware, unresolvable schemas and handler
// signatures that do not fit their declarations. Calling Build again
// after registering more controllers rebuilds every route.
func (a *App) Build() error {
	a.mu.Lock()
	controllers := append([]Controller(nil), a.controllers...)
	builder := &ModuleBuilder{
		store:      a.store,
		schemas:    a.schemas,
		named:      a.middleware,
		prefix:     a.prefix,
		middleware: append([]MiddlewarePack(nil), a.appPacks...),
		guards:     append([]GuardGroup(nil), a.appGuards...),
		logger:     a.logger,
	}
	a.mu.Unlock()

	modules := make([]*ControllerModule, 0, len(controllers))
	for _, c := range controllers {
		cm, err := builder.Build(c)
		if err != nil {
			return err
		}
		modules = append(modules, cm)
	}

	routes, err := compileRoutes(modules, a.stack)
	if err != nil {
		return err
	}
	a.router.Replace(routes)

	a.mu.Lock()
	a.modules = modules
	a.built = true
	a.mu.Unlock()

	for _, r := range a.router.Routes() {
		a.logger.Info("mapped route",
			zap.String("method", r.Method),
			zap.String("path", r.Path),
			zap.String("handler", r.Action.FullName()))
	}
	return nil
}

// MustBuild is like Build but panics on error.
func (a *App) MustBuild() {
	if err := a.Build(); err != nil {
		panic(err)
	}
}

// stack precomputes an action's execution chain: middleware from the app
// inward, then guards, then the executor.
func (a *App) stack(am *ActionModule) HandlerFunc {
	middlewares := packMiddleware(am.Middleware)
	for _, g := range am.EffectiveGuards() {
		middlewares = append(middlewares, GuardMiddleware(g))
	}
	exec := NewExecutor(am, a.validator, a.bodies, a.convert)
	return Chain(exec.Handle, middlewares...)
}

// Built reports whether Build has run since the last Register.
func (a *App) Built() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.built
}

// Modules returns the built controller modules.
func (a *App) Modules() []*ControllerModule {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*ControllerModule(nil), a.modules...)
}

// Routes describes the built routes in match order.
func (a *App) Routes() []RouteInfo {
	routes := a.router.Routes()
	infos := make([]RouteInfo, 0, len(routes))
	for _, r := range routes {
		infos = append(infos, routeInfo(r.Action, r.Compiled))
	}
	return infos
}

// Middleware returns the app as middleware for a hosting pipeline: the
// error boundary, then pipeline middleware added with Use, then the
// router. Requests the router does not match continue to next.
func (a *App) Middleware() MiddlewareFunc {
	a.mu.Lock()
	pipeline := append([]MiddlewareFunc{a.errorBoundary}, a.pipeline...)
	a.mu.Unlock()
	pipeline = append(pipeline, a.router.Middleware())

	return func(next HandlerFunc) HandlerFunc {
		return Chain(next, pipeline...)
	}
}

// Handler returns the app as a terminal handler. Unmatched requests
// produce a Not Found error response.
func (a *App) Handler() HandlerFunc {
	return a.Middleware()(nil)
}

// errorBoundary translates errors into responses: *HttpError to its
// wire shape, everything else to a generic 500.
func (a *App) errorBoundary(next HandlerFunc) HandlerFunc {
	return func(ctx RequestContext) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = a.handleError(ctx, fmt.Errorf("panic: %v", rec))
			}
		}()
		if err := next(ctx); err != nil {
			return a.handleError(ctx, err)
		}
		return nil
	}
}

var internalServerErrorBody = map[string]any{
	"code":    http.StatusInternalServerError,
	"message": http.StatusText(http.StatusInternalServerError),
}

func (a *App) handleError(ctx RequestContext, err error) error {
	var (
		contract *ResponseContractError
		httpErr  *HttpError
	)
	res := ctx.Response()

	switch {
	case errors.As(err, &contract):
		a.logger.Error("response contract violation",
			zap.String("method", ctx.Method()),
			zap.String("path", ctx.Path()),
			zap.String("action", contract.Controller+"."+contract.Action),
			zap.Int("status", contract.Status),
			zap.String("schema", contract.Expected),
			zap.Any("value", contract.Actual),
			zap.Error(contract.Cause))
		a.emit(ErrorEvent{Kind: ErrorKindContract, Err: err, Method: ctx.Method(), Path: ctx.Path()})
	case errors.As(err, &httpErr):
		if httpErr.StatusCode >= http.StatusInternalServerError {
			a.logger.Error("request failed",
				zap.String("method", ctx.Method()),
				zap.String("path", ctx.Path()),
				zap.Int("status", httpErr.StatusCode),
				zap.Error(err))
		}
		if res.Written() {
			return nil
		}
		for k, v := range httpErr.Headers {
			res.SetHeader(k, v)
		}
		return res.JSON(httpErr.StatusCode, httpErr.Body())
	default:
		a.logger.Error("unhandled error",
			zap.String("method", ctx.Method()),
			zap.String("path", ctx.Path()),
			zap.Error(err))
		a.emit(ErrorEvent{Kind: ErrorKindUncaught, Err: err, Method: ctx.Method(), Path: ctx.Path()})
	}

	if res.Written() {
		return nil
	}
	return res.JSON(http.StatusInternalServerError, internalServerErrorBody)
}

func (a *App) emit(event ErrorEvent) {
	a.mu.Lock()
	listeners := append([]ErrorListener(nil), a.listeners...)
	a.mu.Unlock()
	for _, l := range listeners {
		l(event)
	}
}
