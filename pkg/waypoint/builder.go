package waypoint

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"go.uber.org/zap"

	werrors "github.com/toyz/waypoint/internal/errors"
	"github.com/toyz/waypoint/pkg/waypoint/schema"
)

var (
	contextType        = reflect.TypeOf((*context.Context)(nil)).Elem()
	requestContextType = reflect.TypeOf((*RequestContext)(nil)).Elem()
	errorType          = reflect.TypeOf((*error)(nil)).Elem()
)

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// ControllerModule binds a controller instance to its resolved path,
// actions and declared middleware and guards.
type ControllerModule struct {
	Descriptor ControllerDescriptor
	Name       string
	Path       string
	Instance   any
	Actions    []*ActionModule
	Middleware []MiddlewarePack
	Guards     []GuardGroup
}

// ActionModule binds one handler method to its full path, parameters,
// responses and effective middleware and guards.
type ActionModule struct {
	Controller *ControllerModule
	Descriptor ActionDescriptor
	Name       string
	Method     string
	Path       string
	Params     []*BoundParam
	Responses  map[int]*BoundResponse
	Middleware []MiddlewarePack
	Guards     []GuardGroup

	handler    reflect.Value
	results    resultShape
	guardIndex []Guard
}

// BoundParam is a ParamDescriptor resolved against the handler signature.
type BoundParam struct {
	ParamDescriptor
	Schema   *schema.Schema
	GoType   reflect.Type
	implicit implicitKind
}

type implicitKind int

const (
	implicitNone implicitKind = iota
	implicitContext
	implicitRequestContext
)

// BoundResponse is a ResponseDescriptor with its schema resolved.
type BoundResponse struct {
	ResponseDescriptor
	Schema *schema.Schema
}

type resultShape int

const (
	resultNone resultShape = iota
	resultError
	resultValue
	resultValueError
)

// FullName is "Controller.Handler".
func (a *ActionModule) FullName() string {
	return a.Controller.Name + "." + a.Name
}

// EffectiveGuards lists the guards enforced on this action in order.
func (a *ActionModule) EffectiveGuards() []Guard {
	return append([]Guard(nil), a.guardIndex...)
}

// Expects reports whether g is part of this action's effective guards.
func (a *ActionModule) Expects(g Guard) bool {
	for _, candidate := range a.guardIndex {
		if candidate == g {
			return true
		}
	}
	return false
}

// ModuleBuilder turns declared controllers into modules.
type ModuleBuilder struct {
	store      *MetadataStore
	schemas    *schema.Registry
	named      *MiddlewareRegistry
	prefix     string
	middleware []MiddlewarePack
	guards     []GuardGroup
	logger     *zap.Logger
}

// Build produces the ControllerModule for a declared controller instance.
func (b *ModuleBuilder) Build(instance any) (*ControllerModule, error) {
	t := reflect.TypeOf(instance)
	desc, ok := b.store.Controller(t)
	name := desc.Name
	if name == "" {
		name = typeName(t)
	}
	if !ok {
		return nil, werrors.NewRegistrationError("controller", name, "no controller declaration").
			WithSuggestion("call d.Controller(path) from Declare")
	}

	cm := &ControllerModule{
		Descriptor: desc,
		Name:       name,
		Path:       JoinPaths(b.prefix, desc.Version, desc.Path),
		Instance:   instance,
		Middleware: b.store.Middleware(t, ""),
		Guards:     b.store.Guards(t, ""),
	}

	v := reflect.ValueOf(instance)
	for _, member := range b.store.Members(t) {
		method, ok := t.MethodByName(member)
		if !ok {
			a, _ := b.store.Action(t, member)
			return nil, werrors.NewRegistrationError("action", name+"."+member, "controller has no exported method with that name").
				WithLocation(a.loc)
		}
		am, err := b.buildAction(cm, t, v.Method(method.Index), member)
		if err != nil {
			return nil, err
		}
		cm.Actions = append(cm.Actions, am)
		b.logger.Debug("built action",
			zap.String("controller", cm.Name),
			zap.String("action", member),
			zap.String("method", am.Method),
			zap.String("path", am.Path))
	}

	if err := checkCollisions(cm.Actions); err != nil {
		return nil, err
	}
	return cm, nil
}

func (b *ModuleBuilder) buildAction(cm *ControllerModule, t reflect.Type, fn reflect.Value, member string) (*ActionModule, error) {
	desc, _ := b.store.Action(t, member)
	fullName := cm.Name + "." + member

	if desc.Method == "" {
		desc.Method = defaultMethod(member)
	}
	if desc.Path == "" {
		desc.Path = defaultPath(member)
	}
	method := strings.ToUpper(desc.Method)
	if !allowedMethods[method] {
		return nil, werrors.NewRegistrationError("action", fullName, fmt.Sprintf("unsupported HTTP method %q", desc.Method)).
			WithLocation(desc.loc)
	}

	am := &ActionModule{
		Controller: cm,
		Descriptor: desc,
		Name:       member,
		Method:     method,
		Path:       JoinPaths(cm.Path, desc.Path),
		Responses:  make(map[int]*BoundResponse),
		handler:    fn,
	}
	if _, err := Path(am.Path).Compile(); err != nil {
		return nil, werrors.NewRegistrationError("action", fullName, err.Error()).WithLocation(desc.loc)
	}

	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, werrors.NewBindingError(fullName, "variadic handlers are not supported").WithLocation(desc.loc)
	}
	shape, err := resultShapeOf(ft)
	if err != nil {
		return nil, werrors.NewBindingError(fullName, err.Error()).WithLocation(desc.loc)
	}
	am.results = shape

	params := b.store.Params(t, member)
	for index := range params {
		if index < 0 || index >= ft.NumIn() {
			return nil, werrors.NewBindingError(fullName,
				fmt.Sprintf("parameter %d is declared but the handler takes %d", index, ft.NumIn())).WithLocation(desc.loc)
		}
	}
	for i := 0; i < ft.NumIn(); i++ {
		bp, err := b.bindParam(fullName, params, i, ft.In(i))
		if err != nil {
			if be, ok := err.(*werrors.BindingError); ok {
				be.WithLocation(desc.loc)
			}
			if se, ok := err.(*werrors.SchemaError); ok {
				se.WithLocation(desc.loc)
			}
			return nil, err
		}
		am.Params = append(am.Params, bp)
	}

	for status, rd := range b.store.Responses(t, member) {
		br := &BoundResponse{ResponseDescriptor: rd}
		if rd.Type != nil {
			s, err := b.schemas.Normalize(rd.Type)
			if err != nil {
				return nil, werrors.NewSchemaError(fmt.Sprintf("%s response %d", fullName, status), err).WithLocation(desc.loc)
			}
			br.Schema = s
		}
		if br.Schema.IsBinary() && br.Mime == "" {
			br.Mime = "application/octet-stream"
		}
		am.Responses[status] = br
	}

	packs, err := b.resolveNamed(fullName, mergeMiddleware(b.middleware, cm.Middleware, b.store.Middleware(t, member)))
	if err != nil {
		return nil, err
	}
	am.Middleware = packs

	am.Guards = mergeGuards(b.guards, cm.Guards, b.store.Guards(t, member))
	am.guardIndex = flattenGuards(am.Guards)
	for _, g := range am.guardIndex {
		if err := checkComparable(g); err != nil {
			return nil, werrors.NewRegistrationError("guard", fullName, err.Error()).WithLocation(desc.loc)
		}
	}
	return am, nil
}

func (b *ModuleBuilder) bindParam(fullName string, params map[int]ParamDescriptor, index int, goType reflect.Type) (*BoundParam, error) {
	d, declared := params[index]
	if !declared {
		switch {
		case goType == contextType:
			return &BoundParam{ParamDescriptor: ParamDescriptor{Index: index, Name: "ctx", Source: SourceContext}, GoType: goType, implicit: implicitContext}, nil
		case goType == requestContextType:
			return &BoundParam{ParamDescriptor: ParamDescriptor{Index: index, Name: "ctx", Source: SourceContext, Root: true}, GoType: goType, implicit: implicitRequestContext}, nil
		}
		return nil, werrors.NewBindingError(fullName,
			fmt.Sprintf("parameter %d (%s) has no declaration", index, goType))
	}

	if d.Name == "" && !d.Root {
		d.Name = fmt.Sprintf("arg%d", index)
	}
	bp := &BoundParam{ParamDescriptor: d, GoType: goType}

	switch {
	case d.Type != nil:
		s, err := b.schemas.Normalize(d.Type)
		if err != nil {
			return nil, werrors.NewSchemaError(fmt.Sprintf("%s parameter %q", fullName, d.Name), err)
		}
		bp.Schema = s
	case !d.Root && d.Source != SourceContext && d.Source != SourceRequest:
		bp.Schema = b.inferSchema(goType)
		bp.Schema.Optional = goType.Kind() == reflect.Ptr
	}

	if !d.requiredSet {
		bp.Required = d.Default == nil && !d.Root && bp.Schema != nil && !bp.Schema.Optional &&
			d.Source != SourceContext && d.Source != SourceSession && d.Source != SourceRequest
	}
	return bp, nil
}

func (b *ModuleBuilder) inferSchema(t reflect.Type) *schema.Schema {
	if isFileType(t) {
		return &schema.Schema{Type: schema.File}
	}
	if t.Kind() == reflect.Slice && isFileType(t.Elem()) {
		return schema.NewArray(&schema.Schema{Type: schema.File})
	}
	return b.schemas.Infer(t)
}

// resolveNamed replaces middleware names with the registered handlers.
func (b *ModuleBuilder) resolveNamed(fullName string, packs []MiddlewarePack) ([]MiddlewarePack, error) {
	out := make([]MiddlewarePack, 0, len(packs))
	for _, pack := range packs {
		if len(pack.Names) == 0 {
			out = append(out, pack)
			continue
		}
		resolved := pack
		resolved.Middlewares = append([]MiddlewareFunc(nil), pack.Middlewares...)
		for _, name := range pack.Names {
			m, ok := b.named.Get(name)
			if !ok {
				return nil, werrors.NewRegistrationError("middleware", name, "not registered").
					WithSuggestion(fmt.Sprintf("register it with App.RegisterMiddleware before building %s", fullName))
			}
			resolved.Middlewares = append(resolved.Middlewares, m.Handler)
		}
		out = append(out, resolved)
	}
	return out, nil
}

func resultShapeOf(ft reflect.Type) (resultShape, error) {
	switch ft.NumOut() {
	case 0:
		return resultNone, nil
	case 1:
		if ft.Out(0) == errorType {
			return resultError, nil
		}
		return resultValue, nil
	case 2:
		if ft.Out(1) != errorType {
			return 0, fmt.Errorf("second result must be error, got %s", ft.Out(1))
		}
		return resultValueError, nil
	}
	return 0, fmt.Errorf("handlers return at most (value, error), got %d results", ft.NumOut())
}

// checkCollisions fails when two actions bind the same method and path.
func checkCollisions(actions []*ActionModule) error {
	groups := make(map[string][]string)
	var order []string
	for _, a := range actions {
		key := a.Method + " " + a.Path
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], a.FullName())
	}
	for _, key := range order {
		if handlers := groups[key]; len(handlers) > 1 {
			method, path, _ := strings.Cut(key, " ")
			return werrors.NewRouteConflictError(method, path, handlers)
		}
	}
	return nil
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// routeInfo describes am for introspection.
func routeInfo(am *ActionModule, compiled *CompiledPath) RouteInfo {
	info := RouteInfo{
		Method:         am.Method,
		Path:           am.Path,
		ControllerName: am.Controller.Name,
		HandlerName:    am.Name,
		Deprecated:     am.Descriptor.Deprecated,
	}
	if compiled != nil {
		info.Pattern = compiled.Pattern.String()
		info.Params = append([]string(nil), compiled.ParamNames...)
	}
	for _, pack := range am.Middleware {
		info.Middlewares = append(info.Middlewares, pack.Names...)
	}
	for _, g := range am.Guards {
		if len(g.Guards) > 0 {
			info.Guards = append(info.Guards, g.Type)
		}
	}
	return info
}
