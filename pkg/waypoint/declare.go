package waypoint

import (
	"net/http"
	"reflect"
	"runtime"
	"strings"
	"unicode"

	werrors "github.com/toyz/waypoint/internal/errors"
)

// Controller is implemented by types that declare routes.
//
//	func (c *PeopleController) Declare(d *waypoint.Declaration) {
//		d.Controller("/people")
//		d.Action("Greeting").Get("/greeting").Query(0, "name", "string")
//	}
type Controller interface {
	Declare(d *Declaration)
}

// Declaration records a controller's declarations into a metadata store.
type Declaration struct {
	store   *MetadataStore
	subject reflect.Type
}

// Controller declares the controller's path prefix.
func (d *Declaration) Controller(path string) *ControllerBuilder {
	loc := callerLocation()
	d.store.UpdateController(d.subject, func(c *ControllerDescriptor) {
		c.Path = path
		c.loc = loc
	})
	return &ControllerBuilder{d: d}
}

// Action declares a handler method by name.
func (d *Declaration) Action(method string) *ActionBuilder {
	loc := callerLocation()
	d.store.UpdateAction(d.subject, method, func(a *ActionDescriptor) {
		if a.loc.IsEmpty() {
			a.loc = loc
		}
	})
	return &ActionBuilder{d: d, member: method}
}

func callerLocation() werrors.SourceLocation {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return werrors.SourceLocation{}
	}
	return werrors.SourceLocation{File: file, Line: line}
}

// ControllerBuilder configures class-level declarations.
type ControllerBuilder struct {
	d *Declaration
}

func (b *ControllerBuilder) update(fn func(*ControllerDescriptor)) *ControllerBuilder {
	b.d.store.UpdateController(b.d.subject, fn)
	return b
}

// Name overrides the controller name derived from the Go type.
func (b *ControllerBuilder) Name(name string) *ControllerBuilder {
	return b.update(func(c *ControllerDescriptor) { c.Name = name })
}

// Version inserts a version segment between the global prefix and the path.
func (b *ControllerBuilder) Version(version string) *ControllerBuilder {
	return b.update(func(c *ControllerDescriptor) { c.Version = version })
}

func (b *ControllerBuilder) Description(text string) *ControllerBuilder {
	return b.update(func(c *ControllerDescriptor) { c.Description = text })
}

// Use appends middleware to every action of the controller.
func (b *ControllerBuilder) Use(middlewares ...MiddlewareFunc) *ControllerBuilder {
	return b.UsePack(MiddlewarePack{Middlewares: middlewares})
}

// UseNamed appends middleware registered on the App by name.
func (b *ControllerBuilder) UseNamed(names ...string) *ControllerBuilder {
	return b.UsePack(MiddlewarePack{Names: names})
}

// UsePack declares a middleware pack with an explicit mount type or filter.
func (b *ControllerBuilder) UsePack(pack MiddlewarePack) *ControllerBuilder {
	b.d.store.AddMiddleware(b.d.subject, "", pack)
	return b
}

// Guard declares a guard group for every action of the controller.
func (b *ControllerBuilder) Guard(group GuardGroup) *ControllerBuilder {
	b.d.store.AddGuards(b.d.subject, "", group)
	return b
}

// ActionBuilder configures one handler method.
type ActionBuilder struct {
	d      *Declaration
	member string
}

func (b *ActionBuilder) update(fn func(*ActionDescriptor)) *ActionBuilder {
	b.d.store.UpdateAction(b.d.subject, b.member, fn)
	return b
}

// Route sets the HTTP method and the path relative to the controller.
func (b *ActionBuilder) Route(method, path string) *ActionBuilder {
	return b.update(func(a *ActionDescriptor) {
		a.Method = strings.ToUpper(method)
		a.Path = path
	})
}

func (b *ActionBuilder) Get(path string) *ActionBuilder    { return b.Route(http.MethodGet, path) }
func (b *ActionBuilder) Post(path string) *ActionBuilder   { return b.Route(http.MethodPost, path) }
func (b *ActionBuilder) Put(path string) *ActionBuilder    { return b.Route(http.MethodPut, path) }
func (b *ActionBuilder) Patch(path string) *ActionBuilder  { return b.Route(http.MethodPatch, path) }
func (b *ActionBuilder) Delete(path string) *ActionBuilder { return b.Route(http.MethodDelete, path) }
func (b *ActionBuilder) Head(path string) *ActionBuilder   { return b.Route(http.MethodHead, path) }
func (b *ActionBuilder) Options(path string) *ActionBuilder {
	return b.Route(http.MethodOptions, path)
}

func (b *ActionBuilder) Deprecated() *ActionBuilder {
	return b.update(func(a *ActionDescriptor) { a.Deprecated = true })
}

func (b *ActionBuilder) Version(version string) *ActionBuilder {
	return b.update(func(a *ActionDescriptor) { a.Version = version })
}

func (b *ActionBuilder) Description(text string) *ActionBuilder {
	return b.update(func(a *ActionDescriptor) { a.Description = text })
}

// Param returns a builder for the handler parameter at index.
func (b *ActionBuilder) Param(index int) *ParamBuilder {
	b.d.store.UpdateParam(b.d.subject, b.member, index, func(*ParamDescriptor) {})
	return &ParamBuilder{action: b, index: index}
}

func (b *ActionBuilder) source(index int, source Source, name string, typ any) *ActionBuilder {
	p := b.Param(index).From(source)
	if name == "" {
		p.Root()
	} else {
		p.Name(name)
	}
	if typ != nil {
		p.Type(typ)
	}
	return b
}

// Query binds parameter index to a query value, or the whole query when name is empty.
func (b *ActionBuilder) Query(index int, name string, typ any) *ActionBuilder {
	return b.source(index, SourceQuery, name, typ)
}

// Path binds parameter index to a path parameter.
func (b *ActionBuilder) Path(index int, name string, typ any) *ActionBuilder {
	return b.source(index, SourcePath, name, typ)
}

// Header binds parameter index to a request header.
func (b *ActionBuilder) Header(index int, name string, typ any) *ActionBuilder {
	return b.source(index, SourceHeader, name, typ)
}

// Body binds parameter index to a body field, or the whole body when name is empty.
func (b *ActionBuilder) Body(index int, name string, typ any) *ActionBuilder {
	return b.source(index, SourceBody, name, typ)
}

// Context binds parameter index to a request-local value, or the
// RequestContext itself when name is empty.
func (b *ActionBuilder) Context(index int, name string) *ActionBuilder {
	return b.source(index, SourceContext, name, nil)
}

// Session binds parameter index to a session value, or all session values.
func (b *ActionBuilder) Session(index int, name string, typ any) *ActionBuilder {
	return b.source(index, SourceSession, name, typ)
}

// Request binds parameter index to a request attribute (method, path, ip,
// url, content-type), or the RequestInterface when name is empty.
func (b *ActionBuilder) Request(index int, name string) *ActionBuilder {
	return b.source(index, SourceRequest, name, nil)
}

// Returns declares the response schema for status.
func (b *ActionBuilder) Returns(status int, typ any) *ResponseBuilder {
	if status == 0 {
		status = http.StatusOK
	}
	rb := &ResponseBuilder{action: b, status: status}
	return rb.update(func(r *ResponseDescriptor) { r.Type = typ })
}

// Use appends middleware to this action.
func (b *ActionBuilder) Use(middlewares ...MiddlewareFunc) *ActionBuilder {
	return b.UsePack(MiddlewarePack{Middlewares: middlewares})
}

// UseNamed appends middleware registered on the App by name.
func (b *ActionBuilder) UseNamed(names ...string) *ActionBuilder {
	return b.UsePack(MiddlewarePack{Names: names})
}

// UsePack declares a middleware pack with an explicit mount type or filter.
func (b *ActionBuilder) UsePack(pack MiddlewarePack) *ActionBuilder {
	b.d.store.AddMiddleware(b.d.subject, b.member, pack)
	return b
}

// Guard declares a guard group on this action.
func (b *ActionBuilder) Guard(group GuardGroup) *ActionBuilder {
	b.d.store.AddGuards(b.d.subject, b.member, group)
	return b
}

// ParamBuilder configures one handler parameter. Later calls on the same
// index merge into the existing declaration.
type ParamBuilder struct {
	action *ActionBuilder
	index  int
}

func (p *ParamBuilder) update(fn func(*ParamDescriptor)) *ParamBuilder {
	p.action.d.store.UpdateParam(p.action.d.subject, p.action.member, p.index, fn)
	return p
}

func (p *ParamBuilder) From(source Source) *ParamBuilder {
	return p.update(func(d *ParamDescriptor) { d.Source = source })
}

func (p *ParamBuilder) Name(name string) *ParamBuilder {
	return p.update(func(d *ParamDescriptor) { d.Name = name; d.Root = false })
}

// Type sets the schema expression the value is validated against.
func (p *ParamBuilder) Type(expr any) *ParamBuilder {
	return p.update(func(d *ParamDescriptor) { d.Type = expr })
}

func (p *ParamBuilder) Required() *ParamBuilder {
	return p.update(func(d *ParamDescriptor) { d.Required = true; d.requiredSet = true })
}

func (p *ParamBuilder) Optional() *ParamBuilder {
	return p.update(func(d *ParamDescriptor) { d.Required = false; d.requiredSet = true })
}

// Root binds the whole source instead of a named field.
func (p *ParamBuilder) Root() *ParamBuilder {
	return p.update(func(d *ParamDescriptor) { d.Root = true })
}

// Default is used when the value is absent. It makes the parameter optional
// unless Required was set explicitly.
func (p *ParamBuilder) Default(value any) *ParamBuilder {
	return p.update(func(d *ParamDescriptor) { d.Default = value })
}

func (p *ParamBuilder) Example(value any) *ParamBuilder {
	return p.update(func(d *ParamDescriptor) { d.Example = value })
}

// ResponseBuilder configures the response declared for one status.
type ResponseBuilder struct {
	action *ActionBuilder
	status int
}

func (r *ResponseBuilder) update(fn func(*ResponseDescriptor)) *ResponseBuilder {
	r.action.d.store.UpdateResponse(r.action.d.subject, r.action.member, r.status, fn)
	return r
}

// Strict rejects undeclared object properties instead of dropping them.
func (r *ResponseBuilder) Strict() *ResponseBuilder {
	return r.update(func(d *ResponseDescriptor) { d.Strict = true })
}

func (r *ResponseBuilder) Mime(mime string) *ResponseBuilder {
	return r.update(func(d *ResponseDescriptor) { d.Mime = mime })
}

func (r *ResponseBuilder) Header(key, value string) *ResponseBuilder {
	return r.update(func(d *ResponseDescriptor) {
		headers := make(map[string]string, len(d.Headers)+1)
		for k, v := range d.Headers {
			headers[k] = v
		}
		headers[key] = value
		d.Headers = headers
	})
}

func (r *ResponseBuilder) Description(text string) *ResponseBuilder {
	return r.update(func(d *ResponseDescriptor) { d.Description = text })
}

// defaultMethod derives the HTTP method from a handler name prefix.
func defaultMethod(name string) string {
	prefixes := []struct {
		prefix string
		method string
	}{
		{"Get", http.MethodGet},
		{"List", http.MethodGet},
		{"Create", http.MethodPost},
		{"Post", http.MethodPost},
		{"Update", http.MethodPut},
		{"Put", http.MethodPut},
		{"Patch", http.MethodPatch},
		{"Delete", http.MethodDelete},
		{"Remove", http.MethodDelete},
	}
	for _, p := range prefixes {
		if hasWordPrefix(name, p.prefix) {
			return p.method
		}
	}
	return http.MethodGet
}

func hasWordPrefix(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	rest := name[len(prefix):]
	return rest == "" || unicode.IsUpper(rune(rest[0]))
}

// defaultPath derives a kebab-case path segment from a handler name.
func defaultPath(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := rune(name[i-1])
				if !unicode.IsUpper(prev) || (i+1 < len(name) && unicode.IsLower(rune(name[i+1]))) {
					b.WriteByte('-')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return "/" + b.String()
}
