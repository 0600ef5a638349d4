// Package waypoint is a declaration-driven controller layer that mounts on
// top of an existing HTTP router. Controllers declare routes, parameters,
// response schemas, middleware and guards; App builds them into routes at
// startup and dispatches matching requests through an action executor.
package waypoint

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// RequestContext provides a framework-agnostic interface for handling HTTP requests
type RequestContext interface {
	// Context returns the request's context.Context.
	Context() context.Context

	// Request data
	Method() string
	Path() string
	RealIP() string

	// Query parameters
	QueryParams() map[string][]string

	// Headers
	Request() RequestInterface
	Response() ResponseInterface

	// Context data
	Get(key string) interface{}
	Set(key string, val interface{})
}

// RequestInterface provides access to the underlying request
type RequestInterface interface {
	Header(key string) string
	Headers() map[string][]string
	ContentType() string
	ContentLength() int64
	URL() string
	// Body returns the raw body. Implementations cache the bytes so the
	// body can be read more than once.
	Body() ([]byte, error)
	MultipartForm(maxMemory int64) (*multipart.Form, error)
	Cookie(name string) (Cookie, error)
}

// ResponseInterface provides response writing capabilities
type ResponseInterface interface {
	// Status
	Status() int
	SetStatus(code int)

	// Headers
	Header(key string) string
	SetHeader(key, value string)

	// Content
	JSON(code int, i interface{}) error
	String(code int, s string) error
	Blob(code int, contentType string, b []byte) error
	Stream(code int, contentType string, r io.Reader) error
	Redirect(code int, url string) error
	NoContent(code int) error

	// Cookies
	SetCookie(cookie Cookie)

	Written() bool
}

// HandlerFunc defines the signature for HTTP handlers
type HandlerFunc func(RequestContext) error

// MiddlewareFunc defines the signature for middleware
type MiddlewareFunc func(HandlerFunc) HandlerFunc

// Cookie represents an HTTP cookie
type Cookie struct {
	Name     string
	Value    string
	Path     string
	Domain   string
	Expires  time.Time
	MaxAge   int
	Secure   bool
	HttpOnly bool
	SameSite SameSiteMode
}

// SameSiteMode defines cookie SameSite attribute modes
type SameSiteMode int

const (
	SameSiteDefaultMode SameSiteMode = iota
	SameSiteLaxMode
	SameSiteStrictMode
	SameSiteNoneMode
)

// ErrNoCookie is returned by RequestInterface.Cookie when the cookie is absent.
var ErrNoCookie = http.ErrNoCookie

// HTTPCookie converts c to a net/http cookie.
func (c Cookie) HTTPCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  c.Expires,
		MaxAge:   c.MaxAge,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		SameSite: c.SameSite.HTTP(),
	}
}

// FromHTTPCookie converts a net/http cookie.
func FromHTTPCookie(c *http.Cookie) Cookie {
	return Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  c.Expires,
		MaxAge:   c.MaxAge,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
}

// HTTP returns the net/http equivalent of m.
func (m SameSiteMode) HTTP() http.SameSite {
	switch m {
	case SameSiteLaxMode:
		return http.SameSiteLaxMode
	case SameSiteStrictMode:
		return http.SameSiteStrictMode
	case SameSiteNoneMode:
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}

// String returns the attribute value used in Set-Cookie headers.
func (m SameSiteMode) String() string {
	switch m {
	case SameSiteLaxMode:
		return "Lax"
	case SameSiteStrictMode:
		return "Strict"
	case SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}

// Request-local keys reserved by the framework.
const (
	moduleContextKey = "waypoint.module"
	pathParamsKey    = "waypoint.params"
	parsedBodyKey    = "waypoint.body"

	// SessionKey holds the request's SessionValues, set by session middleware.
	SessionKey = "waypoint.session"
	// RequestIDKey holds the request id, set by request-id middleware.
	RequestIDKey = "request_id"
)

// ModuleContext identifies where in the app a request is being handled.
type ModuleContext struct {
	App        *App
	Controller *ControllerModule
	Action     *ActionModule
}

// ModuleFrom returns the ModuleContext injected by the router.
func ModuleFrom(ctx RequestContext) (*ModuleContext, bool) {
	mc, ok := ctx.Get(moduleContextKey).(*ModuleContext)
	return mc, ok && mc != nil
}

// PathParams returns the path parameters bound for the matched route.
func PathParams(ctx RequestContext) map[string]string {
	if params, ok := ctx.Get(pathParamsKey).(map[string]string); ok {
		return params
	}
	return map[string]string{}
}

// SessionValues is implemented by session stores exposed to handlers.
type SessionValues interface {
	Values() map[string]any
}
