package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/toyz/waypoint/pkg/waypoint"
)

// Echo mounts app on an Echo instance. Routes Echo itself does not know
// fall through to the app; Echo's own routes keep working.
func Echo(e *echo.Echo, app *waypoint.App) {
	e.Use(convertEchoMiddleware(app.Middleware(), app.TrustsProxy))
}

// convertEchoMiddleware converts waypoint.MiddlewareFunc to echo.MiddlewareFunc
func convertEchoMiddleware(middleware waypoint.MiddlewareFunc, trusted func(string) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			waypointNext := func(waypoint.RequestContext) error {
				return translateEchoError(next(c))
			}
			ctx := &EchoRequestContext{context: c, trusted: trusted}
			return middleware(waypointNext)(ctx)
		}
	}
}

// translateEchoError maps Echo's HTTP errors onto waypoint errors.
func translateEchoError(err error) error {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return err
	}
	message := http.StatusText(he.Code)
	if m, ok := he.Message.(string); ok && m != "" {
		message = m
	}
	if he.Code == http.StatusNotFound {
		message = "Not Found"
	}
	return waypoint.NewHttpError(he.Code, message).WithCause(err)
}

// EchoRequestContext implements waypoint.RequestContext for Echo
type EchoRequestContext struct {
	context echo.Context
	body    []byte
	read    bool
	trusted func(string) bool
}

// NewEchoRequestContext wraps an echo.Context
func NewEchoRequestContext(c echo.Context) *EchoRequestContext {
	return &EchoRequestContext{context: c}
}

// Context returns the request context
func (erc *EchoRequestContext) Context() context.Context {
	return erc.context.Request().Context()
}

// Method returns the HTTP method
func (erc *EchoRequestContext) Method() string {
	return erc.context.Request().Method
}

// Path returns the request path
func (erc *EchoRequestContext) Path() string {
	return erc.context.Request().URL.Path
}

// RealIP returns the client address, trusting forwarding headers only
// from configured proxies.
func (erc *EchoRequestContext) RealIP() string {
	return realIP(erc.trusted, erc.context.Request())
}

// QueryParams returns all query parameters
func (erc *EchoRequestContext) QueryParams() map[string][]string {
	return erc.context.QueryParams()
}

// Request returns the request interface
func (erc *EchoRequestContext) Request() waypoint.RequestInterface {
	return &EchoRequest{erc: erc}
}

// Response returns the response interface
func (erc *EchoRequestContext) Response() waypoint.ResponseInterface {
	return &EchoResponse{context: erc.context}
}

// Get retrieves data from context
func (erc *EchoRequestContext) Get(key string) interface{} {
	return erc.context.Get(key)
}

// Set stores data in context
func (erc *EchoRequestContext) Set(key string, val interface{}) {
	erc.context.Set(key, val)
}

// GetEchoContext returns the underlying Echo context
func (erc *EchoRequestContext) GetEchoContext() echo.Context {
	return erc.context
}

// EchoRequest implements waypoint.RequestInterface for Echo
type EchoRequest struct {
	erc *EchoRequestContext
}

// Header returns request header value
func (er *EchoRequest) Header(key string) string {
	return er.erc.context.Request().Header.Get(key)
}

// Headers returns all request headers
func (er *EchoRequest) Headers() map[string][]string {
	return er.erc.context.Request().Header
}

// ContentType returns the content type
func (er *EchoRequest) ContentType() string {
	return er.erc.context.Request().Header.Get(echo.HeaderContentType)
}

// ContentLength returns the content length
func (er *EchoRequest) ContentLength() int64 {
	return er.erc.context.Request().ContentLength
}

// URL returns the request URL
func (er *EchoRequest) URL() string {
	return er.erc.context.Request().URL.String()
}

// Body reads the body once and restores it for Echo's own binders
func (er *EchoRequest) Body() ([]byte, error) {
	if er.erc.read {
		return er.erc.body, nil
	}
	er.erc.read = true
	req := er.erc.context.Request()
	if req.Body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(req.Body)
	if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		return nil, waypoint.ErrRequestEntityTooLarge("request body too large").WithCause(err)
	}
	if err != nil {
		return nil, err
	}
	er.erc.body = b
	req.Body = io.NopCloser(bytes.NewReader(b))
	return b, nil
}

// LimitBody caps reads of the request body at n bytes
func (er *EchoRequest) LimitBody(n int64) {
	req := er.erc.context.Request()
	if req.Body != nil && !er.erc.read {
		req.Body = http.MaxBytesReader(er.erc.context.Response(), req.Body, n)
	}
}

// MultipartForm parses and returns the multipart form
func (er *EchoRequest) MultipartForm(maxMemory int64) (*multipart.Form, error) {
	req := er.erc.context.Request()
	if err := req.ParseMultipartForm(maxMemory); err != nil {
		return nil, err
	}
	return req.MultipartForm, nil
}

// Cookie returns cookie by name
func (er *EchoRequest) Cookie(name string) (waypoint.Cookie, error) {
	cookie, err := er.erc.context.Cookie(name)
	if err != nil {
		return waypoint.Cookie{}, err
	}
	return waypoint.FromHTTPCookie(cookie), nil
}

// EchoResponse implements waypoint.ResponseInterface for Echo
type EchoResponse struct {
	context echo.Context
}

// Status returns the response status
func (er *EchoResponse) Status() int {
	return er.context.Response().Status
}

// SetStatus sets the response status
func (er *EchoResponse) SetStatus(code int) {
	er.context.Response().Status = code
}

// Header returns response header value
func (er *EchoResponse) Header(key string) string {
	return er.context.Response().Header().Get(key)
}

// SetHeader sets response header
func (er *EchoResponse) SetHeader(key, value string) {
	er.context.Response().Header().Set(key, value)
}

// Written returns true if response has been written
func (er *EchoResponse) Written() bool {
	return er.context.Response().Committed
}

// JSON sends JSON response
func (er *EchoResponse) JSON(code int, i interface{}) error {
	return er.context.JSON(code, i)
}

// String sends string response
func (er *EchoResponse) String(code int, s string) error {
	return er.context.String(code, s)
}

// Blob sends binary response
func (er *EchoResponse) Blob(code int, contentType string, b []byte) error {
	return er.context.Blob(code, contentType, b)
}

// Stream sends streaming response
func (er *EchoResponse) Stream(code int, contentType string, r io.Reader) error {
	return er.context.Stream(code, contentType, r)
}

// Redirect sends a redirect
func (er *EchoResponse) Redirect(code int, url string) error {
	if err := er.context.Redirect(code, url); err != nil {
		return fmt.Errorf("redirect: %w", err)
	}
	return nil
}

// NoContent sends a response without a body
func (er *EchoResponse) NoContent(code int) error {
	return er.context.NoContent(code)
}

// SetCookie sets a cookie
func (er *EchoResponse) SetCookie(cookie waypoint.Cookie) {
	er.context.SetCookie(cookie.HTTPCookie())
}
