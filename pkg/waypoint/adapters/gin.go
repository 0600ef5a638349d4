package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/toyz/waypoint/pkg/waypoint"
)

// Gin mounts app on a gin engine. Requests the app does not route
// continue down gin's handler chain.
func Gin(engine *gin.Engine, app *waypoint.App) {
	engine.Use(convertGinMiddleware(app.Middleware(), app.TrustsProxy))
}

// convertGinMiddleware converts waypoint.MiddlewareFunc to gin.HandlerFunc
func convertGinMiddleware(middleware waypoint.MiddlewareFunc, trusted func(string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		continued := false
		waypointNext := func(waypoint.RequestContext) error {
			continued = true
			c.Next()
			return nil
		}

		ctx := &GinRequestContext{context: c, trusted: trusted}
		if err := middleware(waypointNext)(ctx); err != nil {
			_ = c.Error(err)
			if !c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}
		if !continued {
			c.Abort()
		}
	}
}

// GinRequestContext implements waypoint.RequestContext for Gin
type GinRequestContext struct {
	context *gin.Context
	body    []byte
	read    bool
	trusted func(string) bool
}

// NewGinRequestContext wraps a gin.Context
func NewGinRequestContext(c *gin.Context) *GinRequestContext {
	return &GinRequestContext{context: c}
}

// Context returns the request context
func (grc *GinRequestContext) Context() context.Context {
	return grc.context.Request.Context()
}

// Method returns the HTTP method
func (grc *GinRequestContext) Method() string {
	return grc.context.Request.Method
}

// Path returns the request path
func (grc *GinRequestContext) Path() string {
	return grc.context.Request.URL.Path
}

// RealIP returns the client address, trusting forwarding headers only
// from configured proxies.
func (grc *GinRequestContext) RealIP() string {
	return realIP(grc.trusted, grc.context.Request)
}

// QueryParams returns all query parameters
func (grc *GinRequestContext) QueryParams() map[string][]string {
	return grc.context.Request.URL.Query()
}

// Request returns the request interface
func (grc *GinRequestContext) Request() waypoint.RequestInterface {
	return &GinRequest{grc: grc}
}

// Response returns the response interface
func (grc *GinRequestContext) Response() waypoint.ResponseInterface {
	return &GinResponse{context: grc.context}
}

// Get retrieves data from context
func (grc *GinRequestContext) Get(key string) interface{} {
	value, _ := grc.context.Get(key)
	return value
}

// Set stores data in context
func (grc *GinRequestContext) Set(key string, val interface{}) {
	grc.context.Set(key, val)
}

// GetGinContext returns the underlying Gin context
func (grc *GinRequestContext) GetGinContext() *gin.Context {
	return grc.context
}

// GinRequest implements waypoint.RequestInterface for Gin
type GinRequest struct {
	grc *GinRequestContext
}

// Header returns request header value
func (gr *GinRequest) Header(key string) string {
	return gr.grc.context.GetHeader(key)
}

// Headers returns all request headers
func (gr *GinRequest) Headers() map[string][]string {
	return gr.grc.context.Request.Header
}

// ContentType returns the content type
func (gr *GinRequest) ContentType() string {
	return gr.grc.context.GetHeader("Content-Type")
}

// ContentLength returns the content length
func (gr *GinRequest) ContentLength() int64 {
	return gr.grc.context.Request.ContentLength
}

// URL returns the request URL
func (gr *GinRequest) URL() string {
	return gr.grc.context.Request.URL.String()
}

// Body reads the body once and restores it for gin's binders
func (gr *GinRequest) Body() ([]byte, error) {
	if gr.grc.read {
		return gr.grc.body, nil
	}
	gr.grc.read = true
	req := gr.grc.context.Request
	if req.Body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	gr.grc.body = b
	req.Body = io.NopCloser(bytes.NewReader(b))
	return b, nil
}

// LimitBody caps reads of the request body at n bytes
func (gr *GinRequest) LimitBody(n int64) {
	req := gr.grc.context.Request
	if req.Body != nil && !gr.grc.read {
		req.Body = http.MaxBytesReader(gr.grc.context.Writer, req.Body, n)
	}
}

// MultipartForm parses and returns the multipart form
func (gr *GinRequest) MultipartForm(maxMemory int64) (*multipart.Form, error) {
	req := gr.grc.context.Request
	if err := req.ParseMultipartForm(maxMemory); err != nil {
		return nil, err
	}
	return req.MultipartForm, nil
}

// Cookie returns cookie by name
func (gr *GinRequest) Cookie(name string) (waypoint.Cookie, error) {
	cookie, err := gr.grc.context.Request.Cookie(name)
	if err != nil {
		return waypoint.Cookie{}, err
	}
	return waypoint.FromHTTPCookie(cookie), nil
}

// GinResponse implements waypoint.ResponseInterface for Gin
type GinResponse struct {
	context *gin.Context
}

// Status returns the response status
func (gr *GinResponse) Status() int {
	return gr.context.Writer.Status()
}

// SetStatus sets the response status
func (gr *GinResponse) SetStatus(code int) {
	gr.context.Status(code)
}

// Header returns response header value
func (gr *GinResponse) Header(key string) string {
	return gr.context.Writer.Header().Get(key)
}

// SetHeader sets response header
func (gr *GinResponse) SetHeader(key, value string) {
	gr.context.Header(key, value)
}

// Written returns true if response has been written
func (gr *GinResponse) Written() bool {
	return gr.context.Writer.Written()
}

// JSON sends JSON response
func (gr *GinResponse) JSON(code int, i interface{}) error {
	gr.context.JSON(code, i)
	return nil
}

// String sends string response
func (gr *GinResponse) String(code int, s string) error {
	gr.context.Data(code, "text/plain; charset=utf-8", []byte(s))
	return nil
}

// Blob sends binary response
func (gr *GinResponse) Blob(code int, contentType string, b []byte) error {
	gr.context.Data(code, contentType, b)
	return nil
}

// Stream sends streaming response
func (gr *GinResponse) Stream(code int, contentType string, r io.Reader) error {
	gr.context.DataFromReader(code, -1, contentType, r, nil)
	return nil
}

// Redirect sends a redirect
func (gr *GinResponse) Redirect(code int, url string) error {
	if code < http.StatusMultipleChoices || code > http.StatusPermanentRedirect {
		return fmt.Errorf("cannot redirect with status code %d", code)
	}
	gr.context.Redirect(code, url)
	return nil
}

// NoContent sends a response without a body
func (gr *GinResponse) NoContent(code int) error {
	gr.context.Status(code)
	gr.context.Writer.WriteHeaderNow()
	return nil
}

// SetCookie sets a cookie
func (gr *GinResponse) SetCookie(cookie waypoint.Cookie) {
	http.SetCookie(gr.context.Writer, cookie.HTTPCookie())
}
