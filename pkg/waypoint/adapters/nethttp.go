// Package adapters mounts a waypoint App on existing HTTP routers.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"

	"github.com/toyz/waypoint/pkg/waypoint"
)

// Middleware mounts app as net/http middleware. Requests the app does not
// route continue to next.
func Middleware(app *waypoint.App) func(http.Handler) http.Handler {
	mw := app.Middleware()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := NewHTTPRequestContext(w, r)
			ctx.trusted = app.TrustsProxy
			handler := mw(func(waypoint.RequestContext) error {
				next.ServeHTTP(ctx.writer, ctx.request)
				return nil
			})
			if err := handler(ctx); err != nil && !ctx.writer.written {
				http.Error(ctx.writer, err.Error(), http.StatusInternalServerError)
			}
		})
	}
}

// Handler serves app directly; unmatched requests get a Not Found error.
func Handler(app *waypoint.App) http.Handler {
	return Middleware(app)(MarkNotFound())
}

// MarkNotFound is a fallback handler that flags the request as not found
// without writing, so the app renders its own Not Found body.
func MarkNotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := w.(interface{ SetStatus(int) }); ok {
			s.SetStatus(http.StatusNotFound)
			return
		}
		http.NotFound(w, r)
	})
}

// responseWriter defers the status until the first write.
type responseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *responseWriter) SetStatus(code int) {
	w.status = code
}

func (w *responseWriter) WriteHeader(code int) {
	if w.written {
		return
	}
	w.status = code
	w.written = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(w.status)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		if !w.written {
			w.WriteHeader(w.status)
		}
		f.Flush()
	}
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// HTTPRequestContext implements waypoint.RequestContext for net/http
type HTTPRequestContext struct {
	writer  *responseWriter
	request *http.Request
	values  map[string]interface{}
	body    []byte
	read    bool
	trusted func(string) bool
}

// NewHTTPRequestContext wraps a net/http request and response writer.
func NewHTTPRequestContext(w http.ResponseWriter, r *http.Request) *HTTPRequestContext {
	if rw, ok := w.(*responseWriter); ok {
		return &HTTPRequestContext{writer: rw, request: r, values: make(map[string]interface{})}
	}
	return &HTTPRequestContext{
		writer:  &responseWriter{ResponseWriter: w, status: http.StatusOK},
		request: r,
		values:  make(map[string]interface{}),
	}
}

func (c *HTTPRequestContext) Context() context.Context { return c.request.Context() }
func (c *HTTPRequestContext) Method() string           { return c.request.Method }
func (c *HTTPRequestContext) Path() string             { return c.request.URL.Path }

// RealIP returns the client address. Forwarding headers are only honored
// when the direct peer is a trusted proxy.
func (c *HTTPRequestContext) RealIP() string { return realIP(c.trusted, c.request) }

func realIP(trusted func(string) bool, r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, ok := waypoint.ForwardedIP(trusted, host,
		r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return host
}

func (c *HTTPRequestContext) QueryParams() map[string][]string {
	return c.request.URL.Query()
}

func (c *HTTPRequestContext) Request() waypoint.RequestInterface   { return (*httpRequest)(c) }
func (c *HTTPRequestContext) Response() waypoint.ResponseInterface { return (*httpResponse)(c) }

func (c *HTTPRequestContext) Get(key string) interface{} { return c.values[key] }

func (c *HTTPRequestContext) Set(key string, val interface{}) { c.values[key] = val }

// Writer returns the wrapped http.ResponseWriter
func (c *HTTPRequestContext) Writer() http.ResponseWriter { return c.writer }

// HTTPRequest returns the underlying *http.Request
func (c *HTTPRequestContext) HTTPRequest() *http.Request { return c.request }

type httpRequest HTTPRequestContext

func (r *httpRequest) Header(key string) string { return r.request.Header.Get(key) }

func (r *httpRequest) Headers() map[string][]string { return r.request.Header }

func (r *httpRequest) ContentType() string { return r.request.Header.Get("Content-Type") }

func (r *httpRequest) ContentLength() int64 { return r.request.ContentLength }

func (r *httpRequest) URL() string { return r.request.URL.String() }

func (r *httpRequest) Body() ([]byte, error) {
	if r.read {
		return r.body, nil
	}
	r.read = true
	if r.request.Body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(r.request.Body)
	if err != nil {
		return nil, err
	}
	r.body = b
	r.request.Body = io.NopCloser(bytes.NewReader(b))
	return b, nil
}

// LimitBody caps reads of the request body at n bytes.
func (r *httpRequest) LimitBody(n int64) {
	if r.request.Body != nil && !r.read {
		r.request.Body = http.MaxBytesReader(r.writer, r.request.Body, n)
	}
}

func (r *httpRequest) MultipartForm(maxMemory int64) (*multipart.Form, error) {
	if err := r.request.ParseMultipartForm(maxMemory); err != nil {
		return nil, err
	}
	return r.request.MultipartForm, nil
}

func (r *httpRequest) Cookie(name string) (waypoint.Cookie, error) {
	cookie, err := r.request.Cookie(name)
	if err != nil {
		return waypoint.Cookie{}, err
	}
	return waypoint.FromHTTPCookie(cookie), nil
}

type httpResponse HTTPRequestContext

func (r *httpResponse) Status() int { return r.writer.status }

func (r *httpResponse) SetStatus(code int) { r.writer.SetStatus(code) }

func (r *httpResponse) Header(key string) string { return r.writer.Header().Get(key) }

func (r *httpResponse) SetHeader(key, value string) { r.writer.Header().Set(key, value) }

func (r *httpResponse) Written() bool { return r.writer.written }

func (r *httpResponse) JSON(code int, i interface{}) error {
	r.writer.Header().Set("Content-Type", "application/json; charset=UTF-8")
	r.writer.WriteHeader(code)
	return json.NewEncoder(r.writer).Encode(i)
}

func (r *httpResponse) String(code int, s string) error {
	r.writer.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	r.writer.WriteHeader(code)
	_, err := io.WriteString(r.writer, s)
	return err
}

func (r *httpResponse) Blob(code int, contentType string, b []byte) error {
	r.writer.Header().Set("Content-Type", contentType)
	r.writer.WriteHeader(code)
	_, err := r.writer.Write(b)
	return err
}

func (r *httpResponse) Stream(code int, contentType string, reader io.Reader) error {
	r.writer.Header().Set("Content-Type", contentType)
	r.writer.WriteHeader(code)
	_, err := io.Copy(r.writer, reader)
	return err
}

func (r *httpResponse) Redirect(code int, url string) error {
	if code < 300 || code > 308 {
		return errors.New("invalid redirect status code")
	}
	r.writer.Header().Set("Location", url)
	r.writer.WriteHeader(code)
	return nil
}

func (r *httpResponse) NoContent(code int) error {
	r.writer.WriteHeader(code)
	return nil
}

func (r *httpResponse) SetCookie(cookie waypoint.Cookie) {
	http.SetCookie(r.writer, cookie.HTTPCookie())
}
