package waypoint

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/url"
	"strings"
)

// fakeContext is an in-memory RequestContext for unit tests.
type fakeContext struct {
	method  string
	path    string
	query   url.Values
	headers map[string][]string
	body    []byte
	values  map[string]interface{}
	res     *fakeResponse
}

func newFakeContext(method, target string) *fakeContext {
	u, _ := url.Parse(target)
	return &fakeContext{
		method:  method,
		path:    u.Path,
		query:   u.Query(),
		headers: map[string][]string{},
		values:  map[string]interface{}{},
		res:     &fakeResponse{status: 200, headers: map[string]string{}},
	}
}

func (c *fakeContext) withJSON(body string) *fakeContext {
	c.body = []byte(body)
	c.headers["Content-Type"] = []string{"application/json"}
	return c
}

func (c *fakeContext) withHeader(key, value string) *fakeContext {
	c.headers[key] = append(c.headers[key], value)
	return c
}

func (c *fakeContext) Context() context.Context         { return context.Background() }
func (c *fakeContext) Method() string                   { return c.method }
func (c *fakeContext) Path() string                     { return c.path }
func (c *fakeContext) RealIP() string                   { return "127.0.0.1" }
func (c *fakeContext) QueryParams() map[string][]string { return c.query }
func (c *fakeContext) Request() RequestInterface        { return (*fakeRequest)(c) }
func (c *fakeContext) Response() ResponseInterface      { return c.res }
func (c *fakeContext) Get(key string) interface{}       { return c.values[key] }
func (c *fakeContext) Set(key string, val interface{})  { c.values[key] = val }

type fakeRequest fakeContext

func (r *fakeRequest) Header(key string) string {
	if v := r.headers[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
func (r *fakeRequest) Headers() map[string][]string { return r.headers }
func (r *fakeRequest) ContentType() string          { return r.Header("Content-Type") }
func (r *fakeRequest) ContentLength() int64         { return int64(len(r.body)) }
func (r *fakeRequest) URL() string                  { return r.path + "?" + r.query.Encode() }
func (r *fakeRequest) Body() ([]byte, error)        { return r.body, nil }

func (r *fakeRequest) MultipartForm(maxMemory int64) (*multipart.Form, error) {
	_, params, _ := strings.Cut(r.ContentType(), "boundary=")
	return multipart.NewReader(bytes.NewReader(r.body), params).ReadForm(maxMemory)
}

func (r *fakeRequest) Cookie(name string) (Cookie, error) { return Cookie{}, ErrNoCookie }

type fakeResponse struct {
	status      int
	headers     map[string]string
	body        []byte
	contentType string
	written     bool
	cookies     []Cookie
}

func (r *fakeResponse) Status() int                 { return r.status }
func (r *fakeResponse) SetStatus(code int)          { r.status = code }
func (r *fakeResponse) Header(key string) string    { return r.headers[key] }
func (r *fakeResponse) SetHeader(key, value string) { r.headers[key] = value }
func (r *fakeResponse) Written() bool               { return r.written }
func (r *fakeResponse) SetCookie(cookie Cookie)     { r.cookies = append(r.cookies, cookie) }
func (r *fakeResponse) NoContent(code int) error    { return r.write(code, "", nil) }
func (r *fakeResponse) String(code int, s string) error {
	return r.write(code, "text/plain", []byte(s))
}

func (r *fakeResponse) JSON(code int, i interface{}) error {
	b, err := json.Marshal(i)
	if err != nil {
		return err
	}
	return r.write(code, "application/json", b)
}

func (r *fakeResponse) Blob(code int, contentType string, b []byte) error {
	return r.write(code, contentType, b)
}

func (r *fakeResponse) Stream(code int, contentType string, rd io.Reader) error {
	b, err := io.ReadAll(rd)
	if err != nil {
		return err
	}
	return r.write(code, contentType, b)
}

func (r *fakeResponse) Redirect(code int, url string) error {
	r.headers["Location"] = url
	return r.write(code, "", nil)
}

func (r *fakeResponse) write(code int, contentType string, b []byte) error {
	r.status = code
	r.contentType = contentType
	r.body = b
	r.written = true
	return nil
}
