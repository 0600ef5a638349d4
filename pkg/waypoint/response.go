package waypoint

import (
	"io"
	"net/http"
)

// Response lets a handler control status, headers and body directly.
// Returning one bypasses schema-based serialization.
//
//	func (c *UserController) Create(name string) (*waypoint.Response, error) {
//		return waypoint.Created(user).WithHeader("Location", "/users/1"), nil
//	}
type Response struct {
	StatusCode int
	Body       interface{}
	Headers    map[string]string
	Cookies    []Cookie
}

// WithHeader adds a response header.
func (r *Response) WithHeader(key, value string) *Response {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

// WithCookie adds a cookie to the response.
func (r *Response) WithCookie(cookie Cookie) *Response {
	r.Cookies = append(r.Cookies, cookie)
	return r
}

// NewResponse creates a new Response with the specified status code and body
func NewResponse(statusCode int, body interface{}) *Response {
	return &Response{
		StatusCode: statusCode,
		Body:       body,
	}
}

// OK creates a 200 OK response with the given body
func OK(body interface{}) *Response {
	return NewResponse(http.StatusOK, body)
}

// Created creates a 201 Created response with the given body
func Created(body interface{}) *Response {
	return NewResponse(http.StatusCreated, body)
}

// Accepted creates a 202 Accepted response with the given body
func Accepted(body interface{}) *Response {
	return NewResponse(http.StatusAccepted, body)
}

// NoContent creates a 204 No Content response
func NoContent() *Response {
	return NewResponse(http.StatusNoContent, nil)
}

// Redirect sends the client to another location.
type Redirect struct {
	URL        string
	StatusCode int
	Headers    map[string]string
}

// RedirectTo creates a 302 Found redirect.
func RedirectTo(url string) *Redirect {
	return &Redirect{URL: url, StatusCode: http.StatusFound}
}

// PermanentRedirect creates a 301 Moved Permanently redirect.
func PermanentRedirect(url string) *Redirect {
	return &Redirect{URL: url, StatusCode: http.StatusMovedPermanently}
}

// Stream writes Reader to the client. If Reader is an io.Closer it is
// closed once the response has been written.
type Stream struct {
	Reader      io.Reader
	ContentType string
	StatusCode  int
	Headers     map[string]string
}

// NewStream creates a 200 stream response.
func NewStream(r io.Reader, contentType string) *Stream {
	return &Stream{Reader: r, ContentType: contentType, StatusCode: http.StatusOK}
}

// WithHeader adds a response header.
func (s *Stream) WithHeader(key, value string) *Stream {
	if s.Headers == nil {
		s.Headers = make(map[string]string)
	}
	s.Headers[key] = value
	return s
}
