package adapters

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/toyz/waypoint/pkg/waypoint"
)

// Fiber mounts app on a fiber app. Requests the app does not route
// continue down fiber's handler chain.
func Fiber(f *fiber.App, app *waypoint.App) {
	f.Use(convertFiberMiddleware(app.Middleware()))
}

// convertFiberMiddleware converts waypoint.MiddlewareFunc to fiber.Handler
func convertFiberMiddleware(middleware waypoint.MiddlewareFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := &FiberRequestContext{ctx: c}
		waypointNext := func(waypoint.RequestContext) error {
			return translateFiberError(c.Next())
		}
		return middleware(waypointNext)(ctx)
	}
}

// translateFiberError maps fiber's errors onto waypoint errors.
func translateFiberError(err error) error {
	var fe *fiber.Error
	if !errors.As(err, &fe) {
		return err
	}
	message := fe.Message
	if fe.Code == http.StatusNotFound {
		message = "Not Found"
	}
	return waypoint.NewHttpError(fe.Code, message).WithCause(err)
}

// FiberRequestContext implements waypoint.RequestContext for Fiber
type FiberRequestContext struct {
	ctx     *fiber.Ctx
	written bool
}

// NewFiberRequestContext wraps a fiber.Ctx
func NewFiberRequestContext(c *fiber.Ctx) *FiberRequestContext {
	return &FiberRequestContext{ctx: c}
}

func (frc *FiberRequestContext) Context() context.Context {
	return frc.ctx.UserContext()
}

func (frc *FiberRequestContext) Method() string {
	return frc.ctx.Method()
}

func (frc *FiberRequestContext) Path() string {
	return frc.ctx.Path()
}

func (frc *FiberRequestContext) RealIP() string {
	return frc.ctx.IP()
}

func (frc *FiberRequestContext) QueryParams() map[string][]string {
	result := make(map[string][]string)
	frc.ctx.Request().URI().QueryArgs().VisitAll(func(key, value []byte) {
		keyStr := string(key)
		valueStr := string(value)
		result[keyStr] = append(result[keyStr], valueStr)
	})
	return result
}

func (frc *FiberRequestContext) Request() waypoint.RequestInterface {
	return &FiberRequest{ctx: frc.ctx}
}

func (frc *FiberRequestContext) Response() waypoint.ResponseInterface {
	return &FiberResponse{frc: frc}
}

func (frc *FiberRequestContext) Get(key string) interface{} {
	return frc.ctx.Locals(key)
}

func (frc *FiberRequestContext) Set(key string, val interface{}) {
	frc.ctx.Locals(key, val)
}

// GetFiberContext returns the underlying fiber context
func (frc *FiberRequestContext) GetFiberContext() *fiber.Ctx {
	return frc.ctx
}

// FiberRequest wraps fiber.Ctx to implement waypoint.RequestInterface
type FiberRequest struct {
	ctx *fiber.Ctx
}

func (fr *FiberRequest) Header(key string) string {
	return fr.ctx.Get(key)
}

func (fr *FiberRequest) Headers() map[string][]string {
	return fr.ctx.GetReqHeaders()
}

func (fr *FiberRequest) ContentType() string {
	return fr.ctx.Get(fiber.HeaderContentType)
}

func (fr *FiberRequest) ContentLength() int64 {
	return int64(fr.ctx.Request().Header.ContentLength())
}

func (fr *FiberRequest) URL() string {
	return fr.ctx.OriginalURL()
}

// Body returns a copy of the body; fasthttp reuses its buffers.
func (fr *FiberRequest) Body() ([]byte, error) {
	return append([]byte(nil), fr.ctx.Body()...), nil
}

func (fr *FiberRequest) MultipartForm(int64) (*multipart.Form, error) {
	return fr.ctx.MultipartForm()
}

func (fr *FiberRequest) Cookie(name string) (waypoint.Cookie, error) {
	value := fr.ctx.Cookies(name)
	if value == "" {
		return waypoint.Cookie{}, waypoint.ErrNoCookie
	}
	return waypoint.Cookie{
		Name:  name,
		Value: value,
	}, nil
}

// FiberResponse wraps fiber.Ctx to implement waypoint.ResponseInterface
type FiberResponse struct {
	frc *FiberRequestContext
}

func (fr *FiberResponse) Status() int {
	return fr.frc.ctx.Response().StatusCode()
}

func (fr *FiberResponse) SetStatus(code int) {
	fr.frc.ctx.Status(code)
}

func (fr *FiberResponse) Header(key string) string {
	return string(fr.frc.ctx.Response().Header.Peek(key))
}

func (fr *FiberResponse) SetHeader(name, value string) {
	fr.frc.ctx.Set(name, value)
}

func (fr *FiberResponse) Written() bool {
	return fr.frc.written
}

func (fr *FiberResponse) JSON(code int, data interface{}) error {
	fr.frc.written = true
	return fr.frc.ctx.Status(code).JSON(data)
}

func (fr *FiberResponse) String(code int, s string) error {
	fr.frc.written = true
	fr.frc.ctx.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return fr.frc.ctx.Status(code).SendString(s)
}

func (fr *FiberResponse) Blob(code int, contentType string, data []byte) error {
	fr.frc.written = true
	fr.frc.ctx.Set(fiber.HeaderContentType, contentType)
	return fr.frc.ctx.Status(code).Send(data)
}

func (fr *FiberResponse) Stream(code int, contentType string, r io.Reader) error {
	fr.frc.written = true
	fr.frc.ctx.Set(fiber.HeaderContentType, contentType)
	// fasthttp reads the stream after the handler returns, so the
	// reader is buffered here in case the caller closes it.
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return fr.frc.ctx.Status(code).Send(data)
}

func (fr *FiberResponse) Redirect(code int, url string) error {
	fr.frc.written = true
	return fr.frc.ctx.Redirect(url, code)
}

func (fr *FiberResponse) NoContent(code int) error {
	fr.frc.written = true
	return fr.frc.ctx.SendStatus(code)
}

func (fr *FiberResponse) SetCookie(cookie waypoint.Cookie) {
	fiberCookie := &fiber.Cookie{
		Name:     cookie.Name,
		Value:    cookie.Value,
		Path:     cookie.Path,
		Domain:   cookie.Domain,
		Expires:  cookie.Expires,
		MaxAge:   cookie.MaxAge,
		Secure:   cookie.Secure,
		HTTPOnly: cookie.HttpOnly,
	}

	switch cookie.SameSite {
	case waypoint.SameSiteStrictMode:
		fiberCookie.SameSite = fiber.CookieSameSiteStrictMode
	case waypoint.SameSiteNoneMode:
		fiberCookie.SameSite = fiber.CookieSameSiteNoneMode
	default:
		fiberCookie.SameSite = fiber.CookieSameSiteLaxMode
	}

	fr.frc.ctx.Cookie(fiberCookie)
}
