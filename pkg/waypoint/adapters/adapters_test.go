package adapters

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/mux"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toyz/waypoint/pkg/waypoint"
)

type greetController struct{}

func (c *greetController) Declare(d *waypoint.Declaration) {
	d.Controller("/greet")
	d.Action("Hello").Get("/hello").Query(0, "name", "string")
	d.Action("Echo").Post("/echo").Body(0, "", map[string]any{"message": "string"}).
		Returns(http.StatusOK, map[string]any{"message": "string"})
	d.Action("Cookie").Get("/cookie")
}

func (c *greetController) Hello(name string) string {
	return "Hello " + name
}

func (c *greetController) Echo(body map[string]any) map[string]any {
	return body
}

func (c *greetController) Cookie() *waypoint.Response {
	return waypoint.OK("baked").WithCookie(waypoint.Cookie{Name: "flavor", Value: "oat", Path: "/"})
}

func newTestApp(t *testing.T) *waypoint.App {
	t.Helper()
	app := waypoint.New()
	require.NoError(t, app.Register(&greetController{}))
	require.NoError(t, app.Build())
	return app
}

type hostCase struct {
	name  string
	serve func(t *testing.T, app *waypoint.App) func(*http.Request) *http.Response
}

func recorderServe(h http.Handler) func(*http.Request) *http.Response {
	return func(req *http.Request) *http.Response {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Result()
	}
}

func hosts() []hostCase {
	return []hostCase{
		{"nethttp", func(t *testing.T, app *waypoint.App) func(*http.Request) *http.Response {
			serveMux := http.NewServeMux()
			serveMux.HandleFunc("/native", func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "native")
			})
			serveMux.Handle("/", MarkNotFound())
			return recorderServe(Middleware(app)(serveMux))
		}},
		{"echo", func(t *testing.T, app *waypoint.App) func(*http.Request) *http.Response {
			e := echo.New()
			Echo(e, app)
			e.GET("/native", func(c echo.Context) error { return c.String(http.StatusOK, "native") })
			return recorderServe(e)
		}},
		{"gin", func(t *testing.T, app *waypoint.App) func(*http.Request) *http.Response {
			gin.SetMode(gin.TestMode)
			engine := gin.New()
			Gin(engine, app)
			engine.GET("/native", func(c *gin.Context) { c.String(http.StatusOK, "native") })
			return recorderServe(engine)
		}},
		{"fiber", func(t *testing.T, app *waypoint.App) func(*http.Request) *http.Response {
			f := fiber.New()
			Fiber(f, app)
			f.Get("/native", func(c *fiber.Ctx) error { return c.SendString("native") })
			return func(req *http.Request) *http.Response {
				resp, err := f.Test(req, -1)
				require.NoError(t, err)
				return resp
			}
		}},
		{"chi", func(t *testing.T, app *waypoint.App) func(*http.Request) *http.Response {
			r := chi.NewRouter()
			Chi(r, app)
			r.Get("/native", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "native") })
			return recorderServe(r)
		}},
		{"mux", func(t *testing.T, app *waypoint.App) func(*http.Request) *http.Response {
			r := mux.NewRouter()
			r.HandleFunc("/native", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "native") }).Methods(http.MethodGet)
			Mux(r, app)
			return recorderServe(r)
		}},
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}

func TestHosts_RoutesAppActions(t *testing.T) {
	for _, host := range hosts() {
		t.Run(host.name, func(t *testing.T) {
			serve := host.serve(t, newTestApp(t))

			resp := serve(httptest.NewRequest(http.MethodGet, "/greet/hello?name=vincent", nil))
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "Hello vincent", readBody(t, resp))
		})
	}
}

func TestHosts_ParsesJSONBody(t *testing.T) {
	for _, host := range hosts() {
		t.Run(host.name, func(t *testing.T) {
			serve := host.serve(t, newTestApp(t))

			req := httptest.NewRequest(http.MethodPost, "/greet/echo", strings.NewReader(`{"message":"hi","extra":true}`))
			req.Header.Set("Content-Type", "application/json")
			resp := serve(req)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, `{"message":"hi"}`, readBody(t, resp))
		})
	}
}

func TestHosts_MissingParameter(t *testing.T) {
	for _, host := range hosts() {
		t.Run(host.name, func(t *testing.T) {
			serve := host.serve(t, newTestApp(t))

			resp := serve(httptest.NewRequest(http.MethodGet, "/greet/hello", nil))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.JSONEq(t, `{"code":400,"message":"name is required"}`, readBody(t, resp))
		})
	}
}

func TestHosts_NativeRoutesStillServed(t *testing.T) {
	for _, host := range hosts() {
		t.Run(host.name, func(t *testing.T) {
			serve := host.serve(t, newTestApp(t))

			resp := serve(httptest.NewRequest(http.MethodGet, "/native", nil))
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "native", readBody(t, resp))
		})
	}
}

func TestHosts_UnmatchedIsNotFound(t *testing.T) {
	for _, host := range hosts() {
		t.Run(host.name, func(t *testing.T) {
			serve := host.serve(t, newTestApp(t))

			resp := serve(httptest.NewRequest(http.MethodGet, "/nowhere", nil))
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.JSONEq(t, `{"code":404,"message":"Not Found"}`, readBody(t, resp))
		})
	}
}

func TestHosts_SetsCookies(t *testing.T) {
	for _, host := range hosts() {
		t.Run(host.name, func(t *testing.T) {
			serve := host.serve(t, newTestApp(t))

			resp := serve(httptest.NewRequest(http.MethodGet, "/greet/cookie", nil))
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "baked", readBody(t, resp))

			var found bool
			for _, c := range resp.Cookies() {
				if c.Name == "flavor" {
					found = true
					assert.Equal(t, "oat", c.Value)
				}
			}
			assert.True(t, found, "cookie not set")
		})
	}
}

func TestHandler_ServesAppAlone(t *testing.T) {
	app := newTestApp(t)
	rec := httptest.NewRecorder()
	Handler(app).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/greet/hello?name=ada", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Hello ada", rec.Body.String())
}

func TestHTTPRequestContext_RealIP(t *testing.T) {
	proxies, err := waypoint.ParseTrustedProxies([]string{"10.0.0.0/8", "fd00::1"})
	require.NoError(t, err)
	app := waypoint.New(waypoint.WithTrustedProxies(proxies...))

	tests := []struct {
		name    string
		trusted func(string) bool
		headers map[string]string
		remote  string
		want    string
	}{
		{"untrusted forwarded", app.TrustsProxy, map[string]string{"X-Forwarded-For": "6.6.6.6"}, "1.2.3.4:80", "1.2.3.4"},
		{"untrusted real ip", app.TrustsProxy, map[string]string{"X-Real-IP": "6.6.6.6"}, "1.2.3.4:80", "1.2.3.4"},
		{"no proxies configured", nil, map[string]string{"X-Forwarded-For": "6.6.6.6"}, "10.0.0.9:80", "10.0.0.9"},
		{"trusted forwarded", app.TrustsProxy, map[string]string{"X-Forwarded-For": "5.5.5.5"}, "10.0.0.9:80", "5.5.5.5"},
		{"trusted chain", app.TrustsProxy, map[string]string{"X-Forwarded-For": "6.6.6.6, 5.5.5.5, 10.0.0.2"}, "10.0.0.9:80", "5.5.5.5"},
		{"all hops trusted", app.TrustsProxy, map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "10.0.0.9:80", "10.0.0.1"},
		{"trusted real ip", app.TrustsProxy, map[string]string{"X-Real-IP": "5.5.5.5"}, "10.0.0.9:80", "5.5.5.5"},
		{"trusted ipv6 peer", app.TrustsProxy, map[string]string{"X-Forwarded-For": "5.5.5.5"}, "[fd00::1]:80", "5.5.5.5"},
		{"trusted without headers", app.TrustsProxy, nil, "10.0.0.9:80", "10.0.0.9"},
		{"remote", app.TrustsProxy, nil, "1.2.3.4:80", "1.2.3.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			ctx := NewHTTPRequestContext(httptest.NewRecorder(), req)
			ctx.trusted = tt.trusted
			assert.Equal(t, tt.want, ctx.RealIP())
		})
	}
}

func TestEchoAndGin_RealIPIgnoresUntrustedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.2.3.4:80"
	req.Header.Set("X-Forwarded-For", "6.6.6.6")

	e := echo.New()
	ec := NewEchoRequestContext(e.NewContext(req, httptest.NewRecorder()))
	assert.Equal(t, "1.2.3.4", ec.RealIP())

	gc, _ := gin.CreateTestContext(httptest.NewRecorder())
	gc.Request = req
	assert.Equal(t, "1.2.3.4", NewGinRequestContext(gc).RealIP())
}

func TestParseTrustedProxies(t *testing.T) {
	nets, err := waypoint.ParseTrustedProxies([]string{"192.0.2.1", " 10.0.0.0/8 ", ""})
	require.NoError(t, err)
	require.Len(t, nets, 2)
	assert.Equal(t, "192.0.2.1/32", nets[0].String())

	_, err = waypoint.ParseTrustedProxies([]string{"not-an-ip"})
	assert.EqualError(t, err, `invalid trusted proxy "not-an-ip"`)
}

func TestHTTPRequestContext_BodyIsReadable(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("payload"))
	ctx := NewHTTPRequestContext(httptest.NewRecorder(), req)

	first, err := ctx.Request().Body()
	require.NoError(t, err)
	second, err := ctx.Request().Body()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(first))
	assert.Equal(t, first, second)

	assert.Equal(t, "payload", string(mustRead(t, ctx.HTTPRequest().Body)), "body is restored for downstream handlers")
}

func mustRead(t *testing.T, r io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return b
}
