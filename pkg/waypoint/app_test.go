package waypoint_test

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toyz/waypoint/pkg/waypoint"
	"github.com/toyz/waypoint/pkg/waypoint/adapters"
	"github.com/toyz/waypoint/pkg/waypoint/inject"
)

type greeter struct {
	prefix string
}

type greetingController struct {
	greeter *greeter
}

func newGreetingController(g *greeter) *greetingController {
	return &greetingController{greeter: g}
}

func (c *greetingController) Declare(d *waypoint.Declaration) {
	d.Controller("/people")
	d.Action("Greeting").Get("/greeting").Query(0, "name", "string")
}

func (c *greetingController) Greeting(name string) string {
	return c.greeter.prefix + " " + name
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApp_RegisterTypeResolvesFromContainer(t *testing.T) {
	app := waypoint.New()
	require.NoError(t, app.Provide(&greeter{prefix: "Hello"}, inject.Singleton))
	require.NoError(t, app.Provide(newGreetingController, inject.Singleton))
	require.NoError(t, app.RegisterType((*greetingController)(nil)))
	require.NoError(t, app.Build())

	rec := do(t, adapters.Handler(app), httptest.NewRequest(http.MethodGet, "/people/greeting?name=vincent", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello vincent", rec.Body.String())
}

func TestApp_RegisterTypeWithoutProvider(t *testing.T) {
	app := waypoint.New()
	err := app.RegisterType((*greetingController)(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greetingController")
}

type trace struct {
	steps []string
}

func (tr *trace) middleware(name string) waypoint.MiddlewareFunc {
	return func(next waypoint.HandlerFunc) waypoint.HandlerFunc {
		return func(ctx waypoint.RequestContext) error {
			tr.steps = append(tr.steps, name)
			return next(ctx)
		}
	}
}

func (tr *trace) guard(guardType, name string, pass bool) waypoint.Guard {
	return waypoint.NewGuard(guardType, func(waypoint.RequestContext) (bool, error) {
		tr.steps = append(tr.steps, name)
		return pass, nil
	})
}

type adminController struct {
	tr *trace
}

func (c *adminController) Declare(d *waypoint.Declaration) {
	d.Controller("/admin").
		Use(c.tr.middleware("controller")).
		Guard(waypoint.Integrate(c.tr.guard("auth", "controller-auth", true)))

	d.Action("Dashboard").Get("/dashboard").
		Use(c.tr.middleware("action")).
		Guard(waypoint.Integrate(c.tr.guard("role", "action-role", true)))

	d.Action("Public").Get("/public").
		Guard(waypoint.OverrideType("auth"))

	d.Action("Locked").Get("/locked").
		Guard(waypoint.Override(c.tr.guard("auth", "locked-auth", false)))

	d.Action("Bare").Get("/bare").
		UsePack(waypoint.MiddlewarePack{Middlewares: []waypoint.MiddlewareFunc{c.tr.middleware("only")}, Mount: waypoint.MountOverride})
}

func (c *adminController) Dashboard() string { c.tr.steps = append(c.tr.steps, "handler"); return "ok" }
func (c *adminController) Public() string    { c.tr.steps = append(c.tr.steps, "handler"); return "ok" }
func (c *adminController) Locked() string    { c.tr.steps = append(c.tr.steps, "handler"); return "ok" }
func (c *adminController) Bare() string      { c.tr.steps = append(c.tr.steps, "handler"); return "ok" }

func newAdminApp(t *testing.T) (*waypoint.App, *trace) {
	t.Helper()
	tr := &trace{}
	app := waypoint.New()
	app.Use(tr.middleware("pipeline"))
	app.Mount(waypoint.MiddlewarePack{Middlewares: []waypoint.MiddlewareFunc{tr.middleware("app")}})
	app.Guard(waypoint.Integrate(tr.guard("auth", "app-auth", true)))
	require.NoError(t, app.Register(&adminController{tr: tr}))
	require.NoError(t, app.Build())
	return app, tr
}

func TestApp_StackOrder(t *testing.T) {
	tests := []struct {
		path   string
		status int
		steps  []string
	}{
		{
			path:   "/admin/dashboard",
			status: http.StatusOK,
			steps:  []string{"pipeline", "app", "controller", "action", "app-auth", "controller-auth", "action-role", "handler"},
		},
		{
			path:   "/admin/public",
			status: http.StatusOK,
			steps:  []string{"pipeline", "app", "controller", "handler"},
		},
		{
			path:   "/admin/locked",
			status: http.StatusForbidden,
			steps:  []string{"pipeline", "app", "controller", "locked-auth"},
		},
		{
			path:   "/admin/bare",
			status: http.StatusOK,
			steps:  []string{"pipeline", "only", "app-auth", "controller-auth", "handler"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			app, tr := newAdminApp(t)
			rec := do(t, adapters.Handler(app), httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.steps, tr.steps)
		})
	}
}

func TestApp_ForbiddenBody(t *testing.T) {
	app, _ := newAdminApp(t)
	rec := do(t, adapters.Handler(app), httptest.NewRequest(http.MethodGet, "/admin/locked", nil))
	assert.JSONEq(t, `{"code":403,"message":"Forbidden"}`, rec.Body.String())
}

func TestApp_RouteIntrospection(t *testing.T) {
	app, _ := newAdminApp(t)

	routes := app.Routes()
	require.Len(t, routes, 4)
	byHandler := map[string]waypoint.RouteInfo{}
	for _, r := range routes {
		byHandler[r.HandlerName] = r
	}
	assert.Equal(t, []string{"auth", "role"}, byHandler["Dashboard"].Guards)
	assert.Empty(t, byHandler["Public"].Guards)
	assert.Equal(t, "adminController", byHandler["Public"].ControllerName)
}

type uploadController struct{}

func (c *uploadController) Declare(d *waypoint.Declaration) {
	d.Controller("/uploads")
	d.Action("Create").Post("/").
		Body(0, "title", "string").
		Body(1, "file", "file")
}

func (c *uploadController) Create(title string, file waypoint.IncomingFile) (map[string]any, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defer os.Remove(file.Path)

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"title":    title,
		"filename": file.Filename,
		"mime":     file.MimeType,
		"content":  string(content),
	}, nil
}

func TestApp_MultipartUpload(t *testing.T) {
	app := waypoint.New(waypoint.WithBodyParser(&waypoint.DefaultBodyParser{UploadDir: t.TempDir()}))
	require.NoError(t, app.Register(&uploadController{}))
	require.NoError(t, app.Build())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "notes"))
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = io.Copy(part, strings.NewReader("plain text content"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(t, adapters.Handler(app), req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"title": "notes",
		"filename": "notes.txt",
		"mime": "text/plain; charset=utf-8",
		"content": "plain text content"
	}`, rec.Body.String())
}

func TestApp_MultipartMissingFile(t *testing.T) {
	app := waypoint.New(waypoint.WithBodyParser(&waypoint.DefaultBodyParser{UploadDir: t.TempDir()}))
	require.NoError(t, app.Register(&uploadController{}))
	require.NoError(t, app.Build())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "notes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(t, adapters.Handler(app), req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"code":400,"message":"file is required"}`, rec.Body.String())
}

func TestApp_BodyTooLarge(t *testing.T) {
	app := waypoint.New(waypoint.WithBodyParser(&waypoint.DefaultBodyParser{MaxBytes: 8}))
	require.NoError(t, app.Register(&uploadController{}))
	require.NoError(t, app.Build())

	req := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader(`{"title":"far too long"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, adapters.Handler(app), req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// endless yields 'a' forever.
type endless struct{ read int }

func (e *endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	e.read += len(p)
	return len(p), nil
}

func TestApp_ChunkedBodyTooLarge(t *testing.T) {
	app := waypoint.New(waypoint.WithBodyParser(&waypoint.DefaultBodyParser{MaxBytes: 64}))
	require.NoError(t, app.Register(&uploadController{}))
	require.NoError(t, app.Build())

	src := &endless{}
	req := httptest.NewRequest(http.MethodPost, "/uploads", io.MultiReader(strings.NewReader(`{"title":"`), src))
	req.Header.Set("Content-Type", "application/json")
	require.EqualValues(t, -1, req.ContentLength)
	rec := do(t, adapters.Handler(app), req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"code":413,"message":"request body too large"}`, rec.Body.String())
	assert.Less(t, src.read, 1<<20, "reading stops near the limit")
}

func TestApp_MultipartTooLarge(t *testing.T) {
	app := waypoint.New(waypoint.WithBodyParser(&waypoint.DefaultBodyParser{
		MaxMultipartBytes: 512,
		UploadDir:         t.TempDir(),
	}))
	require.NoError(t, app.Register(&uploadController{}))
	require.NoError(t, app.Build())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "big"))
	part, err := mw.CreateFormFile("file", "big.txt")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), 4096))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/uploads", io.MultiReader(&buf))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(t, adapters.Handler(app), req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestApp_ListenersSeeUncaughtErrors(t *testing.T) {
	app := waypoint.New()
	require.NoError(t, app.Register(&uploadController{}))
	require.NoError(t, app.Build())

	var kinds []waypoint.ErrorKind
	app.OnError(func(e waypoint.ErrorEvent) { kinds = append(kinds, e.Kind) })
	app.Use(func(next waypoint.HandlerFunc) waypoint.HandlerFunc {
		return func(ctx waypoint.RequestContext) error {
			panic("pipeline exploded")
		}
	})

	rec := do(t, adapters.Handler(app), httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"code":500,"message":"Internal Server Error"}`, rec.Body.String())
	assert.Equal(t, []waypoint.ErrorKind{waypoint.ErrorKindUncaught}, kinds)
}

func TestApp_Built(t *testing.T) {
	app := waypoint.New()
	require.NoError(t, app.Register(&uploadController{}))
	assert.False(t, app.Built())

	require.NoError(t, app.Build())
	assert.True(t, app.Built())

	require.NoError(t, app.Register(&adminController{tr: &trace{}}))
	assert.False(t, app.Built(), "registering invalidates the build")
}
