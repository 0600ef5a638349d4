package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toyz/waypoint/pkg/waypoint"
)

type pingController struct{}

func (c *pingController) Declare(d *waypoint.Declaration) {
	d.Controller("/ping")
	d.Action("Ping").Get("/")
	d.Action("Echo").Post("/echo").Body(0, "msg", "string")
}

func (c *pingController) Ping() string           { return "pong" }
func (c *pingController) Echo(msg string) string { return msg }

func newApp(t *testing.T) *waypoint.App {
	t.Helper()
	app := waypoint.New()
	require.NoError(t, app.Register(&pingController{}))
	require.NoError(t, app.Build())
	return app
}

// roundTrip sends req through s without opening a listener.
func roundTrip(t *testing.T, s Server, req *http.Request) (int, string) {
	t.Helper()
	switch srv := s.(type) {
	case *fiberServer:
		res, err := srv.Test(req)
		require.NoError(t, err)
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		return res.StatusCode, string(body)
	case interface{ Handler() http.Handler }:
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec.Code, rec.Body.String()
	}
	t.Fatalf("driver %s cannot be exercised in-process", s.Name())
	return 0, ""
}

func TestNew_Drivers(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, driver := range []string{"nethttp", "echo", "gin", "fiber", "chi", "mux"} {
		t.Run(driver, func(t *testing.T) {
			s, err := New(driver, newApp(t), Options{MaxBodyBytes: 1 << 20})
			require.NoError(t, err)
			assert.Equal(t, driver, s.Name())

			status, body := roundTrip(t, s, httptest.NewRequest(http.MethodGet, "/ping", nil))
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "pong", body)

			status, body = roundTrip(t, s, httptest.NewRequest(http.MethodGet, HealthPath, nil))
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "ok", body)

			status, body = roundTrip(t, s, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
			assert.Equal(t, http.StatusNotFound, status)
			assert.JSONEq(t, `{"code":404,"message":"Not Found"}`, body)
		})
	}
}

func TestNew_BodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, driver := range []string{"nethttp", "echo", "gin", "fiber", "chi", "mux"} {
		t.Run(driver, func(t *testing.T) {
			s, err := New(driver, newApp(t), Options{MaxBodyBytes: 64})
			require.NoError(t, err)

			small := httptest.NewRequest(http.MethodPost, "/ping/echo", strings.NewReader(`{"msg":"hi"}`))
			small.Header.Set("Content-Type", "application/json")
			status, body := roundTrip(t, s, small)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "hi", body)

			// A MultiReader hides the length, so the body is sent chunked.
			chunked := httptest.NewRequest(http.MethodPost, "/ping/echo", io.MultiReader(
				strings.NewReader(`{"msg":"`),
				strings.NewReader(strings.Repeat("a", 256)),
				strings.NewReader(`"}`),
			))
			chunked.Header.Set("Content-Type", "application/json")
			require.EqualValues(t, -1, chunked.ContentLength)
			status, _ = roundTrip(t, s, chunked)
			assert.Equal(t, http.StatusRequestEntityTooLarge, status)
		})
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New("iris", newApp(t), Options{})
	assert.EqualError(t, err, `unknown server driver "iris"`)
}

func TestEcho_SecureHeaders(t *testing.T) {
	s, err := New("echo", newApp(t), Options{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.(*echoServer).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
}

func TestStartStop(t *testing.T) {
	s, err := New("nethttp", newApp(t), Options{})
	require.NoError(t, err)

	addr, err := Start(s, "127.0.0.1:0", zap.NewNop())
	require.NoError(t, err)

	res, err := http.Get("http://" + addr.String() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	_, err = http.Get("http://" + addr.String() + "/ping")
	assert.Error(t, err)
}

func TestStart_BindError(t *testing.T) {
	s, err := New("nethttp", newApp(t), Options{})
	require.NoError(t, err)

	_, err = Start(s, "256.0.0.1:0", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
