// Package server hosts a built waypoint App on one of the supported
// routers and manages its listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/mux"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/toyz/waypoint/pkg/waypoint"
	"github.com/toyz/waypoint/pkg/waypoint/adapters"
)

// HealthPath is served natively by every driver, next to the app's routes.
const HealthPath = "/healthz"

// Server is a router hosting a waypoint App.
type Server interface {
	Name() string
	// Serve accepts connections on l until Stop is called.
	Serve(l net.Listener) error
	Stop(ctx context.Context) error
}

// Options tune the host router.
type Options struct {
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// New creates the server for driver with app mounted on it.
func New(driver string, app *waypoint.App, opts Options) (Server, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	switch driver {
	case "echo":
		return newEcho(app, opts), nil
	case "gin":
		return newGin(app, opts), nil
	case "fiber":
		return newFiber(app, opts), nil
	case "chi":
		return newHTTPServer("chi", limitBody(chiHandler(app), opts.MaxBodyBytes)), nil
	case "mux":
		return newHTTPServer("mux", limitBody(muxHandler(app), opts.MaxBodyBytes)), nil
	case "nethttp":
		return newHTTPServer("nethttp", limitBody(netHTTPHandler(app), opts.MaxBodyBytes)), nil
	default:
		return nil, fmt.Errorf("unknown server driver %q", driver)
	}
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound so bind errors surface to the caller.
func Start(s Server, addr string, logger *zap.Logger) (net.Addr, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	go func() {
		if err := s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.String("driver", s.Name()), zap.Error(err))
		}
	}()
	return l.Addr(), nil
}

func healthy(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

type echoServer struct {
	engine *echo.Echo
}

func newEcho(app *waypoint.App, opts Options) *echoServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.Secure())
	if opts.MaxBodyBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", opts.MaxBodyBytes)))
	}
	e.GET(HealthPath, echo.WrapHandler(http.HandlerFunc(healthy)))
	adapters.Echo(e, app)
	return &echoServer{engine: e}
}

func (s *echoServer) Name() string { return "echo" }

func (s *echoServer) Serve(l net.Listener) error {
	s.engine.Listener = l
	return s.engine.Start("")
}

func (s *echoServer) Stop(ctx context.Context) error { return s.engine.Shutdown(ctx) }

func (s *echoServer) Handler() http.Handler { return s.engine }

type ginServer struct {
	*httpServer
}

func newGin(app *waypoint.App, opts Options) *ginServer {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET(HealthPath, gin.WrapF(healthy))
	adapters.Gin(engine, app)
	return &ginServer{httpServer: newHTTPServer("gin", limitBody(engine, opts.MaxBodyBytes))}
}

type fiberServer struct {
	app *fiber.App
}

func newFiber(app *waypoint.App, opts Options) *fiberServer {
	cfg := fiber.Config{DisableStartupMessage: true}
	if opts.MaxBodyBytes > 0 {
		cfg.BodyLimit = int(opts.MaxBodyBytes)
	}
	f := fiber.New(cfg)
	adapters.Fiber(f, app)
	f.Get(HealthPath, func(c *fiber.Ctx) error { return c.SendString("ok") })
	return &fiberServer{app: f}
}

func (s *fiberServer) Name() string { return "fiber" }

func (s *fiberServer) Serve(l net.Listener) error { return s.app.Listener(l) }

func (s *fiberServer) Stop(ctx context.Context) error { return s.app.ShutdownWithContext(ctx) }

// Test runs a request through fiber without a listener.
func (s *fiberServer) Test(req *http.Request) (*http.Response, error) { return s.app.Test(req, -1) }

// limitBody caps request bodies for the drivers served by net/http.
func limitBody(h http.Handler, n int64) http.Handler {
	if n <= 0 {
		return h
	}
	return http.MaxBytesHandler(h, n)
}

func chiHandler(app *waypoint.App) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	adapters.Chi(r, app)
	r.Get(HealthPath, healthy)
	return r
}

func muxHandler(app *waypoint.App) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(HealthPath, healthy).Methods(http.MethodGet)
	adapters.Mux(r, app)
	return r
}

func netHTTPHandler(app *waypoint.App) http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("GET "+HealthPath, healthy)
	m.Handle("/", adapters.Handler(app))
	return m
}

// httpServer runs any http.Handler on net/http.
type httpServer struct {
	name    string
	handler http.Handler
	srv     *http.Server
}

func newHTTPServer(name string, h http.Handler) *httpServer {
	return &httpServer{
		name:    name,
		handler: h,
		srv:     &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second},
	}
}

func (s *httpServer) Name() string { return s.name }

func (s *httpServer) Serve(l net.Listener) error { return s.srv.Serve(l) }

func (s *httpServer) Stop(ctx context.Context) error { return s.srv.Shutdown(ctx) }

func (s *httpServer) Handler() http.Handler { return s.handler }
