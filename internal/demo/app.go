package demo

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/toyz/waypoint/internal/config"
	"github.com/toyz/waypoint/pkg/waypoint"
	"github.com/toyz/waypoint/pkg/waypoint/guards"
	"github.com/toyz/waypoint/pkg/waypoint/inject"
	"github.com/toyz/waypoint/pkg/waypoint/middleware"
	"github.com/toyz/waypoint/pkg/waypoint/session"
)

// Options carries the collaborators NewApp cannot build from config alone.
// Redis is required when a backend is set to redis.
type Options struct {
	Config *config.Config
	Logger *zap.Logger
	Redis  redis.UniversalClient
}

// NewApp builds the demo app.
func NewApp(opts Options) (*waypoint.App, error) {
	cfg, logger := opts.Config, opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	proxies, err := waypoint.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}
	app := waypoint.New(
		waypoint.WithLogger(logger),
		waypoint.WithTrustedProxies(proxies...),
		waypoint.WithGlobalPrefix(waypoint.JoinPaths(cfg.App.GlobalPrefix, cfg.App.Version)),
		waypoint.WithResponseConversion(cfg.App.ConvertResponse),
		waypoint.WithBodyParser(&waypoint.DefaultBodyParser{
			MaxBytes:  cfg.App.MaxBodyBytes,
			UploadDir: cfg.App.UploadDir,
		}),
	)
	if err := RegisterSchemas(app.Schemas()); err != nil {
		return nil, err
	}

	sessions, err := sessionStore(cfg, opts.Redis)
	if err != nil {
		return nil, err
	}
	app.Use(
		middleware.RequestID(),
		middleware.AccessLog(logger),
		session.Middleware(session.Config{
			Store:      sessions,
			CookieName: cfg.Session.Cookie,
			TTL:        cfg.Session.TTL,
			Logger:     logger,
		}),
	)
	if err := app.RegisterMiddleware("no-store", noStore); err != nil {
		return nil, err
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("auth.jwt_secret is empty; using a random secret, tokens will not survive a restart")
	}
	limiter, err := rateLimiter(cfg, opts.Redis)
	if err != nil {
		return nil, err
	}

	providers := []any{
		NewNoteStore(),
		guards.NewJWTGuard(secret, guards.WithIssuer(cfg.Auth.Issuer)),
		guards.NewRateLimitGuard(limiter, guards.BySubject),
		NewNotesController,
		func(auth *guards.JWTGuard) *AuthController {
			return NewAuthController(auth, cfg.Auth.Admins)
		},
		&VisitsController{},
	}
	for _, p := range providers {
		if err := app.Provide(p, inject.Singleton); err != nil {
			return nil, err
		}
	}
	if err := app.RegisterType(
		(*AuthController)(nil),
		(*NotesController)(nil),
		(*VisitsController)(nil),
	); err != nil {
		return nil, err
	}

	if err := app.Build(); err != nil {
		return nil, err
	}
	return app, nil
}

func noStore(next waypoint.HandlerFunc) waypoint.HandlerFunc {
	return func(ctx waypoint.RequestContext) error {
		ctx.Response().SetHeader("Cache-Control", "no-store")
		return next(ctx)
	}
}

func sessionStore(cfg *config.Config, client redis.UniversalClient) (session.Store, error) {
	if cfg.Session.Backend != "redis" {
		return session.NewMemoryStore(), nil
	}
	if client == nil {
		return nil, fmt.Errorf("session backend is redis but no redis client was provided")
	}
	return session.NewRedisStore(client, "waypoint:session:"), nil
}

func rateLimiter(cfg *config.Config, client redis.UniversalClient) (guards.Limiter, error) {
	if cfg.RateLimit.Backend == "redis" {
		if client == nil {
			return nil, fmt.Errorf("rate limit backend is redis but no redis client was provided")
		}
		return guards.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, "waypoint:ratelimit:")
	}
	return guards.NewMemoryLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
}
