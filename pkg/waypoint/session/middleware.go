package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toyz/waypoint/pkg/waypoint"
)

// Config controls the session cookie and lifetime.
type Config struct {
	Store      Store
	CookieName string
	Path       string
	Domain     string
	TTL        time.Duration
	Secure     bool
	SameSite   waypoint.SameSiteMode
	Logger     *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.CookieName == "" {
		c.CookieName = "waypoint_session"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.SameSite == waypoint.SameSiteDefaultMode {
		c.SameSite = waypoint.SameSiteLaxMode
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Store == nil {
		c.Store = NewMemoryStore()
	}
	return c
}

// Middleware loads or starts the client's session and stores it under
// waypoint.SessionKey. The cookie is written when the handler first
// changes the session: a live cookie for writes, an expired one for
// Destroy. Modified sessions are saved after the handler returns, so
// requests that never touch their session leave nothing in the store.
func Middleware(cfg Config) waypoint.MiddlewareFunc {
	cfg = cfg.withDefaults()

	return func(next waypoint.HandlerFunc) waypoint.HandlerFunc {
		return func(ctx waypoint.RequestContext) error {
			sess, fresh := load(ctx, cfg)
			sess.mu.Lock()
			sess.onChange = cookieWriter(ctx, cfg)
			sess.mu.Unlock()
			ctx.Set(waypoint.SessionKey, sess)

			err := next(ctx)

			dirty, destroyed := sess.state()
			switch {
			case destroyed:
				if fresh {
					break
				}
				if derr := cfg.Store.Delete(ctx.Context(), sess.ID); derr != nil {
					cfg.Logger.Warn("session delete failed", zap.String("session", sess.ID), zap.Error(derr))
				}
			case dirty:
				if serr := cfg.Store.Save(ctx.Context(), sess, cfg.TTL); serr != nil {
					cfg.Logger.Error("session save failed", zap.String("session", sess.ID), zap.Error(serr))
				}
			}
			return err
		}
	}
}

// cookieWriter sets the live cookie once, and the expired cookie once the
// session is destroyed.
func cookieWriter(ctx waypoint.RequestContext, cfg Config) func(*Session) {
	var live, expired bool
	return func(s *Session) {
		cookie := waypoint.Cookie{
			Name:     cfg.CookieName,
			Path:     cfg.Path,
			Domain:   cfg.Domain,
			Secure:   cfg.Secure,
			HttpOnly: true,
			SameSite: cfg.SameSite,
		}
		_, destroyed := s.state()
		switch {
		case destroyed && !expired:
			expired = true
			cookie.MaxAge = -1
		case !destroyed && !live:
			live = true
			cookie.Value = s.ID
			cookie.MaxAge = int(cfg.TTL.Seconds())
		default:
			return
		}
		ctx.Response().SetCookie(cookie)
	}
}

func load(ctx waypoint.RequestContext, cfg Config) (*Session, bool) {
	cookie, err := ctx.Request().Cookie(cfg.CookieName)
	if err == nil && cookie.Value != "" {
		sess, err := cfg.Store.Load(ctx.Context(), cookie.Value)
		if err == nil {
			return sess, false
		}
		if !errors.Is(err, ErrNotFound) {
			cfg.Logger.Warn("session load failed", zap.String("session", cookie.Value), zap.Error(err))
		}
	}
	return New(uuid.NewString()), true
}
