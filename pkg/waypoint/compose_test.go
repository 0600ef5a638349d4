package waypoint

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorder(trace *[]string, name string) MiddlewareFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx RequestContext) error {
			*trace = append(*trace, name)
			return next(ctx)
		}
	}
}

func TestChain_FirstMiddlewareRunsOutermost(t *testing.T) {
	var trace []string
	h := Chain(func(RequestContext) error {
		trace = append(trace, "handler")
		return nil
	}, recorder(&trace, "a"), recorder(&trace, "b"), recorder(&trace, "c"))

	require.NoError(t, h(newFakeContext(http.MethodGet, "/")))
	assert.Equal(t, []string{"a", "b", "c", "handler"}, trace)
}

func TestMergeMiddleware(t *testing.T) {
	app := []MiddlewarePack{{Names: []string{"app"}}}
	ctrl := []MiddlewarePack{{Names: []string{"ctrl"}}}

	t.Run("integrate keeps outer scopes first", func(t *testing.T) {
		merged := mergeMiddleware(app, ctrl, []MiddlewarePack{{Names: []string{"action"}}})
		var names []string
		for _, p := range merged {
			names = append(names, p.Names...)
		}
		assert.Equal(t, []string{"app", "ctrl", "action"}, names)
	})

	t.Run("override discards inherited", func(t *testing.T) {
		merged := mergeMiddleware(app, ctrl, []MiddlewarePack{{Names: []string{"action"}, Mount: MountOverride}})
		require.Len(t, merged, 1)
		assert.Equal(t, []string{"action"}, merged[0].Names)
	})
}

func TestMergeGuards(t *testing.T) {
	a := NewGuard("auth", allow)
	b := NewGuard("auth", allow)
	r := NewGuard("role", allow)

	t.Run("integrate appends per type", func(t *testing.T) {
		merged := mergeGuards(
			[]GuardGroup{Integrate(a)},
			[]GuardGroup{Integrate(r)},
			[]GuardGroup{Integrate(b)},
		)
		assert.Equal(t, []Guard{a, b, r}, flattenGuards(merged))
	})

	t.Run("override replaces only its type", func(t *testing.T) {
		merged := mergeGuards(
			[]GuardGroup{Integrate(a), Integrate(r)},
			nil,
			[]GuardGroup{Override(b)},
		)
		assert.Equal(t, []Guard{b, r}, flattenGuards(merged))
	})

	t.Run("override type clears", func(t *testing.T) {
		merged := mergeGuards(
			[]GuardGroup{Integrate(a)},
			[]GuardGroup{OverrideType("auth")},
		)
		assert.Empty(t, flattenGuards(merged))
	})
}

func TestPackMiddleware_Filter(t *testing.T) {
	var trace []string
	packs := []MiddlewarePack{
		{Middlewares: []MiddlewareFunc{recorder(&trace, "always")}},
		{
			Middlewares: []MiddlewareFunc{recorder(&trace, "admin")},
			Filter:      func(ctx RequestContext) bool { return ctx.Path() == "/admin" },
		},
	}
	h := Chain(func(RequestContext) error { return nil }, packMiddleware(packs)...)

	require.NoError(t, h(newFakeContext(http.MethodGet, "/public")))
	assert.Equal(t, []string{"always"}, trace)

	trace = nil
	require.NoError(t, h(newFakeContext(http.MethodGet, "/admin")))
	assert.Equal(t, []string{"always", "admin"}, trace)
}

func guardedContext(path string, guards ...Guard) *fakeContext {
	ctx := newFakeContext(http.MethodGet, path)
	action := &ActionModule{guardIndex: guards}
	ctx.Set(moduleContextKey, &ModuleContext{Action: action})
	return ctx
}

func TestGuardMiddleware(t *testing.T) {
	ok := func(RequestContext) error { return nil }

	t.Run("false result is forbidden", func(t *testing.T) {
		g := NewGuard("auth", deny)
		err := GuardMiddleware(g)(ok)(guardedContext("/", g))

		var httpErr *HttpError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
		assert.Equal(t, "Forbidden", httpErr.Message)
	})

	t.Run("guard error propagates", func(t *testing.T) {
		g := NewGuard("auth", func(RequestContext) (bool, error) {
			return false, ErrUnauthorized("missing token")
		})
		err := GuardMiddleware(g)(ok)(guardedContext("/", g))

		var httpErr *HttpError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	})

	t.Run("guards not expected by the action are skipped", func(t *testing.T) {
		g := NewGuard("auth", deny)
		other := NewGuard("auth", allow)
		assert.NoError(t, GuardMiddleware(g)(ok)(guardedContext("/", other)))
	})

	t.Run("path filters", func(t *testing.T) {
		g := Filter(NewGuard("auth", deny),
			[]PathMatcher{MatchRegexp(`^/admin`)},
			[]PathMatcher{MatchFunc(func(p string) bool { return p == "/admin/health" })})

		assert.Error(t, GuardMiddleware(g)(ok)(guardedContext("/admin/users", g)))
		assert.NoError(t, GuardMiddleware(g)(ok)(guardedContext("/admin/health", g)))
		assert.NoError(t, GuardMiddleware(g)(ok)(guardedContext("/public", g)))
	})
}

type valueGuard struct {
	tags []string
}

func (valueGuard) Type() string                          { return "value" }
func (valueGuard) Validate(RequestContext) (bool, error) { return true, nil }

func TestCheckComparable(t *testing.T) {
	assert.NoError(t, checkComparable(NewGuard("auth", allow)))
	assert.NoError(t, checkComparable(&valueGuard{}))
	assert.Error(t, checkComparable(valueGuard{}))
	assert.Error(t, checkComparable(nil))
}

func TestMiddlewareRegistry(t *testing.T) {
	r := NewMiddlewareRegistry()
	mw := func(next HandlerFunc) HandlerFunc { return next }

	require.NoError(t, r.Register("auth", mw))
	assert.Error(t, r.Register("auth", mw))
	assert.Error(t, r.Register("", mw))
	assert.Error(t, r.Register("nil", nil))

	got, ok := r.Get("auth")
	assert.True(t, ok)
	assert.Equal(t, "auth", got.Name)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	require.NoError(t, r.Register("audit", mw))
	assert.Equal(t, []string{"audit", "auth"}, r.Names())
}
