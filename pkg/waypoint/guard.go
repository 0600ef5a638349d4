package waypoint

import (
	"fmt"
	"reflect"
	"regexp"
)

// Guard is a pre-handler check. Guards of the same Type form a family
// that composes independently of other families.
type Guard interface {
	Type() string
	Validate(ctx RequestContext) (bool, error)
}

// GuardGroup is an ordered set of guards of one type declared together.
type GuardGroup struct {
	Type   string
	Mount  MountType
	Guards []Guard
}

// Integrate groups guards that append to the inherited set for their type.
func Integrate(guards ...Guard) GuardGroup {
	return GuardGroup{Type: groupType(guards), Mount: MountIntegrate, Guards: guards}
}

// Override groups guards that replace the inherited set for their type.
func Override(guards ...Guard) GuardGroup {
	return GuardGroup{Type: groupType(guards), Mount: MountOverride, Guards: guards}
}

// OverrideType clears the inherited guards of a type, leaving none.
func OverrideType(guardType string) GuardGroup {
	return GuardGroup{Type: guardType, Mount: MountOverride}
}

func groupType(guards []Guard) string {
	if len(guards) == 0 {
		return ""
	}
	return guards[0].Type()
}

// PathMatcher decides whether a guard applies to a request path.
type PathMatcher interface {
	MatchPath(path string) bool
}

// MatchFunc adapts a predicate to PathMatcher.
type MatchFunc func(path string) bool

func (f MatchFunc) MatchPath(path string) bool { return f(path) }

type regexpMatcher struct {
	re *regexp.Regexp
}

func (m regexpMatcher) MatchPath(path string) bool { return m.re.MatchString(path) }

// MatchRegexp compiles pattern into a PathMatcher. It panics on an
// invalid pattern, as regexp.MustCompile does.
func MatchRegexp(pattern string) PathMatcher {
	return regexpMatcher{re: regexp.MustCompile(pattern)}
}

// FilteredGuard restricts a guard to paths matching Include (when set)
// and not matching Exclude.
type FilteredGuard struct {
	Guard
	Include []PathMatcher
	Exclude []PathMatcher
}

// Filter wraps g with include/exclude path matchers.
func Filter(g Guard, include, exclude []PathMatcher) *FilteredGuard {
	return &FilteredGuard{Guard: g, Include: include, Exclude: exclude}
}

// Applies reports whether the guard runs for path.
func (f *FilteredGuard) Applies(path string) bool {
	if len(f.Include) > 0 {
		matched := false
		for _, m := range f.Include {
			if m.MatchPath(path) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, m := range f.Exclude {
		if m.MatchPath(path) {
			return false
		}
	}
	return true
}

// NewGuard builds a Guard from a validation function.
func NewGuard(guardType string, validate func(RequestContext) (bool, error)) Guard {
	return &funcGuard{guardType: guardType, validate: validate}
}

type funcGuard struct {
	guardType string
	validate  func(RequestContext) (bool, error)
}

func (g *funcGuard) Type() string { return g.guardType }

func (g *funcGuard) Validate(ctx RequestContext) (bool, error) { return g.validate(ctx) }

// GuardMiddleware runs g ahead of the handler. The guard is skipped when
// it is not part of the current action's effective guard list or its
// path filters exclude the request. A false result without an error
// becomes Forbidden.
func GuardMiddleware(g Guard) MiddlewareFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx RequestContext) error {
			if !guardApplies(g, ctx) {
				return next(ctx)
			}
			ok, err := g.Validate(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return ErrForbidden("Forbidden")
			}
			return next(ctx)
		}
	}
}

func guardApplies(g Guard, ctx RequestContext) bool {
	mc, ok := ModuleFrom(ctx)
	if !ok || mc.Action == nil || !mc.Action.Expects(g) {
		return false
	}
	if f, ok := g.(interface{ Applies(string) bool }); ok {
		return f.Applies(ctx.Path())
	}
	return true
}

// checkComparable rejects guards that cannot be compared by identity.
func checkComparable(g Guard) error {
	if g == nil {
		return fmt.Errorf("nil guard")
	}
	if t := reflect.TypeOf(g); !t.Comparable() {
		return fmt.Errorf("guard type %s is not comparable; use a pointer", t)
	}
	return nil
}
