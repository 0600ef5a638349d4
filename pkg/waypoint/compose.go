package waypoint

// mergeMiddleware combines middleware packs from the outermost scope
// inward. An Override pack discards everything inherited before it.
func mergeMiddleware(scopes ...[]MiddlewarePack) []MiddlewarePack {
	var merged []MiddlewarePack
	for _, scope := range scopes {
		for _, pack := range scope {
			if pack.Mount == MountOverride {
				merged = nil
			}
			merged = append(merged, pack)
		}
	}
	return merged
}

// mergeGuards combines guard groups from the outermost scope inward,
// per guard type. Types keep the position of their first appearance;
// within a type guards run in merge order. An Override group discards
// the guards inherited for its type.
func mergeGuards(scopes ...[]GuardGroup) []GuardGroup {
	var (
		order  []string
		byType = make(map[string]*GuardGroup)
	)
	for _, scope := range scopes {
		for _, group := range scope {
			current, ok := byType[group.Type]
			if !ok {
				current = &GuardGroup{Type: group.Type, Mount: MountIntegrate}
				byType[group.Type] = current
				order = append(order, group.Type)
			}
			if group.Mount == MountOverride {
				current.Guards = nil
				current.Mount = MountOverride
			}
			current.Guards = append(current.Guards, group.Guards...)
		}
	}

	merged := make([]GuardGroup, 0, len(order))
	for _, t := range order {
		merged = append(merged, *byType[t])
	}
	return merged
}

// flattenGuards lists the guards of merged groups in execution order.
func flattenGuards(groups []GuardGroup) []Guard {
	var guards []Guard
	for _, g := range groups {
		guards = append(guards, g.Guards...)
	}
	return guards
}

// Chain composes middleware right to left so the first one runs outermost.
func Chain(h HandlerFunc, middlewares ...MiddlewareFunc) HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// packMiddleware expands packs into middleware, honoring pack filters.
func packMiddleware(packs []MiddlewarePack) []MiddlewareFunc {
	var out []MiddlewareFunc
	for _, pack := range packs {
		for _, mw := range pack.Middlewares {
			if pack.Filter == nil {
				out = append(out, mw)
				continue
			}
			out = append(out, filtered(pack.Filter, mw))
		}
	}
	return out
}

func filtered(filter func(RequestContext) bool, mw MiddlewareFunc) MiddlewareFunc {
	return func(next HandlerFunc) HandlerFunc {
		wrapped := mw(next)
		return func(ctx RequestContext) error {
			if !filter(ctx) {
				return next(ctx)
			}
			return wrapped(ctx)
		}
	}
}
