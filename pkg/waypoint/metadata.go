package waypoint

import (
	"reflect"
	"sync"
)

// MetaKey is the semantic key of a metadata entry.
type MetaKey string

const (
	MetaController MetaKey = "controller"
	MetaAction     MetaKey = "action"
	MetaParams     MetaKey = "params"
	MetaResponses  MetaKey = "responses"
	MetaMiddleware MetaKey = "middleware"
	MetaGuards     MetaKey = "guards"
)

type metaEntryKey struct {
	subject reflect.Type
	member  string
	key     MetaKey
}

// MetadataStore holds declared facts keyed by (subject, member, key).
// Class-level facts use the empty member name. Reads never return nil
// containers.
type MetadataStore struct {
	mu       sync.RWMutex
	entries  map[metaEntryKey]any
	members  map[reflect.Type][]string
	declared map[reflect.Type]bool
}

// NewMetadataStore creates an empty metadata store
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{
		entries:  make(map[metaEntryKey]any),
		members:  make(map[reflect.Type][]string),
		declared: make(map[reflect.Type]bool),
	}
}

// Define stores value under the key, replacing any previous value.
func (s *MetadataStore) Define(subject reflect.Type, member string, key MetaKey, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[metaEntryKey{subject, member, key}] = value
}

// Lookup returns the raw value stored under the key.
func (s *MetadataStore) Lookup(subject reflect.Type, member string, key MetaKey) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[metaEntryKey{subject, member, key}]
	return v, ok
}

// update applies fn to the current value under the write lock.
func (s *MetadataStore) update(subject reflect.Type, member string, key MetaKey, fn func(current any) any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := metaEntryKey{subject, member, key}
	s.entries[k] = fn(s.entries[k])
}

// markDeclared records that subject's declarations ran, returning false
// if they already had.
func (s *MetadataStore) markDeclared(subject reflect.Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.declared[subject] {
		return false
	}
	s.declared[subject] = true
	return true
}

// Controller returns the controller descriptor for subject.
func (s *MetadataStore) Controller(subject reflect.Type) (ControllerDescriptor, bool) {
	v, ok := s.Lookup(subject, "", MetaController)
	if !ok {
		return ControllerDescriptor{}, false
	}
	return v.(ControllerDescriptor), true
}

// UpdateController merges into the controller descriptor for subject.
func (s *MetadataStore) UpdateController(subject reflect.Type, fn func(*ControllerDescriptor)) {
	s.update(subject, "", MetaController, func(current any) any {
		d, _ := current.(ControllerDescriptor)
		fn(&d)
		return d
	})
}

// Action returns the action descriptor declared for member.
func (s *MetadataStore) Action(subject reflect.Type, member string) (ActionDescriptor, bool) {
	v, ok := s.Lookup(subject, member, MetaAction)
	if !ok {
		return ActionDescriptor{}, false
	}
	return v.(ActionDescriptor), true
}

// UpdateAction merges into the action descriptor for member, creating it
// on first use.
func (s *MetadataStore) UpdateAction(subject reflect.Type, member string, fn func(*ActionDescriptor)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := metaEntryKey{subject, member, MetaAction}
	d, ok := s.entries[k].(ActionDescriptor)
	if !ok {
		d = ActionDescriptor{Name: member}
		s.members[subject] = append(s.members[subject], member)
	}
	fn(&d)
	s.entries[k] = d
}

// Members returns the members of subject that declare an action, in
// declaration order.
func (s *MetadataStore) Members(subject reflect.Type) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.members[subject]...)
}

// Params returns a copy of the parameter descriptors for member.
func (s *MetadataStore) Params(subject reflect.Type, member string) map[int]ParamDescriptor {
	v, _ := s.Lookup(subject, member, MetaParams)
	current, _ := v.(map[int]ParamDescriptor)
	out := make(map[int]ParamDescriptor, len(current))
	for k, d := range current {
		out[k] = d
	}
	return out
}

// UpdateParam merges into the parameter descriptor at index.
func (s *MetadataStore) UpdateParam(subject reflect.Type, member string, index int, fn func(*ParamDescriptor)) {
	s.update(subject, member, MetaParams, func(current any) any {
		params, _ := current.(map[int]ParamDescriptor)
		next := make(map[int]ParamDescriptor, len(params)+1)
		for k, d := range params {
			next[k] = d
		}
		d, ok := next[index]
		if !ok {
			d = ParamDescriptor{Index: index, Source: SourceQuery}
		}
		fn(&d)
		d.Index = index
		next[index] = d
		return next
	})
}

// Responses returns a copy of the response descriptors for member.
func (s *MetadataStore) Responses(subject reflect.Type, member string) map[int]ResponseDescriptor {
	v, _ := s.Lookup(subject, member, MetaResponses)
	current, _ := v.(map[int]ResponseDescriptor)
	out := make(map[int]ResponseDescriptor, len(current))
	for k, d := range current {
		out[k] = d
	}
	return out
}

// UpdateResponse merges into the response descriptor for status.
func (s *MetadataStore) UpdateResponse(subject reflect.Type, member string, status int, fn func(*ResponseDescriptor)) {
	s.update(subject, member, MetaResponses, func(current any) any {
		responses, _ := current.(map[int]ResponseDescriptor)
		next := make(map[int]ResponseDescriptor, len(responses)+1)
		for k, d := range responses {
			next[k] = d
		}
		d := next[status]
		fn(&d)
		d.Status = status
		next[status] = d
		return next
	})
}

// Middleware returns the middleware packs declared on member.
func (s *MetadataStore) Middleware(subject reflect.Type, member string) []MiddlewarePack {
	v, _ := s.Lookup(subject, member, MetaMiddleware)
	packs, _ := v.([]MiddlewarePack)
	return append([]MiddlewarePack{}, packs...)
}

// AddMiddleware appends a pack, or replaces the declared packs when the
// pack is mounted with Override.
func (s *MetadataStore) AddMiddleware(subject reflect.Type, member string, pack MiddlewarePack) {
	s.update(subject, member, MetaMiddleware, func(current any) any {
		packs, _ := current.([]MiddlewarePack)
		if pack.Mount == MountOverride {
			return []MiddlewarePack{pack}
		}
		return append(append([]MiddlewarePack{}, packs...), pack)
	})
}

// Guards returns the guard groups declared on member.
func (s *MetadataStore) Guards(subject reflect.Type, member string) []GuardGroup {
	v, _ := s.Lookup(subject, member, MetaGuards)
	groups, _ := v.([]GuardGroup)
	return append([]GuardGroup{}, groups...)
}

// AddGuards appends a guard group. An Override group drops the groups of
// the same type previously declared at this scope.
func (s *MetadataStore) AddGuards(subject reflect.Type, member string, group GuardGroup) {
	s.update(subject, member, MetaGuards, func(current any) any {
		groups, _ := current.([]GuardGroup)
		next := make([]GuardGroup, 0, len(groups)+1)
		for _, g := range groups {
			if group.Mount == MountOverride && g.Type == group.Type {
				continue
			}
			next = append(next, g)
		}
		return append(next, group)
	})
}
