// Package session provides cookie-backed sessions for waypoint apps. The
// middleware loads the session before the action runs, so handlers can
// bind session values through the session parameter source.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/toyz/waypoint/pkg/waypoint"
)

// ErrNotFound is returned by stores when a session is absent or expired.
var ErrNotFound = errors.New("session not found")

// Store persists sessions between requests.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Session is the per-client state carried across requests.
type Session struct {
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`

	mu        sync.RWMutex
	dirty     bool
	destroyed bool
	onChange  func(*Session)
}

// New creates an empty session.
func New(id string) *Session {
	return &Session{ID: id, Data: make(map[string]any), CreatedAt: time.Now()}
}

// Values returns a copy of the session data.
func (s *Session) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		out[k] = v
	}
	return out
}

func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Data[key]
	return v, ok
}

func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	s.Data[key] = value
	s.dirty = true
	s.mu.Unlock()
	s.changed()
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	_, ok := s.Data[key]
	if ok {
		delete(s.Data, key)
		s.dirty = true
	}
	s.mu.Unlock()
	if ok {
		s.changed()
	}
}

// Destroy removes the session from its store once the request finishes.
func (s *Session) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
	s.changed()
}

func (s *Session) changed() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

func (s *Session) state() (dirty, destroyed bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty, s.destroyed
}

// FromContext returns the session loaded by Middleware.
func FromContext(ctx waypoint.RequestContext) (*Session, bool) {
	s, ok := ctx.Get(waypoint.SessionKey).(*Session)
	return s, ok && s != nil
}
