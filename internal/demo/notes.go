// Package demo is a small notes service built on waypoint. The CLI serves
// it and the end-to-end tests drive it through every host router.
package demo

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toyz/waypoint/pkg/waypoint/schema"
)

// Note is a stored note.
type Note struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// NoteInput is the writable part of a note.
type NoteInput struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// RegisterSchemas registers the demo models.
func RegisterSchemas(r *schema.Registry) error {
	if _, err := r.Register(Note{}, map[string]any{
		"id":         "string",
		"owner":      "string",
		"title":      "string",
		"body?":      "string",
		"tags":       "[string]",
		"created_at": "date",
	}); err != nil {
		return err
	}
	_, err := r.Register(NoteInput{}, map[string]any{
		"title": "string",
		"body?": "string",
		"tags?": "[string]",
	})
	return err
}

// NoteStore keeps notes in memory.
type NoteStore struct {
	mu    sync.RWMutex
	notes map[string]Note
	now   func() time.Time
}

func NewNoteStore() *NoteStore {
	return &NoteStore{notes: make(map[string]Note), now: time.Now}
}

// List returns the owner's notes, oldest first, optionally filtered by tag.
func (s *NoteStore) List(owner, tag string) []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Note{}
	for _, n := range s.notes {
		if n.Owner != owner || (tag != "" && !hasTag(n, tag)) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *NoteStore) Get(id string) (Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	return n, ok
}

func (s *NoteStore) Create(owner string, in NoteInput) Note {
	n := Note{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     in.Title,
		Body:      in.Body,
		Tags:      tags(in.Tags),
		CreatedAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.notes[n.ID] = n
	s.mu.Unlock()
	return n
}

func (s *NoteStore) Update(id string, in NoteInput) (Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return Note{}, false
	}
	n.Title, n.Body, n.Tags = in.Title, in.Body, tags(in.Tags)
	s.notes[id] = n
	return n, true
}

func (s *NoteStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return false
	}
	delete(s.notes, id)
	return true
}

func hasTag(n Note, tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func tags(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
