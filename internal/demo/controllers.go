package demo

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/toyz/waypoint/pkg/waypoint"
	"github.com/toyz/waypoint/pkg/waypoint/guards"
	"github.com/toyz/waypoint/pkg/waypoint/session"
)

// NotesController serves the authenticated notes API.
type NotesController struct {
	store *NoteStore
	auth  *guards.JWTGuard
	limit *guards.RateLimitGuard
}

func NewNotesController(store *NoteStore, auth *guards.JWTGuard, limit *guards.RateLimitGuard) *NotesController {
	return &NotesController{store: store, auth: auth, limit: limit}
}

func (c *NotesController) Declare(d *waypoint.Declaration) {
	d.Controller("/notes").
		Description("Personal notes").
		UseNamed("no-store").
		Guard(waypoint.Integrate(c.auth)).
		Guard(waypoint.Integrate(c.limit))

	d.Action("List").Get("/").
		Description("List the caller's notes").
		Query(1, "tag", "string?").
		Returns(http.StatusOK, []any{Note{}})

	d.Action("Get").Get("/{id:uuid}").
		Path(1, "id", "string").
		Returns(http.StatusOK, Note{})

	d.Action("Create").Post("/").
		Body(1, "", NoteInput{}).
		Returns(http.StatusCreated, Note{})

	d.Action("Update").Put("/{id:uuid}").
		Path(1, "id", "string").
		Body(2, "", NoteInput{}).
		Returns(http.StatusOK, Note{})

	d.Action("Delete").Delete("/{id:uuid}").
		Path(1, "id", "string")

	d.Action("Export").Get("/export").
		Description("Stream the caller's notes as NDJSON").
		Returns(http.StatusOK, "stream").Mime("application/x-ndjson")
}

func (c *NotesController) List(ctx waypoint.RequestContext, tag string) []Note {
	return c.store.List(subject(ctx), tag)
}

func (c *NotesController) Get(ctx waypoint.RequestContext, id string) (Note, error) {
	return c.owned(ctx, id)
}

func (c *NotesController) Create(ctx waypoint.RequestContext, in NoteInput) (*waypoint.Response, error) {
	if in.Title == "" {
		return nil, waypoint.ErrBadRequest("title must not be empty")
	}
	n := c.store.Create(subject(ctx), in)
	return waypoint.Created(n).WithHeader("Location", ctx.Path()+"/"+n.ID), nil
}

func (c *NotesController) Update(ctx waypoint.RequestContext, id string, in NoteInput) (Note, error) {
	if _, err := c.owned(ctx, id); err != nil {
		return Note{}, err
	}
	n, _ := c.store.Update(id, in)
	return n, nil
}

// Delete removes a note. Admins may delete any note.
func (c *NotesController) Delete(ctx waypoint.RequestContext, id string) error {
	claims, _ := guards.ClaimsFrom(ctx)
	if claims == nil || !claims.HasRole("admin") {
		if _, err := c.owned(ctx, id); err != nil {
			return err
		}
	}
	if !c.store.Delete(id) {
		return waypoint.ErrNotFound("note not found")
	}
	return nil
}

func (c *NotesController) Export(ctx waypoint.RequestContext) (*waypoint.Stream, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, n := range c.store.List(subject(ctx), "") {
		if err := enc.Encode(n); err != nil {
			return nil, err
		}
	}
	return waypoint.NewStream(&buf, "application/x-ndjson"), nil
}

func (c *NotesController) owned(ctx waypoint.RequestContext, id string) (Note, error) {
	n, ok := c.store.Get(id)
	if !ok || n.Owner != subject(ctx) {
		return Note{}, waypoint.ErrNotFound("note not found")
	}
	return n, nil
}

func subject(ctx waypoint.RequestContext) string {
	if claims, ok := guards.ClaimsFrom(ctx); ok {
		return claims.Subject
	}
	return ""
}

// AuthController issues bearer tokens. It trusts the caller's username; a
// real service would check credentials first. Roles are never taken from
// the request: only configured admins get the admin role.
type AuthController struct {
	auth   *guards.JWTGuard
	ttl    time.Duration
	admins map[string]bool
}

func NewAuthController(auth *guards.JWTGuard, admins []string) *AuthController {
	c := &AuthController{auth: auth, ttl: time.Hour, admins: make(map[string]bool, len(admins))}
	for _, name := range admins {
		c.admins[name] = true
	}
	return c
}

func (c *AuthController) Declare(d *waypoint.Declaration) {
	d.Controller("/auth")

	d.Action("Token").Post("/token").
		Body(0, "username", "string").
		Returns(http.StatusOK, map[string]any{"token": "string", "expires_in": "integer"}).Strict()
}

func (c *AuthController) Token(username string) (map[string]any, error) {
	if username == "" {
		return nil, waypoint.ErrBadRequest("username must not be empty")
	}
	var roles []string
	if c.admins[username] {
		roles = []string{"admin"}
	}
	token, err := c.auth.Issue(username, roles, c.ttl)
	if err != nil {
		return nil, err
	}
	return map[string]any{"token": token, "expires_in": int(c.ttl.Seconds())}, nil
}

// VisitsController counts visits per session.
type VisitsController struct{}

func (c *VisitsController) Declare(d *waypoint.Declaration) {
	d.Controller("/visits")
	d.Action("Visit").Post("/")
	d.Action("Count").Get("/").Session(0, "visits", "integer")
}

func (c *VisitsController) Visit(ctx waypoint.RequestContext) map[string]int {
	sess, _ := session.FromContext(ctx)
	n, _ := sess.Get("visits")
	count, _ := n.(float64)
	count++
	sess.Set("visits", count)
	return map[string]int{"visits": int(count)}
}

func (c *VisitsController) Count(visits int) map[string]int {
	return map[string]int{"visits": visits}
}
