package adapters

import (
	"github.com/go-chi/chi/v5"

	"github.com/toyz/waypoint/pkg/waypoint"
)

// Chi mounts app on a chi router. It must be called before any route is
// added to r, since chi rejects middleware registered after routes.
func Chi(r chi.Router, app *waypoint.App) {
	r.Use(Middleware(app))
	r.NotFound(MarkNotFound().ServeHTTP)
}
