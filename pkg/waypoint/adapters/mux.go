package adapters

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/toyz/waypoint/pkg/waypoint"
)

// Mux mounts app on a gorilla/mux router. gorilla only runs middleware for
// matched routes, so the app is installed as the not-found and
// method-not-allowed handlers, falling back to whatever was set before.
func Mux(r *mux.Router, app *waypoint.App) {
	mw := Middleware(app)

	notFound := r.NotFoundHandler
	if notFound == nil {
		notFound = MarkNotFound()
	}
	r.NotFoundHandler = mw(notFound)

	notAllowed := r.MethodNotAllowedHandler
	if notAllowed == nil {
		notAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusMethodNotAllowed)
		})
	}
	r.MethodNotAllowedHandler = mw(notAllowed)
}
