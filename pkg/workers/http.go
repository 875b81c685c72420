package workers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// HTTPEntry provides the mountpoint for the registry into the shared
// webserver routing tree.
func (r *Registry) HTTPEntry() chi.Router {
	rout := chi.NewRouter()

	rout.Get("/", r.httpList)
	rout.Post("/", r.httpAnnounce)
	return rout
}

func (r *Registry) httpList(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(r.Workers()); err != nil {
		r.l.Warn("Error encoding workers", "error", err)
	}
}

func (r *Registry) httpAnnounce(w http.ResponseWriter, req *http.Request) {
	var wk types.Worker
	if err := json.NewDecoder(req.Body).Decode(&wk); err != nil || wk.Address == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := r.Announce(req.Context(), wk); err != nil {
		r.l.Warn("Error recording announcement", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
