// Package api exposes the status store over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// New returns a Service over the given stores.  Stores are addressed
// by the name and architecture of their repository.
func New(l hclog.Logger, stores ...Store) *Service {
	s := Service{
		l:      l.Named("api"),
		stores: make(map[string]Store, len(stores)),
	}
	for _, st := range stores {
		s.stores[st.Repository().String()] = st
	}
	return &s
}

// HTTPEntry provides the mountpoint for this service into the shared
// webserver routing tree.
func (s *Service) HTTPEntry() chi.Router {
	r := chi.NewRouter()

	r.Get("/repositories", s.httpRepositories)
	r.Route("/{repo}/{arch}", func(r chi.Router) {
		r.Get("/packages", s.httpPackages)
		r.Get("/packages/{base}", s.httpPackage)
		r.Get("/packages/{base}/status", s.httpStatus)
		r.Post("/packages/{base}/status", s.httpStatusSet)
		r.Get("/packages/{base}/logs", s.httpLogs)
		r.Get("/events", s.httpEvents)
	})
	return r
}

func (s *Service) store(w http.ResponseWriter, r *http.Request) (Store, bool) {
	id := types.NewRepositoryID(chi.URLParam(r, "repo"), chi.URLParam(r, "arch"))
	st, ok := s.stores[id.String()]
	if !ok {
		s.reply(w, http.StatusNotFound, errorResponse{"unknown repository " + id.String()})
	}
	return st, ok
}

func (s *Service) reply(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Warn("Error encoding response", "error", err)
	}
}

func (s *Service) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		code = http.StatusNotFound
	case errors.As(err, new(types.ErrInvalidOption)):
		code = http.StatusBadRequest
	default:
		s.l.Error("Request failed", "error", err)
	}
	s.reply(w, code, errorResponse{err.Error()})
}

func (s *Service) httpRepositories(w http.ResponseWriter, r *http.Request) {
	out := make([]types.RepositoryID, 0, len(s.stores))
	for _, st := range s.stores {
		out = append(out, st.Repository())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	s.reply(w, http.StatusOK, out)
}

func (s *Service) httpPackages(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	pkgs, err := st.PackagesGet(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if want := r.URL.Query().Get("status"); want != "" {
		filtered := pkgs[:0]
		for _, p := range pkgs {
			if string(p.Status.Status) == want {
				filtered = append(filtered, p)
			}
		}
		pkgs = filtered
	}
	if pkgs == nil {
		pkgs = []types.PackageStatus{}
	}
	s.reply(w, http.StatusOK, pkgs)
}

func (s *Service) httpPackage(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	base := chi.URLParam(r, "base")
	p, err := st.PackageGet(r.Context(), base)
	if err != nil {
		s.fail(w, err)
		return
	}
	status, err := st.StatusGet(r.Context(), base)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.reply(w, http.StatusOK, types.PackageStatus{Package: p, Status: status})
}

func (s *Service) httpStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	status, err := st.StatusGet(r.Context(), chi.URLParam(r, "base"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.reply(w, http.StatusOK, status)
}

func (s *Service) httpStatusSet(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reply(w, http.StatusBadRequest, errorResponse{"malformed request body"})
		return
	}
	status := types.ParseBuildStatus(string(req.Status))
	if status == types.StatusUnknown {
		s.fail(w, types.ErrInvalidOption{Option: "status", Value: string(req.Status)})
		return
	}
	base := chi.URLParam(r, "base")
	if _, err := st.PackageGet(r.Context(), base); err != nil {
		s.fail(w, err)
		return
	}
	if err := st.StatusSet(r.Context(), base, types.NewBuildStatus(status)); err != nil {
		s.fail(w, err)
		return
	}
	s.l.Info("Status changed over API", "repository", st.Repository().String(), "package", base, "status", status)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) httpLogs(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	records, err := st.LogRecords(r.Context(), chi.URLParam(r, "base"), q.Get("version"), q.Get("process_id"))
	if err != nil {
		s.fail(w, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		if records == nil {
			records = []types.LogRecord{}
		}
		s.reply(w, http.StatusOK, records)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, rec := range records {
		w.Write([]byte(rec.Message + "\n"))
	}
}

func (s *Service) httpEvents(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	f, err := eventFilter(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	events, err := st.EventGet(r.Context(), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	s.reply(w, http.StatusOK, events)
}

// eventFilter reads the event query parameters.  Times are RFC 3339.
func eventFilter(r *http.Request) (types.EventFilter, error) {
	q := r.URL.Query()
	f := types.EventFilter{
		Type:     types.EventType(q.Get("event")),
		ObjectID: q.Get("object_id"),
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, types.ErrInvalidOption{Option: key, Value: v}
		}
		*dst = t
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, types.ErrInvalidOption{Option: key, Value: v}
		}
		*dst = n
	}
	return f, nil
}
