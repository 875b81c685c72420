package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
)

// WithGrace bounds how long in-flight requests may run once Serve is
// asked to stop.
func WithGrace(d time.Duration) Option {
	return func(s *Server) { s.grace = d }
}

// WithReadHeaderTimeout overrides the header read deadline.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) { s.n.ReadHeaderTimeout = d }
}

// New initializes the server with its default routers.
func New(l hclog.Logger, opts ...Option) (*Server, error) {
	s := Server{
		l:     l.Named("http"),
		r:     chi.NewRouter(),
		n:     &http.Server{ReadHeaderTimeout: 10 * time.Second},
		grace: 5 * time.Second,
	}
	for _, o := range opts {
		o(&s)
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Logger)
	s.r.Use(middleware.Recoverer)
	s.r.Use(middleware.Heartbeat("/healthz"))

	s.r.Get("/", s.rootIndex)

	return &s, nil
}

// Serve binds, initializes the mux, and serves until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, bind string) error {
	s.l.Info("HTTP is starting", "bind", bind)
	s.n.Addr = bind
	s.n.Handler = s.r

	errs := make(chan error, 1)
	go func() { errs <- s.n.ListenAndServe() }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	s.l.Info("HTTP is shutting down", "grace", s.grace)
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
	defer cancel()
	if err := s.n.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the root router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) rootIndex(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "nrepo is running, check other handlers for more information")
}

// Mount attaches a set of routes to the subpath specified by the path
// argument.
func (s *Server) Mount(path string, router chi.Router) {
	s.r.Mount(path, router)
}

// MountAll attaches every entrypoint under its path.
func (s *Server) MountAll(entries map[string]Entrypoint) {
	for path, e := range entries {
		s.l.Debug("Mounting routes", "path", path)
		s.Mount(path, e.HTTPEntry())
	}
}
