package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
)

// Server is the one listener shared by the status API, the worker
// registry and the package reciever.
type Server struct {
	l hclog.Logger
	r chi.Router

	n     *http.Server
	grace time.Duration
}

// Entrypoint is anything that contributes a set of routes.
type Entrypoint interface {
	HTTPEntry() chi.Router
}

// Option tunes a Server.
type Option func(*Server)
