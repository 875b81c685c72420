// Package reciever accepts package files pushed by remote workers.
package reciever

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// NewReciever returns a reciever instance.  Uploads are staged below
// staging until they are added.
func NewReciever(l hclog.Logger, staging string, opts ...Option) *Reciever {
	x := Reciever{
		l:         l.Named("reciever"),
		repos:     make(map[string]Adder),
		published: func(context.Context, string, []string) {},
	}
	// If this fails, something is dreadfully wrong.
	x.staging, _ = filepath.Abs(staging)
	for _, o := range opts {
		o(&x)
	}
	return &x
}

// WithPublisher sets the callback run after a package was added.
func WithPublisher(f func(ctx context.Context, arch string, files []string)) Option {
	return func(r *Reciever) { r.published = f }
}

// Register makes the repository of arch accept uploads.
func (r *Reciever) Register(arch string, a Adder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[arch] = a
}

// validName accepts package archives and their detached signatures.
func validName(fname string) bool {
	if fname == "" || filepath.Base(fname) != fname || strings.HasPrefix(fname, ".") {
		return false
	}
	return strings.Contains(fname, ".pkg.tar")
}

// handleFile copies out a package file from HTTP to the staging area.
// Signatures wait there for their package; a package is added to the
// repository together with a staged signature.
func (r *Reciever) handleFile(ctx context.Context, fname, arch string, data io.Reader) ([]string, error) {
	if !validName(fname) {
		return nil, types.ErrInvalidOption{Option: "fname", Value: fname}
	}
	r.mu.Lock()
	repo, ok := r.repos[arch]
	r.mu.Unlock()
	if !ok {
		return nil, types.ErrNotFound
	}

	dir := filepath.Join(r.staging, arch)
	if err := os.MkdirAll(dir, 0755); err != nil {
		r.l.Warn("Error creating directory", "path", dir, "error", err)
		return nil, err
	}
	fPath := filepath.Join(dir, fname)
	tmp := fPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		r.l.Warn("Error creating/opening file", "path", tmp, "error", err)
		return nil, err
	}
	if _, err = io.Copy(out, data); err != nil {
		r.l.Warn("Error copying data into file", "path", tmp, "error", err)
		// If something went wrong copying, the error closing out is
		// likely to be the same.
		_ = out.Close()
		_ = os.Remove(tmp)
		return nil, err
	}
	if err = out.Close(); err != nil {
		r.l.Warn("Error closing out file", "path", tmp, "error", err)
		return nil, err
	}
	if err := os.Rename(tmp, fPath); err != nil {
		return nil, err
	}
	r.l.Trace("Wrote file from HTTP", "path", fPath)

	if strings.HasSuffix(fname, ".sig") {
		return nil, nil
	}

	written, err := repo.Add(ctx, []string{fPath})
	if err != nil {
		r.l.Warn("Unable to register package into index", "path", fPath, "arch", arch, "error", err)
		return nil, err
	}
	for _, f := range []string{fPath, fPath + ".sig"} {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.l.Warn("Unable to clean staged file", "path", f, "error", err)
		}
	}
	r.l.Info("Added pushed package", "package", fname, "arch", arch)
	r.published(ctx, arch, written)
	return written, nil
}

// HTTPEntry provides the chi mountpoint for the reciever into the
// routing tree.
func (r *Reciever) HTTPEntry() chi.Router {
	rout := chi.NewRouter()
	rout.Put("/file", r.httpFile)
	return rout
}

// httpFile handles a file recieved via HTTP.
func (r *Reciever) httpFile(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	written, err := r.handleFile(req.Context(), q.Get("fname"), q.Get("arch"), req.Body)
	if err != nil {
		r.httpJSONError(w, err)
		return
	}
	if written == nil {
		written = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(written); err != nil {
		r.l.Warn("Error encoding response", "error", err)
	}
}

// httpJSONError returns an error as JSON.
func (r *Reciever) httpJSONError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		code = http.StatusNotFound
	case errors.As(err, new(types.ErrInvalidOption)):
		code = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	out := struct {
		Error string `json:"error"`
	}{
		Error: err.Error(),
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		r.l.Warn("Error encoding JSON error response")
	}
}
