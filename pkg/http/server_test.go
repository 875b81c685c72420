package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
)

type pong struct{}

func (pong) HTTPEntry() chi.Router {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "pong") })
	return r
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestServeStops(t *testing.T) {
	s, err := New(hclog.NewNullLogger(), WithGrace(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	s.MountAll(map[string]Entrypoint{"/ping": pong{}})

	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, addr) }()

	var body string
	for i := 0; i < 50; i++ {
		resp, err := http.Get("http://" + addr + "/ping")
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(b)
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if body != "pong" {
		t.Fatalf("body = %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestRootAndHealth(t *testing.T) {
	s, err := New(hclog.NewNullLogger())
	if err != nil {
		t.Fatal(err)
	}
	for path, want := range map[string]string{"/": "nrepo is running", "/healthz": "."} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if !strings.HasPrefix(rec.Body.String(), want) {
			t.Errorf("%s = %q", path, rec.Body.String())
		}
	}
}
