package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/storage/mem"
	"github.com/the-maldridge/nrepo/pkg/types"
)

// fakeAUR serves the info endpoint from a fixed table of results.
func fakeAUR(t *testing.T, results []aurInfo, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		if r.URL.Path != "/info" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		want := make(map[string]bool)
		for _, a := range r.URL.Query()["arg[]"] {
			want[a] = true
		}
		resp := aurResponse{Type: "multiinfo"}
		for _, res := range results {
			if want[res.Name] {
				resp.Results = append(resp.Results, res)
			}
		}
		resp.ResultCount = len(resp.Results)
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

var aurTable = []aurInfo{
	{Name: "yay", PackageBase: "yay", Version: "12.0.0-1", Depends: []string{"pacman>5"}, MakeDepends: []string{"go"}},
	{Name: "foo", PackageBase: "foo", Version: "2.0-1"},
	{Name: "foo-docs", PackageBase: "foo", Version: "2.0-1"},
}

func TestAURInfo(t *testing.T) {
	srv := fakeAUR(t, aurTable, nil)
	c := NewAURClient(hclog.NewNullLogger(), srv.URL, time.Second)

	pkgs, err := c.Info(context.Background(), []string{"foo", "foo-docs", "yay", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("got %d bases", len(pkgs))
	}
	if pkgs[0].Base != "foo" || len(pkgs[0].Packages) != 2 {
		t.Errorf("foo = %+v", pkgs[0])
	}
	if pkgs[1].Remote != types.AURSource("yay") {
		t.Errorf("remote = %+v", pkgs[1].Remote)
	}
	if diff := cmp.Diff([]string{"go", "pacman"}, pkgs[1].Depends()); diff != "" {
		t.Errorf("depends (-want +got):\n%s", diff)
	}
}

func TestAURError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"error","error":"Too many package results.","resultcount":0,"results":[]}`))
	}))
	defer srv.Close()

	c := NewAURClient(hclog.NewNullLogger(), srv.URL, time.Second)
	if _, err := c.Info(context.Background(), []string{"x"}); err == nil {
		t.Error("expected error")
	}
}

func TestIsOutdated(t *testing.T) {
	cases := []struct {
		local, remote string
		want          bool
	}{
		{"", "1.0-1", true},
		{"1.0-1", "1.0-2", true},
		{"1.0-2", "1.0-2", false},
		{"2.0-1", "1.0-1", false},
	}
	for _, c := range cases {
		got := IsOutdated(types.Package{Version: c.local}, types.Package{Version: c.remote})
		if got != c.want {
			t.Errorf("IsOutdated(%q, %q) = %v", c.local, c.remote, got)
		}
	}
}

func TestOutdatedCaches(t *testing.T) {
	var calls int32
	srv := fakeAUR(t, aurTable, &calls)
	cache, err := mem.New(hclog.NewNullLogger(), "")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewService(hclog.NewNullLogger(),
		NewAURClient(hclog.NewNullLogger(), srv.URL, time.Second),
		nil, cache,
		WithTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)

	local := []types.Package{
		{Base: "yay", Version: "11.0.0-1", Remote: types.AURSource("yay"), Packager: "Me <me@example.org>"},
		{Base: "foo", Version: "2.0-1", Remote: types.AURSource("foo")},
		{Base: "gone", Version: "1-1", Remote: types.AURSource("gone")},
		{Base: "hand", Remote: types.RemoteSource{Source: types.SourceManual}},
	}
	out, err := s.Outdated(context.Background(), local)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Base != "yay" || out[0].Version != "12.0.0-1" {
		t.Fatalf("outdated = %+v", out)
	}
	if out[0].Packager != "Me <me@example.org>" {
		t.Errorf("packager not carried over: %q", out[0].Packager)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("AUR called %d times, want one batch", calls)
	}

	// Cached entries answer without a request.
	if _, err := s.FetchMetadata(context.Background(), local[0]); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("cache miss: %d calls", calls)
	}

	// Expired entries are fetched again.
	now = now.Add(2 * time.Minute)
	if _, err := s.FetchMetadata(context.Background(), local[0]); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expired entry not refetched: %d calls", calls)
	}

	if _, err := s.FetchMetadata(context.Background(), local[3]); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("manual source: %v", err)
	}
}

func TestOutdatedSplitBase(t *testing.T) {
	srv := fakeAUR(t, []aurInfo{
		{Name: "python-bar", PackageBase: "bar", Version: "3.1-1"},
		{Name: "python2-bar", PackageBase: "bar", Version: "3.1-1"},
	}, nil)
	s := NewService(hclog.NewNullLogger(), NewAURClient(hclog.NewNullLogger(), srv.URL, time.Second), nil, nil)

	// No package is named after the base itself.
	local := types.Package{
		Base:     "bar",
		Version:  "3.0-1",
		Remote:   types.AURSource("bar"),
		Packages: map[string]types.PackageDescription{"python-bar": {}, "python2-bar": {}},
	}
	out, err := s.Outdated(context.Background(), []types.Package{local})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Base != "bar" || out[0].Version != "3.1-1" {
		t.Fatalf("outdated = %+v", out)
	}
	if diff := cmp.Diff([]string{"python-bar", "python2-bar"}, out[0].Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}

	up, err := s.FetchMetadata(context.Background(), local)
	if err != nil || up.Version != "3.1-1" {
		t.Errorf("FetchMetadata = %+v, %v", up, err)
	}
}

func TestFetchLocal(t *testing.T) {
	dir := t.TempDir()
	srcinfo := "pkgbase = loc\n\tpkgver = 3\n\tpkgrel = 1\n\tarch = any\n\npkgname = loc\n"
	if err := os.WriteFile(filepath.Join(dir, ".SRCINFO"), []byte(srcinfo), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewService(hclog.NewNullLogger(), nil, nil, nil)
	remote := types.RemoteSource{Source: types.SourceLocal, Path: dir}
	p, err := s.FetchMetadata(context.Background(), types.Package{Base: "loc", Remote: remote})
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != "3-1" || p.Remote != remote {
		t.Errorf("got %+v", p)
	}
}

func TestPurgeCache(t *testing.T) {
	cache, err := mem.New(hclog.NewNullLogger(), "")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewService(hclog.NewNullLogger(), nil, nil, cache,
		WithTTL(time.Hour),
		WithClock(func() time.Time { return now }),
	)
	s.cachePut("old", types.Package{Base: "old", Version: "1-1"})
	now = now.Add(2 * time.Hour)
	s.cachePut("fresh", types.Package{Base: "fresh", Version: "1-1"})
	if err := cache.Put([]byte("other/key"), []byte("x")); err != nil {
		t.Fatal(err)
	}

	n, err := s.PurgeCache(false)
	if err != nil || n != 1 {
		t.Fatalf("purge = %d, %v", n, err)
	}
	if v, _ := cache.Get(cacheKey("old")); v != nil {
		t.Error("expired entry survived")
	}
	if v, _ := cache.Get(cacheKey("fresh")); v == nil {
		t.Error("fresh entry purged")
	}

	n, err = s.PurgeCache(true)
	if err != nil || n != 1 {
		t.Fatalf("purge all = %d, %v", n, err)
	}
	if v, _ := cache.Get([]byte("other/key")); v == nil {
		t.Error("purge reached outside the metadata prefix")
	}
}
