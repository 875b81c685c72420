package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-hclog"

	nhttp "github.com/the-maldridge/nrepo/pkg/http"
	"github.com/the-maldridge/nrepo/pkg/status"
	"github.com/the-maldridge/nrepo/pkg/types"
	"github.com/the-maldridge/nrepo/pkg/workers"
)

func testServer(t *testing.T) (*httptest.Server, *status.Store) {
	t.Helper()
	ctx := context.Background()
	l := hclog.NewNullLogger()
	dir := t.TempDir()

	var stores []Store
	var first *status.Store
	for _, arch := range []string{"x86_64", "aarch64"} {
		id := types.NewRepositoryID("custom", arch)
		st, err := status.Open(ctx, l, status.Path(dir, id), id)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { st.Close() })
		if first == nil {
			first = st
		}
		stores = append(stores, st)
	}

	srv, err := nhttp.New(l)
	if err != nil {
		t.Fatal(err)
	}
	srv.MountAll(map[string]nhttp.Entrypoint{
		"/api/v1":         New(l, stores...),
		"/api/v1/workers": workers.NewRegistry(l, time.Minute),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, first
}

func seed(t *testing.T, st *status.Store) {
	t.Helper()
	ctx := context.Background()
	for _, p := range []types.Package{
		{Base: "yay", Version: "12.3.5-1", Remote: types.AURSource("yay"),
			Packages: map[string]types.PackageDescription{"yay": {Depends: []string{"pacman>6.1"}}}},
		{Base: "paru", Version: "2.0.3-1", Remote: types.AURSource("paru"),
			Packages: map[string]types.PackageDescription{"paru": {}}},
	} {
		if err := st.PackageUpdate(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.StatusSet(ctx, "yay", types.NewBuildStatus(types.StatusSuccess)); err != nil {
		t.Fatal(err)
	}
	if err := st.StatusSet(ctx, "paru", types.NewBuildStatus(types.StatusFailed)); err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"==> Making package: yay", "==> Finished making: yay"} {
		rec := types.LogRecord{ID: types.LogRecordID{Base: "yay", Version: "12.3.5-1", ProcessID: "run-1"}, Message: msg}
		if err := st.LogsInsert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	for _, base := range []string{"yay", "paru", "yay"} {
		if err := st.EventInsert(ctx, types.NewEvent(types.EventPackageUpdated, base, "")); err != nil {
			t.Fatal(err)
		}
	}
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if out != nil && res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return res.StatusCode
}

func TestRepositories(t *testing.T) {
	ts, _ := testServer(t)

	var ids []types.RepositoryID
	if code := get(t, ts.URL+"/api/v1/repositories", &ids); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	want := []types.RepositoryID{
		types.NewRepositoryID("custom", "aarch64"),
		types.NewRepositoryID("custom", "x86_64"),
	}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("repositories (-want +got):\n%s", diff)
	}

	if code := get(t, ts.URL+"/api/v1/custom/riscv64/packages", nil); code != http.StatusNotFound {
		t.Errorf("unknown repository code = %d", code)
	}
}

func TestPackages(t *testing.T) {
	ts, st := testServer(t)
	seed(t, st)
	base := ts.URL + "/api/v1/custom/x86_64"

	var all []types.PackageStatus
	if code := get(t, base+"/packages", &all); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if len(all) != 2 {
		t.Fatalf("got %d packages", len(all))
	}

	var failed []types.PackageStatus
	get(t, base+"/packages?status=failed", &failed)
	if len(failed) != 1 || failed[0].Package.Base != "paru" {
		t.Errorf("failed = %+v", failed)
	}

	var one types.PackageStatus
	if code := get(t, base+"/packages/yay", &one); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if one.Package.Version != "12.3.5-1" || one.Status.Status != types.StatusSuccess {
		t.Errorf("yay = %+v", one)
	}

	if code := get(t, base+"/packages/nope", nil); code != http.StatusNotFound {
		t.Errorf("missing package code = %d", code)
	}

	// The other architecture is a separate store.
	var other []types.PackageStatus
	get(t, ts.URL+"/api/v1/custom/aarch64/packages", &other)
	if len(other) != 0 {
		t.Errorf("aarch64 has %d packages", len(other))
	}
}

func TestStatusSet(t *testing.T) {
	ts, st := testServer(t)
	seed(t, st)
	url := ts.URL + "/api/v1/custom/x86_64/packages/paru/status"

	cases := []struct {
		body string
		want int
	}{
		{`{"status":"pending"}`, http.StatusNoContent},
		{`{"status":"exploded"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, c := range cases {
		res, err := http.Post(url, "application/json", strings.NewReader(c.body))
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		if res.StatusCode != c.want {
			t.Errorf("%s: code = %d, want %d", c.body, res.StatusCode, c.want)
		}
	}

	var got types.BuildStatus
	get(t, url, &got)
	if got.Status != types.StatusPending {
		t.Errorf("status = %s", got.Status)
	}

	res, err := http.Post(ts.URL+"/api/v1/custom/x86_64/packages/nope/status", "application/json",
		bytes.NewBufferString(`{"status":"pending"}`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("unknown package code = %d", res.StatusCode)
	}
}

func TestEvents(t *testing.T) {
	ts, st := testServer(t)
	seed(t, st)
	base := ts.URL + "/api/v1/custom/x86_64/events"

	ids := func(evs []types.Event) []string {
		var out []string
		for _, e := range evs {
			out = append(out, e.ObjectID)
		}
		return out
	}

	var evs []types.Event
	get(t, base+"?event=package-updated", &evs)
	if diff := cmp.Diff([]string{"yay", "paru", "yay"}, ids(evs)); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}

	evs = nil
	get(t, base+"?event=package-updated&object_id=yay", &evs)
	if len(evs) != 2 {
		t.Errorf("object filter returned %d", len(evs))
	}

	evs = nil
	get(t, base+"?event=package-updated&limit=1&offset=1", &evs)
	if diff := cmp.Diff([]string{"paru"}, ids(evs)); diff != "" {
		t.Errorf("page (-want +got):\n%s", diff)
	}

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	evs = nil
	get(t, base+"?from="+future, &evs)
	if len(evs) != 0 {
		t.Errorf("future window returned %d", len(evs))
	}

	for _, q := range []string{"?limit=-1", "?offset=x", "?from=yesterday"} {
		if code := get(t, base+q, nil); code != http.StatusBadRequest {
			t.Errorf("%s: code = %d", q, code)
		}
	}
}

func TestLogs(t *testing.T) {
	ts, st := testServer(t)
	seed(t, st)
	url := ts.URL + "/api/v1/custom/x86_64/packages/yay/logs"

	res, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	want := "==> Making package: yay\n==> Finished making: yay\n"
	if string(body) != want {
		t.Errorf("logs = %q", body)
	}

	req, _ := http.NewRequest(http.MethodGet, url+"?process_id=run-2", nil)
	req.Header.Set("Accept", "application/json")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var recs []types.LogRecord
	if err := json.NewDecoder(res.Body).Decode(&recs); err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if len(recs) != 0 {
		t.Errorf("run-2 has %d records", len(recs))
	}
}

func TestSharedServer(t *testing.T) {
	ts, _ := testServer(t)

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", res.StatusCode)
	}

	body := `{"identifier":"w1","address":"http://w1:8080"}`
	res, err = http.Post(ts.URL+"/api/v1/workers", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("announce = %d", res.StatusCode)
	}
	var ws []types.Worker
	get(t, ts.URL+"/api/v1/workers", &ws)
	if len(ws) != 1 || ws[0].Identifier != "w1" {
		t.Errorf("workers = %+v", ws)
	}
}
