package update

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

type fakeRemote struct {
	newer map[string]string
	asked []string
}

func (f *fakeRemote) Outdated(_ context.Context, pkgs []types.Package) ([]types.Package, error) {
	var out []types.Package
	for _, p := range pkgs {
		f.asked = append(f.asked, p.Base)
		if v, ok := f.newer[p.Base]; ok {
			up := p
			up.Version = v
			out = append(out, up)
		}
	}
	return out, nil
}

func writeSRCINFO(t *testing.T, dir, base, version string, deps ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	data := "pkgbase = " + base + "\n\tpkgver = " + version + "\n\tpkgrel = 1\n\tarch = any\n"
	for _, d := range deps {
		data += "\tdepends = " + d + "\n"
	}
	data += "\npkgname = " + base + "\n"
	if err := os.WriteFile(filepath.Join(dir, ".SRCINFO"), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCandidateSources(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	root := t.TempDir()
	manual := filepath.Join(root, "manual")
	local := filepath.Join(root, "packages")

	// Known packages: an up to date local one and two AUR ones.
	for _, p := range []types.Package{
		{Base: "loc-same", Version: "1-1", Remote: types.RemoteSource{Source: types.SourceLocal}},
		pkg("aur-old", "1-1"),
		pkg("aur-new", "5-1"),
	} {
		if err := store.PackageUpdate(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	writeSRCINFO(t, filepath.Join(local, "loc-same"), "loc-same", "1")
	writeSRCINFO(t, filepath.Join(local, "loc-bumped"), "loc-bumped", "2")

	if err := Enqueue(manual, types.Package{Base: "queued"}, types.Package{Base: "explicit"}); err != nil {
		t.Fatal(err)
	}

	rem := &fakeRemote{newer: map[string]string{"aur-old": "2-1"}}
	u := New(hclog.NewNullLogger(), store, newFakeBuilder(t),
		WithRemote(rem),
		WithLocalTree(local),
		WithManualQueue(manual),
	)

	all := Request{AUR: true, Local: true, Manual: true, Packages: []types.Package{pkg("explicit", "9-9")}}
	got, err := u.Candidates(ctx, all)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"explicit", "queued", "loc-bumped", "aur-old"}, bases(got)); diff != "" {
		t.Errorf("candidates (-want +got):\n%s", diff)
	}
	// Explicit packages win over queue entries of the same base.
	if got[0].Version != "9-9" {
		t.Errorf("explicit version = %q", got[0].Version)
	}
	if got[1].Remote != types.AURSource("queued") {
		t.Errorf("queued remote = %+v", got[1].Remote)
	}
	if diff := cmp.Diff([]string{"aur-new", "aur-old"}, rem.asked); diff != "" {
		t.Errorf("remote asked (-want +got):\n%s", diff)
	}

	// Every source toggles on its own.
	only, err := u.Candidates(ctx, Request{Local: true})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"loc-bumped"}, bases(only)); diff != "" {
		t.Errorf("local only (-want +got):\n%s", diff)
	}

	// Candidates does not drain the queue.
	if entries, _ := os.ReadDir(manual); len(entries) != 2 {
		t.Errorf("queue has %d entries", len(entries))
	}
}

func TestUpdateDrainsManualQueue(t *testing.T) {
	store := testStore(t)
	manual := t.TempDir()
	if err := Enqueue(manual, pkg("q", "1")); err != nil {
		t.Fatal(err)
	}
	u := New(hclog.NewNullLogger(), store, newFakeBuilder(t), WithManualQueue(manual))
	res, err := u.Update(context.Background(), Request{Manual: true})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"q"}, bases(res.Success)); diff != "" {
		t.Errorf("success (-want +got):\n%s", diff)
	}
	if entries, _ := os.ReadDir(manual); len(entries) != 0 {
		t.Errorf("queue not drained: %d entries", len(entries))
	}
}

func TestEnqueueRejectsBadNames(t *testing.T) {
	var invalid types.ErrInvalidOption
	for _, base := range []string{"", "../x", ".hidden"} {
		if err := Enqueue(t.TempDir(), types.Package{Base: base}); !errors.As(err, &invalid) {
			t.Errorf("Enqueue(%q) = %v", base, err)
		}
	}
}

// fakeSources lays out a .SRCINFO per base, or fails for bases in
// broken.
type fakeSources struct {
	deps   map[string][]string
	broken map[string]bool
}

func (f *fakeSources) Fetch(_ context.Context, remote types.RemoteSource, dir string) (string, error) {
	base := filepath.Base(dir)
	if f.broken[base] {
		return "", errors.New("git clone: repository not found")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	data := "pkgbase = " + base + "\n\tpkgver = 3\n\tpkgrel = 1\n\tarch = any\n"
	for _, d := range f.deps[base] {
		data += "\tdepends = " + d + "\n"
	}
	data += "\npkgname = " + base + "\n"
	return dir, os.WriteFile(filepath.Join(dir, ".SRCINFO"), []byte(data), 0644)
}

func TestUpdateUsesFetchedMetadata(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	src := &fakeSources{
		deps:   map[string][]string{"app": {"lib>=3"}},
		broken: map[string]bool{"gone": true},
	}
	u := New(hclog.NewNullLogger(), store, b, WithSources(src, t.TempDir()), WithParallelism(2))

	// The queued entries carry no metadata; ordering comes from the
	// fetched sources.
	res, err := u.Update(context.Background(), Request{Packages: []types.Package{
		{Base: "app", Remote: types.AURSource("app")},
		{Base: "lib", Remote: types.AURSource("lib")},
		{Base: "gone", Remote: types.AURSource("gone")},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"lib", "app"}, bases(res.Success)); diff != "" {
		t.Errorf("success (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"gone"}, bases(res.Failed)); diff != "" {
		t.Errorf("failed (-want +got):\n%s", diff)
	}
	if res.Success[0].Version != "3-1" {
		t.Errorf("version = %q", res.Success[0].Version)
	}
	if got := statusOf(t, store, "gone"); got != types.StatusFailed {
		t.Errorf("gone: status %s", got)
	}
}

func TestPlan(t *testing.T) {
	store := testStore(t)
	u := New(hclog.NewNullLogger(), store, newFakeBuilder(t), WithParallelism(2))

	plan, err := u.Plan(context.Background(), Request{Packages: []types.Package{
		pkg("a", "1"), pkg("b", "1", "a"), pkg("c", "1"), pkg("d", "1"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	var got [][][]string
	for _, batch := range plan {
		var lanes [][]string
		for _, lane := range batch {
			lanes = append(lanes, bases(lane))
		}
		got = append(got, lanes)
	}
	want := [][][]string{{{"a", "d"}, {"c"}}, {{"b"}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("plan (-want +got):\n%s", diff)
	}

	// Planning writes nothing.
	if got := statusOf(t, store, "a"); got != types.StatusUnknown {
		t.Errorf("a: status %s", got)
	}
}
