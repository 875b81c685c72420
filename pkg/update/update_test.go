package update

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/builder"
	"github.com/the-maldridge/nrepo/pkg/lock"
	"github.com/the-maldridge/nrepo/pkg/packagers"
	"github.com/the-maldridge/nrepo/pkg/status"
	"github.com/the-maldridge/nrepo/pkg/types"
	"github.com/the-maldridge/nrepo/pkg/workers"
)

var testRepo = types.NewRepositoryID("custom", "x86_64")

func testStore(t *testing.T) *status.Store {
	t.Helper()
	s, err := status.Open(context.Background(), hclog.NewNullLogger(), filepath.Join(t.TempDir(), "status.db"), testRepo)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func pkg(base, version string, deps ...string) types.Package {
	return types.Package{
		Base:     base,
		Version:  version,
		Remote:   types.AURSource(base),
		Packages: map[string]types.PackageDescription{base: {Depends: deps}},
	}
}

// fakeBuilder writes one package file per build.  Bases in fail exit
// non-zero, bases in block wait for cancellation.
type fakeBuilder struct {
	dir   string
	fail  map[string]bool
	block map[string]bool
	delay time.Duration

	started chan string

	mu         sync.Mutex
	log        []string
	packagers  map[string]string
	running    int
	maxRunning int
}

func newFakeBuilder(t *testing.T) *fakeBuilder {
	return &fakeBuilder{
		dir:       t.TempDir(),
		fail:      make(map[string]bool),
		block:     make(map[string]bool),
		started:   make(chan string, 16),
		packagers: make(map[string]string),
	}
}

func (f *fakeBuilder) Build(ctx context.Context, b builder.Build) (builder.Artifacts, error) {
	base := b.Package.Base
	f.mu.Lock()
	f.log = append(f.log, "start:"+base)
	f.packagers[base] = b.Packager
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.mu.Unlock()
	f.started <- base

	defer func() {
		f.mu.Lock()
		f.running--
		f.log = append(f.log, "end:"+base)
		f.mu.Unlock()
	}()

	if f.block[base] {
		<-ctx.Done()
		return builder.Artifacts{Log: []byte("killed")}, types.NewErrBuildFailed(base, ctx.Err())
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail[base] {
		return builder.Artifacts{Log: []byte("compile error in " + base)}, types.NewErrBuildFailed(base, errors.New("exit status 1"))
	}
	file := filepath.Join(f.dir, base+"-"+b.Package.Version+"-any.pkg.tar.zst")
	if err := os.WriteFile(file, []byte(base), 0644); err != nil {
		return builder.Artifacts{}, err
	}
	return builder.Artifacts{Files: []string{file}, Log: []byte("built " + base)}, nil
}

func (f *fakeBuilder) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

type fakeRepo struct {
	dir     string
	mu      sync.Mutex
	added   []string
	removed []string
	failOn  string
}

func (r *fakeRepo) Dir() string { return r.dir }

func (r *fakeRepo) Add(_ context.Context, files []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, f := range files {
		if r.failOn != "" && strings.Contains(filepath.Base(f), r.failOn) {
			return nil, errors.New("repo-add: database locked")
		}
		out = append(out, filepath.Join(r.dir, filepath.Base(f)))
	}
	r.added = append(r.added, out...)
	return append(out, filepath.Join(r.dir, "custom.db.tar.zst")), nil
}

func (r *fakeRepo) Remove(_ context.Context, names []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, names...)
	return []string{filepath.Join(r.dir, "custom.db.tar.zst")}, nil
}

type fakeUploader struct {
	err   error
	mu    sync.Mutex
	files []string
}

func (f *fakeUploader) Name() string { return "fake" }

func (f *fakeUploader) Sync(_ context.Context, _ string, files []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, files...)
	return f.err
}

func statusOf(t *testing.T, s *status.Store, base string) types.BuildStatusEnum {
	t.Helper()
	st, err := s.StatusGet(context.Background(), base)
	if err != nil {
		t.Fatal(err)
	}
	return st.Status
}

func bases(pkgs []types.Package) []string {
	var out []string
	for _, p := range pkgs {
		out = append(out, p.Base)
	}
	return out
}

func eventsOf(t *testing.T, s *status.Store, et types.EventType) []string {
	t.Helper()
	evs, err := s.EventGet(context.Background(), types.EventFilter{Type: et})
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range evs {
		out = append(out, e.ObjectID)
	}
	return out
}

func TestPartialFailureIsolation(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	b.fail["b"] = true
	repo := &fakeRepo{dir: t.TempDir()}
	u := New(hclog.NewNullLogger(), store, b, WithRepoTool(repo), WithParallelism(3))

	req := Request{
		RunID: "run-1",
		Packages: []types.Package{
			pkg("a", "1-1"),
			pkg("b", "1-1"),
			pkg("c", "1-1"),
			pkg("d", "1-1", "a"),
		},
	}
	res, err := u.Update(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]types.BuildStatusEnum{
		"a": types.StatusSuccess,
		"b": types.StatusFailed,
		"c": types.StatusSuccess,
		"d": types.StatusSuccess,
	}
	for base, st := range want {
		if got := statusOf(t, store, base); got != st {
			t.Errorf("%s: status %s, want %s", base, got, st)
		}
	}
	if diff := cmp.Diff([]string{"b"}, bases(res.Failed)); diff != "" {
		t.Errorf("failed (-want +got):\n%s", diff)
	}
	if len(res.Success) != 3 || len(res.Untouched) != 0 {
		t.Errorf("result = %+v", res)
	}

	// The transcript of the failed build is preserved.
	logs, err := store.LogsGet(context.Background(), "b", "1-1", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(logs, "compile error in b") {
		t.Errorf("logs = %q", logs)
	}

	// Successful packages are recorded with their version, the
	// failed one stays registered without one.
	a, err := store.PackageGet(context.Background(), "a")
	if err != nil || a.Version != "1-1" {
		t.Errorf("a = %+v %v", a, err)
	}
	bp, err := store.PackageGet(context.Background(), "b")
	if err != nil || bp.Version != "" {
		t.Errorf("b = %+v %v", bp, err)
	}
	if len(repo.added) != 3 {
		t.Errorf("repo added %v", repo.added)
	}
}

func TestEventsOfMixedCycle(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	b.fail["B"] = true
	u := New(hclog.NewNullLogger(), store, b)

	_, err := u.Update(context.Background(), Request{Packages: []types.Package{pkg("A", "1-1"), pkg("B", "1-1")}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"A"}, eventsOf(t, store, types.EventPackageUpdated)); diff != "" {
		t.Errorf("updated events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B"}, eventsOf(t, store, types.EventPackageUpdateFailed)); diff != "" {
		t.Errorf("failed events (-want +got):\n%s", diff)
	}
	if n := len(eventsOf(t, store, types.EventCycleStarted)); n != 1 {
		t.Errorf("%d cycle-started events", n)
	}
	if n := len(eventsOf(t, store, types.EventCycleFinished)); n != 1 {
		t.Errorf("%d cycle-finished events", n)
	}
}

func TestCycleAbortsBeforeAnyWrite(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	u := New(hclog.NewNullLogger(), store, b)

	_, err := u.Update(context.Background(), Request{Packages: []types.Package{
		pkg("a", "1", "b"),
		pkg("b", "1", "a"),
		pkg("c", "1"),
	}})
	var cyc types.ErrCycleDetected
	if !errors.As(err, &cyc) {
		t.Fatalf("err = %v", err)
	}
	for _, base := range []string{"a", "b", "c"} {
		if got := statusOf(t, store, base); got != types.StatusUnknown {
			t.Errorf("%s: status %s", base, got)
		}
	}
	evs, err := store.EventGet(context.Background(), types.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 0 || len(b.events()) != 0 {
		t.Errorf("events %v, builds %v", evs, b.events())
	}
}

func TestBatchBarrier(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	b.delay = 20 * time.Millisecond
	u := New(hclog.NewNullLogger(), store, b, WithParallelism(4))

	_, err := u.Update(context.Background(), Request{Packages: []types.Package{
		pkg("lib", "1"),
		pkg("slow", "1"),
		pkg("app", "1", "lib"),
	}})
	if err != nil {
		t.Fatal(err)
	}

	ev := b.events()
	index := func(s string) int {
		for i, e := range ev {
			if e == s {
				return i
			}
		}
		t.Fatalf("%s missing from %v", s, ev)
		return -1
	}
	// app waits for the whole first batch, not only for lib.
	if index("start:app") < index("end:lib") || index("start:app") < index("end:slow") {
		t.Errorf("second batch started early: %v", ev)
	}
}

func TestParallelismBound(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	b.delay = 10 * time.Millisecond
	u := New(hclog.NewNullLogger(), store, b, WithParallelism(2))

	var pkgs []types.Package
	for _, base := range []string{"a", "b", "c", "d", "e"} {
		pkgs = append(pkgs, pkg(base, "1"))
	}
	res, err := u.Update(context.Background(), Request{Packages: pkgs})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Success) != 5 {
		t.Errorf("success = %v", bases(res.Success))
	}
	if b.maxRunning > 2 {
		t.Errorf("%d builds ran at once", b.maxRunning)
	}
}

func TestCancellation(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	b.block["a"] = true
	u := New(hclog.NewNullLogger(), store, b)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-b.started
		cancel()
	}()
	res, err := u.Update(ctx, Request{Packages: []types.Package{pkg("a", "1"), pkg("b", "1", "a")}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}

	if diff := cmp.Diff([]string{"a", "b"}, bases(res.Untouched)); diff != "" {
		t.Errorf("untouched (-want +got):\n%s", diff)
	}
	for _, base := range []string{"a", "b"} {
		if got := statusOf(t, store, base); got != types.StatusPending {
			t.Errorf("%s: status %s", base, got)
		}
	}
	for _, e := range b.events() {
		if e == "start:b" {
			t.Error("later batch was started after cancellation")
		}
	}
}

func TestSyncFailureKeepsBuildOutcome(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	repo := &fakeRepo{dir: t.TempDir()}
	up := &fakeUploader{err: errors.New("connection refused")}
	u := New(hclog.NewNullLogger(), store, b, WithRepoTool(repo), WithUploaders(up))

	res, err := u.Update(context.Background(), Request{Packages: []types.Package{pkg("a", "1")}})
	if err != nil {
		t.Fatal(err)
	}
	var sf types.ErrSyncFailed
	if !errors.As(res.SyncErr, &sf) || sf.Uploader != "fake" {
		t.Fatalf("SyncErr = %v", res.SyncErr)
	}
	if got := statusOf(t, store, "a"); got != types.StatusSuccess {
		t.Errorf("status %s", got)
	}
	if n := len(eventsOf(t, store, types.EventSyncFailed)); n != 1 {
		t.Errorf("%d sync-failed events", n)
	}
	want := []string{
		filepath.Join(repo.dir, "a-1-any.pkg.tar.zst"),
		filepath.Join(repo.dir, "custom.db.tar.zst"),
	}
	if diff := cmp.Diff(want, up.files); diff != "" {
		t.Errorf("uploaded (-want +got):\n%s", diff)
	}
}

func TestRepoAddFailureFailsPackage(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	repo := &fakeRepo{dir: t.TempDir(), failOn: "bad-"}
	u := New(hclog.NewNullLogger(), store, b, WithRepoTool(repo))

	res, err := u.Update(context.Background(), Request{Packages: []types.Package{pkg("bad", "1"), pkg("good", "1")}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"bad"}, bases(res.Failed)); diff != "" {
		t.Errorf("failed (-want +got):\n%s", diff)
	}
	if got := statusOf(t, store, "bad"); got != types.StatusFailed {
		t.Errorf("status %s", got)
	}
}

func TestPackagerAttribution(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	u := New(hclog.NewNullLogger(), store, b, WithPackagers(packagers.Packagers{
		Default:   "Default <d@example.org>",
		Overrides: map[string]string{"special": "Special <s@example.org>"},
	}))

	if _, err := u.Update(context.Background(), Request{Packages: []types.Package{pkg("plain", "1"), pkg("special", "1")}}); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"plain": "Default <d@example.org>", "special": "Special <s@example.org>"}
	if diff := cmp.Diff(want, b.packagers); diff != "" {
		t.Errorf("packagers (-want +got):\n%s", diff)
	}
	p, err := store.PackageGet(context.Background(), "special")
	if err != nil || p.Packager != "Special <s@example.org>" {
		t.Errorf("stored packager %q %v", p.Packager, err)
	}
}

func TestClaimedPackagesAreSkipped(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	reg := workers.NewRegistry(hclog.NewNullLogger(), time.Minute)
	other := types.NewWorker("http://10.0.0.2:8080", "other")
	self := types.NewWorker("http://10.0.0.1:8080", "self")
	ctx := context.Background()
	for _, w := range []types.Worker{other, self} {
		if err := reg.Announce(ctx, w); err != nil {
			t.Fatal(err)
		}
	}
	coord := workers.NewLocalCoordinator(reg)
	if ok, err := coord.For(other).Claim(ctx, "b"); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}

	u := New(hclog.NewNullLogger(), store, b, WithCoordinator(coord.For(self)))
	res, err := u.Update(ctx, Request{Packages: []types.Package{pkg("a", "1"), pkg("b", "1")}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a"}, bases(res.Success)); diff != "" {
		t.Errorf("success (-want +got):\n%s", diff)
	}
	if got := statusOf(t, store, "b"); got != types.StatusUnknown {
		t.Errorf("claimed package status %s", got)
	}
	// Our claim on a was released after the build.
	if claimed, _ := coord.For(other).Claimed(ctx, []string{"a"}); len(claimed) != 0 {
		t.Errorf("claims left behind: %v", claimed)
	}
}

func TestLockSerializesCycles(t *testing.T) {
	store := testStore(t)
	dir := t.TempDir()
	locker := lock.New(hclog.NewNullLogger(), dir, testRepo)
	held, err := lock.New(hclog.NewNullLogger(), dir, testRepo).TryAcquire()
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	u := New(hclog.NewNullLogger(), store, newFakeBuilder(t), WithLocker(locker))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := u.Update(ctx, Request{Packages: []types.Package{pkg("a", "1")}}); err == nil {
		t.Fatal("cycle ran while the lock was held")
	}
	if got := statusOf(t, store, "a"); got != types.StatusUnknown {
		t.Errorf("status %s", got)
	}
}

// failingStore breaks status writes for one base.
type failingStore struct {
	*status.Store
	base string
}

func (f failingStore) StatusSet(ctx context.Context, base string, st types.BuildStatus) error {
	if base == f.base && st.Status == types.StatusSuccess {
		return types.NewErrStore("status set", errors.New("disk I/O error"))
	}
	return f.Store.StatusSet(ctx, base, st)
}

func TestStoreErrorIsFatal(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	u := New(hclog.NewNullLogger(), failingStore{Store: store, base: "a"}, b)

	_, err := u.Update(context.Background(), Request{Packages: []types.Package{pkg("a", "1"), pkg("z", "1", "a")}})
	var se types.ErrStore
	if !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
	for _, e := range b.events() {
		if e == "start:z" {
			t.Error("cycle continued after a store failure")
		}
	}
	if n := len(eventsOf(t, store, types.EventCycleFinished)); n != 0 {
		t.Errorf("aborted cycle recorded as finished")
	}
}

func TestRemove(t *testing.T) {
	store := testStore(t)
	repo := &fakeRepo{dir: t.TempDir()}
	u := New(hclog.NewNullLogger(), store, newFakeBuilder(t), WithRepoTool(repo))
	ctx := context.Background()
	if _, err := u.Update(ctx, Request{Packages: []types.Package{pkg("a", "1")}}); err != nil {
		t.Fatal(err)
	}

	removed, err := u.Remove(ctx, []string{"a", "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a"}, removed); diff != "" {
		t.Errorf("removed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, repo.removed); diff != "" {
		t.Errorf("repo removed (-want +got):\n%s", diff)
	}
	if _, err := store.PackageGet(ctx, "a"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("package still stored: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, eventsOf(t, store, types.EventPackageRemoved)); diff != "" {
		t.Errorf("removed events (-want +got):\n%s", diff)
	}
}

// lateClaims hands out nothing during selection and refuses every
// claim afterwards, as if another worker got there in between.
type lateClaims struct{}

func (lateClaims) Claimed(context.Context, []string) (map[string]string, error) { return nil, nil }
func (lateClaims) Claim(context.Context, string) (bool, error)                 { return false, nil }
func (lateClaims) Release(context.Context, string) error                       { return nil }

func TestLostClaimRestoresStatus(t *testing.T) {
	store := testStore(t)
	b := newFakeBuilder(t)
	ctx := context.Background()
	if err := store.StatusSet(ctx, "old", types.NewBuildStatus(types.StatusSuccess)); err != nil {
		t.Fatal(err)
	}

	u := New(hclog.NewNullLogger(), store, b, WithCoordinator(lateClaims{}))
	res, err := u.Update(ctx, Request{Packages: []types.Package{pkg("old", "2"), pkg("new", "1")}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Success) != 0 || len(b.events()) != 0 {
		t.Errorf("result %+v, builds %v", res, b.events())
	}
	want := map[string]types.BuildStatusEnum{
		"old": types.StatusSuccess,
		"new": types.StatusUnknown,
	}
	for base, st := range want {
		if got := statusOf(t, store, base); got != st {
			t.Errorf("%s: status %s, want %s", base, got, st)
		}
	}
}

func TestLockedCycleResetsStaleBuilds(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.StatusSet(ctx, "crashed", types.NewBuildStatus(types.StatusBuilding)); err != nil {
		t.Fatal(err)
	}

	locker := lock.New(hclog.NewNullLogger(), t.TempDir(), testRepo)
	u := New(hclog.NewNullLogger(), store, newFakeBuilder(t), WithLocker(locker))
	if _, err := u.Update(ctx, Request{Packages: []types.Package{pkg("a", "1")}}); err != nil {
		t.Fatal(err)
	}
	if got := statusOf(t, store, "crashed"); got != types.StatusPending {
		t.Errorf("stale build status %s", got)
	}
	if got := statusOf(t, store, "a"); got != types.StatusSuccess {
		t.Errorf("a: status %s", got)
	}
}

func TestArtifactMetadataRecorded(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	u := New(hclog.NewNullLogger(), store, newFakeBuilder(t))
	if _, err := u.Update(ctx, Request{Packages: []types.Package{pkg("a", "1-1")}}); err != nil {
		t.Fatal(err)
	}

	p, err := store.PackageGet(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	d := p.Packages["a"]
	if d.Filename != "a-1-1-any.pkg.tar.zst" || d.ArchiveSize != 1 || d.Architecture != "any" {
		t.Errorf("description = %+v", d)
	}
	if d.BuildDate.IsZero() {
		t.Error("build date not recorded")
	}
}
