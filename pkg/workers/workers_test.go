package workers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func TestRegistryLiveness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t0 := time.Unix(1000, 0)
	clock := &fakeClock{t: t0}
	reg := NewRegistry(hclog.NewNullLogger(), 5*time.Second, WithClock(clock.Now))

	w := types.NewWorker("http://w1:8080", "")
	if err := reg.Announce(ctx, w); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	clock.Set(t0.Add(time.Second))
	if diff := cmp.Diff([]types.Worker{w}, reg.Workers()); diff != "" {
		t.Errorf("workers at T+1 (-want +got):\n%s", diff)
	}
	if !reg.Alive(w.Identifier) {
		t.Error("worker should be alive at T+1")
	}

	clock.Set(t0.Add(10 * time.Second))
	if got := reg.Workers(); len(got) != 0 {
		t.Errorf("workers at T+10 = %+v, want none", got)
	}
	if reg.Alive(w.Identifier) {
		t.Error("worker should be expired at T+10")
	}

	// A fresh heartbeat revives it.
	if err := reg.Announce(ctx, w); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if !reg.Alive(w.Identifier) {
		t.Error("worker should be alive after a new heartbeat")
	}
}

type memPersister struct {
	m map[types.Worker]time.Time
}

func (p *memPersister) WorkersInsert(_ context.Context, w types.Worker, t time.Time) error {
	p.m[w] = t
	return nil
}

func (p *memPersister) WorkersGet(context.Context) (map[types.Worker]time.Time, error) {
	return p.m, nil
}

func TestRegistryPersistence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t0 := time.Unix(1000, 0)
	clock := &fakeClock{t: t0}
	p := &memPersister{m: make(map[types.Worker]time.Time)}

	first := NewRegistry(hclog.NewNullLogger(), 5*time.Second, WithClock(clock.Now), WithPersister(p))
	w := types.NewWorker("http://w1:8080", "w1")
	if err := first.Announce(ctx, w); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	clock.Set(t0.Add(2 * time.Second))
	second := NewRegistry(hclog.NewNullLogger(), 5*time.Second, WithClock(clock.Now), WithPersister(p))
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !second.Alive("w1") {
		t.Error("restored worker should still be alive")
	}
	clock.Set(t0.Add(6 * time.Second))
	if second.Alive("w1") {
		t.Error("restored worker should expire on its original schedule")
	}
}

func TestLocalCoordinator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t0 := time.Unix(1000, 0)
	clock := &fakeClock{t: t0}
	reg := NewRegistry(hclog.NewNullLogger(), 5*time.Second, WithClock(clock.Now))

	w1 := types.NewWorker("http://w1", "w1")
	w2 := types.NewWorker("http://w2", "w2")
	for _, w := range []types.Worker{w1, w2} {
		if err := reg.Announce(ctx, w); err != nil {
			t.Fatalf("Announce: %v", err)
		}
	}

	c := NewLocalCoordinator(reg)
	one, two := c.For(w1), c.For(w2)

	if ok, _ := one.Claim(ctx, "a"); !ok {
		t.Fatal("w1 could not claim a free base")
	}
	if ok, _ := two.Claim(ctx, "a"); ok {
		t.Fatal("w2 claimed a base held by a live worker")
	}

	claimed, _ := two.Claimed(ctx, []string{"a", "b"})
	if diff := cmp.Diff(map[string]string{"a": "w1"}, claimed); diff != "" {
		t.Errorf("Claimed mismatch (-want +got):\n%s", diff)
	}
	mine, _ := one.Claimed(ctx, []string{"a"})
	if len(mine) != 0 {
		t.Errorf("own claims should not be reported: %+v", mine)
	}

	// w1 goes silent; its claim no longer blocks w2.
	clock.Set(t0.Add(10 * time.Second))
	if err := reg.Announce(ctx, w2); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	claimed, _ = two.Claimed(ctx, []string{"a"})
	if len(claimed) != 0 {
		t.Errorf("claim of dead worker reported: %+v", claimed)
	}
	if ok, _ := two.Claim(ctx, "a"); !ok {
		t.Error("w2 could not take over a dead worker's claim")
	}

	if err := one.Release(ctx, "a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := one.Claim(ctx, "a"); ok {
		t.Error("release by a non-owner dropped the claim")
	}
}

func TestHTTPAnnounceAndHeartbeat(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(hclog.NewNullLogger(), time.Minute)

	r := chi.NewRouter()
	r.Mount("/api/v1/workers", reg.HTTPEntry())
	srv := httptest.NewServer(r)
	defer srv.Close()

	self := types.NewWorker("http://builder-7:8080", "")
	client := NewAPIClient(hclog.NewNullLogger(), srv.URL, self, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Heartbeat(ctx, hclog.NewNullLogger(), client, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !reg.Alive("builder-7:8080") {
		if time.Now().After(deadline) {
			t.Fatal("heartbeat never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	resp, err := http.Get(srv.URL + "/api/v1/workers")
	if err != nil {
		t.Fatalf("GET workers: %v", err)
	}
	defer resp.Body.Close()
	var listed []types.Worker
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff([]types.Worker{self}, listed); diff != "" {
		t.Errorf("listed workers (-want +got):\n%s", diff)
	}
}

func TestAnnounceUnreachable(t *testing.T) {
	t.Parallel()
	client := NewAPIClient(hclog.NewNullLogger(), "http://127.0.0.1:1", types.NewWorker("http://me", ""), 100*time.Millisecond)
	err := client.Announce(context.Background())
	var wu types.ErrWorkerUnreachable
	if !errors.As(err, &wu) {
		t.Errorf("Announce = %v, want ErrWorkerUnreachable", err)
	}
}
