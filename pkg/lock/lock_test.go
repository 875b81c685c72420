package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

func TestExclusive(t *testing.T) {
	dir := t.TempDir()
	id := types.NewRepositoryID("custom", "x86_64")
	a := New(hclog.NewNullLogger(), dir, id)
	b := New(hclog.NewNullLogger(), dir, id)

	held, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.TryAcquire(); !errors.Is(err, ErrLocked) {
		t.Fatalf("second lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := b.Acquire(ctx); err == nil {
		t.Fatal("blocked acquire returned without error")
	}

	if err := held.Release(); err != nil {
		t.Fatal(err)
	}
	again, err := b.TryAcquire()
	if err != nil {
		t.Fatal(err)
	}
	again.Release()
}

func TestIdentitiesIndependent(t *testing.T) {
	dir := t.TempDir()
	x, err := New(hclog.NewNullLogger(), dir, types.NewRepositoryID("custom", "x86_64")).TryAcquire()
	if err != nil {
		t.Fatal(err)
	}
	defer x.Release()
	y, err := New(hclog.NewNullLogger(), dir, types.NewRepositoryID("custom", "aarch64")).TryAcquire()
	if err != nil {
		t.Fatal(err)
	}
	y.Release()
}
