package surrealdb

import (
	"context"
	"testing"
	"time"
)

func TestLockMutualExclusion(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	// Two stores on the same database model two scheduler instances.
	holder := m.lockStore
	rival := NewLockStore(m.db, m.logger)

	ok, err := holder.Acquire(ctx, "recon-sweep", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !ok {
		t.Fatal("First acquisition must succeed")
	}

	ok, err = rival.Acquire(ctx, "recon-sweep", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if ok {
		t.Error("Second instance must not acquire a held lock")
	}

	// A different lock name is independent.
	ok, err = rival.Acquire(ctx, "batch-purge", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !ok {
		t.Error("Unrelated lock must be acquirable")
	}
}

func TestLockReleaseAndReacquire(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	holder := m.lockStore
	rival := NewLockStore(m.db, m.logger)

	if ok, err := holder.Acquire(ctx, "recon-sweep", time.Minute); err != nil || !ok {
		t.Fatalf("Acquire = (%v, %v)", ok, err)
	}

	// A non-owner release is a no-op.
	if err := rival.Release(ctx, "recon-sweep"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, err := rival.Acquire(ctx, "recon-sweep", time.Minute); err != nil || ok {
		t.Fatalf("Lock must survive a non-owner release: (%v, %v)", ok, err)
	}

	if err := holder.Release(ctx, "recon-sweep"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, err := rival.Acquire(ctx, "recon-sweep", time.Minute); err != nil || !ok {
		t.Fatalf("Released lock must be acquirable: (%v, %v)", ok, err)
	}
}

func TestLockExpiresAfterTTL(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	holder := m.lockStore
	rival := NewLockStore(m.db, m.logger)

	if ok, err := holder.Acquire(ctx, "recon-sweep", 50*time.Millisecond); err != nil || !ok {
		t.Fatalf("Acquire = (%v, %v)", ok, err)
	}

	time.Sleep(100 * time.Millisecond)

	ok, err := rival.Acquire(ctx, "recon-sweep", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !ok {
		t.Error("Expired lock must be claimable by another instance")
	}
}
