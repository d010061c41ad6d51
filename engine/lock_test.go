package engine

import (
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLockManager(ttl time.Duration) (*LockManager, *fakeClock) {
	clock := newFakeClock()
	lm := NewLockManager(ttl)
	lm.now = clock.now
	return lm, clock
}

func TestLockManager_AcquireAndConflict(t *testing.T) {
	// GIVEN: alice holds the lock on an invoice
	// WHEN: bob tries to acquire the same entity
	// THEN: bob fails immediately with LOCKED naming the holder
	lm, _ := newTestLockManager(time.Minute)

	if _, err := lm.Acquire(EntityInvoice, "inv-1", "alice"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err := lm.Acquire(EntityInvoice, "inv-1", "bob")
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	var held *LockHeldError
	if !errors.As(err, &held) || held.Holder != "alice" {
		t.Fatalf("expected LockHeldError naming alice, got %v", err)
	}
}

func TestLockManager_SameHolderRefreshesTTL(t *testing.T) {
	lm, clock := newTestLockManager(time.Minute)

	first, err := lm.Acquire(EntityInvoice, "inv-1", "alice")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	clock.advance(30 * time.Second)
	second, err := lm.Acquire(EntityInvoice, "inv-1", "alice")
	if err != nil {
		t.Fatalf("re-acquire by holder: %v", err)
	}
	if second.ID != first.ID {
		t.Error("re-acquire should return the same lock ID")
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Error("re-acquire should extend the expiry")
	}
}

func TestLockManager_ExpiredLockIsAbsent(t *testing.T) {
	// GIVEN: alice's lock has passed its TTL (crashed holder)
	// WHEN: bob acquires and Check runs
	// THEN: bob wins; the expired lock never blocks anyone
	lm, clock := newTestLockManager(time.Minute)

	if _, err := lm.Acquire(EntityDraw, "draw-1", "alice"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	clock.advance(61 * time.Second)

	if _, ok := lm.Check(EntityDraw, "draw-1"); ok {
		t.Fatal("expired lock should be reported absent")
	}
	if _, err := lm.Acquire(EntityDraw, "draw-1", "bob"); err != nil {
		t.Fatalf("acquire over expired lock: %v", err)
	}
}

func TestLockManager_Release(t *testing.T) {
	lm, _ := newTestLockManager(time.Minute)

	lock, _ := lm.Acquire(EntityInvoice, "inv-1", "alice")

	// Wrong holder cannot release.
	if err := lm.Release(lock.ID, "bob"); !errors.Is(err, ErrLocked) {
		t.Fatalf("release by non-holder: expected ErrLocked, got %v", err)
	}
	// Holder releases; the entity is free.
	if err := lm.Release(lock.ID, "alice"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := lm.Check(EntityInvoice, "inv-1"); ok {
		t.Fatal("lock should be gone after release")
	}
	// Releasing again fails NOT_FOUND.
	if err := lm.Release(lock.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second release: expected ErrNotFound, got %v", err)
	}
}

func TestLockManager_Sweep(t *testing.T) {
	lm, clock := newTestLockManager(time.Minute)

	lm.Acquire(EntityInvoice, "inv-1", "alice")
	lm.Acquire(EntityInvoice, "inv-2", "alice")
	clock.advance(30 * time.Second)
	lm.Acquire(EntityInvoice, "inv-3", "bob")
	clock.advance(31 * time.Second)

	// inv-1 and inv-2 are past their TTL; inv-3 is still live.
	if removed := lm.Sweep(); removed != 2 {
		t.Errorf("swept %d, want 2", removed)
	}
	if _, ok := lm.Check(EntityInvoice, "inv-3"); !ok {
		t.Error("live lock should survive the sweep")
	}
}
