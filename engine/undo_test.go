package engine

import (
	"errors"
	"testing"
	"time"
)

func newTestJournal(window time.Duration) (*UndoJournal, *fakeClock) {
	clock := newFakeClock()
	j := NewUndoJournal(window)
	j.now = clock.now
	return j, clock
}

func TestUndoJournal_SnapshotAndAvailable(t *testing.T) {
	j, _ := newTestJournal(time.Minute)

	inv := &Invoice{ID: "inv-1", Status: InvoiceReceived, Amount: dec("100")}
	entry, err := j.Snapshot(EntityInvoice, "inv-1", "submit_for_approval", UndoState{Invoice: inv}, "alice")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	got, ok := j.Available(EntityInvoice, "inv-1")
	if !ok {
		t.Fatal("snapshot should be available")
	}
	if got.ID != entry.ID || got.Action != "submit_for_approval" || got.By != "alice" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	// The pre-image round-trips.
	state, err := got.State()
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Invoice == nil || state.Invoice.ID != "inv-1" || state.Invoice.Status != InvoiceReceived {
		t.Fatalf("unexpected pre-image: %+v", state.Invoice)
	}
}

func TestUndoJournal_NewSnapshotSupersedesPrevious(t *testing.T) {
	// GIVEN: Two consecutive mutations on the same entity
	// WHEN: Querying available undo
	// THEN: Only the most recent snapshot is retrievable (single-level)
	j, _ := newTestJournal(time.Minute)

	first, _ := j.Snapshot(EntityInvoice, "inv-1", "submit_for_approval", UndoState{}, "alice")
	second, _ := j.Snapshot(EntityInvoice, "inv-1", "approve", UndoState{}, "alice")

	got, ok := j.Available(EntityInvoice, "inv-1")
	if !ok || got.ID != second.ID {
		t.Fatal("available should return the superseding snapshot")
	}
	if _, err := j.Consume(first.ID); !errors.Is(err, ErrUndoNotFound) {
		t.Fatalf("superseded entry should be gone, got %v", err)
	}
}

func TestUndoJournal_ConsumeIsSingleUse(t *testing.T) {
	j, _ := newTestJournal(time.Minute)

	entry, _ := j.Snapshot(EntityDraw, "draw-1", "submit", UndoState{}, "alice")

	if _, err := j.Consume(entry.ID); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if _, err := j.Consume(entry.ID); !errors.Is(err, ErrUndoNotFound) {
		t.Fatalf("second consume: expected ErrUndoNotFound, got %v", err)
	}
	if _, ok := j.Available(EntityDraw, "draw-1"); ok {
		t.Fatal("consumed entry should not be available")
	}
}

func TestUndoJournal_WindowExpiry(t *testing.T) {
	j, clock := newTestJournal(time.Minute)

	entry, _ := j.Snapshot(EntityInvoice, "inv-1", "deny", UndoState{}, "alice")
	clock.advance(61 * time.Second)

	if _, ok := j.Available(EntityInvoice, "inv-1"); ok {
		t.Fatal("expired entry should not be available")
	}
	if _, err := j.Consume(entry.ID); !errors.Is(err, ErrUndoNotFound) {
		t.Fatalf("expected ErrUndoNotFound for expired entry, got %v", err)
	}
}

func TestUndoJournal_Sweep(t *testing.T) {
	j, clock := newTestJournal(time.Minute)

	j.Snapshot(EntityInvoice, "inv-1", "approve", UndoState{}, "alice")
	consumed, _ := j.Snapshot(EntityInvoice, "inv-2", "approve", UndoState{}, "alice")
	j.Consume(consumed.ID)
	clock.advance(30 * time.Second)
	live, _ := j.Snapshot(EntityInvoice, "inv-3", "approve", UndoState{}, "alice")
	clock.advance(31 * time.Second)

	// inv-1 expired, inv-2 consumed, inv-3 still inside the window.
	if removed := j.Sweep(); removed != 2 {
		t.Errorf("swept %d, want 2", removed)
	}
	if got, ok := j.Available(EntityInvoice, "inv-3"); !ok || got.ID != live.ID {
		t.Error("live entry should survive the sweep")
	}
}
