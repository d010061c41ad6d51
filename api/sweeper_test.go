package api_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerline/draw-engine/api"
	"github.com/ledgerline/draw-engine/engine"
	"github.com/ledgerline/draw-engine/engine/store"
)

func TestSweeper_StartStop(t *testing.T) {
	orch := engine.NewOrchestrator(store.NewMemory(), zerolog.Nop())
	sweeper := api.NewSweeper(orch, zerolog.Nop())
	sweeper.CheckInterval = 10 * time.Millisecond

	sweeper.Start()
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop() // blocks until the goroutine exits
}

func TestSweeper_RunNowCleansExpiredEntries(t *testing.T) {
	// GIVEN: Locks and undo entries with an effectively-zero TTL
	// WHEN: RunNow fires
	// THEN: The expired entries are gone
	orch := engine.NewOrchestrator(store.NewMemory(), zerolog.Nop())
	orch.Locks = engine.NewLockManager(time.Nanosecond)
	orch.Undo = engine.NewUndoJournal(time.Nanosecond)

	if _, err := orch.Locks.Acquire(engine.EntityInvoice, "inv-1", "alice"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := orch.Undo.Snapshot(engine.EntityInvoice, "inv-1", "approve", engine.UndoState{}, "alice"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	time.Sleep(time.Millisecond)

	sweeper := api.NewSweeper(orch, zerolog.Nop())
	sweeper.RunNow()

	if _, ok := orch.Locks.Check(engine.EntityInvoice, "inv-1"); ok {
		t.Error("expired lock should be swept")
	}
	if _, ok := orch.Undo.Available(engine.EntityInvoice, "inv-1"); ok {
		t.Error("expired undo entry should be swept")
	}
}
