/*
undo.go - Single-level undo journal

PURPOSE:
  Records a full snapshot of an entity's state immediately before each
  mutating transition, retrievable and reversible within a bounded time
  window. Only the single most recent mutation per entity is undoable;
  this is not a multi-level undo stack. Taking a new snapshot for an
  entity supersedes the previous one.

PRE-IMAGE CAPTURE:
  Within one orchestrator invocation, validation always precedes the
  pre-image capture, which always precedes the mutating write, so undo
  always has a consistent pre-image. The captured state is journaled
  only after the write transaction commits: a failed transition leaves
  no entry, and cannot supersede the previous legitimate one.

STATE ENVELOPE:
  The snapshot is a JSON-encoded UndoState carrying the entity, its
  dependent rows (allocations), and the exact PO/budget deltas applied
  by the transition. Executing an undo overwrites the entity from the
  pre-image and reverses the recorded deltas; the journal itself only
  stores and hands back entries, the orchestrator owns the writes.

SEE ALSO:
  - orchestrator.go: ExecuteUndo replays the pre-image inside WithTx
  - lock.go: same in-memory TTL pattern
*/
package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultUndoWindow is the server-configured span during which the most
// recent mutation on an entity may be reversed.
const DefaultUndoWindow = 60 * time.Second

// =============================================================================
// STATE ENVELOPE
// =============================================================================

// PODeltaRecord is the amount a transition added to a PO line item's
// InvoicedAmount (negative when the transition decremented it).
type PODeltaRecord struct {
	POLineItemID POLineItemID    `json:"po_line_item_id"`
	Delta        decimal.Decimal `json:"delta"`
}

// BudgetDeltaRecord is the amount a transition added to one budget line
// rollup field.
type BudgetDeltaRecord struct {
	JobID      JobID           `json:"job_id"`
	CostCodeID CostCodeID      `json:"cost_code_id"`
	Field      BudgetField     `json:"field"`
	Delta      decimal.Decimal `json:"delta"`
}

// UndoState is the pre-transition image plus the side-effect deltas the
// transition applied. Exactly one of Invoice/Draw is set.
type UndoState struct {
	Invoice     *Invoice     `json:"invoice,omitempty"`
	Allocations []Allocation `json:"allocations,omitempty"`

	Draw                *Draw                `json:"draw,omitempty"`
	DrawAllocations     []DrawAllocation     `json:"draw_allocations,omitempty"`
	ChangeOrderBillings []ChangeOrderBilling `json:"change_order_billings,omitempty"`

	PODeltas     []PODeltaRecord     `json:"po_deltas,omitempty"`
	BudgetDeltas []BudgetDeltaRecord `json:"budget_deltas,omitempty"`
}

// =============================================================================
// JOURNAL
// =============================================================================

// UndoEntry is an immutable copy of an entity's pre-transition state with
// an action tag, an actor, and an expiry.
type UndoEntry struct {
	ID         string
	EntityType EntityType
	EntityID   string
	Action     string
	StateJSON  []byte
	By         string
	CreatedAt  time.Time
	ExpiresAt  time.Time

	consumed bool
}

// State decodes the JSON pre-image.
func (e UndoEntry) State() (UndoState, error) {
	var st UndoState
	if err := json.Unmarshal(e.StateJSON, &st); err != nil {
		return UndoState{}, fmt.Errorf("decode undo state: %w", err)
	}
	return st, nil
}

func (e UndoEntry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// UndoJournal keeps the most recent unexpired, unconsumed snapshot per
// entity. Safe for concurrent use.
type UndoJournal struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[lockKey]*UndoEntry
	byID    map[string]*UndoEntry

	now func() time.Time
}

// NewUndoJournal creates a journal with the given window
// (DefaultUndoWindow if window <= 0).
func NewUndoJournal(window time.Duration) *UndoJournal {
	if window <= 0 {
		window = DefaultUndoWindow
	}
	return &UndoJournal{
		window:  window,
		entries: make(map[lockKey]*UndoEntry),
		byID:    make(map[string]*UndoEntry),
		now:     time.Now,
	}
}

// Snapshot stores a full pre-transition copy. The previous entry for the
// entity, if any, is superseded.
func (j *UndoJournal) Snapshot(entityType EntityType, entityID, action string, state UndoState, by string) (UndoEntry, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return UndoEntry{}, fmt.Errorf("encode undo state: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	entry := &UndoEntry{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		StateJSON:  data,
		By:         by,
		CreatedAt:  now,
		ExpiresAt:  now.Add(j.window),
	}

	k := lockKey{entityType, entityID}
	if prev, ok := j.entries[k]; ok {
		delete(j.byID, prev.ID)
	}
	j.entries[k] = entry
	j.byID[entry.ID] = entry
	return *entry, nil
}

// Available returns the most recent unexpired, unconsumed snapshot for
// the entity.
func (j *UndoJournal) Available(entityType EntityType, entityID string) (UndoEntry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, ok := j.entries[lockKey{entityType, entityID}]
	if !ok || entry.consumed || entry.expired(j.now()) {
		return UndoEntry{}, false
	}
	return *entry, true
}

// Consume marks the entry used and returns it. Fails with
// ErrUndoNotFound if the entry is expired, already consumed, or absent.
// The orchestrator replays the pre-image; a second consume on the same
// entity always fails.
func (j *UndoJournal) Consume(entryID string) (UndoEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, ok := j.byID[entryID]
	if !ok || entry.consumed || entry.expired(j.now()) {
		return UndoEntry{}, ErrUndoNotFound
	}
	entry.consumed = true
	return *entry, nil
}

// Sweep deletes expired and consumed entries.
func (j *UndoJournal) Sweep() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	removed := 0
	for k, e := range j.entries {
		if e.consumed || e.expired(now) {
			delete(j.entries, k)
			delete(j.byID, e.ID)
			removed++
		}
	}
	return removed
}
