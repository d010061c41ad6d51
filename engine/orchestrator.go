/*
orchestrator.go - Lifecycle orchestrator core

PURPOSE:
  The top-level component. Accepts a requested transition, and invokes
  the transition validator, the reconciliation calculators, the lock
  manager, and the undo journal in the correct order:

    acquire lock -> validate edge -> reconcile -> capture pre-image
      -> apply all writes in one store transaction -> journal the undo
      entry -> release lock -> best-effort side effects -> return new
      state + warnings

  Ordering guarantee: within one invocation, validation always precedes
  the pre-image capture, which always precedes the mutating write. The
  captured pre-image is journaled only after the transaction commits,
  so a failed transition never leaves an undo entry behind and never
  supersedes the previous legitimate one. Across invocations there is
  no global ordering beyond per-entity mutual exclusion via the
  advisory lock.

SIDE EFFECTS:
  Document stamping and event broadcast run after the transaction
  commits. They fail independently: a stamping failure is logged and
  surfaced as a warning, never rolled back. The business transition is
  successful even if a downstream artifact failed.

SEE ALSO:
  - invoice.go: invoice transition handlers
  - draw.go:    draw transition handlers
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Stamper renders/export-stamps documents after a successful transition.
// Best-effort: a failure becomes a warning on the result.
type Stamper interface {
	Stamp(ctx context.Context, entityType EntityType, entityID, event string) error
}

// Event is broadcast after every successful transition.
type Event struct {
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Broadcaster publishes events fire-and-forget. Implementations log and
// swallow their own failures.
type Broadcaster interface {
	Broadcast(ctx context.Context, event Event)
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Result is what a transition returns: the updated entity plus any
// non-fatal warnings.
type Result struct {
	Invoice  *Invoice
	Draw     *Draw
	Warnings []string
}

// Orchestrator drives every invoice and draw transition.
type Orchestrator struct {
	Store       Store
	Locks       *LockManager
	Undo        *UndoJournal
	Stamper     Stamper     // optional
	Broadcaster Broadcaster // optional
	Log         zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewOrchestrator wires an orchestrator with default lock TTL and undo
// window.
func NewOrchestrator(store Store, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Store: store,
		Locks: NewLockManager(DefaultLockTTL),
		Undo:  NewUndoJournal(DefaultUndoWindow),
		Log:   log,
		now:   time.Now,
	}
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

// withLock acquires the advisory lock for the duration of fn. Fails
// immediately with LOCKED when another actor holds the entity; it never
// blocks or retries.
func (o *Orchestrator) withLock(entityType EntityType, entityID, actor string, fn func() error) error {
	lock, err := o.Locks.Acquire(entityType, entityID, actor)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := o.Locks.Release(lock.ID, actor); relErr != nil && !errors.Is(relErr, ErrNotFound) {
			o.Log.Warn().Err(relErr).Str("entity_id", entityID).Msg("lock release failed")
		}
	}()
	return fn()
}

// journalUndo records a captured pre-image after the transition's write
// sequence has committed. Journal errors are logged, not propagated:
// the business transition already succeeded, undo simply becomes
// unavailable.
func (o *Orchestrator) journalUndo(entityType EntityType, entityID, action string, state UndoState, actor string) {
	if _, err := o.Undo.Snapshot(entityType, entityID, action, state, actor); err != nil {
		o.Log.Warn().Err(err).
			Str("entity_id", entityID).
			Str("action", action).
			Msg("undo journal write failed")
	}
}

// sideEffects runs the best-effort collaborators after a committed
// transition and returns stamping warnings.
func (o *Orchestrator) sideEffects(ctx context.Context, entityType EntityType, entityID, action, actor string, payload map[string]any) []string {
	var warnings []string

	if o.Stamper != nil {
		if err := o.Stamper.Stamp(ctx, entityType, entityID, action); err != nil {
			o.Log.Warn().Err(err).
				Str("entity_type", string(entityType)).
				Str("entity_id", entityID).
				Str("action", action).
				Msg("document stamping failed (non-fatal)")
			warnings = append(warnings, fmt.Sprintf("document stamping failed: %v", err))
		}
	}

	if o.Broadcaster != nil {
		o.Broadcaster.Broadcast(ctx, Event{
			EntityType: entityType,
			EntityID:   entityID,
			Action:     action,
			Actor:      actor,
			Payload:    payload,
		})
	}

	return warnings
}

// =============================================================================
// SHARED ROLLUP WRITES
// =============================================================================

// applyBudgetDelta adjusts one rollup field on the job/cost-code budget
// line, creating the line at zero baseline when absent. Always a
// read-then-write against the current row, never an in-memory cache;
// decrements floor at zero to avoid negative drift when reversing
// out-of-order transitions.
func (o *Orchestrator) applyBudgetDelta(ctx context.Context, s Store, jobID JobID, costCodeID CostCodeID, field BudgetField, delta decimal.Decimal) error {
	line, err := s.GetBudgetLine(ctx, jobID, costCodeID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	line = BudgetDelta(line, jobID, costCodeID, field, delta)
	line.UpdatedAt = o.clock()
	return s.UpsertBudgetLine(ctx, line)
}

// applyPOLineDelta adjusts a PO line item's cumulative InvoicedAmount,
// flooring at zero, with a version-predicated write.
func (o *Orchestrator) applyPOLineDelta(ctx context.Context, s Store, id POLineItemID, delta decimal.Decimal) error {
	li, err := s.GetPOLineItem(ctx, id)
	if err != nil {
		return err
	}
	li.InvoicedAmount = FloorAtZero(li.InvoicedAmount.Add(delta))
	return s.UpdatePOLineItem(ctx, li, li.Version)
}

// groupPODeltas sums allocation amounts per targeted PO line item.
func groupPODeltas(allocations []Allocation) map[POLineItemID]decimal.Decimal {
	deltas := make(map[POLineItemID]decimal.Decimal)
	for _, a := range allocations {
		if a.POLineItemID == nil {
			continue
		}
		deltas[*a.POLineItemID] = deltas[*a.POLineItemID].Add(a.Amount)
	}
	return deltas
}

// =============================================================================
// GENERIC TRANSITION ENTRY POINT
// =============================================================================

// TransitionPayload carries the optional inputs a transition may need.
type TransitionPayload struct {
	Allocations       []AllocationInput
	OverridePOOverage bool
	Reason            string
	FundedAmount      *decimal.Decimal
}

// RequestTransition dispatches "move entity X to status S" onto the
// concrete handler. Thin HTTP handlers translate REST calls into this.
func (o *Orchestrator) RequestTransition(ctx context.Context, entityType EntityType, entityID string, targetStatus string, payload TransitionPayload, actor string) (*Result, error) {
	switch entityType {
	case EntityInvoice:
		return o.requestInvoiceTransition(ctx, InvoiceID(entityID), InvoiceStatus(targetStatus), payload, actor)
	case EntityDraw:
		return o.requestDrawTransition(ctx, DrawID(entityID), DrawStatus(targetStatus), payload, actor)
	}
	return nil, fmt.Errorf("%w: unknown entity type %q", ErrValidationFailed, entityType)
}

func (o *Orchestrator) requestInvoiceTransition(ctx context.Context, id InvoiceID, target InvoiceStatus, payload TransitionPayload, actor string) (*Result, error) {
	inv, err := o.Store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}

	switch target {
	case InvoiceNeedsApproval:
		if inv.Status == InvoiceApproved {
			return o.UnapproveInvoice(ctx, id, actor)
		}
		return o.SubmitForApproval(ctx, SubmitInput{InvoiceID: id, Allocations: payload.Allocations, Actor: actor})
	case InvoiceApproved:
		if inv.Status == InvoiceInDraw {
			return o.pullInvoiceFromDraw(ctx, id, actor)
		}
		return o.ApproveInvoice(ctx, ApproveInput{
			InvoiceID:         id,
			Allocations:       payload.Allocations,
			Actor:             actor,
			OverridePOOverage: payload.OverridePOOverage,
		})
	case InvoiceDenied:
		return o.DenyInvoice(ctx, id, payload.Reason, actor)
	case InvoiceReceived:
		return o.ResubmitInvoice(ctx, id, actor)
	case InvoicePaid:
		return o.CloseOutInvoice(ctx, id, actor)
	}
	return nil, invoiceTransitionError(inv.Status, target, Verdict{Reason: "unknown target status"})
}

func (o *Orchestrator) requestDrawTransition(ctx context.Context, id DrawID, target DrawStatus, payload TransitionPayload, actor string) (*Result, error) {
	switch target {
	case DrawSubmitted:
		return o.SubmitDraw(ctx, id, actor)
	case DrawDraft:
		return o.UnsubmitDraw(ctx, id, actor)
	case DrawFunded:
		return o.FundDraw(ctx, FundDrawInput{DrawID: id, FundedAmount: payload.FundedAmount, Actor: actor})
	}
	return nil, &TransitionError{EntityType: EntityDraw, To: string(target), Reason: "unknown target status"}
}

// =============================================================================
// UNDO
// =============================================================================

// GetAvailableUndo returns the most recent unexpired, unconsumed
// snapshot for the entity.
func (o *Orchestrator) GetAvailableUndo(entityType EntityType, entityID string) (UndoEntry, bool) {
	return o.Undo.Available(entityType, entityID)
}

// ExecuteUndo replays a full overwrite of the entity to its
// pre-transition state and reverses the recorded PO/budget deltas, all
// inside one store transaction. Fails with UNDO_NOT_FOUND when the
// entry is expired, already consumed, or absent.
func (o *Orchestrator) ExecuteUndo(ctx context.Context, entryID, actor string) (*Result, error) {
	entry, err := o.Undo.Consume(entryID)
	if err != nil {
		return nil, err
	}
	state, err := entry.State()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	err = o.withLock(entry.EntityType, entry.EntityID, actor, func() error {
		return o.Store.WithTx(ctx, func(s Store) error {
			if state.Invoice != nil {
				current, err := s.GetInvoice(ctx, state.Invoice.ID)
				if err != nil {
					return err
				}
				restored := *state.Invoice
				if err := s.UpdateInvoice(ctx, &restored, current.Version); err != nil {
					return err
				}
				if err := s.ReplaceAllocations(ctx, restored.ID, state.Allocations); err != nil {
					return err
				}
				res.Invoice = &restored
			}
			if state.Draw != nil {
				current, err := s.GetDraw(ctx, state.Draw.ID)
				if err != nil {
					return err
				}
				restored := *state.Draw
				if err := s.UpdateDraw(ctx, &restored, current.Version); err != nil {
					return err
				}
				// Restore the invoice's membership rows to the pre-image.
				if state.Invoice != nil {
					if err := s.DeleteDrawAllocations(ctx, restored.ID, state.Invoice.ID); err != nil {
						return err
					}
					if len(state.DrawAllocations) > 0 {
						if err := s.AddDrawAllocations(ctx, state.DrawAllocations); err != nil {
							return err
						}
					}
				}
				if state.ChangeOrderBillings != nil {
					if err := s.ReplaceChangeOrderBillings(ctx, restored.ID, state.ChangeOrderBillings); err != nil {
						return err
					}
				}
				res.Draw = &restored
			}
			for _, pd := range state.PODeltas {
				if err := o.applyPOLineDelta(ctx, s, pd.POLineItemID, pd.Delta.Neg()); err != nil {
					return err
				}
			}
			for _, bd := range state.BudgetDeltas {
				if err := o.applyBudgetDelta(ctx, s, bd.JobID, bd.CostCodeID, bd.Field, bd.Delta.Neg()); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	res.Warnings = o.sideEffects(ctx, entry.EntityType, entry.EntityID, "undo_"+entry.Action, actor, nil)
	return res, nil
}
