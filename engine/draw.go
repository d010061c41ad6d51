/*
draw.go - Draw transition handlers

PURPOSE:
  A draw is a periodic payment application bundling approved invoices
  and change-order billings for funding. Handlers here cover:

    membership:  AddInvoiceToDraw / RemoveInvoiceFromDraw
                 Add/RemoveChangeOrderBilling / EditDrawAllocation
    lifecycle:   SubmitDraw -> UnsubmitDraw -> FundDraw

  A draft draw is mutable; a submitted draw rejects membership edits
  until unsubmitted; a funded draw is permanently immutable.

TOTALS:
  TotalAmount is always recomputed from the draw's source rows (draw
  allocations + change-order billings) inside the same transaction as
  the membership change. Never incrementally patched.

FUNDING:
  FundDraw records FundingDifference = funded - billed (partial or over
  funding is recorded, not rejected), then for every in_draw invoice:
  cumulative billed/paid increase by the share billed in this draw,
  budget paid rollups increase per allocation, active allocations are
  reduced by the billed amounts, and the invoice moves to paid once
  cumulative paid covers its total (epsilon-tolerant) or back to
  approved for the next cycle. All inside one store transaction, with
  the advisory locks of the draw and of every billed invoice held for
  the duration. Funding is terminal, so no undo snapshot is written
  for it.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CREATE
// =============================================================================

type CreateDrawInput struct {
	JobID       JobID
	PeriodStart time.Time
	PeriodEnd   time.Time
	Actor       string
}

// CreateDraw opens a new draft draw, numbered sequentially per job.
func (o *Orchestrator) CreateDraw(ctx context.Context, in CreateDrawInput) (*Draw, error) {
	if in.JobID == "" {
		return nil, fmt.Errorf("%w: job is required", ErrValidationFailed)
	}
	existing, err := o.Store.ListDrawsByJob(ctx, in.JobID)
	if err != nil {
		return nil, err
	}
	now := o.clock()
	d := &Draw{
		ID:          DrawID(uuid.NewString()),
		JobID:       in.JobID,
		Number:      len(existing) + 1,
		Status:      DrawDraft,
		PeriodStart: in.PeriodStart,
		PeriodEnd:   in.PeriodEnd,
		TotalAmount: decimal.Zero,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.Store.CreateDraw(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// recomputeDrawTotal re-derives TotalAmount from source rows and writes
// the draw. Idempotent: recomputing twice yields the same value.
func (o *Orchestrator) recomputeDrawTotal(ctx context.Context, s Store, draw *Draw) error {
	drawAllocs, err := s.ListDrawAllocations(ctx, draw.ID)
	if err != nil {
		return err
	}
	billings, err := s.ListChangeOrderBillings(ctx, draw.ID)
	if err != nil {
		return err
	}
	draw.TotalAmount = DrawTotalAmount(drawAllocs, billings)
	draw.UpdatedAt = o.clock()
	return s.UpdateDraw(ctx, draw, draw.Version)
}

// =============================================================================
// MEMBERSHIP - invoices
// =============================================================================

// AddInvoiceToDraw moves an approved invoice into a draft draw, copying
// its active allocations into draw allocations for this cycle.
func (o *Orchestrator) AddInvoiceToDraw(ctx context.Context, drawID DrawID, invoiceID InvoiceID, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityDraw, string(drawID), actor, func() error {
		return o.withLock(EntityInvoice, string(invoiceID), actor, func() error {
			draw, err := o.Store.GetDraw(ctx, drawID)
			if err != nil {
				return err
			}
			if !draw.Editable() {
				return fmt.Errorf("%w: draw %s is %s and cannot be edited", ErrValidationFailed, drawID, draw.Status)
			}

			inv, err := o.Store.GetInvoice(ctx, invoiceID)
			if err != nil {
				return err
			}
			if v := CanTransitionInvoice(inv.Status, InvoiceInDraw); !v.OK {
				return invoiceTransitionError(inv.Status, InvoiceInDraw, v)
			}

			allocations, err := o.Store.ListAllocations(ctx, invoiceID)
			if err != nil {
				return err
			}
			if balance := AllocationBalance(inv, allocations); !balance.Balanced {
				return &UnbalancedAllocationsError{InvoiceID: invoiceID, Difference: balance.Difference}
			}

			now := o.clock()
			rows := make([]DrawAllocation, 0, len(allocations))
			for _, a := range allocations {
				rows = append(rows, DrawAllocation{
					ID:           AllocationID(uuid.NewString()),
					DrawID:       drawID,
					InvoiceID:    invoiceID,
					CostCodeID:   a.CostCodeID,
					POLineItemID: a.POLineItemID,
					Amount:       a.Amount,
					CreatedAt:    now,
				})
			}

			updated := *inv
			updated.Status = InvoiceInDraw
			updated.UpdatedAt = now

			err = o.Store.WithTx(ctx, func(s Store) error {
				if err := s.UpdateInvoice(ctx, &updated, inv.Version); err != nil {
					return err
				}
				if err := s.AddDrawAllocations(ctx, rows); err != nil {
					return err
				}
				working := *draw
				if err := o.recomputeDrawTotal(ctx, s, &working); err != nil {
					return err
				}
				res.Draw = &working
				return nil
			})
			if err != nil {
				return err
			}
			o.journalUndo(EntityInvoice, string(invoiceID), "add_to_draw",
				UndoState{Invoice: inv, Allocations: allocations, Draw: draw}, actor)
			res.Invoice = &updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityDraw, string(drawID), "invoice_added", actor,
		map[string]any{"invoice_id": string(invoiceID)})
	return res, nil
}

// RemoveInvoiceFromDraw pulls an invoice back out of a draft draw:
// in_draw -> approved, draw allocations deleted, total recomputed.
// Submitted draws reject the edit until unsubmitted.
func (o *Orchestrator) RemoveInvoiceFromDraw(ctx context.Context, drawID DrawID, invoiceID InvoiceID, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityDraw, string(drawID), actor, func() error {
		return o.withLock(EntityInvoice, string(invoiceID), actor, func() error {
			draw, err := o.Store.GetDraw(ctx, drawID)
			if err != nil {
				return err
			}
			if !draw.Editable() {
				return fmt.Errorf("%w: draw %s is %s and cannot be edited", ErrValidationFailed, drawID, draw.Status)
			}

			inv, err := o.Store.GetInvoice(ctx, invoiceID)
			if err != nil {
				return err
			}
			if v := CanTransitionInvoice(inv.Status, InvoiceApproved); !v.OK {
				return invoiceTransitionError(inv.Status, InvoiceApproved, v)
			}

			rows, err := o.Store.ListDrawAllocations(ctx, drawID)
			if err != nil {
				return err
			}
			var invoiceRows []DrawAllocation
			for _, row := range rows {
				if row.InvoiceID == invoiceID {
					invoiceRows = append(invoiceRows, row)
				}
			}
			if len(invoiceRows) == 0 {
				return fmt.Errorf("%w: invoice %s is not on draw %s", ErrNotFound, invoiceID, drawID)
			}

			allocations, err := o.Store.ListAllocations(ctx, invoiceID)
			if err != nil {
				return err
			}

			updated := *inv
			updated.Status = InvoiceApproved
			updated.UpdatedAt = o.clock()

			err = o.Store.WithTx(ctx, func(s Store) error {
				if err := s.DeleteDrawAllocations(ctx, drawID, invoiceID); err != nil {
					return err
				}
				if err := s.UpdateInvoice(ctx, &updated, inv.Version); err != nil {
					return err
				}
				working := *draw
				if err := o.recomputeDrawTotal(ctx, s, &working); err != nil {
					return err
				}
				res.Draw = &working
				return nil
			})
			if err != nil {
				return err
			}
			o.journalUndo(EntityInvoice, string(invoiceID), "remove_from_draw",
				UndoState{Invoice: inv, Allocations: allocations, Draw: draw, DrawAllocations: invoiceRows}, actor)
			res.Invoice = &updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityDraw, string(drawID), "invoice_removed", actor,
		map[string]any{"invoice_id": string(invoiceID)})
	return res, nil
}

// pullInvoiceFromDraw resolves the in_draw -> approved edge requested by
// invoice ID alone: the invoice's draft draw is located via its draw
// allocation rows.
func (o *Orchestrator) pullInvoiceFromDraw(ctx context.Context, invoiceID InvoiceID, actor string) (*Result, error) {
	rows, err := o.Store.ListDrawAllocationsByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		draw, err := o.Store.GetDraw(ctx, row.DrawID)
		if err != nil {
			return nil, err
		}
		if draw.Status == DrawDraft {
			return o.RemoveInvoiceFromDraw(ctx, draw.ID, invoiceID, actor)
		}
	}
	return nil, fmt.Errorf("%w: invoice %s is not on a draft draw", ErrValidationFailed, invoiceID)
}

// EditDrawAllocation sets the amount billed for one draw allocation this
// cycle (partial billing). Draft draws only; the amount must stay within
// [0, invoice allocation amount].
func (o *Orchestrator) EditDrawAllocation(ctx context.Context, drawID DrawID, allocationID AllocationID, amount decimal.Decimal, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityDraw, string(drawID), actor, func() error {
		draw, err := o.Store.GetDraw(ctx, drawID)
		if err != nil {
			return err
		}
		if !draw.Editable() {
			return fmt.Errorf("%w: draw %s is %s and cannot be edited", ErrValidationFailed, drawID, draw.Status)
		}
		rows, err := o.Store.ListDrawAllocations(ctx, drawID)
		if err != nil {
			return err
		}
		var target *DrawAllocation
		for i := range rows {
			if rows[i].ID == allocationID {
				target = &rows[i]
				break
			}
		}
		if target == nil {
			return fmt.Errorf("%w: draw allocation %s", ErrNotFound, allocationID)
		}
		if amount.IsNegative() {
			return fmt.Errorf("%w: draw allocation amount cannot be negative", ErrValidationFailed)
		}

		allocations, err := o.Store.ListAllocations(ctx, target.InvoiceID)
		if err != nil {
			return err
		}
		ceiling := decimal.Zero
		for _, a := range allocations {
			if a.CostCodeID == target.CostCodeID && equalPOLineRef(a.POLineItemID, target.POLineItemID) {
				ceiling = ceiling.Add(a.Amount)
			}
		}
		if amount.GreaterThan(ceiling.Add(Epsilon)) {
			return fmt.Errorf("%w: cannot bill %s against an allocation of %s",
				ErrValidationFailed, amount.StringFixed(2), ceiling.StringFixed(2))
		}

		inv, err := o.Store.GetInvoice(ctx, target.InvoiceID)
		if err != nil {
			return err
		}
		var invoiceRows []DrawAllocation
		for _, row := range rows {
			if row.InvoiceID == target.InvoiceID {
				invoiceRows = append(invoiceRows, row)
			}
		}

		err = o.Store.WithTx(ctx, func(s Store) error {
			updated := *target
			updated.Amount = amount
			if err := s.UpdateDrawAllocation(ctx, updated); err != nil {
				return err
			}
			working := *draw
			if err := o.recomputeDrawTotal(ctx, s, &working); err != nil {
				return err
			}
			res.Draw = &working
			return nil
		})
		if err != nil {
			return err
		}
		o.journalUndo(EntityDraw, string(drawID), "edit_draw_allocation",
			UndoState{Invoice: inv, Allocations: allocations, Draw: draw, DrawAllocations: invoiceRows}, actor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityDraw, string(drawID), "allocation_edited", actor, nil)
	return res, nil
}

func equalPOLineRef(a, b *POLineItemID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// =============================================================================
// MEMBERSHIP - change orders
// =============================================================================

// AddChangeOrderBilling bills an approved change order on a draft draw.
func (o *Orchestrator) AddChangeOrderBilling(ctx context.Context, drawID DrawID, changeOrderID ChangeOrderID, amount decimal.Decimal, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityDraw, string(drawID), actor, func() error {
		draw, err := o.Store.GetDraw(ctx, drawID)
		if err != nil {
			return err
		}
		if !draw.Editable() {
			return fmt.Errorf("%w: draw %s is %s and cannot be edited", ErrValidationFailed, drawID, draw.Status)
		}
		co, err := o.Store.GetChangeOrder(ctx, changeOrderID)
		if err != nil {
			return err
		}
		if co.Status != ChangeOrderApproved {
			return fmt.Errorf("%w: change order %s is %s, only approved change orders are billable",
				ErrValidationFailed, changeOrderID, co.Status)
		}
		if co.JobID != draw.JobID {
			return fmt.Errorf("%w: change order %s belongs to a different job", ErrValidationFailed, changeOrderID)
		}

		billings, err := o.Store.ListChangeOrderBillings(ctx, drawID)
		if err != nil {
			return err
		}

		err = o.Store.WithTx(ctx, func(s Store) error {
			if err := s.AddChangeOrderBilling(ctx, ChangeOrderBilling{
				ID:            AllocationID(uuid.NewString()),
				DrawID:        drawID,
				ChangeOrderID: changeOrderID,
				Amount:        amount,
				CreatedAt:     o.clock(),
			}); err != nil {
				return err
			}
			working := *draw
			if err := o.recomputeDrawTotal(ctx, s, &working); err != nil {
				return err
			}
			res.Draw = &working
			return nil
		})
		if err != nil {
			return err
		}
		o.journalUndo(EntityDraw, string(drawID), "add_change_order_billing",
			UndoState{Draw: draw, ChangeOrderBillings: billings}, actor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityDraw, string(drawID), "change_order_billed", actor,
		map[string]any{"change_order_id": string(changeOrderID)})
	return res, nil
}

// RemoveChangeOrderBilling takes a change order back off a draft draw.
func (o *Orchestrator) RemoveChangeOrderBilling(ctx context.Context, drawID DrawID, changeOrderID ChangeOrderID, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityDraw, string(drawID), actor, func() error {
		draw, err := o.Store.GetDraw(ctx, drawID)
		if err != nil {
			return err
		}
		if !draw.Editable() {
			return fmt.Errorf("%w: draw %s is %s and cannot be edited", ErrValidationFailed, drawID, draw.Status)
		}
		billings, err := o.Store.ListChangeOrderBillings(ctx, drawID)
		if err != nil {
			return err
		}

		err = o.Store.WithTx(ctx, func(s Store) error {
			if err := s.DeleteChangeOrderBilling(ctx, drawID, changeOrderID); err != nil {
				return err
			}
			working := *draw
			if err := o.recomputeDrawTotal(ctx, s, &working); err != nil {
				return err
			}
			res.Draw = &working
			return nil
		})
		if err != nil {
			return err
		}
		o.journalUndo(EntityDraw, string(drawID), "remove_change_order_billing",
			UndoState{Draw: draw, ChangeOrderBillings: billings}, actor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityDraw, string(drawID), "change_order_removed", actor, nil)
	return res, nil
}

// =============================================================================
// SUBMIT / UNSUBMIT
// =============================================================================

// SubmitDraw locks the draw for review: draft -> submitted. The total is
// recomputed one final time as part of the same transaction.
func (o *Orchestrator) SubmitDraw(ctx context.Context, id DrawID, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityDraw, string(id), actor, func() error {
		draw, err := o.Store.GetDraw(ctx, id)
		if err != nil {
			return err
		}
		if v := CanTransitionDraw(draw.Status, DrawSubmitted); !v.OK {
			return drawTransitionError(draw.Status, DrawSubmitted, v)
		}
		now := o.clock()
		updated := *draw
		updated.Status = DrawSubmitted
		updated.SubmittedAt = &now

		err = o.Store.WithTx(ctx, func(s Store) error {
			if err := o.recomputeDrawTotal(ctx, s, &updated); err != nil {
				return err
			}
			res.Draw = &updated
			return nil
		})
		if err != nil {
			return err
		}
		o.journalUndo(EntityDraw, string(id), "submit", UndoState{Draw: draw}, actor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityDraw, string(id), "submitted", actor, nil)
	return res, nil
}

// UnsubmitDraw reverts submitted -> draft, reopening membership edits.
func (o *Orchestrator) UnsubmitDraw(ctx context.Context, id DrawID, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityDraw, string(id), actor, func() error {
		draw, err := o.Store.GetDraw(ctx, id)
		if err != nil {
			return err
		}
		if v := CanTransitionDraw(draw.Status, DrawDraft); !v.OK {
			return drawTransitionError(draw.Status, DrawDraft, v)
		}
		updated := *draw
		updated.Status = DrawDraft
		updated.SubmittedAt = nil
		updated.UpdatedAt = o.clock()

		if err := o.Store.UpdateDraw(ctx, &updated, draw.Version); err != nil {
			return err
		}
		o.journalUndo(EntityDraw, string(id), "unsubmit", UndoState{Draw: draw}, actor)
		res.Draw = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityDraw, string(id), "unsubmitted", actor, nil)
	return res, nil
}

// RecalculateDrawTotal re-derives the total from source rows. Safe to
// call any number of times on draft and submitted draws.
func (o *Orchestrator) RecalculateDrawTotal(ctx context.Context, id DrawID, actor string) (*Draw, error) {
	var out *Draw
	err := o.withLock(EntityDraw, string(id), actor, func() error {
		draw, err := o.Store.GetDraw(ctx, id)
		if err != nil {
			return err
		}
		if draw.Status == DrawFunded {
			return fmt.Errorf("%w: funded draws are permanently immutable", ErrValidationFailed)
		}
		return o.Store.WithTx(ctx, func(s Store) error {
			working := *draw
			if err := o.recomputeDrawTotal(ctx, s, &working); err != nil {
				return err
			}
			out = &working
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// FUND
// =============================================================================

type FundDrawInput struct {
	DrawID DrawID
	// FundedAmount optionally overrides the computed billed total.
	// Partial or over funding is recorded, not rejected.
	FundedAmount *decimal.Decimal
	Actor        string
}

// FundDraw settles a submitted draw; see the file header for the full
// contract. The entire write sequence runs in one store transaction.
func (o *Orchestrator) FundDraw(ctx context.Context, in FundDrawInput) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityDraw, string(in.DrawID), in.Actor, func() error {
		draw, err := o.Store.GetDraw(ctx, in.DrawID)
		if err != nil {
			return err
		}
		if draw.Status != DrawSubmitted {
			return fmt.Errorf("%w: draw %s is %s, only submitted draws can be funded",
				ErrValidationFailed, in.DrawID, draw.Status)
		}

		// Settlement touches every invoice on the draw, so their advisory
		// locks are held for the duration too. An editor holding any of
		// them fails the funding with LOCKED.
		preRows, err := o.Store.ListDrawAllocations(ctx, in.DrawID)
		if err != nil {
			return err
		}
		var held []Lock
		defer func() {
			for _, l := range held {
				if relErr := o.Locks.Release(l.ID, in.Actor); relErr != nil && !errors.Is(relErr, ErrNotFound) {
					o.Log.Warn().Err(relErr).Str("entity_id", l.EntityID).Msg("lock release failed")
				}
			}
		}()
		locked := make(map[InvoiceID]bool)
		for _, row := range preRows {
			if locked[row.InvoiceID] {
				continue
			}
			locked[row.InvoiceID] = true
			lock, err := o.Locks.Acquire(EntityInvoice, string(row.InvoiceID), in.Actor)
			if err != nil {
				return err
			}
			held = append(held, lock)
		}

		return o.Store.WithTx(ctx, func(s Store) error {
			rows, err := s.ListDrawAllocations(ctx, in.DrawID)
			if err != nil {
				return err
			}
			billings, err := s.ListChangeOrderBillings(ctx, in.DrawID)
			if err != nil {
				return err
			}
			billedTotal := DrawTotalAmount(rows, billings)

			fundedAmount := billedTotal
			if in.FundedAmount != nil {
				fundedAmount = *in.FundedAmount
			}

			now := o.clock()
			updated := *draw
			updated.Status = DrawFunded
			updated.TotalAmount = billedTotal
			updated.FundedAmount = fundedAmount
			updated.FundingDifference = fundedAmount.Sub(billedTotal)
			updated.FundedAt = &now
			updated.FundedBy = in.Actor
			updated.UpdatedAt = now
			if err := s.UpdateDraw(ctx, &updated, draw.Version); err != nil {
				return err
			}

			// Settle every invoice billed on this draw.
			seen := make(map[InvoiceID]bool)
			for _, row := range rows {
				if seen[row.InvoiceID] {
					continue
				}
				seen[row.InvoiceID] = true

				inv, err := s.GetInvoice(ctx, row.InvoiceID)
				if err != nil {
					return err
				}
				if inv.Status != InvoiceInDraw {
					continue
				}
				if err := o.settleInvoice(ctx, s, inv, rows, now); err != nil {
					return err
				}
			}

			res.Draw = &updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityDraw, string(in.DrawID), "funded", in.Actor, nil)
	return res, nil
}

// settleInvoice applies one invoice's share of a funded draw: cumulative
// billed/paid increase by the share, budget paid rollups increase per
// allocation, active allocations shrink by the billed amounts, and the
// status lands on paid (fully billed) or approved (remainder to bill in
// a later cycle).
func (o *Orchestrator) settleInvoice(ctx context.Context, s Store, inv *Invoice, rows []DrawAllocation, now time.Time) error {
	share := InvoiceShare(rows, inv.ID)

	updated := *inv
	updated.BilledAmount = inv.BilledAmount.Add(share)
	updated.PaidAmount = inv.PaidAmount.Add(share)
	updated.UpdatedAt = now
	if updated.FullyPaid() {
		updated.Status = InvoicePaid
	} else {
		updated.Status = InvoiceApproved
	}
	if err := s.UpdateInvoice(ctx, &updated, inv.Version); err != nil {
		return err
	}

	allocations, err := s.ListAllocations(ctx, inv.ID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.InvoiceID != inv.ID {
			continue
		}
		if err := o.applyBudgetDelta(ctx, s, inv.JobID, row.CostCodeID, BudgetPaid, row.Amount); err != nil {
			return err
		}
		allocations = reduceAllocations(allocations, row)
	}
	return s.ReplaceAllocations(ctx, inv.ID, allocations)
}

// reduceAllocations subtracts a billed draw allocation from the matching
// active allocation, dropping rows that reach zero. This keeps the
// allocation-balance invariant intact after partial billing.
func reduceAllocations(allocations []Allocation, row DrawAllocation) []Allocation {
	remaining := row.Amount
	out := allocations[:0]
	for _, a := range allocations {
		if remaining.IsPositive() && a.CostCodeID == row.CostCodeID && equalPOLineRef(a.POLineItemID, row.POLineItemID) {
			reduceBy := decimal.Min(a.Amount, remaining)
			a.Amount = a.Amount.Sub(reduceBy)
			remaining = remaining.Sub(reduceBy)
		}
		if !WithinEpsilon(a.Amount) {
			out = append(out, a)
		}
	}
	return out
}
