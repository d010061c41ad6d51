/*
invoice.go - Invoice transition handlers

PURPOSE:
  Implements every legal invoice edge:
    received -> needs_approval        SubmitForApproval (coding step)
    needs_approval -> approved        ApproveInvoice
    approved -> needs_approval        UnapproveInvoice
    {received,needs_approval} -> denied   DenyInvoice
    denied -> received                ResubmitInvoice
    {needs_approval,approved} -> paid CloseOutInvoice (write-off)

  Every handler follows the same shape: lock, validate edge, reconcile,
  capture the pre-image, apply inside one store transaction, journal
  the undo entry, side effects, result.

APPROVAL (the representative transition):
  1. Acquire the advisory lock; LOCKED if held by another actor.
  2. Validate needs_approval -> approved.
  3. Allocation balance: sum of allocations must equal billable
     remaining within Epsilon. When the invoice carries no PO and
     allocations are being supplied for the first time, the pre-check is
     waived and balance is enforced at write time.
  4. PO capacity for every allocation targeting a PO line item. Any
     overage without an explicit override returns the structured
     PO_OVERAGE soft failure carrying remaining/overage amounts.
  5. Capture the pre-transition state, including allocations.
  6. Apply atomically: status, approved_at/by, allocation replace,
     PO invoiced_amount increments, budget billed increments. The
     captured pre-image is journaled for undo once the transaction
     commits; a failed write leaves no undo entry.
  7. Release lock, run best-effort side effects, return warnings.
*/
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationInput codes a portion of an invoice against a cost code.
type AllocationInput struct {
	CostCodeID   CostCodeID
	POLineItemID *POLineItemID
	Amount       decimal.Decimal
}

// CreateInvoiceInput creates an invoice in the received status.
type CreateInvoiceInput struct {
	JobID           JobID
	VendorID        VendorID
	PurchaseOrderID *PurchaseOrderID
	InvoiceNumber   string
	Amount          decimal.Decimal
	Actor           string
}

// CreateInvoice records a newly received vendor invoice.
func (o *Orchestrator) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if in.JobID == "" || in.VendorID == "" {
		return nil, fmt.Errorf("%w: job and vendor are required", ErrValidationFailed)
	}
	now := o.clock()
	inv := &Invoice{
		ID:              InvoiceID(uuid.NewString()),
		JobID:           in.JobID,
		VendorID:        in.VendorID,
		PurchaseOrderID: in.PurchaseOrderID,
		InvoiceNumber:   in.InvoiceNumber,
		Amount:          in.Amount,
		Status:          InvoiceReceived,
		BilledAmount:    decimal.Zero,
		PaidAmount:      decimal.Zero,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.Store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// buildAllocations materializes allocation inputs into rows.
func (o *Orchestrator) buildAllocations(invoiceID InvoiceID, inputs []AllocationInput) []Allocation {
	now := o.clock()
	allocations := make([]Allocation, 0, len(inputs))
	for _, in := range inputs {
		allocations = append(allocations, Allocation{
			ID:           AllocationID(uuid.NewString()),
			InvoiceID:    invoiceID,
			CostCodeID:   in.CostCodeID,
			POLineItemID: in.POLineItemID,
			Amount:       in.Amount,
			CreatedAt:    now,
		})
	}
	return allocations
}

// =============================================================================
// SUBMIT FOR APPROVAL (coding step)
// =============================================================================

type SubmitInput struct {
	InvoiceID   InvoiceID
	Allocations []AllocationInput // optional; replaces the coding
	Actor       string
}

// SubmitForApproval moves received -> needs_approval, optionally
// replacing the invoice's cost-code allocations. Balance is not enforced
// here; it is enforced at approval.
func (o *Orchestrator) SubmitForApproval(ctx context.Context, in SubmitInput) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityInvoice, string(in.InvoiceID), in.Actor, func() error {
		inv, err := o.Store.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if v := CanTransitionInvoice(inv.Status, InvoiceNeedsApproval); !v.OK {
			return invoiceTransitionError(inv.Status, InvoiceNeedsApproval, v)
		}

		existing, err := o.Store.ListAllocations(ctx, in.InvoiceID)
		if err != nil {
			return err
		}

		updated := *inv
		updated.Status = InvoiceNeedsApproval
		updated.UpdatedAt = o.clock()

		err = o.Store.WithTx(ctx, func(s Store) error {
			if err := s.UpdateInvoice(ctx, &updated, inv.Version); err != nil {
				return err
			}
			if in.Allocations != nil {
				if err := s.ReplaceAllocations(ctx, in.InvoiceID, o.buildAllocations(in.InvoiceID, in.Allocations)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		o.journalUndo(EntityInvoice, string(in.InvoiceID), "submit_for_approval",
			UndoState{Invoice: inv, Allocations: existing}, in.Actor)
		res.Invoice = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityInvoice, string(in.InvoiceID), "submitted_for_approval", in.Actor, nil)
	return res, nil
}

// =============================================================================
// APPROVE
// =============================================================================

type ApproveInput struct {
	InvoiceID         InvoiceID
	Allocations       []AllocationInput // optional; defaults to existing
	Actor             string
	OverridePOOverage bool
}

// ApproveInvoice is the representative transition; see the file header
// for the step-by-step contract.
func (o *Orchestrator) ApproveInvoice(ctx context.Context, in ApproveInput) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityInvoice, string(in.InvoiceID), in.Actor, func() error {
		inv, err := o.Store.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if v := CanTransitionInvoice(inv.Status, InvoiceApproved); !v.OK {
			return invoiceTransitionError(inv.Status, InvoiceApproved, v)
		}

		existing, err := o.Store.ListAllocations(ctx, in.InvoiceID)
		if err != nil {
			return err
		}

		allocations := existing
		replacing := in.Allocations != nil
		if replacing {
			allocations = o.buildAllocations(in.InvoiceID, in.Allocations)
		}

		// Balance pre-check. Waived only for first-time coding of a
		// no-PO invoice; the write-time check below still applies.
		firstTimeCoding := inv.PurchaseOrderID == nil && replacing && len(existing) == 0
		balance := AllocationBalance(inv, allocations)
		if !balance.Balanced && !firstTimeCoding {
			return &UnbalancedAllocationsError{InvoiceID: inv.ID, Difference: balance.Difference}
		}

		// PO capacity: soft block unless an override was supplied.
		poDeltas := groupPODeltas(allocations)
		var overageWarnings []string
		for liID, proposed := range poDeltas {
			li, err := o.Store.GetPOLineItem(ctx, liID)
			if err != nil {
				return err
			}
			capacity := POCapacity(li, proposed)
			if capacity.Overage.IsPositive() {
				if !in.OverridePOOverage {
					return &POOverageError{
						POLineItemID: liID,
						CostCodeID:   li.CostCodeID,
						Remaining:    capacity.Remaining,
						Overage:      capacity.Overage,
					}
				}
				overageWarnings = append(overageWarnings,
					fmt.Sprintf("PO line item %s exceeded by %s (override supplied)", liID, capacity.Overage.StringFixed(2)))
			}
		}

		// Pre-image plus the exact deltas the write will apply, so undo
		// can reverse them. Journaled only after the commit below.
		state := UndoState{Invoice: inv, Allocations: existing}
		for liID, delta := range poDeltas {
			state.PODeltas = append(state.PODeltas, PODeltaRecord{POLineItemID: liID, Delta: delta})
		}
		for _, a := range allocations {
			state.BudgetDeltas = append(state.BudgetDeltas, BudgetDeltaRecord{
				JobID:      inv.JobID,
				CostCodeID: a.CostCodeID,
				Field:      BudgetBilled,
				Delta:      a.Amount,
			})
		}
		now := o.clock()
		updated := *inv
		updated.Status = InvoiceApproved
		updated.ApprovedAt = &now
		updated.ApprovedBy = in.Actor
		updated.UpdatedAt = now

		err = o.Store.WithTx(ctx, func(s Store) error {
			// Write-time balance enforcement covers the waived pre-check.
			if wb := AllocationBalance(&updated, allocations); !wb.Balanced {
				return &UnbalancedAllocationsError{InvoiceID: inv.ID, Difference: wb.Difference}
			}
			if err := s.UpdateInvoice(ctx, &updated, inv.Version); err != nil {
				return err
			}
			if replacing {
				if err := s.ReplaceAllocations(ctx, in.InvoiceID, allocations); err != nil {
					return err
				}
			}
			for liID, delta := range poDeltas {
				if err := o.applyPOLineDelta(ctx, s, liID, delta); err != nil {
					return err
				}
			}
			for _, a := range allocations {
				if err := o.applyBudgetDelta(ctx, s, inv.JobID, a.CostCodeID, BudgetBilled, a.Amount); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		o.journalUndo(EntityInvoice, string(in.InvoiceID), "approve", state, in.Actor)

		res.Invoice = &updated
		res.Warnings = overageWarnings
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings,
		o.sideEffects(ctx, EntityInvoice, string(in.InvoiceID), "approved", in.Actor, nil)...)
	return res, nil
}

// =============================================================================
// UNAPPROVE
// =============================================================================

// UnapproveInvoice reverses an approval: approved -> needs_approval,
// decrementing PO invoiced amounts and budget billed rollups by the
// exact allocation amounts (floored at zero).
func (o *Orchestrator) UnapproveInvoice(ctx context.Context, id InvoiceID, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityInvoice, string(id), actor, func() error {
		inv, err := o.Store.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if v := CanTransitionInvoice(inv.Status, InvoiceNeedsApproval); !v.OK {
			return invoiceTransitionError(inv.Status, InvoiceNeedsApproval, v)
		}

		allocations, err := o.Store.ListAllocations(ctx, id)
		if err != nil {
			return err
		}

		poDeltas := groupPODeltas(allocations)
		state := UndoState{Invoice: inv, Allocations: allocations}
		for liID, delta := range poDeltas {
			state.PODeltas = append(state.PODeltas, PODeltaRecord{POLineItemID: liID, Delta: delta.Neg()})
		}
		for _, a := range allocations {
			state.BudgetDeltas = append(state.BudgetDeltas, BudgetDeltaRecord{
				JobID: inv.JobID, CostCodeID: a.CostCodeID, Field: BudgetBilled, Delta: a.Amount.Neg(),
			})
		}
		updated := *inv
		updated.Status = InvoiceNeedsApproval
		updated.ApprovedAt = nil
		updated.ApprovedBy = ""
		updated.UpdatedAt = o.clock()

		err = o.Store.WithTx(ctx, func(s Store) error {
			if err := s.UpdateInvoice(ctx, &updated, inv.Version); err != nil {
				return err
			}
			for liID, delta := range poDeltas {
				if err := o.applyPOLineDelta(ctx, s, liID, delta.Neg()); err != nil {
					return err
				}
			}
			for _, a := range allocations {
				if err := o.applyBudgetDelta(ctx, s, inv.JobID, a.CostCodeID, BudgetBilled, a.Amount.Neg()); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		o.journalUndo(EntityInvoice, string(id), "unapprove", state, actor)
		res.Invoice = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityInvoice, string(id), "unapproved", actor, nil)
	return res, nil
}

// =============================================================================
// DENY / RESUBMIT
// =============================================================================

// DenyInvoice moves {received, needs_approval} -> denied and deletes the
// invoice's allocations.
func (o *Orchestrator) DenyInvoice(ctx context.Context, id InvoiceID, reason, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityInvoice, string(id), actor, func() error {
		inv, err := o.Store.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if v := CanTransitionInvoice(inv.Status, InvoiceDenied); !v.OK {
			return invoiceTransitionError(inv.Status, InvoiceDenied, v)
		}

		allocations, err := o.Store.ListAllocations(ctx, id)
		if err != nil {
			return err
		}

		now := o.clock()
		updated := *inv
		updated.Status = InvoiceDenied
		updated.DeniedAt = &now
		updated.DeniedBy = actor
		updated.DenialReason = reason
		updated.UpdatedAt = now

		err = o.Store.WithTx(ctx, func(s Store) error {
			if err := s.UpdateInvoice(ctx, &updated, inv.Version); err != nil {
				return err
			}
			return s.ReplaceAllocations(ctx, id, nil)
		})
		if err != nil {
			return err
		}
		o.journalUndo(EntityInvoice, string(id), "deny",
			UndoState{Invoice: inv, Allocations: allocations}, actor)
		res.Invoice = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityInvoice, string(id), "denied", actor,
		map[string]any{"reason": reason})
	return res, nil
}

// ResubmitInvoice moves denied -> received, clearing the denial fields.
func (o *Orchestrator) ResubmitInvoice(ctx context.Context, id InvoiceID, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityInvoice, string(id), actor, func() error {
		inv, err := o.Store.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if v := CanTransitionInvoice(inv.Status, InvoiceReceived); !v.OK {
			return invoiceTransitionError(inv.Status, InvoiceReceived, v)
		}
		updated := *inv
		updated.Status = InvoiceReceived
		updated.DeniedAt = nil
		updated.DeniedBy = ""
		updated.DenialReason = ""
		updated.UpdatedAt = o.clock()

		if err := o.Store.UpdateInvoice(ctx, &updated, inv.Version); err != nil {
			return err
		}
		o.journalUndo(EntityInvoice, string(id), "resubmit", UndoState{Invoice: inv}, actor)
		res.Invoice = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityInvoice, string(id), "resubmitted", actor, nil)
	return res, nil
}

// =============================================================================
// CLOSE OUT (write-off)
// =============================================================================

// CloseOutInvoice moves {needs_approval, approved} -> paid without a
// draw (write-off). Billed rollups applied at approval are reversed,
// since the invoice will never reach a payment application, and the
// allocations are deleted.
func (o *Orchestrator) CloseOutInvoice(ctx context.Context, id InvoiceID, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityInvoice, string(id), actor, func() error {
		inv, err := o.Store.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if v := CanTransitionInvoice(inv.Status, InvoicePaid); !v.OK {
			return invoiceTransitionError(inv.Status, InvoicePaid, v)
		}
		if inv.Status == InvoiceInDraw {
			return invoiceTransitionError(inv.Status, InvoicePaid,
				Verdict{Reason: "invoices in a draw are paid via draw funding"})
		}

		allocations, err := o.Store.ListAllocations(ctx, id)
		if err != nil {
			return err
		}

		wasBillable := inv.IsBillable()
		poDeltas := groupPODeltas(allocations)
		state := UndoState{Invoice: inv, Allocations: allocations}
		if wasBillable {
			for liID, delta := range poDeltas {
				state.PODeltas = append(state.PODeltas, PODeltaRecord{POLineItemID: liID, Delta: delta.Neg()})
			}
			for _, a := range allocations {
				state.BudgetDeltas = append(state.BudgetDeltas, BudgetDeltaRecord{
					JobID: inv.JobID, CostCodeID: a.CostCodeID, Field: BudgetBilled, Delta: a.Amount.Neg(),
				})
			}
		}
		now := o.clock()
		updated := *inv
		updated.Status = InvoicePaid
		updated.ClosedAt = &now
		updated.ClosedBy = actor
		updated.UpdatedAt = now

		err = o.Store.WithTx(ctx, func(s Store) error {
			if err := s.UpdateInvoice(ctx, &updated, inv.Version); err != nil {
				return err
			}
			if err := s.ReplaceAllocations(ctx, id, nil); err != nil {
				return err
			}
			if !wasBillable {
				return nil
			}
			for liID, delta := range poDeltas {
				if err := o.applyPOLineDelta(ctx, s, liID, delta.Neg()); err != nil {
					return err
				}
			}
			for _, a := range allocations {
				if err := o.applyBudgetDelta(ctx, s, inv.JobID, a.CostCodeID, BudgetBilled, a.Amount.Neg()); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		o.journalUndo(EntityInvoice, string(id), "close_out", state, actor)
		res.Invoice = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityInvoice, string(id), "closed_out", actor, nil)
	return res, nil
}

// =============================================================================
// SOFT DELETE
// =============================================================================

// SoftDeleteInvoice marks an invoice deleted. Paid invoices are never
// physically deleted, and an invoice linked to a funded draw cannot be
// deleted at all.
func (o *Orchestrator) SoftDeleteInvoice(ctx context.Context, id InvoiceID, actor string) (*Result, error) {
	res := &Result{}
	err := o.withLock(EntityInvoice, string(id), actor, func() error {
		inv, err := o.Store.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == InvoiceInDraw {
			return fmt.Errorf("%w: remove the invoice from its draw first", ErrValidationFailed)
		}

		rows, err := o.Store.ListDrawAllocationsByInvoice(ctx, id)
		if err != nil {
			return err
		}
		for _, row := range rows {
			draw, err := o.Store.GetDraw(ctx, row.DrawID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			if draw.Status == DrawFunded {
				return fmt.Errorf("%w: invoice is linked to funded draw %s", ErrValidationFailed, draw.ID)
			}
		}

		now := o.clock()
		updated := *inv
		updated.DeletedAt = &now
		updated.UpdatedAt = now
		if err := o.Store.UpdateInvoice(ctx, &updated, inv.Version); err != nil {
			return err
		}
		res.Invoice = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Warnings = o.sideEffects(ctx, EntityInvoice, string(id), "deleted", actor, nil)
	return res, nil
}
