// po.go - Purchase order and change order intake.
//
// Creating a PO commits budget: every line item increments the
// committed rollup on its job/cost-code budget line, creating the line
// at zero baseline when absent. Change orders enter pending and become
// billable on a draw once approved.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type POLineItemInput struct {
	CostCodeID  CostCodeID
	Description string
	Amount      decimal.Decimal
}

type CreatePurchaseOrderInput struct {
	JobID    JobID
	VendorID VendorID
	Number   string
	Lines    []POLineItemInput
	Actor    string
}

// CreatePurchaseOrder records a committed spending ceiling for a vendor
// on a job. The PO, its line items, and the committed budget increments
// are written in one store transaction.
func (o *Orchestrator) CreatePurchaseOrder(ctx context.Context, in CreatePurchaseOrderInput) (*PurchaseOrder, []POLineItem, error) {
	if in.JobID == "" || in.VendorID == "" {
		return nil, nil, fmt.Errorf("%w: job and vendor are required", ErrValidationFailed)
	}
	if len(in.Lines) == 0 {
		return nil, nil, fmt.Errorf("%w: a purchase order needs at least one line item", ErrValidationFailed)
	}

	now := o.clock()
	po := &PurchaseOrder{
		ID:        PurchaseOrderID(uuid.NewString()),
		JobID:     in.JobID,
		VendorID:  in.VendorID,
		Number:    in.Number,
		Status:    POOpen,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	lines := make([]POLineItem, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, POLineItem{
			ID:              POLineItemID(uuid.NewString()),
			PurchaseOrderID: po.ID,
			CostCodeID:      l.CostCodeID,
			Description:     l.Description,
			Amount:          l.Amount,
			InvoicedAmount:  decimal.Zero,
			Version:         1,
		})
	}

	err := o.Store.WithTx(ctx, func(s Store) error {
		if err := s.CreatePurchaseOrder(ctx, po); err != nil {
			return err
		}
		for i := range lines {
			if err := s.CreatePOLineItem(ctx, &lines[i]); err != nil {
				return err
			}
			if err := o.applyBudgetDelta(ctx, s, in.JobID, lines[i].CostCodeID, BudgetCommitted, lines[i].Amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	o.sideEffects(ctx, EntityPurchaseOrder, string(po.ID), "created", in.Actor, nil)
	return po, lines, nil
}

type CreateChangeOrderInput struct {
	JobID    JobID
	Number   string
	Amount   decimal.Decimal
	Approved bool
	Actor    string
}

// CreateChangeOrder records a contract-value change for a job.
func (o *Orchestrator) CreateChangeOrder(ctx context.Context, in CreateChangeOrderInput) (*ChangeOrder, error) {
	if in.JobID == "" {
		return nil, fmt.Errorf("%w: job is required", ErrValidationFailed)
	}
	status := ChangeOrderPending
	if in.Approved {
		status = ChangeOrderApproved
	}
	co := &ChangeOrder{
		ID:        ChangeOrderID(uuid.NewString()),
		JobID:     in.JobID,
		Number:    in.Number,
		Amount:    in.Amount,
		Status:    status,
		Version:   1,
		CreatedAt: o.clock(),
	}
	if err := o.Store.CreateChangeOrder(ctx, co); err != nil {
		return nil, err
	}
	o.sideEffects(ctx, EntityChangeOrder, string(co.ID), "created", in.Actor, nil)
	return co, nil
}
