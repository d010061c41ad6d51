/*
Package engine implements the invoice & draw lifecycle engine for
construction-project billing.

PURPOSE:
  Vendor invoices are received, coded against cost codes and purchase
  orders, approved, grouped into periodic draws (G702/G703-style payment
  applications), and funded. This package owns the status state machines,
  the reconciliation rules triggered by each transition, and the advisory
  locking / undo mechanisms that make concurrent edits safe.

KEY CONCEPTS IN THIS FILE (types.go):
  - Invoice/Allocation:      a vendor bill and its cost-code splits
  - PurchaseOrder/POLineItem: committed spending ceilings per cost code
  - BudgetLine:              per job/cost-code billed/paid rollups
  - Draw/DrawAllocation:     a payment application and its invoice shares
  - ChangeOrder:             contract-value changes billable on a draw

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every money field, 0.01 epsilon
  2. Optimistic concurrency: every mutable entity carries Version
  3. Derived totals: draw totals are recomputed from rows, never patched
  4. Type safety: typed IDs and status enums, no string concatenation

SEE ALSO:
  - transition.go: legal status edges
  - reconcile.go:  pure reconciliation calculators
  - orchestrator.go / draw.go: the transition handlers
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal amounts with the engine-wide reconciliation tolerance
// =============================================================================

// Epsilon is the tolerance used for every money comparison in the engine.
// Amounts within a cent of each other are considered reconciled.
var Epsilon = decimal.NewFromFloat(0.01)

// WithinEpsilon reports whether d is zero within the engine tolerance.
func WithinEpsilon(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Epsilon)
}

// SumAmounts adds a slice of decimals. Used by the reconciliation
// calculators so totals are always derived from source rows.
func SumAmounts(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	InvoiceID       string
	AllocationID    string
	PurchaseOrderID string
	POLineItemID    string
	BudgetLineID    string
	DrawID          string
	ChangeOrderID   string
	JobID           string
	VendorID        string
	CostCodeID      string
)

// EntityType identifies which aggregate a lock or undo snapshot refers to.
type EntityType string

const (
	EntityInvoice       EntityType = "invoice"
	EntityDraw          EntityType = "draw"
	EntityPurchaseOrder EntityType = "purchase_order"
	EntityChangeOrder   EntityType = "change_order"
)

// =============================================================================
// STATUS ENUMS
// =============================================================================

type InvoiceStatus string

const (
	InvoiceReceived      InvoiceStatus = "received"
	InvoiceNeedsApproval InvoiceStatus = "needs_approval"
	InvoiceApproved      InvoiceStatus = "approved"
	InvoiceInDraw        InvoiceStatus = "in_draw"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceDenied        InvoiceStatus = "denied"
)

type DrawStatus string

const (
	DrawDraft     DrawStatus = "draft"
	DrawSubmitted DrawStatus = "submitted"
	DrawFunded    DrawStatus = "funded"
)

// =============================================================================
// INVOICE - vendor bill against a job, optionally a purchase order
// =============================================================================

type Invoice struct {
	ID              InvoiceID
	JobID           JobID
	VendorID        VendorID
	PurchaseOrderID *PurchaseOrderID
	InvoiceNumber   string

	Amount decimal.Decimal
	Status InvoiceStatus

	// Cumulative amounts carried across partial draws.
	BilledAmount decimal.Decimal
	PaidAmount   decimal.Decimal

	// Version is the optimistic-concurrency token; every successful
	// mutation increments it.
	Version int64

	ApprovedAt   *time.Time
	ApprovedBy   string
	DeniedAt     *time.Time
	DeniedBy     string
	DenialReason string
	ClosedAt     *time.Time
	ClosedBy     string

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time // soft delete; never set while linked to a funded draw
}

// BillableRemaining is the portion of the invoice not yet billed on a
// funded draw: total amount minus amount billed in prior cycles.
func (inv *Invoice) BillableRemaining() decimal.Decimal {
	return inv.Amount.Sub(inv.BilledAmount)
}

// IsBillable reports whether the invoice is in a status that counts
// toward budget billed rollups.
func (inv *Invoice) IsBillable() bool {
	switch inv.Status {
	case InvoiceApproved, InvoiceInDraw, InvoicePaid:
		return true
	}
	return false
}

// FullyPaid reports whether cumulative payments cover the invoice amount
// within the engine tolerance.
func (inv *Invoice) FullyPaid() bool {
	return inv.PaidAmount.GreaterThanOrEqual(inv.Amount.Sub(Epsilon))
}

// =============================================================================
// ALLOCATION - split of one invoice across a cost code (and optional PO line)
// =============================================================================

// Allocation codes a portion of an invoice's billable amount to a cost
// code. Invariant: the sum of an invoice's active allocations equals the
// invoice's billable remaining within Epsilon.
type Allocation struct {
	ID           AllocationID
	InvoiceID    InvoiceID
	CostCodeID   CostCodeID
	POLineItemID *POLineItemID
	Amount       decimal.Decimal
	CreatedAt    time.Time
}

// =============================================================================
// PURCHASE ORDER - committed spending ceiling per vendor on a job
// =============================================================================

type PurchaseOrderStatus string

const (
	POOpen   PurchaseOrderStatus = "open"
	POClosed PurchaseOrderStatus = "closed"
)

type PurchaseOrder struct {
	ID        PurchaseOrderID
	JobID     JobID
	VendorID  VendorID
	Number    string
	Status    PurchaseOrderStatus
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// POLineItem is a per-cost-code ceiling under a purchase order.
// InvoicedAmount accumulates every allocation ever billed against the
// line and may exceed Amount only via an explicit approval override.
type POLineItem struct {
	ID              POLineItemID
	PurchaseOrderID PurchaseOrderID
	CostCodeID      CostCodeID
	Description     string
	Amount          decimal.Decimal
	InvoicedAmount  decimal.Decimal
	Version         int64
}

// Remaining is the uninvoiced capacity on the line item (may be negative
// after an override).
func (li *POLineItem) Remaining() decimal.Decimal {
	return li.Amount.Sub(li.InvoicedAmount)
}

// =============================================================================
// BUDGET LINE - per job, per cost code rollup
// =============================================================================

// BudgetField names one of the four rollup columns on a budget line.
type BudgetField string

const (
	BudgetBudgeted  BudgetField = "budgeted"
	BudgetCommitted BudgetField = "committed"
	BudgetBilled    BudgetField = "billed"
	BudgetPaid      BudgetField = "paid"
)

type BudgetLine struct {
	ID         BudgetLineID
	JobID      JobID
	CostCodeID CostCodeID

	BudgetedAmount  decimal.Decimal
	CommittedAmount decimal.Decimal
	BilledAmount    decimal.Decimal
	PaidAmount      decimal.Decimal

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Field returns the current value of the named rollup column.
func (bl *BudgetLine) Field(f BudgetField) decimal.Decimal {
	switch f {
	case BudgetBudgeted:
		return bl.BudgetedAmount
	case BudgetCommitted:
		return bl.CommittedAmount
	case BudgetBilled:
		return bl.BilledAmount
	case BudgetPaid:
		return bl.PaidAmount
	}
	return decimal.Zero
}

// SetField overwrites the named rollup column.
func (bl *BudgetLine) SetField(f BudgetField, v decimal.Decimal) {
	switch f {
	case BudgetBudgeted:
		bl.BudgetedAmount = v
	case BudgetCommitted:
		bl.CommittedAmount = v
	case BudgetBilled:
		bl.BilledAmount = v
	case BudgetPaid:
		bl.PaidAmount = v
	}
}

// =============================================================================
// DRAW - periodic payment application
// =============================================================================

type Draw struct {
	ID     DrawID
	JobID  JobID
	Number int
	Status DrawStatus

	PeriodStart time.Time
	PeriodEnd   time.Time

	// TotalAmount is derived from draw allocations + change-order
	// billings. It is never user-edited directly.
	TotalAmount decimal.Decimal

	// Set at funding time. FundingDifference = FundedAmount - TotalAmount
	// and may be negative (partial funding) or positive (over funding).
	FundedAmount      decimal.Decimal
	FundingDifference decimal.Decimal

	Version     int64
	SubmittedAt *time.Time
	FundedAt    *time.Time
	FundedBy    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Editable reports whether the draw accepts membership changes.
// Submitted draws are locked until unsubmitted; funded draws are
// permanently immutable.
func (d *Draw) Editable() bool {
	return d.Status == DrawDraft
}

// DrawAllocation copies an invoice allocation into a specific draw; it is
// the unit that determines how much of the invoice is billed this cycle.
type DrawAllocation struct {
	ID           AllocationID
	DrawID       DrawID
	InvoiceID    InvoiceID
	CostCodeID   CostCodeID
	POLineItemID *POLineItemID
	Amount       decimal.Decimal
	CreatedAt    time.Time
}

// =============================================================================
// CHANGE ORDER - approved contract-value change billable on a draw
// =============================================================================

type ChangeOrderStatus string

const (
	ChangeOrderPending  ChangeOrderStatus = "pending"
	ChangeOrderApproved ChangeOrderStatus = "approved"
	ChangeOrderVoid     ChangeOrderStatus = "void"
)

type ChangeOrder struct {
	ID        ChangeOrderID
	JobID     JobID
	Number    string
	Amount    decimal.Decimal
	Status    ChangeOrderStatus
	Version   int64
	CreatedAt time.Time
}

// ChangeOrderBilling bills a change order (or part of one) on a draw,
// independently of invoice allocations. Folds into the same draw total
// and the G702 net-change-orders figure.
type ChangeOrderBilling struct {
	ID            AllocationID
	DrawID        DrawID
	ChangeOrderID ChangeOrderID
	Amount        decimal.Decimal
	CreatedAt     time.Time
}
