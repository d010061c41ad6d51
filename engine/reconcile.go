/*
reconcile.go - Pure reconciliation calculators

PURPOSE:
  Side-effect-free functions computing the numeric checks that gate every
  lifecycle transition:
  - allocation totals vs. an invoice's billable remaining
  - PO line-item remaining capacity (soft block on overage)
  - budget line rollup deltas (zero-baseline creation, zero floors)
  - draw totals from source rows

  Each function is independently testable and takes plain values; the
  orchestrator owns reads, writes, and policy (e.g. whether an overage
  may proceed with an override).

SIGNED AMOUNTS:
  Credits (negative invoice amounts) are legal everywhere. Balance checks
  use the absolute difference, and a negative proposed amount against a
  PO line reduces capacity usage, so a credit can never produce overage.

SEE ALSO:
  - orchestrator.go: consumes these results
  - reconcile_test.go
*/
package engine

import "github.com/shopspring/decimal"

// =============================================================================
// ALLOCATION BALANCE
// =============================================================================

// BalanceResult reports whether an allocation set covers the invoice's
// billable remaining. Difference = billable remaining - sum(allocations).
type BalanceResult struct {
	Balanced   bool
	Difference decimal.Decimal
	Allocated  decimal.Decimal
}

// AllocationBalance checks the engine's core invariant: the sum of an
// invoice's active allocations must equal its currently billable amount
// (total minus amount already billed in prior draws) within Epsilon.
func AllocationBalance(inv *Invoice, allocations []Allocation) BalanceResult {
	allocated := decimal.Zero
	for _, a := range allocations {
		allocated = allocated.Add(a.Amount)
	}
	diff := inv.BillableRemaining().Sub(allocated)
	return BalanceResult{
		Balanced:   WithinEpsilon(diff),
		Difference: diff,
		Allocated:  allocated,
	}
}

// =============================================================================
// PO CAPACITY
// =============================================================================

// CapacityResult reports remaining capacity on a PO line item after a
// proposed amount. Overage > 0 does not fail the calculation; it becomes
// a warning the orchestrator may require an override for (soft block).
type CapacityResult struct {
	Remaining decimal.Decimal
	Overage   decimal.Decimal
}

// POCapacity computes overage = max(0, invoiced + proposed - capacity).
func POCapacity(li *POLineItem, proposed decimal.Decimal) CapacityResult {
	afterwards := li.InvoicedAmount.Add(proposed)
	overage := afterwards.Sub(li.Amount)
	if overage.IsNegative() {
		overage = decimal.Zero
	}
	return CapacityResult{
		Remaining: li.Amount.Sub(afterwards),
		Overage:   overage,
	}
}

// =============================================================================
// BUDGET DELTAS
// =============================================================================

// BudgetDelta returns the budget line with the named field adjusted by
// delta. A nil line is created at zero baseline for the job/cost code.
// Decrements floor at zero: reversing transitions out of order must not
// drive shared rollups negative.
func BudgetDelta(line *BudgetLine, jobID JobID, costCodeID CostCodeID, field BudgetField, delta decimal.Decimal) *BudgetLine {
	if line == nil {
		line = &BudgetLine{
			JobID:      jobID,
			CostCodeID: costCodeID,
		}
	}
	next := line.Field(field).Add(delta)
	if next.IsNegative() {
		next = decimal.Zero
	}
	line.SetField(field, next)
	return line
}

// FloorAtZero clamps a decremented rollup value.
func FloorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// DRAW TOTALS
// =============================================================================

// DrawTotalAmount recomputes a draw's total from its source rows: draw
// allocations plus change-order billings. Always a full recomputation,
// never an incremental patch, to avoid drift.
func DrawTotalAmount(drawAllocations []DrawAllocation, changeOrderBillings []ChangeOrderBilling) decimal.Decimal {
	total := decimal.Zero
	for _, da := range drawAllocations {
		total = total.Add(da.Amount)
	}
	for _, cb := range changeOrderBillings {
		total = total.Add(cb.Amount)
	}
	return total
}

// InvoiceShare sums the draw allocations belonging to one invoice: the
// amount of that invoice billed in this payment cycle.
func InvoiceShare(drawAllocations []DrawAllocation, invoiceID InvoiceID) decimal.Decimal {
	share := decimal.Zero
	for _, da := range drawAllocations {
		if da.InvoiceID == invoiceID {
			share = share.Add(da.Amount)
		}
	}
	return share
}
