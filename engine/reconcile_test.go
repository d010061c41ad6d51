package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// ALLOCATION BALANCE
// =============================================================================

func TestAllocationBalance_Balanced(t *testing.T) {
	// GIVEN: A $10,000 invoice split 6,000 + 4,000
	// WHEN: Checking the balance
	// THEN: Balanced, difference zero
	inv := &Invoice{Amount: dec("10000")}
	allocations := []Allocation{
		{CostCodeID: "03-3000", Amount: dec("6000")},
		{CostCodeID: "26-0500", Amount: dec("4000")},
	}

	res := AllocationBalance(inv, allocations)
	if !res.Balanced {
		t.Fatalf("expected balanced, difference %s", res.Difference)
	}
	if !res.Allocated.Equal(dec("10000")) {
		t.Errorf("allocated = %s, want 10000", res.Allocated)
	}
}

func TestAllocationBalance_OffByMoreThanEpsilon(t *testing.T) {
	inv := &Invoice{Amount: dec("10000")}
	allocations := []Allocation{{Amount: dec("9999.98")}}

	res := AllocationBalance(inv, allocations)
	if res.Balanced {
		t.Fatal("expected unbalanced")
	}
	if !res.Difference.Equal(dec("0.02")) {
		t.Errorf("difference = %s, want 0.02", res.Difference)
	}
}

func TestAllocationBalance_WithinEpsilonTolerated(t *testing.T) {
	// Rounding residue of one cent reconciles.
	inv := &Invoice{Amount: dec("10000")}
	allocations := []Allocation{{Amount: dec("9999.99")}}

	if res := AllocationBalance(inv, allocations); !res.Balanced {
		t.Fatalf("one-cent residue should be within tolerance, difference %s", res.Difference)
	}
}

func TestAllocationBalance_UsesBillableRemaining(t *testing.T) {
	// GIVEN: A $10,000 invoice with $6,000 already billed on a prior draw
	// WHEN: Allocations sum to the $4,000 remainder
	// THEN: Balanced against billable remaining, not the face amount
	inv := &Invoice{Amount: dec("10000"), BilledAmount: dec("6000")}
	allocations := []Allocation{{Amount: dec("4000")}}

	if res := AllocationBalance(inv, allocations); !res.Balanced {
		t.Fatalf("expected balanced against billable remaining, difference %s", res.Difference)
	}
}

func TestAllocationBalance_CreditInvoice(t *testing.T) {
	// Negative amounts are legal: a credit memo allocates negative.
	inv := &Invoice{Amount: dec("-500")}
	allocations := []Allocation{{Amount: dec("-500")}}

	if res := AllocationBalance(inv, allocations); !res.Balanced {
		t.Fatalf("credit invoice should balance, difference %s", res.Difference)
	}
}

// =============================================================================
// PO CAPACITY
// =============================================================================

func TestPOCapacity_WithinCapacity(t *testing.T) {
	li := &POLineItem{Amount: dec("5000"), InvoicedAmount: dec("1000")}

	res := POCapacity(li, dec("3000"))
	if !res.Overage.IsZero() {
		t.Errorf("overage = %s, want 0", res.Overage)
	}
	if !res.Remaining.Equal(dec("1000")) {
		t.Errorf("remaining = %s, want 1000", res.Remaining)
	}
}

func TestPOCapacity_Overage(t *testing.T) {
	// GIVEN: A $5,000 line with $4,500 already invoiced
	// WHEN: Proposing another $1,000
	// THEN: Overage of $500 is reported (soft block, not an error)
	li := &POLineItem{Amount: dec("5000"), InvoicedAmount: dec("4500")}

	res := POCapacity(li, dec("1000"))
	if !res.Overage.Equal(dec("500")) {
		t.Errorf("overage = %s, want 500", res.Overage)
	}
	if !res.Remaining.Equal(dec("-500")) {
		t.Errorf("remaining = %s, want -500", res.Remaining)
	}
}

func TestPOCapacity_CreditReducesUsage(t *testing.T) {
	// A negative proposed amount frees capacity; never an overage.
	li := &POLineItem{Amount: dec("5000"), InvoicedAmount: dec("5000")}

	res := POCapacity(li, dec("-2000"))
	if !res.Overage.IsZero() {
		t.Errorf("credit produced overage %s", res.Overage)
	}
	if !res.Remaining.Equal(dec("2000")) {
		t.Errorf("remaining = %s, want 2000", res.Remaining)
	}
}

// =============================================================================
// BUDGET DELTAS
// =============================================================================

func TestBudgetDelta_CreatesLineAtZeroBaseline(t *testing.T) {
	line := BudgetDelta(nil, "job-1", "03-3000", BudgetBilled, dec("250"))

	if line.JobID != "job-1" || line.CostCodeID != "03-3000" {
		t.Fatalf("unexpected line identity: %+v", line)
	}
	if !line.BilledAmount.Equal(dec("250")) {
		t.Errorf("billed = %s, want 250", line.BilledAmount)
	}
	if !line.BudgetedAmount.IsZero() || !line.CommittedAmount.IsZero() || !line.PaidAmount.IsZero() {
		t.Error("other rollups should start at zero")
	}
}

func TestBudgetDelta_DecrementFloorsAtZero(t *testing.T) {
	// Reversing out of order must never drive a shared rollup negative.
	line := &BudgetLine{JobID: "job-1", CostCodeID: "03-3000", BilledAmount: dec("100")}

	line = BudgetDelta(line, "job-1", "03-3000", BudgetBilled, dec("-300"))
	if !line.BilledAmount.IsZero() {
		t.Errorf("billed = %s, want 0 (floored)", line.BilledAmount)
	}
}

// =============================================================================
// DRAW TOTALS
// =============================================================================

func TestDrawTotalAmount(t *testing.T) {
	rows := []DrawAllocation{
		{InvoiceID: "inv-1", Amount: dec("4000")},
		{InvoiceID: "inv-1", Amount: dec("2000")},
		{InvoiceID: "inv-2", Amount: dec("1000")},
	}
	billings := []ChangeOrderBilling{{Amount: dec("1500")}}

	if total := DrawTotalAmount(rows, billings); !total.Equal(dec("8500")) {
		t.Errorf("total = %s, want 8500", total)
	}
	if total := DrawTotalAmount(nil, nil); !total.IsZero() {
		t.Errorf("empty draw total = %s, want 0", total)
	}
}

func TestInvoiceShare(t *testing.T) {
	rows := []DrawAllocation{
		{InvoiceID: "inv-1", Amount: dec("4000")},
		{InvoiceID: "inv-2", Amount: dec("1000")},
		{InvoiceID: "inv-1", Amount: dec("2000")},
	}

	if share := InvoiceShare(rows, "inv-1"); !share.Equal(dec("6000")) {
		t.Errorf("share = %s, want 6000", share)
	}
	if share := InvoiceShare(rows, "inv-9"); !share.IsZero() {
		t.Errorf("share = %s, want 0", share)
	}
}
