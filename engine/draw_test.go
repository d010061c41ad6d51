package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/draw-engine/engine"
)

// newDraftDraw creates an August draw on the test job.
func newDraftDraw(t *testing.T, o *engine.Orchestrator) *engine.Draw {
	t.Helper()
	draw, err := o.CreateDraw(context.Background(), engine.CreateDrawInput{
		JobID:       testJob,
		PeriodStart: time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, time.August, 31, 0, 0, 0, 0, time.UTC),
		Actor:       testActor,
	})
	require.NoError(t, err)
	return draw
}

// =============================================================================
// CREATE / NUMBERING
// =============================================================================

func TestCreateDraw_SequentialNumbering(t *testing.T) {
	o := newTestEngine()
	first := newDraftDraw(t, o)
	second := newDraftDraw(t, o)

	assert.Equal(t, 1, first.Number)
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, engine.DrawDraft, first.Status)
	assert.True(t, first.TotalAmount.IsZero())
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

func TestAddInvoiceToDraw_CopiesAllocationsAndRecomputesTotal(t *testing.T) {
	// GIVEN: An approved $10,000 invoice and a draft draw
	// WHEN: The invoice is added
	// THEN: in_draw status, draw allocations mirror the coding, total = 10,000
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)
	draw := newDraftDraw(t, o)

	res, err := o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceInDraw, res.Invoice.Status)
	assert.True(t, res.Draw.TotalAmount.Equal(dec("10000")), "total = %s", res.Draw.TotalAmount)

	rows, err := o.Store.ListDrawAllocations(ctx, draw.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestAddInvoiceToDraw_RejectsUnapprovedInvoice(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	inv := newReceivedInvoice(t, o, "1000")
	draw := newDraftDraw(t, o)

	_, err := o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	assert.ErrorIs(t, err, engine.ErrTransitionNotAllowed)
}

func TestRemoveInvoiceFromDraw(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)
	draw := newDraftDraw(t, o)

	_, err := o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)

	res, err := o.RemoveInvoiceFromDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceApproved, res.Invoice.Status)
	assert.True(t, res.Draw.TotalAmount.IsZero(), "total = %s", res.Draw.TotalAmount)

	rows, err := o.Store.ListDrawAllocations(ctx, draw.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSubmittedDraw_RejectsMembershipEditsUntilUnsubmitted(t *testing.T) {
	// GIVEN: A submitted draw holding one invoice
	// WHEN: Removing the invoice
	// THEN: Rejected while submitted; allowed after unsubmit
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)
	draw := newDraftDraw(t, o)

	_, err := o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)
	_, err = o.SubmitDraw(ctx, draw.ID, testActor)
	require.NoError(t, err)

	_, err = o.RemoveInvoiceFromDraw(ctx, draw.ID, inv.ID, testActor)
	require.ErrorIs(t, err, engine.ErrValidationFailed)

	_, err = o.UnsubmitDraw(ctx, draw.ID, testActor)
	require.NoError(t, err)

	_, err = o.RemoveInvoiceFromDraw(ctx, draw.ID, inv.ID, testActor)
	assert.NoError(t, err)
}

// =============================================================================
// PARTIAL BILLING
// =============================================================================

func TestEditDrawAllocation_PartialBilling(t *testing.T) {
	// GIVEN: A draw holding a fully allocated invoice
	// WHEN: One draw allocation is reduced to bill part of it this cycle
	// THEN: The total drops by the unbilled remainder
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)
	draw := newDraftDraw(t, o)

	_, err := o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)

	rows, err := o.Store.ListDrawAllocations(ctx, draw.ID)
	require.NoError(t, err)
	var target engine.DrawAllocation
	for _, row := range rows {
		if row.CostCodeID == "01-0100" {
			target = row
		}
	}
	require.NotEmpty(t, target.ID)
	require.True(t, target.Amount.Equal(dec("2000")))

	res, err := o.EditDrawAllocation(ctx, draw.ID, target.ID, dec("500"), testActor)
	require.NoError(t, err)
	assert.True(t, res.Draw.TotalAmount.Equal(dec("8500")), "total = %s", res.Draw.TotalAmount)

	// Cannot bill more than the invoice allocation covers.
	_, err = o.EditDrawAllocation(ctx, draw.ID, target.ID, dec("2500"), testActor)
	assert.ErrorIs(t, err, engine.ErrValidationFailed)

	// Negative amounts are refused.
	_, err = o.EditDrawAllocation(ctx, draw.ID, target.ID, dec("-1"), testActor)
	assert.ErrorIs(t, err, engine.ErrValidationFailed)
}

func TestEditDrawAllocation_Undoable(t *testing.T) {
	// GIVEN: A draw allocation reduced for partial billing
	// WHEN: The edit is undone
	// THEN: The row and the draw total return to their prior amounts
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)
	draw := newDraftDraw(t, o)

	_, err := o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)

	rows, err := o.Store.ListDrawAllocations(ctx, draw.ID)
	require.NoError(t, err)
	var target engine.DrawAllocation
	for _, row := range rows {
		if row.CostCodeID == "01-0100" {
			target = row
		}
	}
	require.NotEmpty(t, target.ID)

	_, err = o.EditDrawAllocation(ctx, draw.ID, target.ID, dec("500"), testActor)
	require.NoError(t, err)

	entry, ok := o.GetAvailableUndo(engine.EntityDraw, string(draw.ID))
	require.True(t, ok)
	assert.Equal(t, "edit_draw_allocation", entry.Action)

	res, err := o.ExecuteUndo(ctx, entry.ID, testActor)
	require.NoError(t, err)
	assert.True(t, res.Draw.TotalAmount.Equal(dec("10000")), "total = %s", res.Draw.TotalAmount)

	rows, err = o.Store.ListDrawAllocations(ctx, draw.ID)
	require.NoError(t, err)
	for _, row := range rows {
		if row.CostCodeID == "01-0100" {
			assert.True(t, row.Amount.Equal(dec("2000")), "amount = %s", row.Amount)
		}
	}
}

// =============================================================================
// CHANGE ORDERS
// =============================================================================

func TestChangeOrderBilling(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	draw := newDraftDraw(t, o)

	pending, err := o.CreateChangeOrder(ctx, engine.CreateChangeOrderInput{
		JobID: testJob, Number: "CO-001", Amount: dec("1500"), Actor: testActor,
	})
	require.NoError(t, err)

	// Pending change orders are not billable.
	_, err = o.AddChangeOrderBilling(ctx, draw.ID, pending.ID, pending.Amount, testActor)
	require.ErrorIs(t, err, engine.ErrValidationFailed)

	approved, err := o.CreateChangeOrder(ctx, engine.CreateChangeOrderInput{
		JobID: testJob, Number: "CO-002", Amount: dec("1500"), Approved: true, Actor: testActor,
	})
	require.NoError(t, err)

	res, err := o.AddChangeOrderBilling(ctx, draw.ID, approved.ID, approved.Amount, testActor)
	require.NoError(t, err)
	assert.True(t, res.Draw.TotalAmount.Equal(dec("1500")), "total = %s", res.Draw.TotalAmount)

	res, err = o.RemoveChangeOrderBilling(ctx, draw.ID, approved.ID, testActor)
	require.NoError(t, err)
	assert.True(t, res.Draw.TotalAmount.IsZero())
}

func TestChangeOrderBilling_WrongJobRejected(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	draw := newDraftDraw(t, o)

	co, err := o.CreateChangeOrder(ctx, engine.CreateChangeOrderInput{
		JobID: "job-other", Number: "CO-001", Amount: dec("1500"), Approved: true, Actor: testActor,
	})
	require.NoError(t, err)

	_, err = o.AddChangeOrderBilling(ctx, draw.ID, co.ID, co.Amount, testActor)
	assert.ErrorIs(t, err, engine.ErrValidationFailed)
}

// =============================================================================
// RECALCULATE
// =============================================================================

func TestRecalculateDrawTotal_Idempotent(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)
	draw := newDraftDraw(t, o)

	_, err := o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)

	first, err := o.RecalculateDrawTotal(ctx, draw.ID, testActor)
	require.NoError(t, err)
	second, err := o.RecalculateDrawTotal(ctx, draw.ID, testActor)
	require.NoError(t, err)

	assert.True(t, first.TotalAmount.Equal(second.TotalAmount))
	assert.True(t, first.TotalAmount.Equal(dec("10000")))
}

// =============================================================================
// FUNDING
// =============================================================================

func TestFundDraw_FullFunding(t *testing.T) {
	// GIVEN: A submitted draw billing a $10,000 invoice in full
	// WHEN: Funded at the billed total
	// THEN: Draw funded with zero difference; invoice paid in full;
	//       budget paid rollups applied; active allocations cleared
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)
	draw := newDraftDraw(t, o)

	_, err := o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)
	_, err = o.SubmitDraw(ctx, draw.ID, testActor)
	require.NoError(t, err)

	res, err := o.FundDraw(ctx, engine.FundDrawInput{DrawID: draw.ID, Actor: testActor})
	require.NoError(t, err)
	assert.Equal(t, engine.DrawFunded, res.Draw.Status)
	assert.True(t, res.Draw.FundedAmount.Equal(dec("10000")))
	assert.True(t, res.Draw.FundingDifference.IsZero())
	assert.NotNil(t, res.Draw.FundedAt)

	got, err := o.Store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoicePaid, got.Status)
	assert.True(t, got.BilledAmount.Equal(dec("10000")))
	assert.True(t, got.PaidAmount.Equal(dec("10000")))

	bl, err := o.Store.GetBudgetLine(ctx, testJob, "01-0100")
	require.NoError(t, err)
	assert.True(t, bl.PaidAmount.Equal(dec("2000")), "paid = %s", bl.PaidAmount)

	allocations, err := o.Store.ListAllocations(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, allocations)
}

func TestFundDraw_BlockedByHeldInvoiceLock(t *testing.T) {
	// GIVEN: A submitted draw whose invoice is locked by another editor
	// WHEN: Funding the draw
	// THEN: LOCKED, and the draw stays submitted
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)
	draw := newDraftDraw(t, o)

	_, err := o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)
	_, err = o.SubmitDraw(ctx, draw.ID, testActor)
	require.NoError(t, err)

	held, err := o.Locks.Acquire(engine.EntityInvoice, string(inv.ID), "bob@test")
	require.NoError(t, err)

	_, err = o.FundDraw(ctx, engine.FundDrawInput{DrawID: draw.ID, Actor: testActor})
	require.ErrorIs(t, err, engine.ErrLocked)

	got, err := o.Store.GetDraw(ctx, draw.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.DrawSubmitted, got.Status)

	// Funding proceeds once the editor lets go.
	require.NoError(t, o.Locks.Release(held.ID, "bob@test"))
	res, err := o.FundDraw(ctx, engine.FundDrawInput{DrawID: draw.ID, Actor: testActor})
	require.NoError(t, err)
	assert.Equal(t, engine.DrawFunded, res.Draw.Status)
}

func TestFundDraw_PartialBillingLeavesRemainder(t *testing.T) {
	// GIVEN: Only $500 of the invoice's $2,000 uncommitted allocation is
	//        billed this cycle
	// WHEN: The draw is funded
	// THEN: The invoice returns to approved carrying the billed amount,
	//       and its active allocations shrink to the remainder
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)
	draw := newDraftDraw(t, o)

	_, err := o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)

	rows, err := o.Store.ListDrawAllocations(ctx, draw.ID)
	require.NoError(t, err)
	for _, row := range rows {
		if row.CostCodeID == "01-0100" {
			_, err = o.EditDrawAllocation(ctx, draw.ID, row.ID, dec("500"), testActor)
			require.NoError(t, err)
		}
	}

	_, err = o.SubmitDraw(ctx, draw.ID, testActor)
	require.NoError(t, err)
	res, err := o.FundDraw(ctx, engine.FundDrawInput{DrawID: draw.ID, Actor: testActor})
	require.NoError(t, err)
	assert.True(t, res.Draw.TotalAmount.Equal(dec("8500")))

	got, err := o.Store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceApproved, got.Status)
	assert.True(t, got.BilledAmount.Equal(dec("8500")), "billed = %s", got.BilledAmount)
	assert.True(t, got.BillableRemaining().Equal(dec("1500")))

	// The remaining allocations still balance the billable remainder.
	allocations, err := o.Store.ListAllocations(ctx, inv.ID)
	require.NoError(t, err)
	balance := engine.AllocationBalance(got, allocations)
	assert.True(t, balance.Balanced, "difference = %s", balance.Difference)
}

func TestFundDraw_UnderfundingRecordedNotRejected(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)
	draw := newDraftDraw(t, o)

	_, err := o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)
	_, err = o.SubmitDraw(ctx, draw.ID, testActor)
	require.NoError(t, err)

	funded := dec("9000")
	res, err := o.FundDraw(ctx, engine.FundDrawInput{DrawID: draw.ID, FundedAmount: &funded, Actor: testActor})
	require.NoError(t, err)
	assert.True(t, res.Draw.FundingDifference.Equal(dec("-1000")), "difference = %s", res.Draw.FundingDifference)

	// Settlement still runs on the billed amounts.
	got, err := o.Store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoicePaid, got.Status)
}

func TestFundDraw_RequiresSubmittedStatus(t *testing.T) {
	o := newTestEngine()
	draw := newDraftDraw(t, o)

	_, err := o.FundDraw(context.Background(), engine.FundDrawInput{DrawID: draw.ID, Actor: testActor})
	assert.ErrorIs(t, err, engine.ErrValidationFailed)
}

func TestFundedDraw_PermanentlyImmutable(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	draw := newDraftDraw(t, o)

	_, err := o.SubmitDraw(ctx, draw.ID, testActor)
	require.NoError(t, err)
	_, err = o.FundDraw(ctx, engine.FundDrawInput{DrawID: draw.ID, Actor: testActor})
	require.NoError(t, err)

	_, err = o.UnsubmitDraw(ctx, draw.ID, testActor)
	assert.ErrorIs(t, err, engine.ErrTransitionNotAllowed)

	_, err = o.RecalculateDrawTotal(ctx, draw.ID, testActor)
	assert.ErrorIs(t, err, engine.ErrValidationFailed)
}
