package engine_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/draw-engine/engine"
	"github.com/ledgerline/draw-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	testJob    = engine.JobID("job-1")
	testVendor = engine.VendorID("vendor-1")
	testActor  = "controller@test"
)

func newTestEngine() *engine.Orchestrator {
	return engine.NewOrchestrator(store.NewMemory(), zerolog.Nop())
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// newReceivedInvoice creates a plain invoice in the received status.
func newReceivedInvoice(t *testing.T, o *engine.Orchestrator, amount string) *engine.Invoice {
	t.Helper()
	inv, err := o.CreateInvoice(context.Background(), engine.CreateInvoiceInput{
		JobID:         testJob,
		VendorID:      testVendor,
		InvoiceNumber: "INV-001",
		Amount:        dec(amount),
		Actor:         testActor,
	})
	require.NoError(t, err)
	return inv
}

// newTestPO creates a PO with one $5,000 concrete line and one $4,500
// electrical line.
func newTestPO(t *testing.T, o *engine.Orchestrator) (*engine.PurchaseOrder, []engine.POLineItem) {
	t.Helper()
	po, lines, err := o.CreatePurchaseOrder(context.Background(), engine.CreatePurchaseOrderInput{
		JobID:    testJob,
		VendorID: testVendor,
		Number:   "PO-100",
		Lines: []engine.POLineItemInput{
			{CostCodeID: "03-3000", Description: "Concrete", Amount: dec("5000")},
			{CostCodeID: "26-0500", Description: "Electrical", Amount: dec("4500")},
		},
		Actor: testActor,
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	return po, lines
}

// newApprovedInvoice runs an invoice through coding and approval with a
// balanced split across the two PO lines plus an uncommitted remainder.
func newApprovedInvoice(t *testing.T, o *engine.Orchestrator, lines []engine.POLineItem) *engine.Invoice {
	t.Helper()
	ctx := context.Background()
	inv := newReceivedInvoice(t, o, "10000")

	_, err := o.SubmitForApproval(ctx, engine.SubmitInput{
		InvoiceID: inv.ID,
		Allocations: []engine.AllocationInput{
			{CostCodeID: "03-3000", POLineItemID: &lines[0].ID, Amount: dec("4000")},
			{CostCodeID: "26-0500", POLineItemID: &lines[1].ID, Amount: dec("4000")},
			{CostCodeID: "01-0100", Amount: dec("2000")},
		},
		Actor: testActor,
	})
	require.NoError(t, err)

	res, err := o.ApproveInvoice(ctx, engine.ApproveInput{InvoiceID: inv.ID, Actor: testActor})
	require.NoError(t, err)
	return res.Invoice
}

// =============================================================================
// CREATE / SUBMIT
// =============================================================================

func TestCreateInvoice_RequiresJobAndVendor(t *testing.T) {
	o := newTestEngine()
	_, err := o.CreateInvoice(context.Background(), engine.CreateInvoiceInput{
		VendorID: testVendor, Amount: dec("100"), Actor: testActor,
	})
	assert.ErrorIs(t, err, engine.ErrValidationFailed)
}

func TestSubmitForApproval_CodesTheInvoice(t *testing.T) {
	// GIVEN: A received invoice
	// WHEN: Submitted with a cost-code split
	// THEN: Status is needs_approval and the allocations are stored
	o := newTestEngine()
	ctx := context.Background()
	inv := newReceivedInvoice(t, o, "10000")

	res, err := o.SubmitForApproval(ctx, engine.SubmitInput{
		InvoiceID: inv.ID,
		Allocations: []engine.AllocationInput{
			{CostCodeID: "03-3000", Amount: dec("6000")},
			{CostCodeID: "26-0500", Amount: dec("4000")},
		},
		Actor: testActor,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceNeedsApproval, res.Invoice.Status)

	allocations, err := o.Store.ListAllocations(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, allocations, 2)
}

func TestSubmitForApproval_IllegalFromApproved(t *testing.T) {
	o := newTestEngine()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)

	_, err := o.SubmitForApproval(context.Background(), engine.SubmitInput{InvoiceID: inv.ID, Actor: testActor})
	assert.ErrorIs(t, err, engine.ErrTransitionNotAllowed)
}

// =============================================================================
// APPROVE
// =============================================================================

func TestApproveInvoice_AppliesRollups(t *testing.T) {
	// GIVEN: A coded $10,000 invoice (4k + 4k against PO lines, 2k uncommitted)
	// WHEN: Approved
	// THEN: PO invoiced amounts and budget billed rollups increase by the
	//       allocation amounts
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)

	assert.Equal(t, engine.InvoiceApproved, inv.Status)
	assert.NotNil(t, inv.ApprovedAt)
	assert.Equal(t, testActor, inv.ApprovedBy)

	li, err := o.Store.GetPOLineItem(ctx, lines[0].ID)
	require.NoError(t, err)
	assert.True(t, li.InvoicedAmount.Equal(dec("4000")), "invoiced = %s", li.InvoicedAmount)

	bl, err := o.Store.GetBudgetLine(ctx, testJob, "01-0100")
	require.NoError(t, err)
	assert.True(t, bl.BilledAmount.Equal(dec("2000")), "billed = %s", bl.BilledAmount)
}

func TestApproveInvoice_UnbalancedAllocationsRejected(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	inv := newReceivedInvoice(t, o, "10000")

	_, err := o.SubmitForApproval(ctx, engine.SubmitInput{
		InvoiceID:   inv.ID,
		Allocations: []engine.AllocationInput{{CostCodeID: "03-3000", Amount: dec("9000")}},
		Actor:       testActor,
	})
	require.NoError(t, err)

	_, err = o.ApproveInvoice(ctx, engine.ApproveInput{InvoiceID: inv.ID, Actor: testActor})
	require.ErrorIs(t, err, engine.ErrValidationFailed)

	var unbalanced *engine.UnbalancedAllocationsError
	require.ErrorAs(t, err, &unbalanced)
	assert.True(t, unbalanced.Difference.Equal(dec("1000")), "difference = %s", unbalanced.Difference)

	// Nothing was applied.
	got, err := o.Store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceNeedsApproval, got.Status)
}

func TestApproveInvoice_POOverageSoftBlock(t *testing.T) {
	// GIVEN: A $5,500 invoice coded entirely against a $5,000 PO line
	// WHEN: Approved without an override
	// THEN: The structured PO_OVERAGE failure carries remaining and overage
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)

	inv := newReceivedInvoice(t, o, "5500")
	_, err := o.SubmitForApproval(ctx, engine.SubmitInput{
		InvoiceID:   inv.ID,
		Allocations: []engine.AllocationInput{{CostCodeID: "03-3000", POLineItemID: &lines[0].ID, Amount: dec("5500")}},
		Actor:       testActor,
	})
	require.NoError(t, err)

	_, err = o.ApproveInvoice(ctx, engine.ApproveInput{InvoiceID: inv.ID, Actor: testActor})
	require.ErrorIs(t, err, engine.ErrPOOverage)

	var overage *engine.POOverageError
	require.ErrorAs(t, err, &overage)
	assert.Equal(t, lines[0].ID, overage.POLineItemID)
	assert.True(t, overage.Overage.Equal(dec("500")), "overage = %s", overage.Overage)
	assert.True(t, overage.Remaining.Equal(dec("-500")), "remaining = %s", overage.Remaining)
}

func TestApproveInvoice_POOverageOverride(t *testing.T) {
	// WHEN: Approved again with the explicit override
	// THEN: The transition proceeds and reports a warning
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)

	inv := newReceivedInvoice(t, o, "5500")
	_, err := o.SubmitForApproval(ctx, engine.SubmitInput{
		InvoiceID:   inv.ID,
		Allocations: []engine.AllocationInput{{CostCodeID: "03-3000", POLineItemID: &lines[0].ID, Amount: dec("5500")}},
		Actor:       testActor,
	})
	require.NoError(t, err)

	res, err := o.ApproveInvoice(ctx, engine.ApproveInput{
		InvoiceID: inv.ID, Actor: testActor, OverridePOOverage: true,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceApproved, res.Invoice.Status)
	require.NotEmpty(t, res.Warnings)

	li, err := o.Store.GetPOLineItem(ctx, lines[0].ID)
	require.NoError(t, err)
	assert.True(t, li.InvoicedAmount.Equal(dec("5500")), "invoiced = %s", li.InvoicedAmount)
	assert.True(t, li.Remaining().Equal(dec("-500")))
}

// =============================================================================
// UNAPPROVE
// =============================================================================

func TestUnapproveInvoice_ReversesRollups(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)

	res, err := o.UnapproveInvoice(ctx, inv.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceNeedsApproval, res.Invoice.Status)
	assert.Nil(t, res.Invoice.ApprovedAt)

	li, err := o.Store.GetPOLineItem(ctx, lines[0].ID)
	require.NoError(t, err)
	assert.True(t, li.InvoicedAmount.IsZero(), "invoiced = %s", li.InvoicedAmount)

	bl, err := o.Store.GetBudgetLine(ctx, testJob, "01-0100")
	require.NoError(t, err)
	assert.True(t, bl.BilledAmount.IsZero(), "billed = %s", bl.BilledAmount)
}

// =============================================================================
// DENY / RESUBMIT
// =============================================================================

func TestDenyAndResubmit(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	inv := newReceivedInvoice(t, o, "1000")

	res, err := o.DenyInvoice(ctx, inv.ID, "duplicate of INV-000", testActor)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceDenied, res.Invoice.Status)
	assert.Equal(t, "duplicate of INV-000", res.Invoice.DenialReason)
	assert.NotNil(t, res.Invoice.DeniedAt)

	res, err = o.ResubmitInvoice(ctx, inv.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceReceived, res.Invoice.Status)
	assert.Nil(t, res.Invoice.DeniedAt)
	assert.Empty(t, res.Invoice.DenialReason)
}

func TestDenyInvoice_DeletesAllocations(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	inv := newReceivedInvoice(t, o, "1000")

	_, err := o.SubmitForApproval(ctx, engine.SubmitInput{
		InvoiceID:   inv.ID,
		Allocations: []engine.AllocationInput{{CostCodeID: "03-3000", Amount: dec("1000")}},
		Actor:       testActor,
	})
	require.NoError(t, err)

	_, err = o.DenyInvoice(ctx, inv.ID, "wrong job", testActor)
	require.NoError(t, err)

	allocations, err := o.Store.ListAllocations(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, allocations)
}

// =============================================================================
// CLOSE OUT
// =============================================================================

func TestCloseOutInvoice_ReversesBilledRollups(t *testing.T) {
	// GIVEN: An approved invoice whose billed rollups were applied
	// WHEN: Closed out (write-off)
	// THEN: Status is paid, allocations removed, rollups reversed
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)

	res, err := o.CloseOutInvoice(ctx, inv.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoicePaid, res.Invoice.Status)
	assert.NotNil(t, res.Invoice.ClosedAt)

	li, err := o.Store.GetPOLineItem(ctx, lines[0].ID)
	require.NoError(t, err)
	assert.True(t, li.InvoicedAmount.IsZero())

	allocations, err := o.Store.ListAllocations(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, allocations)

	// Paid is terminal.
	_, err = o.CloseOutInvoice(ctx, inv.ID, testActor)
	assert.ErrorIs(t, err, engine.ErrTransitionNotAllowed)
}

// =============================================================================
// ADVISORY LOCKS
// =============================================================================

func TestInvoiceTransition_LockedByAnotherActor(t *testing.T) {
	// GIVEN: bob holds the advisory lock on the invoice
	// WHEN: alice submits it for approval
	// THEN: The request fails immediately with LOCKED; no state changed
	o := newTestEngine()
	ctx := context.Background()
	inv := newReceivedInvoice(t, o, "1000")

	_, err := o.Locks.Acquire(engine.EntityInvoice, string(inv.ID), "bob")
	require.NoError(t, err)

	_, err = o.SubmitForApproval(ctx, engine.SubmitInput{InvoiceID: inv.ID, Actor: "alice"})
	require.ErrorIs(t, err, engine.ErrLocked)

	got, err := o.Store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceReceived, got.Status)
}

// =============================================================================
// UNDO
// =============================================================================

func TestUndo_RestoresPreApprovalState(t *testing.T) {
	// GIVEN: An approval that incremented PO and budget rollups
	// WHEN: The undo entry is executed
	// THEN: The invoice and the rollups return to the pre-image;
	//       a second undo of the same entry fails UNDO_NOT_FOUND
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)

	entry, ok := o.GetAvailableUndo(engine.EntityInvoice, string(inv.ID))
	require.True(t, ok)
	assert.Equal(t, "approve", entry.Action)

	res, err := o.ExecuteUndo(ctx, entry.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceNeedsApproval, res.Invoice.Status)

	li, err := o.Store.GetPOLineItem(ctx, lines[0].ID)
	require.NoError(t, err)
	assert.True(t, li.InvoicedAmount.IsZero(), "invoiced = %s", li.InvoicedAmount)

	bl, err := o.Store.GetBudgetLine(ctx, testJob, "01-0100")
	require.NoError(t, err)
	assert.True(t, bl.BilledAmount.IsZero(), "billed = %s", bl.BilledAmount)

	_, err = o.ExecuteUndo(ctx, entry.ID, testActor)
	assert.ErrorIs(t, err, engine.ErrUndoNotFound)
}

func TestUndo_SupersededByNewerMutation(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	inv := newReceivedInvoice(t, o, "1000")

	_, err := o.SubmitForApproval(ctx, engine.SubmitInput{InvoiceID: inv.ID, Actor: testActor})
	require.NoError(t, err)
	first, ok := o.GetAvailableUndo(engine.EntityInvoice, string(inv.ID))
	require.True(t, ok)

	_, err = o.DenyInvoice(ctx, inv.ID, "late", testActor)
	require.NoError(t, err)

	// Only the deny is undoable now.
	entry, ok := o.GetAvailableUndo(engine.EntityInvoice, string(inv.ID))
	require.True(t, ok)
	assert.Equal(t, "deny", entry.Action)
	assert.NotEqual(t, first.ID, entry.ID)

	_, err = o.ExecuteUndo(ctx, first.ID, testActor)
	assert.ErrorIs(t, err, engine.ErrUndoNotFound)
}

func TestUndo_FailedApproveLeavesNoEntry(t *testing.T) {
	// GIVEN: An approved invoice billing 2,000 to 01-0100, plus a second
	//        no-PO invoice submitted without coding
	// WHEN: Approving the second with an unbalanced first-time coding,
	//       which fails inside the write transaction
	// THEN: The submit is still the undoable action, and executing it
	//       leaves the 01-0100 rollup untouched
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	newApprovedInvoice(t, o, lines)

	inv := newReceivedInvoice(t, o, "1000")
	_, err := o.SubmitForApproval(ctx, engine.SubmitInput{InvoiceID: inv.ID, Actor: testActor})
	require.NoError(t, err)

	_, err = o.ApproveInvoice(ctx, engine.ApproveInput{
		InvoiceID:   inv.ID,
		Allocations: []engine.AllocationInput{{CostCodeID: "01-0100", Amount: dec("600")}},
		Actor:       testActor,
	})
	var unbalanced *engine.UnbalancedAllocationsError
	require.ErrorAs(t, err, &unbalanced)

	entry, ok := o.GetAvailableUndo(engine.EntityInvoice, string(inv.ID))
	require.True(t, ok)
	assert.Equal(t, "submit_for_approval", entry.Action)

	_, err = o.ExecuteUndo(ctx, entry.ID, testActor)
	require.NoError(t, err)

	got, err := o.Store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceReceived, got.Status)

	bl, err := o.Store.GetBudgetLine(ctx, testJob, "01-0100")
	require.NoError(t, err)
	assert.True(t, bl.BilledAmount.Equal(dec("2000")), "billed = %s", bl.BilledAmount)
}

// =============================================================================
// SOFT DELETE
// =============================================================================

func TestSoftDeleteInvoice(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	inv := newReceivedInvoice(t, o, "1000")

	res, err := o.SoftDeleteInvoice(ctx, inv.ID, testActor)
	require.NoError(t, err)
	assert.NotNil(t, res.Invoice.DeletedAt)

	// Soft-deleted invoices drop out of job listings.
	list, err := o.Store.ListInvoicesByJob(ctx, testJob)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSoftDeleteInvoice_RejectedWhileInDraw(t *testing.T) {
	o := newTestEngine()
	ctx := context.Background()
	_, lines := newTestPO(t, o)
	inv := newApprovedInvoice(t, o, lines)

	draw, err := o.CreateDraw(ctx, engine.CreateDrawInput{JobID: testJob, Actor: testActor})
	require.NoError(t, err)
	_, err = o.AddInvoiceToDraw(ctx, draw.ID, inv.ID, testActor)
	require.NoError(t, err)

	_, err = o.SoftDeleteInvoice(ctx, inv.ID, testActor)
	assert.ErrorIs(t, err, engine.ErrValidationFailed)
}
