package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/draw-engine/engine"
	"github.com/ledgerline/draw-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testInvoice(id string) *engine.Invoice {
	now := time.Now().UTC().Truncate(time.Second)
	return &engine.Invoice{
		ID:            engine.InvoiceID(id),
		JobID:         "job-1",
		VendorID:      "vendor-1",
		InvoiceNumber: "INV-" + id,
		Amount:        dec("1234.56"),
		Status:        engine.InvoiceReceived,
		BilledAmount:  decimal.Zero,
		PaidAmount:    decimal.Zero,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// =============================================================================
// INVOICES
// =============================================================================

func TestInvoiceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inv := testInvoice("inv-1")
	require.NoError(t, s.CreateInvoice(ctx, inv))

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)
	assert.Equal(t, engine.InvoiceReceived, got.Status)
	assert.True(t, got.Amount.Equal(dec("1234.56")), "amount = %s", got.Amount)
	assert.Nil(t, got.ApprovedAt)
	assert.Nil(t, got.DeletedAt)
}

func TestGetInvoice_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetInvoice(context.Background(), "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestUpdateInvoice_VersionConflict(t *testing.T) {
	// GIVEN: A stored invoice at version 1
	// WHEN: Updating with a stale expected version
	// THEN: VERSION_CONFLICT, and the row is unchanged
	s := newTestStore(t)
	ctx := context.Background()

	inv := testInvoice("inv-1")
	require.NoError(t, s.CreateInvoice(ctx, inv))

	fresh := *inv
	fresh.Status = engine.InvoiceNeedsApproval
	require.NoError(t, s.UpdateInvoice(ctx, &fresh, 1))
	assert.Equal(t, int64(2), fresh.Version)

	stale := *inv
	stale.Status = engine.InvoiceDenied
	err := s.UpdateInvoice(ctx, &stale, 1)
	require.ErrorIs(t, err, engine.ErrVersionConflict)

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceNeedsApproval, got.Status)
}

func TestListInvoicesByJob_ExcludesSoftDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keep := testInvoice("inv-keep")
	gone := testInvoice("inv-gone")
	now := time.Now().UTC()
	gone.DeletedAt = &now
	require.NoError(t, s.CreateInvoice(ctx, keep))
	require.NoError(t, s.CreateInvoice(ctx, gone))

	list, err := s.ListInvoicesByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID, list[0].ID)
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func TestReplaceAllocations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inv := testInvoice("inv-1")
	require.NoError(t, s.CreateInvoice(ctx, inv))

	lineID := engine.POLineItemID("li-1")
	first := []engine.Allocation{
		{ID: "a-1", InvoiceID: inv.ID, CostCodeID: "03-3000", POLineItemID: &lineID, Amount: dec("700"), CreatedAt: time.Now().UTC()},
		{ID: "a-2", InvoiceID: inv.ID, CostCodeID: "01-0100", Amount: dec("534.56"), CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, s.ReplaceAllocations(ctx, inv.ID, first))

	got, err := s.ListAllocations(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].POLineItemID)
	assert.Equal(t, lineID, *got[0].POLineItemID)
	assert.Nil(t, got[1].POLineItemID)

	// Replace is a full swap; nil clears.
	require.NoError(t, s.ReplaceAllocations(ctx, inv.ID, nil))
	got, err = s.ListAllocations(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// BUDGET LINES
// =============================================================================

func TestUpsertBudgetLine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	line := &engine.BudgetLine{
		JobID:        "job-1",
		CostCodeID:   "03-3000",
		BilledAmount: dec("100"),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.UpsertBudgetLine(ctx, line))

	// Second upsert for the same job/cost code updates in place.
	line.BilledAmount = dec("250")
	require.NoError(t, s.UpsertBudgetLine(ctx, line))

	got, err := s.GetBudgetLine(ctx, "job-1", "03-3000")
	require.NoError(t, err)
	assert.True(t, got.BilledAmount.Equal(dec("250")), "billed = %s", got.BilledAmount)

	list, err := s.ListBudgetLines(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// =============================================================================
// DRAWS
// =============================================================================

func TestDrawRoundTripWithAllocations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	draw := &engine.Draw{
		ID:          "draw-1",
		JobID:       "job-1",
		Number:      1,
		Status:      engine.DrawDraft,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
		TotalAmount: decimal.Zero,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateDraw(ctx, draw))

	rows := []engine.DrawAllocation{
		{ID: "da-1", DrawID: draw.ID, InvoiceID: "inv-1", CostCodeID: "03-3000", Amount: dec("400"), CreatedAt: now},
		{ID: "da-2", DrawID: draw.ID, InvoiceID: "inv-2", CostCodeID: "01-0100", Amount: dec("100"), CreatedAt: now},
	}
	require.NoError(t, s.AddDrawAllocations(ctx, rows))

	byDraw, err := s.ListDrawAllocations(ctx, draw.ID)
	require.NoError(t, err)
	assert.Len(t, byDraw, 2)

	byInvoice, err := s.ListDrawAllocationsByInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, byInvoice, 1)
	assert.Equal(t, engine.AllocationID("da-1"), byInvoice[0].ID)

	// Edit one row, then delete by invoice.
	edited := rows[0]
	edited.Amount = dec("250")
	require.NoError(t, s.UpdateDrawAllocation(ctx, edited))

	require.NoError(t, s.DeleteDrawAllocations(ctx, draw.ID, "inv-1"))
	byDraw, err = s.ListDrawAllocations(ctx, draw.ID)
	require.NoError(t, err)
	require.Len(t, byDraw, 1)
	assert.Equal(t, engine.InvoiceID("inv-2"), byDraw[0].InvoiceID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes an invoice and then fails
	// WHEN: WithTx returns the error
	// THEN: The write is rolled back
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx engine.Store) error {
		if err := tx.CreateInvoice(ctx, testInvoice("inv-1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetInvoice(ctx, "inv-1")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx engine.Store) error {
		if err := tx.CreateInvoice(ctx, testInvoice("inv-1")); err != nil {
			return err
		}
		// Nested transactions run in the enclosing one.
		return tx.WithTx(ctx, func(inner engine.Store) error {
			return inner.CreateInvoice(ctx, testInvoice("inv-2"))
		})
	})
	require.NoError(t, err)

	for _, id := range []engine.InvoiceID{"inv-1", "inv-2"} {
		_, err := s.GetInvoice(ctx, id)
		assert.NoError(t, err, "invoice %s should be committed", id)
	}
}

// =============================================================================
// RESET
// =============================================================================

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateInvoice(ctx, testInvoice("inv-1")))
	require.NoError(t, s.Reset(ctx))

	_, err := s.GetInvoice(ctx, "inv-1")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
