/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Seeds the database with recognizable demo states so the lifecycle can
  be exercised end-to-end without manual setup. Every scenario is built
  through the orchestrator, never by writing rows directly, so the
  seeded data obeys the same invariants as production data.

AVAILABLE SCENARIOS:
  fresh-job:        job with budget-committing PO, invoices still received
  coded-invoices:   invoices coded and approved against the PO
  draw-in-progress: approved invoices grouped into a draft draw
  funded-draw:      a submitted draw funded, invoices settled

USAGE VIA API:
  POST /api/scenarios/load
  {"id": "draw-in-progress"}

NOTE:
  Scenarios reset the database. Only use in development/demo
  environments.

SEE ALSO:
  - handlers.go: Handler context
  - engine/: the operations these drive
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/draw-engine/engine"
)

// Resetter clears all data; implemented by the dev stores.
type Resetter interface {
	Reset(ctx context.Context) error
}

var scenarios = []ScenarioDTO{
	{ID: "fresh-job", Name: "Fresh Job", Description: "A job with a purchase order committing budget and two invoices awaiting coding."},
	{ID: "coded-invoices", Name: "Coded Invoices", Description: "Invoices coded against cost codes and approved; PO and budget rollups incremented."},
	{ID: "draw-in-progress", Name: "Draw In Progress", Description: "Approved invoices grouped into a draft draw with a change-order billing."},
	{ID: "funded-draw", Name: "Funded Draw", Description: "A submitted draw funded in full; invoices settled and marked paid."},
}

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"current": h.currentScenario})
}

// LoadScenario resets the store and seeds the named scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if resetter, ok := h.Store.(Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
			return
		}
	}

	var err error
	switch req.ID {
	case "fresh-job":
		_, _, err = h.seedFreshJob(ctx)
	case "coded-invoices":
		_, _, err = h.seedCodedInvoices(ctx)
	case "draw-in-progress":
		_, err = h.seedDrawInProgress(ctx)
	case "funded-draw":
		err = h.seedFundedDraw(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario %q", req.ID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ID
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.ID})
}

// -----------------------------------------------------------------------------
// SEED DATA
// -----------------------------------------------------------------------------

const (
	demoJob    = engine.JobID("job-riverside")
	demoVendor = engine.VendorID("vendor-acme-electric")
	demoActor  = "demo@ledgerline.dev"
)

func mustDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

// seedFreshJob creates a PO (concrete + electrical lines) and two
// received invoices.
func (h *Handler) seedFreshJob(ctx context.Context) ([]engine.InvoiceID, []engine.POLineItem, error) {
	_, lines, err := h.Engine.CreatePurchaseOrder(ctx, engine.CreatePurchaseOrderInput{
		JobID:    demoJob,
		VendorID: demoVendor,
		Number:   "PO-1001",
		Lines: []engine.POLineItemInput{
			{CostCodeID: "03-3000", Description: "Concrete", Amount: decimal.NewFromInt(5000)},
			{CostCodeID: "26-0500", Description: "Electrical rough-in", Amount: decimal.NewFromInt(4500)},
		},
		Actor: demoActor,
	})
	if err != nil {
		return nil, nil, err
	}

	var ids []engine.InvoiceID
	for _, amount := range []int64{10000, 6000} {
		inv, err := h.Engine.CreateInvoice(ctx, engine.CreateInvoiceInput{
			JobID:         demoJob,
			VendorID:      demoVendor,
			InvoiceNumber: fmt.Sprintf("INV-%d", amount),
			Amount:        decimal.NewFromInt(amount),
			Actor:         demoActor,
		})
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, inv.ID)
	}
	return ids, lines, nil
}

// seedCodedInvoices submits and approves the fresh-job invoices with
// balanced allocations against the PO lines.
func (h *Handler) seedCodedInvoices(ctx context.Context) ([]engine.InvoiceID, []engine.POLineItem, error) {
	ids, lines, err := h.seedFreshJob(ctx)
	if err != nil {
		return nil, nil, err
	}

	splits := [][]engine.AllocationInput{
		{
			{CostCodeID: "03-3000", POLineItemID: &lines[0].ID, Amount: decimal.NewFromInt(4000)},
			{CostCodeID: "26-0500", POLineItemID: &lines[1].ID, Amount: decimal.NewFromInt(4000)},
			{CostCodeID: "01-0100", Amount: decimal.NewFromInt(2000)},
		},
		{
			{CostCodeID: "03-3000", POLineItemID: &lines[0].ID, Amount: decimal.NewFromInt(1000)},
			{CostCodeID: "01-0100", Amount: decimal.NewFromInt(5000)},
		},
	}
	for i, id := range ids {
		if _, err := h.Engine.SubmitForApproval(ctx, engine.SubmitInput{
			InvoiceID: id, Allocations: splits[i], Actor: demoActor,
		}); err != nil {
			return nil, nil, err
		}
		if _, err := h.Engine.ApproveInvoice(ctx, engine.ApproveInput{
			InvoiceID: id, Actor: demoActor,
		}); err != nil {
			return nil, nil, err
		}
	}
	return ids, lines, nil
}

// seedDrawInProgress groups the approved invoices into a draft draw and
// bills a change order on it.
func (h *Handler) seedDrawInProgress(ctx context.Context) (engine.DrawID, error) {
	ids, _, err := h.seedCodedInvoices(ctx)
	if err != nil {
		return "", err
	}

	draw, err := h.Engine.CreateDraw(ctx, engine.CreateDrawInput{
		JobID:       demoJob,
		PeriodStart: mustDate("2026-08-01"),
		PeriodEnd:   mustDate("2026-08-31"),
		Actor:       demoActor,
	})
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if _, err := h.Engine.AddInvoiceToDraw(ctx, draw.ID, id, demoActor); err != nil {
			return "", err
		}
	}

	co, err := h.Engine.CreateChangeOrder(ctx, engine.CreateChangeOrderInput{
		JobID:    demoJob,
		Number:   "CO-001",
		Amount:   decimal.NewFromInt(1500),
		Approved: true,
		Actor:    demoActor,
	})
	if err != nil {
		return "", err
	}
	if _, err := h.Engine.AddChangeOrderBilling(ctx, draw.ID, co.ID, co.Amount, demoActor); err != nil {
		return "", err
	}
	return draw.ID, nil
}

// seedFundedDraw submits and funds the in-progress draw.
func (h *Handler) seedFundedDraw(ctx context.Context) error {
	drawID, err := h.seedDrawInProgress(ctx)
	if err != nil {
		return err
	}
	if _, err := h.Engine.SubmitDraw(ctx, drawID, demoActor); err != nil {
		return err
	}
	_, err = h.Engine.FundDraw(ctx, engine.FundDrawInput{DrawID: drawID, Actor: demoActor})
	return err
}
