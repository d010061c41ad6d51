/*
handlers.go - HTTP API handlers for the invoice & draw lifecycle engine

PURPOSE:
  Exposes the lifecycle engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the
  orchestrator. Handlers are thin: every business rule lives in engine/.

ENDPOINTS:
  Invoices:
    POST   /api/invoices                   Create (status: received)
    GET    /api/invoices/{id}              Invoice with allocations
    POST   /api/invoices/{id}/transition   Request a status transition
    DELETE /api/invoices/{id}              Soft delete

  Draws:
    POST   /api/draws                      Create draft draw
    GET    /api/draws/{id}                 Draw with allocations/billings
    POST   /api/draws/{id}/transition      submit/unsubmit/fund
    POST   /api/draws/{id}/invoices/{invoiceID}    Add invoice
    DELETE /api/draws/{id}/invoices/{invoiceID}    Remove invoice
    PUT    /api/draws/{id}/allocations/{allocID}   Partial billing edit
    POST   /api/draws/{id}/change-orders/{coID}    Bill change order
    DELETE /api/draws/{id}/change-orders/{coID}    Remove CO billing
    POST   /api/draws/{id}/recalculate     Recompute total from rows

  Locks / Undo:
    POST   /api/locks                      Acquire advisory lock
    GET    /api/locks?entity_type=&entity_id=  Check
    DELETE /api/locks/{lockID}             Release
    GET    /api/undo/{entityType}/{entityID}   Available undo
    POST   /api/undo/{entryID}             Execute undo

ERROR HANDLING:
  Engine errors map onto HTTP statuses:
  - 400: validation failures, unbalanced allocations
  - 403: illegal status transitions
  - 404: missing entities
  - 409: LOCKED, VERSION_CONFLICT, PO_OVERAGE (structured payload)
  - 410: expired/consumed undo entries
  - 500: ledger store failures

SECURITY NOTE:
  Currently NO authentication or authorization; the actor is
  client-asserted. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - engine/orchestrator.go: the logic these delegate to
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/draw-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  engine.Store
	Engine *engine.Orchestrator
	Log    zerolog.Logger

	// Track currently loaded scenario (dev/demo).
	currentScenario string
}

// NewHandler creates a handler around an orchestrator.
func NewHandler(orch *engine.Orchestrator, log zerolog.Logger) *Handler {
	return &Handler{
		Store:  orch.Store,
		Engine: orch,
		Log:    log,
	}
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// CreateInvoice records a newly received vendor invoice.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	in := engine.CreateInvoiceInput{
		JobID:         engine.JobID(req.JobID),
		VendorID:      engine.VendorID(req.VendorID),
		InvoiceNumber: req.InvoiceNumber,
		Amount:        amount,
		Actor:         req.Actor,
	}
	if req.PurchaseOrderID != "" {
		id := engine.PurchaseOrderID(req.PurchaseOrderID)
		in.PurchaseOrderID = &id
	}

	inv, err := h.Engine.CreateInvoice(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv, nil))
}

// GetInvoice returns an invoice with its active allocations.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := engine.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Store.GetInvoice(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	allocations, err := h.Store.ListAllocations(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv, allocations))
}

// ListJobInvoices returns all non-deleted invoices on a job.
func (h *Handler) ListJobInvoices(w http.ResponseWriter, r *http.Request) {
	jobID := engine.JobID(chi.URLParam(r, "jobID"))

	invoices, err := h.Store.ListInvoicesByJob(r.Context(), jobID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]*InvoiceDTO, len(invoices))
	for i := range invoices {
		dtos[i] = toInvoiceDTO(&invoices[i], nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TransitionInvoice requests a status transition on an invoice.
func (h *Handler) TransitionInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, engine.EntityInvoice, chi.URLParam(r, "id"))
}

// DeleteInvoice soft-deletes an invoice.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id := engine.InvoiceID(chi.URLParam(r, "id"))
	actor := actorFrom(r)

	res, err := h.Engine.SoftDeleteInvoice(r.Context(), id, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransitionResponse(r, res))
}

// =============================================================================
// DRAW HANDLERS
// =============================================================================

// CreateDraw opens a new draft draw for a job.
func (h *Handler) CreateDraw(w http.ResponseWriter, r *http.Request) {
	var req CreateDrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	periodStart, err := time.Parse("2006-01-02", req.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_start", err)
		return
	}
	periodEnd, err := time.Parse("2006-01-02", req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_end", err)
		return
	}

	draw, err := h.Engine.CreateDraw(r.Context(), engine.CreateDrawInput{
		JobID:       engine.JobID(req.JobID),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Actor:       req.Actor,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDrawDTO(draw, nil, nil))
}

// GetDraw returns a draw with its allocations and change-order billings.
func (h *Handler) GetDraw(w http.ResponseWriter, r *http.Request) {
	id := engine.DrawID(chi.URLParam(r, "id"))

	draw, err := h.Store.GetDraw(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	allocations, err := h.Store.ListDrawAllocations(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	billings, err := h.Store.ListChangeOrderBillings(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDrawDTO(draw, allocations, billings))
}

// ListJobDraws returns all draws on a job.
func (h *Handler) ListJobDraws(w http.ResponseWriter, r *http.Request) {
	jobID := engine.JobID(chi.URLParam(r, "jobID"))

	draws, err := h.Store.ListDrawsByJob(r.Context(), jobID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]*DrawDTO, len(draws))
	for i := range draws {
		dtos[i] = toDrawDTO(&draws[i], nil, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TransitionDraw requests a status transition on a draw.
func (h *Handler) TransitionDraw(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, engine.EntityDraw, chi.URLParam(r, "id"))
}

// AddInvoiceToDraw pulls an approved invoice into a draft draw.
func (h *Handler) AddInvoiceToDraw(w http.ResponseWriter, r *http.Request) {
	drawID := engine.DrawID(chi.URLParam(r, "id"))
	invoiceID := engine.InvoiceID(chi.URLParam(r, "invoiceID"))

	res, err := h.Engine.AddInvoiceToDraw(r.Context(), drawID, invoiceID, actorFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransitionResponse(r, res))
}

// RemoveInvoiceFromDraw removes an invoice from a draft draw.
func (h *Handler) RemoveInvoiceFromDraw(w http.ResponseWriter, r *http.Request) {
	drawID := engine.DrawID(chi.URLParam(r, "id"))
	invoiceID := engine.InvoiceID(chi.URLParam(r, "invoiceID"))

	res, err := h.Engine.RemoveInvoiceFromDraw(r.Context(), drawID, invoiceID, actorFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransitionResponse(r, res))
}

// EditDrawAllocation adjusts one draw allocation's amount (partial
// billing of an invoice this cycle).
func (h *Handler) EditDrawAllocation(w http.ResponseWriter, r *http.Request) {
	drawID := engine.DrawID(chi.URLParam(r, "id"))
	allocID := engine.AllocationID(chi.URLParam(r, "allocID"))

	var req EditDrawAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	res, err := h.Engine.EditDrawAllocation(r.Context(), drawID, allocID, amount, req.Actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransitionResponse(r, res))
}

// BillChangeOrder adds a change-order billing line to a draft draw.
func (h *Handler) BillChangeOrder(w http.ResponseWriter, r *http.Request) {
	drawID := engine.DrawID(chi.URLParam(r, "id"))
	coID := engine.ChangeOrderID(chi.URLParam(r, "coID"))

	var req ChangeOrderBillingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// An omitted amount bills the change order's full value.
	var amount decimal.Decimal
	if req.Amount == "" {
		co, err := h.Store.GetChangeOrder(r.Context(), coID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		amount = co.Amount
	} else {
		var err error
		if amount, err = parseAmount("amount", req.Amount); err != nil {
			writeEngineError(w, err)
			return
		}
	}

	res, err := h.Engine.AddChangeOrderBilling(r.Context(), drawID, coID, amount, req.Actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransitionResponse(r, res))
}

// UnbillChangeOrder removes a change-order billing line from a draft draw.
func (h *Handler) UnbillChangeOrder(w http.ResponseWriter, r *http.Request) {
	drawID := engine.DrawID(chi.URLParam(r, "id"))
	coID := engine.ChangeOrderID(chi.URLParam(r, "coID"))

	res, err := h.Engine.RemoveChangeOrderBilling(r.Context(), drawID, coID, actorFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransitionResponse(r, res))
}

// RecalculateDraw recomputes the draw total from its rows. Idempotent.
func (h *Handler) RecalculateDraw(w http.ResponseWriter, r *http.Request) {
	drawID := engine.DrawID(chi.URLParam(r, "id"))

	draw, err := h.Engine.RecalculateDrawTotal(r.Context(), drawID, actorFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDrawDTO(draw, nil, nil))
}

// =============================================================================
// SHARED TRANSITION PLUMBING
// =============================================================================

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, entityType engine.EntityType, entityID string) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	fundedAmount, err := parseOptAmount(req.FundedAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid funded_amount", err)
		return
	}
	allocations, err := toAllocationInputs(req.Allocations)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	res, err := h.Engine.RequestTransition(r.Context(), entityType, entityID, req.TargetStatus, engine.TransitionPayload{
		Allocations:       allocations,
		OverridePOOverage: req.OverridePOOverage,
		Reason:            req.Reason,
		FundedAmount:      fundedAmount,
	}, req.Actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransitionResponse(r, res))
}

// toTransitionResponse enriches the orchestrator result with the
// entities' current allocations.
func (h *Handler) toTransitionResponse(r *http.Request, res *engine.Result) TransitionResponse {
	out := TransitionResponse{Warnings: res.Warnings}
	if res.Invoice != nil {
		allocations, _ := h.Store.ListAllocations(r.Context(), res.Invoice.ID)
		out.Invoice = toInvoiceDTO(res.Invoice, allocations)
	}
	if res.Draw != nil {
		allocations, _ := h.Store.ListDrawAllocations(r.Context(), res.Draw.ID)
		billings, _ := h.Store.ListChangeOrderBillings(r.Context(), res.Draw.ID)
		out.Draw = toDrawDTO(res.Draw, allocations, billings)
	}
	return out
}

// =============================================================================
// PURCHASE ORDER / CHANGE ORDER / BUDGET HANDLERS
// =============================================================================

// CreatePurchaseOrder records a PO with its line items and commits budget.
func (h *Handler) CreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req CreatePORequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := engine.CreatePurchaseOrderInput{
		JobID:    engine.JobID(req.JobID),
		VendorID: engine.VendorID(req.VendorID),
		Number:   req.Number,
		Actor:    req.Actor,
	}
	for _, l := range req.Lines {
		amount, err := parseAmount("line amount", l.Amount)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		in.Lines = append(in.Lines, engine.POLineItemInput{
			CostCodeID:  engine.CostCodeID(l.CostCodeID),
			Description: l.Description,
			Amount:      amount,
		})
	}

	po, lines, err := h.Engine.CreatePurchaseOrder(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseOrderDTO(po, lines))
}

// GetPurchaseOrder returns a PO with its line items.
func (h *Handler) GetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id := engine.PurchaseOrderID(chi.URLParam(r, "id"))

	po, err := h.Store.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	lines, err := h.Store.ListPOLineItems(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseOrderDTO(po, lines))
}

// CreateChangeOrder records a contract-value change.
func (h *Handler) CreateChangeOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateChangeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	co, err := h.Engine.CreateChangeOrder(r.Context(), engine.CreateChangeOrderInput{
		JobID:    engine.JobID(req.JobID),
		Number:   req.Number,
		Amount:   amount,
		Approved: req.Approved,
		Actor:    req.Actor,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     string(co.ID),
		"job_id": string(co.JobID),
		"number": co.Number,
		"amount": co.Amount.StringFixed(2),
		"status": string(co.Status),
	})
}

// GetJobBudget returns the rollup rows for a job.
func (h *Handler) GetJobBudget(w http.ResponseWriter, r *http.Request) {
	jobID := engine.JobID(chi.URLParam(r, "jobID"))

	lines, err := h.Store.ListBudgetLines(r.Context(), jobID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetLineDTOs(lines))
}

// =============================================================================
// LOCK HANDLERS
// =============================================================================

// AcquireLock grants the advisory lock on an entity.
func (h *Handler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	var req AcquireLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	lock, err := h.Engine.Locks.Acquire(engine.EntityType(req.EntityType), req.EntityID, req.Holder)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLockDTO(lock))
}

// CheckLock reports whether a live lock exists for the entity.
func (h *Handler) CheckLock(w http.ResponseWriter, r *http.Request) {
	entityType := engine.EntityType(r.URL.Query().Get("entity_type"))
	entityID := r.URL.Query().Get("entity_id")

	lock, ok := h.Engine.Locks.Check(entityType, entityID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"locked": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locked": true, "lock": toLockDTO(lock)})
}

// ReleaseLock releases a lock by ID.
func (h *Handler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	lockID := chi.URLParam(r, "lockID")
	if err := h.Engine.Locks.Release(lockID, actorFrom(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// UNDO HANDLERS
// =============================================================================

// GetAvailableUndo returns the most recent undoable action for an entity.
func (h *Handler) GetAvailableUndo(w http.ResponseWriter, r *http.Request) {
	entityType := engine.EntityType(chi.URLParam(r, "entityType"))
	entityID := chi.URLParam(r, "entityID")

	entry, ok := h.Engine.GetAvailableUndo(entityType, entityID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": true, "undo": toUndoDTO(entry)})
}

// ExecuteUndo reverses the snapshot with the given entry ID.
func (h *Handler) ExecuteUndo(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	res, err := h.Engine.ExecuteUndo(r.Context(), entryID, actorFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransitionResponse(r, res))
}

// =============================================================================
// HELPERS
// =============================================================================

// actorFrom reads the actor from the body (ActorRequest) or the
// X-Actor header; bodyless DELETEs use the header.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	var req ActorRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Actor != "" {
		return req.Actor
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors onto HTTP statuses and error codes.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		overage    *engine.POOverageError
		lockHeld   *engine.LockHeldError
		unbalanced *engine.UnbalancedAllocationsError
	)

	switch {
	case errors.As(err, &overage):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "PO_OVERAGE",
			Details: map[string]string{
				"po_line_item_id": string(overage.POLineItemID),
				"cost_code_id":    string(overage.CostCodeID),
				"remaining":       overage.Remaining.StringFixed(2),
				"overage":         overage.Overage.StringFixed(2),
			},
		})
	case errors.As(err, &lockHeld):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "LOCKED",
			Details: map[string]string{
				"entity_type": string(lockHeld.EntityType),
				"entity_id":   lockHeld.EntityID,
				"holder":      lockHeld.Holder,
			},
		})
	case errors.Is(err, engine.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "VERSION_CONFLICT"})
	case errors.As(err, &unbalanced):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "UNBALANCED_ALLOCATIONS",
			Details: map[string]string{
				"invoice_id": string(unbalanced.InvoiceID),
				"difference": unbalanced.Difference.StringFixed(2),
			},
		})
	case errors.Is(err, engine.ErrTransitionNotAllowed):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: "TRANSITION_NOT_ALLOWED"})
	case errors.Is(err, engine.ErrValidationFailed):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "VALIDATION_FAILED"})
	case errors.Is(err, engine.ErrUndoNotFound):
		writeJSON(w, http.StatusGone, ErrorResponse{Error: err.Error(), Code: "UNDO_NOT_FOUND"})
	case errors.Is(err, engine.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL"})
	}
}
