/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All amounts travel as JSON strings ("1234.56"), never floats, and are
  parsed with shopspring/decimal on the way in. Malformed amounts are
  rejected as VALIDATION_FAILED, never coerced.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: the domain model these project
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/draw-engine/engine"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// AllocationRequest codes part of an invoice to a cost code.
type AllocationRequest struct {
	CostCodeID   string `json:"cost_code_id"`
	POLineItemID string `json:"po_line_item_id,omitempty"`
	Amount       string `json:"amount"`
}

// CreateInvoiceRequest records a newly received vendor invoice.
type CreateInvoiceRequest struct {
	JobID           string `json:"job_id"`
	VendorID        string `json:"vendor_id"`
	PurchaseOrderID string `json:"purchase_order_id,omitempty"`
	InvoiceNumber   string `json:"invoice_number,omitempty"`
	Amount          string `json:"amount"`
	Actor           string `json:"actor"`
}

// TransitionRequest asks the orchestrator to move an entity to a target
// status. Optional fields feed specific transitions: allocations for
// submit/approve, funded_amount for draw funding, reason for denial.
type TransitionRequest struct {
	TargetStatus      string              `json:"target_status"`
	Allocations       []AllocationRequest `json:"allocations,omitempty"`
	OverridePOOverage bool                `json:"override_po_overage,omitempty"`
	Reason            string              `json:"reason,omitempty"`
	FundedAmount      string              `json:"funded_amount,omitempty"`
	Actor             string              `json:"actor"`
}

// CreateDrawRequest opens a new draft draw for a job.
type CreateDrawRequest struct {
	JobID       string `json:"job_id"`
	PeriodStart string `json:"period_start"` // ISO date
	PeriodEnd   string `json:"period_end"`
	Actor       string `json:"actor"`
}

// CreatePORequest records a purchase order with its line items.
type CreatePORequest struct {
	JobID    string `json:"job_id"`
	VendorID string `json:"vendor_id"`
	Number   string `json:"number,omitempty"`
	Lines    []struct {
		CostCodeID  string `json:"cost_code_id"`
		Description string `json:"description,omitempty"`
		Amount      string `json:"amount"`
	} `json:"lines"`
	Actor string `json:"actor"`
}

// CreateChangeOrderRequest records a contract-value change.
type CreateChangeOrderRequest struct {
	JobID    string `json:"job_id"`
	Number   string `json:"number,omitempty"`
	Amount   string `json:"amount"`
	Approved bool   `json:"approved,omitempty"`
	Actor    string `json:"actor"`
}

// ChangeOrderBillingRequest bills a change order on a draft draw.
type ChangeOrderBillingRequest struct {
	Amount string `json:"amount,omitempty"` // defaults to the CO amount
	Actor  string `json:"actor"`
}

// EditDrawAllocationRequest adjusts one draw allocation's amount
// (partial billing).
type EditDrawAllocationRequest struct {
	Amount string `json:"amount"`
	Actor  string `json:"actor"`
}

// AcquireLockRequest asks for the advisory lock on an entity.
type AcquireLockRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Holder     string `json:"holder"`
}

// ActorRequest is the minimal body for actions that only need an actor.
type ActorRequest struct {
	Actor string `json:"actor"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID              string          `json:"id"`
	JobID           string          `json:"job_id"`
	VendorID        string          `json:"vendor_id"`
	PurchaseOrderID string          `json:"purchase_order_id,omitempty"`
	InvoiceNumber   string          `json:"invoice_number,omitempty"`
	Amount          string          `json:"amount"`
	Status          string          `json:"status"`
	BilledAmount    string          `json:"billed_amount"`
	PaidAmount      string          `json:"paid_amount"`
	Version         int64           `json:"version"`
	ApprovedAt      *string         `json:"approved_at,omitempty"`
	ApprovedBy      string          `json:"approved_by,omitempty"`
	DeniedAt        *string         `json:"denied_at,omitempty"`
	DeniedBy        string          `json:"denied_by,omitempty"`
	DenialReason    string          `json:"denial_reason,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
	Allocations     []AllocationDTO `json:"allocations,omitempty"`
}

// AllocationDTO is one cost-code split of an invoice.
type AllocationDTO struct {
	ID           string `json:"id"`
	CostCodeID   string `json:"cost_code_id"`
	POLineItemID string `json:"po_line_item_id,omitempty"`
	Amount       string `json:"amount"`
}

// DrawDTO represents a draw in API responses.
type DrawDTO struct {
	ID                string                   `json:"id"`
	JobID             string                   `json:"job_id"`
	Number            int                      `json:"number"`
	Status            string                   `json:"status"`
	PeriodStart       string                   `json:"period_start"`
	PeriodEnd         string                   `json:"period_end"`
	TotalAmount       string                   `json:"total_amount"`
	FundedAmount      string                   `json:"funded_amount"`
	FundingDifference string                   `json:"funding_difference"`
	Version           int64                    `json:"version"`
	SubmittedAt       *string                  `json:"submitted_at,omitempty"`
	FundedAt          *string                  `json:"funded_at,omitempty"`
	FundedBy          string                   `json:"funded_by,omitempty"`
	Allocations       []DrawAllocationDTO      `json:"allocations,omitempty"`
	ChangeOrders      []ChangeOrderBillingDTO  `json:"change_order_billings,omitempty"`
}

// DrawAllocationDTO is one invoice share inside a draw.
type DrawAllocationDTO struct {
	ID           string `json:"id"`
	InvoiceID    string `json:"invoice_id"`
	CostCodeID   string `json:"cost_code_id"`
	POLineItemID string `json:"po_line_item_id,omitempty"`
	Amount       string `json:"amount"`
}

// ChangeOrderBillingDTO is one change-order line on a draw.
type ChangeOrderBillingDTO struct {
	ID            string `json:"id"`
	ChangeOrderID string `json:"change_order_id"`
	Amount        string `json:"amount"`
}

// PurchaseOrderDTO represents a PO with its line items.
type PurchaseOrderDTO struct {
	ID       string          `json:"id"`
	JobID    string          `json:"job_id"`
	VendorID string          `json:"vendor_id"`
	Number   string          `json:"number,omitempty"`
	Status   string          `json:"status"`
	Lines    []POLineItemDTO `json:"lines,omitempty"`
}

// POLineItemDTO is one ceiling line under a PO.
type POLineItemDTO struct {
	ID             string `json:"id"`
	CostCodeID     string `json:"cost_code_id"`
	Description    string `json:"description,omitempty"`
	Amount         string `json:"amount"`
	InvoicedAmount string `json:"invoiced_amount"`
	Remaining      string `json:"remaining"`
}

// BudgetLineDTO is one job/cost-code rollup row.
type BudgetLineDTO struct {
	JobID           string `json:"job_id"`
	CostCodeID      string `json:"cost_code_id"`
	BudgetedAmount  string `json:"budgeted_amount"`
	CommittedAmount string `json:"committed_amount"`
	BilledAmount    string `json:"billed_amount"`
	PaidAmount      string `json:"paid_amount"`
}

// LockDTO describes a live advisory lock.
type LockDTO struct {
	ID         string `json:"id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Holder     string `json:"holder"`
	ExpiresAt  string `json:"expires_at"`
}

// UndoDTO describes an available undo entry.
type UndoDTO struct {
	ID         string `json:"id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Action     string `json:"action"`
	By         string `json:"by"`
	ExpiresAt  string `json:"expires_at"`
}

// TransitionResponse is the result of a transition or undo.
type TransitionResponse struct {
	Invoice  *InvoiceDTO `json:"invoice,omitempty"`
	Draw     *DrawDTO    `json:"draw,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func fmtOptTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func optPOID(id *engine.PurchaseOrderID) string {
	if id == nil {
		return ""
	}
	return string(*id)
}

func optLineID(id *engine.POLineItemID) string {
	if id == nil {
		return ""
	}
	return string(*id)
}

func toInvoiceDTO(inv *engine.Invoice, allocations []engine.Allocation) *InvoiceDTO {
	dto := &InvoiceDTO{
		ID:              string(inv.ID),
		JobID:           string(inv.JobID),
		VendorID:        string(inv.VendorID),
		PurchaseOrderID: optPOID(inv.PurchaseOrderID),
		InvoiceNumber:   inv.InvoiceNumber,
		Amount:          inv.Amount.StringFixed(2),
		Status:          string(inv.Status),
		BilledAmount:    inv.BilledAmount.StringFixed(2),
		PaidAmount:      inv.PaidAmount.StringFixed(2),
		Version:         inv.Version,
		ApprovedAt:      fmtOptTime(inv.ApprovedAt),
		ApprovedBy:      inv.ApprovedBy,
		DeniedAt:        fmtOptTime(inv.DeniedAt),
		DeniedBy:        inv.DeniedBy,
		DenialReason:    inv.DenialReason,
		CreatedAt:       inv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       inv.UpdatedAt.Format(time.RFC3339),
	}
	for _, a := range allocations {
		dto.Allocations = append(dto.Allocations, AllocationDTO{
			ID:           string(a.ID),
			CostCodeID:   string(a.CostCodeID),
			POLineItemID: optLineID(a.POLineItemID),
			Amount:       a.Amount.StringFixed(2),
		})
	}
	return dto
}

func toDrawDTO(d *engine.Draw, allocations []engine.DrawAllocation, billings []engine.ChangeOrderBilling) *DrawDTO {
	dto := &DrawDTO{
		ID:                string(d.ID),
		JobID:             string(d.JobID),
		Number:            d.Number,
		Status:            string(d.Status),
		PeriodStart:       d.PeriodStart.Format("2006-01-02"),
		PeriodEnd:         d.PeriodEnd.Format("2006-01-02"),
		TotalAmount:       d.TotalAmount.StringFixed(2),
		FundedAmount:      d.FundedAmount.StringFixed(2),
		FundingDifference: d.FundingDifference.StringFixed(2),
		Version:           d.Version,
		SubmittedAt:       fmtOptTime(d.SubmittedAt),
		FundedAt:          fmtOptTime(d.FundedAt),
		FundedBy:          d.FundedBy,
	}
	for _, da := range allocations {
		dto.Allocations = append(dto.Allocations, DrawAllocationDTO{
			ID:           string(da.ID),
			InvoiceID:    string(da.InvoiceID),
			CostCodeID:   string(da.CostCodeID),
			POLineItemID: optLineID(da.POLineItemID),
			Amount:       da.Amount.StringFixed(2),
		})
	}
	for _, cb := range billings {
		dto.ChangeOrders = append(dto.ChangeOrders, ChangeOrderBillingDTO{
			ID:            string(cb.ID),
			ChangeOrderID: string(cb.ChangeOrderID),
			Amount:        cb.Amount.StringFixed(2),
		})
	}
	return dto
}

func toPurchaseOrderDTO(po *engine.PurchaseOrder, lines []engine.POLineItem) *PurchaseOrderDTO {
	dto := &PurchaseOrderDTO{
		ID:       string(po.ID),
		JobID:    string(po.JobID),
		VendorID: string(po.VendorID),
		Number:   po.Number,
		Status:   string(po.Status),
	}
	for i := range lines {
		li := &lines[i]
		dto.Lines = append(dto.Lines, POLineItemDTO{
			ID:             string(li.ID),
			CostCodeID:     string(li.CostCodeID),
			Description:    li.Description,
			Amount:         li.Amount.StringFixed(2),
			InvoicedAmount: li.InvoicedAmount.StringFixed(2),
			Remaining:      li.Remaining().StringFixed(2),
		})
	}
	return dto
}

func toBudgetLineDTOs(lines []engine.BudgetLine) []BudgetLineDTO {
	dtos := make([]BudgetLineDTO, len(lines))
	for i, bl := range lines {
		dtos[i] = BudgetLineDTO{
			JobID:           string(bl.JobID),
			CostCodeID:      string(bl.CostCodeID),
			BudgetedAmount:  bl.BudgetedAmount.StringFixed(2),
			CommittedAmount: bl.CommittedAmount.StringFixed(2),
			BilledAmount:    bl.BilledAmount.StringFixed(2),
			PaidAmount:      bl.PaidAmount.StringFixed(2),
		}
	}
	return dtos
}

func toLockDTO(l engine.Lock) LockDTO {
	return LockDTO{
		ID:         l.ID,
		EntityType: string(l.EntityType),
		EntityID:   l.EntityID,
		Holder:     l.Holder,
		ExpiresAt:  l.ExpiresAt.Format(time.RFC3339),
	}
}

func toUndoDTO(e engine.UndoEntry) UndoDTO {
	return UndoDTO{
		ID:         e.ID,
		EntityType: string(e.EntityType),
		EntityID:   e.EntityID,
		Action:     e.Action,
		By:         e.By,
		ExpiresAt:  e.ExpiresAt.Format(time.RFC3339),
	}
}

func toAllocationInputs(reqs []AllocationRequest) ([]engine.AllocationInput, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	inputs := make([]engine.AllocationInput, 0, len(reqs))
	for _, r := range reqs {
		amount, err := parseAmount("allocation amount", r.Amount)
		if err != nil {
			return nil, err
		}
		in := engine.AllocationInput{
			CostCodeID: engine.CostCodeID(r.CostCodeID),
			Amount:     amount,
		}
		if r.POLineItemID != "" {
			id := engine.POLineItemID(r.POLineItemID)
			in.POLineItemID = &id
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// parseAmount parses a required money string, mapping malformed input
// onto VALIDATION_FAILED.
func parseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s %q is not a valid amount", engine.ErrValidationFailed, field, s)
	}
	return d, nil
}

func parseOptAmount(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
