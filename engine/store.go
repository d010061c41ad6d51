/*
store.go - Ledger Store interface

PURPOSE:
  Defines the persistence contract between the lifecycle engine and the
  database. The engine only requires per-entity reads, version-predicated
  writes, and a way to run a write sequence atomically.

VERSION-PREDICATED WRITES:
  Every Update* takes the version the caller read. If the stored row has
  moved on, the write fails with ErrVersionConflict and nothing is
  applied. On success the store bumps the row's Version and reflects the
  new value on the passed entity. This compare-and-set on the version
  column is the durable concurrency primitive; the advisory lock manager
  only serializes the orchestrator's own write path.

ATOMICITY:
  WithTx executes fn against a transactional view of the store. All
  writes inside fn commit together or not at all. The orchestrator wraps
  every transition's write sequence in WithTx so a crash mid-sequence can
  never leave the ledger half-updated (e.g. an invoice marked approved
  with a budget line not incremented).

IMPLEMENTATIONS:
  - engine/store/memory.go: in-memory, for tests and dev
  - store/sqlite:           SQLite (WAL), single-node deployments
  - store/postgres:         PostgreSQL via pgx, production

SEE ALSO:
  - orchestrator.go: the only writer
*/
package engine

import "context"

// Store is the Ledger Store: durable storage of invoices, allocations,
// purchase orders, budget lines, draws, and change orders.
type Store interface {
	// --- Invoices ---

	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	CreateInvoice(ctx context.Context, inv *Invoice) error
	// UpdateInvoice writes inv if the stored version equals
	// expectedVersion, bumping the version on success.
	UpdateInvoice(ctx context.Context, inv *Invoice, expectedVersion int64) error
	ListInvoicesByJob(ctx context.Context, jobID JobID) ([]Invoice, error)

	// --- Allocations ---

	ListAllocations(ctx context.Context, invoiceID InvoiceID) ([]Allocation, error)
	// ReplaceAllocations atomically swaps the invoice's active
	// allocation set. An empty slice deletes all allocations.
	ReplaceAllocations(ctx context.Context, invoiceID InvoiceID, allocations []Allocation) error

	// --- Purchase orders ---

	GetPurchaseOrder(ctx context.Context, id PurchaseOrderID) (*PurchaseOrder, error)
	CreatePurchaseOrder(ctx context.Context, po *PurchaseOrder) error
	GetPOLineItem(ctx context.Context, id POLineItemID) (*POLineItem, error)
	CreatePOLineItem(ctx context.Context, li *POLineItem) error
	UpdatePOLineItem(ctx context.Context, li *POLineItem, expectedVersion int64) error
	ListPOLineItems(ctx context.Context, poID PurchaseOrderID) ([]POLineItem, error)

	// --- Budget lines ---

	// GetBudgetLine returns ErrNotFound when no line exists yet for the
	// job/cost code; callers create at zero baseline.
	GetBudgetLine(ctx context.Context, jobID JobID, costCodeID CostCodeID) (*BudgetLine, error)
	UpsertBudgetLine(ctx context.Context, line *BudgetLine) error
	ListBudgetLines(ctx context.Context, jobID JobID) ([]BudgetLine, error)

	// --- Draws ---

	GetDraw(ctx context.Context, id DrawID) (*Draw, error)
	CreateDraw(ctx context.Context, d *Draw) error
	UpdateDraw(ctx context.Context, d *Draw, expectedVersion int64) error
	ListDrawsByJob(ctx context.Context, jobID JobID) ([]Draw, error)
	ListDrawAllocations(ctx context.Context, drawID DrawID) ([]DrawAllocation, error)
	ListDrawAllocationsByInvoice(ctx context.Context, invoiceID InvoiceID) ([]DrawAllocation, error)
	AddDrawAllocations(ctx context.Context, allocations []DrawAllocation) error
	UpdateDrawAllocation(ctx context.Context, allocation DrawAllocation) error
	DeleteDrawAllocations(ctx context.Context, drawID DrawID, invoiceID InvoiceID) error

	// --- Change orders ---

	GetChangeOrder(ctx context.Context, id ChangeOrderID) (*ChangeOrder, error)
	CreateChangeOrder(ctx context.Context, co *ChangeOrder) error
	ListChangeOrderBillings(ctx context.Context, drawID DrawID) ([]ChangeOrderBilling, error)
	AddChangeOrderBilling(ctx context.Context, billing ChangeOrderBilling) error
	DeleteChangeOrderBilling(ctx context.Context, drawID DrawID, changeOrderID ChangeOrderID) error
	ReplaceChangeOrderBillings(ctx context.Context, drawID DrawID, billings []ChangeOrderBilling) error

	// --- Atomicity ---

	// WithTx runs fn against a transactional store. If fn returns an
	// error the transaction rolls back; otherwise it commits.
	WithTx(ctx context.Context, fn func(Store) error) error
}
