/*
Package postgres provides the production PostgreSQL implementation of
the Ledger Store, built on pgx connection pools.

PURPOSE:
  Same contract as store/sqlite, with Postgres-native types: NUMERIC for
  money, TIMESTAMPTZ for instants. Versioned UPDATEs carry
  "AND version = $n" so a lost race surfaces as VERSION_CONFLICT rather
  than a silent overwrite.

TRANSACTIONS:
  WithTx wraps fn in a single database transaction via pool.Begin. The
  pool handles concurrency; no process-level serialization is needed
  here, unlike the SQLite store.

SEE ALSO:
  - engine/store.go: interface contract
  - store/sqlite:    single-node / test implementation
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/draw-engine/engine"
)

// Store implements engine.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to connStr, pings, and migrates the schema.
func New(ctx context.Context, connStr string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		purchase_order_id TEXT,
		invoice_number TEXT NOT NULL DEFAULT '',
		amount NUMERIC(16,2) NOT NULL,
		status TEXT NOT NULL,
		billed_amount NUMERIC(16,2) NOT NULL,
		paid_amount NUMERIC(16,2) NOT NULL,
		version BIGINT NOT NULL,
		approved_at TIMESTAMPTZ,
		approved_by TEXT NOT NULL DEFAULT '',
		denied_at TIMESTAMPTZ,
		denied_by TEXT NOT NULL DEFAULT '',
		denial_reason TEXT NOT NULL DEFAULT '',
		closed_at TIMESTAMPTZ,
		closed_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_job ON invoices(job_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		cost_code_id TEXT NOT NULL,
		po_line_item_id TEXT,
		amount NUMERIC(16,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_allocations_invoice ON allocations(invoice_id);

	CREATE TABLE IF NOT EXISTS purchase_orders (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		number TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS po_line_items (
		id TEXT PRIMARY KEY,
		purchase_order_id TEXT NOT NULL,
		cost_code_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount NUMERIC(16,2) NOT NULL,
		invoiced_amount NUMERIC(16,2) NOT NULL,
		version BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_po_line_items_po ON po_line_items(purchase_order_id);

	CREATE TABLE IF NOT EXISTS budget_lines (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		cost_code_id TEXT NOT NULL,
		budgeted_amount NUMERIC(16,2) NOT NULL,
		committed_amount NUMERIC(16,2) NOT NULL,
		billed_amount NUMERIC(16,2) NOT NULL,
		paid_amount NUMERIC(16,2) NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(job_id, cost_code_id)
	);

	CREATE TABLE IF NOT EXISTS draws (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		status TEXT NOT NULL,
		period_start TIMESTAMPTZ NOT NULL,
		period_end TIMESTAMPTZ NOT NULL,
		total_amount NUMERIC(16,2) NOT NULL,
		funded_amount NUMERIC(16,2) NOT NULL,
		funding_difference NUMERIC(16,2) NOT NULL,
		version BIGINT NOT NULL,
		submitted_at TIMESTAMPTZ,
		funded_at TIMESTAMPTZ,
		funded_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_draws_job ON draws(job_id);

	CREATE TABLE IF NOT EXISTS draw_allocations (
		id TEXT PRIMARY KEY,
		draw_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		cost_code_id TEXT NOT NULL,
		po_line_item_id TEXT,
		amount NUMERIC(16,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_draw_allocations_draw ON draw_allocations(draw_id);
	CREATE INDEX IF NOT EXISTS idx_draw_allocations_invoice ON draw_allocations(invoice_id);

	CREATE TABLE IF NOT EXISTS change_orders (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		number TEXT NOT NULL DEFAULT '',
		amount NUMERIC(16,2) NOT NULL,
		status TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS change_order_billings (
		id TEXT PRIMARY KEY,
		draw_id TEXT NOT NULL,
		change_order_id TEXT NOT NULL,
		amount NUMERIC(16,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_co_billings_draw ON change_order_billings(draw_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// querier abstracts *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func wrapDB(err error) error {
	if err == nil || errors.Is(err, engine.ErrNotFound) || errors.Is(err, engine.ErrVersionConflict) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.ErrNotFound
	}
	return fmt.Errorf("%w: %v", engine.ErrDatabaseError, err)
}

// parseDec decodes an amount column the store itself wrote; a malformed
// value means a corrupt row and decodes as zero.
func parseDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func checkVersioned(ctx context.Context, q querier, tag pgconn.CommandTag, table, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists int
	err := q.QueryRow(ctx, "SELECT 1 FROM "+table+" WHERE id = $1", id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.ErrNotFound
	}
	if err != nil {
		return wrapDB(err)
	}
	return engine.ErrVersionConflict
}

func poLineItemID(id *engine.POLineItemID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

// =============================================================================
// INVOICES
// =============================================================================

// Money columns are selected as ::text and parsed with shopspring so the
// values survive the round trip without float conversion.
const invoiceCols = `id, job_id, vendor_id, purchase_order_id, invoice_number, amount::text, status,
	billed_amount::text, paid_amount::text, version, approved_at, approved_by, denied_at, denied_by,
	denial_reason, closed_at, closed_by, created_at, updated_at, deleted_at`

func scanInvoice(row pgx.Row) (*engine.Invoice, error) {
	var (
		inv                  engine.Invoice
		poID                 *string
		amount, billed, paid string
	)
	err := row.Scan(&inv.ID, &inv.JobID, &inv.VendorID, &poID, &inv.InvoiceNumber, &amount,
		&inv.Status, &billed, &paid, &inv.Version, &inv.ApprovedAt, &inv.ApprovedBy, &inv.DeniedAt,
		&inv.DeniedBy, &inv.DenialReason, &inv.ClosedAt, &inv.ClosedBy, &inv.CreatedAt, &inv.UpdatedAt,
		&inv.DeletedAt)
	if err != nil {
		return nil, wrapDB(err)
	}
	if poID != nil {
		id := engine.PurchaseOrderID(*poID)
		inv.PurchaseOrderID = &id
	}
	inv.Amount = parseDec(amount)
	inv.BilledAmount = parseDec(billed)
	inv.PaidAmount = parseDec(paid)
	return &inv, nil
}

func invoicePOID(inv *engine.Invoice) any {
	if inv.PurchaseOrderID == nil {
		return nil
	}
	return string(*inv.PurchaseOrderID)
}

func getInvoice(ctx context.Context, q querier, id engine.InvoiceID) (*engine.Invoice, error) {
	return scanInvoice(q.QueryRow(ctx, "SELECT "+invoiceCols+" FROM invoices WHERE id = $1", string(id)))
}

func createInvoice(ctx context.Context, q querier, inv *engine.Invoice) error {
	if inv.Version == 0 {
		inv.Version = 1
	}
	_, err := q.Exec(ctx, `INSERT INTO invoices
		(id, job_id, vendor_id, purchase_order_id, invoice_number, amount, status, billed_amount,
		 paid_amount, version, approved_at, approved_by, denied_at, denied_by, denial_reason,
		 closed_at, closed_by, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		string(inv.ID), string(inv.JobID), string(inv.VendorID), invoicePOID(inv),
		inv.InvoiceNumber, inv.Amount.String(), string(inv.Status),
		inv.BilledAmount.String(), inv.PaidAmount.String(), inv.Version,
		inv.ApprovedAt, inv.ApprovedBy, inv.DeniedAt, inv.DeniedBy, inv.DenialReason,
		inv.ClosedAt, inv.ClosedBy, inv.CreatedAt, inv.UpdatedAt, inv.DeletedAt)
	return wrapDB(err)
}

func updateInvoice(ctx context.Context, q querier, inv *engine.Invoice, expectedVersion int64) error {
	tag, err := q.Exec(ctx, `UPDATE invoices SET
		job_id = $1, vendor_id = $2, purchase_order_id = $3, invoice_number = $4, amount = $5,
		status = $6, billed_amount = $7, paid_amount = $8, version = version + 1,
		approved_at = $9, approved_by = $10, denied_at = $11, denied_by = $12, denial_reason = $13,
		closed_at = $14, closed_by = $15, updated_at = $16, deleted_at = $17
		WHERE id = $18 AND version = $19`,
		string(inv.JobID), string(inv.VendorID), invoicePOID(inv), inv.InvoiceNumber,
		inv.Amount.String(), string(inv.Status), inv.BilledAmount.String(), inv.PaidAmount.String(),
		inv.ApprovedAt, inv.ApprovedBy, inv.DeniedAt, inv.DeniedBy, inv.DenialReason,
		inv.ClosedAt, inv.ClosedBy, inv.UpdatedAt, inv.DeletedAt, string(inv.ID), expectedVersion)
	if err != nil {
		return wrapDB(err)
	}
	if err := checkVersioned(ctx, q, tag, "invoices", string(inv.ID)); err != nil {
		return err
	}
	inv.Version = expectedVersion + 1
	return nil
}

func listInvoicesByJob(ctx context.Context, q querier, jobID engine.JobID) ([]engine.Invoice, error) {
	rows, err := q.Query(ctx, "SELECT "+invoiceCols+
		" FROM invoices WHERE job_id = $1 AND deleted_at IS NULL ORDER BY created_at, id", string(jobID))
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var out []engine.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, wrapDB(rows.Err())
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func listAllocations(ctx context.Context, q querier, invoiceID engine.InvoiceID) ([]engine.Allocation, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, cost_code_id, po_line_item_id, amount::text, created_at
		FROM allocations WHERE invoice_id = $1 ORDER BY created_at, id`, string(invoiceID))
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var out []engine.Allocation
	for rows.Next() {
		var (
			a      engine.Allocation
			liID   *string
			amount string
		)
		if err := rows.Scan(&a.ID, &a.InvoiceID, &a.CostCodeID, &liID, &amount, &a.CreatedAt); err != nil {
			return nil, wrapDB(err)
		}
		if liID != nil {
			id := engine.POLineItemID(*liID)
			a.POLineItemID = &id
		}
		a.Amount = parseDec(amount)
		out = append(out, a)
	}
	return out, wrapDB(rows.Err())
}

func replaceAllocations(ctx context.Context, q querier, invoiceID engine.InvoiceID, allocations []engine.Allocation) error {
	if _, err := q.Exec(ctx, "DELETE FROM allocations WHERE invoice_id = $1", string(invoiceID)); err != nil {
		return wrapDB(err)
	}
	for _, a := range allocations {
		if _, err := q.Exec(ctx, `INSERT INTO allocations
			(id, invoice_id, cost_code_id, po_line_item_id, amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(a.ID), string(invoiceID), string(a.CostCodeID), poLineItemID(a.POLineItemID),
			a.Amount.String(), a.CreatedAt); err != nil {
			return wrapDB(err)
		}
	}
	return nil
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

func getPurchaseOrder(ctx context.Context, q querier, id engine.PurchaseOrderID) (*engine.PurchaseOrder, error) {
	var po engine.PurchaseOrder
	err := q.QueryRow(ctx, `SELECT id, job_id, vendor_id, number, status, version, created_at, updated_at
		FROM purchase_orders WHERE id = $1`, string(id)).
		Scan(&po.ID, &po.JobID, &po.VendorID, &po.Number, &po.Status, &po.Version, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return nil, wrapDB(err)
	}
	return &po, nil
}

func createPurchaseOrder(ctx context.Context, q querier, po *engine.PurchaseOrder) error {
	if po.Version == 0 {
		po.Version = 1
	}
	_, err := q.Exec(ctx, `INSERT INTO purchase_orders
		(id, job_id, vendor_id, number, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(po.ID), string(po.JobID), string(po.VendorID), po.Number, string(po.Status),
		po.Version, po.CreatedAt, po.UpdatedAt)
	return wrapDB(err)
}

func getPOLineItem(ctx context.Context, q querier, id engine.POLineItemID) (*engine.POLineItem, error) {
	var (
		li               engine.POLineItem
		amount, invoiced string
	)
	err := q.QueryRow(ctx, `SELECT id, purchase_order_id, cost_code_id, description, amount::text, invoiced_amount::text, version
		FROM po_line_items WHERE id = $1`, string(id)).
		Scan(&li.ID, &li.PurchaseOrderID, &li.CostCodeID, &li.Description, &amount, &invoiced, &li.Version)
	if err != nil {
		return nil, wrapDB(err)
	}
	li.Amount = parseDec(amount)
	li.InvoicedAmount = parseDec(invoiced)
	return &li, nil
}

func createPOLineItem(ctx context.Context, q querier, li *engine.POLineItem) error {
	if li.Version == 0 {
		li.Version = 1
	}
	_, err := q.Exec(ctx, `INSERT INTO po_line_items
		(id, purchase_order_id, cost_code_id, description, amount, invoiced_amount, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(li.ID), string(li.PurchaseOrderID), string(li.CostCodeID), li.Description,
		li.Amount.String(), li.InvoicedAmount.String(), li.Version)
	return wrapDB(err)
}

func updatePOLineItem(ctx context.Context, q querier, li *engine.POLineItem, expectedVersion int64) error {
	tag, err := q.Exec(ctx, `UPDATE po_line_items SET
		cost_code_id = $1, description = $2, amount = $3, invoiced_amount = $4, version = version + 1
		WHERE id = $5 AND version = $6`,
		string(li.CostCodeID), li.Description, li.Amount.String(), li.InvoicedAmount.String(),
		string(li.ID), expectedVersion)
	if err != nil {
		return wrapDB(err)
	}
	if err := checkVersioned(ctx, q, tag, "po_line_items", string(li.ID)); err != nil {
		return err
	}
	li.Version = expectedVersion + 1
	return nil
}

func listPOLineItems(ctx context.Context, q querier, poID engine.PurchaseOrderID) ([]engine.POLineItem, error) {
	rows, err := q.Query(ctx, `SELECT id, purchase_order_id, cost_code_id, description, amount::text, invoiced_amount::text, version
		FROM po_line_items WHERE purchase_order_id = $1 ORDER BY id`, string(poID))
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var out []engine.POLineItem
	for rows.Next() {
		var (
			li               engine.POLineItem
			amount, invoiced string
		)
		if err := rows.Scan(&li.ID, &li.PurchaseOrderID, &li.CostCodeID, &li.Description,
			&amount, &invoiced, &li.Version); err != nil {
			return nil, wrapDB(err)
		}
		li.Amount = parseDec(amount)
		li.InvoicedAmount = parseDec(invoiced)
		out = append(out, li)
	}
	return out, wrapDB(rows.Err())
}

// =============================================================================
// BUDGET LINES
// =============================================================================

const budgetCols = `id, job_id, cost_code_id, budgeted_amount::text, committed_amount::text,
	billed_amount::text, paid_amount::text, version, created_at, updated_at`

func scanBudgetLine(row pgx.Row) (*engine.BudgetLine, error) {
	var (
		bl                                engine.BudgetLine
		budgeted, committed, billed, paid string
	)
	err := row.Scan(&bl.ID, &bl.JobID, &bl.CostCodeID, &budgeted, &committed, &billed, &paid,
		&bl.Version, &bl.CreatedAt, &bl.UpdatedAt)
	if err != nil {
		return nil, wrapDB(err)
	}
	bl.BudgetedAmount = parseDec(budgeted)
	bl.CommittedAmount = parseDec(committed)
	bl.BilledAmount = parseDec(billed)
	bl.PaidAmount = parseDec(paid)
	return &bl, nil
}

func getBudgetLine(ctx context.Context, q querier, jobID engine.JobID, costCodeID engine.CostCodeID) (*engine.BudgetLine, error) {
	return scanBudgetLine(q.QueryRow(ctx, "SELECT "+budgetCols+
		" FROM budget_lines WHERE job_id = $1 AND cost_code_id = $2", string(jobID), string(costCodeID)))
}

func upsertBudgetLine(ctx context.Context, q querier, line *engine.BudgetLine) error {
	if line.ID == "" {
		line.ID = engine.BudgetLineID(string(line.JobID) + ":" + string(line.CostCodeID))
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = line.UpdatedAt
	}
	_, err := q.Exec(ctx, `INSERT INTO budget_lines
		(id, job_id, cost_code_id, budgeted_amount, committed_amount, billed_amount, paid_amount, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
		ON CONFLICT (job_id, cost_code_id) DO UPDATE SET
			budgeted_amount = EXCLUDED.budgeted_amount,
			committed_amount = EXCLUDED.committed_amount,
			billed_amount = EXCLUDED.billed_amount,
			paid_amount = EXCLUDED.paid_amount,
			version = budget_lines.version + 1,
			updated_at = EXCLUDED.updated_at`,
		string(line.ID), string(line.JobID), string(line.CostCodeID),
		line.BudgetedAmount.String(), line.CommittedAmount.String(),
		line.BilledAmount.String(), line.PaidAmount.String(),
		line.CreatedAt, line.UpdatedAt)
	return wrapDB(err)
}

func listBudgetLines(ctx context.Context, q querier, jobID engine.JobID) ([]engine.BudgetLine, error) {
	rows, err := q.Query(ctx, "SELECT "+budgetCols+
		" FROM budget_lines WHERE job_id = $1 ORDER BY cost_code_id", string(jobID))
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var out []engine.BudgetLine
	for rows.Next() {
		bl, err := scanBudgetLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bl)
	}
	return out, wrapDB(rows.Err())
}

// =============================================================================
// DRAWS
// =============================================================================

const drawCols = `id, job_id, number, status, period_start, period_end, total_amount::text,
	funded_amount::text, funding_difference::text, version, submitted_at, funded_at, funded_by, created_at, updated_at`

func scanDraw(row pgx.Row) (*engine.Draw, error) {
	var (
		d                   engine.Draw
		total, funded, diff string
	)
	err := row.Scan(&d.ID, &d.JobID, &d.Number, &d.Status, &d.PeriodStart, &d.PeriodEnd,
		&total, &funded, &diff, &d.Version, &d.SubmittedAt, &d.FundedAt, &d.FundedBy,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, wrapDB(err)
	}
	d.TotalAmount = parseDec(total)
	d.FundedAmount = parseDec(funded)
	d.FundingDifference = parseDec(diff)
	return &d, nil
}

func getDraw(ctx context.Context, q querier, id engine.DrawID) (*engine.Draw, error) {
	return scanDraw(q.QueryRow(ctx, "SELECT "+drawCols+" FROM draws WHERE id = $1", string(id)))
}

func createDraw(ctx context.Context, q querier, d *engine.Draw) error {
	if d.Version == 0 {
		d.Version = 1
	}
	_, err := q.Exec(ctx, `INSERT INTO draws
		(id, job_id, number, status, period_start, period_end, total_amount, funded_amount,
		 funding_difference, version, submitted_at, funded_at, funded_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		string(d.ID), string(d.JobID), d.Number, string(d.Status),
		d.PeriodStart, d.PeriodEnd, d.TotalAmount.String(),
		d.FundedAmount.String(), d.FundingDifference.String(), d.Version,
		d.SubmittedAt, d.FundedAt, d.FundedBy, d.CreatedAt, d.UpdatedAt)
	return wrapDB(err)
}

func updateDraw(ctx context.Context, q querier, d *engine.Draw, expectedVersion int64) error {
	tag, err := q.Exec(ctx, `UPDATE draws SET
		status = $1, period_start = $2, period_end = $3, total_amount = $4, funded_amount = $5,
		funding_difference = $6, version = version + 1, submitted_at = $7, funded_at = $8,
		funded_by = $9, updated_at = $10
		WHERE id = $11 AND version = $12`,
		string(d.Status), d.PeriodStart, d.PeriodEnd,
		d.TotalAmount.String(), d.FundedAmount.String(), d.FundingDifference.String(),
		d.SubmittedAt, d.FundedAt, d.FundedBy, d.UpdatedAt,
		string(d.ID), expectedVersion)
	if err != nil {
		return wrapDB(err)
	}
	if err := checkVersioned(ctx, q, tag, "draws", string(d.ID)); err != nil {
		return err
	}
	d.Version = expectedVersion + 1
	return nil
}

func listDrawsByJob(ctx context.Context, q querier, jobID engine.JobID) ([]engine.Draw, error) {
	rows, err := q.Query(ctx, "SELECT "+drawCols+" FROM draws WHERE job_id = $1 ORDER BY number", string(jobID))
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var out []engine.Draw
	for rows.Next() {
		d, err := scanDraw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, wrapDB(rows.Err())
}

// =============================================================================
// DRAW ALLOCATIONS
// =============================================================================

func scanDrawAllocations(rows pgx.Rows) ([]engine.DrawAllocation, error) {
	defer rows.Close()
	var out []engine.DrawAllocation
	for rows.Next() {
		var (
			da     engine.DrawAllocation
			liID   *string
			amount string
		)
		if err := rows.Scan(&da.ID, &da.DrawID, &da.InvoiceID, &da.CostCodeID, &liID, &amount, &da.CreatedAt); err != nil {
			return nil, wrapDB(err)
		}
		if liID != nil {
			id := engine.POLineItemID(*liID)
			da.POLineItemID = &id
		}
		da.Amount = parseDec(amount)
		out = append(out, da)
	}
	return out, wrapDB(rows.Err())
}

func listDrawAllocations(ctx context.Context, q querier, drawID engine.DrawID) ([]engine.DrawAllocation, error) {
	rows, err := q.Query(ctx, `SELECT id, draw_id, invoice_id, cost_code_id, po_line_item_id, amount::text, created_at
		FROM draw_allocations WHERE draw_id = $1 ORDER BY created_at, id`, string(drawID))
	if err != nil {
		return nil, wrapDB(err)
	}
	return scanDrawAllocations(rows)
}

func listDrawAllocationsByInvoice(ctx context.Context, q querier, invoiceID engine.InvoiceID) ([]engine.DrawAllocation, error) {
	rows, err := q.Query(ctx, `SELECT id, draw_id, invoice_id, cost_code_id, po_line_item_id, amount::text, created_at
		FROM draw_allocations WHERE invoice_id = $1 ORDER BY created_at, id`, string(invoiceID))
	if err != nil {
		return nil, wrapDB(err)
	}
	return scanDrawAllocations(rows)
}

func addDrawAllocations(ctx context.Context, q querier, allocations []engine.DrawAllocation) error {
	for _, da := range allocations {
		if _, err := q.Exec(ctx, `INSERT INTO draw_allocations
			(id, draw_id, invoice_id, cost_code_id, po_line_item_id, amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			string(da.ID), string(da.DrawID), string(da.InvoiceID), string(da.CostCodeID),
			poLineItemID(da.POLineItemID), da.Amount.String(), da.CreatedAt); err != nil {
			return wrapDB(err)
		}
	}
	return nil
}

func updateDrawAllocation(ctx context.Context, q querier, da engine.DrawAllocation) error {
	tag, err := q.Exec(ctx, "UPDATE draw_allocations SET amount = $1 WHERE id = $2",
		da.Amount.String(), string(da.ID))
	if err != nil {
		return wrapDB(err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func deleteDrawAllocations(ctx context.Context, q querier, drawID engine.DrawID, invoiceID engine.InvoiceID) error {
	_, err := q.Exec(ctx, "DELETE FROM draw_allocations WHERE draw_id = $1 AND invoice_id = $2",
		string(drawID), string(invoiceID))
	return wrapDB(err)
}

// =============================================================================
// CHANGE ORDERS
// =============================================================================

func getChangeOrder(ctx context.Context, q querier, id engine.ChangeOrderID) (*engine.ChangeOrder, error) {
	var (
		co     engine.ChangeOrder
		amount string
	)
	err := q.QueryRow(ctx, `SELECT id, job_id, number, amount::text, status, version, created_at
		FROM change_orders WHERE id = $1`, string(id)).
		Scan(&co.ID, &co.JobID, &co.Number, &amount, &co.Status, &co.Version, &co.CreatedAt)
	if err != nil {
		return nil, wrapDB(err)
	}
	co.Amount = parseDec(amount)
	return &co, nil
}

func createChangeOrder(ctx context.Context, q querier, co *engine.ChangeOrder) error {
	if co.Version == 0 {
		co.Version = 1
	}
	_, err := q.Exec(ctx, `INSERT INTO change_orders (id, job_id, number, amount, status, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(co.ID), string(co.JobID), co.Number, co.Amount.String(), string(co.Status),
		co.Version, co.CreatedAt)
	return wrapDB(err)
}

func listChangeOrderBillings(ctx context.Context, q querier, drawID engine.DrawID) ([]engine.ChangeOrderBilling, error) {
	rows, err := q.Query(ctx, `SELECT id, draw_id, change_order_id, amount::text, created_at
		FROM change_order_billings WHERE draw_id = $1 ORDER BY created_at, id`, string(drawID))
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var out []engine.ChangeOrderBilling
	for rows.Next() {
		var (
			cb     engine.ChangeOrderBilling
			amount string
		)
		if err := rows.Scan(&cb.ID, &cb.DrawID, &cb.ChangeOrderID, &amount, &cb.CreatedAt); err != nil {
			return nil, wrapDB(err)
		}
		cb.Amount = parseDec(amount)
		out = append(out, cb)
	}
	return out, wrapDB(rows.Err())
}

func addChangeOrderBilling(ctx context.Context, q querier, billing engine.ChangeOrderBilling) error {
	_, err := q.Exec(ctx, `INSERT INTO change_order_billings (id, draw_id, change_order_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(billing.ID), string(billing.DrawID), string(billing.ChangeOrderID),
		billing.Amount.String(), billing.CreatedAt)
	return wrapDB(err)
}

func deleteChangeOrderBilling(ctx context.Context, q querier, drawID engine.DrawID, changeOrderID engine.ChangeOrderID) error {
	tag, err := q.Exec(ctx, "DELETE FROM change_order_billings WHERE draw_id = $1 AND change_order_id = $2",
		string(drawID), string(changeOrderID))
	if err != nil {
		return wrapDB(err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func replaceChangeOrderBillings(ctx context.Context, q querier, drawID engine.DrawID, billings []engine.ChangeOrderBilling) error {
	if _, err := q.Exec(ctx, "DELETE FROM change_order_billings WHERE draw_id = $1", string(drawID)); err != nil {
		return wrapDB(err)
	}
	for _, b := range billings {
		if err := addChangeOrderBilling(ctx, q, b); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// engine.Store PLUMBING
// =============================================================================

func (s *Store) GetInvoice(ctx context.Context, id engine.InvoiceID) (*engine.Invoice, error) {
	return getInvoice(ctx, s.pool, id)
}
func (s *Store) CreateInvoice(ctx context.Context, inv *engine.Invoice) error {
	return createInvoice(ctx, s.pool, inv)
}
func (s *Store) UpdateInvoice(ctx context.Context, inv *engine.Invoice, expectedVersion int64) error {
	return updateInvoice(ctx, s.pool, inv, expectedVersion)
}
func (s *Store) ListInvoicesByJob(ctx context.Context, jobID engine.JobID) ([]engine.Invoice, error) {
	return listInvoicesByJob(ctx, s.pool, jobID)
}
func (s *Store) ListAllocations(ctx context.Context, invoiceID engine.InvoiceID) ([]engine.Allocation, error) {
	return listAllocations(ctx, s.pool, invoiceID)
}
func (s *Store) ReplaceAllocations(ctx context.Context, invoiceID engine.InvoiceID, allocations []engine.Allocation) error {
	return replaceAllocations(ctx, s.pool, invoiceID, allocations)
}
func (s *Store) GetPurchaseOrder(ctx context.Context, id engine.PurchaseOrderID) (*engine.PurchaseOrder, error) {
	return getPurchaseOrder(ctx, s.pool, id)
}
func (s *Store) CreatePurchaseOrder(ctx context.Context, po *engine.PurchaseOrder) error {
	return createPurchaseOrder(ctx, s.pool, po)
}
func (s *Store) GetPOLineItem(ctx context.Context, id engine.POLineItemID) (*engine.POLineItem, error) {
	return getPOLineItem(ctx, s.pool, id)
}
func (s *Store) CreatePOLineItem(ctx context.Context, li *engine.POLineItem) error {
	return createPOLineItem(ctx, s.pool, li)
}
func (s *Store) UpdatePOLineItem(ctx context.Context, li *engine.POLineItem, expectedVersion int64) error {
	return updatePOLineItem(ctx, s.pool, li, expectedVersion)
}
func (s *Store) ListPOLineItems(ctx context.Context, poID engine.PurchaseOrderID) ([]engine.POLineItem, error) {
	return listPOLineItems(ctx, s.pool, poID)
}
func (s *Store) GetBudgetLine(ctx context.Context, jobID engine.JobID, costCodeID engine.CostCodeID) (*engine.BudgetLine, error) {
	return getBudgetLine(ctx, s.pool, jobID, costCodeID)
}
func (s *Store) UpsertBudgetLine(ctx context.Context, line *engine.BudgetLine) error {
	return upsertBudgetLine(ctx, s.pool, line)
}
func (s *Store) ListBudgetLines(ctx context.Context, jobID engine.JobID) ([]engine.BudgetLine, error) {
	return listBudgetLines(ctx, s.pool, jobID)
}
func (s *Store) GetDraw(ctx context.Context, id engine.DrawID) (*engine.Draw, error) {
	return getDraw(ctx, s.pool, id)
}
func (s *Store) CreateDraw(ctx context.Context, d *engine.Draw) error {
	return createDraw(ctx, s.pool, d)
}
func (s *Store) UpdateDraw(ctx context.Context, d *engine.Draw, expectedVersion int64) error {
	return updateDraw(ctx, s.pool, d, expectedVersion)
}
func (s *Store) ListDrawsByJob(ctx context.Context, jobID engine.JobID) ([]engine.Draw, error) {
	return listDrawsByJob(ctx, s.pool, jobID)
}
func (s *Store) ListDrawAllocations(ctx context.Context, drawID engine.DrawID) ([]engine.DrawAllocation, error) {
	return listDrawAllocations(ctx, s.pool, drawID)
}
func (s *Store) ListDrawAllocationsByInvoice(ctx context.Context, invoiceID engine.InvoiceID) ([]engine.DrawAllocation, error) {
	return listDrawAllocationsByInvoice(ctx, s.pool, invoiceID)
}
func (s *Store) AddDrawAllocations(ctx context.Context, allocations []engine.DrawAllocation) error {
	return addDrawAllocations(ctx, s.pool, allocations)
}
func (s *Store) UpdateDrawAllocation(ctx context.Context, allocation engine.DrawAllocation) error {
	return updateDrawAllocation(ctx, s.pool, allocation)
}
func (s *Store) DeleteDrawAllocations(ctx context.Context, drawID engine.DrawID, invoiceID engine.InvoiceID) error {
	return deleteDrawAllocations(ctx, s.pool, drawID, invoiceID)
}
func (s *Store) GetChangeOrder(ctx context.Context, id engine.ChangeOrderID) (*engine.ChangeOrder, error) {
	return getChangeOrder(ctx, s.pool, id)
}
func (s *Store) CreateChangeOrder(ctx context.Context, co *engine.ChangeOrder) error {
	return createChangeOrder(ctx, s.pool, co)
}
func (s *Store) ListChangeOrderBillings(ctx context.Context, drawID engine.DrawID) ([]engine.ChangeOrderBilling, error) {
	return listChangeOrderBillings(ctx, s.pool, drawID)
}
func (s *Store) AddChangeOrderBilling(ctx context.Context, billing engine.ChangeOrderBilling) error {
	return addChangeOrderBilling(ctx, s.pool, billing)
}
func (s *Store) DeleteChangeOrderBilling(ctx context.Context, drawID engine.DrawID, changeOrderID engine.ChangeOrderID) error {
	return deleteChangeOrderBilling(ctx, s.pool, drawID, changeOrderID)
}
func (s *Store) ReplaceChangeOrderBillings(ctx context.Context, drawID engine.DrawID, billings []engine.ChangeOrderBilling) error {
	return replaceChangeOrderBillings(ctx, s.pool, drawID, billings)
}

// WithTx runs fn inside a single database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapDB(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapDB(err)
	}
	return nil
}

// txStore is the transactional view handed to WithTx callbacks.
type txStore struct {
	tx pgx.Tx
}

// Nested WithTx calls run in the enclosing transaction.
func (t *txStore) WithTx(_ context.Context, fn func(engine.Store) error) error {
	return fn(t)
}

func (t *txStore) GetInvoice(ctx context.Context, id engine.InvoiceID) (*engine.Invoice, error) {
	return getInvoice(ctx, t.tx, id)
}
func (t *txStore) CreateInvoice(ctx context.Context, inv *engine.Invoice) error {
	return createInvoice(ctx, t.tx, inv)
}
func (t *txStore) UpdateInvoice(ctx context.Context, inv *engine.Invoice, expectedVersion int64) error {
	return updateInvoice(ctx, t.tx, inv, expectedVersion)
}
func (t *txStore) ListInvoicesByJob(ctx context.Context, jobID engine.JobID) ([]engine.Invoice, error) {
	return listInvoicesByJob(ctx, t.tx, jobID)
}
func (t *txStore) ListAllocations(ctx context.Context, invoiceID engine.InvoiceID) ([]engine.Allocation, error) {
	return listAllocations(ctx, t.tx, invoiceID)
}
func (t *txStore) ReplaceAllocations(ctx context.Context, invoiceID engine.InvoiceID, allocations []engine.Allocation) error {
	return replaceAllocations(ctx, t.tx, invoiceID, allocations)
}
func (t *txStore) GetPurchaseOrder(ctx context.Context, id engine.PurchaseOrderID) (*engine.PurchaseOrder, error) {
	return getPurchaseOrder(ctx, t.tx, id)
}
func (t *txStore) CreatePurchaseOrder(ctx context.Context, po *engine.PurchaseOrder) error {
	return createPurchaseOrder(ctx, t.tx, po)
}
func (t *txStore) GetPOLineItem(ctx context.Context, id engine.POLineItemID) (*engine.POLineItem, error) {
	return getPOLineItem(ctx, t.tx, id)
}
func (t *txStore) CreatePOLineItem(ctx context.Context, li *engine.POLineItem) error {
	return createPOLineItem(ctx, t.tx, li)
}
func (t *txStore) UpdatePOLineItem(ctx context.Context, li *engine.POLineItem, expectedVersion int64) error {
	return updatePOLineItem(ctx, t.tx, li, expectedVersion)
}
func (t *txStore) ListPOLineItems(ctx context.Context, poID engine.PurchaseOrderID) ([]engine.POLineItem, error) {
	return listPOLineItems(ctx, t.tx, poID)
}
func (t *txStore) GetBudgetLine(ctx context.Context, jobID engine.JobID, costCodeID engine.CostCodeID) (*engine.BudgetLine, error) {
	return getBudgetLine(ctx, t.tx, jobID, costCodeID)
}
func (t *txStore) UpsertBudgetLine(ctx context.Context, line *engine.BudgetLine) error {
	return upsertBudgetLine(ctx, t.tx, line)
}
func (t *txStore) ListBudgetLines(ctx context.Context, jobID engine.JobID) ([]engine.BudgetLine, error) {
	return listBudgetLines(ctx, t.tx, jobID)
}
func (t *txStore) GetDraw(ctx context.Context, id engine.DrawID) (*engine.Draw, error) {
	return getDraw(ctx, t.tx, id)
}
func (t *txStore) CreateDraw(ctx context.Context, d *engine.Draw) error {
	return createDraw(ctx, t.tx, d)
}
func (t *txStore) UpdateDraw(ctx context.Context, d *engine.Draw, expectedVersion int64) error {
	return updateDraw(ctx, t.tx, d, expectedVersion)
}
func (t *txStore) ListDrawsByJob(ctx context.Context, jobID engine.JobID) ([]engine.Draw, error) {
	return listDrawsByJob(ctx, t.tx, jobID)
}
func (t *txStore) ListDrawAllocations(ctx context.Context, drawID engine.DrawID) ([]engine.DrawAllocation, error) {
	return listDrawAllocations(ctx, t.tx, drawID)
}
func (t *txStore) ListDrawAllocationsByInvoice(ctx context.Context, invoiceID engine.InvoiceID) ([]engine.DrawAllocation, error) {
	return listDrawAllocationsByInvoice(ctx, t.tx, invoiceID)
}
func (t *txStore) AddDrawAllocations(ctx context.Context, allocations []engine.DrawAllocation) error {
	return addDrawAllocations(ctx, t.tx, allocations)
}
func (t *txStore) UpdateDrawAllocation(ctx context.Context, allocation engine.DrawAllocation) error {
	return updateDrawAllocation(ctx, t.tx, allocation)
}
func (t *txStore) DeleteDrawAllocations(ctx context.Context, drawID engine.DrawID, invoiceID engine.InvoiceID) error {
	return deleteDrawAllocations(ctx, t.tx, drawID, invoiceID)
}
func (t *txStore) GetChangeOrder(ctx context.Context, id engine.ChangeOrderID) (*engine.ChangeOrder, error) {
	return getChangeOrder(ctx, t.tx, id)
}
func (t *txStore) CreateChangeOrder(ctx context.Context, co *engine.ChangeOrder) error {
	return createChangeOrder(ctx, t.tx, co)
}
func (t *txStore) ListChangeOrderBillings(ctx context.Context, drawID engine.DrawID) ([]engine.ChangeOrderBilling, error) {
	return listChangeOrderBillings(ctx, t.tx, drawID)
}
func (t *txStore) AddChangeOrderBilling(ctx context.Context, billing engine.ChangeOrderBilling) error {
	return addChangeOrderBilling(ctx, t.tx, billing)
}
func (t *txStore) DeleteChangeOrderBilling(ctx context.Context, drawID engine.DrawID, changeOrderID engine.ChangeOrderID) error {
	return deleteChangeOrderBilling(ctx, t.tx, drawID, changeOrderID)
}
func (t *txStore) ReplaceChangeOrderBillings(ctx context.Context, drawID engine.DrawID, billings []engine.ChangeOrderBilling) error {
	return replaceChangeOrderBillings(ctx, t.tx, drawID, billings)
}
