/*
Package sqlite provides a SQLite-backed implementation of the Ledger Store.

PURPOSE:
  Implements engine.Store using SQLite. Suited to single-node
  deployments and tests (":memory:"); the production Postgres store in
  store/postgres follows the same patterns with pgx.

VERSIONED WRITES:
  Every UPDATE carries "AND version = ?" and bumps the version column in
  the same statement. Zero rows affected means either the row is gone
  (NOT_FOUND) or someone else won the race (VERSION_CONFLICT).

MONEY COLUMNS:
  Amounts are stored as decimal strings, never floats, so rollup totals
  round-trip exactly.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: interface contract
  - store/postgres:  production implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/draw-engine/engine"
)

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		purchase_order_id TEXT,
		invoice_number TEXT,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		billed_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		version INTEGER NOT NULL,
		approved_at TEXT,
		approved_by TEXT NOT NULL DEFAULT '',
		denied_at TEXT,
		denied_by TEXT NOT NULL DEFAULT '',
		denial_reason TEXT NOT NULL DEFAULT '',
		closed_at TEXT,
		closed_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_job ON invoices(job_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		cost_code_id TEXT NOT NULL,
		po_line_item_id TEXT,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_allocations_invoice ON allocations(invoice_id);

	CREATE TABLE IF NOT EXISTS purchase_orders (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		number TEXT,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS po_line_items (
		id TEXT PRIMARY KEY,
		purchase_order_id TEXT NOT NULL,
		cost_code_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		invoiced_amount TEXT NOT NULL,
		version INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_po_line_items_po ON po_line_items(purchase_order_id);

	CREATE TABLE IF NOT EXISTS budget_lines (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		cost_code_id TEXT NOT NULL,
		budgeted_amount TEXT NOT NULL,
		committed_amount TEXT NOT NULL,
		billed_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(job_id, cost_code_id)
	);

	CREATE TABLE IF NOT EXISTS draws (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		status TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		funded_amount TEXT NOT NULL,
		funding_difference TEXT NOT NULL,
		version INTEGER NOT NULL,
		submitted_at TEXT,
		funded_at TEXT,
		funded_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_draws_job ON draws(job_id);

	CREATE TABLE IF NOT EXISTS draw_allocations (
		id TEXT PRIMARY KEY,
		draw_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		cost_code_id TEXT NOT NULL,
		po_line_item_id TEXT,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_draw_allocations_draw ON draw_allocations(draw_id);
	CREATE INDEX IF NOT EXISTS idx_draw_allocations_invoice ON draw_allocations(invoice_id);

	CREATE TABLE IF NOT EXISTS change_orders (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		number TEXT,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS change_order_billings (
		id TEXT PRIMARY KEY,
		draw_id TEXT NOT NULL,
		change_order_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_co_billings_draw ON change_order_billings(draw_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SCAN/FORMAT HELPERS
// =============================================================================

// dbtx abstracts *sql.DB and *sql.Tx so every operation can run inside
// or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
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

func wrapDB(err error) error {
	if err == nil || errors.Is(err, engine.ErrNotFound) || errors.Is(err, engine.ErrVersionConflict) {
		return err
	}
	return fmt.Errorf("%w: %v", engine.ErrDatabaseError, err)
}

// checkVersioned interprets a zero-rows-affected UPDATE: the row either
// does not exist or moved past the expected version.
func checkVersioned(ctx context.Context, q dbtx, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDB(err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ErrNotFound
	}
	if err != nil {
		return wrapDB(err)
	}
	return engine.ErrVersionConflict
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceCols = `id, job_id, vendor_id, purchase_order_id, invoice_number, amount, status,
	billed_amount, paid_amount, version, approved_at, approved_by, denied_at, denied_by,
	denial_reason, closed_at, closed_by, created_at, updated_at, deleted_at`

func scanInvoice(row interface{ Scan(...any) error }) (*engine.Invoice, error) {
	var (
		inv                            engine.Invoice
		poID                           sql.NullString
		amount, billed, paid           string
		approvedAt, deniedAt, closedAt sql.NullString
		createdAt, updatedAt           string
		deletedAt                      sql.NullString
	)
	err := row.Scan(&inv.ID, &inv.JobID, &inv.VendorID, &poID, &inv.InvoiceNumber, &amount,
		&inv.Status, &billed, &paid, &inv.Version, &approvedAt, &inv.ApprovedBy, &deniedAt,
		&inv.DeniedBy, &inv.DenialReason, &closedAt, &inv.ClosedBy, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, wrapDB(err)
	}
	if poID.Valid {
		id := engine.PurchaseOrderID(poID.String)
		inv.PurchaseOrderID = &id
	}
	inv.Amount = parseDec(amount)
	inv.BilledAmount = parseDec(billed)
	inv.PaidAmount = parseDec(paid)
	inv.ApprovedAt = parseNullTime(approvedAt)
	inv.DeniedAt = parseNullTime(deniedAt)
	inv.ClosedAt = parseNullTime(closedAt)
	inv.CreatedAt = parseTime(createdAt)
	inv.UpdatedAt = parseTime(updatedAt)
	inv.DeletedAt = parseNullTime(deletedAt)
	return &inv, nil
}

func getInvoice(ctx context.Context, q dbtx, id engine.InvoiceID) (*engine.Invoice, error) {
	row := q.QueryRowContext(ctx, "SELECT "+invoiceCols+" FROM invoices WHERE id = ?", string(id))
	return scanInvoice(row)
}

func invoicePOID(inv *engine.Invoice) any {
	if inv.PurchaseOrderID == nil {
		return nil
	}
	return string(*inv.PurchaseOrderID)
}

func createInvoice(ctx context.Context, q dbtx, inv *engine.Invoice) error {
	if inv.Version == 0 {
		inv.Version = 1
	}
	_, err := q.ExecContext(ctx, `INSERT INTO invoices (`+invoiceCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(inv.ID), string(inv.JobID), string(inv.VendorID), invoicePOID(inv),
		inv.InvoiceNumber, inv.Amount.String(), string(inv.Status),
		inv.BilledAmount.String(), inv.PaidAmount.String(), inv.Version,
		fmtNullTime(inv.ApprovedAt), inv.ApprovedBy, fmtNullTime(inv.DeniedAt), inv.DeniedBy,
		inv.DenialReason, fmtNullTime(inv.ClosedAt), inv.ClosedBy,
		fmtTime(inv.CreatedAt), fmtTime(inv.UpdatedAt), fmtNullTime(inv.DeletedAt))
	return wrapDB(err)
}

func updateInvoice(ctx context.Context, q dbtx, inv *engine.Invoice, expectedVersion int64) error {
	res, err := q.ExecContext(ctx, `UPDATE invoices SET
		job_id = ?, vendor_id = ?, purchase_order_id = ?, invoice_number = ?, amount = ?,
		status = ?, billed_amount = ?, paid_amount = ?, version = version + 1,
		approved_at = ?, approved_by = ?, denied_at = ?, denied_by = ?, denial_reason = ?,
		closed_at = ?, closed_by = ?, updated_at = ?, deleted_at = ?
		WHERE id = ? AND version = ?`,
		string(inv.JobID), string(inv.VendorID), invoicePOID(inv), inv.InvoiceNumber,
		inv.Amount.String(), string(inv.Status), inv.BilledAmount.String(), inv.PaidAmount.String(),
		fmtNullTime(inv.ApprovedAt), inv.ApprovedBy, fmtNullTime(inv.DeniedAt), inv.DeniedBy,
		inv.DenialReason, fmtNullTime(inv.ClosedAt), inv.ClosedBy, fmtTime(inv.UpdatedAt),
		fmtNullTime(inv.DeletedAt), string(inv.ID), expectedVersion)
	if err != nil {
		return wrapDB(err)
	}
	if err := checkVersioned(ctx, q, res, "invoices", string(inv.ID)); err != nil {
		return err
	}
	inv.Version = expectedVersion + 1
	return nil
}

func listInvoicesByJob(ctx context.Context, q dbtx, jobID engine.JobID) ([]engine.Invoice, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+invoiceCols+
		" FROM invoices WHERE job_id = ? AND deleted_at IS NULL ORDER BY created_at, id", string(jobID))
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

func listAllocations(ctx context.Context, q dbtx, invoiceID engine.InvoiceID) ([]engine.Allocation, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, invoice_id, cost_code_id, po_line_item_id, amount, created_at
		FROM allocations WHERE invoice_id = ? ORDER BY created_at, id`, string(invoiceID))
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var out []engine.Allocation
	for rows.Next() {
		var (
			a       engine.Allocation
			liID    sql.NullString
			amount  string
			created string
		)
		if err := rows.Scan(&a.ID, &a.InvoiceID, &a.CostCodeID, &liID, &amount, &created); err != nil {
			return nil, wrapDB(err)
		}
		if liID.Valid {
			id := engine.POLineItemID(liID.String)
			a.POLineItemID = &id
		}
		a.Amount = parseDec(amount)
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, wrapDB(rows.Err())
}

func replaceAllocations(ctx context.Context, q dbtx, invoiceID engine.InvoiceID, allocations []engine.Allocation) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM allocations WHERE invoice_id = ?", string(invoiceID)); err != nil {
		return wrapDB(err)
	}
	for _, a := range allocations {
		var liID any
		if a.POLineItemID != nil {
			liID = string(*a.POLineItemID)
		}
		if _, err := q.ExecContext(ctx, `INSERT INTO allocations
			(id, invoice_id, cost_code_id, po_line_item_id, amount, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			string(a.ID), string(invoiceID), string(a.CostCodeID), liID,
			a.Amount.String(), fmtTime(a.CreatedAt)); err != nil {
			return wrapDB(err)
		}
	}
	return nil
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

func getPurchaseOrder(ctx context.Context, q dbtx, id engine.PurchaseOrderID) (*engine.PurchaseOrder, error) {
	var (
		po                   engine.PurchaseOrder
		createdAt, updatedAt string
	)
	err := q.QueryRowContext(ctx, `SELECT id, job_id, vendor_id, number, status, version, created_at, updated_at
		FROM purchase_orders WHERE id = ?`, string(id)).
		Scan(&po.ID, &po.JobID, &po.VendorID, &po.Number, &po.Status, &po.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, wrapDB(err)
	}
	po.CreatedAt = parseTime(createdAt)
	po.UpdatedAt = parseTime(updatedAt)
	return &po, nil
}

func createPurchaseOrder(ctx context.Context, q dbtx, po *engine.PurchaseOrder) error {
	if po.Version == 0 {
		po.Version = 1
	}
	_, err := q.ExecContext(ctx, `INSERT INTO purchase_orders
		(id, job_id, vendor_id, number, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(po.ID), string(po.JobID), string(po.VendorID), po.Number, string(po.Status),
		po.Version, fmtTime(po.CreatedAt), fmtTime(po.UpdatedAt))
	return wrapDB(err)
}

func getPOLineItem(ctx context.Context, q dbtx, id engine.POLineItemID) (*engine.POLineItem, error) {
	var (
		li               engine.POLineItem
		amount, invoiced string
	)
	err := q.QueryRowContext(ctx, `SELECT id, purchase_order_id, cost_code_id, description, amount, invoiced_amount, version
		FROM po_line_items WHERE id = ?`, string(id)).
		Scan(&li.ID, &li.PurchaseOrderID, &li.CostCodeID, &li.Description, &amount, &invoiced, &li.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, wrapDB(err)
	}
	li.Amount = parseDec(amount)
	li.InvoicedAmount = parseDec(invoiced)
	return &li, nil
}

func createPOLineItem(ctx context.Context, q dbtx, li *engine.POLineItem) error {
	if li.Version == 0 {
		li.Version = 1
	}
	_, err := q.ExecContext(ctx, `INSERT INTO po_line_items
		(id, purchase_order_id, cost_code_id, description, amount, invoiced_amount, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(li.ID), string(li.PurchaseOrderID), string(li.CostCodeID), li.Description,
		li.Amount.String(), li.InvoicedAmount.String(), li.Version)
	return wrapDB(err)
}

func updatePOLineItem(ctx context.Context, q dbtx, li *engine.POLineItem, expectedVersion int64) error {
	res, err := q.ExecContext(ctx, `UPDATE po_line_items SET
		cost_code_id = ?, description = ?, amount = ?, invoiced_amount = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(li.CostCodeID), li.Description, li.Amount.String(), li.InvoicedAmount.String(),
		string(li.ID), expectedVersion)
	if err != nil {
		return wrapDB(err)
	}
	if err := checkVersioned(ctx, q, res, "po_line_items", string(li.ID)); err != nil {
		return err
	}
	li.Version = expectedVersion + 1
	return nil
}

func listPOLineItems(ctx context.Context, q dbtx, poID engine.PurchaseOrderID) ([]engine.POLineItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, purchase_order_id, cost_code_id, description, amount, invoiced_amount, version
		FROM po_line_items WHERE purchase_order_id = ? ORDER BY id`, string(poID))
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

func scanBudgetLine(row interface{ Scan(...any) error }) (*engine.BudgetLine, error) {
	var (
		bl                                engine.BudgetLine
		budgeted, committed, billed, paid string
		createdAt, updatedAt              string
	)
	err := row.Scan(&bl.ID, &bl.JobID, &bl.CostCodeID, &budgeted, &committed, &billed, &paid,
		&bl.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, wrapDB(err)
	}
	bl.BudgetedAmount = parseDec(budgeted)
	bl.CommittedAmount = parseDec(committed)
	bl.BilledAmount = parseDec(billed)
	bl.PaidAmount = parseDec(paid)
	bl.CreatedAt = parseTime(createdAt)
	bl.UpdatedAt = parseTime(updatedAt)
	return &bl, nil
}

const budgetCols = `id, job_id, cost_code_id, budgeted_amount, committed_amount, billed_amount, paid_amount, version, created_at, updated_at`

func getBudgetLine(ctx context.Context, q dbtx, jobID engine.JobID, costCodeID engine.CostCodeID) (*engine.BudgetLine, error) {
	row := q.QueryRowContext(ctx, "SELECT "+budgetCols+
		" FROM budget_lines WHERE job_id = ? AND cost_code_id = ?", string(jobID), string(costCodeID))
	return scanBudgetLine(row)
}

func upsertBudgetLine(ctx context.Context, q dbtx, line *engine.BudgetLine) error {
	if line.ID == "" {
		line.ID = engine.BudgetLineID(string(line.JobID) + ":" + string(line.CostCodeID))
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = line.UpdatedAt
	}
	_, err := q.ExecContext(ctx, `INSERT INTO budget_lines
		(id, job_id, cost_code_id, budgeted_amount, committed_amount, billed_amount, paid_amount, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(job_id, cost_code_id) DO UPDATE SET
			budgeted_amount = excluded.budgeted_amount,
			committed_amount = excluded.committed_amount,
			billed_amount = excluded.billed_amount,
			paid_amount = excluded.paid_amount,
			version = budget_lines.version + 1,
			updated_at = excluded.updated_at`,
		string(line.ID), string(line.JobID), string(line.CostCodeID),
		line.BudgetedAmount.String(), line.CommittedAmount.String(),
		line.BilledAmount.String(), line.PaidAmount.String(),
		fmtTime(line.CreatedAt), fmtTime(line.UpdatedAt))
	return wrapDB(err)
}

func listBudgetLines(ctx context.Context, q dbtx, jobID engine.JobID) ([]engine.BudgetLine, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+budgetCols+
		" FROM budget_lines WHERE job_id = ? ORDER BY cost_code_id", string(jobID))
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

const drawCols = `id, job_id, number, status, period_start, period_end, total_amount,
	funded_amount, funding_difference, version, submitted_at, funded_at, funded_by, created_at, updated_at`

func scanDraw(row interface{ Scan(...any) error }) (*engine.Draw, error) {
	var (
		d                      engine.Draw
		periodStart, periodEnd string
		total, funded, diff    string
		submittedAt, fundedAt  sql.NullString
		createdAt, updatedAt   string
	)
	err := row.Scan(&d.ID, &d.JobID, &d.Number, &d.Status, &periodStart, &periodEnd,
		&total, &funded, &diff, &d.Version, &submittedAt, &fundedAt, &d.FundedBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, wrapDB(err)
	}
	d.PeriodStart = parseTime(periodStart)
	d.PeriodEnd = parseTime(periodEnd)
	d.TotalAmount = parseDec(total)
	d.FundedAmount = parseDec(funded)
	d.FundingDifference = parseDec(diff)
	d.SubmittedAt = parseNullTime(submittedAt)
	d.FundedAt = parseNullTime(fundedAt)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

func getDraw(ctx context.Context, q dbtx, id engine.DrawID) (*engine.Draw, error) {
	row := q.QueryRowContext(ctx, "SELECT "+drawCols+" FROM draws WHERE id = ?", string(id))
	return scanDraw(row)
}

func createDraw(ctx context.Context, q dbtx, d *engine.Draw) error {
	if d.Version == 0 {
		d.Version = 1
	}
	_, err := q.ExecContext(ctx, `INSERT INTO draws (`+drawCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(d.ID), string(d.JobID), d.Number, string(d.Status),
		fmtTime(d.PeriodStart), fmtTime(d.PeriodEnd), d.TotalAmount.String(),
		d.FundedAmount.String(), d.FundingDifference.String(), d.Version,
		fmtNullTime(d.SubmittedAt), fmtNullTime(d.FundedAt), d.FundedBy,
		fmtTime(d.CreatedAt), fmtTime(d.UpdatedAt))
	return wrapDB(err)
}

func updateDraw(ctx context.Context, q dbtx, d *engine.Draw, expectedVersion int64) error {
	res, err := q.ExecContext(ctx, `UPDATE draws SET
		status = ?, period_start = ?, period_end = ?, total_amount = ?, funded_amount = ?,
		funding_difference = ?, version = version + 1, submitted_at = ?, funded_at = ?,
		funded_by = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(d.Status), fmtTime(d.PeriodStart), fmtTime(d.PeriodEnd),
		d.TotalAmount.String(), d.FundedAmount.String(), d.FundingDifference.String(),
		fmtNullTime(d.SubmittedAt), fmtNullTime(d.FundedAt), d.FundedBy, fmtTime(d.UpdatedAt),
		string(d.ID), expectedVersion)
	if err != nil {
		return wrapDB(err)
	}
	if err := checkVersioned(ctx, q, res, "draws", string(d.ID)); err != nil {
		return err
	}
	d.Version = expectedVersion + 1
	return nil
}

func listDrawsByJob(ctx context.Context, q dbtx, jobID engine.JobID) ([]engine.Draw, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+drawCols+" FROM draws WHERE job_id = ? ORDER BY number", string(jobID))
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

func scanDrawAllocations(rows *sql.Rows) ([]engine.DrawAllocation, error) {
	defer rows.Close()
	var out []engine.DrawAllocation
	for rows.Next() {
		var (
			da      engine.DrawAllocation
			liID    sql.NullString
			amount  string
			created string
		)
		if err := rows.Scan(&da.ID, &da.DrawID, &da.InvoiceID, &da.CostCodeID, &liID, &amount, &created); err != nil {
			return nil, wrapDB(err)
		}
		if liID.Valid {
			id := engine.POLineItemID(liID.String)
			da.POLineItemID = &id
		}
		da.Amount = parseDec(amount)
		da.CreatedAt = parseTime(created)
		out = append(out, da)
	}
	return out, wrapDB(rows.Err())
}

func listDrawAllocations(ctx context.Context, q dbtx, drawID engine.DrawID) ([]engine.DrawAllocation, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, draw_id, invoice_id, cost_code_id, po_line_item_id, amount, created_at
		FROM draw_allocations WHERE draw_id = ? ORDER BY created_at, id`, string(drawID))
	if err != nil {
		return nil, wrapDB(err)
	}
	return scanDrawAllocations(rows)
}

func listDrawAllocationsByInvoice(ctx context.Context, q dbtx, invoiceID engine.InvoiceID) ([]engine.DrawAllocation, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, draw_id, invoice_id, cost_code_id, po_line_item_id, amount, created_at
		FROM draw_allocations WHERE invoice_id = ? ORDER BY created_at, id`, string(invoiceID))
	if err != nil {
		return nil, wrapDB(err)
	}
	return scanDrawAllocations(rows)
}

func addDrawAllocations(ctx context.Context, q dbtx, allocations []engine.DrawAllocation) error {
	for _, da := range allocations {
		var liID any
		if da.POLineItemID != nil {
			liID = string(*da.POLineItemID)
		}
		if _, err := q.ExecContext(ctx, `INSERT INTO draw_allocations
			(id, draw_id, invoice_id, cost_code_id, po_line_item_id, amount, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(da.ID), string(da.DrawID), string(da.InvoiceID), string(da.CostCodeID),
			liID, da.Amount.String(), fmtTime(da.CreatedAt)); err != nil {
			return wrapDB(err)
		}
	}
	return nil
}

func updateDrawAllocation(ctx context.Context, q dbtx, da engine.DrawAllocation) error {
	res, err := q.ExecContext(ctx, "UPDATE draw_allocations SET amount = ? WHERE id = ?",
		da.Amount.String(), string(da.ID))
	if err != nil {
		return wrapDB(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDB(err)
	}
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func deleteDrawAllocations(ctx context.Context, q dbtx, drawID engine.DrawID, invoiceID engine.InvoiceID) error {
	_, err := q.ExecContext(ctx, "DELETE FROM draw_allocations WHERE draw_id = ? AND invoice_id = ?",
		string(drawID), string(invoiceID))
	return wrapDB(err)
}

// =============================================================================
// CHANGE ORDERS
// =============================================================================

func getChangeOrder(ctx context.Context, q dbtx, id engine.ChangeOrderID) (*engine.ChangeOrder, error) {
	var (
		co        engine.ChangeOrder
		amount    string
		createdAt string
	)
	err := q.QueryRowContext(ctx, `SELECT id, job_id, number, amount, status, version, created_at
		FROM change_orders WHERE id = ?`, string(id)).
		Scan(&co.ID, &co.JobID, &co.Number, &amount, &co.Status, &co.Version, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, wrapDB(err)
	}
	co.Amount = parseDec(amount)
	co.CreatedAt = parseTime(createdAt)
	return &co, nil
}

func createChangeOrder(ctx context.Context, q dbtx, co *engine.ChangeOrder) error {
	if co.Version == 0 {
		co.Version = 1
	}
	_, err := q.ExecContext(ctx, `INSERT INTO change_orders (id, job_id, number, amount, status, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(co.ID), string(co.JobID), co.Number, co.Amount.String(), string(co.Status),
		co.Version, fmtTime(co.CreatedAt))
	return wrapDB(err)
}

func listChangeOrderBillings(ctx context.Context, q dbtx, drawID engine.DrawID) ([]engine.ChangeOrderBilling, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, draw_id, change_order_id, amount, created_at
		FROM change_order_billings WHERE draw_id = ? ORDER BY created_at, id`, string(drawID))
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var out []engine.ChangeOrderBilling
	for rows.Next() {
		var (
			cb      engine.ChangeOrderBilling
			amount  string
			created string
		)
		if err := rows.Scan(&cb.ID, &cb.DrawID, &cb.ChangeOrderID, &amount, &created); err != nil {
			return nil, wrapDB(err)
		}
		cb.Amount = parseDec(amount)
		cb.CreatedAt = parseTime(created)
		out = append(out, cb)
	}
	return out, wrapDB(rows.Err())
}

func addChangeOrderBilling(ctx context.Context, q dbtx, billing engine.ChangeOrderBilling) error {
	_, err := q.ExecContext(ctx, `INSERT INTO change_order_billings (id, draw_id, change_order_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(billing.ID), string(billing.DrawID), string(billing.ChangeOrderID),
		billing.Amount.String(), fmtTime(billing.CreatedAt))
	return wrapDB(err)
}

func deleteChangeOrderBilling(ctx context.Context, q dbtx, drawID engine.DrawID, changeOrderID engine.ChangeOrderID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM change_order_billings WHERE draw_id = ? AND change_order_id = ?",
		string(drawID), string(changeOrderID))
	if err != nil {
		return wrapDB(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDB(err)
	}
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func replaceChangeOrderBillings(ctx context.Context, q dbtx, drawID engine.DrawID, billings []engine.ChangeOrderBilling) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM change_order_billings WHERE draw_id = ?", string(drawID)); err != nil {
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
	return getInvoice(ctx, s.db, id)
}
func (s *Store) CreateInvoice(ctx context.Context, inv *engine.Invoice) error {
	return createInvoice(ctx, s.db, inv)
}
func (s *Store) UpdateInvoice(ctx context.Context, inv *engine.Invoice, expectedVersion int64) error {
	return updateInvoice(ctx, s.db, inv, expectedVersion)
}
func (s *Store) ListInvoicesByJob(ctx context.Context, jobID engine.JobID) ([]engine.Invoice, error) {
	return listInvoicesByJob(ctx, s.db, jobID)
}
func (s *Store) ListAllocations(ctx context.Context, invoiceID engine.InvoiceID) ([]engine.Allocation, error) {
	return listAllocations(ctx, s.db, invoiceID)
}
func (s *Store) ReplaceAllocations(ctx context.Context, invoiceID engine.InvoiceID, allocations []engine.Allocation) error {
	return replaceAllocations(ctx, s.db, invoiceID, allocations)
}
func (s *Store) GetPurchaseOrder(ctx context.Context, id engine.PurchaseOrderID) (*engine.PurchaseOrder, error) {
	return getPurchaseOrder(ctx, s.db, id)
}
func (s *Store) CreatePurchaseOrder(ctx context.Context, po *engine.PurchaseOrder) error {
	return createPurchaseOrder(ctx, s.db, po)
}
func (s *Store) GetPOLineItem(ctx context.Context, id engine.POLineItemID) (*engine.POLineItem, error) {
	return getPOLineItem(ctx, s.db, id)
}
func (s *Store) CreatePOLineItem(ctx context.Context, li *engine.POLineItem) error {
	return createPOLineItem(ctx, s.db, li)
}
func (s *Store) UpdatePOLineItem(ctx context.Context, li *engine.POLineItem, expectedVersion int64) error {
	return updatePOLineItem(ctx, s.db, li, expectedVersion)
}
func (s *Store) ListPOLineItems(ctx context.Context, poID engine.PurchaseOrderID) ([]engine.POLineItem, error) {
	return listPOLineItems(ctx, s.db, poID)
}
func (s *Store) GetBudgetLine(ctx context.Context, jobID engine.JobID, costCodeID engine.CostCodeID) (*engine.BudgetLine, error) {
	return getBudgetLine(ctx, s.db, jobID, costCodeID)
}
func (s *Store) UpsertBudgetLine(ctx context.Context, line *engine.BudgetLine) error {
	return upsertBudgetLine(ctx, s.db, line)
}
func (s *Store) ListBudgetLines(ctx context.Context, jobID engine.JobID) ([]engine.BudgetLine, error) {
	return listBudgetLines(ctx, s.db, jobID)
}
func (s *Store) GetDraw(ctx context.Context, id engine.DrawID) (*engine.Draw, error) {
	return getDraw(ctx, s.db, id)
}
func (s *Store) CreateDraw(ctx context.Context, d *engine.Draw) error {
	return createDraw(ctx, s.db, d)
}
func (s *Store) UpdateDraw(ctx context.Context, d *engine.Draw, expectedVersion int64) error {
	return updateDraw(ctx, s.db, d, expectedVersion)
}
func (s *Store) ListDrawsByJob(ctx context.Context, jobID engine.JobID) ([]engine.Draw, error) {
	return listDrawsByJob(ctx, s.db, jobID)
}
func (s *Store) ListDrawAllocations(ctx context.Context, drawID engine.DrawID) ([]engine.DrawAllocation, error) {
	return listDrawAllocations(ctx, s.db, drawID)
}
func (s *Store) ListDrawAllocationsByInvoice(ctx context.Context, invoiceID engine.InvoiceID) ([]engine.DrawAllocation, error) {
	return listDrawAllocationsByInvoice(ctx, s.db, invoiceID)
}
func (s *Store) AddDrawAllocations(ctx context.Context, allocations []engine.DrawAllocation) error {
	return addDrawAllocations(ctx, s.db, allocations)
}
func (s *Store) UpdateDrawAllocation(ctx context.Context, allocation engine.DrawAllocation) error {
	return updateDrawAllocation(ctx, s.db, allocation)
}
func (s *Store) DeleteDrawAllocations(ctx context.Context, drawID engine.DrawID, invoiceID engine.InvoiceID) error {
	return deleteDrawAllocations(ctx, s.db, drawID, invoiceID)
}
func (s *Store) GetChangeOrder(ctx context.Context, id engine.ChangeOrderID) (*engine.ChangeOrder, error) {
	return getChangeOrder(ctx, s.db, id)
}
func (s *Store) CreateChangeOrder(ctx context.Context, co *engine.ChangeOrder) error {
	return createChangeOrder(ctx, s.db, co)
}
func (s *Store) ListChangeOrderBillings(ctx context.Context, drawID engine.DrawID) ([]engine.ChangeOrderBilling, error) {
	return listChangeOrderBillings(ctx, s.db, drawID)
}
func (s *Store) AddChangeOrderBilling(ctx context.Context, billing engine.ChangeOrderBilling) error {
	return addChangeOrderBilling(ctx, s.db, billing)
}
func (s *Store) DeleteChangeOrderBilling(ctx context.Context, drawID engine.DrawID, changeOrderID engine.ChangeOrderID) error {
	return deleteChangeOrderBilling(ctx, s.db, drawID, changeOrderID)
}
func (s *Store) ReplaceChangeOrderBillings(ctx context.Context, drawID engine.DrawID, billings []engine.ChangeOrderBilling) error {
	return replaceChangeOrderBillings(ctx, s.db, drawID, billings)
}

// WithTx runs fn inside a single SQLite transaction. SQLite allows one
// writer at a time; the store serializes its own write transactions so
// a busy database surfaces as latency rather than SQLITE_BUSY.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB(err)
	}
	if err := fn(&txStore{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapDB(err)
	}
	return nil
}

// txStore is the transactional view handed to WithTx callbacks.
type txStore struct {
	tx *sql.Tx
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

// Reset clears every table. Dev/demo only.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"invoices", "allocations", "purchase_orders", "po_line_items",
		"budget_lines", "draws", "draw_allocations", "change_orders", "change_order_billings",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return wrapDB(err)
		}
	}
	return nil
}
