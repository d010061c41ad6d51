// Package store provides an in-memory Ledger Store for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ledgerline/draw-engine/engine"
)

// =============================================================================
// MEMORY STORE - in-memory implementation (for testing/dev)
// =============================================================================

type budgetKey struct {
	JobID      engine.JobID
	CostCodeID engine.CostCodeID
}

// dataset holds every table. WithTx clones the whole dataset and swaps
// it back on error, which gives true all-or-nothing semantics at
// in-memory scale.
type dataset struct {
	invoices        map[engine.InvoiceID]engine.Invoice
	allocations     map[engine.InvoiceID][]engine.Allocation
	purchaseOrders  map[engine.PurchaseOrderID]engine.PurchaseOrder
	poLineItems     map[engine.POLineItemID]engine.POLineItem
	budgetLines     map[budgetKey]engine.BudgetLine
	draws           map[engine.DrawID]engine.Draw
	drawAllocations map[engine.DrawID][]engine.DrawAllocation
	changeOrders    map[engine.ChangeOrderID]engine.ChangeOrder
	coBillings      map[engine.DrawID][]engine.ChangeOrderBilling
}

func newDataset() *dataset {
	return &dataset{
		invoices:        make(map[engine.InvoiceID]engine.Invoice),
		allocations:     make(map[engine.InvoiceID][]engine.Allocation),
		purchaseOrders:  make(map[engine.PurchaseOrderID]engine.PurchaseOrder),
		poLineItems:     make(map[engine.POLineItemID]engine.POLineItem),
		budgetLines:     make(map[budgetKey]engine.BudgetLine),
		draws:           make(map[engine.DrawID]engine.Draw),
		drawAllocations: make(map[engine.DrawID][]engine.DrawAllocation),
		changeOrders:    make(map[engine.ChangeOrderID]engine.ChangeOrder),
		coBillings:      make(map[engine.DrawID][]engine.ChangeOrderBilling),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, v := range d.invoices {
		c.invoices[k] = v
	}
	for k, v := range d.allocations {
		c.allocations[k] = append([]engine.Allocation(nil), v...)
	}
	for k, v := range d.purchaseOrders {
		c.purchaseOrders[k] = v
	}
	for k, v := range d.poLineItems {
		c.poLineItems[k] = v
	}
	for k, v := range d.budgetLines {
		c.budgetLines[k] = v
	}
	for k, v := range d.draws {
		c.draws[k] = v
	}
	for k, v := range d.drawAllocations {
		c.drawAllocations[k] = append([]engine.DrawAllocation(nil), v...)
	}
	for k, v := range d.changeOrders {
		c.changeOrders[k] = v
	}
	for k, v := range d.coBillings {
		c.coBillings[k] = append([]engine.ChangeOrderBilling(nil), v...)
	}
	return c
}

// Memory implements engine.Store entirely in memory.
type Memory struct {
	mu   sync.Mutex
	data *dataset
}

func NewMemory() *Memory {
	return &Memory{data: newDataset()}
}

// WithTx clones the dataset, runs fn against an unlocked view, and
// restores the clone if fn fails.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backup := m.data.clone()
	if err := fn(&txView{data: m.data}); err != nil {
		m.data = backup
		return err
	}
	return nil
}

// txView exposes the dataset without re-locking; only reachable while
// the Memory mutex is held by WithTx.
type txView struct {
	data *dataset
}

// Nested transactions just run in the enclosing one.
func (v *txView) WithTx(_ context.Context, fn func(engine.Store) error) error {
	return fn(v)
}

// Reset drops every table. Used by the demo scenario loaders.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newDataset()
	return nil
}

// Every non-transactional method locks and delegates to the shared ops.

func (m *Memory) locked(fn func(*dataset) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.data)
}

// =============================================================================
// INVOICES
// =============================================================================

func getInvoice(d *dataset, id engine.InvoiceID) (*engine.Invoice, error) {
	inv, ok := d.invoices[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	out := inv
	return &out, nil
}

func createInvoice(d *dataset, inv *engine.Invoice) error {
	if inv.ID == "" {
		inv.ID = engine.InvoiceID(uuid.NewString())
	}
	if inv.Version == 0 {
		inv.Version = 1
	}
	d.invoices[inv.ID] = *inv
	return nil
}

func updateInvoice(d *dataset, inv *engine.Invoice, expectedVersion int64) error {
	current, ok := d.invoices[inv.ID]
	if !ok {
		return engine.ErrNotFound
	}
	if current.Version != expectedVersion {
		return engine.ErrVersionConflict
	}
	inv.Version = expectedVersion + 1
	d.invoices[inv.ID] = *inv
	return nil
}

func listInvoicesByJob(d *dataset, jobID engine.JobID) ([]engine.Invoice, error) {
	var out []engine.Invoice
	for _, inv := range d.invoices {
		if inv.JobID == jobID && inv.DeletedAt == nil {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetInvoice(_ context.Context, id engine.InvoiceID) (*engine.Invoice, error) {
	var out *engine.Invoice
	err := m.locked(func(d *dataset) (e error) { out, e = getInvoice(d, id); return })
	return out, err
}
func (v *txView) GetInvoice(_ context.Context, id engine.InvoiceID) (*engine.Invoice, error) {
	return getInvoice(v.data, id)
}

func (m *Memory) CreateInvoice(_ context.Context, inv *engine.Invoice) error {
	return m.locked(func(d *dataset) error { return createInvoice(d, inv) })
}
func (v *txView) CreateInvoice(_ context.Context, inv *engine.Invoice) error {
	return createInvoice(v.data, inv)
}

func (m *Memory) UpdateInvoice(_ context.Context, inv *engine.Invoice, expectedVersion int64) error {
	return m.locked(func(d *dataset) error { return updateInvoice(d, inv, expectedVersion) })
}
func (v *txView) UpdateInvoice(_ context.Context, inv *engine.Invoice, expectedVersion int64) error {
	return updateInvoice(v.data, inv, expectedVersion)
}

func (m *Memory) ListInvoicesByJob(_ context.Context, jobID engine.JobID) ([]engine.Invoice, error) {
	var out []engine.Invoice
	err := m.locked(func(d *dataset) (e error) { out, e = listInvoicesByJob(d, jobID); return })
	return out, err
}
func (v *txView) ListInvoicesByJob(_ context.Context, jobID engine.JobID) ([]engine.Invoice, error) {
	return listInvoicesByJob(v.data, jobID)
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func listAllocations(d *dataset, invoiceID engine.InvoiceID) ([]engine.Allocation, error) {
	return append([]engine.Allocation(nil), d.allocations[invoiceID]...), nil
}

func replaceAllocations(d *dataset, invoiceID engine.InvoiceID, allocations []engine.Allocation) error {
	if len(allocations) == 0 {
		delete(d.allocations, invoiceID)
		return nil
	}
	d.allocations[invoiceID] = append([]engine.Allocation(nil), allocations...)
	return nil
}

func (m *Memory) ListAllocations(_ context.Context, invoiceID engine.InvoiceID) ([]engine.Allocation, error) {
	var out []engine.Allocation
	err := m.locked(func(d *dataset) (e error) { out, e = listAllocations(d, invoiceID); return })
	return out, err
}
func (v *txView) ListAllocations(_ context.Context, invoiceID engine.InvoiceID) ([]engine.Allocation, error) {
	return listAllocations(v.data, invoiceID)
}

func (m *Memory) ReplaceAllocations(_ context.Context, invoiceID engine.InvoiceID, allocations []engine.Allocation) error {
	return m.locked(func(d *dataset) error { return replaceAllocations(d, invoiceID, allocations) })
}
func (v *txView) ReplaceAllocations(_ context.Context, invoiceID engine.InvoiceID, allocations []engine.Allocation) error {
	return replaceAllocations(v.data, invoiceID, allocations)
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

func (m *Memory) GetPurchaseOrder(_ context.Context, id engine.PurchaseOrderID) (*engine.PurchaseOrder, error) {
	var out *engine.PurchaseOrder
	err := m.locked(func(d *dataset) error {
		po, ok := d.purchaseOrders[id]
		if !ok {
			return engine.ErrNotFound
		}
		out = &po
		return nil
	})
	return out, err
}
func (v *txView) GetPurchaseOrder(_ context.Context, id engine.PurchaseOrderID) (*engine.PurchaseOrder, error) {
	po, ok := v.data.purchaseOrders[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return &po, nil
}

func createPurchaseOrder(d *dataset, po *engine.PurchaseOrder) error {
	if po.ID == "" {
		po.ID = engine.PurchaseOrderID(uuid.NewString())
	}
	if po.Version == 0 {
		po.Version = 1
	}
	d.purchaseOrders[po.ID] = *po
	return nil
}

func (m *Memory) CreatePurchaseOrder(_ context.Context, po *engine.PurchaseOrder) error {
	return m.locked(func(d *dataset) error { return createPurchaseOrder(d, po) })
}
func (v *txView) CreatePurchaseOrder(_ context.Context, po *engine.PurchaseOrder) error {
	return createPurchaseOrder(v.data, po)
}

func getPOLineItem(d *dataset, id engine.POLineItemID) (*engine.POLineItem, error) {
	li, ok := d.poLineItems[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	out := li
	return &out, nil
}

func createPOLineItem(d *dataset, li *engine.POLineItem) error {
	if li.ID == "" {
		li.ID = engine.POLineItemID(uuid.NewString())
	}
	if li.Version == 0 {
		li.Version = 1
	}
	d.poLineItems[li.ID] = *li
	return nil
}

func updatePOLineItem(d *dataset, li *engine.POLineItem, expectedVersion int64) error {
	current, ok := d.poLineItems[li.ID]
	if !ok {
		return engine.ErrNotFound
	}
	if current.Version != expectedVersion {
		return engine.ErrVersionConflict
	}
	li.Version = expectedVersion + 1
	d.poLineItems[li.ID] = *li
	return nil
}

func listPOLineItems(d *dataset, poID engine.PurchaseOrderID) ([]engine.POLineItem, error) {
	var out []engine.POLineItem
	for _, li := range d.poLineItems {
		if li.PurchaseOrderID == poID {
			out = append(out, li)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetPOLineItem(_ context.Context, id engine.POLineItemID) (*engine.POLineItem, error) {
	var out *engine.POLineItem
	err := m.locked(func(d *dataset) (e error) { out, e = getPOLineItem(d, id); return })
	return out, err
}
func (v *txView) GetPOLineItem(_ context.Context, id engine.POLineItemID) (*engine.POLineItem, error) {
	return getPOLineItem(v.data, id)
}

func (m *Memory) CreatePOLineItem(_ context.Context, li *engine.POLineItem) error {
	return m.locked(func(d *dataset) error { return createPOLineItem(d, li) })
}
func (v *txView) CreatePOLineItem(_ context.Context, li *engine.POLineItem) error {
	return createPOLineItem(v.data, li)
}

func (m *Memory) UpdatePOLineItem(_ context.Context, li *engine.POLineItem, expectedVersion int64) error {
	return m.locked(func(d *dataset) error { return updatePOLineItem(d, li, expectedVersion) })
}
func (v *txView) UpdatePOLineItem(_ context.Context, li *engine.POLineItem, expectedVersion int64) error {
	return updatePOLineItem(v.data, li, expectedVersion)
}

func (m *Memory) ListPOLineItems(_ context.Context, poID engine.PurchaseOrderID) ([]engine.POLineItem, error) {
	var out []engine.POLineItem
	err := m.locked(func(d *dataset) (e error) { out, e = listPOLineItems(d, poID); return })
	return out, err
}
func (v *txView) ListPOLineItems(_ context.Context, poID engine.PurchaseOrderID) ([]engine.POLineItem, error) {
	return listPOLineItems(v.data, poID)
}

// =============================================================================
// BUDGET LINES
// =============================================================================

func getBudgetLine(d *dataset, jobID engine.JobID, costCodeID engine.CostCodeID) (*engine.BudgetLine, error) {
	bl, ok := d.budgetLines[budgetKey{jobID, costCodeID}]
	if !ok {
		return nil, engine.ErrNotFound
	}
	out := bl
	return &out, nil
}

func upsertBudgetLine(d *dataset, line *engine.BudgetLine) error {
	if line.ID == "" {
		line.ID = engine.BudgetLineID(uuid.NewString())
	}
	line.Version++
	d.budgetLines[budgetKey{line.JobID, line.CostCodeID}] = *line
	return nil
}

func listBudgetLines(d *dataset, jobID engine.JobID) ([]engine.BudgetLine, error) {
	var out []engine.BudgetLine
	for _, bl := range d.budgetLines {
		if bl.JobID == jobID {
			out = append(out, bl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CostCodeID < out[j].CostCodeID })
	return out, nil
}

func (m *Memory) GetBudgetLine(_ context.Context, jobID engine.JobID, costCodeID engine.CostCodeID) (*engine.BudgetLine, error) {
	var out *engine.BudgetLine
	err := m.locked(func(d *dataset) (e error) { out, e = getBudgetLine(d, jobID, costCodeID); return })
	return out, err
}
func (v *txView) GetBudgetLine(_ context.Context, jobID engine.JobID, costCodeID engine.CostCodeID) (*engine.BudgetLine, error) {
	return getBudgetLine(v.data, jobID, costCodeID)
}

func (m *Memory) UpsertBudgetLine(_ context.Context, line *engine.BudgetLine) error {
	return m.locked(func(d *dataset) error { return upsertBudgetLine(d, line) })
}
func (v *txView) UpsertBudgetLine(_ context.Context, line *engine.BudgetLine) error {
	return upsertBudgetLine(v.data, line)
}

func (m *Memory) ListBudgetLines(_ context.Context, jobID engine.JobID) ([]engine.BudgetLine, error) {
	var out []engine.BudgetLine
	err := m.locked(func(d *dataset) (e error) { out, e = listBudgetLines(d, jobID); return })
	return out, err
}
func (v *txView) ListBudgetLines(_ context.Context, jobID engine.JobID) ([]engine.BudgetLine, error) {
	return listBudgetLines(v.data, jobID)
}

// =============================================================================
// DRAWS
// =============================================================================

func getDraw(d *dataset, id engine.DrawID) (*engine.Draw, error) {
	dr, ok := d.draws[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	out := dr
	return &out, nil
}

func createDraw(d *dataset, dr *engine.Draw) error {
	if dr.ID == "" {
		dr.ID = engine.DrawID(uuid.NewString())
	}
	if dr.Version == 0 {
		dr.Version = 1
	}
	d.draws[dr.ID] = *dr
	return nil
}

func updateDraw(d *dataset, dr *engine.Draw, expectedVersion int64) error {
	current, ok := d.draws[dr.ID]
	if !ok {
		return engine.ErrNotFound
	}
	if current.Version != expectedVersion {
		return engine.ErrVersionConflict
	}
	dr.Version = expectedVersion + 1
	d.draws[dr.ID] = *dr
	return nil
}

func listDrawsByJob(d *dataset, jobID engine.JobID) ([]engine.Draw, error) {
	var out []engine.Draw
	for _, dr := range d.draws {
		if dr.JobID == jobID {
			out = append(out, dr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *Memory) GetDraw(_ context.Context, id engine.DrawID) (*engine.Draw, error) {
	var out *engine.Draw
	err := m.locked(func(d *dataset) (e error) { out, e = getDraw(d, id); return })
	return out, err
}
func (v *txView) GetDraw(_ context.Context, id engine.DrawID) (*engine.Draw, error) {
	return getDraw(v.data, id)
}

func (m *Memory) CreateDraw(_ context.Context, dr *engine.Draw) error {
	return m.locked(func(d *dataset) error { return createDraw(d, dr) })
}
func (v *txView) CreateDraw(_ context.Context, dr *engine.Draw) error {
	return createDraw(v.data, dr)
}

func (m *Memory) UpdateDraw(_ context.Context, dr *engine.Draw, expectedVersion int64) error {
	return m.locked(func(d *dataset) error { return updateDraw(d, dr, expectedVersion) })
}
func (v *txView) UpdateDraw(_ context.Context, dr *engine.Draw, expectedVersion int64) error {
	return updateDraw(v.data, dr, expectedVersion)
}

func (m *Memory) ListDrawsByJob(_ context.Context, jobID engine.JobID) ([]engine.Draw, error) {
	var out []engine.Draw
	err := m.locked(func(d *dataset) (e error) { out, e = listDrawsByJob(d, jobID); return })
	return out, err
}
func (v *txView) ListDrawsByJob(_ context.Context, jobID engine.JobID) ([]engine.Draw, error) {
	return listDrawsByJob(v.data, jobID)
}

// =============================================================================
// DRAW ALLOCATIONS
// =============================================================================

func listDrawAllocations(d *dataset, drawID engine.DrawID) ([]engine.DrawAllocation, error) {
	return append([]engine.DrawAllocation(nil), d.drawAllocations[drawID]...), nil
}

func listDrawAllocationsByInvoice(d *dataset, invoiceID engine.InvoiceID) ([]engine.DrawAllocation, error) {
	var out []engine.DrawAllocation
	for _, rows := range d.drawAllocations {
		for _, row := range rows {
			if row.InvoiceID == invoiceID {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

func addDrawAllocations(d *dataset, allocations []engine.DrawAllocation) error {
	for _, a := range allocations {
		d.drawAllocations[a.DrawID] = append(d.drawAllocations[a.DrawID], a)
	}
	return nil
}

func updateDrawAllocation(d *dataset, allocation engine.DrawAllocation) error {
	rows := d.drawAllocations[allocation.DrawID]
	for i := range rows {
		if rows[i].ID == allocation.ID {
			rows[i] = allocation
			return nil
		}
	}
	return engine.ErrNotFound
}

func deleteDrawAllocations(d *dataset, drawID engine.DrawID, invoiceID engine.InvoiceID) error {
	rows := d.drawAllocations[drawID]
	kept := rows[:0]
	for _, row := range rows {
		if row.InvoiceID != invoiceID {
			kept = append(kept, row)
		}
	}
	if len(kept) == 0 {
		delete(d.drawAllocations, drawID)
	} else {
		d.drawAllocations[drawID] = kept
	}
	return nil
}

func (m *Memory) ListDrawAllocations(_ context.Context, drawID engine.DrawID) ([]engine.DrawAllocation, error) {
	var out []engine.DrawAllocation
	err := m.locked(func(d *dataset) (e error) { out, e = listDrawAllocations(d, drawID); return })
	return out, err
}
func (v *txView) ListDrawAllocations(_ context.Context, drawID engine.DrawID) ([]engine.DrawAllocation, error) {
	return listDrawAllocations(v.data, drawID)
}

func (m *Memory) ListDrawAllocationsByInvoice(_ context.Context, invoiceID engine.InvoiceID) ([]engine.DrawAllocation, error) {
	var out []engine.DrawAllocation
	err := m.locked(func(d *dataset) (e error) { out, e = listDrawAllocationsByInvoice(d, invoiceID); return })
	return out, err
}
func (v *txView) ListDrawAllocationsByInvoice(_ context.Context, invoiceID engine.InvoiceID) ([]engine.DrawAllocation, error) {
	return listDrawAllocationsByInvoice(v.data, invoiceID)
}

func (m *Memory) AddDrawAllocations(_ context.Context, allocations []engine.DrawAllocation) error {
	return m.locked(func(d *dataset) error { return addDrawAllocations(d, allocations) })
}
func (v *txView) AddDrawAllocations(_ context.Context, allocations []engine.DrawAllocation) error {
	return addDrawAllocations(v.data, allocations)
}

func (m *Memory) UpdateDrawAllocation(_ context.Context, allocation engine.DrawAllocation) error {
	return m.locked(func(d *dataset) error { return updateDrawAllocation(d, allocation) })
}
func (v *txView) UpdateDrawAllocation(_ context.Context, allocation engine.DrawAllocation) error {
	return updateDrawAllocation(v.data, allocation)
}

func (m *Memory) DeleteDrawAllocations(_ context.Context, drawID engine.DrawID, invoiceID engine.InvoiceID) error {
	return m.locked(func(d *dataset) error { return deleteDrawAllocations(d, drawID, invoiceID) })
}
func (v *txView) DeleteDrawAllocations(_ context.Context, drawID engine.DrawID, invoiceID engine.InvoiceID) error {
	return deleteDrawAllocations(v.data, drawID, invoiceID)
}

// =============================================================================
// CHANGE ORDERS
// =============================================================================

func getChangeOrder(d *dataset, id engine.ChangeOrderID) (*engine.ChangeOrder, error) {
	co, ok := d.changeOrders[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	out := co
	return &out, nil
}

func createChangeOrder(d *dataset, co *engine.ChangeOrder) error {
	if co.ID == "" {
		co.ID = engine.ChangeOrderID(uuid.NewString())
	}
	if co.Version == 0 {
		co.Version = 1
	}
	d.changeOrders[co.ID] = *co
	return nil
}

func listChangeOrderBillings(d *dataset, drawID engine.DrawID) ([]engine.ChangeOrderBilling, error) {
	return append([]engine.ChangeOrderBilling(nil), d.coBillings[drawID]...), nil
}

func addChangeOrderBilling(d *dataset, billing engine.ChangeOrderBilling) error {
	d.coBillings[billing.DrawID] = append(d.coBillings[billing.DrawID], billing)
	return nil
}

func deleteChangeOrderBilling(d *dataset, drawID engine.DrawID, changeOrderID engine.ChangeOrderID) error {
	rows := d.coBillings[drawID]
	kept := rows[:0]
	found := false
	for _, row := range rows {
		if row.ChangeOrderID == changeOrderID {
			found = true
			continue
		}
		kept = append(kept, row)
	}
	if !found {
		return engine.ErrNotFound
	}
	d.coBillings[drawID] = kept
	return nil
}

func replaceChangeOrderBillings(d *dataset, drawID engine.DrawID, billings []engine.ChangeOrderBilling) error {
	d.coBillings[drawID] = append([]engine.ChangeOrderBilling(nil), billings...)
	return nil
}

func (m *Memory) GetChangeOrder(_ context.Context, id engine.ChangeOrderID) (*engine.ChangeOrder, error) {
	var out *engine.ChangeOrder
	err := m.locked(func(d *dataset) (e error) { out, e = getChangeOrder(d, id); return })
	return out, err
}
func (v *txView) GetChangeOrder(_ context.Context, id engine.ChangeOrderID) (*engine.ChangeOrder, error) {
	return getChangeOrder(v.data, id)
}

func (m *Memory) CreateChangeOrder(_ context.Context, co *engine.ChangeOrder) error {
	return m.locked(func(d *dataset) error { return createChangeOrder(d, co) })
}
func (v *txView) CreateChangeOrder(_ context.Context, co *engine.ChangeOrder) error {
	return createChangeOrder(v.data, co)
}

func (m *Memory) ListChangeOrderBillings(_ context.Context, drawID engine.DrawID) ([]engine.ChangeOrderBilling, error) {
	var out []engine.ChangeOrderBilling
	err := m.locked(func(d *dataset) (e error) { out, e = listChangeOrderBillings(d, drawID); return })
	return out, err
}
func (v *txView) ListChangeOrderBillings(_ context.Context, drawID engine.DrawID) ([]engine.ChangeOrderBilling, error) {
	return listChangeOrderBillings(v.data, drawID)
}

func (m *Memory) AddChangeOrderBilling(_ context.Context, billing engine.ChangeOrderBilling) error {
	return m.locked(func(d *dataset) error { return addChangeOrderBilling(d, billing) })
}
func (v *txView) AddChangeOrderBilling(_ context.Context, billing engine.ChangeOrderBilling) error {
	return addChangeOrderBilling(v.data, billing)
}

func (m *Memory) DeleteChangeOrderBilling(_ context.Context, drawID engine.DrawID, changeOrderID engine.ChangeOrderID) error {
	return m.locked(func(d *dataset) error { return deleteChangeOrderBilling(d, drawID, changeOrderID) })
}
func (v *txView) DeleteChangeOrderBilling(_ context.Context, drawID engine.DrawID, changeOrderID engine.ChangeOrderID) error {
	return deleteChangeOrderBilling(v.data, drawID, changeOrderID)
}

func (m *Memory) ReplaceChangeOrderBillings(_ context.Context, drawID engine.DrawID, billings []engine.ChangeOrderBilling) error {
	return m.locked(func(d *dataset) error { return replaceChangeOrderBillings(d, drawID, billings) })
}
func (v *txView) ReplaceChangeOrderBillings(_ context.Context, drawID engine.DrawID, billings []engine.ChangeOrderBilling) error {
	return replaceChangeOrderBillings(v.data, drawID, billings)
}
