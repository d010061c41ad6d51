/*
transition.go - Legal status graphs for invoices and draws

PURPOSE:
  Encodes the directed status graphs and the reason an edge is refused.
  Transition tables are indexed by typed status values; there is no
  string-concatenation dispatch anywhere in the engine.

INVOICE GRAPH:

  received ──▶ needs_approval ──▶ approved ──▶ in_draw ──▶ paid
     ▲  │            │  ▲  │          │  ▲
     │  ▼            ▼  │  └──────────┼──┘ (unapprove / pull from draft draw)
     │ denied ◀──────┘  └─────────────┘
     └───┘ (resubmit)    close-out: {needs_approval, approved} ──▶ paid

DRAW GRAPH:

  draft ──▶ submitted ──▶ funded (terminal)
    ▲           │
    └───────────┘ (unsubmit)

  Any attempt to edit a paid invoice outside an explicit
  unarchive-then-status-change is rejected by the orchestrator; this file
  only answers "is the edge legal".

SEE ALSO:
  - orchestrator.go: enforces preconditions beyond edge legality
*/
package engine

// Verdict is the result of a transition legality check.
type Verdict struct {
	OK     bool
	Reason string
}

type invoiceEdge struct {
	From InvoiceStatus
	To   InvoiceStatus
}

type drawEdge struct {
	From DrawStatus
	To   DrawStatus
}

// invoiceEdges is the complete set of legal invoice transitions. Every
// edge absent from this table is invalid.
var invoiceEdges = map[invoiceEdge]string{
	{InvoiceReceived, InvoiceNeedsApproval}:      "submitted for approval",
	{InvoiceNeedsApproval, InvoiceApproved}:      "approved",
	{InvoiceApproved, InvoiceInDraw}:             "added to draw",
	{InvoiceInDraw, InvoicePaid}:                 "paid via draw funding",
	{InvoiceApproved, InvoiceNeedsApproval}:      "unapproved",
	{InvoiceInDraw, InvoiceApproved}:             "pulled from draft draw",
	{InvoiceReceived, InvoiceDenied}:             "denied",
	{InvoiceNeedsApproval, InvoiceDenied}:        "denied",
	{InvoiceDenied, InvoiceReceived}:             "resubmitted",
	{InvoiceNeedsApproval, InvoicePaid}:          "closed out (write-off)",
	{InvoiceApproved, InvoicePaid}:               "closed out (write-off)",
}

var drawEdges = map[drawEdge]string{
	{DrawDraft, DrawSubmitted}:  "submitted",
	{DrawSubmitted, DrawFunded}: "funded",
	{DrawSubmitted, DrawDraft}:  "unsubmitted",
}

// CanTransitionInvoice reports whether from->to is a legal invoice edge.
func CanTransitionInvoice(from, to InvoiceStatus) Verdict {
	if from == to {
		return Verdict{OK: false, Reason: "invoice is already " + string(from)}
	}
	if from == InvoicePaid {
		return Verdict{OK: false, Reason: "paid invoices cannot be edited without an explicit unarchive"}
	}
	if _, ok := invoiceEdges[invoiceEdge{from, to}]; ok {
		return Verdict{OK: true}
	}
	return Verdict{OK: false, Reason: "no edge from " + string(from) + " to " + string(to)}
}

// CanTransitionDraw reports whether from->to is a legal draw edge.
// Funded is terminal: no edges out, ever.
func CanTransitionDraw(from, to DrawStatus) Verdict {
	if from == to {
		return Verdict{OK: false, Reason: "draw is already " + string(from)}
	}
	if from == DrawFunded {
		return Verdict{OK: false, Reason: "funded draws are permanently immutable"}
	}
	if _, ok := drawEdges[drawEdge{from, to}]; ok {
		return Verdict{OK: true}
	}
	return Verdict{OK: false, Reason: "no edge from " + string(from) + " to " + string(to)}
}

// invoiceTransitionError builds the structured error for a refused edge.
func invoiceTransitionError(from, to InvoiceStatus, v Verdict) error {
	return &TransitionError{
		EntityType: EntityInvoice,
		From:       string(from),
		To:         string(to),
		Reason:     v.Reason,
	}
}

func drawTransitionError(from, to DrawStatus, v Verdict) error {
	return &TransitionError{
		EntityType: EntityDraw,
		From:       string(from),
		To:         string(to),
		Reason:     v.Reason,
	}
}
