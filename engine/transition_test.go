package engine

import "testing"

// =============================================================================
// INVOICE EDGES
// =============================================================================

func TestCanTransitionInvoice_LegalEdges(t *testing.T) {
	legal := []struct {
		from, to InvoiceStatus
	}{
		{InvoiceReceived, InvoiceNeedsApproval},
		{InvoiceNeedsApproval, InvoiceApproved},
		{InvoiceApproved, InvoiceInDraw},
		{InvoiceInDraw, InvoicePaid},
		{InvoiceApproved, InvoiceNeedsApproval},
		{InvoiceInDraw, InvoiceApproved},
		{InvoiceReceived, InvoiceDenied},
		{InvoiceNeedsApproval, InvoiceDenied},
		{InvoiceDenied, InvoiceReceived},
		{InvoiceNeedsApproval, InvoicePaid},
		{InvoiceApproved, InvoicePaid},
	}
	for _, e := range legal {
		if v := CanTransitionInvoice(e.from, e.to); !v.OK {
			t.Errorf("%s -> %s should be legal, got refused: %s", e.from, e.to, v.Reason)
		}
	}
}

func TestCanTransitionInvoice_IllegalEdges(t *testing.T) {
	illegal := []struct {
		from, to InvoiceStatus
	}{
		{InvoiceReceived, InvoiceApproved}, // must go through needs_approval
		{InvoiceReceived, InvoiceInDraw},
		{InvoiceReceived, InvoicePaid},
		{InvoiceApproved, InvoiceDenied}, // approved invoices are unappproved, not denied
		{InvoiceDenied, InvoiceApproved},
		{InvoiceDenied, InvoicePaid},
		{InvoiceInDraw, InvoiceNeedsApproval},
		{InvoiceInDraw, InvoiceDenied},
	}
	for _, e := range illegal {
		if v := CanTransitionInvoice(e.from, e.to); v.OK {
			t.Errorf("%s -> %s should be refused", e.from, e.to)
		}
	}
}

func TestCanTransitionInvoice_PaidIsTerminal(t *testing.T) {
	// GIVEN: A paid invoice
	// WHEN: Any transition is attempted
	// THEN: Every edge is refused
	for _, to := range []InvoiceStatus{
		InvoiceReceived, InvoiceNeedsApproval, InvoiceApproved, InvoiceInDraw, InvoiceDenied,
	} {
		if v := CanTransitionInvoice(InvoicePaid, to); v.OK {
			t.Errorf("paid -> %s should be refused", to)
		}
	}
}

func TestCanTransitionInvoice_SelfEdgeRefused(t *testing.T) {
	if v := CanTransitionInvoice(InvoiceReceived, InvoiceReceived); v.OK {
		t.Error("self transition should be refused")
	}
}

// =============================================================================
// DRAW EDGES
// =============================================================================

func TestCanTransitionDraw(t *testing.T) {
	cases := []struct {
		from, to DrawStatus
		ok       bool
	}{
		{DrawDraft, DrawSubmitted, true},
		{DrawSubmitted, DrawFunded, true},
		{DrawSubmitted, DrawDraft, true},
		{DrawDraft, DrawFunded, false}, // must be submitted first
		{DrawFunded, DrawDraft, false},
		{DrawFunded, DrawSubmitted, false},
		{DrawDraft, DrawDraft, false},
	}
	for _, c := range cases {
		if v := CanTransitionDraw(c.from, c.to); v.OK != c.ok {
			t.Errorf("%s -> %s: got ok=%v, want %v (%s)", c.from, c.to, v.OK, c.ok, v.Reason)
		}
	}
}
