package billing

import (
	"fmt"
	"time"
)

// The legal transition graphs are data, not control flow: one edge per row,
// with an optional precondition. Every status write in this package routes
// through TransitionQuoteStatus / TransitionInvoiceStatus, which guarantees
// statuses only move forward along these edges.

type quoteEdge struct {
	from         QuoteStatus
	to           QuoteStatus
	precondition func(*Quote) error
}

type invoiceEdge struct {
	from         InvoiceStatus
	to           InvoiceStatus
	precondition func(*Invoice) error
}

var quoteEdges = []quoteEdge{
	{from: QuoteStatusDraft, to: QuoteStatusSent, precondition: func(q *Quote) error {
		if len(q.Items) == 0 {
			return fmt.Errorf("%w: cannot send a quote without line items", ErrIllegalTransition)
		}
		return nil
	}},
	{from: QuoteStatusSent, to: QuoteStatusSigned, precondition: func(q *Quote) error {
		if q.SignatureRef == nil || *q.SignatureRef == "" {
			return fmt.Errorf("%w: signature artifact required", ErrIllegalTransition)
		}
		return nil
	}},
	{from: QuoteStatusSigned, to: QuoteStatusDepositPaid, precondition: func(q *Quote) error {
		if !q.DepositAmount.IsPositive() {
			return fmt.Errorf("%w: deposit amount must be positive", ErrIllegalTransition)
		}
		if q.DepositAmount.GreaterThan(q.TotalTTC) {
			return fmt.Errorf("%w: deposit amount exceeds quote total", ErrIllegalTransition)
		}
		return nil
	}},
	{from: QuoteStatusDepositPaid, to: QuoteStatusCompleted},
	// Deposit-free quotes close directly after signature.
	{from: QuoteStatusSigned, to: QuoteStatusCompleted},
	{from: QuoteStatusDraft, to: QuoteStatusCanceled},
	{from: QuoteStatusSent, to: QuoteStatusCanceled},
	{from: QuoteStatusSigned, to: QuoteStatusCanceled},
	{from: QuoteStatusDepositPaid, to: QuoteStatusCanceled},
}

var invoiceEdges = []invoiceEdge{
	{from: InvoiceStatusDraft, to: InvoiceStatusSent},
	{from: InvoiceStatusSent, to: InvoiceStatusPartial, precondition: func(inv *Invoice) error {
		if !inv.PaidAmount.IsPositive() {
			return fmt.Errorf("%w: partial requires a positive paid amount", ErrIllegalTransition)
		}
		return nil
	}},
	{from: InvoiceStatusSent, to: InvoiceStatusPaid, precondition: invoiceFullyPaid},
	{from: InvoiceStatusPartial, to: InvoiceStatusPaid, precondition: invoiceFullyPaid},
	{from: InvoiceStatusDraft, to: InvoiceStatusCanceled},
	{from: InvoiceStatusSent, to: InvoiceStatusCanceled},
	{from: InvoiceStatusPartial, to: InvoiceStatusCanceled},
	{from: InvoiceStatusPaid, to: InvoiceStatusCanceled},
}

func invoiceFullyPaid(inv *Invoice) error {
	if inv.PaidAmount.LessThan(inv.TotalTTC) {
		return fmt.Errorf("%w: paid amount below total", ErrIllegalTransition)
	}
	return nil
}

// TransitionQuoteStatus validates the requested edge against the quote graph
// and returns a copy with the new status applied. SENT stamps sent_at once.
func TransitionQuoteStatus(q Quote, target QuoteStatus, now time.Time) (Quote, error) {
	edge, ok := findQuoteEdge(q.Status, target)
	if !ok {
		return Quote{}, fmt.Errorf("%w: quote %s -> %s", ErrIllegalTransition, q.Status, target)
	}
	if edge.precondition != nil {
		if err := edge.precondition(&q); err != nil {
			return Quote{}, err
		}
	}
	q.Status = target
	if target == QuoteStatusSent && q.SentAt == nil {
		sentAt := now
		q.SentAt = &sentAt
	}
	return q, nil
}

// TransitionInvoiceStatus validates the requested edge against the invoice
// graph and returns a copy with the new status applied. OVERDUE is derived on
// read and never a stored target.
func TransitionInvoiceStatus(inv Invoice, target InvoiceStatus, now time.Time) (Invoice, error) {
	if target == InvoiceStatusOverdue {
		return Invoice{}, fmt.Errorf("%w: OVERDUE is computed, not stored", ErrIllegalTransition)
	}
	edge, ok := findInvoiceEdge(inv.PaymentStatus, target)
	if !ok {
		return Invoice{}, fmt.Errorf("%w: invoice %s -> %s", ErrIllegalTransition, inv.PaymentStatus, target)
	}
	if edge.precondition != nil {
		if err := edge.precondition(&inv); err != nil {
			return Invoice{}, err
		}
	}
	inv.PaymentStatus = target
	if target == InvoiceStatusSent && inv.SentAt == nil {
		sentAt := now
		inv.SentAt = &sentAt
	}
	return inv, nil
}

func findQuoteEdge(from, to QuoteStatus) (quoteEdge, bool) {
	for _, e := range quoteEdges {
		if e.from == from && e.to == to {
			return e, true
		}
	}
	return quoteEdge{}, false
}

func findInvoiceEdge(from, to InvoiceStatus) (invoiceEdge, bool) {
	for _, e := range invoiceEdges {
		if e.from == from && e.to == to {
			return e, true
		}
	}
	return invoiceEdge{}, false
}
