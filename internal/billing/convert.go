package billing

import (
	"fmt"
	"time"
)

// convertibleQuoteStatuses are the quote states from which an invoice may be
// derived.
var convertibleQuoteStatuses = map[QuoteStatus]bool{
	QuoteStatusSigned:      true,
	QuoteStatusDepositPaid: true,
	QuoteStatusCompleted:   true,
}

// BuildInvoiceDraft assembles a fully-formed invoice draft from a quote. It
// recomputes the totals, carries the paid deposit forward as paid_amount and
// copies the line items as a frozen snapshot. Pure: persistence, including
// the one-invoice-per-quote guard, is the caller's responsibility.
func BuildInvoiceDraft(q *Quote, issueDate time.Time, dueDateOffsetDays int) (*InvoiceDraft, error) {
	if !convertibleQuoteStatuses[q.Status] {
		return nil, fmt.Errorf("%w: status %s", ErrQuoteNotConvertible, q.Status)
	}

	totals, err := Aggregate(q.Items)
	if err != nil {
		return nil, err
	}
	taxRate, err := EffectiveRate(q.Items)
	if err != nil {
		return nil, err
	}

	paid := DepositPaid(q)
	status := InvoiceStatusDraft
	if paid.IsPositive() {
		status = InvoiceStatusPartial
	}

	items := make([]LineItem, len(q.Items))
	copy(items, q.Items)
	for i := range items {
		items[i].ID = 0
	}

	return &InvoiceDraft{
		QuoteID:       q.ID,
		ClientID:      q.ClientID,
		PaymentStatus: status,
		IssueDate:     issueDate,
		DueDate:       issueDate.AddDate(0, 0, dueDateOffsetDays),
		SubtotalHT:    totals.SubtotalHT,
		TotalVAT:      totals.TotalVAT,
		TotalTTC:      totals.TotalTTC,
		TaxRate:       taxRate,
		PaidAmount:    paid,
		Notes:         DescribeDeposit(q),
		Items:         items,
	}, nil
}
