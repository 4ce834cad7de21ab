package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryBillingRepo struct {
	quotes         map[int64]*Quote
	invoices       map[int64]*Invoice
	payments       map[int64]*Payment
	reminderLogs   []ReminderLog
	nextQuoteID    int64
	nextInvoiceID  int64
	nextItemID     int64
	nextPaymentID  int64
	quoteCounter   int
	invoiceCounter int
}

func newMemoryBillingRepo() *memoryBillingRepo {
	return &memoryBillingRepo{
		quotes:   make(map[int64]*Quote),
		invoices: make(map[int64]*Invoice),
		payments: make(map[int64]*Payment),
	}
}

func copyQuote(q *Quote) *Quote {
	cp := *q
	cp.Items = make([]LineItem, len(q.Items))
	copy(cp.Items, q.Items)
	return &cp
}

func copyInvoice(inv *Invoice) *Invoice {
	cp := *inv
	cp.Items = make([]LineItem, len(inv.Items))
	copy(cp.Items, inv.Items)
	return &cp
}

func (r *memoryBillingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryBillingRepo) GetQuote(ctx context.Context, id int64) (*Quote, error) {
	q, ok := r.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyQuote(q), nil
}

func (r *memoryBillingRepo) ListQuotes(ctx context.Context, req ListQuotesRequest) ([]Quote, int, error) {
	var out []Quote
	for _, q := range r.quotes {
		if req.ClientID != nil && q.ClientID != *req.ClientID {
			continue
		}
		if req.Status != nil && q.Status != *req.Status {
			continue
		}
		out = append(out, *copyQuote(q))
	}
	return out, len(out), nil
}

func (r *memoryBillingRepo) ListQuotesByStatus(ctx context.Context, status QuoteStatus) ([]Quote, error) {
	var out []Quote
	for _, q := range r.quotes {
		if q.Status == status {
			out = append(out, *copyQuote(q))
		}
	}
	return out, nil
}

func (r *memoryBillingRepo) GenerateQuoteNumber(ctx context.Context, date time.Time) (string, error) {
	r.quoteCounter++
	return fmt.Sprintf("DEV-%d-%04d", date.Year(), r.quoteCounter), nil
}

func (r *memoryBillingRepo) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyInvoice(inv), nil
}

func (r *memoryBillingRepo) GetInvoiceByQuote(ctx context.Context, quoteID int64) (*Invoice, error) {
	for _, inv := range r.invoices {
		if inv.QuoteID != nil && *inv.QuoteID == quoteID {
			return copyInvoice(inv), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryBillingRepo) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if req.ClientID != nil && inv.ClientID != *req.ClientID {
			continue
		}
		if req.Status != nil && inv.PaymentStatus != *req.Status {
			continue
		}
		out = append(out, *copyInvoice(inv))
	}
	return out, len(out), nil
}

func (r *memoryBillingRepo) ListOutstandingInvoices(ctx context.Context) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.PaymentStatus == InvoiceStatusSent || inv.PaymentStatus == InvoiceStatusPartial {
			out = append(out, *copyInvoice(inv))
		}
	}
	return out, nil
}

func (r *memoryBillingRepo) GenerateInvoiceNumber(ctx context.Context, date time.Time) (string, error) {
	r.invoiceCounter++
	return fmt.Sprintf("FAC-%d-%04d", date.Year(), r.invoiceCounter), nil
}

func (r *memoryBillingRepo) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memoryBillingRepo) CreateQuote(ctx context.Context, quote Quote) (int64, error) {
	r.nextQuoteID++
	quote.ID = r.nextQuoteID
	quote.Items = nil
	r.quotes[quote.ID] = &quote
	return quote.ID, nil
}

func (r *memoryBillingRepo) InsertQuoteItem(ctx context.Context, quoteID int64, item LineItem) (int64, error) {
	q, ok := r.quotes[quoteID]
	if !ok {
		return 0, ErrNotFound
	}
	r.nextItemID++
	item.ID = r.nextItemID
	q.Items = append(q.Items, item)
	return item.ID, nil
}

func (r *memoryBillingRepo) DeleteQuoteItems(ctx context.Context, quoteID int64) error {
	q, ok := r.quotes[quoteID]
	if !ok {
		return ErrNotFound
	}
	q.Items = nil
	return nil
}

func (r *memoryBillingRepo) UpdateQuote(ctx context.Context, quote Quote) error {
	existing, ok := r.quotes[quote.ID]
	if !ok {
		return ErrNotFound
	}
	quote.Items = existing.Items
	r.quotes[quote.ID] = &quote
	return nil
}

func (r *memoryBillingRepo) UpdateQuoteStatus(ctx context.Context, quote Quote) error {
	return r.UpdateQuote(ctx, quote)
}

func (r *memoryBillingRepo) CreateInvoice(ctx context.Context, invoice Invoice) (int64, error) {
	if invoice.QuoteID != nil {
		for _, existing := range r.invoices {
			if existing.QuoteID != nil && *existing.QuoteID == *invoice.QuoteID {
				return 0, ErrDuplicateConversion
			}
		}
	}
	r.nextInvoiceID++
	invoice.ID = r.nextInvoiceID
	invoice.Items = nil
	r.invoices[invoice.ID] = &invoice
	return invoice.ID, nil
}

func (r *memoryBillingRepo) InsertInvoiceItem(ctx context.Context, invoiceID int64, item LineItem) (int64, error) {
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return 0, ErrNotFound
	}
	r.nextItemID++
	item.ID = r.nextItemID
	inv.Items = append(inv.Items, item)
	return item.ID, nil
}

func (r *memoryBillingRepo) UpdateInvoiceStatus(ctx context.Context, invoice Invoice) error {
	existing, ok := r.invoices[invoice.ID]
	if !ok {
		return ErrNotFound
	}
	invoice.Items = existing.Items
	r.invoices[invoice.ID] = &invoice
	return nil
}

func (r *memoryBillingRepo) UpdateInvoicePayment(ctx context.Context, id int64, paidAmount decimal.Decimal, status InvoiceStatus) error {
	inv, ok := r.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.PaidAmount = paidAmount
	inv.PaymentStatus = status
	return nil
}

func (r *memoryBillingRepo) CreatePayment(ctx context.Context, payment Payment) (int64, error) {
	r.nextPaymentID++
	payment.ID = r.nextPaymentID
	r.payments[payment.ID] = &payment
	return payment.ID, nil
}

func (r *memoryBillingRepo) IncrementReminderCount(ctx context.Context, kind DocumentKind, id int64) error {
	switch kind {
	case DocumentKindQuote:
		q, ok := r.quotes[id]
		if !ok {
			return ErrNotFound
		}
		q.ReminderCount++
	case DocumentKindInvoice:
		inv, ok := r.invoices[id]
		if !ok {
			return ErrNotFound
		}
		inv.ReminderCount++
	}
	return nil
}

func (r *memoryBillingRepo) InsertReminderLog(ctx context.Context, log ReminderLog) error {
	r.reminderLogs = append(r.reminderLogs, log)
	return nil
}

func newTestService(repo *memoryBillingRepo) *Service {
	return NewService(repo, ServiceConfig{})
}

func depositPercent(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func createQuoteRequest() CreateQuoteRequest {
	return CreateQuoteRequest{
		ClientID: 3,
		Items: []LineItemRequest{
			{Description: "Fourniture", Quantity: dec("1"), UnitPriceHT: dec("1000"), VATRate: dec("20")},
		},
	}
}

func TestCreateQuoteComputesTotals(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)

	quote, err := svc.CreateQuote(ctx, createQuoteRequest(), testNow)
	require.NoError(t, err)
	require.Equal(t, "DEV-2026-0001", quote.DocNumber)
	require.Equal(t, QuoteStatusDraft, quote.Status)
	requireDecimal(t, "1000", quote.SubtotalHT)
	requireDecimal(t, "200", quote.TotalVAT)
	requireDecimal(t, "1200", quote.TotalTTC)
	requireDecimal(t, "0", quote.DepositAmount)
	require.Nil(t, quote.DepositStatus)
	require.Len(t, quote.Items, 1)
	require.Equal(t, 1, quote.Items[0].LineOrder)
}

func TestCreateQuoteDerivesDepositAmount(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)

	req := createQuoteRequest()
	req.DepositPercent = depositPercent("30")
	quote, err := svc.CreateQuote(ctx, req, testNow)
	require.NoError(t, err)
	requireDecimal(t, "360", quote.DepositAmount)
	require.NotNil(t, quote.DepositStatus)
	require.Equal(t, DepositStatusPending, *quote.DepositStatus)
}

func TestCreateQuoteRejectsDepositPercentOutOfRange(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryBillingRepo())

	for _, percent := range []string{"150", "100.01", "0", "-10"} {
		req := createQuoteRequest()
		req.DepositPercent = depositPercent(percent)
		_, err := svc.CreateQuote(ctx, req, testNow)
		require.ErrorIs(t, err, ErrInvalidDepositPercent, "percent %s", percent)
	}
}

func TestUpdateQuoteRejectsDepositPercentOutOfRange(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)

	quote, err := svc.CreateQuote(ctx, createQuoteRequest(), testNow)
	require.NoError(t, err)

	_, err = svc.UpdateQuote(ctx, quote.ID, UpdateQuoteRequest{DepositPercent: depositPercent("150")})
	require.ErrorIs(t, err, ErrInvalidDepositPercent)

	unchanged, err := svc.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	require.Nil(t, unchanged.DepositPercent)
	requireDecimal(t, "0", unchanged.DepositAmount)
}

func TestCreateQuoteRejectsInvalidItems(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryBillingRepo())

	req := createQuoteRequest()
	req.Items[0].VATRate = dec("150")
	_, err := svc.CreateQuote(ctx, req, testNow)
	require.ErrorIs(t, err, ErrInvalidLineItem)
}

func TestUpdateQuoteRecomputesTotalsAndDeposit(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)

	req := createQuoteRequest()
	req.DepositPercent = depositPercent("30")
	quote, err := svc.CreateQuote(ctx, req, testNow)
	require.NoError(t, err)

	items := []LineItemRequest{
		{Description: "Fourniture", Quantity: dec("2"), UnitPriceHT: dec("1000"), VATRate: dec("20")},
	}
	updated, err := svc.UpdateQuote(ctx, quote.ID, UpdateQuoteRequest{Items: &items})
	require.NoError(t, err)
	requireDecimal(t, "2400", updated.TotalTTC)
	requireDecimal(t, "720", updated.DepositAmount)
	require.Len(t, updated.Items, 1)
}

func TestUpdateQuoteLockedOnceSigned(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)

	quote, err := svc.CreateQuote(ctx, createQuoteRequest(), testNow)
	require.NoError(t, err)
	_, err = svc.SendQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)
	_, err = svc.SignQuote(ctx, quote.ID, SignQuoteRequest{SignatureRef: "sig-1"}, testNow)
	require.NoError(t, err)

	notes := "trop tard"
	_, err = svc.UpdateQuote(ctx, quote.ID, UpdateQuoteRequest{Notes: &notes})
	require.ErrorIs(t, err, ErrDocumentLocked)
}

func TestQuoteLifecycleToInvoice(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)

	req := createQuoteRequest()
	req.DepositPercent = depositPercent("30")
	quote, err := svc.CreateQuote(ctx, req, testNow)
	require.NoError(t, err)

	quote, err = svc.SendQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)
	require.Equal(t, QuoteStatusSent, quote.Status)
	require.NotNil(t, quote.SentAt)

	quote, err = svc.SignQuote(ctx, quote.ID, SignQuoteRequest{SignatureRef: "sig-yousign-1"}, testNow)
	require.NoError(t, err)
	require.Equal(t, QuoteStatusSigned, quote.Status)

	quote, err = svc.MarkDepositPaid(ctx, quote.ID, MarkDepositPaidRequest{Method: "virement"}, testNow)
	require.NoError(t, err)
	require.Equal(t, QuoteStatusDepositPaid, quote.Status)
	require.NotNil(t, quote.DepositPaidAt)
	requireDecimal(t, "360", quote.DepositAmount)

	invoice, err := svc.ConvertQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)
	require.Equal(t, "FAC-2026-0001", invoice.DocNumber)
	require.Equal(t, InvoiceStatusPartial, invoice.PaymentStatus)
	requireDecimal(t, "360", invoice.PaidAmount)
	requireDecimal(t, "1200", invoice.TotalTTC)
	require.Equal(t, testNow.AddDate(0, 0, 30), invoice.DueDate)
	require.NotNil(t, invoice.Notes)
	require.Len(t, invoice.Items, 1)

	quote, err = svc.CompleteQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)
	require.Equal(t, QuoteStatusCompleted, quote.Status)
}

func TestConvertQuoteRejectsDraft(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)

	quote, err := svc.CreateQuote(ctx, createQuoteRequest(), testNow)
	require.NoError(t, err)

	_, err = svc.ConvertQuote(ctx, quote.ID, testNow)
	require.ErrorIs(t, err, ErrQuoteNotConvertible)
}

func TestConvertQuoteOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)

	quote, err := svc.CreateQuote(ctx, createQuoteRequest(), testNow)
	require.NoError(t, err)
	_, err = svc.SendQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)
	_, err = svc.SignQuote(ctx, quote.ID, SignQuoteRequest{SignatureRef: "sig-1"}, testNow)
	require.NoError(t, err)

	_, err = svc.ConvertQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)

	_, err = svc.ConvertQuote(ctx, quote.ID, testNow)
	require.ErrorIs(t, err, ErrDuplicateConversion)
}

func signedInvoice(t *testing.T, svc *Service) *Invoice {
	t.Helper()
	ctx := context.Background()
	quote, err := svc.CreateQuote(ctx, createQuoteRequest(), testNow)
	require.NoError(t, err)
	_, err = svc.SendQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)
	_, err = svc.SignQuote(ctx, quote.ID, SignQuoteRequest{SignatureRef: "sig-1"}, testNow)
	require.NoError(t, err)
	invoice, err := svc.ConvertQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)
	invoice, err = svc.SendInvoice(ctx, invoice.ID, testNow)
	require.NoError(t, err)
	return invoice
}

func TestRecordPaymentPartialThenPaid(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)
	invoice := signedInvoice(t, svc)

	invoice, err := svc.RecordPayment(ctx, invoice.ID, RecordPaymentRequest{Amount: dec("500"), Method: "virement"}, testNow)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPartial, invoice.PaymentStatus)
	requireDecimal(t, "500", invoice.PaidAmount)

	invoice, err = svc.RecordPayment(ctx, invoice.ID, RecordPaymentRequest{Amount: dec("700"), Method: "cheque"}, testNow)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPaid, invoice.PaymentStatus)
	requireDecimal(t, "1200", invoice.PaidAmount)

	payments, err := svc.ListPayments(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
}

func TestRecordPaymentNeverOverpays(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)
	invoice := signedInvoice(t, svc)

	_, err := svc.RecordPayment(ctx, invoice.ID, RecordPaymentRequest{Amount: dec("1200.01"), Method: "virement"}, testNow)
	require.ErrorIs(t, err, ErrPaymentExceedsTotal)

	_, err = svc.RecordPayment(ctx, invoice.ID, RecordPaymentRequest{Amount: dec("0"), Method: "virement"}, testNow)
	require.Error(t, err)

	stored, err := svc.GetInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", stored.PaidAmount)
	require.Equal(t, InvoiceStatusSent, stored.PaymentStatus)
}

func TestDueRemindersScansQuotesAndInvoices(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)

	quote, err := svc.CreateQuote(ctx, createQuoteRequest(), testNow)
	require.NoError(t, err)
	_, err = svc.SendQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)

	invoice := signedInvoice(t, svc)

	// Backdate the sends: the quote past its 7-day interval, the invoice past
	// its 10-day interval.
	quoteSent := testNow.AddDate(0, 0, -8)
	repo.quotes[quote.ID].SentAt = &quoteSent
	invoiceSent := testNow.AddDate(0, 0, -12)
	repo.invoices[invoice.ID].SentAt = &invoiceSent

	due, err := svc.DueReminders(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, due, 2)

	kinds := map[DocumentKind]bool{}
	for _, d := range due {
		kinds[d.Kind] = true
		require.True(t, d.State.NextReminderDue)
	}
	require.True(t, kinds[DocumentKindQuote])
	require.True(t, kinds[DocumentKindInvoice])
}

func TestSendDepositInvoiceKeepsPartialAndStartsReminders(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)

	req := createQuoteRequest()
	req.DepositPercent = depositPercent("30")
	quote, err := svc.CreateQuote(ctx, req, testNow)
	require.NoError(t, err)
	_, err = svc.SendQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)
	_, err = svc.SignQuote(ctx, quote.ID, SignQuoteRequest{SignatureRef: "sig-1"}, testNow)
	require.NoError(t, err)
	_, err = svc.MarkDepositPaid(ctx, quote.ID, MarkDepositPaidRequest{Method: "virement"}, testNow)
	require.NoError(t, err)

	invoice, err := svc.ConvertQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPartial, invoice.PaymentStatus)
	require.Nil(t, invoice.SentAt)

	// Dispatch stamps sent_at without leaving PARTIAL.
	sent, err := svc.SendInvoice(ctx, invoice.ID, testNow)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPartial, sent.PaymentStatus)
	require.NotNil(t, sent.SentAt)
	require.Equal(t, testNow, *sent.SentAt)

	// Past the interval, the outstanding balance shows up in the sweep.
	backdated := testNow.AddDate(0, 0, -12)
	repo.invoices[invoice.ID].SentAt = &backdated
	due, err := svc.DueReminders(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, DocumentKindInvoice, due[0].Kind)
	require.Equal(t, invoice.ID, due[0].DocumentID)
}

func TestRecordReminderSentEnforcesCap(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)

	quote, err := svc.CreateQuote(ctx, createQuoteRequest(), testNow)
	require.NoError(t, err)
	_, err = svc.SendQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordReminderSent(ctx, DocumentKindQuote, quote.ID, "client@example.fr", testNow))
	}
	require.Len(t, repo.reminderLogs, 3)

	err = svc.RecordReminderSent(ctx, DocumentKindQuote, quote.ID, "client@example.fr", testNow)
	require.ErrorIs(t, err, ErrReminderCapReached)

	stored, err := svc.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	require.Equal(t, 3, stored.ReminderCount)
}

func TestEvaluateQuoteReminderUnsent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryBillingRepo())

	quote, err := svc.CreateQuote(ctx, createQuoteRequest(), testNow)
	require.NoError(t, err)

	_, err = svc.EvaluateQuoteReminder(ctx, quote.ID, testNow)
	require.ErrorIs(t, err, ErrDocumentNotSent)
}
