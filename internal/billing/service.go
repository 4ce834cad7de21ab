package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RepositoryPort defines data access methods for billing documents.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetQuote(ctx context.Context, id int64) (*Quote, error)
	ListQuotes(ctx context.Context, req ListQuotesRequest) ([]Quote, int, error)
	ListQuotesByStatus(ctx context.Context, status QuoteStatus) ([]Quote, error)
	GenerateQuoteNumber(ctx context.Context, date time.Time) (string, error)

	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceByQuote(ctx context.Context, quoteID int64) (*Invoice, error)
	ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error)
	ListOutstandingInvoices(ctx context.Context) ([]Invoice, error)
	GenerateInvoiceNumber(ctx context.Context, date time.Time) (string, error)

	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateQuote(ctx context.Context, quote Quote) (int64, error)
	InsertQuoteItem(ctx context.Context, quoteID int64, item LineItem) (int64, error)
	DeleteQuoteItems(ctx context.Context, quoteID int64) error
	UpdateQuote(ctx context.Context, quote Quote) error
	UpdateQuoteStatus(ctx context.Context, quote Quote) error

	CreateInvoice(ctx context.Context, invoice Invoice) (int64, error)
	InsertInvoiceItem(ctx context.Context, invoiceID int64, item LineItem) (int64, error)
	UpdateInvoiceStatus(ctx context.Context, invoice Invoice) error
	UpdateInvoicePayment(ctx context.Context, id int64, paidAmount decimal.Decimal, status InvoiceStatus) error
	CreatePayment(ctx context.Context, payment Payment) (int64, error)

	IncrementReminderCount(ctx context.Context, kind DocumentKind, id int64) error
	InsertReminderLog(ctx context.Context, log ReminderLog) error
}

// ServiceConfig carries the scheduling and due-date knobs consumed by the
// engine. Zero values fall back to the product defaults.
type ServiceConfig struct {
	QuoteReminderIntervalDays   int
	InvoiceReminderIntervalDays int
	MaxReminders                int
	DueDateOffsetDays           int
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.QuoteReminderIntervalDays <= 0 {
		c.QuoteReminderIntervalDays = 7
	}
	if c.InvoiceReminderIntervalDays <= 0 {
		c.InvoiceReminderIntervalDays = 10
	}
	if c.MaxReminders <= 0 {
		c.MaxReminders = 3
	}
	if c.DueDateOffsetDays <= 0 {
		c.DueDateOffsetDays = 30
	}
	return c
}

// Service handles the document lifecycle business logic.
type Service struct {
	repo RepositoryPort
	cfg  ServiceConfig
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// ============================================================================
// QUOTE OPERATIONS
// ============================================================================

// CreateQuote creates a new draft quote and its line items.
func (s *Service) CreateQuote(ctx context.Context, req CreateQuoteRequest, now time.Time) (*Quote, error) {
	if err := validateDepositPercent(req.DepositPercent); err != nil {
		return nil, err
	}
	items := make([]LineItem, len(req.Items))
	for i, itemReq := range req.Items {
		items[i] = itemReq.Item()
		if items[i].LineOrder == 0 {
			items[i].LineOrder = i + 1
		}
	}

	totals, err := Aggregate(items)
	if err != nil {
		return nil, err
	}

	docNumber, err := s.repo.GenerateQuoteNumber(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("generate doc number: %w", err)
	}

	quote := Quote{
		DocNumber:      docNumber,
		ClientID:       req.ClientID,
		Status:         QuoteStatusDraft,
		SubtotalHT:     totals.SubtotalHT,
		TotalVAT:       totals.TotalVAT,
		TotalTTC:       totals.TotalTTC,
		DepositPercent: req.DepositPercent,
		Notes:          req.Notes,
	}
	applyDepositPercent(&quote)

	var quoteID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateQuote(ctx, quote)
		if err != nil {
			return fmt.Errorf("create quote: %w", err)
		}
		quoteID = id
		for _, item := range items {
			if _, err := tx.InsertQuoteItem(ctx, quoteID, item); err != nil {
				return fmt.Errorf("insert quote item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetQuote(ctx, quoteID)
}

// UpdateQuote updates a quote while it is still editable (DRAFT or SENT).
func (s *Service) UpdateQuote(ctx context.Context, id int64, req UpdateQuoteRequest) (*Quote, error) {
	existing, err := s.repo.GetQuote(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	if !existing.Editable() {
		return nil, fmt.Errorf("%w: quote is %s", ErrDocumentLocked, existing.Status)
	}

	if req.DepositPercent != nil {
		if err := validateDepositPercent(req.DepositPercent); err != nil {
			return nil, err
		}
		existing.DepositPercent = req.DepositPercent
	}
	if req.Notes != nil {
		existing.Notes = req.Notes
	}

	var items []LineItem
	if req.Items != nil {
		items = make([]LineItem, len(*req.Items))
		for i, itemReq := range *req.Items {
			items[i] = itemReq.Item()
			if items[i].LineOrder == 0 {
				items[i].LineOrder = i + 1
			}
		}
		totals, err := Aggregate(items)
		if err != nil {
			return nil, err
		}
		existing.SubtotalHT = totals.SubtotalHT
		existing.TotalVAT = totals.TotalVAT
		existing.TotalTTC = totals.TotalTTC
	}
	applyDepositPercent(existing)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateQuote(ctx, *existing); err != nil {
			return fmt.Errorf("update quote: %w", err)
		}
		if items == nil {
			return nil
		}
		if err := tx.DeleteQuoteItems(ctx, id); err != nil {
			return fmt.Errorf("delete quote items: %w", err)
		}
		for _, item := range items {
			if _, err := tx.InsertQuoteItem(ctx, id, item); err != nil {
				return fmt.Errorf("insert quote item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetQuote(ctx, id)
}

// validateDepositPercent bounds the deposit percentage to (0, 100]. Anything
// above 100 would derive a deposit larger than the quote total.
func validateDepositPercent(percent *decimal.Decimal) error {
	if percent == nil {
		return nil
	}
	if !percent.IsPositive() || percent.GreaterThan(hundred) {
		return fmt.Errorf("%w: got %s", ErrInvalidDepositPercent, percent.String())
	}
	return nil
}

// applyDepositPercent derives the pending deposit amount from the configured
// percentage while the quote is still editable. Once the deposit is PAID the
// amount is frozen and never touched again.
func applyDepositPercent(q *Quote) {
	if q.DepositStatus != nil && *q.DepositStatus == DepositStatusPaid {
		return
	}
	if q.DepositPercent == nil || !q.DepositPercent.IsPositive() {
		return
	}
	q.DepositAmount = q.TotalTTC.Mul(*q.DepositPercent).Div(hundred).Round(2)
	if q.DepositStatus == nil {
		pending := DepositStatusPending
		q.DepositStatus = &pending
	}
}

// SendQuote transitions a quote to SENT and stamps sent_at.
func (s *Service) SendQuote(ctx context.Context, id int64, now time.Time) (*Quote, error) {
	return s.transitionQuote(ctx, id, QuoteStatusSent, now, nil)
}

// SignQuote attaches the signature artifact and transitions to SIGNED.
func (s *Service) SignQuote(ctx context.Context, id int64, req SignQuoteRequest, now time.Time) (*Quote, error) {
	return s.transitionQuote(ctx, id, QuoteStatusSigned, now, func(q *Quote) {
		q.SignatureRef = &req.SignatureRef
	})
}

// MarkDepositPaid fixes the deposit and transitions to DEPOSIT_PAID. The
// amount recorded here is final, regardless of anything that happens later.
func (s *Service) MarkDepositPaid(ctx context.Context, id int64, req MarkDepositPaidRequest, now time.Time) (*Quote, error) {
	paidAt := now
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}
	return s.transitionQuote(ctx, id, QuoteStatusDepositPaid, now, func(q *Quote) {
		paid := DepositStatusPaid
		q.DepositStatus = &paid
		q.DepositPaidAt = &paidAt
		q.DepositMethod = &req.Method
	})
}

// CompleteQuote transitions a quote to COMPLETED.
func (s *Service) CompleteQuote(ctx context.Context, id int64, now time.Time) (*Quote, error) {
	return s.transitionQuote(ctx, id, QuoteStatusCompleted, now, nil)
}

// CancelQuote cancels a quote from any non-terminal status.
func (s *Service) CancelQuote(ctx context.Context, id int64, now time.Time) (*Quote, error) {
	return s.transitionQuote(ctx, id, QuoteStatusCanceled, now, nil)
}

// transitionQuote is the single path through which a stored quote status
// changes. mutate runs before validation so preconditions see the new fields.
func (s *Service) transitionQuote(ctx context.Context, id int64, target QuoteStatus, now time.Time, mutate func(*Quote)) (*Quote, error) {
	existing, err := s.repo.GetQuote(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	if mutate != nil {
		mutate(existing)
	}

	updated, err := TransitionQuoteStatus(*existing, target, now)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateQuoteStatus(ctx, updated)
	})
	if err != nil {
		return nil, fmt.Errorf("update quote status: %w", err)
	}

	return s.repo.GetQuote(ctx, id)
}

// GetQuote retrieves a quote by ID.
func (s *Service) GetQuote(ctx context.Context, id int64) (*Quote, error) {
	return s.repo.GetQuote(ctx, id)
}

// ListQuotes returns a paginated list of quotes.
func (s *Service) ListQuotes(ctx context.Context, req ListQuotesRequest) ([]Quote, int, error) {
	return s.repo.ListQuotes(ctx, req)
}

// ============================================================================
// CONVERSION
// ============================================================================

// ConvertQuote derives the one invoice a quote may produce. The duplicate
// guard runs against storage, not memory: a pre-check catches the common
// case and the unique quote_id index closes the race between two concurrent
// conversions.
func (s *Service) ConvertQuote(ctx context.Context, quoteID int64, now time.Time) (*Invoice, error) {
	quote, err := s.repo.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}

	existing, err := s.repo.GetInvoiceByQuote(ctx, quoteID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check existing invoice: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: invoice %s", ErrDuplicateConversion, existing.DocNumber)
	}

	draft, err := BuildInvoiceDraft(quote, now, s.cfg.DueDateOffsetDays)
	if err != nil {
		return nil, err
	}

	docNumber, err := s.repo.GenerateInvoiceNumber(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("generate doc number: %w", err)
	}

	invoice := Invoice{
		DocNumber:     docNumber,
		QuoteID:       &draft.QuoteID,
		ClientID:      draft.ClientID,
		PaymentStatus: draft.PaymentStatus,
		IssueDate:     draft.IssueDate,
		DueDate:       draft.DueDate,
		SubtotalHT:    draft.SubtotalHT,
		TotalVAT:      draft.TotalVAT,
		TotalTTC:      draft.TotalTTC,
		TaxRate:       draft.TaxRate,
		PaidAmount:    draft.PaidAmount,
		Notes:         draft.Notes,
	}

	var invoiceID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateInvoice(ctx, invoice)
		if err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		invoiceID = id
		for _, item := range draft.Items {
			if _, err := tx.InsertInvoiceItem(ctx, invoiceID, item); err != nil {
				return fmt.Errorf("insert invoice item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetInvoice(ctx, invoiceID)
}

// ============================================================================
// INVOICE OPERATIONS
// ============================================================================

// SendInvoice transitions an invoice to SENT and stamps sent_at.
func (s *Service) SendInvoice(ctx context.Context, id int64, now time.Time) (*Invoice, error) {
	existing, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	// An invoice born PARTIAL from a deposit carry-over never passes through
	// SENT. Dispatching it only stamps sent_at, so the balance still accrues
	// reminders.
	if existing.PaymentStatus == InvoiceStatusPartial && existing.SentAt == nil {
		updated := *existing
		sentAt := now
		updated.SentAt = &sentAt
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateInvoiceStatus(ctx, updated)
		})
		if err != nil {
			return nil, fmt.Errorf("update invoice status: %w", err)
		}
		return s.repo.GetInvoice(ctx, id)
	}

	return s.transitionInvoice(ctx, id, InvoiceStatusSent, now)
}

// CancelInvoice voids an invoice.
func (s *Service) CancelInvoice(ctx context.Context, id int64, now time.Time) (*Invoice, error) {
	return s.transitionInvoice(ctx, id, InvoiceStatusCanceled, now)
}

func (s *Service) transitionInvoice(ctx context.Context, id int64, target InvoiceStatus, now time.Time) (*Invoice, error) {
	existing, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	updated, err := TransitionInvoiceStatus(*existing, target, now)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateInvoiceStatus(ctx, updated)
	})
	if err != nil {
		return nil, fmt.Errorf("update invoice status: %w", err)
	}

	return s.repo.GetInvoice(ctx, id)
}

// RecordPayment registers a payment against an invoice. paid_amount never
// exceeds total_ttc, and reaching the total moves the invoice to PAID
// through the state machine.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, req RecordPaymentRequest, now time.Time) (*Invoice, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidLineItem)
	}

	existing, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	newPaid := existing.PaidAmount.Add(req.Amount)
	if newPaid.GreaterThan(existing.TotalTTC) {
		return nil, fmt.Errorf("%w: %s + %s > %s", ErrPaymentExceedsTotal,
			existing.PaidAmount, req.Amount, existing.TotalTTC)
	}

	target := InvoiceStatusPartial
	if newPaid.GreaterThanOrEqual(existing.TotalTTC) {
		target = InvoiceStatusPaid
	}

	updated := *existing
	updated.PaidAmount = newPaid
	if target != updated.PaymentStatus {
		updated, err = TransitionInvoiceStatus(updated, target, now)
		if err != nil {
			return nil, err
		}
	}

	paidAt := now
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}
	payment := Payment{
		InvoiceID: invoiceID,
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		PaidAt:    paidAt,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.CreatePayment(ctx, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		return tx.UpdateInvoicePayment(ctx, invoiceID, newPaid, updated.PaymentStatus)
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetInvoice(ctx, invoiceID)
}

// GetInvoice retrieves an invoice by ID, with OVERDUE resolved.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns a paginated list of invoices.
func (s *Service) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	return s.repo.ListInvoices(ctx, req)
}

// ListPayments returns the payments recorded against an invoice.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, invoiceID)
}

// ============================================================================
// REMINDERS
// ============================================================================

// DueReminder pairs a document with its evaluated reminder state.
type DueReminder struct {
	Kind       DocumentKind  `json:"kind"`
	DocumentID int64         `json:"document_id"`
	DocNumber  string        `json:"doc_number"`
	ClientID   int64         `json:"client_id"`
	State      ReminderState `json:"state"`
}

// EvaluateQuoteReminder evaluates the reminder schedule for one quote.
func (s *Service) EvaluateQuoteReminder(ctx context.Context, id int64, now time.Time) (ReminderState, error) {
	quote, err := s.repo.GetQuote(ctx, id)
	if err != nil {
		return ReminderState{}, fmt.Errorf("get quote: %w", err)
	}
	return EvaluateReminder(quote.SentAt, quote.ReminderCount, now, s.cfg.QuoteReminderIntervalDays, s.cfg.MaxReminders)
}

// EvaluateInvoiceReminder evaluates the reminder schedule for one invoice.
func (s *Service) EvaluateInvoiceReminder(ctx context.Context, id int64, now time.Time) (ReminderState, error) {
	invoice, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return ReminderState{}, fmt.Errorf("get invoice: %w", err)
	}
	return EvaluateReminder(invoice.SentAt, invoice.ReminderCount, now, s.cfg.InvoiceReminderIntervalDays, s.cfg.MaxReminders)
}

// DueReminders scans sent quotes awaiting signature and outstanding invoices
// and returns the documents whose next reminder is due now. Evaluation is on
// demand; nothing here schedules anything.
func (s *Service) DueReminders(ctx context.Context, now time.Time) ([]DueReminder, error) {
	var due []DueReminder

	quotes, err := s.repo.ListQuotesByStatus(ctx, QuoteStatusSent)
	if err != nil {
		return nil, fmt.Errorf("list sent quotes: %w", err)
	}
	for _, q := range quotes {
		state, err := EvaluateReminder(q.SentAt, q.ReminderCount, now, s.cfg.QuoteReminderIntervalDays, s.cfg.MaxReminders)
		if err != nil {
			continue
		}
		if state.NextReminderDue {
			due = append(due, DueReminder{
				Kind:       DocumentKindQuote,
				DocumentID: q.ID,
				DocNumber:  q.DocNumber,
				ClientID:   q.ClientID,
				State:      state,
			})
		}
	}

	invoices, err := s.repo.ListOutstandingInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list outstanding invoices: %w", err)
	}
	for _, inv := range invoices {
		state, err := EvaluateReminder(inv.SentAt, inv.ReminderCount, now, s.cfg.InvoiceReminderIntervalDays, s.cfg.MaxReminders)
		if err != nil {
			continue
		}
		if state.NextReminderDue {
			due = append(due, DueReminder{
				Kind:       DocumentKindInvoice,
				DocumentID: inv.ID,
				DocNumber:  inv.DocNumber,
				ClientID:   inv.ClientID,
				State:      state,
			})
		}
	}

	return due, nil
}

// RecordReminderSent increments the document's reminder count and appends the
// audit record, after the caller has actually sent the nudge. The cap is
// re-checked here so a slow worker cannot push past it.
func (s *Service) RecordReminderSent(ctx context.Context, kind DocumentKind, id int64, sentTo string, now time.Time) error {
	var count int
	switch kind {
	case DocumentKindQuote:
		quote, err := s.repo.GetQuote(ctx, id)
		if err != nil {
			return fmt.Errorf("get quote: %w", err)
		}
		count = quote.ReminderCount
	case DocumentKindInvoice:
		invoice, err := s.repo.GetInvoice(ctx, id)
		if err != nil {
			return fmt.Errorf("get invoice: %w", err)
		}
		count = invoice.ReminderCount
	default:
		return fmt.Errorf("unknown document kind %q", kind)
	}

	if count >= s.cfg.MaxReminders {
		return fmt.Errorf("%w: %d reminders already sent", ErrReminderCapReached, count)
	}

	log := ReminderLog{
		ID:           uuid.New(),
		DocumentKind: kind,
		DocumentID:   id,
		SentTo:       sentTo,
		SentAt:       now,
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.IncrementReminderCount(ctx, kind, id); err != nil {
			return fmt.Errorf("increment reminder count: %w", err)
		}
		if err := tx.InsertReminderLog(ctx, log); err != nil {
			return fmt.Errorf("insert reminder log: %w", err)
		}
		return nil
	})
}
