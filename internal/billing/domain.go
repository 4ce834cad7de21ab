package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// QUOTE
// ============================================================================

type QuoteStatus string

const (
	QuoteStatusDraft       QuoteStatus = "DRAFT"
	QuoteStatusSent        QuoteStatus = "SENT"
	QuoteStatusSigned      QuoteStatus = "SIGNED"
	QuoteStatusDepositPaid QuoteStatus = "DEPOSIT_PAID"
	QuoteStatusCompleted   QuoteStatus = "COMPLETED"
	QuoteStatusCanceled    QuoteStatus = "CANCELED"
)

type DepositStatus string

const (
	DepositStatusPending DepositStatus = "PENDING"
	DepositStatusPaid    DepositStatus = "PAID"
)

type Quote struct {
	ID             int64            `json:"id" db:"id"`
	DocNumber      string           `json:"doc_number" db:"doc_number"`
	ClientID       int64            `json:"client_id" db:"client_id"`
	Status         QuoteStatus      `json:"status" db:"status"`
	SubtotalHT     decimal.Decimal  `json:"subtotal_ht" db:"subtotal_ht"`
	TotalVAT       decimal.Decimal  `json:"total_vat" db:"total_vat"`
	TotalTTC       decimal.Decimal  `json:"total_ttc" db:"total_ttc"`
	SentAt         *time.Time       `json:"sent_at,omitempty" db:"sent_at"`
	SignatureRef   *string          `json:"signature_ref,omitempty" db:"signature_ref"`
	DepositPercent *decimal.Decimal `json:"deposit_percent,omitempty" db:"deposit_percent"`
	DepositAmount  decimal.Decimal  `json:"deposit_amount" db:"deposit_amount"`
	DepositStatus  *DepositStatus   `json:"deposit_status,omitempty" db:"deposit_status"`
	DepositPaidAt  *time.Time       `json:"deposit_paid_at,omitempty" db:"deposit_paid_at"`
	DepositMethod  *string          `json:"deposit_method,omitempty" db:"deposit_method"`
	ReminderCount  int              `json:"reminder_count" db:"reminder_count"`
	Notes          *string          `json:"notes,omitempty" db:"notes"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
	Items          []LineItem       `json:"items,omitempty" db:"-"`
}

// Editable reports whether the quote's line items may still change.
func (q *Quote) Editable() bool {
	return q.Status == QuoteStatusDraft || q.Status == QuoteStatusSent
}

// ============================================================================
// INVOICE
// ============================================================================

type InvoiceStatus string

const (
	InvoiceStatusDraft    InvoiceStatus = "DRAFT"
	InvoiceStatusSent     InvoiceStatus = "SENT"
	InvoiceStatusPartial  InvoiceStatus = "PARTIAL"
	InvoiceStatusPaid     InvoiceStatus = "PAID"
	InvoiceStatusOverdue  InvoiceStatus = "OVERDUE"
	InvoiceStatusCanceled InvoiceStatus = "CANCELED"
)

type Invoice struct {
	ID            int64           `json:"id" db:"id"`
	DocNumber     string          `json:"doc_number" db:"doc_number"`
	QuoteID       *int64          `json:"quote_id,omitempty" db:"quote_id"`
	ClientID      int64           `json:"client_id" db:"client_id"`
	PaymentStatus InvoiceStatus   `json:"payment_status" db:"payment_status"`
	IssueDate     time.Time       `json:"issue_date" db:"issue_date"`
	DueDate       time.Time       `json:"due_date" db:"due_date"`
	SubtotalHT    decimal.Decimal `json:"subtotal_ht" db:"subtotal_ht"`
	TotalVAT      decimal.Decimal `json:"total_vat" db:"total_vat"`
	TotalTTC      decimal.Decimal `json:"total_ttc" db:"total_ttc"`
	TaxRate       decimal.Decimal `json:"tax_rate" db:"tax_rate"`
	PaidAmount    decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	SentAt        *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	ReminderCount int             `json:"reminder_count" db:"reminder_count"`
	Notes         *string         `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	Items         []LineItem      `json:"items,omitempty" db:"-"`
}

// EffectiveStatus resolves the derived OVERDUE state. An unpaid invoice past
// its due date reads as OVERDUE without a stored transition.
func (inv *Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if (inv.PaymentStatus == InvoiceStatusSent || inv.PaymentStatus == InvoiceStatusPartial) &&
		now.After(inv.DueDate) {
		return InvoiceStatusOverdue
	}
	return inv.PaymentStatus
}

// InvoiceDraft is the result of converting a quote. The caller persists it;
// the converter itself has no side effects.
type InvoiceDraft struct {
	QuoteID       int64           `json:"quote_id"`
	ClientID      int64           `json:"client_id"`
	PaymentStatus InvoiceStatus   `json:"payment_status"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `json:"due_date"`
	SubtotalHT    decimal.Decimal `json:"subtotal_ht"`
	TotalVAT      decimal.Decimal `json:"total_vat"`
	TotalTTC      decimal.Decimal `json:"total_ttc"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Notes         *string         `json:"notes,omitempty"`
	Items         []LineItem      `json:"items"`
}

// ============================================================================
// LINE ITEMS & PAYMENTS
// ============================================================================

// LineItem is owned by its parent document and frozen once the parent leaves
// an editable state.
type LineItem struct {
	ID          int64           `json:"id" db:"id"`
	Description string          `json:"description" db:"description"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPriceHT decimal.Decimal `json:"unit_price_ht" db:"unit_price_ht"`
	VATRate     decimal.Decimal `json:"vat_rate" db:"vat_rate"`
	LineOrder   int             `json:"line_order" db:"line_order"`
}

type Payment struct {
	ID        int64           `json:"id" db:"id"`
	InvoiceID int64           `json:"invoice_id" db:"invoice_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Method    string          `json:"method" db:"method"`
	Reference *string         `json:"reference,omitempty" db:"reference"`
	PaidAt    time.Time       `json:"paid_at" db:"paid_at"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// DocumentKind distinguishes reminder targets.
type DocumentKind string

const (
	DocumentKindQuote   DocumentKind = "QUOTE"
	DocumentKindInvoice DocumentKind = "INVOICE"
)

// ReminderLog records one nudge actually sent, appended after a successful
// send. The scheduler itself never writes it.
type ReminderLog struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	DocumentKind DocumentKind `json:"document_kind" db:"document_kind"`
	DocumentID   int64        `json:"document_id" db:"document_id"`
	SentTo       string       `json:"sent_to" db:"sent_to"`
	SentAt       time.Time    `json:"sent_at" db:"sent_at"`
}

// ============================================================================
// REQUESTS
// ============================================================================

type LineItemRequest struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPriceHT decimal.Decimal `json:"unit_price_ht"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	LineOrder   int             `json:"line_order" validate:"gte=0"`
}

// Item converts the request into a LineItem. Numeric bounds are enforced by
// the tax calculator, which owns line validation.
func (r LineItemRequest) Item() LineItem {
	return LineItem{
		Description: r.Description,
		Quantity:    r.Quantity,
		UnitPriceHT: r.UnitPriceHT,
		VATRate:     r.VATRate,
		LineOrder:   r.LineOrder,
	}
}

type CreateQuoteRequest struct {
	ClientID       int64             `json:"client_id" validate:"required,gt=0"`
	DepositPercent *decimal.Decimal  `json:"deposit_percent,omitempty"`
	Notes          *string           `json:"notes,omitempty"`
	Items          []LineItemRequest `json:"items" validate:"dive"`
}

type UpdateQuoteRequest struct {
	DepositPercent *decimal.Decimal   `json:"deposit_percent,omitempty"`
	Notes          *string            `json:"notes,omitempty"`
	Items          *[]LineItemRequest `json:"items,omitempty" validate:"omitempty,min=1,dive"`
}

type SignQuoteRequest struct {
	SignatureRef string `json:"signature_ref" validate:"required,max=200"`
}

type MarkDepositPaidRequest struct {
	Method string     `json:"method" validate:"required,max=50"`
	PaidAt *time.Time `json:"paid_at,omitempty"`
}

type RecordPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required,max=50"`
	Reference *string         `json:"reference,omitempty" validate:"omitempty,max=100"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
}

type ListQuotesRequest struct {
	ClientID *int64       `json:"client_id,omitempty"`
	Status   *QuoteStatus `json:"status,omitempty"`
	Limit    int          `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int          `json:"offset" validate:"gte=0"`
}

type ListInvoicesRequest struct {
	ClientID *int64         `json:"client_id,omitempty"`
	Status   *InvoiceStatus `json:"status,omitempty"`
	Limit    int            `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int            `json:"offset" validate:"gte=0"`
}
