package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for billing documents.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const (
	pgUniqueViolation        = "23505"
	invoiceQuoteIDConstraint = "invoices_quote_id_key"
)

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

// ============================================================================
// QUOTES
// ============================================================================

const quoteColumns = `
	id, doc_number, client_id, status,
	subtotal_ht::text, total_vat::text, total_ttc::text,
	sent_at, signature_ref,
	deposit_percent::text, deposit_amount::text, deposit_status, deposit_paid_at, deposit_method,
	reminder_count, notes, created_at, updated_at`

func scanQuote(row pgx.Row) (*Quote, error) {
	var q Quote
	var subtotalHT, totalVAT, totalTTC, depositAmount string
	var sentAt, depositPaidAt pgtype.Timestamptz
	var signatureRef, depositPercent, depositStatus, depositMethod, notes pgtype.Text

	err := row.Scan(
		&q.ID, &q.DocNumber, &q.ClientID, &q.Status,
		&subtotalHT, &totalVAT, &totalTTC,
		&sentAt, &signatureRef,
		&depositPercent, &depositAmount, &depositStatus, &depositPaidAt, &depositMethod,
		&q.ReminderCount, &notes, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if q.SubtotalHT, err = decimal.NewFromString(subtotalHT); err != nil {
		return nil, fmt.Errorf("parse subtotal_ht: %w", err)
	}
	if q.TotalVAT, err = decimal.NewFromString(totalVAT); err != nil {
		return nil, fmt.Errorf("parse total_vat: %w", err)
	}
	if q.TotalTTC, err = decimal.NewFromString(totalTTC); err != nil {
		return nil, fmt.Errorf("parse total_ttc: %w", err)
	}
	if q.DepositAmount, err = decimal.NewFromString(depositAmount); err != nil {
		return nil, fmt.Errorf("parse deposit_amount: %w", err)
	}
	if depositPercent.Valid {
		pct, err := decimal.NewFromString(depositPercent.String)
		if err != nil {
			return nil, fmt.Errorf("parse deposit_percent: %w", err)
		}
		q.DepositPercent = &pct
	}
	if sentAt.Valid {
		t := sentAt.Time
		q.SentAt = &t
	}
	if depositPaidAt.Valid {
		t := depositPaidAt.Time
		q.DepositPaidAt = &t
	}
	if signatureRef.Valid {
		v := signatureRef.String
		q.SignatureRef = &v
	}
	if depositStatus.Valid {
		v := DepositStatus(depositStatus.String)
		q.DepositStatus = &v
	}
	if depositMethod.Valid {
		v := depositMethod.String
		q.DepositMethod = &v
	}
	if notes.Valid {
		v := notes.String
		q.Notes = &v
	}
	return &q, nil
}

// GetQuote retrieves a quote and its line items.
func (r *Repository) GetQuote(ctx context.Context, id int64) (*Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1`
	q, err := scanQuote(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	items, err := r.listItems(ctx, "quote_items", "quote_id", id)
	if err != nil {
		return nil, err
	}
	q.Items = items
	return q, nil
}

// ListQuotes returns a filtered, paginated quote list without items.
func (r *Repository) ListQuotes(ctx context.Context, req ListQuotesRequest) ([]Quote, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argn := 1
	if req.ClientID != nil {
		where += fmt.Sprintf(" AND client_id = $%d", argn)
		args = append(args, *req.ClientID)
		argn++
	}
	if req.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argn)
		args = append(args, *req.Status)
		argn++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM quotes"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + quoteColumns + ` FROM quotes` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argn, argn+1)
	args = append(args, limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, 0, err
		}
		quotes = append(quotes, *q)
	}
	return quotes, total, rows.Err()
}

// ListQuotesByStatus returns every quote in one status, items omitted.
func (r *Repository) ListQuotesByStatus(ctx context.Context, status QuoteStatus) ([]Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE status = $1 ORDER BY sent_at`
	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, *q)
	}
	return quotes, rows.Err()
}

// GenerateQuoteNumber produces the next DEV-YYYY-NNNN number for the year.
func (r *Repository) GenerateQuoteNumber(ctx context.Context, date time.Time) (string, error) {
	return r.generateDocNumber(ctx, "DEV", date)
}

// GenerateInvoiceNumber produces the next FAC-YYYY-NNNN number for the year.
func (r *Repository) GenerateInvoiceNumber(ctx context.Context, date time.Time) (string, error) {
	return r.generateDocNumber(ctx, "FAC", date)
}

// generateDocNumber allocates the next sequence value for the prefix and
// year through an atomic counter upsert. The row lock serializes concurrent
// allocations, so two conversions can never draw the same number.
func (r *Repository) generateDocNumber(ctx context.Context, prefix string, date time.Time) (string, error) {
	query := `
		INSERT INTO doc_counters (prefix, year, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, year) DO UPDATE SET value = doc_counters.value + 1
		RETURNING value`
	var value int
	if err := r.pool.QueryRow(ctx, query, prefix, date.Year()).Scan(&value); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%04d", prefix, date.Year(), value), nil
}

// ============================================================================
// INVOICES
// ============================================================================

const invoiceColumns = `
	id, doc_number, quote_id, client_id, payment_status,
	issue_date, due_date,
	subtotal_ht::text, total_vat::text, total_ttc::text, tax_rate::text, paid_amount::text,
	sent_at, reminder_count, notes, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var subtotalHT, totalVAT, totalTTC, taxRate, paidAmount string
	var quoteID pgtype.Int8
	var sentAt pgtype.Timestamptz
	var notes pgtype.Text

	err := row.Scan(
		&inv.ID, &inv.DocNumber, &quoteID, &inv.ClientID, &inv.PaymentStatus,
		&inv.IssueDate, &inv.DueDate,
		&subtotalHT, &totalVAT, &totalTTC, &taxRate, &paidAmount,
		&sentAt, &inv.ReminderCount, &notes, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inv.SubtotalHT, err = decimal.NewFromString(subtotalHT); err != nil {
		return nil, fmt.Errorf("parse subtotal_ht: %w", err)
	}
	if inv.TotalVAT, err = decimal.NewFromString(totalVAT); err != nil {
		return nil, fmt.Errorf("parse total_vat: %w", err)
	}
	if inv.TotalTTC, err = decimal.NewFromString(totalTTC); err != nil {
		return nil, fmt.Errorf("parse total_ttc: %w", err)
	}
	if inv.TaxRate, err = decimal.NewFromString(taxRate); err != nil {
		return nil, fmt.Errorf("parse tax_rate: %w", err)
	}
	if inv.PaidAmount, err = decimal.NewFromString(paidAmount); err != nil {
		return nil, fmt.Errorf("parse paid_amount: %w", err)
	}
	if quoteID.Valid {
		v := quoteID.Int64
		inv.QuoteID = &v
	}
	if sentAt.Valid {
		t := sentAt.Time
		inv.SentAt = &t
	}
	if notes.Valid {
		v := notes.String
		inv.Notes = &v
	}
	return &inv, nil
}

// GetInvoice retrieves an invoice and its line items.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := scanInvoice(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	items, err := r.listItems(ctx, "invoice_items", "invoice_id", id)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

// GetInvoiceByQuote retrieves the invoice derived from a quote, if any.
func (r *Repository) GetInvoiceByQuote(ctx context.Context, quoteID int64) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE quote_id = $1`
	inv, err := scanInvoice(r.pool.QueryRow(ctx, query, quoteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns a filtered, paginated invoice list without items.
func (r *Repository) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argn := 1
	if req.ClientID != nil {
		where += fmt.Sprintf(" AND client_id = $%d", argn)
		args = append(args, *req.ClientID)
		argn++
	}
	if req.Status != nil {
		where += fmt.Sprintf(" AND payment_status = $%d", argn)
		args = append(args, *req.Status)
		argn++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argn, argn+1)
	args = append(args, limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, total, rows.Err()
}

// ListOutstandingInvoices returns sent invoices not yet fully paid.
func (r *Repository) ListOutstandingInvoices(ctx context.Context) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE payment_status IN ('SENT', 'PARTIAL') ORDER BY due_date`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// ListPayments returns the payments recorded against an invoice.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	query := `SELECT id, invoice_id, amount::text, method, reference, paid_at, created_at
		FROM payments WHERE invoice_id = $1 ORDER BY paid_at`
	rows, err := r.pool.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		var amount string
		var reference pgtype.Text
		if err := rows.Scan(&p.ID, &p.InvoiceID, &amount, &p.Method, &reference, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		if reference.Valid {
			v := reference.String
			p.Reference = &v
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *Repository) listItems(ctx context.Context, table, fk string, parentID int64) ([]LineItem, error) {
	query := fmt.Sprintf(`SELECT id, description, quantity::text, unit_price_ht::text, vat_rate::text, line_order
		FROM %s WHERE %s = $1 ORDER BY line_order`, table, fk)
	rows, err := r.pool.Query(ctx, query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var item LineItem
		var quantity, unitPrice, vatRate string
		if err := rows.Scan(&item.ID, &item.Description, &quantity, &unitPrice, &vatRate, &item.LineOrder); err != nil {
			return nil, err
		}
		if item.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if item.UnitPriceHT, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("parse unit_price_ht: %w", err)
		}
		if item.VATRate, err = decimal.NewFromString(vatRate); err != nil {
			return nil, fmt.Errorf("parse vat_rate: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

func (t *txRepo) CreateQuote(ctx context.Context, quote Quote) (int64, error) {
	query := `
		INSERT INTO quotes (
			doc_number, client_id, status, subtotal_ht, total_vat, total_ttc,
			deposit_percent, deposit_amount, deposit_status, notes, reminder_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, NOW(), NOW())
		RETURNING id`

	var depositPercent, depositStatus, notes pgtype.Text
	if quote.DepositPercent != nil {
		depositPercent = pgtype.Text{String: quote.DepositPercent.String(), Valid: true}
	}
	if quote.DepositStatus != nil {
		depositStatus = pgtype.Text{String: string(*quote.DepositStatus), Valid: true}
	}
	if quote.Notes != nil {
		notes = pgtype.Text{String: *quote.Notes, Valid: true}
	}

	var id int64
	err := t.tx.QueryRow(ctx, query,
		quote.DocNumber, quote.ClientID, quote.Status,
		quote.SubtotalHT.String(), quote.TotalVAT.String(), quote.TotalTTC.String(),
		depositPercent, quote.DepositAmount.String(), depositStatus, notes,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertQuoteItem(ctx context.Context, quoteID int64, item LineItem) (int64, error) {
	return t.insertItem(ctx, "quote_items", "quote_id", quoteID, item)
}

func (t *txRepo) DeleteQuoteItems(ctx context.Context, quoteID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM quote_items WHERE quote_id = $1`, quoteID)
	return err
}

func (t *txRepo) UpdateQuote(ctx context.Context, quote Quote) error {
	query := `
		UPDATE quotes SET
			subtotal_ht = $2, total_vat = $3, total_ttc = $4,
			deposit_percent = $5, deposit_amount = $6, deposit_status = $7,
			notes = $8, updated_at = NOW()
		WHERE id = $1`

	var depositPercent, depositStatus, notes pgtype.Text
	if quote.DepositPercent != nil {
		depositPercent = pgtype.Text{String: quote.DepositPercent.String(), Valid: true}
	}
	if quote.DepositStatus != nil {
		depositStatus = pgtype.Text{String: string(*quote.DepositStatus), Valid: true}
	}
	if quote.Notes != nil {
		notes = pgtype.Text{String: *quote.Notes, Valid: true}
	}

	_, err := t.tx.Exec(ctx, query, quote.ID,
		quote.SubtotalHT.String(), quote.TotalVAT.String(), quote.TotalTTC.String(),
		depositPercent, quote.DepositAmount.String(), depositStatus, notes,
	)
	return err
}

// UpdateQuoteStatus persists a status change along with the fields the
// transition stamped (sent_at, signature, deposit).
func (t *txRepo) UpdateQuoteStatus(ctx context.Context, quote Quote) error {
	query := `
		UPDATE quotes SET
			status = $2, sent_at = $3, signature_ref = $4,
			deposit_amount = $5, deposit_status = $6, deposit_paid_at = $7, deposit_method = $8,
			updated_at = NOW()
		WHERE id = $1`

	var sentAt, depositPaidAt pgtype.Timestamptz
	if quote.SentAt != nil {
		sentAt = pgtype.Timestamptz{Time: *quote.SentAt, Valid: true}
	}
	if quote.DepositPaidAt != nil {
		depositPaidAt = pgtype.Timestamptz{Time: *quote.DepositPaidAt, Valid: true}
	}
	var signatureRef, depositStatus, depositMethod pgtype.Text
	if quote.SignatureRef != nil {
		signatureRef = pgtype.Text{String: *quote.SignatureRef, Valid: true}
	}
	if quote.DepositStatus != nil {
		depositStatus = pgtype.Text{String: string(*quote.DepositStatus), Valid: true}
	}
	if quote.DepositMethod != nil {
		depositMethod = pgtype.Text{String: *quote.DepositMethod, Valid: true}
	}

	_, err := t.tx.Exec(ctx, query, quote.ID,
		quote.Status, sentAt, signatureRef,
		quote.DepositAmount.String(), depositStatus, depositPaidAt, depositMethod,
	)
	return err
}

// CreateInvoice inserts the invoice. The unique index on quote_id turns a
// concurrent double conversion into ErrDuplicateConversion.
func (t *txRepo) CreateInvoice(ctx context.Context, invoice Invoice) (int64, error) {
	query := `
		INSERT INTO invoices (
			doc_number, quote_id, client_id, payment_status, issue_date, due_date,
			subtotal_ht, total_vat, total_ttc, tax_rate, paid_amount,
			notes, reminder_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, NOW(), NOW())
		RETURNING id`

	var quoteID pgtype.Int8
	if invoice.QuoteID != nil {
		quoteID = pgtype.Int8{Int64: *invoice.QuoteID, Valid: true}
	}
	var notes pgtype.Text
	if invoice.Notes != nil {
		notes = pgtype.Text{String: *invoice.Notes, Valid: true}
	}

	var id int64
	err := t.tx.QueryRow(ctx, query,
		invoice.DocNumber, quoteID, invoice.ClientID, invoice.PaymentStatus,
		invoice.IssueDate, invoice.DueDate,
		invoice.SubtotalHT.String(), invoice.TotalVAT.String(), invoice.TotalTTC.String(),
		invoice.TaxRate.String(), invoice.PaidAmount.String(), notes,
	).Scan(&id)
	if err != nil {
		return 0, mapInvoiceInsertError(err)
	}
	return id, nil
}

// mapInvoiceInsertError narrows a unique violation on the quote_id index to
// ErrDuplicateConversion. Collisions on other constraints, like doc_number,
// are not conversions and pass through untouched.
func mapInvoiceInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == invoiceQuoteIDConstraint {
		return ErrDuplicateConversion
	}
	return err
}

func (t *txRepo) InsertInvoiceItem(ctx context.Context, invoiceID int64, item LineItem) (int64, error) {
	return t.insertItem(ctx, "invoice_items", "invoice_id", invoiceID, item)
}

func (t *txRepo) UpdateInvoiceStatus(ctx context.Context, invoice Invoice) error {
	query := `UPDATE invoices SET payment_status = $2, sent_at = $3, updated_at = NOW() WHERE id = $1`
	var sentAt pgtype.Timestamptz
	if invoice.SentAt != nil {
		sentAt = pgtype.Timestamptz{Time: *invoice.SentAt, Valid: true}
	}
	_, err := t.tx.Exec(ctx, query, invoice.ID, invoice.PaymentStatus, sentAt)
	return err
}

func (t *txRepo) UpdateInvoicePayment(ctx context.Context, id int64, paidAmount decimal.Decimal, status InvoiceStatus) error {
	query := `UPDATE invoices SET paid_amount = $2, payment_status = $3, updated_at = NOW() WHERE id = $1`
	_, err := t.tx.Exec(ctx, query, id, paidAmount.String(), status)
	return err
}

func (t *txRepo) CreatePayment(ctx context.Context, payment Payment) (int64, error) {
	query := `
		INSERT INTO payments (invoice_id, amount, method, reference, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id`

	var reference pgtype.Text
	if payment.Reference != nil {
		reference = pgtype.Text{String: *payment.Reference, Valid: true}
	}

	var id int64
	err := t.tx.QueryRow(ctx, query,
		payment.InvoiceID, payment.Amount.String(), payment.Method, reference, payment.PaidAt,
	).Scan(&id)
	return id, err
}

func (t *txRepo) IncrementReminderCount(ctx context.Context, kind DocumentKind, id int64) error {
	table := "quotes"
	if kind == DocumentKindInvoice {
		table = "invoices"
	}
	query := fmt.Sprintf(`UPDATE %s SET reminder_count = reminder_count + 1, updated_at = NOW() WHERE id = $1`, table)
	_, err := t.tx.Exec(ctx, query, id)
	return err
}

func (t *txRepo) InsertReminderLog(ctx context.Context, log ReminderLog) error {
	query := `
		INSERT INTO reminder_logs (id, document_kind, document_id, sent_to, sent_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := t.tx.Exec(ctx, query, log.ID, log.DocumentKind, log.DocumentID, log.SentTo, log.SentAt)
	return err
}

func (t *txRepo) insertItem(ctx context.Context, table, fk string, parentID int64, item LineItem) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, description, quantity, unit_price_ht, vat_rate, line_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`, table, fk)

	var id int64
	err := t.tx.QueryRow(ctx, query,
		parentID, item.Description,
		item.Quantity.String(), item.UnitPriceHT.String(), item.VATRate.String(),
		item.LineOrder,
	).Scan(&id)
	return id, err
}
