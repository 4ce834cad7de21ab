package billing

import "errors"

var (
	// ErrNotFound indicates the document or client does not exist.
	ErrNotFound = errors.New("billing: not found")
	// ErrInvalidLineItem indicates a line with a bad quantity, price or VAT rate.
	ErrInvalidLineItem = errors.New("billing: invalid line item")
	// ErrIllegalTransition indicates a status change outside the transition graph
	// or with an unmet precondition.
	ErrIllegalTransition = errors.New("billing: illegal transition")
	// ErrInvalidDepositPercent indicates a deposit percent outside (0, 100].
	ErrInvalidDepositPercent = errors.New("billing: deposit percent out of range")
	// ErrQuoteNotConvertible indicates the quote is not in a convertible status.
	ErrQuoteNotConvertible = errors.New("billing: quote not convertible")
	// ErrDuplicateConversion indicates an invoice already references the quote.
	ErrDuplicateConversion = errors.New("billing: quote already converted")
	// ErrDocumentNotSent indicates a reminder was evaluated on an unsent document.
	ErrDocumentNotSent = errors.New("billing: document not sent")
	// ErrDocumentLocked indicates an edit on a document past its editable states.
	ErrDocumentLocked = errors.New("billing: document locked")
	// ErrPaymentExceedsTotal indicates a payment that would push paid_amount past total_ttc.
	ErrPaymentExceedsTotal = errors.New("billing: payment exceeds invoice total")
	// ErrReminderCapReached indicates reminder_count already equals the configured cap.
	ErrReminderCapReached = errors.New("billing: reminder cap reached")
)
