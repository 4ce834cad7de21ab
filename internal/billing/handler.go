package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/facturio/facturio/internal/platform/httpx"
)

// Handler manages billing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	stats    *StatsService
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, stats *StatsService) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		stats:    stats,
		validate: validator.New(),
	}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/quotes", func(r chi.Router) {
		r.Get("/", h.listQuotes)
		r.Post("/", h.createQuote)
		r.Get("/{id}", h.getQuote)
		r.Put("/{id}", h.updateQuote)
		r.Post("/{id}/send", h.sendQuote)
		r.Post("/{id}/sign", h.signQuote)
		r.Post("/{id}/deposit-paid", h.markDepositPaid)
		r.Post("/{id}/complete", h.completeQuote)
		r.Post("/{id}/cancel", h.cancelQuote)
		r.Post("/{id}/convert", h.convertQuote)
		r.Get("/{id}/reminder", h.quoteReminder)
	})

	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.listInvoices)
		r.Get("/{id}", h.getInvoice)
		r.Post("/{id}/send", h.sendInvoice)
		r.Post("/{id}/cancel", h.cancelInvoice)
		r.Get("/{id}/payments", h.listPayments)
		r.Post("/{id}/payments", h.recordPayment)
		r.Get("/{id}/reminder", h.invoiceReminder)
	})

	r.Get("/reminders/due", h.dueReminders)
	r.Get("/stats/aging", h.aging)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidLineItem):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Line Item", err.Error())
	case errors.Is(err, ErrInvalidDepositPercent):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Deposit Percent", err.Error())
	case errors.Is(err, ErrIllegalTransition):
		httpx.Problem(w, http.StatusConflict, "Illegal Transition", err.Error())
	case errors.Is(err, ErrQuoteNotConvertible):
		httpx.Problem(w, http.StatusConflict, "Quote Not Convertible", err.Error())
	case errors.Is(err, ErrDuplicateConversion):
		httpx.Problem(w, http.StatusConflict, "Already Invoiced", err.Error())
	case errors.Is(err, ErrDocumentNotSent):
		httpx.Problem(w, http.StatusConflict, "Document Not Sent", err.Error())
	case errors.Is(err, ErrDocumentLocked):
		httpx.Problem(w, http.StatusConflict, "Document Locked", err.Error())
	case errors.Is(err, ErrPaymentExceedsTotal):
		httpx.Problem(w, http.StatusBadRequest, "Payment Exceeds Total", err.Error())
	case errors.Is(err, ErrReminderCapReached):
		httpx.Problem(w, http.StatusConflict, "Reminder Cap Reached", err.Error())
	default:
		h.logger.Error("billing handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// ============================================================================
// QUOTES
// ============================================================================

func (h *Handler) createQuote(w http.ResponseWriter, r *http.Request) {
	var req CreateQuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	quote, err := h.service.CreateQuote(r.Context(), req, time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, quote)
}

func (h *Handler) getQuote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	quote, err := h.service.GetQuote(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) listQuotes(w http.ResponseWriter, r *http.Request) {
	req := ListQuotesRequest{}
	if v := r.URL.Query().Get("client_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid client_id")
			return
		}
		req.ClientID = &id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := QuoteStatus(v)
		req.Status = &status
	}
	req.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	req.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	quotes, total, err := h.service.ListQuotes(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"quotes": quotes, "total": total})
}

func (h *Handler) updateQuote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req UpdateQuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	quote, err := h.service.UpdateQuote(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) sendQuote(w http.ResponseWriter, r *http.Request) {
	h.quoteTransition(w, r, func(id int64) (*Quote, error) {
		return h.service.SendQuote(r.Context(), id, time.Now())
	})
}

func (h *Handler) signQuote(w http.ResponseWriter, r *http.Request) {
	var req SignQuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	h.quoteTransition(w, r, func(id int64) (*Quote, error) {
		return h.service.SignQuote(r.Context(), id, req, time.Now())
	})
}

func (h *Handler) markDepositPaid(w http.ResponseWriter, r *http.Request) {
	var req MarkDepositPaidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	h.quoteTransition(w, r, func(id int64) (*Quote, error) {
		return h.service.MarkDepositPaid(r.Context(), id, req, time.Now())
	})
}

func (h *Handler) completeQuote(w http.ResponseWriter, r *http.Request) {
	h.quoteTransition(w, r, func(id int64) (*Quote, error) {
		return h.service.CompleteQuote(r.Context(), id, time.Now())
	})
}

func (h *Handler) cancelQuote(w http.ResponseWriter, r *http.Request) {
	h.quoteTransition(w, r, func(id int64) (*Quote, error) {
		return h.service.CancelQuote(r.Context(), id, time.Now())
	})
}

func (h *Handler) quoteTransition(w http.ResponseWriter, r *http.Request, fn func(int64) (*Quote, error)) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	quote, err := fn(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) convertQuote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	invoice, err := h.service.ConvertQuote(r.Context(), id, time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

func (h *Handler) quoteReminder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	state, err := h.service.EvaluateQuoteReminder(r.Context(), id, time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

// ============================================================================
// INVOICES
// ============================================================================

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	invoice, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	// Surface the derived status without storing it.
	invoice.PaymentStatus = invoice.EffectiveStatus(time.Now())
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	req := ListInvoicesRequest{}
	if v := r.URL.Query().Get("client_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid client_id")
			return
		}
		req.ClientID = &id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := InvoiceStatus(v)
		req.Status = &status
	}
	req.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	req.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	invoices, total, err := h.service.ListInvoices(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	now := time.Now()
	for i := range invoices {
		invoices[i].PaymentStatus = invoices[i].EffectiveStatus(now)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices, "total": total})
}

func (h *Handler) sendInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	invoice, err := h.service.SendInvoice(r.Context(), id, time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	invoice, err := h.service.CancelInvoice(r.Context(), id, time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	payments, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payments)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req RecordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	invoice, err := h.service.RecordPayment(r.Context(), id, req, time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.stats != nil {
		h.stats.Invalidate(r.Context())
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) invoiceReminder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	state, err := h.service.EvaluateInvoiceReminder(r.Context(), id, time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

// ============================================================================
// REMINDERS & STATS
// ============================================================================

func (h *Handler) dueReminders(w http.ResponseWriter, r *http.Request) {
	due, err := h.service.DueReminders(r.Context(), time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, due)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "stats disabled")
		return
	}
	buckets, err := h.stats.Aging(r.Context(), time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, buckets)
}
