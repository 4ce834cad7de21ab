package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*chi.Mux, *memoryBillingRepo, *Service) {
	t.Helper()
	repo := newMemoryBillingRepo()
	svc := newTestService(repo)
	handler := NewHandler(slog.Default(), svc, NewStatsService(repo, nil, time.Minute))

	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r, repo, svc
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateQuoteEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/quotes", map[string]any{
		"client_id": 3,
		"items": []map[string]any{
			{"description": "Pose parquet", "quantity": "10", "unit_price_ht": "45", "vat_rate": "10"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var quote Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	require.Equal(t, QuoteStatusDraft, quote.Status)
	requireDecimal(t, "495", quote.TotalTTC)
	require.Contains(t, quote.DocNumber, "DEV-")
}

func TestCreateQuoteEndpointValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/quotes", map[string]any{
		"items": []map[string]any{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetQuoteEndpointNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/quotes/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Not Found", problem["title"])
}

func TestConvertEndpointConflicts(t *testing.T) {
	router, _, svc := newTestRouter(t)
	ctx := context.Background()

	quote, err := svc.CreateQuote(ctx, createQuoteRequest(), testNow)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/quotes/%d/convert", quote.ID), nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	_, err = svc.SendQuote(ctx, quote.ID, testNow)
	require.NoError(t, err)
	_, err = svc.SignQuote(ctx, quote.ID, SignQuoteRequest{SignatureRef: "sig-1"}, testNow)
	require.NoError(t, err)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/quotes/%d/convert", quote.ID), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/quotes/%d/convert", quote.ID), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetInvoiceEndpointDerivesOverdue(t *testing.T) {
	router, repo, svc := newTestRouter(t)
	invoice := signedInvoice(t, svc)

	past := time.Now().AddDate(0, 0, -10)
	repo.invoices[invoice.ID].DueDate = past

	rec := doJSON(t, router, http.MethodGet, fmt.Sprintf("/invoices/%d", invoice.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, InvoiceStatusOverdue, got.PaymentStatus)

	// The stored status stays SENT.
	require.Equal(t, InvoiceStatusSent, repo.invoices[invoice.ID].PaymentStatus)
}

func TestRecordPaymentEndpoint(t *testing.T) {
	router, _, svc := newTestRouter(t)
	invoice := signedInvoice(t, svc)

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/invoices/%d/payments", invoice.ID), map[string]any{
		"amount": "5000",
		"method": "virement",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/invoices/%d/payments", invoice.ID), map[string]any{
		"amount": "1200",
		"method": "virement",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, InvoiceStatusPaid, got.PaymentStatus)
}

func TestQuoteReminderEndpoint(t *testing.T) {
	router, repo, svc := newTestRouter(t)
	ctx := context.Background()

	quote, err := svc.CreateQuote(ctx, createQuoteRequest(), testNow)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, fmt.Sprintf("/quotes/%d/reminder", quote.ID), nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	_, err = svc.SendQuote(ctx, quote.ID, time.Now().AddDate(0, 0, -8))
	require.NoError(t, err)
	sentAt := time.Now().AddDate(0, 0, -8)
	repo.quotes[quote.ID].SentAt = &sentAt

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/quotes/%d/reminder", quote.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state ReminderState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.True(t, state.NextReminderDue)
}

func TestAgingEndpoint(t *testing.T) {
	router, repo, _ := newTestRouter(t)
	seedOutstandingInvoice(repo, "100", "0", 15)

	rec := doJSON(t, router, http.MethodGet, "/stats/aging", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var buckets AgingBuckets
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &buckets))
	requireDecimal(t, "100", buckets.Total)
}
