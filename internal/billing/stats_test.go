package billing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func seedOutstandingInvoice(repo *memoryBillingRepo, total string, paid string, daysOverdue int) {
	repo.nextInvoiceID++
	repo.invoices[repo.nextInvoiceID] = &Invoice{
		ID:            repo.nextInvoiceID,
		ClientID:      1,
		PaymentStatus: InvoiceStatusSent,
		DueDate:       testNow.AddDate(0, 0, -daysOverdue),
		TotalTTC:      dec(total),
		PaidAmount:    dec(paid),
	}
}

func TestAgingBuckets(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryBillingRepo()
	seedOutstandingInvoice(repo, "100", "0", -10) // not yet due
	seedOutstandingInvoice(repo, "200", "50", 15) // 30-day bucket, balance 150
	seedOutstandingInvoice(repo, "300", "0", 45)
	seedOutstandingInvoice(repo, "400", "0", 75)
	seedOutstandingInvoice(repo, "500", "0", 200)
	seedOutstandingInvoice(repo, "600", "600", 15) // settled balance, skipped

	svc := NewStatsService(repo, nil, time.Minute)
	buckets, err := svc.Aging(ctx, testNow)
	require.NoError(t, err)

	requireDecimal(t, "100", buckets.Current)
	requireDecimal(t, "150", buckets.Bucket30)
	requireDecimal(t, "300", buckets.Bucket60)
	requireDecimal(t, "400", buckets.Bucket90)
	requireDecimal(t, "500", buckets.Bucket120)
	requireDecimal(t, "1450", buckets.Total)
}

func TestAgingUsesCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := newMemoryBillingRepo()
	seedOutstandingInvoice(repo, "100", "0", 15)

	svc := NewStatsService(repo, cache, time.Minute)

	buckets, err := svc.Aging(ctx, testNow)
	require.NoError(t, err)
	requireDecimal(t, "100", buckets.Total)

	// New data lands but the cached figure is still served.
	seedOutstandingInvoice(repo, "900", "0", 15)
	buckets, err = svc.Aging(ctx, testNow)
	require.NoError(t, err)
	requireDecimal(t, "100", buckets.Total)

	svc.Invalidate(ctx)
	buckets, err = svc.Aging(ctx, testNow)
	require.NoError(t, err)
	requireDecimal(t, "1000", buckets.Total)
}
