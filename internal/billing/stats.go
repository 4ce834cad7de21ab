package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// AgingBuckets summarises outstanding invoice balances by days overdue.
type AgingBuckets struct {
	Current   decimal.Decimal `json:"current"`
	Bucket30  decimal.Decimal `json:"bucket_30"`
	Bucket60  decimal.Decimal `json:"bucket_60"`
	Bucket90  decimal.Decimal `json:"bucket_90"`
	Bucket120 decimal.Decimal `json:"bucket_120"`
	Total     decimal.Decimal `json:"total"`
}

const agingCacheKey = "billing:aging"

// StatsService computes dashboard figures over outstanding invoices, with a
// short redis cache in front since dashboards poll it.
type StatsService struct {
	repo  RepositoryPort
	cache *redis.Client
	ttl   time.Duration
}

// NewStatsService builds a StatsService. cache may be nil, in which case
// every call recomputes.
func NewStatsService(repo RepositoryPort, cache *redis.Client, ttl time.Duration) *StatsService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StatsService{repo: repo, cache: cache, ttl: ttl}
}

// Aging groups outstanding invoice balances by how far past due they are.
func (s *StatsService) Aging(ctx context.Context, asOf time.Time) (AgingBuckets, error) {
	if cached, ok := s.readCache(ctx); ok {
		return cached, nil
	}

	invoices, err := s.repo.ListOutstandingInvoices(ctx)
	if err != nil {
		return AgingBuckets{}, fmt.Errorf("list outstanding invoices: %w", err)
	}

	buckets := AgingBuckets{
		Current:   decimal.Zero,
		Bucket30:  decimal.Zero,
		Bucket60:  decimal.Zero,
		Bucket90:  decimal.Zero,
		Bucket120: decimal.Zero,
		Total:     decimal.Zero,
	}
	for _, inv := range invoices {
		balance := inv.TotalTTC.Sub(inv.PaidAmount)
		if !balance.IsPositive() {
			continue
		}
		days := int(asOf.Sub(inv.DueDate).Hours() / 24)
		switch {
		case days <= 0:
			buckets.Current = buckets.Current.Add(balance)
		case days <= 30:
			buckets.Bucket30 = buckets.Bucket30.Add(balance)
		case days <= 60:
			buckets.Bucket60 = buckets.Bucket60.Add(balance)
		case days <= 90:
			buckets.Bucket90 = buckets.Bucket90.Add(balance)
		default:
			buckets.Bucket120 = buckets.Bucket120.Add(balance)
		}
		buckets.Total = buckets.Total.Add(balance)
	}

	s.writeCache(ctx, buckets)
	return buckets, nil
}

// Invalidate drops the cached figures, called after payments land.
func (s *StatsService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, agingCacheKey).Err()
}

func (s *StatsService) readCache(ctx context.Context) (AgingBuckets, bool) {
	if s.cache == nil {
		return AgingBuckets{}, false
	}
	raw, err := s.cache.Get(ctx, agingCacheKey).Bytes()
	if err != nil {
		return AgingBuckets{}, false
	}
	var buckets AgingBuckets
	if err := json.Unmarshal(raw, &buckets); err != nil {
		return AgingBuckets{}, false
	}
	return buckets, true
}

func (s *StatsService) writeCache(ctx context.Context, buckets AgingBuckets) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(buckets)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, agingCacheKey, raw, s.ttl).Err()
}
