package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopstock/internal/domain"
)

func TestMemoryReportCacheExpiresAndInvalidates(t *testing.T) {
	c := NewMemoryReportCache()
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	report := &domain.ProfitLoss{Sales: 2, Revenue: decimal.NewFromInt(500)}
	if err := c.Set(ctx, "all", report, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "all")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if !got.Revenue.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected revenue %s", got.Revenue)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "all"); ok {
		t.Fatalf("expected expired entry to miss")
	}

	_ = c.Set(ctx, "all", report, time.Minute)
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "all"); ok {
		t.Fatalf("expected miss after invalidate")
	}
}
