package cache

import (
	"context"
	"time"

	"shopstock/internal/domain"
)

type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.ProfitLoss, bool, error)
	Set(ctx context.Context, key string, value *domain.ProfitLoss, ttl time.Duration) error
	// Invalidate drops every cached report.
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.ProfitLoss, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.ProfitLoss, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}
