// Package stats serves the aggregate statistics endpoints through a
// read-through cache.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"celeri/internal/cache"
	"celeri/internal/model"
	"celeri/internal/store"
)

// Source is the aggregate side of the store.
type Source interface {
	YearlyCounts(ctx context.Context, kind model.Kind) ([]store.YearCount, error)
	MonthlyCounts(ctx context.Context, kind model.Kind) ([]store.MonthCount, error)
	ReportYearly(ctx context.Context) ([]store.ReportYear, error)
	ReportMonthly(ctx context.Context) ([]store.ReportMonth, error)
	PracticesYearly(ctx context.Context) ([]store.PracticeYear, error)
	SensorDaily(ctx context.Context, sensor string, since time.Time) ([]store.SensorDay, error)
}

// Service owns the statistics cache.
type Service struct {
	src   Source
	cache *cache.Cache
	clock clockwork.Clock
}

func NewService(src Source, c *cache.Cache, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{src: src, cache: c, clock: clock}
}

func (s *Service) Yearly(ctx context.Context, kind model.Kind) ([]store.YearCount, error) {
	if kind.Table() == "" {
		return nil, model.ErrUnknownKind
	}
	return cache.Cached(ctx, s.cache, "stats:"+string(kind)+":yearly", func(ctx context.Context) ([]store.YearCount, error) {
		return s.src.YearlyCounts(ctx, kind)
	})
}

func (s *Service) Monthly(ctx context.Context, kind model.Kind) ([]store.MonthCount, error) {
	if kind.Table() == "" {
		return nil, model.ErrUnknownKind
	}
	return cache.Cached(ctx, s.cache, "stats:"+string(kind)+":monthly", func(ctx context.Context) ([]store.MonthCount, error) {
		return s.src.MonthlyCounts(ctx, kind)
	})
}

func (s *Service) ReportsYearly(ctx context.Context) ([]store.ReportYear, error) {
	return cache.Cached(ctx, s.cache, "stats:reports:yearly", s.src.ReportYearly)
}

func (s *Service) ReportsMonthly(ctx context.Context) ([]store.ReportMonth, error) {
	return cache.Cached(ctx, s.cache, "stats:reports:monthly", s.src.ReportMonthly)
}

func (s *Service) PracticesYearly(ctx context.Context) ([]store.PracticeYear, error) {
	return cache.Cached(ctx, s.cache, "stats:reports:practices:yearly", s.src.PracticesYearly)
}

// SensorDaily summarizes the last days of sensor. The window start is
// pinned to the day at compute time, so a cached answer covers the same
// days for its whole TTL.
func (s *Service) SensorDaily(ctx context.Context, sensor string, days int) ([]store.SensorDay, error) {
	if days <= 0 {
		days = 7
	}
	key := fmt.Sprintf("stats:sensor:%s:daily:%d", sensor, days)
	return cache.Cached(ctx, s.cache, key, func(ctx context.Context) ([]store.SensorDay, error) {
		since := model.DayOf(s.clock.Now().UTC()).AddDate(0, 0, -(days - 1))
		return s.src.SensorDaily(ctx, sensor, since)
	})
}
