package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"backtester/internal/domain"
	"backtester/internal/metrics"
	"backtester/internal/store"
)

var _ Source = (*CachedSource)(nil)

// CachedSource serves quotes from a QuoteStore when the stored coverage
// includes the requested range, and otherwise fetches from the wrapped
// source and writes the result through to the store.
//
// Coverage is never recorded past yesterday (UTC), so a request reaching
// today always refetches.
type CachedSource struct {
	inner   Source
	store   store.QuoteStore
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewCachedSource wraps inner with the store st. m may be nil.
func NewCachedSource(inner Source, st store.QuoteStore, m *metrics.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		store:   st,
		metrics: m,
		log:     slog.Default().With("component", "quote-cache"),
		now:     time.Now,
	}
}

// Name returns the wrapped source's name.
func (c *CachedSource) Name() string { return c.inner.Name() }

// FetchQuotes returns quotes for ticker within [start, end].
func (c *CachedSource) FetchQuotes(ctx context.Context, ticker string, start, end time.Time) ([]domain.PriceQuote, error) {
	ticker = NormalizeTicker(ticker)
	start, end = domain.Day(start), domain.Day(end)

	cov, err := c.store.Coverage(ctx, ticker)
	switch {
	case err == nil && cov.Covers(start, end):
		q, err := c.store.ReadQuotes(ctx, ticker, start, end)
		if err == nil && len(q) > 0 {
			c.metrics.ObserveCache(true)
			return q, nil
		}
		if err != nil {
			c.log.Warn("cache read failed, refetching", "ticker", ticker, "error", err)
		}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		c.log.Warn("cache coverage unreadable", "ticker", ticker, "error", err)
	}
	c.metrics.ObserveCache(false)

	q, err := c.inner.FetchQuotes(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}

	covEnd := end
	if yesterday := domain.Day(c.now()).AddDate(0, 0, -1); covEnd.After(yesterday) {
		covEnd = yesterday
	}
	stored := q
	if !covEnd.Equal(end) {
		stored = sortAndFilter(q, start, covEnd)
	}
	if !covEnd.Before(start) {
		if err := c.store.WriteQuotes(ctx, ticker, start, covEnd, stored); err != nil {
			// The fetched data is still good; only the cache write failed.
			c.log.Warn("cache write failed", "ticker", ticker, "error", err)
		}
	}
	return q, nil
}

// Warm fetches [start, end] for ticker through the cache and reports how
// many quotes were returned.
func (c *CachedSource) Warm(ctx context.Context, ticker string, start, end time.Time) (int, error) {
	q, err := c.FetchQuotes(ctx, ticker, start, end)
	if err != nil {
		return 0, fmt.Errorf("warming %s: %w", NormalizeTicker(ticker), err)
	}
	return len(q), nil
}
