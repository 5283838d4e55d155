package quotes

import (
	"context"
	"errors"
	"time"

	"backtester/internal/domain"
	"backtester/internal/metrics"
	"backtester/internal/util"
)

var _ Source = (*RetryingSource)(nil)

// RetryingSource wraps a Source with a shared rate limit and exponential
// backoff retries. ErrNoQuotes is treated as final and not retried.
type RetryingSource struct {
	inner       Source
	limiter     *util.RateLimiter
	maxAttempts int
	baseDelay   time.Duration
	metrics     *metrics.Metrics
}

// NewRetryingSource wraps inner. A perMinute of zero or less disables rate
// limiting, and up to burst calls may pass back to back before the limit
// applies. maxAttempts below one is treated as one. m may be nil.
func NewRetryingSource(inner Source, perMinute, burst, maxAttempts int, baseDelay time.Duration, m *metrics.Metrics) *RetryingSource {
	var limiter *util.RateLimiter
	if perMinute > 0 {
		limiter = util.NewBurstRateLimiter(perMinute, burst)
	}
	return &RetryingSource{
		inner:       inner,
		limiter:     limiter,
		maxAttempts: max(maxAttempts, 1),
		baseDelay:   baseDelay,
		metrics:     m,
	}
}

// Name returns the wrapped source's name.
func (s *RetryingSource) Name() string { return s.inner.Name() }

// FetchQuotes calls the wrapped source, waiting for the rate limiter before
// each attempt.
func (s *RetryingSource) FetchQuotes(ctx context.Context, ticker string, start, end time.Time) ([]domain.PriceQuote, error) {
	var out []domain.PriceQuote
	err := util.Retry(ctx, s.maxAttempts, s.baseDelay, func() error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return util.Permanent(err)
			}
		}
		q, err := s.inner.FetchQuotes(ctx, ticker, start, end)
		s.metrics.ObserveFetch(s.inner.Name(), err)
		if errors.Is(err, ErrNoQuotes) || (err != nil && ctx.Err() != nil) {
			return util.Permanent(err)
		}
		out = q
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
