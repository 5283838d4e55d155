package quotes

import (
	"fmt"

	"backtester/internal/config"
	"backtester/internal/metrics"
	"backtester/internal/store"
)

// Provider builds the raw quote source named by cfg.Quotes.Provider.
func Provider(cfg *config.Config) (Source, error) {
	switch cfg.Quotes.Provider {
	case "alpaca":
		if !cfg.Alpaca.HasCredentials() {
			return nil, fmt.Errorf("quote provider alpaca needs api_key and api_secret")
		}
		return NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed), nil
	case "yahoo":
		return NewYahooSource(cfg.Yahoo.BaseURL, cfg.Yahoo.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown quote provider %q", cfg.Quotes.Provider)
	}
}

// Stack wraps the configured provider with retries and rate limiting and,
// when cfg.Quotes.Cache is set and qs is non-nil, the quote cache. cached is
// nil when caching is off. m may be nil.
func Stack(cfg *config.Config, qs store.QuoteStore, m *metrics.Metrics) (src Source, cached *CachedSource, err error) {
	raw, err := Provider(cfg)
	if err != nil {
		return nil, nil, err
	}
	src = NewRetryingSource(raw, cfg.Quotes.RateLimitPerMin, cfg.Quotes.RateLimitBurst, cfg.Quotes.MaxAttempts, cfg.Quotes.RetryDelay, m)
	if cfg.Quotes.Cache && qs != nil {
		cached = NewCachedSource(src, qs, m)
		src = cached
	}
	return src, cached, nil
}
