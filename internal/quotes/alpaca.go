package quotes

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backtester/internal/domain"
)

var _ Source = (*AlpacaSource)(nil)

// AlpacaSource fetches split- and dividend-adjusted daily closes from the
// Alpaca market-data API.
type AlpacaSource struct {
	client *marketdata.Client
	feed   string
}

// NewAlpacaSource creates an AlpacaSource. An empty dataURL uses the
// client's default endpoint; an empty feed selects "sip".
func NewAlpacaSource(apiKey, apiSecret, dataURL, feed string) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "sip"
	}
	return &AlpacaSource{
		client: marketdata.NewClient(opts),
		feed:   feed,
	}
}

// Name returns "alpaca".
func (s *AlpacaSource) Name() string { return "alpaca" }

// FetchQuotes returns the adjusted daily closes for ticker within
// [start, end].
func (s *AlpacaSource) FetchQuotes(ctx context.Context, ticker string, start, end time.Time) ([]domain.PriceQuote, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	ticker = NormalizeTicker(ticker)

	// Daily bars are stamped at midnight New York time, which is after
	// midnight UTC, so the request runs one day past end.
	bars, err := s.client.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      domain.Day(start),
		End:        domain.Day(end).AddDate(0, 0, 1),
		Feed:       s.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", ticker, err)
	}

	out := make([]domain.PriceQuote, 0, len(bars))
	for _, b := range bars {
		out = append(out, domain.PriceQuote{Date: b.Timestamp, Price: b.Close})
	}
	out = sortAndFilter(out, start, end)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoQuotes, ticker)
	}
	return out, nil
}
