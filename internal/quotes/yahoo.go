package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"backtester/internal/domain"
)

// DefaultYahooURL is the public Yahoo Finance chart endpoint.
const DefaultYahooURL = "https://query1.finance.yahoo.com"

var _ Source = (*YahooSource)(nil)

// YahooSource fetches daily closes from the Yahoo Finance chart API,
// preferring the adjusted close when the response carries one.
type YahooSource struct {
	Client  *http.Client
	BaseURL string
	// SymbolMap maps internal tickers to Yahoo symbols (e.g. SPX -> ^GSPC).
	SymbolMap map[string]string
}

// NewYahooSource creates a YahooSource. An empty baseURL selects
// DefaultYahooURL and a non-positive timeout selects 30s.
func NewYahooSource(baseURL string, timeout time.Duration) *YahooSource {
	if baseURL == "" {
		baseURL = DefaultYahooURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YahooSource{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: baseURL,
		SymbolMap: map[string]string{
			"SPX":   "^GSPC",
			"SP500": "^GSPC",
		},
	}
}

// Name returns "yahoo".
func (s *YahooSource) Name() string { return "yahoo" }

func (s *YahooSource) yahooSymbol(ticker string) string {
	if mapped, ok := s.SymbolMap[ticker]; ok {
		return mapped
	}
	return ticker
}

// yahooChart is the subset of the chart API response used here.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchQuotes returns daily closes for ticker within [start, end].
func (s *YahooSource) FetchQuotes(ctx context.Context, ticker string, start, end time.Time) ([]domain.PriceQuote, error) {
	ticker = NormalizeTicker(ticker)

	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", strconv.FormatInt(domain.Day(start).Unix(), 10))
	q.Set("period2", strconv.FormatInt(domain.Day(end).AddDate(0, 0, 1).Unix(), 10))
	q.Set("events", "div,split")
	q.Set("includeAdjustedClose", "true")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", s.BaseURL, url.PathEscape(s.yahooSymbol(ticker)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, truncate(body, 256))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoQuotes, ticker)
	}

	result := chart.Chart.Result[0]
	var closes []*float64
	if len(result.Indicators.AdjClose) > 0 && len(result.Indicators.AdjClose[0].AdjClose) == len(result.Timestamp) {
		closes = result.Indicators.AdjClose[0].AdjClose
	} else if len(result.Indicators.Quote) > 0 {
		closes = result.Indicators.Quote[0].Close
	}

	out := make([]domain.PriceQuote, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue // null bar (holiday, halted)
		}
		out = append(out, domain.PriceQuote{Date: time.Unix(ts, 0).UTC(), Price: *closes[i]})
	}
	out = sortAndFilter(out, start, end)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoQuotes, ticker)
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
