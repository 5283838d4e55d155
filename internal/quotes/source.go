// Package quotes retrieves historical daily closing prices from external
// market-data providers, with retry, rate limiting, and an on-disk cache.
package quotes

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"backtester/internal/domain"
)

// ErrNoQuotes is returned when a provider has no data for the request.
var ErrNoQuotes = errors.New("no quotes returned")

// Source is implemented by every quote provider.
type Source interface {
	// Name returns the provider identifier (e.g. "alpaca", "yahoo").
	Name() string

	// FetchQuotes returns daily closing prices for ticker within
	// [start, end], ascending by date, one per trading day.
	FetchQuotes(ctx context.Context, ticker string, start, end time.Time) ([]domain.PriceQuote, error)
}

// NormalizeTicker trims and upper-cases a user-entered ticker.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// sortAndFilter normalises quote dates, drops quotes outside [start, end]
// or with a non-positive price, and sorts ascending. Later duplicates of the
// same date win.
func sortAndFilter(quotes []domain.PriceQuote, start, end time.Time) []domain.PriceQuote {
	start, end = domain.Day(start), domain.Day(end)
	byDate := make(map[time.Time]float64, len(quotes))
	for _, q := range quotes {
		d := domain.Day(q.Date)
		if d.Before(start) || d.After(end) || !(q.Price > 0) {
			continue
		}
		byDate[d] = q.Price
	}
	out := make([]domain.PriceQuote, 0, len(byDate))
	for d, p := range byDate {
		out = append(out, domain.PriceQuote{Date: d, Price: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// ---------------------------------------------------------------------------
// StaticSource
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ Source = (*StaticSource)(nil)

// StaticSource serves quotes held in memory, keyed by ticker. It backs the
// CLI's CSV input and tests.
type StaticSource struct {
	quotes map[string][]domain.PriceQuote
}

// NewStaticSource creates an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{quotes: make(map[string][]domain.PriceQuote)}
}

// Set replaces the quotes held for ticker.
func (s *StaticSource) Set(ticker string, quotes []domain.PriceQuote) {
	s.quotes[NormalizeTicker(ticker)] = quotes
}

// Name returns "static".
func (s *StaticSource) Name() string { return "static" }

// FetchQuotes returns the held quotes for ticker within [start, end].
func (s *StaticSource) FetchQuotes(_ context.Context, ticker string, start, end time.Time) ([]domain.PriceQuote, error) {
	q, ok := s.quotes[NormalizeTicker(ticker)]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoQuotes, NormalizeTicker(ticker))
	}
	return sortAndFilter(q, start, end), nil
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

// ParseCSV reads the classic end-of-day CSV export
// (Date,Open,High,Low,Close,Volume,Adj Close), newest first or oldest first,
// and returns ascending quotes priced at the adjusted close. Files with only
// Date,Close (or Date,Price) columns are accepted too.
func ParseCSV(r io.Reader) ([]domain.PriceQuote, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	dateCol, priceCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "date":
			dateCol = i
		case "adj close", "adj_close", "adjclose":
			priceCol = i
		case "close", "price":
			if priceCol < 0 {
				priceCol = i
			}
		}
	}
	if dateCol < 0 || priceCol < 0 {
		return nil, fmt.Errorf("csv header %v needs a date and a close column", header)
	}

	var quotes []domain.PriceQuote
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		if len(rec) <= dateCol || len(rec) <= priceCol {
			continue
		}
		d, err := domain.ParseDate(strings.TrimSpace(rec[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(rec[priceCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		quotes = append(quotes, domain.PriceQuote{Date: d, Price: p})
	}
	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].Date.Before(quotes[j].Date) })
	return quotes, nil
}
