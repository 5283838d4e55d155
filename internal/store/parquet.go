package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"backtester/internal/domain"
)

// Compile-time interface check.
var _ QuoteStore = (*ParquetStore)(nil)

// ParquetStore implements QuoteStore using Parquet files on disk, one file
// per ticker and year, plus a small coverage file per ticker.
type ParquetStore struct {
	DataDir string

	mu sync.Mutex // serialises read-merge-write of year files
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// QuoteRecord is the Parquet schema for a daily close.
type QuoteRecord struct {
	Ticker string  `parquet:"ticker"`
	Date   int64   `parquet:"date,timestamp(millisecond)"` // Unix ms, UTC midnight
	Price  float64 `parquet:"price"`
}

// WriteQuotes writes quotes to Parquet files organised by ticker and year:
//
//	<DataDir>/quotes/<TICKER>/<YYYY>.parquet
//
// and widens the ticker's coverage to include [start, end] when the two
// ranges touch or overlap; otherwise the new range replaces it.
func (s *ParquetStore) WriteQuotes(_ context.Context, ticker string, start, end time.Time, quotes []domain.PriceQuote) error {
	ticker = strings.ToUpper(ticker)
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[int][]QuoteRecord)
	for _, q := range quotes {
		d := domain.Day(q.Date)
		groups[d.Year()] = append(groups[d.Year()], QuoteRecord{
			Ticker: ticker,
			Date:   d.UnixMilli(),
			Price:  q.Price,
		})
	}

	for year, records := range groups {
		path := s.quotePath(ticker, year)
		existing, _ := readParquetFile[QuoteRecord](path)
		merged := mergeQuoteRecords(existing, records)
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing quotes for %s/%d: %w", ticker, year, err)
		}
	}

	cov := Coverage{Start: domain.Day(start), End: domain.Day(end)}
	if old, err := s.readCoverage(ticker); err == nil {
		cov = widen(old, cov)
	}
	return s.writeCoverage(ticker, cov)
}

// ReadQuotes reads quotes for ticker within [start, end] from the year files
// that intersect the range.
func (s *ParquetStore) ReadQuotes(_ context.Context, ticker string, start, end time.Time) ([]domain.PriceQuote, error) {
	ticker = strings.ToUpper(ticker)
	start, end = domain.Day(start), domain.Day(end)

	var out []domain.PriceQuote
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[QuoteRecord](s.quotePath(ticker, year))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading quotes for %s/%d: %w", ticker, year, err)
		}
		for _, r := range records {
			d := time.UnixMilli(r.Date).UTC()
			if d.Before(start) || d.After(end) {
				continue
			}
			out = append(out, domain.PriceQuote{Date: d, Price: r.Price})
		}
	}
	return out, nil
}

// Coverage returns the fetched range recorded for ticker.
func (s *ParquetStore) Coverage(_ context.Context, ticker string) (Coverage, error) {
	cov, err := s.readCoverage(strings.ToUpper(ticker))
	if errors.Is(err, os.ErrNotExist) {
		return Coverage{}, ErrNotFound
	}
	return cov, err
}

// ListTickers lists all tickers that have a quote directory.
func (s *ParquetStore) ListTickers(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "quotes"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tickers []string
	for _, e := range entries {
		if e.IsDir() {
			tickers = append(tickers, e.Name())
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// ---------------------------------------------------------------------------
// Coverage file
// ---------------------------------------------------------------------------

func (s *ParquetStore) readCoverage(ticker string) (Coverage, error) {
	data, err := os.ReadFile(s.coveragePath(ticker))
	if err != nil {
		return Coverage{}, err
	}
	var cov Coverage
	if err := yaml.Unmarshal(data, &cov); err != nil {
		return Coverage{}, fmt.Errorf("parsing coverage for %s: %w", ticker, err)
	}
	return cov, nil
}

func (s *ParquetStore) writeCoverage(ticker string, cov Coverage) error {
	data, err := yaml.Marshal(cov)
	if err != nil {
		return err
	}
	path := s.coveragePath(ticker)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// widen merges two ranges that overlap or are at most one day apart. A
// disjoint next replaces old.
func widen(old, next Coverage) Coverage {
	if next.Start.After(old.End.AddDate(0, 0, 1)) || next.End.Before(old.Start.AddDate(0, 0, -1)) {
		return next
	}
	if old.Start.Before(next.Start) {
		next.Start = old.Start
	}
	if old.End.After(next.End) {
		next.End = old.End
	}
	return next
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// quotePath returns the filesystem path for a quote Parquet file.
// Layout: <dataDir>/quotes/<TICKER>/<YYYY>.parquet
func (s *ParquetStore) quotePath(ticker string, year int) string {
	return filepath.Join(s.DataDir, "quotes", strings.ToUpper(ticker), fmt.Sprintf("%d.parquet", year))
}

// coveragePath returns <dataDir>/quotes/<TICKER>/coverage.yaml.
func (s *ParquetStore) coveragePath(ticker string) string {
	return filepath.Join(s.DataDir, "quotes", strings.ToUpper(ticker), "coverage.yaml")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeQuoteRecords deduplicates records by date, preferring incoming ones,
// and sorts ascending.
func mergeQuoteRecords(existing, incoming []QuoteRecord) []QuoteRecord {
	seen := make(map[int64]QuoteRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Date] = r
	}
	for _, r := range incoming {
		seen[r.Date] = r
	}

	merged := make([]QuoteRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
