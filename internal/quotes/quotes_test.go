package quotes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"backtester/internal/config"
	"backtester/internal/domain"
	"backtester/internal/metrics"
	"backtester/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNormalizeTicker(t *testing.T) {
	if got := NormalizeTicker("  brk.b "); got != "BRK.B" {
		t.Errorf("NormalizeTicker = %q, want BRK.B", got)
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource()
	src.Set("aapl", []domain.PriceQuote{
		{Date: day(2024, 1, 3), Price: 3},
		{Date: day(2024, 1, 1), Price: 1},
		{Date: day(2024, 1, 2), Price: 0}, // dropped: non-positive
		{Date: day(2024, 1, 4).Add(15 * time.Hour), Price: 4},
	})

	got, err := src.FetchQuotes(context.Background(), "AAPL", day(2024, 1, 1), day(2024, 1, 3))
	if err != nil {
		t.Fatalf("FetchQuotes: %v", err)
	}
	if len(got) != 2 || got[0].Price != 1 || got[1].Price != 3 {
		t.Errorf("FetchQuotes = %+v, want prices [1 3]", got)
	}

	got, _ = src.FetchQuotes(context.Background(), "aapl", day(2024, 1, 4), day(2024, 1, 4))
	if len(got) != 1 || !got[0].Date.Equal(day(2024, 1, 4)) {
		t.Errorf("intraday timestamp not normalised: %+v", got)
	}

	if _, err := src.FetchQuotes(context.Background(), "MSFT", day(2024, 1, 1), day(2024, 1, 3)); !errors.Is(err, ErrNoQuotes) {
		t.Errorf("unknown ticker error = %v, want ErrNoQuotes", err)
	}
}

func TestParseCSV(t *testing.T) {
	// Newest-first, as the classic export delivers it.
	const data = `Date,Open,High,Low,Close,Volume,Adj Close
2020-01-03,10,11,9,10.5,100,10.25
2020-01-02,9,10,8,9.5,100,9.25
`
	got, err := ParseCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ParseCSV returned %d quotes, want 2", len(got))
	}
	if !got[0].Date.Equal(day(2020, 1, 2)) || got[0].Price != 9.25 {
		t.Errorf("first quote = %+v, want 2020-01-02 at adjusted 9.25", got[0])
	}

	got, err = ParseCSV(strings.NewReader("date,close\n2021-05-05,42\n"))
	if err != nil || len(got) != 1 || got[0].Price != 42 {
		t.Errorf("ParseCSV(date,close) = %+v, %v", got, err)
	}

	if _, err := ParseCSV(strings.NewReader("when,what\n")); err == nil {
		t.Error("ParseCSV accepted a header without date/close columns")
	}
	if _, err := ParseCSV(strings.NewReader("Date,Close\n2020-13-45,1\n")); err == nil {
		t.Error("ParseCSV accepted an invalid date")
	}
}

// ---------------------------------------------------------------------------
// Yahoo
// ---------------------------------------------------------------------------

const yahooBody = `{"chart":{"result":[{
	"timestamp":[1577975400,1578061800,1578321000],
	"indicators":{
		"quote":[{"close":[75.09,74.36,null]}],
		"adjclose":[{"adjclose":[73.15,72.44,null]}]
	}}],"error":null}}`

func TestYahooSource(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		fmt.Fprint(w, yahooBody)
	}))
	defer srv.Close()

	src := NewYahooSource(srv.URL, time.Second)
	got, err := src.FetchQuotes(context.Background(), "aapl", day(2020, 1, 1), day(2020, 1, 10))
	if err != nil {
		t.Fatalf("FetchQuotes: %v", err)
	}
	if gotPath != "/v8/finance/chart/AAPL" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "interval=1d") || !strings.Contains(gotQuery, "period1=1577836800") {
		t.Errorf("query = %q", gotQuery)
	}
	if len(got) != 2 {
		t.Fatalf("FetchQuotes returned %d quotes, want 2 (null bar skipped)", len(got))
	}
	if !got[0].Date.Equal(day(2020, 1, 2)) || got[0].Price != 73.15 {
		t.Errorf("first quote = %+v, want 2020-01-02 adjusted 73.15", got[0])
	}
}

func TestYahooSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v8/finance/chart/DOWN":
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		case "/v8/finance/chart/NONE":
			fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
		default:
			fmt.Fprint(w, `{"chart":{"result":[],"error":null}}`)
		}
	}))
	defer srv.Close()

	src := NewYahooSource(srv.URL, time.Second)
	ctx := context.Background()

	if _, err := src.FetchQuotes(ctx, "DOWN", day(2020, 1, 1), day(2020, 1, 2)); err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("status error = %v", err)
	}
	if _, err := src.FetchQuotes(ctx, "NONE", day(2020, 1, 1), day(2020, 1, 2)); err == nil || !strings.Contains(err.Error(), "No data found") {
		t.Errorf("api error = %v", err)
	}
	if _, err := src.FetchQuotes(ctx, "EMPTY", day(2020, 1, 1), day(2020, 1, 2)); !errors.Is(err, ErrNoQuotes) {
		t.Errorf("empty result error = %v, want ErrNoQuotes", err)
	}
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

type flakySource struct {
	calls    atomic.Int32
	failures int32
	err      error
	quotes   []domain.PriceQuote
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) FetchQuotes(context.Context, string, time.Time, time.Time) ([]domain.PriceQuote, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	return f.quotes, nil
}

func TestRetryingSourceRecovers(t *testing.T) {
	inner := &flakySource{failures: 2, err: errors.New("timeout"), quotes: []domain.PriceQuote{{Date: day(2020, 1, 2), Price: 1}}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	src := NewRetryingSource(inner, 0, 0, 3, 0, m)
	got, err := src.FetchQuotes(context.Background(), "X", day(2020, 1, 1), day(2020, 1, 2))
	if err != nil {
		t.Fatalf("FetchQuotes: %v", err)
	}
	if len(got) != 1 || inner.calls.Load() != 3 {
		t.Errorf("got %d quotes after %d calls, want 1 after 3", len(got), inner.calls.Load())
	}
	if n := testutil.ToFloat64(m.QuoteFetches.WithLabelValues("flaky", "error")); n != 2 {
		t.Errorf("error fetches = %v, want 2", n)
	}
	if src.Name() != "flaky" {
		t.Errorf("Name = %q", src.Name())
	}
}

func TestRetryingSourceNoQuotesIsFinal(t *testing.T) {
	inner := &flakySource{failures: 10, err: fmt.Errorf("%w for X", ErrNoQuotes)}
	src := NewRetryingSource(inner, 0, 0, 5, 0, nil)

	_, err := src.FetchQuotes(context.Background(), "X", day(2020, 1, 1), day(2020, 1, 2))
	if !errors.Is(err, ErrNoQuotes) {
		t.Errorf("error = %v, want ErrNoQuotes", err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", inner.calls.Load())
	}
}

func TestRetryingSourceBurst(t *testing.T) {
	inner := &flakySource{quotes: []domain.PriceQuote{{Date: day(2020, 1, 2), Price: 1}}}
	src := NewRetryingSource(inner, 1, 3, 1, 0, nil)

	for i := range 3 {
		if _, err := src.FetchQuotes(context.Background(), "X", day(2020, 1, 1), day(2020, 1, 2)); err != nil {
			t.Fatalf("fetch %d within burst: %v", i, err)
		}
	}

	// One token a minute, so the fourth call waits past the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := src.FetchQuotes(ctx, "X", day(2020, 1, 1), day(2020, 1, 2)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("fetch after burst: error = %v, want deadline exceeded", err)
	}
	if inner.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", inner.calls.Load())
	}
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

type countingSource struct {
	*StaticSource
	calls int
}

func (c *countingSource) FetchQuotes(ctx context.Context, ticker string, start, end time.Time) ([]domain.PriceQuote, error) {
	c.calls++
	return c.StaticSource.FetchQuotes(ctx, ticker, start, end)
}

func TestCachedSource(t *testing.T) {
	static := NewStaticSource()
	static.Set("AAPL", []domain.PriceQuote{
		{Date: day(2020, 1, 2), Price: 10},
		{Date: day(2020, 1, 3), Price: 11},
		{Date: day(2020, 1, 6), Price: 12},
	})
	inner := &countingSource{StaticSource: static}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	cache := NewCachedSource(inner, store.NewParquetStore(t.TempDir()), m)
	cache.now = func() time.Time { return day(2024, 1, 1) }
	ctx := context.Background()

	first, err := cache.FetchQuotes(ctx, "aapl", day(2020, 1, 1), day(2020, 1, 6))
	if err != nil {
		t.Fatalf("FetchQuotes (miss): %v", err)
	}
	second, err := cache.FetchQuotes(ctx, "AAPL", day(2020, 1, 2), day(2020, 1, 5))
	if err != nil {
		t.Fatalf("FetchQuotes (hit): %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("inner source called %d times, want 1", inner.calls)
	}
	if len(first) != 3 || len(second) != 2 {
		t.Errorf("got %d then %d quotes, want 3 then 2", len(first), len(second))
	}
	if n := testutil.ToFloat64(m.QuoteCacheHit.WithLabelValues("hit")); n != 1 {
		t.Errorf("cache hits = %v, want 1", n)
	}

	// Outside coverage: goes back to the source.
	if _, err := cache.FetchQuotes(ctx, "AAPL", day(2019, 12, 1), day(2020, 1, 6)); err != nil {
		t.Fatalf("FetchQuotes (wider): %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner source called %d times after a wider request, want 2", inner.calls)
	}
}

func TestCachedSourceDoesNotCoverToday(t *testing.T) {
	static := NewStaticSource()
	static.Set("AAPL", []domain.PriceQuote{
		{Date: day(2024, 1, 2), Price: 10},
		{Date: day(2024, 1, 3), Price: 11},
	})
	inner := &countingSource{StaticSource: static}
	st := store.NewParquetStore(t.TempDir())
	cache := NewCachedSource(inner, st, nil)
	cache.now = func() time.Time { return day(2024, 1, 3).Add(14 * time.Hour) }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := cache.FetchQuotes(ctx, "AAPL", day(2024, 1, 2), day(2024, 1, 3)); err != nil {
			t.Fatalf("FetchQuotes: %v", err)
		}
	}
	if inner.calls != 2 {
		t.Errorf("inner source called %d times, want 2 (today is never cached)", inner.calls)
	}

	cov, err := st.Coverage(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if !cov.End.Equal(day(2024, 1, 2)) {
		t.Errorf("coverage end = %v, want yesterday 2024-01-02", cov.End)
	}

	n, err := cache.Warm(ctx, "aapl", day(2024, 1, 2), day(2024, 1, 2))
	if err != nil || n != 1 {
		t.Errorf("Warm = %d, %v; want 1 quote from cache", n, err)
	}
	if inner.calls != 2 {
		t.Errorf("Warm of a covered day hit the source")
	}
}

func TestProviderSelection(t *testing.T) {
	cfg := &config.Config{}
	cfg.Quotes.Provider = "yahoo"
	src, err := Provider(cfg)
	if err != nil || src.Name() != "yahoo" {
		t.Fatalf("yahoo provider: %v, %v", src, err)
	}

	cfg.Quotes.Provider = "alpaca"
	if _, err := Provider(cfg); err == nil {
		t.Error("alpaca without credentials: want error")
	}
	cfg.Alpaca.APIKey, cfg.Alpaca.APISecret = "k", "s"
	if src, err := Provider(cfg); err != nil || src.Name() != "alpaca" {
		t.Errorf("alpaca provider: %v, %v", src, err)
	}

	cfg.Quotes.Provider = "bloomberg"
	if _, err := Provider(cfg); err == nil {
		t.Error("unknown provider: want error")
	}
}

func TestStackWrapsCache(t *testing.T) {
	cfg := &config.Config{}
	cfg.Quotes.Provider = "yahoo"
	cfg.Quotes.MaxAttempts = 1

	src, cached, err := Stack(cfg, store.NewParquetStore(t.TempDir()), nil)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if cached != nil {
		t.Error("cache built with Cache=false")
	}
	if _, ok := src.(*RetryingSource); !ok {
		t.Errorf("src = %T, want *RetryingSource", src)
	}

	cfg.Quotes.Cache = true
	src, cached, err = Stack(cfg, store.NewParquetStore(t.TempDir()), nil)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if cached == nil || src != Source(cached) {
		t.Errorf("src = %T, cached = %v", src, cached)
	}
}
