package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"backtester/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.quotePath("aapl", 2024)
	want := filepath.Join("/data", "quotes", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("quotePath mismatch:\n  got  %s\n  want %s", got, want)
	}

	got = ps.coveragePath("aapl")
	want = filepath.Join("/data", "quotes", "AAPL", "coverage.yaml")
	if got != want {
		t.Errorf("coveragePath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadQuotes(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	quotes := []domain.PriceQuote{
		{Date: day(2023, 12, 29), Price: 192.53},
		{Date: day(2024, 1, 2), Price: 185.64},
		{Date: day(2024, 1, 3), Price: 184.25},
	}
	if err := ps.WriteQuotes(ctx, "AAPL", day(2023, 12, 28), day(2024, 1, 3), quotes); err != nil {
		t.Fatalf("WriteQuotes: %v", err)
	}

	got, err := ps.ReadQuotes(ctx, "aapl", day(2023, 12, 1), day(2024, 1, 2))
	if err != nil {
		t.Fatalf("ReadQuotes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadQuotes returned %d quotes across the year boundary, want 2", len(got))
	}
	if !got[0].Date.Equal(day(2023, 12, 29)) || got[1].Price != 185.64 {
		t.Errorf("ReadQuotes = %+v", got)
	}

	cov, err := ps.Coverage(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if !cov.Start.Equal(day(2023, 12, 28)) || !cov.End.Equal(day(2024, 1, 3)) {
		t.Errorf("Coverage = %v..%v", cov.Start, cov.End)
	}
}

func TestParquetStoreMergeQuotes(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	first := []domain.PriceQuote{{Date: day(2024, 3, 1), Price: 403}, {Date: day(2024, 3, 4), Price: 1}}
	if err := ps.WriteQuotes(ctx, "MSFT", day(2024, 3, 1), day(2024, 3, 4), first); err != nil {
		t.Fatalf("WriteQuotes (first): %v", err)
	}
	second := []domain.PriceQuote{{Date: day(2024, 3, 4), Price: 408}, {Date: day(2024, 3, 5), Price: 410}}
	if err := ps.WriteQuotes(ctx, "MSFT", day(2024, 3, 5), day(2024, 3, 5), second); err != nil {
		t.Fatalf("WriteQuotes (second): %v", err)
	}

	got, err := ps.ReadQuotes(ctx, "MSFT", day(2024, 1, 1), day(2024, 12, 31))
	if err != nil {
		t.Fatalf("ReadQuotes: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadQuotes returned %d quotes after merge, want 3", len(got))
	}
	if got[1].Price != 408 {
		t.Errorf("duplicate date kept price %v, want the newer 408", got[1].Price)
	}

	cov, err := ps.Coverage(ctx, "MSFT")
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if !cov.Covers(day(2024, 3, 1), day(2024, 3, 5)) {
		t.Errorf("adjacent ranges were not merged: %v..%v", cov.Start, cov.End)
	}
}

func TestParquetStoreCoverageMissing(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	if _, err := ps.Coverage(context.Background(), "NONE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Coverage error = %v, want ErrNotFound", err)
	}
}

func TestWiden(t *testing.T) {
	old := Coverage{Start: day(2024, 1, 10), End: day(2024, 1, 20)}

	got := widen(old, Coverage{Start: day(2024, 1, 15), End: day(2024, 2, 1)})
	if !got.Start.Equal(day(2024, 1, 10)) || !got.End.Equal(day(2024, 2, 1)) {
		t.Errorf("overlapping widen = %v..%v", got.Start, got.End)
	}

	disjoint := Coverage{Start: day(2024, 6, 1), End: day(2024, 6, 30)}
	if got := widen(old, disjoint); got != disjoint {
		t.Errorf("disjoint widen = %v..%v, want replacement", got.Start, got.End)
	}
}

func TestParquetStoreListTickers(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	tickers, err := ps.ListTickers(ctx)
	if err != nil || len(tickers) != 0 {
		t.Fatalf("ListTickers on empty store = %v, %v", tickers, err)
	}

	q := []domain.PriceQuote{{Date: day(2024, 1, 2), Price: 1}}
	for _, tk := range []string{"GOOGL", "AAPL"} {
		if err := ps.WriteQuotes(ctx, tk, day(2024, 1, 2), day(2024, 1, 2), q); err != nil {
			t.Fatalf("WriteQuotes %s: %v", tk, err)
		}
	}

	tickers, err = ps.ListTickers(ctx)
	if err != nil {
		t.Fatalf("ListTickers: %v", err)
	}
	if len(tickers) != 2 || tickers[0] != "AAPL" || tickers[1] != "GOOGL" {
		t.Errorf("ListTickers = %v, want [AAPL GOOGL]", tickers)
	}
}

// ---------------------------------------------------------------------------
// SQLite
// ---------------------------------------------------------------------------

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openSQLite(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() returned error: %v", err)
	}
}

func TestSQLiteScenarioCRUD(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	sc := domain.DefaultScenario(day(2024, 6, 1))
	sc.Owner = "alice"
	if err := s.CreateScenario(ctx, &sc); err != nil {
		t.Fatalf("CreateScenario: %v", err)
	}
	if sc.ID == "" || sc.CreatedAt.IsZero() {
		t.Fatalf("CreateScenario did not assign id/timestamps: %+v", sc)
	}

	got, err := s.GetScenario(ctx, sc.ID)
	if err != nil {
		t.Fatalf("GetScenario: %v", err)
	}
	if got.Ticker != "AAPL" || !got.Start.Equal(day(2010, 2, 1)) || !got.End.Equal(day(2024, 6, 1)) {
		t.Errorf("GetScenario = %+v", got)
	}
	if got.BuyTrigger != sc.BuyTrigger || got.SellTrigger != sc.SellTrigger {
		t.Errorf("triggers did not round trip: %+v / %+v", got.BuyTrigger, got.SellTrigger)
	}
	if got.AnalysisResults != nil {
		t.Errorf("new scenario has analysis results %+v", got.AnalysisResults)
	}

	got.Ticker = "MSFT"
	got.TransactionCost = 5
	if err := s.UpdateScenario(ctx, got); err != nil {
		t.Fatalf("UpdateScenario: %v", err)
	}
	ar := &domain.AnalysisResults{EndingInvestment: 12345.67, InvestmentReturnPercent: 23.4567, AnnualReturnPercent: 1.2}
	if err := s.SaveAnalysisResults(ctx, sc.ID, ar); err != nil {
		t.Fatalf("SaveAnalysisResults: %v", err)
	}

	got, err = s.GetScenario(ctx, sc.ID)
	if err != nil {
		t.Fatalf("GetScenario after update: %v", err)
	}
	if got.Ticker != "MSFT" || got.TransactionCost != 5 || got.Owner != "alice" {
		t.Errorf("updated scenario = %+v", got)
	}
	if got.AnalysisResults == nil || got.AnalysisResults.EndingInvestment != 12345.67 {
		t.Errorf("analysis results = %+v", got.AnalysisResults)
	}

	if err := s.DeleteScenario(ctx, sc.ID); err != nil {
		t.Fatalf("DeleteScenario: %v", err)
	}
	if _, err := s.GetScenario(ctx, sc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetScenario after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteScenario(ctx, sc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteScenario error = %v, want ErrNotFound", err)
	}
	missing := domain.DefaultScenario(day(2024, 6, 1))
	missing.ID = "missing"
	if err := s.UpdateScenario(ctx, &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateScenario(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteListScenarios(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	clock := day(2024, 1, 1)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	for _, owner := range []string{"alice", "bob", "alice"} {
		sc := domain.DefaultScenario(day(2024, 6, 1))
		sc.Owner = owner
		if err := s.CreateScenario(ctx, &sc); err != nil {
			t.Fatalf("CreateScenario: %v", err)
		}
	}

	alice, err := s.ListScenarios(ctx, "alice")
	if err != nil {
		t.Fatalf("ListScenarios: %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("ListScenarios(alice) returned %d, want 2", len(alice))
	}
	if !alice[0].CreatedAt.After(alice[1].CreatedAt) {
		t.Error("ListScenarios should return newest first")
	}

	all, err := s.ListAllScenarios(ctx)
	if err != nil {
		t.Fatalf("ListAllScenarios: %v", err)
	}
	if len(all) != 3 || all[1].Owner != "bob" {
		t.Errorf("ListAllScenarios = %d scenarios, second owner %q", len(all), all[1].Owner)
	}

	none, err := s.ListScenarios(ctx, "carol")
	if err != nil || len(none) != 0 {
		t.Errorf("ListScenarios(carol) = %v, %v", none, err)
	}
}
