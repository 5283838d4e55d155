package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"backtester/internal/backtest"
	"backtester/internal/domain"
	"backtester/internal/quotes"
	"backtester/internal/store"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	src := quotes.NewStaticSource()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := []float64{10, 12, 11, 13, 15, 14, 16, 18, 17, 20}
	q := make([]domain.PriceQuote, len(prices))
	for i, p := range prices {
		q[i] = domain.PriceQuote{Date: start.AddDate(0, 0, i), Price: p}
	}
	src.Set("TEST", q)

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := backtest.NewRunner(src, 0, nil, log)
	s := NewServer(runner, src, db, nil, log)
	s.now = func() time.Time { return time.Date(2020, 1, 15, 12, 0, 0, 0, time.UTC) }

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func testScenarioJSON() ScenarioJSON {
	closeSpec := domain.IndicatorSpec{Type: domain.IndicatorClose}
	fixSpec := domain.IndicatorSpec{Type: domain.IndicatorFixed, Value1: 12}
	return ScenarioJSON{
		Ticker:             "test",
		Start:              "2020-01-01",
		End:                "2020-01-10",
		StartingInvestment: 1000,
		BuyTrigger:         domain.TriggerSpec{Indicator1: closeSpec, Operator: domain.OperatorGreater, Indicator2: fixSpec},
		SellTrigger:        domain.TriggerSpec{Indicator1: closeSpec, Operator: domain.OperatorLess, Indicator2: fixSpec},
	}
}

func do(t *testing.T, method, url, owner string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d (body %s)",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, b)
	}
}

func TestHealthAndIndicators(t *testing.T) {
	ts := testServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	wantStatus(t, resp, http.StatusOK)

	resp = do(t, http.MethodGet, ts.URL+"/api/indicators", "", nil)
	wantStatus(t, resp, http.StatusOK)
	choices := decode[[]map[string]any](t, resp)
	if len(choices) != 4 {
		t.Errorf("indicator choices = %d, want 4", len(choices))
	}
}

func TestBacktestEndpoint(t *testing.T) {
	ts := testServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/backtest", "", testScenarioJSON())
	wantStatus(t, resp, http.StatusOK)
	out := decode[BacktestResponse](t, resp)

	if out.Scenario.Ticker != "TEST" {
		t.Errorf("ticker = %q, want TEST", out.Scenario.Ticker)
	}
	if len(out.TradeDays) != 10 {
		t.Fatalf("tradeDays = %d, want 10", len(out.TradeDays))
	}
	if out.TradeDays[3].Action != domain.ActionBuy {
		t.Errorf("day 3 action = %s, want BUY", out.TradeDays[3].Action)
	}
	if out.Chart == nil {
		t.Error("chart missing from full response")
	}
	if out.AnnualReturnPercent != 218.4 {
		t.Errorf("annualReturnPercent = %v, want 218.4", out.AnnualReturnPercent)
	}
}

func TestBacktestSummaryOnly(t *testing.T) {
	ts := testServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/backtest?summary=true", "", testScenarioJSON())
	wantStatus(t, resp, http.StatusOK)
	out := decode[BacktestResponse](t, resp)
	if out.TradeDays != nil || out.Chart != nil {
		t.Error("summary response carries ledger or chart")
	}
	if out.EndingInvestment == 0 {
		t.Error("endingInvestment missing")
	}
}

func TestBacktestErrors(t *testing.T) {
	ts := testServer(t)

	tests := []struct {
		name   string
		mutate func(*ScenarioJSON)
		want   int
	}{
		{"bad date", func(s *ScenarioJSON) { s.Start = "01/01/2020" }, http.StatusBadRequest},
		{"end before start", func(s *ScenarioJSON) { s.End = "2019-12-01" }, http.StatusBadRequest},
		{"unknown indicator", func(s *ScenarioJSON) { s.BuyTrigger.Indicator1.Type = "RSI" }, http.StatusBadRequest},
		{"insufficient history", func(s *ScenarioJSON) {
			s.BuyTrigger.Indicator1 = domain.IndicatorSpec{Type: domain.IndicatorSMA, Value1: 50}
		}, http.StatusBadRequest},
		{"overflowing period", func(s *ScenarioJSON) {
			s.BuyTrigger.Indicator2 = domain.IndicatorSpec{Type: domain.IndicatorSMA, Value1: 1e19}
		}, http.StatusBadRequest},
		{"unknown ticker", func(s *ScenarioJSON) { s.Ticker = "NOPE" }, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := testScenarioJSON()
			tt.mutate(&sc)
			resp := do(t, http.MethodPost, ts.URL+"/api/backtest", "", sc)
			wantStatus(t, resp, tt.want)
			if e := decode[ErrorJSON](t, resp); e.Error == "" {
				t.Error("error body is empty")
			}
		})
	}
}

func TestQuotesEndpoint(t *testing.T) {
	ts := testServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/quotes?ticker=test&start=2020-01-02&end=2020-01-04", "", nil)
	wantStatus(t, resp, http.StatusOK)
	out := decode[[]QuoteJSON](t, resp)
	if len(out) != 3 || out[0].Date != "2020-01-02" || out[2].Price != 13 {
		t.Errorf("quotes = %+v", out)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/quotes", "", nil)
	wantStatus(t, resp, http.StatusBadRequest)

	resp = do(t, http.MethodGet, ts.URL+"/api/quotes?ticker=NOPE", "", nil)
	wantStatus(t, resp, http.StatusNotFound)
}

func TestDefaultScenario(t *testing.T) {
	ts := testServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/scenarios/default", "", nil)
	wantStatus(t, resp, http.StatusOK)
	sc := decode[ScenarioJSON](t, resp)
	if sc.Ticker != "AAPL" || sc.Start != "2010-02-01" || sc.End != "2020-01-15" {
		t.Errorf("default scenario = %+v", sc)
	}
}

func TestScenarioLifecycle(t *testing.T) {
	ts := testServer(t)
	const alice = "alice"

	resp := do(t, http.MethodPost, ts.URL+"/api/scenarios", alice, testScenarioJSON())
	wantStatus(t, resp, http.StatusCreated)
	created := decode[ScenarioJSON](t, resp)
	if created.ID == "" || created.Owner != alice || created.Ticker != "TEST" {
		t.Fatalf("created = %+v", created)
	}
	url := ts.URL + "/api/scenarios/" + created.ID

	resp = do(t, http.MethodGet, ts.URL+"/api/scenarios", alice, nil)
	wantStatus(t, resp, http.StatusOK)
	if list := decode[[]ScenarioJSON](t, resp); len(list) != 1 {
		t.Errorf("alice has %d scenarios, want 1", len(list))
	}
	resp = do(t, http.MethodGet, ts.URL+"/api/scenarios", "bob", nil)
	wantStatus(t, resp, http.StatusOK)
	if list := decode[[]ScenarioJSON](t, resp); len(list) != 0 {
		t.Errorf("bob has %d scenarios, want 0", len(list))
	}

	// Other owners cannot see it.
	resp = do(t, http.MethodGet, url, "bob", nil)
	wantStatus(t, resp, http.StatusNotFound)

	// PATCH merges: only startingInvestment changes.
	resp = do(t, http.MethodPatch, url, alice, map[string]any{"startingInvestment": 2000})
	wantStatus(t, resp, http.StatusOK)
	updated := decode[ScenarioJSON](t, resp)
	if updated.StartingInvestment != 2000 || updated.Ticker != "TEST" || updated.End != "2020-01-10" {
		t.Errorf("updated = %+v", updated)
	}

	resp = do(t, http.MethodPut, url, alice, map[string]any{"end": "2019-01-01"})
	wantStatus(t, resp, http.StatusBadRequest)

	resp = do(t, http.MethodPost, url+"/run", alice, nil)
	wantStatus(t, resp, http.StatusOK)
	run := decode[BacktestResponse](t, resp)
	if run.Scenario.AnalysisResults == nil {
		t.Fatal("run response has no analysisResults")
	}

	resp = do(t, http.MethodGet, url, alice, nil)
	wantStatus(t, resp, http.StatusOK)
	got := decode[ScenarioJSON](t, resp)
	if got.AnalysisResults == nil || got.AnalysisResults.EndingInvestment != run.EndingInvestment {
		t.Errorf("stored analysisResults = %+v, want ending %v", got.AnalysisResults, run.EndingInvestment)
	}

	resp = do(t, http.MethodDelete, url, "bob", nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp = do(t, http.MethodDelete, url, alice, nil)
	wantStatus(t, resp, http.StatusNoContent)
	resp = do(t, http.MethodGet, url, alice, nil)
	wantStatus(t, resp, http.StatusNotFound)
}

func TestCreateScenarioRejectsInvalid(t *testing.T) {
	ts := testServer(t)

	sc := testScenarioJSON()
	sc.StartingInvestment = -1
	resp := do(t, http.MethodPost, ts.URL+"/api/scenarios", "", sc)
	wantStatus(t, resp, http.StatusBadRequest)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/scenarios", bytes.NewBufferString("{"))
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", r.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := testServer(t)

	resp := do(t, http.MethodOptions, ts.URL+"/api/scenarios", "", nil)
	wantStatus(t, resp, http.StatusNoContent)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
