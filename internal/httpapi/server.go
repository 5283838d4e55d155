package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"backtester/internal/backtest"
	"backtester/internal/domain"
	"backtester/internal/quotes"
	"backtester/internal/store"
	"backtester/internal/strategy"
)

// OwnerHeader carries the opaque id of the caller. Requests without it act
// as DefaultOwner.
const (
	OwnerHeader  = "X-Owner-ID"
	DefaultOwner = "anonymous"
)

const maxBodyBytes = 1 << 20

// Server serves the backtest HTTP API.
type Server struct {
	runner    *backtest.Runner
	source    quotes.Source
	scenarios store.ScenarioStore
	metrics   http.Handler
	log       *slog.Logger
	now       func() time.Time
}

// NewServer creates the HTTP API. metrics may be nil to disable /metrics.
func NewServer(runner *backtest.Runner, source quotes.Source, scenarios store.ScenarioStore, metrics http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		runner:    runner,
		source:    source,
		scenarios: scenarios,
		metrics:   metrics,
		log:       log.With("component", "httpapi"),
		now:       time.Now,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/quotes", s.handleQuotes)
	mux.HandleFunc("GET /api/indicators", s.handleIndicators)
	mux.HandleFunc("POST /api/backtest", s.handleBacktest)

	mux.HandleFunc("GET /api/scenarios/default", s.handleDefaultScenario)
	mux.HandleFunc("GET /api/scenarios", s.handleListScenarios)
	mux.HandleFunc("POST /api/scenarios", s.handleCreateScenario)
	mux.HandleFunc("GET /api/scenarios/{id}", s.handleGetScenario)
	mux.HandleFunc("PUT /api/scenarios/{id}", s.handleUpdateScenario)
	mux.HandleFunc("PATCH /api/scenarios/{id}", s.handleUpdateScenario)
	mux.HandleFunc("DELETE /api/scenarios/{id}", s.handleDeleteScenario)
	mux.HandleFunc("POST /api/scenarios/{id}/run", s.handleRunScenario)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns an http.Handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.logMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+OwnerHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).Round(time.Microsecond),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorJSON{Error: msg})
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidScenario),
		errors.Is(err, strategy.ErrUnknownIndicator),
		errors.Is(err, backtest.ErrInsufficientHistory),
		errors.Is(err, backtest.ErrNoTradeDays):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, quotes.ErrNoQuotes):
		return http.StatusNotFound
	case errors.Is(err, backtest.ErrQuoteRetrieval):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server-side failures are logged
// and their detail hidden from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			writeError(w, status, "internal error")
			return
		}
	}
	writeError(w, status, err.Error())
}

func owner(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(OwnerHeader)); v != "" {
		return v
	}
	return DefaultOwner
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", domain.ErrInvalidScenario)
		}
		return fmt.Errorf("%w: decoding body: %v", domain.ErrInvalidScenario, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndicators(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, strategy.Catalog())
}

// handleQuotes serves GET /api/quotes?ticker=AAPL&start=2020-01-01&end=2020-12-31.
// start defaults to one year before end; end defaults to today.
func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ticker := quotes.NormalizeTicker(q.Get("ticker"))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker required")
		return
	}

	end := domain.Day(s.now())
	if v := q.Get("end"); v != "" {
		t, err := domain.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
			return
		}
		end = t
	}
	start := end.AddDate(-1, 0, 0)
	if v := q.Get("start"); v != "" {
		t, err := domain.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		start = t
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end is before start")
		return
	}

	list, err := s.source.FetchQuotes(r.Context(), ticker, start, end)
	if err != nil {
		if !errors.Is(err, quotes.ErrNoQuotes) {
			err = fmt.Errorf("%w: %w", backtest.ErrQuoteRetrieval, err)
		}
		s.fail(w, r, err)
		return
	}
	out := make([]QuoteJSON, len(list))
	for i, p := range list {
		out[i] = QuoteJSON{Date: p.Date.Format(domain.DateLayout), Price: p.Price}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleBacktest runs an unsaved scenario. ?summary=true omits the ledger
// and chart.
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var body ScenarioJSON
	if err := decodeBody(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	sc, err := body.toScenario()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sc.Owner = owner(r)

	res, err := s.runner.Run(r.Context(), sc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBacktestResponse(res, summaryOnly(r)))
}

func summaryOnly(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("summary"))
	return v
}

func (s *Server) handleDefaultScenario(w http.ResponseWriter, _ *http.Request) {
	sc := domain.DefaultScenario(s.now())
	writeJSON(w, http.StatusOK, toScenarioJSON(&sc))
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	list, err := s.scenarios.ListScenarios(r.Context(), owner(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]ScenarioJSON, len(list))
	for i := range list {
		out[i] = toScenarioJSON(&list[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var body ScenarioJSON
	if err := decodeBody(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	sc, err := body.toScenario()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sc.Ticker = quotes.NormalizeTicker(sc.Ticker)
	if err := sc.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	sc.Owner = owner(r)

	if err := s.scenarios.CreateScenario(r.Context(), &sc); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("scenario created", "id", sc.ID, "owner", sc.Owner, "ticker", sc.Ticker)
	writeJSON(w, http.StatusCreated, toScenarioJSON(&sc))
}

// ownedScenario loads {id} and hides scenarios of other owners as not found.
func (s *Server) ownedScenario(r *http.Request) (*domain.Scenario, error) {
	id := r.PathValue("id")
	sc, err := s.scenarios.GetScenario(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if sc.Owner != owner(r) {
		return nil, fmt.Errorf("scenario %s: %w", id, store.ErrNotFound)
	}
	return sc, nil
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := s.ownedScenario(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScenarioJSON(sc))
}

// handleUpdateScenario serves PUT and PATCH. Both merge the body over the
// stored scenario, so omitted fields keep their current values.
func (s *Server) handleUpdateScenario(w http.ResponseWriter, r *http.Request) {
	existing, err := s.ownedScenario(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	merged := toScenarioJSON(existing)
	if err := decodeBody(w, r, &merged); err != nil {
		s.fail(w, r, err)
		return
	}
	sc, err := merged.toScenario()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sc.Ticker = quotes.NormalizeTicker(sc.Ticker)
	if err := sc.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	sc.ID, sc.Owner = existing.ID, existing.Owner
	sc.CreatedAt, sc.AnalysisResults = existing.CreatedAt, existing.AnalysisResults

	if err := s.scenarios.UpdateScenario(r.Context(), &sc); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScenarioJSON(&sc))
}

func (s *Server) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := s.ownedScenario(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.scenarios.DeleteScenario(r.Context(), sc.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("scenario deleted", "id", sc.ID, "owner", sc.Owner)
	w.WriteHeader(http.StatusNoContent)
}

// handleRunScenario runs a saved scenario and stores the summary on it.
func (s *Server) handleRunScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := s.ownedScenario(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.runner.Run(r.Context(), *sc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ar := res.AnalysisResults(s.now().UTC())
	if err := s.scenarios.SaveAnalysisResults(r.Context(), sc.ID, ar); err != nil {
		s.fail(w, r, err)
		return
	}
	res.Scenario.AnalysisResults = ar
	writeJSON(w, http.StatusOK, toBacktestResponse(res, summaryOnly(r)))
}
