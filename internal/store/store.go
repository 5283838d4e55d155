// Package store defines storage interfaces for cached price quotes and saved
// scenarios, with Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"backtester/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Coverage is the inclusive date range a quote cache holds for one ticker.
type Coverage struct {
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
}

// Covers reports whether the range includes [start, end].
func (c Coverage) Covers(start, end time.Time) bool {
	return !domain.Day(start).Before(c.Start) && !domain.Day(end).After(c.End)
}

// QuoteStore persists and retrieves daily closing prices.
type QuoteStore interface {
	// WriteQuotes merges quotes for ticker into storage and records that
	// [start, end] has been fetched, so days without a quote inside the
	// range (weekends, holidays) are not refetched.
	WriteQuotes(ctx context.Context, ticker string, start, end time.Time, quotes []domain.PriceQuote) error

	// ReadQuotes returns the stored quotes for ticker within [start, end],
	// ascending by date.
	ReadQuotes(ctx context.Context, ticker string, start, end time.Time) ([]domain.PriceQuote, error)

	// Coverage returns the fetched range for ticker, or ErrNotFound.
	Coverage(ctx context.Context, ticker string) (Coverage, error)

	// ListTickers returns all tickers with stored quotes.
	ListTickers(ctx context.Context) ([]string, error)
}

// ScenarioStore persists user scenarios.
type ScenarioStore interface {
	// CreateScenario assigns an id and timestamps and inserts the scenario.
	CreateScenario(ctx context.Context, s *domain.Scenario) error

	// GetScenario retrieves a scenario by id.
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)

	// ListScenarios returns the scenarios of one owner, newest first.
	ListScenarios(ctx context.Context, owner string) ([]domain.Scenario, error)

	// ListAllScenarios returns every stored scenario, oldest first.
	ListAllScenarios(ctx context.Context) ([]domain.Scenario, error)

	// UpdateScenario replaces the editable fields of an existing scenario.
	UpdateScenario(ctx context.Context, s *domain.Scenario) error

	// DeleteScenario removes a scenario.
	DeleteScenario(ctx context.Context, id string) error

	// SaveAnalysisResults stores the summary of the latest run.
	SaveAnalysisResults(ctx context.Context, id string, res *domain.AnalysisResults) error
}
