// Package scheduler re-runs saved scenarios on a cron schedule so their
// stored analysis results track the latest closes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"backtester/internal/backtest"
	"backtester/internal/domain"
	"backtester/internal/metrics"
	"backtester/internal/store"
)

// Backtester runs one scenario. *backtest.Runner satisfies it.
type Backtester interface {
	Run(ctx context.Context, scenario domain.Scenario) (*backtest.Result, error)
}

// Summary reports the outcome of one refresh pass.
type Summary struct {
	Refreshed int
	Failed    int
	Skipped   int // settled before this pass
	Elapsed   time.Duration
}

// Scheduler refreshes every saved scenario on a cron schedule. The schedule
// accepts an optional leading seconds field and descriptors like @daily.
type Scheduler struct {
	cron      *cron.Cron
	runner    Backtester
	scenarios store.ScenarioStore
	metrics   *metrics.Metrics
	log       *slog.Logger
	ctx       context.Context
	now       func() time.Time

	mu      sync.Mutex // serialises refresh passes
	entryID cron.EntryID
}

// New creates a Scheduler. Jobs run with ctx; cancel it to abort a pass in
// flight. m may be nil.
func New(ctx context.Context, runner Backtester, scenarios store.ScenarioStore, m *metrics.Metrics, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		runner:    runner,
		scenarios: scenarios,
		metrics:   m,
		log:       log.With("component", "scheduler"),
		ctx:       ctx,
		now:       time.Now,
	}
}

// Register adds the refresh job on spec.
func (s *Scheduler) Register(spec string) error {
	id, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RefreshAll(s.ctx); err != nil {
			s.log.Error("scheduled refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register refresh %q: %w", spec, err)
	}
	s.entryID = id
	return nil
}

// Next returns the next scheduled refresh, or the zero time when nothing is
// registered.
func (s *Scheduler) Next() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "next", s.Next())
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RefreshAll re-runs every saved scenario and stores its analysis results.
// Scenarios already settled are skipped. A failing scenario is logged and
// counted; the pass continues. The
// returned error is non-nil only when the scenarios cannot be listed or ctx
// is cancelled.
func (s *Scheduler) RefreshAll(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	list, err := s.scenarios.ListAllScenarios(ctx)
	if err != nil {
		s.metrics.ObserveRefresh(err)
		return Summary{}, fmt.Errorf("listing scenarios: %w", err)
	}

	var sum Summary
	for i := range list {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}
		if settled(&list[i]) {
			sum.Skipped++
			continue
		}
		err := s.refresh(ctx, &list[i])
		s.metrics.ObserveRefresh(err)
		if err != nil {
			sum.Failed++
			s.log.Warn("scenario refresh failed", "id", list[i].ID, "ticker", list[i].Ticker, "error", err)
			continue
		}
		sum.Refreshed++
	}
	sum.Elapsed = time.Since(start)
	s.log.Info("refresh complete",
		"refreshed", sum.Refreshed,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"elapsed", sum.Elapsed.Round(time.Millisecond),
	)
	return sum, nil
}

// settled reports whether sc was last run on a day after its end date. Its
// window is closed, so another run cannot change the results.
func settled(sc *domain.Scenario) bool {
	ar := sc.AnalysisResults
	return ar != nil && !ar.RunAt.Before(domain.Day(sc.End).AddDate(0, 0, 1))
}

func (s *Scheduler) refresh(ctx context.Context, sc *domain.Scenario) error {
	res, err := s.runner.Run(ctx, *sc)
	if err != nil {
		return err
	}
	err = s.scenarios.SaveAnalysisResults(ctx, sc.ID, res.AnalysisResults(s.now().UTC()))
	if errors.Is(err, store.ErrNotFound) {
		// Deleted while the pass was running.
		return nil
	}
	return err
}
