package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"backtester/internal/domain"
	"backtester/internal/quotes"
	"backtester/internal/util"
)

var _ Gatherer = (*CacheWarmer)(nil)

// CacheWarmer fills the quote cache for a fixed ticker list from a start
// date up to the latest finished trading day. A pass that already completed
// for that day is skipped, and tickers that returned no quotes are not
// retried until the day changes.
type CacheWarmer struct {
	warmer     Warmer
	tickers    []string
	start      time.Time
	endDate    EndDateFunc
	progress   string
	maxWorkers int
	limiter    *util.RateLimiter
	log        *slog.Logger
}

// WarmResult summarises one pass.
type WarmResult struct {
	End      time.Time
	Warmed   int
	NoQuotes int
	Failed   int
	Quotes   int64
	Skipped  bool
}

// NewCacheWarmer creates a CacheWarmer. progressDir holds the resume files.
// A perMinute of zero or less disables the warmer's own rate limit.
func NewCacheWarmer(w Warmer, tickers []string, start time.Time, endDate EndDateFunc, progressDir string, maxWorkers, perMinute int) *CacheWarmer {
	var limiter *util.RateLimiter
	if perMinute > 0 {
		limiter = util.NewRateLimiter(perMinute)
	}
	normalized := make([]string, 0, len(tickers))
	seen := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		t = quotes.NormalizeTicker(t)
		if _, dup := seen[t]; t == "" || dup {
			continue
		}
		seen[t] = struct{}{}
		normalized = append(normalized, t)
	}
	return &CacheWarmer{
		warmer:     w,
		tickers:    normalized,
		start:      domain.Day(start),
		endDate:    endDate,
		progress:   progressDir,
		maxWorkers: max(maxWorkers, 1),
		limiter:    limiter,
		log:        slog.Default().With("gatherer", "quote-cache"),
	}
}

// Name returns the gatherer identifier.
func (g *CacheWarmer) Name() string { return "quote-cache" }

// Run performs one warming pass.
func (g *CacheWarmer) Run(ctx context.Context) error {
	res, err := g.Warm(ctx)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d tickers failed", res.Failed, len(g.tickers))
	}
	return nil
}

// Warm performs one warming pass and reports what it did.
func (g *CacheWarmer) Warm(ctx context.Context) (WarmResult, error) {
	end, err := g.endDate()
	if err != nil {
		return WarmResult{}, fmt.Errorf("determining end date: %w", err)
	}
	end = domain.Day(end)
	endStr := end.Format(domain.DateLayout)
	res := WarmResult{End: end}

	if end.Before(g.start) {
		return res, fmt.Errorf("end %s is before start %s", endStr, g.start.Format(domain.DateLayout))
	}

	tracker, err := newProgressTracker(g.progress)
	if err != nil {
		return res, fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	if tracker.IsCompleted(endStr) {
		g.log.Info("already completed", "endDate", endStr)
		res.Skipped = true
		return res, nil
	}
	if last := tracker.LastCompleted(); last != "" && last != endStr {
		if err := tracker.Reset(); err != nil {
			return res, fmt.Errorf("resetting tracker: %w", err)
		}
	}

	var remaining []string
	for _, t := range g.tickers {
		if !tracker.HasNoQuotes(t) {
			remaining = append(remaining, t)
		}
	}
	g.log.Info("starting cache warm",
		"endDate", endStr,
		"total", len(g.tickers),
		"remaining", len(remaining),
	)

	ch := make(chan string, len(remaining))
	for _, t := range remaining {
		ch <- t
	}
	close(ch)

	var (
		wg       sync.WaitGroup
		warmed   atomic.Int64
		noQuotes atomic.Int64
		failed   atomic.Int64
		total    atomic.Int64
		runStart = time.Now()
	)
	workers := min(g.maxWorkers, len(remaining))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticker := range ch {
				if ctx.Err() != nil {
					return
				}
				if g.limiter != nil {
					if err := g.limiter.Wait(ctx); err != nil {
						return
					}
				}

				n, err := g.warmer.Warm(ctx, ticker, g.start, end)
				switch {
				case errors.Is(err, quotes.ErrNoQuotes):
					noQuotes.Add(1)
					if err := tracker.MarkNoQuotes(ticker); err != nil {
						g.log.Error("marking no-quotes failed", "ticker", ticker, "err", err)
					}
					continue
				case err != nil:
					if ctx.Err() != nil {
						return
					}
					failed.Add(1)
					g.log.Error("warm failed", "ticker", ticker, "err", err)
					continue
				}
				warmed.Add(1)
				total.Add(int64(n))
				g.log.Info("ticker warmed",
					"ticker", ticker,
					"quotes", n,
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}
	wg.Wait()

	res.Warmed = int(warmed.Load())
	res.NoQuotes = int(noQuotes.Load())
	res.Failed = int(failed.Load())
	res.Quotes = total.Load()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if res.Failed == 0 {
		if err := tracker.MarkCompleted(endStr); err != nil {
			return res, fmt.Errorf("marking completed: %w", err)
		}
	}
	g.log.Info("cache warm complete",
		"endDate", endStr,
		"warmed", res.Warmed,
		"noQuotes", res.NoQuotes,
		"failed", res.Failed,
		"quotes", res.Quotes,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return res, nil
}
