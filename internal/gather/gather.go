// Package gather warms the local quote cache ahead of backtest runs.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns early when ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Warmer loads a ticker's quotes for a range into the cache.
// *quotes.CachedSource satisfies it.
type Warmer interface {
	Warm(ctx context.Context, ticker string, start, end time.Time) (int, error)
}
