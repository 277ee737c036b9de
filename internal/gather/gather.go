// Package gather defines the interfaces for market data sources and the
// processes that pull from them into local storage.
package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zhunleme/internal/domain"
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

// LastDays returns the range of n calendar days ending at end.
func LastDays(end time.Time, n int) DateRange {
	end = domain.Day(end)
	return DateRange{Start: end.AddDate(0, 0, -n), End: end}
}

// QuoteSource supplies daily bars for one stock.
type QuoteSource interface {
	Name() string
	// FetchQuotes returns bars with start <= date <= end, ascending by date.
	FetchQuotes(ctx context.Context, code string, start, end time.Time) ([]domain.QuoteBar, error)
}

// StockSource supplies the listed stock universe.
type StockSource interface {
	Name() string
	ListStocks(ctx context.Context) ([]domain.Stock, error)
}

// ---------------------------------------------------------------------------
// Chain: ordered fallback across quote sources
// ---------------------------------------------------------------------------

// Chain tries each source in order and returns the first non-empty result.
// Errors are logged and the next source is tried; the joined error is
// returned only when every source failed.
type Chain struct {
	sources []QuoteSource
	log     *slog.Logger
}

var _ QuoteSource = (*Chain)(nil)

// NewChain builds a Chain over sources. Nil entries are skipped.
func NewChain(log *slog.Logger, sources ...QuoteSource) *Chain {
	c := &Chain{log: log}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// Name returns the gatherer identifier.
func (c *Chain) Name() string { return "chain" }

// Len reports the number of sources in the chain.
func (c *Chain) Len() int { return len(c.sources) }

// FetchQuotes returns the first non-empty result in source order.
func (c *Chain) FetchQuotes(ctx context.Context, code string, start, end time.Time) ([]domain.QuoteBar, error) {
	var errs []error
	for _, src := range c.sources {
		bars, err := src.FetchQuotes(ctx, code, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("quote source failed", "source", src.Name(), "code", code, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if len(bars) > 0 {
			return bars, nil
		}
	}
	if len(errs) == len(c.sources) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
