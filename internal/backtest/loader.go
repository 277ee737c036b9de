package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"zhunleme/internal/domain"
	"zhunleme/internal/gather"
	"zhunleme/internal/store"
)

// Loader reads quotes from the store and falls back to a remote source when
// the store has none for the window.
type Loader struct {
	quotes   store.QuoteStore
	fallback gather.QuoteSource // may be nil
	log      *slog.Logger
}

// NewLoader creates a Loader. A nil fallback disables remote loading.
func NewLoader(quotes store.QuoteStore, fallback gather.QuoteSource, log *slog.Logger) *Loader {
	return &Loader{quotes: quotes, fallback: fallback, log: log}
}

// Load returns bars for code within [start, end], ascending. Stored bars are
// returned as-is. Only when there are none is the fallback asked, once; its
// bars are not persisted and its failures read as no data.
func (l *Loader) Load(ctx context.Context, code string, start, end time.Time) ([]domain.QuoteBar, error) {
	bars, err := l.quotes.GetQuotes(ctx, code, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading stored quotes: %w", err)
	}
	if len(bars) > 0 || l.fallback == nil {
		return bars, nil
	}

	bars, err = l.fallback.FetchQuotes(ctx, code, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.log.Warn("fallback quotes failed", "code", code, "source", l.fallback.Name(), "error", err)
		return nil, nil
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	l.log.Debug("loaded fallback quotes", "code", code, "source", l.fallback.Name(), "rows", len(bars))
	return bars, nil
}
