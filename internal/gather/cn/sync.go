// Package cn gathers China A-share reference data and daily quotes from
// remote providers into local storage.
package cn

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"zhunleme/internal/domain"
	"zhunleme/internal/gather"
	"zhunleme/internal/store"
	"zhunleme/internal/util"
)

var _ gather.Gatherer = (*Syncer)(nil)

// QuoteArchive receives a copy of every synced bar.
type QuoteArchive interface {
	WriteQuotes(ctx context.Context, bars []domain.QuoteBar) error
}

// SyncerConfig holds the Syncer's collaborators and tuning.
type SyncerConfig struct {
	Stocks     gather.StockSource
	Quotes     gather.QuoteSource
	StockStore store.StockStore
	QuoteStore store.QuoteStore
	Archive    QuoteArchive // optional
	Limiter    *util.RateLimiter
	Backoff    util.Backoff
	Calendar   *util.TradingCalendar

	// LookbackDays and CodesLimit drive Run.
	LookbackDays int
	CodesLimit   int
}

// SyncResult reports one quote sync pass.
type SyncResult struct {
	Codes  int
	Synced int
	Failed int
	Rows   int
}

// Syncer pulls the stock master and daily quotes into the store.
type Syncer struct {
	cfg SyncerConfig
	log *slog.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(cfg SyncerConfig, log *slog.Logger) *Syncer {
	if cfg.Calendar == nil {
		cfg.Calendar = util.NewTradingCalendar()
	}
	return &Syncer{cfg: cfg, log: log.With("gatherer", "cn-sync")}
}

// Name returns the gatherer identifier.
func (s *Syncer) Name() string { return "cn-sync" }

// Run syncs the last LookbackDays of quotes for the first CodesLimit known
// codes. It is the scheduled entry point.
func (s *Syncer) Run(ctx context.Context) error {
	codes, err := s.cfg.StockStore.ListCodes(ctx, s.cfg.CodesLimit)
	if err != nil {
		return fmt.Errorf("listing codes: %w", err)
	}
	if len(codes) == 0 {
		s.log.Warn("no known codes, run a stock sync first")
		return nil
	}
	r := gather.LastDays(s.cfg.Calendar.Today(), s.cfg.LookbackDays)
	_, err = s.SyncQuotes(ctx, codes, r.Start, r.End)
	return err
}

// SyncStocks refreshes the stock master from the stock source.
func (s *Syncer) SyncStocks(ctx context.Context) (int, error) {
	if s.cfg.Stocks == nil {
		return 0, fmt.Errorf("no stock source configured")
	}
	var stocks []domain.Stock
	err := util.Retry(ctx, s.cfg.Backoff, func(ctx context.Context) error {
		var err error
		stocks, err = s.cfg.Stocks.ListStocks(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("listing stocks from %s: %w", s.cfg.Stocks.Name(), err)
	}
	if err := s.cfg.StockStore.UpsertStocks(ctx, stocks); err != nil {
		return 0, fmt.Errorf("storing stocks: %w", err)
	}
	s.log.Info("stock master sync completed", "count", len(stocks))
	return len(stocks), nil
}

// SyncQuotes fetches and upserts quotes for each code in [start, end]. A
// failing code is logged and skipped; only context cancellation aborts the
// pass.
func (s *Syncer) SyncQuotes(ctx context.Context, codes []string, start, end time.Time) (SyncResult, error) {
	res := SyncResult{Codes: len(codes)}
	runStart := time.Now()

	for _, code := range codes {
		if err := s.cfg.Limiter.Wait(ctx); err != nil {
			return res, err
		}

		n, err := s.syncCode(ctx, code, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			s.log.Error("quote sync failed", "code", code, "error", err)
			continue
		}
		res.Synced++
		res.Rows += n
	}

	s.log.Info("quote sync completed",
		"codes", res.Codes,
		"synced", res.Synced,
		"failed", res.Failed,
		"rows", res.Rows,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return res, nil
}

func (s *Syncer) syncCode(ctx context.Context, code string, start, end time.Time) (int, error) {
	var bars []domain.QuoteBar
	err := util.Retry(ctx, s.cfg.Backoff, func(ctx context.Context) error {
		var err error
		bars, err = s.cfg.Quotes.FetchQuotes(ctx, code, start, end)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetching quotes: %w", err)
	}
	if err := s.store(ctx, bars); err != nil {
		return 0, err
	}
	return len(bars), nil
}

func (s *Syncer) store(ctx context.Context, bars []domain.QuoteBar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := s.cfg.QuoteStore.UpsertQuotes(ctx, bars); err != nil {
		return fmt.Errorf("storing quotes: %w", err)
	}
	if s.cfg.Archive != nil {
		if err := s.cfg.Archive.WriteQuotes(ctx, bars); err != nil {
			s.log.Warn("archiving quotes failed", "code", bars[0].Code, "error", err)
		}
	}
	return nil
}

// ImportCSV loads an offline quote file into the store and archive.
func (s *Syncer) ImportCSV(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	bars, err := ReadQuotesCSV(f)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := s.store(ctx, bars); err != nil {
		return 0, err
	}
	s.log.Info("csv import completed", "path", path, "rows", len(bars))
	return len(bars), nil
}
