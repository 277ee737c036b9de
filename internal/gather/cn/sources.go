package cn

import (
	"log/slog"
	"time"

	"zhunleme/internal/config"
	"zhunleme/internal/gather"
	"zhunleme/internal/store"
	"zhunleme/internal/util"
)

// Sources bundles the remote clients and the local archive built from
// configuration.
type Sources struct {
	THS     *THSClient
	Stocks  *StockLister
	Archive *store.ParquetStore // nil when sources.archive_dir is unset
	Limiter *util.RateLimiter
}

// NewSources builds the clients described by cfg.
func NewSources(cfg config.Sources, log *slog.Logger) *Sources {
	limiter := util.NewRateLimiter(cfg.RateLimitPerMin, 5)
	s := &Sources{
		THS:     NewTHSClient(cfg.THSBaseURL, cfg.Timeout, limiter, log),
		Stocks:  NewStockLister(cfg.AKToolsBaseURL, cfg.Timeout, log),
		Limiter: limiter,
	}
	if cfg.ArchiveDir != "" {
		s.Archive = store.NewParquetStore(cfg.ArchiveDir)
	}
	return s
}

// Fallback returns the quote chain used when the store has no bars for a
// window: the local archive first, then TongHuaShun.
func (s *Sources) Fallback(log *slog.Logger) *gather.Chain {
	if s.Archive == nil {
		return gather.NewChain(log, s.THS)
	}
	return gather.NewChain(log, s.Archive, s.THS)
}

// NewSyncer wires a Syncer that writes into db and the archive.
func (s *Sources) NewSyncer(cfg config.Sync, db store.Store, log *slog.Logger) *Syncer {
	sc := SyncerConfig{
		Stocks:     s.Stocks,
		Quotes:     s.THS,
		StockStore: db,
		QuoteStore: db,
		Limiter:    s.Limiter,
		Backoff: util.Backoff{
			Attempts:  3,
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  5 * time.Second,
		},
		LookbackDays: cfg.LookbackDays,
		CodesLimit:   cfg.CodesLimit,
	}
	if s.Archive != nil {
		sc.Archive = s.Archive
	}
	return NewSyncer(sc, log)
}
