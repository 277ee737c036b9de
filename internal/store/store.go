// Package store defines storage interfaces for stocks, daily quotes and
// backtest records, with a SQL implementation and a Parquet quote archive.
package store

import (
	"context"
	"errors"
	"time"

	"zhunleme/internal/domain"
)

// ErrNotFound is returned when a keyed lookup matches nothing.
var ErrNotFound = errors.New("not found")

// StockStore persists and retrieves stock reference data.
type StockStore interface {
	// GetStock returns the stock with the given canonical code.
	GetStock(ctx context.Context, code string) (*domain.Stock, error)

	// FindStockByName returns the stock whose name matches exactly. When
	// several stocks share a name, the lowest code wins.
	FindStockByName(ctx context.Context, name string) (*domain.Stock, error)

	// UpsertStocks inserts new stocks and refreshes existing ones.
	UpsertStocks(ctx context.Context, stocks []domain.Stock) error

	// ListCodes returns up to limit stock codes in ascending order.
	ListCodes(ctx context.Context, limit int) ([]string, error)

	// RandomStock returns one stock chosen uniformly by the database.
	RandomStock(ctx context.Context) (*domain.Stock, error)
}

// QuoteStore persists and retrieves daily quote bars.
type QuoteStore interface {
	// GetQuotes returns bars for code within [start, end], ascending by date.
	GetQuotes(ctx context.Context, code string, start, end time.Time) ([]domain.QuoteBar, error)

	// UpsertQuotes writes bars, replacing any existing bar for the same
	// (code, date).
	UpsertQuotes(ctx context.Context, bars []domain.QuoteBar) error
}

// BacktestStore persists backtest aggregates.
type BacktestStore interface {
	// SaveBacktest writes the record and all of its items atomically.
	SaveBacktest(ctx context.Context, bt *domain.Backtest) error

	// LoadBacktest reads a record and its items in their original order.
	LoadBacktest(ctx context.Context, id string) (*domain.Backtest, error)

	// DeleteBacktest removes a record together with its items.
	DeleteBacktest(ctx context.Context, id string) error

	// RankItems aggregates backtest items per stock for the ranking views.
	RankItems(ctx context.Context, q RankQuery) ([]RankRow, error)
}

// Store is the complete relational store used by the server and the sync
// tool.
type Store interface {
	StockStore
	QuoteStore
	BacktestStore
	Ping(ctx context.Context) error
	Close() error
}

// RankOrder selects how RankItems orders its groups.
type RankOrder int

const (
	// OrderByRuns sorts by the number of backtests, most first.
	OrderByRuns RankOrder = iota
	// OrderByScore sorts by average score, best first.
	OrderByScore
	// OrderByReturn sorts by average return, worst first.
	OrderByReturn
)

// RankQuery selects backtest items whose backtest window starts on or after
// Since, grouped by stock.
type RankQuery struct {
	Since time.Time
	Order RankOrder
	Limit int
}

// RankRow is one aggregated stock in a ranking.
type RankRow struct {
	Code     string
	Name     string
	Runs     int
	AvgRet   float64
	AvgScore *float64
}
