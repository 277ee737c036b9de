// Package rank builds the leaderboards over recent backtests and the random
// stock pick.
package rank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"zhunleme/internal/domain"
	"zhunleme/internal/store"
	"zhunleme/internal/util"
)

var (
	// ErrInvalidQuery is returned for an unknown kind or out-of-range
	// parameter.
	ErrInvalidQuery = errors.New("invalid rank query")
	// ErrNotFound is returned by RandomPick when no stock is known.
	ErrNotFound = errors.New("stock universe is empty")
)

// Kind selects a leaderboard.
type Kind string

const (
	KindHot   Kind = "hot"
	KindBest  Kind = "best"
	KindWorst Kind = "worst"
)

// Parameter bounds and defaults.
const (
	DefaultDays  = 10
	DefaultLimit = 20
	DefaultK     = 5
	maxDays      = 30
	maxLimit     = 100
	maxK         = 10
)

// randomGrades are the grades RandomPick draws from.
var randomGrades = []domain.Grade{domain.GradeNPC, domain.GradeAbove, domain.GradeTop}

// Query is a leaderboard request. Zero fields take their defaults.
type Query struct {
	Kind  Kind
	Days  int
	Limit int
	K     int
}

// Item is one leaderboard row.
type Item struct {
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Score  *float64 `json:"score"`
	Grade  *string  `json:"grade"`
	Reason string   `json:"reason"`
}

// Board is a rendered leaderboard.
type Board struct {
	Type      Kind    `json:"type"`
	Days      int     `json:"days"`
	K         *int    `json:"k"`
	Limit     int     `json:"limit"`
	UpdatedAt *string `json:"updated_at"`
	Items     []Item  `json:"items"`
}

// Pick is a random stock with a random grade.
type Pick struct {
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Grade  string   `json:"grade"`
	Reason *string  `json:"reason"`
	Flags  []string `json:"flags"`
}

// Service serves leaderboards and random picks.
type Service struct {
	backtests store.BacktestStore
	stocks    store.StockStore
	calendar  *util.TradingCalendar
	log       *slog.Logger
}

// NewService creates a Service. A nil calendar uses the Shanghai clock.
func NewService(backtests store.BacktestStore, stocks store.StockStore, calendar *util.TradingCalendar, log *slog.Logger) *Service {
	if calendar == nil {
		calendar = util.NewTradingCalendar()
	}
	return &Service{
		backtests: backtests,
		stocks:    stocks,
		calendar:  calendar,
		log:       log.With("component", "rank"),
	}
}

// normalize fills defaults and checks bounds.
func (q Query) normalize() (Query, error) {
	if q.Days == 0 {
		q.Days = DefaultDays
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.K == 0 {
		q.K = DefaultK
	}
	switch {
	case q.Kind != KindHot && q.Kind != KindBest && q.Kind != KindWorst:
		return q, fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, q.Kind)
	case q.Days < 1 || q.Days > maxDays:
		return q, fmt.Errorf("%w: days must be within 1..%d", ErrInvalidQuery, maxDays)
	case q.Limit < 1 || q.Limit > maxLimit:
		return q, fmt.Errorf("%w: limit must be within 1..%d", ErrInvalidQuery, maxLimit)
	case q.K < 1 || q.K > maxK:
		return q, fmt.Errorf("%w: k must be within 1..%d", ErrInvalidQuery, maxK)
	}
	return q, nil
}

// Rankings aggregates items of backtests whose window starts within the last
// q.Days days. hot orders by run count, best by average score and worst by
// average return ascending.
func (s *Service) Rankings(ctx context.Context, q Query) (*Board, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}

	order := map[Kind]store.RankOrder{
		KindHot:   store.OrderByRuns,
		KindBest:  store.OrderByScore,
		KindWorst: store.OrderByReturn,
	}[q.Kind]

	rows, err := s.backtests.RankItems(ctx, store.RankQuery{
		Since: s.calendar.Today().AddDate(0, 0, -q.Days),
		Order: order,
		Limit: q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("ranking %s: %w", q.Kind, err)
	}
	s.log.Debug("ranking built", "kind", q.Kind, "days", q.Days, "rows", len(rows))

	board := &Board{Type: q.Kind, Days: q.Days, Limit: q.Limit, Items: make([]Item, 0, len(rows))}
	if q.Kind != KindHot {
		k := q.K
		board.K = &k
	}
	for _, r := range rows {
		board.Items = append(board.Items, Item{
			Code:   r.Code,
			Name:   r.Name,
			Score:  r.AvgScore,
			Reason: Reason(q.Days, r.Runs, r.AvgRet),
		})
	}
	return board, nil
}

// Reason renders the leaderboard caption, e.g. "近10日回测3次，平均收益 5.12%".
func Reason(days, runs int, avgRet float64) string {
	return fmt.Sprintf("近%d日回测%d次，平均收益 %.2f%%", days, runs, avgRet*100)
}

// RandomPick returns a random known stock labelled with a random grade.
func (s *Service) RandomPick(ctx context.Context) (*Pick, error) {
	st, err := s.stocks.RandomStock(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("picking stock: %w", err)
	}
	flags := st.StatusTags
	if flags == nil {
		flags = []string{}
	}
	return &Pick{
		Code:  st.Code,
		Name:  st.Name,
		Grade: string(randomGrades[rand.IntN(len(randomGrades))]),
		Flags: flags,
	}, nil
}
