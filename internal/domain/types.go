// Package domain holds the core types shared across the backtest service:
// stocks, daily quote bars, and persisted backtest records.
package domain

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date wire format used throughout the service.
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

// Exchange identifies the listing venue of an A-share.
type Exchange string

const (
	ExchangeSSE     Exchange = "SSE"
	ExchangeSZSE    Exchange = "SZSE"
	ExchangeBSE     Exchange = "BSE"
	ExchangeUnknown Exchange = "UNKNOWN"
)

// DetectExchange infers the exchange from a canonical 6-digit code.
func DetectExchange(code string) Exchange {
	switch {
	case strings.HasPrefix(code, "60"), strings.HasPrefix(code, "68"):
		return ExchangeSSE
	case strings.HasPrefix(code, "00"), strings.HasPrefix(code, "30"):
		return ExchangeSZSE
	case strings.HasPrefix(code, "43"):
		return ExchangeBSE
	default:
		return ExchangeUnknown
	}
}

// Stock is the immutable identity of a listed stock.
type Stock struct {
	Code       string
	Name       string
	Exchange   Exchange
	StatusTags []string
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// QuoteBar is one trading day for one stock. Optional fields are nil when the
// provider did not supply them.
type QuoteBar struct {
	Code     string
	Date     time.Time // midnight UTC
	Open     float64
	Close    float64
	High     float64
	Low      float64
	Volume   *float64
	Amount   *float64
	Turnover *float64
	AdjClose *float64
	Flags    []string
}

// Day truncates t to a midnight-UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a calendar date.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// ---------------------------------------------------------------------------
// Backtest results
// ---------------------------------------------------------------------------

// Grade is a coarse rating derived from annualized return.
type Grade string

// Grades ordered best to worst.
const (
	GradeXiu    Grade = "秀"
	GradeTop    Grade = "顶级"
	GradeAbove  Grade = "人上人"
	GradeNPC    Grade = "NPC"
	GradeBottom Grade = "拉完了"
)

// Grades lists every grade from best to worst.
var Grades = []Grade{GradeXiu, GradeTop, GradeAbove, GradeNPC, GradeBottom}

// Rank returns the position of g in Grades (0 is best), or -1.
func (g Grade) Rank() int {
	for i, x := range Grades {
		if x == g {
			return i
		}
	}
	return -1
}

// FlagShortWindow marks an item whose buy and sell dates are less than two
// calendar days apart.
const FlagShortWindow = "SHORT_WINDOW"

// Window is the backtest date range. Start is the recommend date (exclusive
// for buy selection) and End is inclusive for sell selection.
type Window struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether End is strictly after Start.
func (w Window) Valid() bool {
	return Day(w.End).After(Day(w.Start))
}

// Days returns the calendar length of the window.
func (w Window) Days() int {
	return DaysBetween(w.Start, w.End)
}

// BacktestItem is one stock's outcome within a window.
type BacktestItem struct {
	Code        string
	Name        string
	BuyDate     time.Time
	BuyPrice    float64
	SellDate    time.Time
	SellPrice   float64
	Return      float64
	Excess      float64
	Annualized  float64
	Sharpe      *float64
	MaxDrawdown *float64
	Calmar      *float64
	Score       *float64
	Grade       Grade
	Flags       []string
	TradingDays int
}

// Summary aggregates all items of one backtest run.
type Summary struct {
	WinRate         float64  `json:"win_rate"`
	Return          float64  `json:"ret"`
	Annualized      float64  `json:"ann"`
	BenchReturn     float64  `json:"bench_ret"`
	BenchAnnualized float64  `json:"bench_ann"`
	Excess          float64  `json:"excess"`
	Sharpe          *float64 `json:"sharpe"`
	MaxDrawdown     *float64 `json:"mdd"`
	Calmar          *float64 `json:"calmar"`
}

// Backtest is the persisted aggregate: one record owning its ordered items.
type Backtest struct {
	ID        string
	UserID    *string
	Window    Window
	Benchmark string
	Summary   Summary
	Items     []BacktestItem
	CreatedAt time.Time
}
