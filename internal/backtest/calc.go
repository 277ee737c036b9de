// Package backtest evaluates recommended stocks over a holding window: it
// resolves free-form stock tokens, loads quotes with a remote fallback,
// computes per-stock performance metrics and persists the aggregate.
package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"zhunleme/internal/domain"
)

// AnnualTradingDays is the A-share trading-year length used for
// annualization and Sharpe scaling.
const AnnualTradingDays = 244

// Score weights.
const (
	weightAnn    = 0.5
	weightSharpe = 0.3
	weightMDD    = 0.2
)

var gradeThresholds = []struct {
	min   float64
	grade domain.Grade
}{
	{0.25, domain.GradeXiu},
	{0.15, domain.GradeTop},
	{0.05, domain.GradeAbove},
	{0.0, domain.GradeNPC},
}

// ---------------------------------------------------------------------------
// Trade selection
// ---------------------------------------------------------------------------

// SelectTrade picks the buy bar (first bar dated after recommend, else the
// first bar) and the sell bar (last bar dated on or before end, else the last
// bar). ok is false when bars is empty, the buy does not precede the sell, or
// either price is non-positive.
func SelectTrade(bars []domain.QuoteBar, recommend, end time.Time) (buy, sell domain.QuoteBar, ok bool) {
	if len(bars) == 0 {
		return buy, sell, false
	}
	recommend, end = domain.Day(recommend), domain.Day(end)

	buy = bars[0]
	for _, b := range bars {
		if b.Date.After(recommend) {
			buy = b
			break
		}
	}
	sell = bars[len(bars)-1]
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].Date.After(end) {
			sell = bars[i]
			break
		}
	}

	if !buy.Date.Before(sell.Date) {
		return buy, sell, false
	}
	if buy.Open <= 0 || sell.Close <= 0 {
		return buy, sell, false
	}
	return buy, sell, true
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Annualize compounds ret over tradingDays to a 244-day year. It returns 0
// for a non-positive day count.
func Annualize(ret float64, tradingDays int) float64 {
	if tradingDays <= 0 {
		return 0
	}
	return math.Pow(1+ret, float64(AnnualTradingDays)/float64(tradingDays)) - 1
}

// DailyReturns returns close-to-close changes across all bars, skipping steps
// whose previous close is non-positive.
func DailyReturns(bars []domain.QuoteBar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev > 0 {
			out = append(out, bars[i].Close/prev-1)
		}
	}
	return out
}

// Sharpe returns mean/stdev scaled by sqrt(244), using the sample standard
// deviation. It is nil for fewer than two returns or zero deviation.
func Sharpe(daily []float64) *float64 {
	if len(daily) < 2 {
		return nil
	}
	mean, std := stat.MeanStdDev(daily, nil)
	if std == 0 {
		return nil
	}
	v := mean / std * math.Sqrt(AnnualTradingDays)
	return &v
}

// MaxDrawdown walks closes with the running peak seeded at base and returns
// the most negative (close-peak)/peak, or 0 if prices never fall below the
// peak. It is nil only for an empty series.
func MaxDrawdown(bars []domain.QuoteBar, base float64) *float64 {
	if len(bars) == 0 {
		return nil
	}
	peak := base
	mdd := 0.0
	for _, b := range bars {
		if b.Close > peak {
			peak = b.Close
		}
		if dd := (b.Close - peak) / peak; dd < mdd {
			mdd = dd
		}
	}
	return &mdd
}

// Calmar is ann/|mdd|, nil when mdd is nil or zero.
func Calmar(ann float64, mdd *float64) *float64 {
	if mdd == nil || *mdd == 0 {
		return nil
	}
	v := ann / math.Abs(*mdd)
	return &v
}

// Score combines ann, sharpe and mdd with fixed weights. Nil inputs are left
// out of the sum.
func Score(ann float64, sharpe, mdd *float64) *float64 {
	v := weightAnn * ann
	if sharpe != nil {
		v += weightSharpe * *sharpe
	}
	if mdd != nil {
		v -= weightMDD * math.Abs(*mdd)
	}
	return &v
}

// ClassifyGrade maps an annualized return onto the grade ladder. Thresholds
// are inclusive.
func ClassifyGrade(ann float64) domain.Grade {
	for _, t := range gradeThresholds {
		if ann >= t.min {
			return t.grade
		}
	}
	return domain.GradeBottom
}

// roundPrice rounds a price to 4 decimal places.
func roundPrice(p float64) float64 {
	return decimal.NewFromFloat(p).Round(4).InexactFloat64()
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// Evaluate computes one stock's result over bars. ok is false when the window
// is degenerate for this stock. Excess is left zero for the caller to fill
// once the benchmark is known.
func Evaluate(stock domain.Stock, bars []domain.QuoteBar, recommend, end time.Time) (*domain.BacktestItem, bool) {
	buy, sell, ok := SelectTrade(bars, recommend, end)
	if !ok {
		return nil, false
	}

	buyPx, sellPx := buy.Open, sell.Close
	ret := sellPx/buyPx - 1
	days := max(1, domain.DaysBetween(buy.Date, sell.Date))
	ann := Annualize(ret, days)

	sharpe := Sharpe(DailyReturns(bars))
	mdd := MaxDrawdown(bars, buyPx)

	item := &domain.BacktestItem{
		Code:        stock.Code,
		Name:        stock.Name,
		BuyDate:     buy.Date,
		BuyPrice:    roundPrice(buyPx),
		SellDate:    sell.Date,
		SellPrice:   roundPrice(sellPx),
		Return:      ret,
		Annualized:  ann,
		Sharpe:      sharpe,
		MaxDrawdown: mdd,
		Calmar:      Calmar(ann, mdd),
		Score:       Score(ann, sharpe, mdd),
		Grade:       ClassifyGrade(ann),
		Flags:       []string{},
		TradingDays: days,
	}
	if days < 2 {
		item.Flags = append(item.Flags, domain.FlagShortWindow)
	}
	return item, true
}

// Summarize aggregates items. Optional metrics are averaged over their
// non-nil values only and stay nil when none exist.
func Summarize(items []domain.BacktestItem, benchRet, benchAnn float64) domain.Summary {
	if len(items) == 0 {
		return domain.Summary{BenchReturn: benchRet, BenchAnnualized: benchAnn, Excess: -benchRet}
	}

	wins := 0
	rets := make([]float64, 0, len(items))
	anns := make([]float64, 0, len(items))
	var sharpes, mdds, calmars []float64
	for _, it := range items {
		if it.Return > 0 {
			wins++
		}
		rets = append(rets, it.Return)
		anns = append(anns, it.Annualized)
		if it.Sharpe != nil {
			sharpes = append(sharpes, *it.Sharpe)
		}
		if it.MaxDrawdown != nil {
			mdds = append(mdds, *it.MaxDrawdown)
		}
		if it.Calmar != nil {
			calmars = append(calmars, *it.Calmar)
		}
	}

	avgRet := stat.Mean(rets, nil)
	return domain.Summary{
		WinRate:         float64(wins) / float64(len(items)),
		Return:          avgRet,
		Annualized:      stat.Mean(anns, nil),
		BenchReturn:     benchRet,
		BenchAnnualized: benchAnn,
		Excess:          avgRet - benchRet,
		Sharpe:          meanOrNil(sharpes),
		MaxDrawdown:     meanOrNil(mdds),
		Calmar:          meanOrNil(calmars),
	}
}

func meanOrNil(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	v := stat.Mean(xs, nil)
	return &v
}
