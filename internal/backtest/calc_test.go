package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhunleme/internal/domain"
)

func day(s string) time.Time {
	d, err := domain.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func bar(date string, open, closePx float64) domain.QuoteBar {
	return domain.QuoteBar{Code: "600519", Date: day(date), Open: open, Close: closePx, High: math.Max(open, closePx), Low: math.Min(open, closePx)}
}

func closes(date string, cs ...float64) []domain.QuoteBar {
	bars := make([]domain.QuoteBar, len(cs))
	d := day(date)
	for i, c := range cs {
		bars[i] = domain.QuoteBar{Date: d.AddDate(0, 0, i), Open: c, Close: c}
	}
	return bars
}

func ptr(v float64) *float64 { return &v }

func TestSelectTrade(t *testing.T) {
	bars := []domain.QuoteBar{
		bar("2024-01-01", 9, 9.5),
		bar("2024-01-02", 10, 10.2),
		bar("2024-01-03", 10.2, 10.4),
		bar("2024-01-05", 10.4, 11),
	}

	buy, sell, ok := SelectTrade(bars, day("2024-01-01"), day("2024-01-04"))
	require.True(t, ok)
	assert.Equal(t, day("2024-01-02"), buy.Date)
	assert.Equal(t, day("2024-01-03"), sell.Date)

	// No bar after the recommend date: buy falls back to the first bar.
	buy, sell, ok = SelectTrade(bars[:2], day("2024-01-10"), day("2024-01-20"))
	require.True(t, ok)
	assert.Equal(t, day("2024-01-01"), buy.Date)
	assert.Equal(t, day("2024-01-02"), sell.Date)

	// No bar on or before end: sell falls back to the last bar.
	_, sell, ok = SelectTrade(bars[2:], day("2023-12-01"), day("2023-12-31"))
	require.True(t, ok)
	assert.Equal(t, day("2024-01-05"), sell.Date)
}

func TestSelectTradeRejects(t *testing.T) {
	_, _, ok := SelectTrade(nil, day("2024-01-01"), day("2024-01-31"))
	assert.False(t, ok, "empty bars")

	_, _, ok = SelectTrade([]domain.QuoteBar{bar("2024-01-02", 10, 10)}, day("2024-01-01"), day("2024-01-31"))
	assert.False(t, ok, "single bar cannot be both buy and sell")

	_, _, ok = SelectTrade([]domain.QuoteBar{bar("2024-01-02", 0, 10), bar("2024-01-03", 10, 11)}, day("2024-01-01"), day("2024-01-31"))
	assert.False(t, ok, "zero buy price")

	_, _, ok = SelectTrade([]domain.QuoteBar{bar("2024-01-02", 10, 10), bar("2024-01-03", 10, -1)}, day("2024-01-01"), day("2024-01-31"))
	assert.False(t, ok, "negative sell price")
}

func TestAnnualize(t *testing.T) {
	assert.Equal(t, 0.0, Annualize(0.5, 0))
	assert.Equal(t, 0.0, Annualize(0.5, -3))
	assert.InDelta(t, 0.1, Annualize(0.1, AnnualTradingDays), 1e-12)
	assert.InDelta(t, math.Pow(1.2, 244.0/178.0)-1, Annualize(0.2, 178), 1e-12)

	// Pure: same inputs give the same output.
	assert.Equal(t, Annualize(0.037, 17), Annualize(0.037, 17))
}

func TestDailyReturns(t *testing.T) {
	assert.Nil(t, DailyReturns(closes("2024-01-01", 10)))

	got := DailyReturns(closes("2024-01-01", 10, 0, 5, 10))
	require.Len(t, got, 2)
	assert.InDelta(t, -1.0, got[0], 1e-12)
	assert.InDelta(t, 1.0, got[1], 1e-12)
}

func TestSharpe(t *testing.T) {
	assert.Nil(t, Sharpe(nil))
	assert.Nil(t, Sharpe([]float64{0.01}))
	assert.Nil(t, Sharpe([]float64{0.02, 0.02, 0.02}), "zero deviation")

	got := Sharpe([]float64{0.01, 0.03})
	require.NotNil(t, got)
	want := 0.02 / math.Sqrt(0.0002) * math.Sqrt(244)
	assert.InDelta(t, want, *got, 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Nil(t, MaxDrawdown(nil, 10))

	got := MaxDrawdown(closes("2024-01-01", 11, 9.9, 12, 10.8), 10)
	require.NotNil(t, got)
	assert.InDelta(t, -0.1, *got, 1e-12)

	flat := MaxDrawdown(closes("2024-01-01", 10, 10.5, 11), 10)
	require.NotNil(t, flat)
	assert.Equal(t, 0.0, *flat)

	// Peak is seeded at the buy price, not the first close.
	below := MaxDrawdown(closes("2024-01-01", 9), 10)
	assert.InDelta(t, -0.1, *below, 1e-12)

	for _, cs := range [][]float64{{1, 2, 3}, {3, 2, 1}, {5, 1, 9, 2}} {
		mdd := MaxDrawdown(closes("2024-01-01", cs...), cs[0])
		assert.LessOrEqual(t, *mdd, 0.0)
	}
}

func TestCalmar(t *testing.T) {
	assert.Nil(t, Calmar(0.3, nil))
	assert.Nil(t, Calmar(0.3, ptr(0)))
	assert.InDelta(t, 3.0, *Calmar(0.3, ptr(-0.1)), 1e-12)
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 0.1, *Score(0.2, nil, nil), 1e-12)
	assert.InDelta(t, 0.08, *Score(0.2, nil, ptr(-0.1)), 1e-12)
	assert.InDelta(t, 0.38, *Score(0.2, ptr(1), ptr(-0.1)), 1e-12)
}

func TestClassifyGrade(t *testing.T) {
	cases := []struct {
		ann  float64
		want domain.Grade
	}{
		{1.0, domain.GradeXiu},
		{0.25, domain.GradeXiu},
		{0.2499, domain.GradeTop},
		{0.15, domain.GradeTop},
		{0.05, domain.GradeAbove},
		{0.0499, domain.GradeNPC},
		{0.0, domain.GradeNPC},
		{-0.0001, domain.GradeBottom},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyGrade(c.ann), "ann=%v", c.ann)
	}

	// Rank never gets worse as ann increases.
	prev := ClassifyGrade(-1).Rank()
	for x := -1.0; x <= 1.0; x += 0.001 {
		r := ClassifyGrade(x).Rank()
		assert.LessOrEqual(t, r, prev, "ann=%v", x)
		prev = r
	}
}

func TestRoundPrice(t *testing.T) {
	assert.Equal(t, 10.1235, roundPrice(10.123456))
	assert.Equal(t, 12.0, roundPrice(12))
}

func TestEvaluateScenarioA(t *testing.T) {
	bars := []domain.QuoteBar{
		bar("2024-01-02", 10, 10),
		bar("2024-03-01", 10, 9),
		bar("2024-06-28", 11.8, 12),
	}
	st := domain.Stock{Code: "600519", Name: "贵州茅台"}

	item, ok := Evaluate(st, bars, day("2024-01-01"), day("2024-06-30"))
	require.True(t, ok)
	assert.Equal(t, 10.0, item.BuyPrice)
	assert.Equal(t, 12.0, item.SellPrice)
	assert.InDelta(t, 0.2, item.Return, 1e-12)
	assert.Equal(t, 178, item.TradingDays)
	assert.InDelta(t, math.Pow(1.2, 244.0/178.0)-1, item.Annualized, 1e-12)
	assert.Equal(t, domain.GradeXiu, item.Grade)
	require.NotNil(t, item.MaxDrawdown)
	assert.InDelta(t, -0.1, *item.MaxDrawdown, 1e-12)
	require.NotNil(t, item.Sharpe)
	require.NotNil(t, item.Calmar)
	require.NotNil(t, item.Score)
	assert.Empty(t, item.Flags)
	assert.Equal(t, "贵州茅台", item.Name)
}

func TestEvaluateShortWindow(t *testing.T) {
	bars := []domain.QuoteBar{bar("2024-01-02", 10, 10), bar("2024-01-03", 10, 10.1)}

	item, ok := Evaluate(domain.Stock{Code: "000001"}, bars, day("2024-01-01"), day("2024-01-31"))
	require.True(t, ok)
	assert.Equal(t, 1, item.TradingDays)
	assert.Equal(t, []string{domain.FlagShortWindow}, item.Flags)
	assert.Nil(t, item.Sharpe, "one daily return")
}

func TestSummarize(t *testing.T) {
	items := []domain.BacktestItem{
		{Return: 0.2, Annualized: 0.5, Sharpe: ptr(1), MaxDrawdown: ptr(-0.1)},
		{Return: -0.1, Annualized: -0.2, MaxDrawdown: ptr(-0.3)},
		{Return: 0, Annualized: 0},
	}

	s := Summarize(items, 0.01, 0.02)
	assert.InDelta(t, 1.0/3.0, s.WinRate, 1e-12)
	assert.InDelta(t, 0.1/3.0, s.Return, 1e-12)
	assert.InDelta(t, 0.1, s.Annualized, 1e-12)
	assert.Equal(t, 0.01, s.BenchReturn)
	assert.Equal(t, 0.02, s.BenchAnnualized)
	assert.InDelta(t, 0.1/3.0-0.01, s.Excess, 1e-12)
	require.NotNil(t, s.Sharpe)
	assert.InDelta(t, 1.0, *s.Sharpe, 1e-12)
	require.NotNil(t, s.MaxDrawdown)
	assert.InDelta(t, -0.2, *s.MaxDrawdown, 1e-12)
	assert.Nil(t, s.Calmar, "all-null subset stays null")
}
