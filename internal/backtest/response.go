package backtest

import (
	"zhunleme/internal/domain"
)

// Response is the wire shape of a stored backtest.
type Response struct {
	ID        string         `json:"bt_id"`
	Window    WindowView     `json:"window"`
	Benchmark string         `json:"benchmark"`
	Summary   domain.Summary `json:"summary"`
	Equity    []EquityPoint  `json:"equity"`
	Items     []ItemView     `json:"items"`
}

// WindowView is the backtest window with its calendar length.
type WindowView struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	TradingDays int    `json:"trading_days"`
}

// EquityPoint is one net-value sample of the portfolio and the benchmark.
type EquityPoint struct {
	Date        string  `json:"date"`
	PortfolioNV float64 `json:"portfolio_nv"`
	BenchNV     float64 `json:"bench_nv"`
}

// ItemView is one stock's result.
type ItemView struct {
	Code      string   `json:"code"`
	Name      string   `json:"name"`
	BuyDate   string   `json:"buy_date"`
	BuyPrice  float64  `json:"buy_price"`
	SellDate  string   `json:"sell_date"`
	SellPrice float64  `json:"sell_price"`
	Ret       float64  `json:"ret"`
	Excess    float64  `json:"excess"`
	Ann       float64  `json:"ann"`
	Sharpe    *float64 `json:"sharpe"`
	MDD       *float64 `json:"mdd"`
	Calmar    *float64 `json:"calmar"`
	Score     *float64 `json:"score"`
	Grade     string   `json:"grade"`
	Flags     []string `json:"flags"`
}

// NewResponse renders bt. The equity curve is two points: 1.0 at the window
// start and 1+return at the window end, for both portfolio and benchmark.
func NewResponse(bt *domain.Backtest) *Response {
	start := bt.Window.Start.Format(domain.DateLayout)
	end := bt.Window.End.Format(domain.DateLayout)

	items := make([]ItemView, len(bt.Items))
	for i, it := range bt.Items {
		flags := it.Flags
		if flags == nil {
			flags = []string{}
		}
		items[i] = ItemView{
			Code:      it.Code,
			Name:      it.Name,
			BuyDate:   it.BuyDate.Format(domain.DateLayout),
			BuyPrice:  it.BuyPrice,
			SellDate:  it.SellDate.Format(domain.DateLayout),
			SellPrice: it.SellPrice,
			Ret:       it.Return,
			Excess:    it.Excess,
			Ann:       it.Annualized,
			Sharpe:    it.Sharpe,
			MDD:       it.MaxDrawdown,
			Calmar:    it.Calmar,
			Score:     it.Score,
			Grade:     string(it.Grade),
			Flags:     flags,
		}
	}

	return &Response{
		ID: bt.ID,
		Window: WindowView{
			Start:       start,
			End:         end,
			TradingDays: bt.Window.Days(),
		},
		Benchmark: bt.Benchmark,
		Summary:   bt.Summary,
		Equity: []EquityPoint{
			{Date: start, PortfolioNV: 1, BenchNV: 1},
			{Date: end, PortfolioNV: 1 + bt.Summary.Return, BenchNV: 1 + bt.Summary.BenchReturn},
		},
		Items: items,
	}
}
