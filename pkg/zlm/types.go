package zlm

// BacktestRequest is the body of a backtest run. Dates are YYYY-MM-DD.
type BacktestRequest struct {
	Stocks        []string `json:"stocks"`
	RecommendDate string   `json:"recommend_date"`
	EndDate       string   `json:"end_date,omitempty"`
	Benchmark     string   `json:"benchmark,omitempty"`
	PriceAdjust   string   `json:"price_adjust,omitempty"`
}

// Backtest is a stored backtest result.
type Backtest struct {
	ID        string        `json:"bt_id"`
	Window    Window        `json:"window"`
	Benchmark string        `json:"benchmark"`
	Summary   Summary       `json:"summary"`
	Equity    []EquityPoint `json:"equity"`
	Items     []Item        `json:"items"`
}

// Window is the backtest window.
type Window struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	TradingDays int    `json:"trading_days"`
}

// Summary holds the portfolio-level metrics.
type Summary struct {
	WinRate  float64  `json:"win_rate"`
	Ret      float64  `json:"ret"`
	Ann      float64  `json:"ann"`
	BenchRet float64  `json:"bench_ret"`
	BenchAnn float64  `json:"bench_ann"`
	Excess   float64  `json:"excess"`
	Sharpe   *float64 `json:"sharpe"`
	MDD      *float64 `json:"mdd"`
	Calmar   *float64 `json:"calmar"`
}

// EquityPoint is one net-value sample.
type EquityPoint struct {
	Date        string  `json:"date"`
	PortfolioNV float64 `json:"portfolio_nv"`
	BenchNV     float64 `json:"bench_nv"`
}

// Item is one stock's result.
type Item struct {
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

// RankOptions filters a leaderboard. Zero values use the server defaults.
type RankOptions struct {
	Days  int
	Limit int
	K     int
}

// Board is a leaderboard.
type Board struct {
	Type      string      `json:"type"`
	Days      int         `json:"days"`
	K         *int        `json:"k"`
	Limit     int         `json:"limit"`
	UpdatedAt *string     `json:"updated_at"`
	Items     []BoardItem `json:"items"`
}

// BoardItem is one leaderboard row.
type BoardItem struct {
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Score  *float64 `json:"score"`
	Grade  *string  `json:"grade"`
	Reason string   `json:"reason"`
}

// Pick is a random stock pick.
type Pick struct {
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Grade  string   `json:"grade"`
	Reason *string  `json:"reason"`
	Flags  []string `json:"flags"`
}

// Quota is the daily allowance report.
type Quota struct {
	GuestRemaining int    `json:"guest_remaining"`
	LoginRemaining int    `json:"login_remaining"`
	QuotaDay       string `json:"quota_day"`
}
