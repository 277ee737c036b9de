// Package httpapi serves the zhunleme REST API: backtests, leaderboards,
// the random pick and the quota report.
package httpapi

import (
	"fmt"
	"strings"
	"time"

	"zhunleme/internal/backtest"
	"zhunleme/internal/domain"
)

// BacktestRequest is the JSON body of POST /backtest.
type BacktestRequest struct {
	Stocks        []string `json:"stocks"`
	RecommendDate string   `json:"recommend_date"`
	EndDate       *string  `json:"end_date,omitempty"`
	Benchmark     string   `json:"benchmark,omitempty"`
	PriceAdjust   string   `json:"price_adjust,omitempty"`
	UserID        *string  `json:"user_id,omitempty"`
}

// toRequest converts the wire body. A missing recommend date is left zero so
// the service reports it.
func (b BacktestRequest) toRequest() (backtest.Request, error) {
	req := backtest.Request{
		Stocks:      b.Stocks,
		Benchmark:   b.Benchmark,
		PriceAdjust: b.PriceAdjust,
		UserID:      b.UserID,
	}
	if req.PriceAdjust == "" {
		req.PriceAdjust = backtest.DefaultPriceAdjust
	}
	if s := strings.TrimSpace(b.RecommendDate); s != "" {
		d, err := domain.ParseDay(s)
		if err != nil {
			return req, fmt.Errorf("recommend_date %q: %w", s, errBadDate)
		}
		req.RecommendDate = d
	}
	if b.EndDate != nil && strings.TrimSpace(*b.EndDate) != "" {
		d, err := domain.ParseDay(strings.TrimSpace(*b.EndDate))
		if err != nil {
			return req, fmt.Errorf("end_date %q: %w", *b.EndDate, errBadDate)
		}
		req.EndDate = &d
	}
	return req, nil
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func newHealth(status string) HealthResponse {
	return HealthResponse{Status: status, Time: time.Now().UTC().Format(time.RFC3339)}
}
