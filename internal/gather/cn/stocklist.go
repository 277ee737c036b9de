package cn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"zhunleme/internal/domain"
	"zhunleme/internal/gather"
)

var _ gather.StockSource = (*StockLister)(nil)

const stockListPath = "/api/public/stock_info_a_code_name"

// StockLister loads the A-share code/name master list from an AKTools HTTP
// service.
type StockLister struct {
	http *resty.Client
	log  *slog.Logger
}

// NewStockLister creates a lister for the AKTools service at baseURL.
func NewStockLister(baseURL string, timeout time.Duration, log *slog.Logger) *StockLister {
	return &StockLister{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		log: log.With("source", "aktools"),
	}
}

// Name returns the source identifier.
func (l *StockLister) Name() string { return "aktools" }

// listedStock is one row of the AKTools response. Codes may arrive as
// strings or bare numbers.
type listedStock struct {
	Code flexCode `json:"code"`
	Name string   `json:"name"`
}

type flexCode string

func (c *flexCode) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = flexCode(s)
		return nil
	}
	*c = flexCode(string(b))
	return nil
}

// ListStocks returns every listed A-share with codes zero-padded to six
// digits and the exchange inferred from the code.
func (l *StockLister) ListStocks(ctx context.Context) ([]domain.Stock, error) {
	var rows []listedStock
	resp, err := l.http.R().
		SetContext(ctx).
		SetResult(&rows).
		Get(stockListPath)
	if err != nil {
		return nil, fmt.Errorf("fetching stock list: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching stock list: status %d", resp.StatusCode())
	}

	stocks := make([]domain.Stock, 0, len(rows))
	for _, r := range rows {
		code := PadCode(string(r.Code))
		if code == "" {
			continue
		}
		stocks = append(stocks, domain.Stock{
			Code:     code,
			Name:     strings.TrimSpace(r.Name),
			Exchange: domain.DetectExchange(code),
		})
	}
	l.log.Info("loaded a-share symbols", "count", len(stocks))
	return stocks, nil
}

// PadCode left-pads a numeric code to six digits. Non-numeric input yields "".
func PadCode(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if len(s) < 6 {
		s = strings.Repeat("0", 6-len(s)) + s
	}
	return s
}
