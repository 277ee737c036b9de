package cn

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"zhunleme/internal/domain"
)

// csvQuote is one row of an offline quote file. Optional columns are read as
// strings so that blank cells stay nil.
type csvQuote struct {
	Code     string  `csv:"code"`
	Date     string  `csv:"date"`
	Open     float64 `csv:"open"`
	High     float64 `csv:"high"`
	Low      float64 `csv:"low"`
	Close    float64 `csv:"close"`
	Volume   string  `csv:"volume"`
	Amount   string  `csv:"amount"`
	Turnover string  `csv:"turnover"`
}

// ReadQuotesCSV decodes a CSV with header
// code,date,open,high,low,close,volume,amount,turnover. Dates may be
// YYYY-MM-DD or YYYYMMDD; codes are zero-padded to six digits.
func ReadQuotesCSV(r io.Reader) ([]domain.QuoteBar, error) {
	var rows []*csvQuote
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("decoding csv: %w", err)
	}

	bars := make([]domain.QuoteBar, 0, len(rows))
	for i, row := range rows {
		code := PadCode(row.Code)
		if code == "" {
			return nil, fmt.Errorf("line %d: invalid code %q", i+2, row.Code)
		}
		date, err := parseCSVDate(row.Date)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}

		b := domain.QuoteBar{
			Code:  code,
			Date:  date,
			Open:  row.Open,
			High:  row.High,
			Low:   row.Low,
			Close: row.Close,
		}
		if b.Volume, err = optionalFloat(row.Volume); err != nil {
			return nil, fmt.Errorf("line %d volume: %w", i+2, err)
		}
		if b.Amount, err = optionalFloat(row.Amount); err != nil {
			return nil, fmt.Errorf("line %d amount: %w", i+2, err)
		}
		if b.Turnover, err = optionalFloat(row.Turnover); err != nil {
			return nil, fmt.Errorf("line %d turnover: %w", i+2, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseCSVDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) == len(thsDayLayout) {
		return time.Parse(thsDayLayout, s)
	}
	return domain.ParseDay(s)
}

func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
