package cn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"zhunleme/internal/domain"
	"zhunleme/internal/gather"
	"zhunleme/internal/util"
)

var _ gather.QuoteSource = (*THSClient)(nil)

const (
	thsUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119 Safari/537.36"
	thsReferer   = "https://finance.10jqka.com.cn/"
	thsDayLayout = "20060102"
)

// errUnavailable marks a year file that no prefix could serve.
var errUnavailable = errors.New("ths: data unavailable")

// ---------------------------------------------------------------------------
// THSClient: TongHuaShun yearly daily-line files
// ---------------------------------------------------------------------------

// THSClient fetches daily bars from the TongHuaShun line service. Each
// (code, year) is one JSONP file whose data field holds ';'-separated rows of
// date,close,open,high,low,volume,amount.
type THSClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewTHSClient creates a client for baseURL. A nil limiter disables rate
// limiting.
func NewTHSClient(baseURL string, timeout time.Duration, limiter *util.RateLimiter, log *slog.Logger) *THSClient {
	log = log.With("source", "ths")
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", thsUserAgent).
		SetHeader("Referer", thsReferer)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ths",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &THSClient{http: client, breaker: breaker, limiter: limiter, log: log}
}

// Name returns the source identifier.
func (c *THSClient) Name() string { return "ths" }

// FetchQuotes downloads every year file covering [start, end] and returns the
// bars inside the range, ascending. Years that no prefix can serve are
// skipped; an error is returned only when nothing was fetched and at least
// one request failed outright.
func (c *THSClient) FetchQuotes(ctx context.Context, code string, start, end time.Time) ([]domain.QuoteBar, error) {
	start, end = domain.Day(start), domain.Day(end)

	var (
		bars    []domain.QuoteBar
		lastErr error
	)
	for year := start.Year(); year <= end.Year(); year++ {
		body, err := c.fetchYear(ctx, code, year)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, errUnavailable) {
				lastErr = err
			}
			c.log.Warn("year data unavailable", "code", code, "year", year, "error", err)
			continue
		}

		data, err := ParseTHSPayload(body)
		if err != nil {
			c.log.Warn("bad payload", "code", code, "year", year, "error", err)
			continue
		}
		rows, err := ParseTHSRows(code, data, start, end)
		if err != nil {
			return nil, fmt.Errorf("parsing %s/%d: %w", code, year, err)
		}
		bars = append(bars, rows...)
	}

	if len(bars) == 0 && lastErr != nil {
		return nil, lastErr
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	c.log.Info("loaded quote rows", "code", code, "rows", len(bars))
	return bars, nil
}

// fetchYear tries each market prefix in turn and returns the first body that
// was served successfully.
func (c *THSClient) fetchYear(ctx context.Context, code string, year int) (string, error) {
	var lastErr error = errUnavailable
	for _, prefix := range thsPrefixes(code) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		path := fmt.Sprintf("/v6/line/%s_%s/01/%d.js", prefix, code, year)

		out, err := c.breaker.Execute(func() (interface{}, error) {
			resp, err := c.http.R().SetContext(ctx).Get(path)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode() >= http.StatusInternalServerError {
				return nil, fmt.Errorf("ths: %s returned %d", path, resp.StatusCode())
			}
			return resp, nil
		})
		if err != nil {
			lastErr = err
			if errors.Is(err, gobreaker.ErrOpenState) || ctx.Err() != nil {
				return "", err
			}
			continue
		}

		resp := out.(*resty.Response)
		if resp.IsError() {
			continue
		}
		return resp.String(), nil
	}
	return "", lastErr
}

// thsPrefixes returns the URL market prefixes to try for a code.
func thsPrefixes(code string) []string {
	switch {
	case strings.HasPrefix(code, "60"), strings.HasPrefix(code, "68"):
		return []string{"hs", "sh"}
	case strings.HasPrefix(code, "00"), strings.HasPrefix(code, "30"):
		return []string{"hs", "sz"}
	default:
		return []string{"hs"}
	}
}

// ---------------------------------------------------------------------------
// Payload parsing
// ---------------------------------------------------------------------------

// ParseTHSPayload extracts the data field from a JSONP body of the form
// callback({...,"data":"..."}).
func ParseTHSPayload(text string) (string, error) {
	open := strings.IndexByte(text, '(')
	closing := strings.LastIndexByte(text, ')')
	if open < 0 || closing <= open {
		return "", fmt.Errorf("ths: payload is not wrapped in a callback")
	}

	var payload struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal([]byte(text[open+1:closing]), &payload); err != nil {
		return "", fmt.Errorf("ths: decoding payload: %w", err)
	}
	return payload.Data, nil
}

// ParseTHSRows converts the ';'-separated data rows into bars within
// [start, end]. Rows with fewer than seven fields are skipped.
func ParseTHSRows(code, data string, start, end time.Time) ([]domain.QuoteBar, error) {
	var bars []domain.QuoteBar
	for _, entry := range strings.Split(data, ";") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		fields := strings.Split(entry, ",")
		if len(fields) < 7 {
			continue
		}

		date, err := time.Parse(thsDayLayout, strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", entry, err)
		}
		if date.Before(start) || date.After(end) {
			continue
		}

		var vals [6]float64
		for i := range vals {
			if vals[i], err = safeFloat(fields[i+1]); err != nil {
				return nil, fmt.Errorf("row %q: %w", entry, err)
			}
		}
		closePx, volume, amount := vals[0], vals[4], vals[5]

		bars = append(bars, domain.QuoteBar{
			Code:     code,
			Date:     date,
			Close:    closePx,
			Open:     vals[1],
			High:     vals[2],
			Low:      vals[3],
			Volume:   &volume,
			Amount:   &amount,
			AdjClose: &closePx,
		})
	}
	return bars, nil
}

// safeFloat parses a numeric field; blanks and "--" read as zero.
func safeFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
