// Package zlm is a Go client for the zhunleme backtest API.
package zlm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zlm: %d %s", e.Status, e.Detail)
}

// Client provides a Go SDK for interacting with the zlm-server API.
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient creates a client for baseURL, which includes the API prefix,
// e.g. "http://localhost:8000/api".
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL: baseURL,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// RunBacktest submits a backtest and returns the stored result.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*Backtest, error) {
	var out Backtest
	r := c.http.R().SetContext(ctx).SetBody(req)
	if err := c.do(r, http.MethodPost, "/backtest", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBacktest fetches a stored backtest by id.
func (c *Client) GetBacktest(ctx context.Context, id string) (*Backtest, error) {
	var out Backtest
	r := c.http.R().SetContext(ctx).SetPathParam("id", id)
	if err := c.do(r, http.MethodGet, "/backtest/{id}", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rankings fetches the leaderboard of kind ("hot", "best" or "worst").
func (c *Client) Rankings(ctx context.Context, kind string, opts RankOptions) (*Board, error) {
	var out Board
	r := c.http.R().SetContext(ctx).SetPathParam("kind", kind)
	for name, v := range map[string]int{"days": opts.Days, "limit": opts.Limit, "k": opts.K} {
		if v > 0 {
			r.SetQueryParam(name, strconv.Itoa(v))
		}
	}
	if err := c.do(r, http.MethodGet, "/rank/{kind}", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RandomPick fetches a random stock pick.
func (c *Client) RandomPick(ctx context.Context) (*Pick, error) {
	var out Pick
	if err := c.do(c.http.R().SetContext(ctx), http.MethodGet, "/random", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quota fetches today's allowance.
func (c *Client) Quota(ctx context.Context) (*Quota, error) {
	var out Quota
	if err := c.do(c.http.R().SetContext(ctx), http.MethodGet, "/quota", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type errorBody struct {
	Detail string `json:"detail"`
}

func (c *Client) do(r *resty.Request, method, path string, out any) error {
	var apiErr errorBody
	resp, err := r.SetResult(out).SetError(&apiErr).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		detail := apiErr.Detail
		if detail == "" {
			detail = strings.TrimSpace(resp.String())
		}
		return &APIError{Status: resp.StatusCode(), Detail: detail}
	}
	return nil
}
