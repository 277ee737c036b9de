// Package quota reports the daily backtest allowance. Usage is not counted
// yet, so the remaining numbers are always the configured allowances.
package quota

import (
	"time"

	"zhunleme/internal/config"
	"zhunleme/internal/domain"
	"zhunleme/internal/util"
)

// Status is the quota snapshot returned to clients.
type Status struct {
	GuestRemaining int    `json:"guest_remaining"`
	LoginRemaining int    `json:"login_remaining"`
	QuotaDay       string `json:"quota_day"`
}

// Reporter answers quota queries.
type Reporter struct {
	cfg      config.Quota
	calendar *util.TradingCalendar
}

// NewReporter creates a Reporter. A nil calendar uses the Shanghai clock.
func NewReporter(cfg config.Quota, calendar *util.TradingCalendar) *Reporter {
	if calendar == nil {
		calendar = util.NewTradingCalendar()
	}
	return &Reporter{cfg: cfg, calendar: calendar}
}

// Status returns the allowance for the current market day.
func (r *Reporter) Status() Status {
	return r.StatusOn(r.calendar.Today())
}

// StatusOn returns the allowance for day.
func (r *Reporter) StatusOn(day time.Time) Status {
	return Status{
		GuestRemaining: r.cfg.GuestPerDay,
		LoginRemaining: r.cfg.LoginPerDay,
		QuotaDay:       domain.Day(day).Format(domain.DateLayout),
	}
}
