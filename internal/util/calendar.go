package util

import (
	"time"

	"zhunleme/internal/domain"
)

// shanghai is China Standard Time. A fixed zone avoids depending on tzdata
// being installed in the container.
var shanghai = time.FixedZone("CST", 8*3600)

// TradingCalendar answers date questions for the A-share market.
type TradingCalendar struct {
	now func() time.Time
}

// NewTradingCalendar creates a calendar driven by the wall clock.
func NewTradingCalendar() *TradingCalendar {
	return &TradingCalendar{now: time.Now}
}

// FixedCalendar returns a calendar whose "now" is always t.
func FixedCalendar(t time.Time) *TradingCalendar {
	return &TradingCalendar{now: func() time.Time { return t }}
}

// Today returns the current market date (Asia/Shanghai) as a midnight-UTC
// calendar date.
func (tc *TradingCalendar) Today() time.Time {
	return domain.Day(tc.now().In(shanghai))
}

// IsTradingDay reports whether d falls on a weekday. Exchange holidays are
// not modelled.
func (tc *TradingCalendar) IsTradingDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// PrevTradingDay returns the closest weekday strictly before d.
func (tc *TradingCalendar) PrevTradingDay(d time.Time) time.Time {
	p := domain.Day(d).AddDate(0, 0, -1)
	for !tc.IsTradingDay(p) {
		p = p.AddDate(0, 0, -1)
	}
	return p
}
