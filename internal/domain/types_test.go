package domain

import (
	"testing"
	"time"
)

func TestDetectExchange(t *testing.T) {
	cases := map[string]Exchange{
		"600519": ExchangeSSE,
		"688981": ExchangeSSE,
		"000001": ExchangeSZSE,
		"300750": ExchangeSZSE,
		"430047": ExchangeBSE,
		"830799": ExchangeUnknown,
	}
	for code, want := range cases {
		if got := DetectExchange(code); got != want {
			t.Errorf("DetectExchange(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestTypesExist(t *testing.T) {
	bar := QuoteBar{}
	if bar.Code != "" {
		t.Error("expected empty Code for zero-value QuoteBar")
	}
	if !bar.Date.IsZero() {
		t.Error("expected zero Date for zero-value QuoteBar")
	}
	if bar.Volume != nil || bar.Amount != nil || bar.Turnover != nil || bar.AdjClose != nil {
		t.Error("expected nil optional fields for zero-value QuoteBar")
	}

	bt := Backtest{}
	if bt.Summary.Sharpe != nil || bt.Summary.MaxDrawdown != nil || bt.Summary.Calmar != nil {
		t.Error("expected nil optional metrics for zero-value Summary")
	}
}

func TestGradeRank(t *testing.T) {
	if GradeXiu.Rank() != 0 {
		t.Errorf("GradeXiu.Rank() = %d, want 0", GradeXiu.Rank())
	}
	if GradeBottom.Rank() != len(Grades)-1 {
		t.Errorf("GradeBottom.Rank() = %d, want %d", GradeBottom.Rank(), len(Grades)-1)
	}
	if Grade("???").Rank() != -1 {
		t.Error("unknown grade should rank -1")
	}
}

func TestWindow(t *testing.T) {
	w := Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	if !w.Valid() {
		t.Error("window should be valid")
	}
	if w.Days() != 181 {
		t.Errorf("Days() = %d, want 181", w.Days())
	}

	same := Window{Start: w.Start, End: w.Start.Add(5 * time.Hour)}
	if same.Valid() {
		t.Error("same-day window should be invalid")
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-02-29")
	if err != nil {
		t.Fatalf("ParseDay: %v", err)
	}
	if d.Month() != time.February || d.Day() != 29 {
		t.Errorf("ParseDay = %v", d)
	}
	if _, err := ParseDay("2024/02/29"); err == nil {
		t.Error("expected error for bad layout")
	}
}
