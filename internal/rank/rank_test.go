package rank

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhunleme/internal/domain"
	"zhunleme/internal/store"
	"zhunleme/internal/util"
)

var now = time.Date(2024, 6, 30, 10, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	d, err := domain.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr(v float64) *float64 { return &v }

func newTestService(t *testing.T) (*Service, *store.SQLStore) {
	t.Helper()
	db, err := store.OpenSQL(context.Background(), "sqlite", filepath.Join(t.TempDir(), "zlm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, db, util.FixedCalendar(now), util.Discard()), db
}

// seed stores one backtest per entry, each holding a single item.
func seed(t *testing.T, db *store.SQLStore, start string, items ...domain.BacktestItem) {
	t.Helper()
	for i, it := range items {
		it.BuyDate, it.SellDate = day(start).AddDate(0, 0, 1), day(start).AddDate(0, 0, 5)
		it.BuyPrice, it.SellPrice = 10, 10*(1+it.Return)
		it.Grade = domain.GradeNPC
		bt := &domain.Backtest{
			ID:        fmt.Sprintf("%s-%s-%d", start, it.Code, i),
			Window:    domain.Window{Start: day(start), End: day(start).AddDate(0, 0, 10)},
			Benchmark: "HS300",
			Items:     []domain.BacktestItem{it},
			CreatedAt: now,
		}
		require.NoError(t, db.SaveBacktest(context.Background(), bt))
	}
}

func TestRankingsHot(t *testing.T) {
	s, db := newTestService(t)
	seed(t, db, "2024-06-25",
		domain.BacktestItem{Code: "600519", Name: "贵州茅台", Return: 0.1, Score: ptr(0.2)},
		domain.BacktestItem{Code: "600519", Name: "贵州茅台", Return: 0.02, Score: ptr(0.1)},
		domain.BacktestItem{Code: "000001", Name: "平安银行", Return: -0.05, Score: ptr(-0.1)},
	)
	// Outside the 10-day lookback.
	seed(t, db, "2024-05-01",
		domain.BacktestItem{Code: "000001", Name: "平安银行", Return: 0.3, Score: ptr(0.5)},
		domain.BacktestItem{Code: "000001", Name: "平安银行", Return: 0.3, Score: ptr(0.5)},
	)

	board, err := s.Rankings(context.Background(), Query{Kind: KindHot})
	require.NoError(t, err)
	assert.Equal(t, KindHot, board.Type)
	assert.Equal(t, DefaultDays, board.Days)
	assert.Equal(t, DefaultLimit, board.Limit)
	assert.Nil(t, board.K, "hot has no k")
	assert.Nil(t, board.UpdatedAt)

	require.Len(t, board.Items, 2)
	assert.Equal(t, "600519", board.Items[0].Code)
	assert.Equal(t, "近10日回测2次，平均收益 6.00%", board.Items[0].Reason)
	require.NotNil(t, board.Items[0].Score)
	assert.InDelta(t, 0.15, *board.Items[0].Score, 1e-9)
	assert.Nil(t, board.Items[0].Grade)
	assert.Equal(t, "000001", board.Items[1].Code)
}

func TestRankingsBestWorst(t *testing.T) {
	s, db := newTestService(t)
	seed(t, db, "2024-06-28",
		domain.BacktestItem{Code: "600519", Name: "贵州茅台", Return: 0.1, Score: ptr(0.2)},
		domain.BacktestItem{Code: "000001", Name: "平安银行", Return: -0.05, Score: ptr(-0.1)},
		domain.BacktestItem{Code: "300750", Name: "宁德时代", Return: 0.04, Score: ptr(0.3)},
	)

	best, err := s.Rankings(context.Background(), Query{Kind: KindBest, Days: 5, Limit: 2, K: 3})
	require.NoError(t, err)
	require.NotNil(t, best.K)
	assert.Equal(t, 3, *best.K)
	require.Len(t, best.Items, 2)
	assert.Equal(t, "300750", best.Items[0].Code)
	assert.Equal(t, "600519", best.Items[1].Code)

	worst, err := s.Rankings(context.Background(), Query{Kind: KindWorst, Days: 5})
	require.NoError(t, err)
	require.Len(t, worst.Items, 3)
	assert.Equal(t, "000001", worst.Items[0].Code)
	assert.Equal(t, "近5日回测1次，平均收益 -5.00%", worst.Items[0].Reason)
}

func TestRankingsEmpty(t *testing.T) {
	s, _ := newTestService(t)
	board, err := s.Rankings(context.Background(), Query{Kind: KindBest})
	require.NoError(t, err)
	assert.NotNil(t, board.Items)
	assert.Empty(t, board.Items)
}

func TestRankingsInvalid(t *testing.T) {
	s, _ := newTestService(t)
	for _, q := range []Query{
		{Kind: "top"},
		{Kind: KindHot, Days: 31},
		{Kind: KindHot, Days: -1},
		{Kind: KindBest, Limit: 101},
		{Kind: KindWorst, K: 11},
	} {
		_, err := s.Rankings(context.Background(), q)
		assert.ErrorIs(t, err, ErrInvalidQuery, "%+v", q)
	}
}

func TestRandomPick(t *testing.T) {
	s, db := newTestService(t)

	_, err := s.RandomPick(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.UpsertStocks(context.Background(), []domain.Stock{
		{Code: "600519", Name: "贵州茅台", Exchange: "SSE", StatusTags: []string{"ST"}},
	}))
	pick, err := s.RandomPick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "600519", pick.Code)
	assert.Equal(t, "贵州茅台", pick.Name)
	assert.Contains(t, []string{"NPC", "人上人", "顶级"}, pick.Grade)
	assert.Nil(t, pick.Reason)
	assert.Equal(t, []string{"ST"}, pick.Flags)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "近3日回测1次，平均收益 12.34%", Reason(3, 1, 0.1234))
}
