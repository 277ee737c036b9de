package cn

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhunleme/internal/domain"
	"zhunleme/internal/store"
	"zhunleme/internal/util"
)

func day(s string) time.Time {
	d, err := domain.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

const thsBody2024 = `quotebridge_v6_line_hs_600519_01_2024({"total":"3","data":"20231229,9.9,9.8,10,9.7,800,7900;20240102,10.5,10.0,10.8,9.9,1000,10500;20240103,--,10.5,11,10.4,,;bad,row"})`

func newTHSServer(t *testing.T, handler http.HandlerFunc) *THSClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTHSClient(srv.URL, 2*time.Second, nil, util.Discard())
}

func TestTHSPrefixes(t *testing.T) {
	cases := map[string][]string{
		"600519": {"hs", "sh"},
		"688981": {"hs", "sh"},
		"000001": {"hs", "sz"},
		"300750": {"hs", "sz"},
		"430047": {"hs"},
	}
	for code, want := range cases {
		assert.Equal(t, want, thsPrefixes(code), code)
	}
}

func TestParseTHSPayload(t *testing.T) {
	data, err := ParseTHSPayload(thsBody2024)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(data, "20231229,"))

	_, err = ParseTHSPayload("no callback here")
	assert.Error(t, err)
	_, err = ParseTHSPayload("cb({not json})")
	assert.Error(t, err)
}

func TestParseTHSRows(t *testing.T) {
	data, err := ParseTHSPayload(thsBody2024)
	require.NoError(t, err)

	bars, err := ParseTHSRows("600519", data, day("2024-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	require.Len(t, bars, 2)

	b := bars[0]
	assert.Equal(t, day("2024-01-02"), b.Date)
	assert.Equal(t, 10.5, b.Close)
	assert.Equal(t, 10.0, b.Open)
	assert.Equal(t, 10.8, b.High)
	assert.Equal(t, 9.9, b.Low)
	require.NotNil(t, b.Volume)
	assert.Equal(t, 1000.0, *b.Volume)
	require.NotNil(t, b.AdjClose)
	assert.Equal(t, b.Close, *b.AdjClose)
	assert.Nil(t, b.Turnover)

	// "--" and blanks read as zero.
	assert.Equal(t, 0.0, bars[1].Close)
	assert.Equal(t, 0.0, *bars[1].Volume)

	_, err = ParseTHSRows("600519", "20240102,x,1,1,1,1,1", day("2024-01-01"), day("2024-12-31"))
	assert.Error(t, err)
}

func TestTHSClientFetchQuotes(t *testing.T) {
	var hits atomic.Int32
	c := newTHSServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NotEmpty(t, r.Header.Get("Referer"))
		switch r.URL.Path {
		case "/v6/line/hs_600519/01/2024.js":
			fmt.Fprint(w, thsBody2024)
		default:
			http.NotFound(w, r)
		}
	})

	bars, err := c.FetchQuotes(context.Background(), "600519", day("2023-12-29"), day("2024-01-02"))
	require.NoError(t, err)
	// 2023 is missing on both prefixes; 2024 contributes only in-range rows.
	require.Len(t, bars, 2)
	assert.Equal(t, day("2023-12-29"), bars[0].Date)
	assert.Equal(t, day("2024-01-02"), bars[1].Date)
	assert.Equal(t, int32(3), hits.Load())
}

func TestTHSClientPrefixFallback(t *testing.T) {
	c := newTHSServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v6/line/sz_000001/01/2024.js" {
			fmt.Fprint(w, `cb({"data":"20240102,10.2,10,10.3,9.9,5,50"})`)
			return
		}
		http.NotFound(w, r)
	})

	bars, err := c.FetchQuotes(context.Background(), "000001", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "000001", bars[0].Code)
}

func TestTHSClientServerError(t *testing.T) {
	c := newTHSServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.FetchQuotes(context.Background(), "600519", day("2024-01-01"), day("2024-01-31"))
	assert.Error(t, err)
}

func TestTHSClientNotFoundIsEmpty(t *testing.T) {
	c := newTHSServer(t, http.NotFound)

	bars, err := c.FetchQuotes(context.Background(), "600519", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestStockLister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, stockListPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"code":"600519","name":" 贵州茅台 "},{"code":1,"name":"平安银行"},{"code":"abc","name":"bad"}]`)
	}))
	defer srv.Close()

	l := NewStockLister(srv.URL, time.Second, util.Discard())
	stocks, err := l.ListStocks(context.Background())
	require.NoError(t, err)
	require.Len(t, stocks, 2)
	assert.Equal(t, domain.Stock{Code: "600519", Name: "贵州茅台", Exchange: domain.ExchangeSSE}, stocks[0])
	assert.Equal(t, "000001", stocks[1].Code)
	assert.Equal(t, domain.ExchangeSZSE, stocks[1].Exchange)
}

func TestStockListerHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewStockLister(srv.URL, time.Second, util.Discard()).ListStocks(context.Background())
	assert.Error(t, err)
}

func TestPadCode(t *testing.T) {
	assert.Equal(t, "000001", PadCode("1"))
	assert.Equal(t, "600519", PadCode(" 600519 "))
	assert.Equal(t, "1234567", PadCode("1234567"))
	assert.Equal(t, "", PadCode("60a519"))
	assert.Equal(t, "", PadCode(""))
}

func TestReadQuotesCSV(t *testing.T) {
	in := "code,date,open,high,low,close,volume,amount,turnover\n" +
		"600519,2024-01-02,10,11,9.5,10.5,1000,,0.5\n" +
		"1,20240103,5,5.5,4.9,5.2,,,\n"

	bars, err := ReadQuotesCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "600519", bars[0].Code)
	assert.Equal(t, day("2024-01-02"), bars[0].Date)
	assert.Equal(t, 10.5, bars[0].Close)
	require.NotNil(t, bars[0].Volume)
	assert.Equal(t, 1000.0, *bars[0].Volume)
	assert.Nil(t, bars[0].Amount)
	require.NotNil(t, bars[0].Turnover)

	assert.Equal(t, "000001", bars[1].Code)
	assert.Equal(t, day("2024-01-03"), bars[1].Date)
	assert.Nil(t, bars[1].Volume)

	_, err = ReadQuotesCSV(strings.NewReader("code,date,open,high,low,close,volume,amount,turnover\n600519,01/02/2024,1,1,1,1,,,\n"))
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Syncer
// ---------------------------------------------------------------------------

type fakeStocks struct{ stocks []domain.Stock }

func (f fakeStocks) Name() string { return "fake" }
func (f fakeStocks) ListStocks(context.Context) ([]domain.Stock, error) {
	return f.stocks, nil
}

type fakeQuotes struct {
	calls atomic.Int32
	fail  map[string]bool
}

func (f *fakeQuotes) Name() string { return "fake" }
func (f *fakeQuotes) FetchQuotes(_ context.Context, code string, start, end time.Time) ([]domain.QuoteBar, error) {
	f.calls.Add(1)
	if f.fail[code] {
		return nil, fmt.Errorf("boom")
	}
	return []domain.QuoteBar{
		{Code: code, Date: start, Open: 10, Close: 10.5, High: 11, Low: 9},
		{Code: code, Date: end, Open: 10.5, Close: 11, High: 11.5, Low: 10},
	}, nil
}

func newTestSyncer(t *testing.T, quotes *fakeQuotes) (*Syncer, *store.SQLStore, *store.ParquetStore) {
	t.Helper()
	db, err := store.OpenSQL(context.Background(), "sqlite", filepath.Join(t.TempDir(), "zlm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	archive := store.NewParquetStore(t.TempDir())

	s := NewSyncer(SyncerConfig{
		Stocks: fakeStocks{stocks: []domain.Stock{
			{Code: "600519", Name: "贵州茅台", Exchange: domain.ExchangeSSE},
			{Code: "000001", Name: "平安银行", Exchange: domain.ExchangeSZSE},
		}},
		Quotes:       quotes,
		StockStore:   db,
		QuoteStore:   db,
		Archive:      archive,
		Backoff:      util.Backoff{Attempts: 2, BaseDelay: time.Millisecond},
		Calendar:     util.FixedCalendar(time.Date(2024, 1, 10, 4, 0, 0, 0, time.UTC)),
		LookbackDays: 5,
		CodesLimit:   10,
	}, util.Discard())
	return s, db, archive
}

func TestSyncerSyncStocksAndQuotes(t *testing.T) {
	ctx := context.Background()
	quotes := &fakeQuotes{fail: map[string]bool{"000001": true}}
	s, db, archive := newTestSyncer(t, quotes)

	n, err := s.SyncStocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := s.SyncQuotes(ctx, []string{"000001", "600519"}, day("2024-01-02"), day("2024-01-05"))
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Codes: 2, Synced: 1, Failed: 1, Rows: 2}, res)
	// failing code retried once
	assert.Equal(t, int32(3), quotes.calls.Load())

	bars, err := db.GetQuotes(ctx, "600519", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	assert.Len(t, bars, 2)

	archived, err := archive.FetchQuotes(ctx, "600519", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	assert.Len(t, archived, 2)
}

func TestSyncerRun(t *testing.T) {
	ctx := context.Background()
	s, db, _ := newTestSyncer(t, &fakeQuotes{})

	// Nothing known yet: a no-op.
	require.NoError(t, s.Run(ctx))

	_, err := s.SyncStocks(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	bars, err := db.GetQuotes(ctx, "000001", day("2024-01-05"), day("2024-01-10"))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, day("2024-01-05"), bars[0].Date)
	assert.Equal(t, day("2024-01-10"), bars[1].Date)
}

func TestSyncerImportCSV(t *testing.T) {
	ctx := context.Background()
	s, db, _ := newTestSyncer(t, &fakeQuotes{})

	path := filepath.Join(t.TempDir(), "quotes.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"code,date,open,high,low,close,volume,amount,turnover\n"+
			"300750,2024-01-02,150,155,149,154,100,,\n"), 0o644))

	n, err := s.ImportCSV(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	bars, err := db.GetQuotes(ctx, "300750", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 154.0, bars[0].Close)

	_, err = s.ImportCSV(ctx, filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
