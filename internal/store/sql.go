package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Postgres driver.
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"zhunleme/internal/domain"
)

// Compile-time interface checks.
var _ StockStore = (*SQLStore)(nil)
var _ QuoteStore = (*SQLStore)(nil)
var _ BacktestStore = (*SQLStore)(nil)
var _ Store = (*SQLStore)(nil)

// SQLStore implements StockStore, QuoteStore and BacktestStore on SQLite or
// Postgres. Queries are written with '?' placeholders and rebound per driver.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQL opens the database for driver ("sqlite" or "postgres") and applies
// the schema. For SQLite the parent directory of the file is created.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite":
		dsn = sqliteDSN(dsn)
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite allows one writer at a time.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// sqliteDSN creates the database directory and enables foreign keys.
func sqliteDSN(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path != "" && path != ":memory:" {
		os.MkdirAll(filepath.Dir(path), 0o755)
	}
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		code        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		status_tags TEXT NOT NULL DEFAULT '[]',
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stocks_name ON stocks (name)`,
	`CREATE TABLE IF NOT EXISTS quotes_daily (
		code       TEXT NOT NULL,
		trade_date TEXT NOT NULL,
		open       DOUBLE PRECISION NOT NULL,
		close      DOUBLE PRECISION NOT NULL,
		high       DOUBLE PRECISION NOT NULL,
		low        DOUBLE PRECISION NOT NULL,
		volume     DOUBLE PRECISION,
		amount     DOUBLE PRECISION,
		turnover   DOUBLE PRECISION,
		adj_close  DOUBLE PRECISION,
		flags      TEXT NOT NULL DEFAULT '[]',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (code, trade_date)
	)`,
	`CREATE TABLE IF NOT EXISTS backtest (
		bt_id        TEXT PRIMARY KEY,
		user_id      TEXT,
		start_date   TEXT NOT NULL,
		end_date     TEXT NOT NULL,
		benchmark    TEXT NOT NULL,
		summary_json TEXT NOT NULL,
		created_at   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_start ON backtest (start_date)`,
	`CREATE TABLE IF NOT EXISTS backtest_item (
		bt_id      TEXT NOT NULL REFERENCES backtest (bt_id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		code       TEXT NOT NULL,
		name       TEXT NOT NULL,
		buy_date   TEXT NOT NULL,
		buy_price  DOUBLE PRECISION NOT NULL,
		sell_date  TEXT NOT NULL,
		sell_price DOUBLE PRECISION NOT NULL,
		ret        DOUBLE PRECISION NOT NULL,
		excess     DOUBLE PRECISION NOT NULL,
		ann        DOUBLE PRECISION NOT NULL,
		sharpe     DOUBLE PRECISION,
		mdd        DOUBLE PRECISION,
		calmar     DOUBLE PRECISION,
		score      DOUBLE PRECISION,
		grade      TEXT NOT NULL,
		flags      TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (bt_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_item_code ON backtest_item (code)`,
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Row types
// ---------------------------------------------------------------------------

type stockRow struct {
	Code       string `db:"code"`
	Name       string `db:"name"`
	Exchange   string `db:"exchange"`
	StatusTags string `db:"status_tags"`
}

func (r stockRow) toDomain() *domain.Stock {
	return &domain.Stock{
		Code:       r.Code,
		Name:       r.Name,
		Exchange:   domain.Exchange(r.Exchange),
		StatusTags: decodeStrings(r.StatusTags),
	}
}

type quoteRow struct {
	Code      string          `db:"code"`
	TradeDate string          `db:"trade_date"`
	Open      float64         `db:"open"`
	Close     float64         `db:"close"`
	High      float64         `db:"high"`
	Low       float64         `db:"low"`
	Volume    sql.NullFloat64 `db:"volume"`
	Amount    sql.NullFloat64 `db:"amount"`
	Turnover  sql.NullFloat64 `db:"turnover"`
	AdjClose  sql.NullFloat64 `db:"adj_close"`
	Flags     string          `db:"flags"`
}

type backtestRow struct {
	ID          string         `db:"bt_id"`
	UserID      sql.NullString `db:"user_id"`
	StartDate   string         `db:"start_date"`
	EndDate     string         `db:"end_date"`
	Benchmark   string         `db:"benchmark"`
	SummaryJSON string         `db:"summary_json"`
	CreatedAt   int64          `db:"created_at"`
}

type itemRow struct {
	Seq       int             `db:"seq"`
	Code      string          `db:"code"`
	Name      string          `db:"name"`
	BuyDate   string          `db:"buy_date"`
	BuyPrice  float64         `db:"buy_price"`
	SellDate  string          `db:"sell_date"`
	SellPrice float64         `db:"sell_price"`
	Ret       float64         `db:"ret"`
	Excess    float64         `db:"excess"`
	Ann       float64         `db:"ann"`
	Sharpe    sql.NullFloat64 `db:"sharpe"`
	MDD       sql.NullFloat64 `db:"mdd"`
	Calmar    sql.NullFloat64 `db:"calmar"`
	Score     sql.NullFloat64 `db:"score"`
	Grade     string          `db:"grade"`
	Flags     string          `db:"flags"`
}

// ---------------------------------------------------------------------------
// StockStore implementation
// ---------------------------------------------------------------------------

const stockColumns = `code, name, exchange, status_tags`

// GetStock returns the stock with the given code, or ErrNotFound.
func (s *SQLStore) GetStock(ctx context.Context, code string) (*domain.Stock, error) {
	var row stockRow
	q := s.db.Rebind(`SELECT ` + stockColumns + ` FROM stocks WHERE code = ?`)
	if err := s.db.GetContext(ctx, &row, q, code); err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

// FindStockByName returns the lowest-code stock with exactly this name.
func (s *SQLStore) FindStockByName(ctx context.Context, name string) (*domain.Stock, error) {
	var row stockRow
	q := s.db.Rebind(`SELECT ` + stockColumns + ` FROM stocks WHERE name = ? ORDER BY code LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, q, name); err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

// UpsertStocks inserts or refreshes stocks in one transaction.
func (s *SQLStore) UpsertStocks(ctx context.Context, stocks []domain.Stock) error {
	if len(stocks) == 0 {
		return nil
	}
	now := time.Now().Unix()
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
			INSERT INTO stocks (code, name, exchange, status_tags, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (code) DO UPDATE SET
				name = excluded.name,
				exchange = excluded.exchange,
				status_tags = excluded.status_tags,
				updated_at = excluded.updated_at`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, st := range stocks {
			exch := st.Exchange
			if exch == "" {
				exch = domain.DetectExchange(st.Code)
			}
			if _, err := stmt.ExecContext(ctx, st.Code, st.Name, string(exch), encodeStrings(st.StatusTags), now); err != nil {
				return fmt.Errorf("upsert stock %s: %w", st.Code, err)
			}
		}
		return nil
	})
}

// ListCodes returns up to limit codes in ascending order. A limit <= 0
// returns every code.
func (s *SQLStore) ListCodes(ctx context.Context, limit int) ([]string, error) {
	var codes []string
	if limit <= 0 {
		err := s.db.SelectContext(ctx, &codes, `SELECT code FROM stocks ORDER BY code`)
		return codes, err
	}
	q := s.db.Rebind(`SELECT code FROM stocks ORDER BY code LIMIT ?`)
	err := s.db.SelectContext(ctx, &codes, q, limit)
	return codes, err
}

// RandomStock returns one stock picked by the database, or ErrNotFound when
// the table is empty.
func (s *SQLStore) RandomStock(ctx context.Context) (*domain.Stock, error) {
	var row stockRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+stockColumns+` FROM stocks ORDER BY RANDOM() LIMIT 1`); err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

// ---------------------------------------------------------------------------
// QuoteStore implementation
// ---------------------------------------------------------------------------

// GetQuotes returns bars for code with start <= date <= end, ascending.
func (s *SQLStore) GetQuotes(ctx context.Context, code string, start, end time.Time) ([]domain.QuoteBar, error) {
	var rows []quoteRow
	q := s.db.Rebind(`
		SELECT code, trade_date, open, close, high, low, volume, amount, turnover, adj_close, flags
		FROM quotes_daily
		WHERE code = ? AND trade_date >= ? AND trade_date <= ?
		ORDER BY trade_date`)
	if err := s.db.SelectContext(ctx, &rows, q, code, start.Format(domain.DateLayout), end.Format(domain.DateLayout)); err != nil {
		return nil, fmt.Errorf("get quotes %s: %w", code, err)
	}

	bars := make([]domain.QuoteBar, 0, len(rows))
	for _, r := range rows {
		d, err := domain.ParseDay(r.TradeDate)
		if err != nil {
			return nil, fmt.Errorf("quote %s has bad date %q: %w", r.Code, r.TradeDate, err)
		}
		bars = append(bars, domain.QuoteBar{
			Code:     r.Code,
			Date:     d,
			Open:     r.Open,
			Close:    r.Close,
			High:     r.High,
			Low:      r.Low,
			Volume:   nullable(r.Volume),
			Amount:   nullable(r.Amount),
			Turnover: nullable(r.Turnover),
			AdjClose: nullable(r.AdjClose),
			Flags:    decodeStrings(r.Flags),
		})
	}
	return bars, nil
}

// UpsertQuotes writes bars keyed by (code, date) in one transaction.
func (s *SQLStore) UpsertQuotes(ctx context.Context, bars []domain.QuoteBar) error {
	if len(bars) == 0 {
		return nil
	}
	now := time.Now().Unix()
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
			INSERT INTO quotes_daily
				(code, trade_date, open, close, high, low, volume, amount, turnover, adj_close, flags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (code, trade_date) DO UPDATE SET
				open = excluded.open,
				close = excluded.close,
				high = excluded.high,
				low = excluded.low,
				volume = excluded.volume,
				amount = excluded.amount,
				turnover = excluded.turnover,
				adj_close = excluded.adj_close,
				flags = excluded.flags,
				updated_at = excluded.updated_at`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, b := range bars {
			_, err := stmt.ExecContext(ctx,
				b.Code, b.Date.Format(domain.DateLayout),
				b.Open, b.Close, b.High, b.Low,
				nullFloat(b.Volume), nullFloat(b.Amount), nullFloat(b.Turnover), nullFloat(b.AdjClose),
				encodeStrings(b.Flags), now, now)
			if err != nil {
				return fmt.Errorf("upsert quote %s %s: %w", b.Code, b.Date.Format(domain.DateLayout), err)
			}
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// BacktestStore implementation
// ---------------------------------------------------------------------------

// SaveBacktest writes the record and its items in one transaction. Items are
// numbered in slice order so LoadBacktest can restore it.
func (s *SQLStore) SaveBacktest(ctx context.Context, bt *domain.Backtest) error {
	summary, err := json.Marshal(bt.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	created := bt.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO backtest (bt_id, user_id, start_date, end_date, benchmark, summary_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			bt.ID, nullString(bt.UserID),
			bt.Window.Start.Format(domain.DateLayout), bt.Window.End.Format(domain.DateLayout),
			bt.Benchmark, string(summary), created.Unix())
		if err != nil {
			return fmt.Errorf("insert backtest %s: %w", bt.ID, err)
		}

		stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
			INSERT INTO backtest_item
				(bt_id, seq, code, name, buy_date, buy_price, sell_date, sell_price,
				 ret, excess, ann, sharpe, mdd, calmar, score, grade, flags)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, it := range bt.Items {
			_, err := stmt.ExecContext(ctx,
				bt.ID, i, it.Code, it.Name,
				it.BuyDate.Format(domain.DateLayout), it.BuyPrice,
				it.SellDate.Format(domain.DateLayout), it.SellPrice,
				it.Return, it.Excess, it.Annualized,
				nullFloat(it.Sharpe), nullFloat(it.MaxDrawdown), nullFloat(it.Calmar), nullFloat(it.Score),
				string(it.Grade), encodeStrings(it.Flags))
			if err != nil {
				return fmt.Errorf("insert backtest item %s/%s: %w", bt.ID, it.Code, err)
			}
		}
		return nil
	})
}

// LoadBacktest reads a backtest and its items, or returns ErrNotFound.
func (s *SQLStore) LoadBacktest(ctx context.Context, id string) (*domain.Backtest, error) {
	var row backtestRow
	q := s.db.Rebind(`
		SELECT bt_id, user_id, start_date, end_date, benchmark, summary_json, created_at
		FROM backtest WHERE bt_id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, notFound(err)
	}

	bt := &domain.Backtest{
		ID:        row.ID,
		Benchmark: row.Benchmark,
		CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
	}
	if row.UserID.Valid {
		uid := row.UserID.String
		bt.UserID = &uid
	}
	var err error
	if bt.Window.Start, err = domain.ParseDay(row.StartDate); err != nil {
		return nil, fmt.Errorf("backtest %s start: %w", id, err)
	}
	if bt.Window.End, err = domain.ParseDay(row.EndDate); err != nil {
		return nil, fmt.Errorf("backtest %s end: %w", id, err)
	}
	if err := json.Unmarshal([]byte(row.SummaryJSON), &bt.Summary); err != nil {
		return nil, fmt.Errorf("backtest %s summary: %w", id, err)
	}

	var items []itemRow
	q = s.db.Rebind(`
		SELECT seq, code, name, buy_date, buy_price, sell_date, sell_price,
		       ret, excess, ann, sharpe, mdd, calmar, score, grade, flags
		FROM backtest_item WHERE bt_id = ? ORDER BY seq`)
	if err := s.db.SelectContext(ctx, &items, q, id); err != nil {
		return nil, fmt.Errorf("backtest %s items: %w", id, err)
	}

	bt.Items = make([]domain.BacktestItem, 0, len(items))
	for _, r := range items {
		buy, err := domain.ParseDay(r.BuyDate)
		if err != nil {
			return nil, fmt.Errorf("item %s buy date: %w", r.Code, err)
		}
		sell, err := domain.ParseDay(r.SellDate)
		if err != nil {
			return nil, fmt.Errorf("item %s sell date: %w", r.Code, err)
		}
		bt.Items = append(bt.Items, domain.BacktestItem{
			Code:        r.Code,
			Name:        r.Name,
			BuyDate:     buy,
			BuyPrice:    r.BuyPrice,
			SellDate:    sell,
			SellPrice:   r.SellPrice,
			Return:      r.Ret,
			Excess:      r.Excess,
			Annualized:  r.Ann,
			Sharpe:      nullable(r.Sharpe),
			MaxDrawdown: nullable(r.MDD),
			Calmar:      nullable(r.Calmar),
			Score:       nullable(r.Score),
			Grade:       domain.Grade(r.Grade),
			Flags:       decodeStrings(r.Flags),
			TradingDays: domain.DaysBetween(buy, sell),
		})
	}
	return bt, nil
}

// DeleteBacktest removes a backtest; its items go with it.
func (s *SQLStore) DeleteBacktest(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM backtest_item WHERE bt_id = ?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM backtest WHERE bt_id = ?`), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type rankRow struct {
	Code     string          `db:"code"`
	Name     string          `db:"name"`
	Runs     int             `db:"runs"`
	AvgRet   float64         `db:"avg_ret"`
	AvgScore sql.NullFloat64 `db:"avg_score"`
}

// RankItems groups items of backtests starting on or after q.Since by
// (code, name).
func (s *SQLStore) RankItems(ctx context.Context, q RankQuery) ([]RankRow, error) {
	var order string
	switch q.Order {
	case OrderByRuns:
		order = `runs DESC, i.code`
	case OrderByScore:
		order = `avg_score DESC NULLS LAST, i.code`
	case OrderByReturn:
		order = `avg_ret ASC, i.code`
	default:
		return nil, fmt.Errorf("unknown rank order %d", q.Order)
	}

	query := s.db.Rebind(`
		SELECT i.code AS code, i.name AS name, COUNT(*) AS runs,
		       AVG(i.ret) AS avg_ret, AVG(i.score) AS avg_score
		FROM backtest_item i
		JOIN backtest b ON b.bt_id = i.bt_id
		WHERE b.start_date >= ?
		GROUP BY i.code, i.name
		ORDER BY ` + order + `
		LIMIT ?`)

	var rows []rankRow
	if err := s.db.SelectContext(ctx, &rows, query, q.Since.Format(domain.DateLayout), q.Limit); err != nil {
		return nil, fmt.Errorf("rank items: %w", err)
	}

	out := make([]RankRow, len(rows))
	for i, r := range rows {
		out[i] = RankRow{Code: r.Code, Name: r.Name, Runs: r.Runs, AvgRet: r.AvgRet, AvgScore: nullable(r.AvgScore)}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullable(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func encodeStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(s string) []string {
	var v []string
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil || len(v) == 0 {
		return nil
	}
	return v
}
