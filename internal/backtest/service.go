package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"zhunleme/internal/domain"
	"zhunleme/internal/gather"
	"zhunleme/internal/store"
	"zhunleme/internal/util"
)

// Request defaults.
const (
	DefaultBenchmark   = "HS300"
	DefaultPriceAdjust = "post"
	defaultMaxStocks   = 20
	defaultWorkers     = 4
)

// Request is one backtest run. EndDate nil means today on the market
// calendar. PriceAdjust is carried through but not used by the calculator.
type Request struct {
	Stocks        []string
	RecommendDate time.Time  `validate:"required"`
	EndDate       *time.Time `validate:"omitempty"`
	Benchmark     string     `validate:"omitempty,max=32"`
	PriceAdjust   string     `validate:"omitempty,max=16"`
	UserID        *string    `validate:"omitempty"`
}

// BenchmarkProvider supplies the benchmark return and annualized return for
// a window.
type BenchmarkProvider interface {
	Benchmark(ctx context.Context, label string, w domain.Window) (ret, ann float64, err error)
}

// FlatBenchmark reports a zero benchmark for every window.
type FlatBenchmark struct{}

// Benchmark returns 0, 0.
func (FlatBenchmark) Benchmark(context.Context, string, domain.Window) (float64, float64, error) {
	return 0, 0, nil
}

// Config tunes the Service.
type Config struct {
	MaxStocks        int
	Workers          int
	DefaultBenchmark string
}

// Deps are the Service's collaborators. Fallback, Benchmark and Calendar are
// optional.
type Deps struct {
	Stocks    store.StockStore
	Quotes    store.QuoteStore
	Backtests store.BacktestStore
	Fallback  gather.QuoteSource
	Benchmark BenchmarkProvider
	Calendar  *util.TradingCalendar
}

// Service runs and retrieves backtests.
type Service struct {
	cfg       Config
	resolver  *Resolver
	loader    *Loader
	backtests store.BacktestStore
	bench     BenchmarkProvider
	calendar  *util.TradingCalendar
	validate  *validator.Validate
	log       *slog.Logger
	newID     func() string
}

// NewService creates a Service.
func NewService(cfg Config, deps Deps, log *slog.Logger) *Service {
	if cfg.MaxStocks <= 0 {
		cfg.MaxStocks = defaultMaxStocks
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.DefaultBenchmark == "" {
		cfg.DefaultBenchmark = DefaultBenchmark
	}
	if deps.Benchmark == nil {
		deps.Benchmark = FlatBenchmark{}
	}
	if deps.Calendar == nil {
		deps.Calendar = util.NewTradingCalendar()
	}
	log = log.With("component", "backtest")

	return &Service{
		cfg:       cfg,
		resolver:  NewResolver(deps.Stocks),
		loader:    NewLoader(deps.Quotes, deps.Fallback, log),
		backtests: deps.Backtests,
		bench:     deps.Benchmark,
		calendar:  deps.Calendar,
		validate:  validator.New(),
		log:       log,
		newID:     uuid.NewString,
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// Run validates req, resolves its stocks, evaluates each one over the window
// and stores the aggregate. Stocks without usable data are skipped.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	window, err := s.check(req)
	if err != nil {
		return nil, err
	}
	benchmark := req.Benchmark
	if benchmark == "" {
		benchmark = s.cfg.DefaultBenchmark
	}

	stocks, err := s.resolver.Resolve(ctx, req.Stocks)
	if err != nil {
		return nil, err
	}
	if len(stocks) == 0 {
		return nil, newError(ErrNotFound, msgNoResolved)
	}

	items, err := s.evaluateAll(ctx, stocks, window)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, newError(ErrUnprocessable, msgNoData)
	}

	benchRet, benchAnn, err := s.bench.Benchmark(ctx, benchmark, window)
	if err != nil {
		return nil, fmt.Errorf("computing benchmark %s: %w", benchmark, err)
	}
	summary := Summarize(items, benchRet, benchAnn)
	for i := range items {
		items[i].Excess = items[i].Return - summary.BenchReturn
	}

	bt := &domain.Backtest{
		ID:        s.newID(),
		UserID:    req.UserID,
		Window:    window,
		Benchmark: benchmark,
		Summary:   summary,
		Items:     items,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.backtests.SaveBacktest(ctx, bt); err != nil {
		return nil, fmt.Errorf("saving backtest: %w", err)
	}

	s.log.Info("backtest stored",
		"bt_id", bt.ID,
		"requested", len(req.Stocks),
		"resolved", len(stocks),
		"items", len(items),
		"start", window.Start.Format(domain.DateLayout),
		"end", window.End.Format(domain.DateLayout),
	)
	return NewResponse(bt), nil
}

// check validates req without touching the store and returns the effective
// window.
func (s *Service) check(req Request) (domain.Window, error) {
	if len(req.Stocks) == 0 {
		return domain.Window{}, newError(ErrValidation, msgNoStocks)
	}
	if len(req.Stocks) > s.cfg.MaxStocks {
		return domain.Window{}, newError(ErrValidation, fmt.Sprintf(msgTooManyFormat, s.cfg.MaxStocks))
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Window{}, newError(ErrValidation, describeValidation(err))
	}

	end := s.calendar.Today()
	if req.EndDate != nil {
		end = domain.Day(*req.EndDate)
	}
	w := domain.Window{Start: domain.Day(req.RecommendDate), End: end}
	if !w.Valid() {
		return domain.Window{}, newError(ErrValidation, msgBadWindow)
	}
	return w, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Field() == "RecommendDate" {
			return "请选择推荐日期"
		}
		return fmt.Sprintf("参数 %s 不合法", fe.Field())
	}
	return err.Error()
}

// evaluateAll loads and evaluates every stock concurrently. Results keep the
// order of stocks; a stock that fails or has no usable window is dropped.
func (s *Service) evaluateAll(ctx context.Context, stocks []domain.Stock, w domain.Window) ([]domain.BacktestItem, error) {
	type result struct {
		item *domain.BacktestItem
	}

	results := make([]result, len(stocks))
	sem := make(chan struct{}, s.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for i, st := range stocks {
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			if gctx.Err() != nil {
				return gctx.Err()
			}
			bars, err := s.loader.Load(gctx, st.Code, w.Start, w.End)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Warn("skipping stock", "code", st.Code, "error", err)
				return nil
			}
			if len(bars) == 0 {
				s.log.Debug("no quotes in window", "code", st.Code)
				return nil
			}

			item, ok := Evaluate(st, bars, w.Start, w.End)
			if !ok {
				s.log.Debug("degenerate window", "code", st.Code, "bars", len(bars))
				return nil
			}
			results[i] = result{item: item}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]domain.BacktestItem, 0, len(stocks))
	for _, r := range results {
		if r.item != nil {
			items = append(items, *r.item)
		}
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

// Get loads a stored backtest by id.
func (s *Service) Get(ctx context.Context, id string) (*Response, error) {
	bt, err := s.backtests.LoadBacktest(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log.Debug("backtest not found", "bt_id", id)
			return nil, newError(ErrNotFound, msgNoBacktest)
		}
		return nil, fmt.Errorf("loading backtest %s: %w", id, err)
	}
	return NewResponse(bt), nil
}
