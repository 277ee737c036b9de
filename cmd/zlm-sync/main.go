package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zhunleme/internal/config"
	"zhunleme/internal/domain"
	"zhunleme/internal/gather"
	"zhunleme/internal/gather/cn"
	"zhunleme/internal/store"
	"zhunleme/internal/util"
)

var (
	cfgPath string
	cfg     *config.Config
	logger  *slog.Logger
	closer  interface{ Close() error }
)

var rootCmd = &cobra.Command{
	Use:   "zlm-sync",
	Short: "Maintain the zhunleme stock master and daily quotes",
	Long: `zlm-sync initializes the database and pulls A-share reference data and
daily quotes into it.

Examples:
  zlm-sync init-db
  zlm-sync stocks
  zlm-sync quotes --codes 600519,000001 --start 2024-01-01 --end 2024-06-30
  zlm-sync import-csv quotes.csv`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logger, closer = util.NewLogger(cfg.Logging)
		util.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closer != nil {
			closer.Close()
		}
	},
}

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("database ready", "driver", cfg.Database.Driver)
		return nil
	},
}

var stocksCmd = &cobra.Command{
	Use:   "stocks",
	Short: "Refresh the stock master from AKTools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSyncer(cmd.Context(), func(ctx context.Context, s *cn.Syncer, _ store.Store) error {
			n, err := s.SyncStocks(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("synced %d stocks\n", n)
			return nil
		})
	},
}

var (
	quoteCodes []string
	quoteLimit int
	quoteStart string
	quoteEnd   string
	quoteDays  int
)

var quotesCmd = &cobra.Command{
	Use:   "quotes",
	Short: "Fetch daily quotes from TongHuaShun into the database",
	Long: `Fetch daily quotes for the given codes, or for the first --limit known codes
when --codes is empty. The window is --start..--end, or the last --days days
ending today.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := quoteWindow()
		if err != nil {
			return err
		}
		return withSyncer(cmd.Context(), func(ctx context.Context, s *cn.Syncer, db store.Store) error {
			codes := make([]string, 0, len(quoteCodes))
			for _, c := range quoteCodes {
				codes = append(codes, cn.PadCode(c))
			}
			if len(codes) == 0 {
				if codes, err = db.ListCodes(ctx, quoteLimit); err != nil {
					return fmt.Errorf("listing codes: %w", err)
				}
			}
			res, err := s.SyncQuotes(ctx, codes, window.Start, window.End)
			if err != nil {
				return err
			}
			fmt.Printf("codes=%d synced=%d failed=%d rows=%d\n", res.Codes, res.Synced, res.Failed, res.Rows)
			return nil
		})
	},
}

var importCSVCmd = &cobra.Command{
	Use:   "import-csv <file>...",
	Short: "Import daily quotes from CSV files",
	Long: `Import daily quotes from CSV files with the header
code,date,open,high,low,close,volume,amount,turnover.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSyncer(cmd.Context(), func(ctx context.Context, s *cn.Syncer, _ store.Store) error {
			total := 0
			for _, path := range args {
				n, err := s.ImportCSV(ctx, path)
				if err != nil {
					return err
				}
				total += n
			}
			fmt.Printf("imported %d rows from %d files\n", total, len(args))
			return nil
		})
	},
}

func init() {
	defaultCfg := "config/zlm.yaml"
	if p := os.Getenv("ZLM_CONFIG"); p != "" {
		defaultCfg = p
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "config file")

	quotesCmd.Flags().StringSliceVar(&quoteCodes, "codes", nil, "comma-separated stock codes")
	quotesCmd.Flags().IntVar(&quoteLimit, "limit", 0, "number of known codes to sync when --codes is empty (0 = all)")
	quotesCmd.Flags().StringVar(&quoteStart, "start", "", "first date, YYYY-MM-DD")
	quotesCmd.Flags().StringVar(&quoteEnd, "end", "", "last date, YYYY-MM-DD (default today)")
	quotesCmd.Flags().IntVar(&quoteDays, "days", 10, "lookback in calendar days when --start is empty")

	rootCmd.AddCommand(initDBCmd, stocksCmd, quotesCmd, importCSVCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*store.SQLStore, error) {
	db, err := store.OpenSQL(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return db, nil
}

func withSyncer(ctx context.Context, fn func(context.Context, *cn.Syncer, store.Store) error) error {
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	syncer := cn.NewSources(cfg.Sources, logger).NewSyncer(cfg.Sync, db, logger)
	start := time.Now()
	if err := fn(ctx, syncer, db); err != nil {
		return err
	}
	logger.Debug("command finished", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func quoteWindow() (gather.DateRange, error) {
	end := util.NewTradingCalendar().Today()
	if quoteEnd != "" {
		d, err := domain.ParseDay(quoteEnd)
		if err != nil {
			return gather.DateRange{}, fmt.Errorf("--end: %w", err)
		}
		end = d
	}
	if quoteStart == "" {
		return gather.LastDays(end, quoteDays), nil
	}
	start, err := domain.ParseDay(quoteStart)
	if err != nil {
		return gather.DateRange{}, fmt.Errorf("--start: %w", err)
	}
	if start.After(end) {
		return gather.DateRange{}, fmt.Errorf("--start %s is after --end %s", quoteStart, end.Format(domain.DateLayout))
	}
	return gather.DateRange{Start: start, End: end}, nil
}
