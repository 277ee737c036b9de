package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"zhunleme/internal/domain"
)

// ParquetStore is a file archive of daily quote bars. It doubles as an
// offline quote source for the loader and as the export target of the sync
// CLI.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// Name identifies the archive in logs.
func (s *ParquetStore) Name() string { return "parquet" }

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// QuoteRecord is the Parquet schema for one daily bar.
type QuoteRecord struct {
	Code      string   `parquet:"code"`
	Timestamp int64    `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, midnight UTC
	Open      float64  `parquet:"open"`
	Close     float64  `parquet:"close"`
	High      float64  `parquet:"high"`
	Low       float64  `parquet:"low"`
	Volume    *float64 `parquet:"volume,optional"`
	Amount    *float64 `parquet:"amount,optional"`
	Turnover  *float64 `parquet:"turnover,optional"`
	AdjClose  *float64 `parquet:"adj_close,optional"`
	Flags     string   `parquet:"flags"` // comma separated
}

func toRecord(b domain.QuoteBar) QuoteRecord {
	return QuoteRecord{
		Code:      b.Code,
		Timestamp: domain.Day(b.Date).UnixMilli(),
		Open:      b.Open,
		Close:     b.Close,
		High:      b.High,
		Low:       b.Low,
		Volume:    b.Volume,
		Amount:    b.Amount,
		Turnover:  b.Turnover,
		AdjClose:  b.AdjClose,
		Flags:     strings.Join(b.Flags, ","),
	}
}

func (r QuoteRecord) toDomain() domain.QuoteBar {
	var flags []string
	if r.Flags != "" {
		flags = strings.Split(r.Flags, ",")
	}
	return domain.QuoteBar{
		Code:     r.Code,
		Date:     time.UnixMilli(r.Timestamp).UTC(),
		Open:     r.Open,
		Close:    r.Close,
		High:     r.High,
		Low:      r.Low,
		Volume:   r.Volume,
		Amount:   r.Amount,
		Turnover: r.Turnover,
		AdjClose: r.AdjClose,
		Flags:    flags,
	}
}

// ---------------------------------------------------------------------------
// Archive operations
// ---------------------------------------------------------------------------

// WriteQuotes merges bars into per-code, per-year files at:
//
//	<DataDir>/cn/daily/<CODE>/<YYYY>.parquet
//
// A bar for an existing (code, date) replaces the archived one.
func (s *ParquetStore) WriteQuotes(_ context.Context, bars []domain.QuoteBar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		code string
		year int
	}
	groups := make(map[key][]QuoteRecord)
	for _, b := range bars {
		k := key{code: b.Code, year: b.Date.Year()}
		groups[k] = append(groups[k], toRecord(b))
	}

	for k, records := range groups {
		path := s.quotePath(k.code, k.year)

		existing, err := readParquetFile[QuoteRecord](path)
		if err != nil {
			return fmt.Errorf("reading quotes for %s/%d: %w", k.code, k.year, err)
		}
		merged := mergeQuoteRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing quotes for %s/%d: %w", k.code, k.year, err)
		}
	}
	return nil
}

// FetchQuotes reads archived bars for code with start <= date <= end,
// ascending. Missing year files are skipped; unreadable ones are an error.
func (s *ParquetStore) FetchQuotes(_ context.Context, code string, start, end time.Time) ([]domain.QuoteBar, error) {
	start, end = domain.Day(start), domain.Day(end)

	var bars []domain.QuoteBar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[QuoteRecord](s.quotePath(code, year))
		if err != nil {
			return nil, fmt.Errorf("reading quotes for %s/%d: %w", code, year, err)
		}
		for _, r := range records {
			b := r.toDomain()
			if !b.Date.Before(start) && !b.Date.After(end) {
				bars = append(bars, b)
			}
		}
	}
	return bars, nil
}

// ListCodes lists every code with archived quotes.
func (s *ParquetStore) ListCodes(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "cn", "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var codes []string
	for _, e := range entries {
		if e.IsDir() {
			codes = append(codes, e.Name())
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// quotePath returns the filesystem path for a quote Parquet file.
func (s *ParquetStore) quotePath(code string, year int) string {
	return filepath.Join(s.DataDir, "cn", "daily", code, fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

// readParquetFile returns the records in path, or nil when the file does
// not exist.
func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeQuoteRecords deduplicates by (code, timestamp), preferring incoming
// records, and sorts by timestamp.
func mergeQuoteRecords(existing, incoming []QuoteRecord) []QuoteRecord {
	type key struct {
		code string
		ts   int64
	}
	seen := make(map[key]QuoteRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Code, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Code, r.Timestamp}] = r
	}

	merged := make([]QuoteRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
