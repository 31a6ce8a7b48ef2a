// Package barstore persists per-instrument bar series and sinks live
// market-data streams into them.
package barstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"traderd/internal/domain"
)

// Store persists and retrieves bar series keyed by instrument symbol.
type Store interface {
	// WriteBars persists a batch of bars for one instrument.
	WriteBars(ctx context.Context, inst domain.Instrument, bars []domain.Bar) error

	// ReadBars returns bars for the instrument within [start, end].
	ReadBars(ctx context.Context, inst domain.Instrument, start, end time.Time) ([]domain.Bar, error)

	// Ping reports whether the store can currently accept writes.
	Ping(ctx context.Context) error
}

// Compile-time interface check.
var _ Store = (*ParquetStore)(nil)

// ParquetStore implements Store using Parquet files on disk, one file per
// instrument and month:
//
//	<DataDir>/bars/<SYMBOL>/<YYYY-MM>.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// barRecord is the Parquet on-disk schema for bar data.
type barRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// WriteBars writes bars grouped by month, merging with any existing file so
// repeated backfills of the same range stay idempotent.
func (s *ParquetStore) WriteBars(_ context.Context, inst domain.Instrument, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[string][]barRecord)
	for _, b := range bars {
		month := b.Timestamp.UTC().Format("2006-01")
		groups[month] = append(groups[month], barRecord{
			Symbol:     inst.Symbol,
			Timestamp:  b.Timestamp.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for month, records := range groups {
		path := s.barPath(inst.Symbol, month)

		// Read existing records to merge.
		existing, _ := readParquetFile[barRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%s: %w", inst.Symbol, month, err)
		}
	}
	return nil
}

// ReadBars reads all monthly files overlapping [start, end] and filters to
// the requested range.
func (s *ParquetStore) ReadBars(_ context.Context, inst domain.Instrument, start, end time.Time) ([]domain.Bar, error) {
	var out []domain.Bar

	for month := monthOf(start); !month.After(monthOf(end)); month = month.AddDate(0, 1, 0) {
		path := s.barPath(inst.Symbol, month.Format("2006-01"))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		records, err := readParquetFile[barRecord](path)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s/%s: %w", inst.Symbol, month.Format("2006-01"), err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			out = append(out, domain.Bar{
				Symbol:     r.Symbol,
				Timestamp:  ts,
				Open:       r.Open,
				High:       r.High,
				Low:        r.Low,
				Close:      r.Close,
				Volume:     r.Volume,
				TradeCount: r.TradeCount,
				VWAP:       r.VWAP,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Ping verifies the bar directory exists and is writable, creating it on
// first use.
func (s *ParquetStore) Ping(_ context.Context) error {
	dir := filepath.Join(s.DataDir, "bars")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bar store unavailable: %w", err)
	}
	return nil
}

func (s *ParquetStore) barPath(symbol, month string) string {
	return filepath.Join(s.DataDir, "bars", strings.ToUpper(symbol), month+".parquet")
}

func monthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
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

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []barRecord) []barRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]barRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
