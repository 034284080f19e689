// Package marketdata loads historical candles for backtest runs from files, PostgreSQL or a Redis cache
package marketdata

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ajitpratap0/stratopt/internal/metrics"
	"github.com/ajitpratap0/stratopt/pkg/backtest"
)

// Storage formats supported by FileSource
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Query selects a candle series
type Query struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	Interval string    `json:"interval"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Key is a stable identifier of the query, used for caching
func (q Query) Key() string {
	return fmt.Sprintf("%s:%s:%s:%d:%d",
		strings.ToUpper(q.Symbol), q.Exchange, q.Interval, unixOrZero(q.Start), unixOrZero(q.End))
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Source loads candles for a query
type Source interface {
	Load(ctx context.Context, q Query) ([]*backtest.Candlestick, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, q Query) ([]*backtest.Candlestick, error)

// Load calls f
func (f SourceFunc) Load(ctx context.Context, q Query) ([]*backtest.Candlestick, error) {
	return f(ctx, q)
}

// FileSource reads <Drive>/<symbol>.<format> files
type FileSource struct {
	Drive  string
	Format string
}

// NewFileSource creates a file source; an empty format defaults to csv
func NewFileSource(drive, format string) (*FileSource, error) {
	if format == "" {
		format = FormatCSV
	}
	format = strings.ToLower(format)
	if format != FormatCSV && format != FormatJSON {
		return nil, fmt.Errorf("unsupported storage format %q", format)
	}
	return &FileSource{Drive: drive, Format: format}, nil
}

// Path returns the file backing symbol
func (s *FileSource) Path(symbol string) string {
	return filepath.Join(s.Drive, symbol+"."+s.Format)
}

// Load reads the symbol file and keeps candles inside the query range
func (s *FileSource) Load(ctx context.Context, q Query) ([]*backtest.Candlestick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.MarketDataLoadDuration.WithLabelValues("file").Observe(time.Since(start).Seconds())
	}()

	var (
		candles []*backtest.Candlestick
		err     error
	)
	switch s.Format {
	case FormatJSON:
		candles, err = LoadJSON(s.Path(q.Symbol))
	default:
		candles, err = LoadCSV(s.Path(q.Symbol))
	}
	if err != nil {
		return nil, err
	}

	return filterRange(candles, q), nil
}

func filterRange(candles []*backtest.Candlestick, q Query) []*backtest.Candlestick {
	filtered := candles[:0]
	for _, c := range candles {
		if !q.Start.IsZero() && c.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && c.Timestamp.After(q.End) {
			continue
		}
		if c.Symbol == "" {
			c.Symbol = q.Symbol
		}
		filtered = append(filtered, c)
	}
	return filtered
}
