package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratopt/internal/metrics"
	"github.com/ajitpratap0/stratopt/pkg/backtest"
)

// PoolInterface is the subset of pgxpool.Pool used here, so pgxmock can stand in
type PoolInterface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const candlesQuery = `
	SELECT symbol, open_time as timestamp, open, high, low, close, volume
	FROM candlesticks
	WHERE symbol = $1 AND exchange = $2 AND interval = $3
	  AND open_time >= $4 AND open_time <= $5
	ORDER BY open_time ASC
`

// PostgresSource loads candles from the candlesticks table
type PostgresSource struct {
	pool PoolInterface
}

// NewPostgresSource creates a PostgreSQL candle source
func NewPostgresSource(pool PoolInterface) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// Load queries candles between q.Start and q.End; a zero End means now
func (s *PostgresSource) Load(ctx context.Context, q Query) ([]*backtest.Candlestick, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("database connection not initialized")
	}

	end := q.End
	if end.IsZero() {
		end = time.Now().UTC()
	}

	start := time.Now()
	defer func() {
		metrics.MarketDataLoadDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
	}()

	rows, err := s.pool.Query(ctx, candlesQuery, q.Symbol, q.Exchange, q.Interval, q.Start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query candlesticks: %w", err)
	}
	defer rows.Close()

	var candles []*backtest.Candlestick
	for rows.Next() {
		var c backtest.Candlestick
		if err := rows.Scan(&c.Symbol, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candlestick: %w", err)
		}
		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candlesticks: %w", err)
	}

	log.Debug().
		Str("symbol", q.Symbol).
		Str("exchange", q.Exchange).
		Str("interval", q.Interval).
		Int("candles", len(candles)).
		Msg("Loaded candles from database")

	return candles, nil
}
