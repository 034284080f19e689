package marketdata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratopt/pkg/backtest"
)

const sampleCSV = `timestamp,symbol,open,high,low,close,volume
1704067200,BTCUSDT,100,110,90,105,12
2024-01-02T00:00:00Z,BTCUSDT,105,115,100,110,8
not-a-time,BTCUSDT,1,1,1,1,1
1704240000,BTCUSDT,abc,1,1,1,1
1704326400,BTCUSDT,110,112,108,111,3
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

// ============================================================================
// FILE TESTS
// ============================================================================

func TestReadCSV_SkipsMalformedRows(t *testing.T) {
	candles, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, candles, 3)

	assert.Equal(t, time.Unix(1704067200, 0).UTC(), candles[0].Timestamp)
	assert.Equal(t, 105.0, candles[0].Close)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), candles[1].Timestamp.UTC())
	assert.Equal(t, 111.0, candles[2].Close)
}

func TestReadCSV_InvalidHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("timestamp,close\n1,2\n"))
	assert.Error(t, err)
}

func TestParseJSON_BothLayouts(t *testing.T) {
	array := `[{"symbol":"ETH","timestamp":"2024-01-01T00:00:00Z","close":2000}]`
	object := `{"candles":[{"symbol":"ETH","timestamp":"2024-01-01T00:00:00Z","close":2100}]}`

	candles, err := ParseJSON([]byte(array))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 2000.0, candles[0].Close)

	candles, err = ParseJSON([]byte(object))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 2100.0, candles[0].Close)

	_, err = ParseJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestFileSource_LoadFiltersRange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "BTCUSDT.csv", sampleCSV)

	source, err := NewFileSource(dir, "")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, source.Format)

	candles, err := source.Load(context.Background(), Query{
		Symbol: "BTCUSDT",
		Start:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 110.0, candles[0].Close)
}

func TestFileSource_JSONFormat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ETH.json", `{"candles":[{"timestamp":"2024-01-01T00:00:00Z","close":5}]}`)

	source, err := NewFileSource(dir, "JSON")
	require.NoError(t, err)

	candles, err := source.Load(context.Background(), Query{Symbol: "ETH"})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "ETH", candles[0].Symbol, "symbol filled from the query")
}

func TestFileSource_Errors(t *testing.T) {
	_, err := NewFileSource(t.TempDir(), "parquet")
	assert.Error(t, err)

	source, err := NewFileSource(t.TempDir(), FormatCSV)
	require.NoError(t, err)
	_, err = source.Load(context.Background(), Query{Symbol: "MISSING"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = source.Load(ctx, Query{Symbol: "MISSING"})
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// POSTGRES TESTS
// ============================================================================

func TestPostgresSource_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	rows := pgxmock.NewRows([]string{"symbol", "timestamp", "open", "high", "low", "close", "volume"}).
		AddRow("BTCUSDT", start, 100.0, 101.0, 99.0, 100.5, 10.0).
		AddRow("BTCUSDT", start.Add(time.Hour), 100.5, 102.0, 100.0, 101.5, 12.0)

	mock.ExpectQuery("SELECT symbol, open_time as timestamp").
		WithArgs("BTCUSDT", "binance", "1h", start, end).
		WillReturnRows(rows)

	source := NewPostgresSource(mock)
	candles, err := source.Load(context.Background(), Query{
		Symbol: "BTCUSDT", Exchange: "binance", Interval: "1h", Start: start, End: end,
	})

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 101.5, candles[1].Close)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT symbol").
		WithArgs("BTCUSDT", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err = NewPostgresSource(mock).Load(context.Background(), Query{Symbol: "BTCUSDT", End: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_NilPool(t *testing.T) {
	_, err := NewPostgresSource(nil).Load(context.Background(), Query{})
	assert.Error(t, err)
}

// ============================================================================
// REDIS CACHE TESTS
// ============================================================================

type countingSource struct {
	calls   atomic.Int64
	candles []*backtest.Candlestick
	err     error
}

func (s *countingSource) Load(ctx context.Context, q Query) ([]*backtest.Candlestick, error) {
	s.calls.Add(1)
	return s.candles, s.err
}

func TestRedisCache_ReadThrough(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	source := &countingSource{candles: []*backtest.Candlestick{
		{Symbol: "BTCUSDT", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Close: 42},
	}}
	cache := NewRedisCache(client, source, time.Minute)
	q := Query{Symbol: "btcusdt", Interval: "1h"}

	first, err := cache.Load(context.Background(), q)
	require.NoError(t, err)
	second, err := cache.Load(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, int64(1), source.calls.Load())
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Close, second[0].Close)
	assert.True(t, mr.Exists("candles:"+q.Key()))
	assert.Equal(t, time.Minute, mr.TTL("candles:"+q.Key()))

	require.NoError(t, cache.Invalidate(context.Background(), q))
	_, err = cache.Load(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, int64(2), source.calls.Load())
}

func TestRedisCache_CorruptEntryIsMiss(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := Query{Symbol: "ETH"}
	require.NoError(t, mr.Set("candles:"+q.Key(), "{broken"))

	source := &countingSource{candles: []*backtest.Candlestick{{Symbol: "ETH", Close: 1}}}
	candles, err := NewRedisCache(client, source, 0).Load(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, candles, 1)
	assert.Equal(t, int64(1), source.calls.Load())
}

func TestRedisCache_NilClientPassesThrough(t *testing.T) {
	source := &countingSource{err: errors.New("boom")}
	cache := NewRedisCache(nil, source, 0)

	_, err := cache.Load(context.Background(), Query{Symbol: "ETH"})
	assert.EqualError(t, err, "boom")
	assert.NoError(t, cache.Invalidate(context.Background(), Query{}))
}

func TestQueryKey(t *testing.T) {
	q := Query{Symbol: "eth", Exchange: "binance", Interval: "1h", Start: time.Unix(10, 0)}
	assert.Equal(t, "ETH:binance:1h:10:0", q.Key())
}
