package marketdata

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratopt/pkg/backtest"
)

var csvHeader = []string{"timestamp", "symbol", "open", "high", "low", "close", "volume"}

// LoadCSV loads candles from a CSV file
// CSV format: timestamp,symbol,open,high,low,close,volume
// timestamp can be Unix seconds or RFC3339
func LoadCSV(path string) ([]*backtest.Candlestick, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	candles, err := ReadCSV(file)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("file", path).
		Int("candles", len(candles)).
		Msg("Loaded candles from CSV")

	return candles, nil
}

// ReadCSV parses candles from r; malformed rows are skipped
func ReadCSV(r io.Reader) ([]*backtest.Candlestick, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < len(csvHeader) {
		return nil, fmt.Errorf("invalid CSV header: expected %v, got %v", csvHeader, header)
	}

	var candles []*backtest.Candlestick
	line := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record at line %d: %w", line+1, err)
		}
		line++

		candle, err := parseRecord(record)
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("Skipping CSV record")
			continue
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

func parseRecord(record []string) (*backtest.Candlestick, error) {
	if len(record) < len(csvHeader) {
		return nil, fmt.Errorf("incomplete record with %d fields", len(record))
	}

	timestamp, err := parseTimestamp(record[0])
	if err != nil {
		return nil, err
	}

	var values [5]float64
	for i := range values {
		v, err := strconv.ParseFloat(record[i+2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", csvHeader[i+2], record[i+2])
		}
		values[i] = v
	}

	return &backtest.Candlestick{
		Timestamp: timestamp,
		Symbol:    record[1],
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

// LoadJSON loads candles from a JSON file holding either an array of
// candles or an object with a "candles" array
func LoadJSON(path string) ([]*backtest.Candlestick, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON file: %w", err)
	}

	candles, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("file", path).
		Int("candles", len(candles)).
		Msg("Loaded candles from JSON")

	return candles, nil
}

// ParseJSON decodes either candle layout
func ParseJSON(data []byte) ([]*backtest.Candlestick, error) {
	var candles []*backtest.Candlestick
	if err := json.Unmarshal(data, &candles); err == nil {
		return candles, nil
	}

	var wrapper struct {
		Candles []*backtest.Candlestick `json:"candles"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse candles (tried both array and object formats): %w", err)
	}
	return wrapper.Candles, nil
}
