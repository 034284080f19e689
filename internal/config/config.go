package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/stratopt/internal/marketdata"
	"github.com/ajitpratap0/stratopt/pkg/backtest"
	"github.com/ajitpratap0/stratopt/pkg/optimizer"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig                   `mapstructure:"app"`
	Optimizer  optimizer.Settings          `mapstructure:"optimizer"`
	Emulation  optimizer.EmulationSettings `mapstructure:"emulation"`
	Backtest   BacktestConfig              `mapstructure:"backtest"`
	MarketData MarketDataConfig            `mapstructure:"marketdata"`
	Database   DatabaseConfig              `mapstructure:"database"`
	Redis      RedisConfig                 `mapstructure:"redis"`
	NATS       NATSConfig                  `mapstructure:"nats"`
	API        APIConfig                   `mapstructure:"api"`
	Monitoring MonitoringConfig            `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // json or console
}

// BacktestConfig configures the engine every strategy run is replayed on
type BacktestConfig struct {
	InitialCapital float64  `mapstructure:"initial_capital"`
	CommissionRate float64  `mapstructure:"commission_rate"`
	PositionSizing string   `mapstructure:"position_sizing"` // fixed or percent
	PositionSize   float64  `mapstructure:"position_size"`
	MaxPositions   int      `mapstructure:"max_positions"`
	Symbols        []string `mapstructure:"symbols"`
	Exchange       string   `mapstructure:"exchange"`
	Interval       string   `mapstructure:"interval"`
	StartDate      string   `mapstructure:"start_date"` // 2006-01-02 or RFC3339
	EndDate        string   `mapstructure:"end_date"`
	Objective      string   `mapstructure:"objective"` // sharpe, sortino, total-return, ...
}

// MarketDataConfig selects where candles come from
type MarketDataConfig struct {
	Source       string        `mapstructure:"source"` // file or postgres
	Drive        string        `mapstructure:"drive"`
	Format       string        `mapstructure:"format"` // csv or json
	CacheEnabled bool          `mapstructure:"cache_enabled"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// APIConfig contains the control API settings
type APIConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int           `mapstructure:"prometheus_port"`
	EnableMetrics  bool          `mapstructure:"enable_metrics"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// STRATOPT_OPTIMIZER_POPULATION_SIZE overrides optimizer.population_size
	v.SetEnvPrefix("STRATOPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stratopt")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	opt := optimizer.DefaultSettings()
	v.SetDefault("optimizer.population_size", opt.PopulationSize)
	v.SetDefault("optimizer.population_size_max", opt.PopulationSizeMax)
	v.SetDefault("optimizer.mutation_probability", opt.MutationProbability)
	v.SetDefault("optimizer.crossover_probability", opt.CrossoverProbability)
	v.SetDefault("optimizer.stagnation_generations", opt.StagnationGenerations)
	v.SetDefault("optimizer.selection", opt.Selection)
	v.SetDefault("optimizer.crossover", opt.Crossover)
	v.SetDefault("optimizer.mutation", opt.Mutation)
	v.SetDefault("optimizer.reinsertion", opt.Reinsertion)
	v.SetDefault("optimizer.seed", 0)

	emu := optimizer.DefaultEmulationSettings()
	v.SetDefault("emulation.batch_size", emu.BatchSize)
	v.SetDefault("emulation.adapter_caches", 0)
	v.SetDefault("emulation.storage_caches", 0)
	v.SetDefault("emulation.runs_per_second", 0.0)
	v.SetDefault("emulation.evaluation_timeout", "0s")
	v.SetDefault("emulation.failure_policy", string(emu.FailurePolicy))
	v.SetDefault("emulation.breaker.enabled", emu.Breaker.Enabled)
	v.SetDefault("emulation.breaker.min_requests", emu.Breaker.MinRequests)
	v.SetDefault("emulation.breaker.failure_ratio", emu.Breaker.FailureRatio)
	v.SetDefault("emulation.breaker.open_timeout", emu.Breaker.OpenTimeout)
	v.SetDefault("emulation.breaker.half_open_max_requests", emu.Breaker.HalfOpenMaxReqs)
	v.SetDefault("emulation.breaker.count_interval", emu.Breaker.CountInterval)

	bt := backtest.DefaultConfig()
	v.SetDefault("backtest.initial_capital", bt.InitialCapital)
	v.SetDefault("backtest.commission_rate", bt.CommissionRate)
	v.SetDefault("backtest.position_sizing", string(bt.PositionSizing))
	v.SetDefault("backtest.position_size", bt.PositionSize)
	v.SetDefault("backtest.max_positions", bt.MaxPositions)
	v.SetDefault("backtest.symbols", []string{})
	v.SetDefault("backtest.exchange", "binance")
	v.SetDefault("backtest.interval", "1h")
	v.SetDefault("backtest.start_date", "")
	v.SetDefault("backtest.end_date", "")
	v.SetDefault("backtest.objective", "sharpe")

	v.SetDefault("marketdata.source", "file")
	v.SetDefault("marketdata.drive", "./data")
	v.SetDefault("marketdata.format", marketdata.FormatCSV)
	v.SetDefault("marketdata.cache_enabled", false)
	v.SetDefault("marketdata.cache_ttl", time.Hour)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "stratopt")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "optimizer")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8090)
	v.SetDefault("api.allowed_origins", []string{"*"})

	v.SetDefault("monitoring.prometheus_port", 9101)
	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.sample_interval", 5*time.Second)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s pool_max_conns=%d", c.GetConnString(), c.PoolSize)
}

// GetConnString returns the plain libpq connection string, without pool settings
func (c *DatabaseConfig) GetConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, quoteConnValue(c.Password), c.Database, c.SSLMode,
	)
}

// quoteConnValue quotes a keyword/value connection string value, so empty
// passwords and passwords with spaces survive parsing
func quoteConnValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EngineConfig converts the backtest section into an engine configuration
func (c *BacktestConfig) EngineConfig() (backtest.Config, error) {
	start, err := parseDate(c.StartDate)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("invalid backtest.start_date: %w", err)
	}
	end, err := parseDate(c.EndDate)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("invalid backtest.end_date: %w", err)
	}

	return backtest.Config{
		InitialCapital: c.InitialCapital,
		CommissionRate: c.CommissionRate,
		PositionSizing: backtest.Sizing(c.PositionSizing),
		PositionSize:   c.PositionSize,
		MaxPositions:   c.MaxPositions,
		StartDate:      start,
		EndDate:        end,
		Symbols:        c.Symbols,
	}, nil
}

// Query is the candle query template for strategy runs; the symbol is filled per run
func (c *BacktestConfig) Query() (marketdata.Query, error) {
	engine, err := c.EngineConfig()
	if err != nil {
		return marketdata.Query{}, err
	}
	return marketdata.Query{
		Exchange: c.Exchange,
		Interval: c.Interval,
		Start:    engine.StartDate,
		End:      engine.EndDate,
	}, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
