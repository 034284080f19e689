package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ajitpratap0/stratopt/internal/marketdata"
	"github.com/ajitpratap0/stratopt/pkg/backtest"
	"github.com/ajitpratap0/stratopt/pkg/genetic"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Has reports whether field failed validation
func (ve ValidationErrors) Has(field string) bool {
	for _, err := range ve {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateApp()...)
	errs = append(errs, c.validateOptimizer()...)
	errs = append(errs, c.validateEmulation()...)
	errs = append(errs, c.validateBacktest()...)
	errs = append(errs, c.validateMarketData()...)
	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateRedis()...)
	errs = append(errs, c.validateNATS()...)
	errs = append(errs, c.validateAPI()...)
	errs = append(errs, c.validateMonitoring()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func oneOf(value string, valid ...string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

func (c *Config) validateApp() ValidationErrors {
	var errs ValidationErrors

	if c.App.Name == "" {
		errs = append(errs, ValidationError{Field: "app.name", Message: "Application name is required"})
	}

	validEnvs := []string{"development", "staging", "production"}
	if !oneOf(c.App.Environment, validEnvs...) {
		errs = append(errs, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
		})
	}

	if !oneOf(strings.ToLower(c.App.LogLevel), "trace", "debug", "info", "warn", "error") {
		errs = append(errs, ValidationError{
			Field:   "app.log_level",
			Message: fmt.Sprintf("Invalid log level '%s' (trace, debug, info, warn, error)", c.App.LogLevel),
		})
	}

	if !oneOf(c.App.LogFormat, "json", "console") {
		errs = append(errs, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("Invalid log format '%s' (json or console)", c.App.LogFormat),
		})
	}

	return errs
}

func (c *Config) validateOptimizer() ValidationErrors {
	var errs ValidationErrors

	if err := c.Optimizer.Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "optimizer", Message: err.Error()})
	}

	operators := []struct {
		field string
		check func(string) error
		value string
	}{
		{"optimizer.selection", func(n string) error { _, err := genetic.NewSelection(n); return err }, c.Optimizer.Selection},
		{"optimizer.crossover", func(n string) error { _, err := genetic.NewCrossover(n); return err }, c.Optimizer.Crossover},
		{"optimizer.mutation", func(n string) error { _, err := genetic.NewMutation(n); return err }, c.Optimizer.Mutation},
		{"optimizer.reinsertion", func(n string) error { _, err := genetic.NewReinsertion(n); return err }, c.Optimizer.Reinsertion},
	}
	for _, op := range operators {
		if err := op.check(op.value); err != nil {
			errs = append(errs, ValidationError{Field: op.field, Message: err.Error()})
		}
	}

	return errs
}

func (c *Config) validateEmulation() ValidationErrors {
	var errs ValidationErrors

	if err := c.Emulation.Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "emulation", Message: err.Error()})
	}

	if b := c.Emulation.Breaker; b.Enabled {
		if b.FailureRatio <= 0 || b.FailureRatio > 1 {
			errs = append(errs, ValidationError{
				Field:   "emulation.breaker.failure_ratio",
				Message: fmt.Sprintf("Failure ratio must be within (0,1], got %v", b.FailureRatio),
			})
		}
		if b.OpenTimeout <= 0 {
			errs = append(errs, ValidationError{
				Field:   "emulation.breaker.open_timeout",
				Message: "Open timeout must be positive",
			})
		}
	}

	return errs
}

func (c *Config) validateBacktest() ValidationErrors {
	var errs ValidationErrors
	bt := c.Backtest

	if bt.InitialCapital <= 0 {
		errs = append(errs, ValidationError{Field: "backtest.initial_capital", Message: "Initial capital must be positive"})
	}
	if bt.CommissionRate < 0 || bt.CommissionRate >= 1 {
		errs = append(errs, ValidationError{
			Field:   "backtest.commission_rate",
			Message: fmt.Sprintf("Commission rate must be within [0,1), got %v", bt.CommissionRate),
		})
	}

	switch backtest.Sizing(bt.PositionSizing) {
	case backtest.SizingPercent:
		if bt.PositionSize <= 0 || bt.PositionSize > 1 {
			errs = append(errs, ValidationError{
				Field:   "backtest.position_size",
				Message: "Percent position size must be within (0,1]",
			})
		}
	case backtest.SizingFixed:
		if bt.PositionSize <= 0 {
			errs = append(errs, ValidationError{Field: "backtest.position_size", Message: "Position size must be positive"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "backtest.position_sizing",
			Message: fmt.Sprintf("Invalid position sizing '%s' (fixed or percent)", bt.PositionSizing),
		})
	}

	if bt.MaxPositions < 1 {
		errs = append(errs, ValidationError{Field: "backtest.max_positions", Message: "At least one position must be allowed"})
	}

	start, startErr := parseDate(bt.StartDate)
	if startErr != nil {
		errs = append(errs, ValidationError{Field: "backtest.start_date", Message: startErr.Error()})
	}
	end, endErr := parseDate(bt.EndDate)
	if endErr != nil {
		errs = append(errs, ValidationError{Field: "backtest.end_date", Message: endErr.Error()})
	}
	if startErr == nil && endErr == nil && !start.IsZero() && !end.IsZero() && !end.After(start) {
		errs = append(errs, ValidationError{Field: "backtest.end_date", Message: "End date must be after start date"})
	}

	if _, err := backtest.ObjectiveByName(bt.Objective); err != nil {
		errs = append(errs, ValidationError{Field: "backtest.objective", Message: err.Error()})
	}

	return errs
}

func (c *Config) validateMarketData() ValidationErrors {
	var errs ValidationErrors
	md := c.MarketData

	switch md.Source {
	case "file":
		if md.Drive == "" {
			errs = append(errs, ValidationError{Field: "marketdata.drive", Message: "Data drive is required for file source"})
		}
		if !oneOf(md.Format, marketdata.FormatCSV, marketdata.FormatJSON) {
			errs = append(errs, ValidationError{
				Field:   "marketdata.format",
				Message: fmt.Sprintf("Invalid storage format '%s' (csv or json)", md.Format),
			})
		}
	case "postgres":
		if !c.Database.Enabled {
			errs = append(errs, ValidationError{Field: "marketdata.source", Message: "Postgres source requires database.enabled"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "marketdata.source",
			Message: fmt.Sprintf("Invalid source '%s' (file or postgres)", md.Source),
		})
	}

	if md.CacheEnabled && md.CacheTTL <= 0 {
		errs = append(errs, ValidationError{Field: "marketdata.cache_ttl", Message: "Cache TTL must be positive"})
	}

	return errs
}

func (c *Config) validateDatabase() ValidationErrors {
	var errs ValidationErrors
	if !c.Database.Enabled {
		return errs
	}

	if c.Database.Host == "" {
		errs = append(errs, ValidationError{Field: "database.host", Message: "Database host is required"})
	}
	if !validPort(c.Database.Port) {
		errs = append(errs, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1 and 65535", c.Database.Port),
		})
	}
	if c.Database.Database == "" {
		errs = append(errs, ValidationError{Field: "database.database", Message: "Database name is required"})
	}
	if c.Database.PoolSize < 1 {
		errs = append(errs, ValidationError{Field: "database.pool_size", Message: "Pool size must be at least 1"})
	}
	if c.App.Environment == "production" && c.Database.SSLMode == "disable" {
		errs = append(errs, ValidationError{Field: "database.ssl_mode", Message: "SSL must be enabled in production"})
	}

	return errs
}

func (c *Config) validateRedis() ValidationErrors {
	var errs ValidationErrors
	if !c.MarketData.CacheEnabled {
		return errs
	}

	if c.Redis.Host == "" {
		errs = append(errs, ValidationError{Field: "redis.host", Message: "Redis host is required when the candle cache is enabled"})
	}
	if !validPort(c.Redis.Port) {
		errs = append(errs, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1 and 65535", c.Redis.Port),
		})
	}
	if c.Redis.DB < 0 {
		errs = append(errs, ValidationError{Field: "redis.db", Message: "Redis DB must not be negative"})
	}

	return errs
}

func (c *Config) validateNATS() ValidationErrors {
	var errs ValidationErrors
	if !c.NATS.Enabled {
		return errs
	}

	if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		errs = append(errs, ValidationError{
			Field:   "nats.url",
			Message: fmt.Sprintf("Invalid NATS URL '%s' (must start with nats:// or tls://)", c.NATS.URL),
		})
	}
	if c.NATS.SubjectPrefix == "" || strings.ContainsAny(c.NATS.SubjectPrefix, " *>") {
		errs = append(errs, ValidationError{
			Field:   "nats.subject_prefix",
			Message: fmt.Sprintf("Invalid subject prefix '%s'", c.NATS.SubjectPrefix),
		})
	}

	return errs
}

func (c *Config) validateAPI() ValidationErrors {
	var errs ValidationErrors
	if !c.API.Enabled {
		return errs
	}

	if !validPort(c.API.Port) {
		errs = append(errs, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1 and 65535", c.API.Port),
		})
	}
	return errs
}

func (c *Config) validateMonitoring() ValidationErrors {
	var errs ValidationErrors
	if !c.Monitoring.EnableMetrics {
		return errs
	}

	if !validPort(c.Monitoring.PrometheusPort) {
		errs = append(errs, ValidationError{
			Field:   "monitoring.prometheus_port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1 and 65535", c.Monitoring.PrometheusPort),
		})
	}
	if c.API.Enabled && c.API.Port == c.Monitoring.PrometheusPort {
		errs = append(errs, ValidationError{
			Field:   "monitoring.prometheus_port",
			Message: "Metrics port conflicts with api.port",
		})
	}
	if c.Monitoring.SampleInterval <= 0 {
		errs = append(errs, ValidationError{Field: "monitoring.sample_interval", Message: "Sample interval must be positive"})
	}
	return errs
}

// AsValidationErrors extracts ValidationErrors from err
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
