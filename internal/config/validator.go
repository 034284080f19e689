package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ValidatorOptions contains options for startup validation
type ValidatorOptions struct {
	VerifyConnectivity bool // Check database/Redis/NATS connectivity
	Timeout            time.Duration
}

// DefaultValidatorOptions returns default validator options for startup
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		VerifyConnectivity: true,
		Timeout:            5 * time.Second,
	}
}

// Validator checks that the services a configuration enables are reachable
type Validator struct {
	config  *Config
	options ValidatorOptions
}

// NewValidator creates a new startup validator
func NewValidator(config *Config, options ValidatorOptions) *Validator {
	return &Validator{
		config:  config,
		options: options,
	}
}

// ValidateStartup runs before any service is started. Only enabled
// integrations are checked.
func (v *Validator) ValidateStartup(ctx context.Context) error {
	log.Info().Msg("Validating configuration...")

	if err := v.config.Validate(); err != nil {
		return err
	}

	if err := v.validateDataDrive(); err != nil {
		return fmt.Errorf("market data validation failed: %w", err)
	}

	if v.options.VerifyConnectivity {
		if v.config.Database.Enabled {
			if err := v.checkDatabaseConnectivity(ctx); err != nil {
				return fmt.Errorf("database connectivity check failed: %w", err)
			}
		}
		if v.config.MarketData.CacheEnabled {
			if err := v.checkRedisConnectivity(ctx); err != nil {
				return fmt.Errorf("redis connectivity check failed: %w", err)
			}
		}
		if v.config.NATS.Enabled {
			if err := v.checkNATSConnectivity(); err != nil {
				return fmt.Errorf("nats connectivity check failed: %w", err)
			}
		}
	}

	log.Info().Msg("Configuration validation completed successfully")
	return nil
}

// validateDataDrive checks the file drive exists when candles come from files
func (v *Validator) validateDataDrive() error {
	if v.config.MarketData.Source != "file" {
		return nil
	}

	info, err := os.Stat(v.config.MarketData.Drive)
	if err != nil {
		return fmt.Errorf("data drive %s is not accessible: %w", v.config.MarketData.Drive, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data drive %s is not a directory", v.config.MarketData.Drive)
	}
	return nil
}

// checkDatabaseConnectivity tests database connection with timeout
func (v *Validator) checkDatabaseConnectivity(ctx context.Context) error {
	log.Info().Msg("Checking database connectivity...")

	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	connString := v.config.Database.GetDSN()
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		connString = dbURL
	}

	pool, err := pgxpool.New(connCtx, connString)
	if err != nil {
		return fmt.Errorf("failed to create database connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(connCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	var dbName string
	if err := pool.QueryRow(connCtx, "SELECT current_database()").Scan(&dbName); err != nil {
		return fmt.Errorf("failed to verify database: %w", err)
	}

	log.Info().
		Str("database", dbName).
		Str("host", v.config.Database.Host).
		Int("port", v.config.Database.Port).
		Msg("Database connectivity check passed")

	return nil
}

// checkRedisConnectivity tests Redis connection with timeout
func (v *Validator) checkRedisConnectivity(ctx context.Context) error {
	log.Info().Msg("Checking Redis connectivity...")

	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     v.config.Redis.GetRedisAddr(),
		Password: v.config.Redis.Password,
		DB:       v.config.Redis.DB,
	})
	defer client.Close()

	if err := client.Ping(connCtx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().
		Str("addr", v.config.Redis.GetRedisAddr()).
		Int("db", v.config.Redis.DB).
		Msg("Redis connectivity check passed")

	return nil
}

// checkNATSConnectivity connects and flushes once
func (v *Validator) checkNATSConnectivity() error {
	log.Info().Msg("Checking NATS connectivity...")

	nc, err := nats.Connect(v.config.NATS.URL, nats.Timeout(v.options.Timeout), nats.NoReconnect())
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	if err := nc.FlushTimeout(v.options.Timeout); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}

	log.Info().Str("url", v.config.NATS.URL).Msg("NATS connectivity check passed")
	return nil
}
