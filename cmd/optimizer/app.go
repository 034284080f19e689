package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratopt/internal/api"
	"github.com/ajitpratap0/stratopt/internal/config"
	"github.com/ajitpratap0/stratopt/internal/db"
	"github.com/ajitpratap0/stratopt/internal/events"
	"github.com/ajitpratap0/stratopt/internal/marketdata"
	"github.com/ajitpratap0/stratopt/internal/metrics"
	"github.com/ajitpratap0/stratopt/pkg/emulation"
	"github.com/ajitpratap0/stratopt/pkg/optimizer"
	"github.com/ajitpratap0/stratopt/pkg/strategy"
)

// app holds every long-lived component of a run command
type app struct {
	cfg *config.Config

	database  *db.DB
	runs      *db.RunRepository
	redis     *redis.Client
	publisher *events.Publisher
	hub       *api.Hub

	source     marketdata.Source
	securities *strategy.MemorySecurityProvider
	optimizer  *optimizer.GeneticOptimizer

	metricsServer *metrics.Server
	updater       *metrics.Updater
	apiServer     *api.Server

	cancel context.CancelFunc
}

// newApp connects the optional backends and builds the optimizer
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if cfg.Database.Enabled {
		database, err := db.New(ctx, cfg.Database.GetDSN())
		if err != nil {
			return nil, err
		}
		a.database = database
		a.runs = db.NewRunRepository(database.Pool())
	}

	source, err := a.buildSource()
	if err != nil {
		return nil, err
	}
	a.source = source

	if cfg.NATS.Enabled {
		publisher, err := events.NewPublisher(events.Config{
			URL:    cfg.NATS.URL,
			Prefix: cfg.NATS.SubjectPrefix,
			Name:   cfg.App.Name,
		})
		if err != nil {
			return nil, err
		}
		a.publisher = publisher
	}

	engineConfig, err := cfg.Backtest.EngineConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid backtest configuration: %w", err)
	}
	query, err := cfg.Backtest.Query()
	if err != nil {
		return nil, fmt.Errorf("invalid backtest configuration: %w", err)
	}

	a.securities = strategy.NewMemorySecurityProvider()
	for _, symbol := range cfg.Backtest.Symbols {
		a.securities.Add(&strategy.Security{ID: symbol, Code: symbol, Board: cfg.Backtest.Exchange})
	}

	runner := emulation.NewBacktestRunner(engineConfig, query)
	a.optimizer = optimizer.NewGeneticOptimizer(runner, a.source, cfg.Optimizer, cfg.Emulation)

	if a.runs != nil {
		a.optimizer.AddObserver(a.runs)
	}
	if a.publisher != nil {
		a.optimizer.AddObserver(a.publisher)
		a.optimizer.OnStateChanged(a.publisher.StateChanged)
	}
	if cfg.API.Enabled {
		a.hub = api.NewHub()
		a.optimizer.AddObserver(a.hub)
		a.optimizer.OnStateChanged(a.hub.StateChanged)
	}

	ok = true
	return a, nil
}

// buildSource picks the candle source and puts the Redis cache in front of it
func (a *app) buildSource() (marketdata.Source, error) {
	var source marketdata.Source

	switch a.cfg.MarketData.Source {
	case "postgres":
		if a.database == nil {
			return nil, fmt.Errorf("marketdata source postgres requires database.enabled")
		}
		source = marketdata.NewPostgresSource(a.database.Pool())
	default:
		files, err := marketdata.NewFileSource(a.cfg.MarketData.Drive, a.cfg.MarketData.Format)
		if err != nil {
			return nil, err
		}
		source = files
	}

	if !a.cfg.MarketData.CacheEnabled {
		return source, nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.GetRedisAddr(),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	log.Info().
		Str("addr", a.cfg.Redis.GetRedisAddr()).
		Dur("ttl", a.cfg.MarketData.CacheTTL).
		Msg("Market data cache enabled")

	return marketdata.NewRedisCache(a.redis, source, a.cfg.MarketData.CacheTTL), nil
}

// serve starts the metrics server, the gauge sampler, the event hub and the API
func (a *app) serve(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.cfg.Monitoring.EnableMetrics {
		a.metricsServer = metrics.NewServer(a.cfg.Monitoring.PrometheusPort, log.Logger)
		if err := a.metricsServer.Start(); err != nil {
			return err
		}

		a.updater = metrics.NewUpdater(a.cfg.Monitoring.SampleInterval, a.sampleGauges)
		go a.updater.Start(ctx)
	}

	if a.cfg.API.Enabled {
		go a.hub.Run(ctx)

		serverConfig := api.Config{
			Host:           a.cfg.API.Host,
			Port:           a.cfg.API.Port,
			AllowedOrigins: a.cfg.API.AllowedOrigins,
			Optimizer:      a.optimizer,
			Hub:            a.hub,
			Health:         a.health,
		}
		if a.runs != nil {
			serverConfig.Runs = a.runs
		}
		a.apiServer = api.NewServer(serverConfig)

		go func() {
			if err := a.apiServer.Start(); err != nil {
				log.Error().Err(err).Msg("API server failed")
			}
		}()
	}

	return nil
}

// sampleGauges refreshes gauges that are not updated in place
func (a *app) sampleGauges() {
	if pool := a.optimizer.AdapterPool(); pool != nil {
		metrics.EvaluationsInFlight.Set(float64(pool.Borrowed()))
	}
}

// health reports the backends the run depends on
func (a *app) health(ctx context.Context) error {
	if a.database != nil {
		if err := a.database.Health(ctx); err != nil {
			return fmt.Errorf("database unavailable: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unavailable: %w", err)
		}
	}
	return nil
}

// close releases everything in reverse order of construction
func (a *app) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.apiServer != nil {
		if err := a.apiServer.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop API server")
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if a.database != nil {
		a.database.Close()
	}
}
