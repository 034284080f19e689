package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/stratopt/internal/config"
	"github.com/ajitpratap0/stratopt/pkg/backtest"
	"github.com/ajitpratap0/stratopt/pkg/genetic"
	"github.com/ajitpratap0/stratopt/pkg/optimizer"
	"github.com/ajitpratap0/stratopt/pkg/strategy"
)

var (
	strategyName       string
	paramsPath         string
	iterations         int
	seed               int64
	outPath            string
	verifyConnectivity bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a parameter optimization",
	Long: `Loads the parameter search space from --params, evolves the strategy's
parameters until the iteration budget is spent or the best fitness stagnates,
and prints the best parameters found. SIGINT/SIGTERM stop the run early.`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&strategyName, "strategy", strategy.EMACrossoverName, "Registered strategy to optimize")
	runCmd.Flags().StringVar(&paramsPath, "params", "", "Parameter search space file, YAML or JSON (required)")
	runCmd.Flags().IntVar(&iterations, "iterations", 50, "Maximum number of generations")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed, overrides optimizer.seed")
	runCmd.Flags().StringVar(&outPath, "out", "", "Also write the result as JSON to this file")
	runCmd.Flags().BoolVar(&verifyConnectivity, "verify-connectivity", true, "Check database, Redis and NATS before starting")

	_ = runCmd.MarkFlagRequired("params")
	rootCmd.AddCommand(runCmd)
}

// Result is printed when the run ends
type Result struct {
	RunID          string                 `json:"run_id"`
	Strategy       string                 `json:"strategy"`
	Generations    int                    `json:"generations"`
	BestFitness    *float64               `json:"best_fitness,omitempty"`
	BestParameters map[string]interface{} `json:"best_parameters,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Duration       string                 `json:"duration"`
}

func runOptimization(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("seed") {
		cfg.Optimizer.Seed = seed
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validator := config.NewValidator(cfg, config.ValidatorOptions{
		VerifyConnectivity: verifyConnectivity,
		Timeout:            5 * time.Second,
	})
	if err := validator.ValidateStartup(ctx); err != nil {
		return err
	}

	template, err := strategy.New(strategyName)
	if err != nil {
		return err
	}

	objective, err := backtest.ObjectiveByName(cfg.Backtest.Objective)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	specs, err := optimizer.LoadParameterSpecs(paramsPath, template, a.securities)
	if err != nil {
		return err
	}

	if err := a.serve(ctx); err != nil {
		return err
	}

	started := time.Now()
	if err := a.optimizer.Start(ctx, template, specs, iterations, optimizer.ObjectiveFitness(objective)); err != nil {
		return fmt.Errorf("failed to start optimization: %w", err)
	}

	runLog := config.NewRunLogger(a.optimizer.RunID(), template.Name())
	runLog.Info().
		Int("iterations", iterations).
		Int("parameters", len(specs)).
		Str("objective", cfg.Backtest.Objective).
		Str("emulation", cfg.Emulation.String()).
		Msg("Optimization started")

	go func() {
		<-ctx.Done()
		if a.optimizer.State() == optimizer.StateStopped {
			return
		}
		runLog.Info().Msg("Shutdown signal received, stopping optimization")
		if err := a.optimizer.Stop(); err != nil && !errors.Is(err, optimizer.ErrNotRunning) {
			runLog.Warn().Err(err).Msg("Failed to stop optimization")
		}
	}()

	runErr := a.optimizer.Wait(context.Background())

	result := Result{
		RunID:       a.optimizer.RunID(),
		Strategy:    template.Name(),
		Generations: a.optimizer.Generation(),
		Duration:    time.Since(started).Round(time.Millisecond).String(),
	}
	if params, fitness, ok := a.optimizer.Best(); ok && fitness > genetic.MinFitness {
		result.BestFitness = &fitness
		result.BestParameters = params
	}
	if runErr != nil {
		result.Error = runErr.Error()
		runLog.Error().Err(runErr).Msg("Optimization failed")
	} else {
		runLog.Info().Int("generations", result.Generations).Msg("Optimization finished")
	}

	if err := writeResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		if err := writeResult(f, result); err != nil {
			return err
		}
		log.Info().Str("path", outPath).Msg("Result written")
	}

	return runErr
}

func writeResult(w io.Writer, result Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
