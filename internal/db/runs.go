package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratopt/pkg/genetic"
	"github.com/ajitpratap0/stratopt/pkg/optimizer"
)

// Run statuses stored in optimization_runs.status
const (
	RunStatusRunning = "running"
)

// ErrRunNotFound is returned when a run id has no row
var ErrRunNotFound = errors.New("optimization run not found")

// RunRecord is a row of optimization_runs
type RunRecord struct {
	ID             string                 `json:"id"`
	Strategy       string                 `json:"strategy"`
	Settings       optimizer.Settings     `json:"settings"`
	Iterations     int                    `json:"iterations"`
	Status         string                 `json:"status"`
	Generations    int                    `json:"generations"`
	BestFitness    *float64               `json:"best_fitness,omitempty"`
	BestParameters map[string]interface{} `json:"best_parameters,omitempty"`
	Error          string                 `json:"error,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

// GenerationRecord is a row of optimization_generations
type GenerationRecord struct {
	RunID          string                 `json:"run_id"`
	Generation     int                    `json:"generation"`
	BestFitness    *float64               `json:"best_fitness,omitempty"`
	BestParameters map[string]interface{} `json:"best_parameters,omitempty"`
	Evaluated      int                    `json:"evaluated"`
	CreatedAt      time.Time              `json:"created_at"`
}

// RunRepository records optimizer runs. It is registered as an optimizer.Observer.
type RunRepository struct {
	pool PoolInterface
	log  zerolog.Logger
}

var _ optimizer.Observer = (*RunRepository)(nil)

// NewRunRepository creates a run repository
func NewRunRepository(pool PoolInterface) *RunRepository {
	return &RunRepository{
		pool: pool,
		log:  log.With().Str("component", "run_repository").Logger(),
	}
}

// fitnessValue maps the "never evaluated" sentinel and non-finite scores to NULL
func fitnessValue(f float64) *float64 {
	if f <= genetic.MinFitness || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func marshalParams(params map[string]interface{}) ([]byte, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameters: %w", err)
	}
	return data, nil
}

func unmarshalParams(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
	}
	return params, nil
}

// ============================================================================
// OBSERVER
// ============================================================================

// RunStarted inserts the run row
func (r *RunRepository) RunStarted(ctx context.Context, info optimizer.RunInfo) error {
	if _, err := uuid.Parse(info.RunID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", info.RunID, err)
	}

	settings, err := json.Marshal(info.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	started := time.Now()
	defer observe("insert_run", started)

	query := `
		INSERT INTO optimization_runs (id, strategy, settings, iterations, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		info.RunID,
		info.Strategy,
		settings,
		info.Iterations,
		RunStatusRunning,
		info.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert optimization run: %w", err)
	}

	r.log.Debug().Str("run_id", info.RunID).Str("strategy", info.Strategy).Msg("Recorded optimization run")
	return nil
}

// GenerationCompleted appends the generation and refreshes the run's best result
func (r *RunRepository) GenerationCompleted(ctx context.Context, event optimizer.GenerationEvent) error {
	params, err := marshalParams(event.BestParameters)
	if err != nil {
		return err
	}
	fitness := fitnessValue(event.BestFitness)

	started := time.Now()
	defer observe("insert_generation", started)

	_, err = r.pool.Exec(ctx, `
		INSERT INTO optimization_generations (run_id, generation, best_fitness, best_parameters, evaluated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		event.RunID,
		event.Generation,
		fitness,
		params,
		event.Evaluated,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation %d: %w", event.Generation, err)
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE optimization_runs
		SET generations = $2, best_fitness = $3, best_parameters = $4
		WHERE id = $1
	`,
		event.RunID,
		event.Generation,
		fitness,
		params,
	)
	if err != nil {
		return fmt.Errorf("failed to update optimization run: %w", err)
	}

	return nil
}

// RunFinished stores the outcome and final best result
func (r *RunRepository) RunFinished(ctx context.Context, summary optimizer.RunSummary) error {
	params, err := marshalParams(summary.BestParameters)
	if err != nil {
		return err
	}

	var errText *string
	if summary.Error != "" {
		errText = &summary.Error
	}

	started := time.Now()
	defer observe("finish_run", started)

	tag, err := r.pool.Exec(ctx, `
		UPDATE optimization_runs
		SET status = $2, generations = $3, best_fitness = $4, best_parameters = $5,
		    error = $6, completed_at = $7
		WHERE id = $1
	`,
		summary.RunID,
		summary.Outcome,
		summary.Generations,
		fitnessValue(summary.BestFitness),
		params,
		errText,
		summary.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish optimization run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, summary.RunID)
	}

	r.log.Info().
		Str("run_id", summary.RunID).
		Str("outcome", summary.Outcome).
		Int("generations", summary.Generations).
		Msg("Optimization run recorded")
	return nil
}

// ============================================================================
// QUERIES
// ============================================================================

const runColumns = `id::text, strategy, settings, iterations, status, generations,
	best_fitness, best_parameters, COALESCE(error, ''), started_at, completed_at`

func scanRun(row pgx.Row) (*RunRecord, error) {
	var (
		rec      RunRecord
		settings []byte
		params   []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.Strategy,
		&settings,
		&rec.Iterations,
		&rec.Status,
		&rec.Generations,
		&rec.BestFitness,
		&params,
		&rec.Error,
		&rec.StartedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &rec.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	if rec.BestParameters, err = unmarshalParams(params); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetRun returns a single run
func (r *RunRepository) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	started := time.Now()
	defer observe("get_run", started)

	rec, err := scanRun(r.pool.QueryRow(ctx,
		"SELECT "+runColumns+" FROM optimization_runs WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get optimization run: %w", err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs first
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	started := time.Now()
	defer observe("list_runs", started)

	rows, err := r.pool.Query(ctx,
		"SELECT "+runColumns+" FROM optimization_runs ORDER BY started_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list optimization runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan optimization run: %w", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating optimization runs: %w", err)
	}
	return runs, nil
}

// ListGenerations returns a run's generations in order
func (r *RunRepository) ListGenerations(ctx context.Context, runID string) ([]*GenerationRecord, error) {
	started := time.Now()
	defer observe("list_generations", started)

	rows, err := r.pool.Query(ctx, `
		SELECT run_id::text, generation, best_fitness, best_parameters, evaluated, created_at
		FROM optimization_generations
		WHERE run_id = $1
		ORDER BY generation ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	var generations []*GenerationRecord
	for rows.Next() {
		var (
			rec    GenerationRecord
			params []byte
		)
		if err := rows.Scan(&rec.RunID, &rec.Generation, &rec.BestFitness, &params, &rec.Evaluated, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		if rec.BestParameters, err = unmarshalParams(params); err != nil {
			return nil, err
		}
		generations = append(generations, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generations: %w", err)
	}
	return generations, nil
}
