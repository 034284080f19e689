package optimizer

import (
	"context"
	"time"
)

// Run outcomes reported in RunSummary
const (
	OutcomeTerminated = "terminated"
	OutcomeStopped    = "stopped"
	OutcomeFailed     = "failed"
)

// RunInfo describes a run that has just started
type RunInfo struct {
	RunID      string    `json:"run_id"`
	Strategy   string    `json:"strategy"`
	Iterations int       `json:"iterations"`
	Settings   Settings  `json:"settings"`
	StartedAt  time.Time `json:"started_at"`
}

// GenerationEvent is emitted after every evaluated generation
type GenerationEvent struct {
	RunID          string                 `json:"run_id"`
	Strategy       string                 `json:"strategy"`
	Generation     int                    `json:"generation"`
	Evaluated      int                    `json:"evaluated"`
	BestFitness    float64                `json:"best_fitness"`
	BestParameters map[string]interface{} `json:"best_parameters"`
	TimeEvolving   time.Duration          `json:"time_evolving"`
	Timestamp      time.Time              `json:"timestamp"`
}

// RunSummary is emitted once when a run reaches Stopped
type RunSummary struct {
	RunID          string                 `json:"run_id"`
	Strategy       string                 `json:"strategy"`
	Outcome        string                 `json:"outcome"`
	Generations    int                    `json:"generations"`
	BestFitness    float64                `json:"best_fitness"`
	BestParameters map[string]interface{} `json:"best_parameters"`
	Error          string                 `json:"error,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
}

// Observer receives run progress. Errors are logged and never affect the run.
type Observer interface {
	RunStarted(ctx context.Context, info RunInfo) error
	GenerationCompleted(ctx context.Context, event GenerationEvent) error
	RunFinished(ctx context.Context, summary RunSummary) error
}
