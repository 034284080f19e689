// Package events publishes optimizer progress to NATS.
//
// Subjects follow <prefix>.<run_id>.<kind> where kind is one of started,
// generation, terminated or state. State changes that happen before a run has
// an id (a new run starting or failing validation) use the run id "pending".
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratopt/internal/metrics"
	"github.com/ajitpratap0/stratopt/pkg/optimizer"
)

// Event kinds, the last subject token
const (
	KindStarted    = "started"
	KindGeneration = "generation"
	KindTerminated = "terminated"
	KindState      = "state"
)

const pendingRun = "pending"

// Config configures the publisher connection
type Config struct {
	URL    string
	Prefix string // Subject prefix (default: "optimizer")
	Name   string // Connection name shown by the server
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		URL:    nats.DefaultURL,
		Prefix: "optimizer",
		Name:   "stratopt",
	}
}

// StateEvent is published on every optimizer state transition
type StateEvent struct {
	RunID     string    `json:"run_id,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher implements optimizer.Observer over NATS
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	log    zerolog.Logger

	mu    sync.RWMutex
	runID string
}

var _ optimizer.Observer = (*Publisher)(nil)

// NewPublisher connects to NATS and returns a publisher owning the connection
func NewPublisher(config Config) (*Publisher, error) {
	if config.Name == "" {
		config.Name = "stratopt"
	}

	nc, err := nats.Connect(
		config.URL,
		nats.Name(config.Name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := NewPublisherWithConn(nc, config.Prefix)
	p.owned = true

	p.log.Info().
		Str("nats_url", config.URL).
		Str("prefix", p.prefix).
		Msg("Event publisher initialized")

	return p, nil
}

// NewPublisherWithConn publishes on an existing connection, which the caller keeps owning
func NewPublisherWithConn(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "optimizer"
	}
	return &Publisher{
		nc:     nc,
		prefix: prefix,
		log:    log.With().Str("component", "events").Logger(),
	}
}

// Subject returns the subject events of kind for runID are published on
func (p *Publisher) Subject(runID, kind string) string {
	if runID == "" {
		runID = pendingRun
	}
	return fmt.Sprintf("%s.%s.%s", p.prefix, runID, kind)
}

// RunStarted publishes the run description and binds state events to the run
func (p *Publisher) RunStarted(ctx context.Context, info optimizer.RunInfo) error {
	p.mu.Lock()
	p.runID = info.RunID
	p.mu.Unlock()

	return p.publish(ctx, info.RunID, KindStarted, info)
}

// GenerationCompleted publishes the generation's best fitness and parameters
func (p *Publisher) GenerationCompleted(ctx context.Context, event optimizer.GenerationEvent) error {
	return p.publish(ctx, event.RunID, KindGeneration, event)
}

// RunFinished publishes the run summary
func (p *Publisher) RunFinished(ctx context.Context, summary optimizer.RunSummary) error {
	return p.publish(ctx, summary.RunID, KindTerminated, summary)
}

// StateChanged is registered with BaseOptimizer.OnStateChanged
func (p *Publisher) StateChanged(from, to optimizer.RunState) {
	p.mu.Lock()
	if to == optimizer.StateStarting {
		p.runID = ""
	}
	runID := p.runID
	p.mu.Unlock()

	event := StateEvent{
		RunID:     runID,
		From:      from.String(),
		To:        to.String(),
		Timestamp: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.publish(ctx, runID, KindState, event); err != nil {
		p.log.Warn().Err(err).Str("to", event.To).Msg("Failed to publish state change")
	}
}

func (p *Publisher) publish(ctx context.Context, runID, kind string, payload interface{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !p.nc.IsConnected() {
		return fmt.Errorf("event publisher not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}

	subject := p.Subject(runID, kind)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", kind, err)
	}
	metrics.RecordEventPublished(kind)

	p.log.Debug().
		Str("subject", subject).
		Int("bytes", len(data)).
		Msg("Published event")

	return nil
}

// Close flushes pending events and closes an owned connection
func (p *Publisher) Close() error {
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		p.log.Warn().Err(err).Msg("Failed to flush events")
	}
	if p.owned {
		p.nc.Close()
	}
	return nil
}
