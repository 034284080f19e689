package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Updater periodically runs sample functions that refresh gauges from live state
type Updater struct {
	interval time.Duration
	samplers []func()
	stopCh   chan struct{}
}

// NewUpdater creates an updater running samplers every interval
func NewUpdater(interval time.Duration, samplers ...func()) *Updater {
	return &Updater{
		interval: interval,
		samplers: samplers,
		stopCh:   make(chan struct{}),
	}
}

// Start blocks, sampling immediately and then on every tick until Stop or ctx is done
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.update()

	for {
		select {
		case <-ticker.C:
			u.update()
		case <-u.stopCh:
			log.Debug().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the update loop
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) update() {
	for _, sample := range u.samplers {
		sample()
	}
}
