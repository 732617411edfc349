package playback

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunequeue/internal/app/engine"
)

// DefaultPollInterval is how often PollMonitor samples the engine.
const DefaultPollInterval = 500 * time.Millisecond

// Probe reads the engine status.
type Probe func(ctx context.Context) (engine.Status, error)

// Monitor drives the status loop of the loaded resource.
type Monitor interface {
	// Watch calls fn with fresh status until fn returns false, the probe
	// fails, ctx ends or stop is called. It must not call fn before
	// returning. stop never waits for the loop to exit.
	Watch(ctx context.Context, probe Probe, fn func(engine.Status) bool) (stop func())
}

// PollMonitor samples the engine on a fixed interval.
type PollMonitor struct {
	Interval time.Duration
}

// Watch implements Monitor.
func (m PollMonitor) Watch(ctx context.Context, probe Probe, fn func(engine.Status) bool) func() {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st, err := probe(ctx)
				if err != nil {
					if ctx.Err() == nil {
						zlog.Warn().Err(err).Msg("playback: status poll failed, stopping monitor")
					}
					return
				}
				if ctx.Err() != nil || !fn(st) {
					return
				}
			}
		}
	}()
	return cancel
}
