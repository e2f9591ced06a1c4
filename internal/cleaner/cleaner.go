// Package cleaner runs the long-lived aligned-tick loop that periodically
// purges finished tasks from the scheduler, per spec section 4.4.
package cleaner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/radio-aktywne/mantis/internal/store"
)

// Scheduler is the subset of scheduling.Scheduler the cleaner needs.
type Scheduler interface {
	Clean(strategyType string, parameters json.RawMessage) (store.UUIDSet, error)
}

// Config controls the cleaner's alignment.
type Config struct {
	// Reference is the alignment epoch R in "next = R + ceil((t-R)/I)*I".
	Reference time.Time
	// Interval is I. Zero disables the loop (Run returns immediately).
	Interval time.Duration
}

// Cleaner periodically invokes Clean("all", {}) on an aligned cadence.
type Cleaner struct {
	scheduler Scheduler
	config    Config
	log       zerolog.Logger
}

// New builds a Cleaner.
func New(scheduler Scheduler, config Config, log zerolog.Logger) *Cleaner {
	return &Cleaner{scheduler: scheduler, config: config, log: log.With().Str("component", "cleaner").Logger()}
}

// Run blocks, sleeping between aligned ticks, until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.config.Interval <= 0 {
		c.log.Warn().Msg("cleaner interval not configured, loop disabled")
		return
	}

	for {
		target := NextAligned(c.config.Reference, time.Now(), c.config.Interval)
		d := time.Until(target)
		if d < 0 {
			d = 0
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		removed, err := c.scheduler.Clean("all", json.RawMessage(`{}`))
		if err != nil {
			c.log.Error().Err(err).Msg("clean tick failed")
			continue
		}
		if len(removed) > 0 {
			c.log.Info().Int("removed", len(removed)).Msg("clean tick removed finished tasks")
		}
	}
}

// NextAligned computes the first tick at or after now, aligned to
// reference with the given interval: R + ceil((t-R)/I) * I. When now is
// itself aligned, now is returned.
func NextAligned(reference, now time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return now
	}
	elapsed := now.Sub(reference)
	ticks := elapsed / interval
	if elapsed > 0 && elapsed%interval != 0 {
		ticks++
	}
	return reference.Add(ticks * interval)
}
