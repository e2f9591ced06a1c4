// Package synchronizer runs the long-lived aligned-tick loop that
// reconciles the scheduler's "stream" tasks against the calendar service's
// upcoming schedule, per spec section 4.6.
package synchronizer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/radio-aktywne/mantis/internal/metrics"
	"github.com/radio-aktywne/mantis/internal/scheduling"
	"github.com/radio-aktywne/mantis/internal/services/calendar"
	"github.com/radio-aktywne/mantis/internal/store"
)

const naiveLocalLayout = "2006-01-02T15:04:05.999999"

// streamParameters mirrors stream.Parameters without importing the
// operations/stream package, avoiding a dependency cycle (stream doesn't
// need to know about the synchronizer, but would if this package imported
// it for its exported Parameters type alone).
type streamParameters struct {
	ID    uuid.UUID `json:"id"`
	Start string    `json:"start"`
}

// Scheduler is the subset of scheduling.Scheduler the synchronizer needs.
type Scheduler interface {
	Schedule(operation, condition store.Spec, dependencies map[string]uuid.UUID) (store.PendingRecord, error)
	Cancel(id uuid.UUID) (store.CancelledRecord, error)
	ListByOperation(opType string, statuses ...store.Status) []scheduling.TaskStatus
}

// Calendar is the subset of calendar.Client the synchronizer needs.
type Calendar interface {
	GetEvent(ctx context.Context, id uuid.UUID) (calendar.Event, error)
	ListAllSchedule(ctx context.Context, start, end time.Time, where string) ([]calendar.Schedule, error)
}

// Config controls the synchronizer's alignment and reconciliation window.
type Config struct {
	Reference time.Time
	Interval  time.Duration
	Window    time.Duration
	// Preroll is how far before an instance's start the generated "at"
	// condition fires. Spec leaves this a hard-coded constant; zero means
	// the documented default of 15 minutes.
	Preroll time.Duration
	// Concurrency bounds how many calendar lookups run at once while
	// classifying existing tasks. Zero means 8.
	Concurrency int
}

// Synchronizer reconciles the scheduler's stream tasks against the
// calendar on an aligned cadence.
type Synchronizer struct {
	scheduler Scheduler
	calendar  Calendar
	config    Config
	log       zerolog.Logger
}

// New builds a Synchronizer.
func New(scheduler Scheduler, cal Calendar, config Config, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{scheduler: scheduler, calendar: cal, config: config, log: log.With().Str("component", "synchronizer").Logger()}
}

// Run blocks, sleeping between aligned ticks, until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) {
	if s.config.Interval <= 0 {
		s.log.Warn().Msg("synchronizer interval not configured, loop disabled")
		return
	}

	for {
		target := nextAligned(s.config.Reference, time.Now(), s.config.Interval)
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

		start := time.Now().UTC()
		timerStart := time.Now()
		if err := s.tick(ctx, start, start.Add(s.window())); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("synchronizer tick failed, continuing")
		}
		metrics.SynchronizerTickDuration.Observe(time.Since(timerStart).Seconds())
	}
}

func (s *Synchronizer) window() time.Duration {
	if s.config.Window <= 0 {
		return time.Hour
	}
	return s.config.Window
}

func (s *Synchronizer) preroll() time.Duration {
	if s.config.Preroll <= 0 {
		return 15 * time.Minute
	}
	return s.config.Preroll
}

func (s *Synchronizer) concurrency() int {
	if s.config.Concurrency <= 0 {
		return 8
	}
	return s.config.Concurrency
}

// scheduledInstance pairs a reconciled calendar instance with its owning
// event, flattened out of the page of Schedule entries.
type scheduledInstance struct {
	event    calendar.Event
	instance calendar.EventInstance
}

// classified is a scheduler-side stream task alongside the decision the
// tick reached about it.
type classified struct {
	id      uuid.UUID
	event   uuid.UUID
	startAt time.Time
	valid   bool
}

// tick implements spec section 4.6's per-tick algorithm.
func (s *Synchronizer) tick(ctx context.Context, windowStart, windowEnd time.Time) error {
	schedules, err := s.calendar.ListAllSchedule(ctx, windowStart, windowEnd, "type=replay,prerecorded")
	if err != nil {
		return fmt.Errorf("listing calendar schedule: %w", err)
	}

	var reconciled []scheduledInstance
	for _, sched := range schedules {
		for _, inst := range sched.Instances {
			if !inst.Start.UTC().Before(windowStart) && inst.Start.UTC().Before(windowEnd) {
				reconciled = append(reconciled, scheduledInstance{event: sched.Event, instance: inst})
			}
		}
	}

	tasks := s.scheduler.ListByOperation("stream", store.StatusPending, store.StatusRunning)
	classifications := make([]classified, len(tasks))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency())
	for i, task := range tasks {
		i, task := i, task
		group.Go(func() error {
			classifications[i] = s.classify(gctx, task, windowStart, windowEnd)
			return nil
		})
	}
	_ = group.Wait()

	var cancelled, added int

	for _, c := range classifications {
		if !c.valid {
			if _, err := s.scheduler.Cancel(c.id); err == nil {
				cancelled++
			}
			continue
		}
		if !coveredBy(reconciled, c.event, c.startAt) {
			if _, err := s.scheduler.Cancel(c.id); err == nil {
				cancelled++
			}
		}
	}

	for _, ri := range reconciled {
		if coveredByTasks(classifications, ri.event.ID, ri.instance.Start.UTC()) {
			continue
		}
		loc, err := time.LoadLocation(ri.event.Timezone)
		if err != nil {
			continue
		}
		localStart := ri.instance.Start.UTC().In(loc).Format(naiveLocalLayout)

		params, err := json.Marshal(streamParameters{ID: ri.event.ID, Start: localStart})
		if err != nil {
			continue
		}
		condition, err := json.Marshal(map[string]any{"datetime": store.NewNaiveTime(ri.instance.Start.Add(-s.preroll()))})
		if err != nil {
			continue
		}

		_, err = s.scheduler.Schedule(
			store.Spec{Type: "stream", Parameters: params},
			store.Spec{Type: "at", Parameters: condition},
			nil,
		)
		if err == nil {
			added++
		}
	}

	if cancelled > 0 {
		metrics.SynchronizerTasksCancelled.Add(float64(cancelled))
	}
	if added > 0 {
		metrics.SynchronizerTasksAdded.Add(float64(added))
	}
	s.log.Debug().Int("reconciled", len(reconciled)).Int("cancelled", cancelled).Int("added", added).Msg("synchronizer tick")

	return nil
}

// classify resolves one scheduler-side stream task's event/instance and
// decides whether it's still a valid candidate for the reconciled window.
func (s *Synchronizer) classify(ctx context.Context, task scheduling.TaskStatus, windowStart, windowEnd time.Time) classified {
	var params streamParameters
	if err := json.Unmarshal(task.Task.Operation.Parameters, &params); err != nil {
		return classified{id: task.ID, valid: false}
	}

	event, err := s.calendar.GetEvent(ctx, params.ID)
	if err != nil {
		return classified{id: task.ID, valid: false}
	}

	loc, err := time.LoadLocation(event.Timezone)
	if err != nil {
		return classified{id: task.ID, valid: false}
	}
	localStart, err := time.ParseInLocation(naiveLocalLayout, params.Start, loc)
	if err != nil {
		return classified{id: task.ID, valid: false}
	}
	utcStart := localStart.UTC()

	if utcStart.Before(windowStart) || !utcStart.Before(windowEnd) {
		return classified{id: task.ID, valid: false}
	}

	return classified{id: task.ID, event: event.ID, startAt: utcStart, valid: true}
}

func coveredBy(reconciled []scheduledInstance, event uuid.UUID, startAt time.Time) bool {
	for _, ri := range reconciled {
		if ri.event.ID == event && ri.instance.Start.UTC().Equal(startAt) {
			return true
		}
	}
	return false
}

func coveredByTasks(classifications []classified, event uuid.UUID, startAt time.Time) bool {
	for _, c := range classifications {
		if c.valid && c.event == event && c.startAt.Equal(startAt) {
			return true
		}
	}
	return false
}

// nextAligned computes the first tick at or after now, aligned to
// reference with the given interval: R + ceil((t-R)/I) * I. Mirrors
// internal/cleaner.NextAligned; duplicated rather than shared because the
// two packages otherwise have no dependency on each other and the formula
// is two lines.
func nextAligned(reference, now time.Time, interval time.Duration) time.Time {
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
