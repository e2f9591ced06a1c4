package scheduling

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/radio-aktywne/mantis/internal/metrics"
	"github.com/radio-aktywne/mantis/internal/store"
)

// spawnWorker starts the goroutine that carries a single task from Pending
// through to a terminal status. recovered is purely informational: it
// distinguishes, in logs, a worker restarted after a crash from one started
// by a fresh Schedule call.
func (s *Scheduler) spawnWorker(id uuid.UUID, recovered bool) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	// The task may have been cancelled between persisting the Pending
	// record and this goroutine starting (recovery path); in that case
	// there's nothing to run.
	if s.state.Statuses[id] != store.StatusPending {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel[id] = cancel
	s.mu.Unlock()

	go s.runWorker(ctx, id, recovered)
}

func (s *Scheduler) runWorker(ctx context.Context, id uuid.UUID, recovered bool) {
	log := s.log.With().Str("task", id.String()).Bool("recovered", recovered).Logger()

	task, ok := s.pendingTask(id)
	if !ok {
		return
	}

	condition, ok := s.conditions.Create(task.Condition.Type)
	if !ok {
		// Schedule already validated this; reaching here would mean the
		// factory changed shape under us. Fail safe rather than panic.
		s.transitionFailed(id, &unregisteredConditionError{task.Condition.Type})
		return
	}

	if err := condition.Wait(ctx, task.Condition.Parameters); err != nil {
		if ctx.Err() != nil {
			s.transitionCancelledFromPending(id)
			return
		}
		s.transitionFailed(id, err)
		return
	}

	resolved, err := s.waitDependencies(ctx, id, task.Dependencies)
	if err != nil {
		if ctx.Err() != nil {
			s.transitionCancelledFromPending(id)
			return
		}
		s.transitionFailed(id, err)
		return
	}

	operation, ok := s.operations.Create(task.Operation.Type)
	if !ok {
		s.transitionFailed(id, &unregisteredOperationError{task.Operation.Type})
		return
	}

	if _, ok := s.transitionRunning(id); !ok {
		// Cancelled out from under us between the dependency wait and here.
		return
	}

	log.Debug().Str("operation", task.Operation.Type).Msg("running operation")
	result, err := operation.Run(ctx, task.Operation.Parameters, resolved)
	if err != nil {
		if ctx.Err() != nil {
			s.transitionCancelledFromRunning(id)
			return
		}
		s.transitionFailed(id, err)
		return
	}

	s.transitionCompleted(id, result)
}

type unregisteredConditionError struct{ Type string }

func (e *unregisteredConditionError) Error() string { return "condition type " + e.Type + " no longer registered" }

type unregisteredOperationError struct{ Type string }

func (e *unregisteredOperationError) Error() string { return "operation type " + e.Type + " no longer registered" }

func (s *Scheduler) pendingTask(id uuid.UUID) (store.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.Tasks.Pending[id]
	if !ok {
		return store.Task{}, false
	}
	return rec.Task, true
}

// waitDependencies blocks until every named dependency is Completed, or
// returns an UnsuccessfulDependency error the instant one is Cancelled or
// Failed. It re-evaluates every time any awaited dependency's status-changed
// signal fires, per spec section 4.3 step 2.
func (s *Scheduler) waitDependencies(ctx context.Context, id uuid.UUID, dependencies map[string]uuid.UUID) (map[string]json.RawMessage, error) {
	if len(dependencies) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	for {
		s.mu.Lock()

		var waiting []<-chan struct{}
		resolved := map[string]json.RawMessage{}
		unsuccessful := false
		var unsuccessfulID uuid.UUID

		for name, depID := range dependencies {
			status := s.state.Statuses[depID]
			switch status {
			case store.StatusCompleted:
				resolved[name] = s.state.Tasks.Completed[depID].Result
			case store.StatusCancelled, store.StatusFailed:
				unsuccessful = true
				unsuccessfulID = depID
			default: // pending or running: not ready yet
				waiting = append(waiting, s.done[depID])
			}
			if unsuccessful {
				break
			}
		}

		s.mu.Unlock()

		if unsuccessful {
			return nil, unsuccessfulDependencyError(unsuccessfulID)
		}
		if len(waiting) == 0 {
			return resolved, nil
		}
		if err := waitAny(ctx, waiting); err != nil {
			return nil, err
		}
	}
}

// waitAny blocks until ctx is done or any of chans is closed. It uses
// reflect.Select because the number of dependencies a task waits on is only
// known at runtime; no third-party fan-in primitive in the dependency
// surface fits a dynamically-sized wait set without its own goroutine (and
// leak-prone teardown) per channel.
func waitAny(ctx context.Context, chans []<-chan struct{}) error {
	cases := make([]reflect.SelectCase, 0, len(chans)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for _, c := range chans {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c)})
	}
	chosen, _, _ := reflect.Select(cases)
	if chosen == 0 {
		return ctx.Err()
	}
	return nil
}

func (s *Scheduler) transitionRunning(id uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.state.Tasks.Pending[id]
	if !ok {
		return time.Time{}, false
	}

	now := time.Now().UTC()
	delete(s.state.Tasks.Pending, id)
	s.state.Tasks.Running[id] = store.RunningRecord{
		Task:      rec.Task,
		Scheduled: rec.Scheduled,
		Started:   store.NewNaiveTime(now),
	}
	s.state.Statuses[id] = store.StatusRunning

	if err := s.persistLocked(); err != nil {
		s.log.Error().Err(err).Str("task", id.String()).Msg("transition to running: persist failed")
	}

	return now, true
}

func (s *Scheduler) transitionCompleted(id uuid.UUID, result json.RawMessage) {
	s.mu.Lock()

	rec, ok := s.state.Tasks.Running[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	now := store.NewNaiveTime(time.Now().UTC())
	delete(s.state.Tasks.Running, id)
	s.state.Tasks.Completed[id] = store.CompletedRecord{
		Task:      rec.Task,
		Scheduled: rec.Scheduled,
		Started:   rec.Started,
		Completed: now,
		Result:    result,
	}
	s.state.Statuses[id] = store.StatusCompleted

	if err := s.persistLocked(); err != nil {
		s.log.Error().Err(err).Str("task", id.String()).Msg("transition to completed: persist failed")
	}
	s.closeDoneLocked(id)
	delete(s.cancel, id)

	s.mu.Unlock()

	metrics.TasksFinished.WithLabelValues(string(store.StatusCompleted)).Inc()
	s.log.Info().Str("task", id.String()).Msg("task completed")
}

func (s *Scheduler) transitionFailed(id uuid.UUID, cause error) {
	s.mu.Lock()

	rec, wasRunning := s.state.Tasks.Running[id]
	if wasRunning {
		delete(s.state.Tasks.Running, id)
	} else {
		pendingRec, wasPending := s.state.Tasks.Pending[id]
		if !wasPending {
			s.mu.Unlock()
			return
		}
		rec = store.RunningRecord{Task: pendingRec.Task, Scheduled: pendingRec.Scheduled, Started: store.NewNaiveTime(time.Now().UTC())}
		delete(s.state.Tasks.Pending, id)
	}

	now := store.NewNaiveTime(time.Now().UTC())
	s.state.Tasks.Failed[id] = store.FailedRecord{
		Task:      rec.Task,
		Scheduled: rec.Scheduled,
		Started:   rec.Started,
		Failed:    now,
		Error:     cause.Error(),
	}
	s.state.Statuses[id] = store.StatusFailed

	if err := s.persistLocked(); err != nil {
		s.log.Error().Err(err).Str("task", id.String()).Msg("transition to failed: persist failed")
	}
	s.closeDoneLocked(id)
	delete(s.cancel, id)

	s.mu.Unlock()

	metrics.TasksFinished.WithLabelValues(string(store.StatusFailed)).Inc()
	s.log.Warn().Str("task", id.String()).Err(cause).Msg("task failed")
}

func (s *Scheduler) transitionCancelledFromPending(id uuid.UUID) {
	s.mu.Lock()

	rec, ok := s.state.Tasks.Pending[id]
	if !ok {
		// Already transitioned (e.g. an explicit Cancel beat us to it).
		s.mu.Unlock()
		return
	}

	now := store.NewNaiveTime(time.Now().UTC())
	delete(s.state.Tasks.Pending, id)
	s.state.Tasks.Cancelled[id] = store.CancelledRecord{
		Task:      rec.Task,
		Scheduled: rec.Scheduled,
		Started:   nil,
		Cancelled: now,
	}
	s.state.Statuses[id] = store.StatusCancelled

	if err := s.persistLocked(); err != nil {
		s.log.Error().Err(err).Str("task", id.String()).Msg("transition to cancelled: persist failed")
	}
	s.closeDoneLocked(id)
	delete(s.cancel, id)

	s.mu.Unlock()

	metrics.TasksFinished.WithLabelValues(string(store.StatusCancelled)).Inc()
}

func (s *Scheduler) transitionCancelledFromRunning(id uuid.UUID) {
	s.mu.Lock()

	rec, ok := s.state.Tasks.Running[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	now := store.NewNaiveTime(time.Now().UTC())
	started := rec.Started
	delete(s.state.Tasks.Running, id)
	s.state.Tasks.Cancelled[id] = store.CancelledRecord{
		Task:      rec.Task,
		Scheduled: rec.Scheduled,
		Started:   &started,
		Cancelled: now,
	}
	s.state.Statuses[id] = store.StatusCancelled

	if err := s.persistLocked(); err != nil {
		s.log.Error().Err(err).Str("task", id.String()).Msg("transition to cancelled: persist failed")
	}
	s.closeDoneLocked(id)
	delete(s.cancel, id)

	s.mu.Unlock()

	metrics.TasksFinished.WithLabelValues(string(store.StatusCancelled)).Inc()
}
