package scheduling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radio-aktywne/mantis/internal/metrics"
	"github.com/radio-aktywne/mantis/internal/store"
)

// Scheduler owns the task graph's single mutex. Every read or write of
// state goes through it; workers run concurrently but never touch state
// directly, matching spec section 5's "single mutex, cooperatively
// concurrent workers" model.
type Scheduler struct {
	mu    sync.Mutex
	store *store.Store
	state *store.State

	conditions *ConditionFactory
	operations *OperationFactory
	cleaners   *CleaningStrategyFactory

	// cancel holds the cancellation function for each task currently
	// running a worker (pending or running). Terminal tasks have none.
	cancel map[uuid.UUID]context.CancelFunc
	// done is closed exactly once, when a task reaches a terminal status.
	// Dependents park on it instead of polling; spec calls this the
	// "status-changed signal".
	done map[uuid.UUID]chan struct{}

	log zerolog.Logger
}

// New builds a Scheduler around an already-loaded state, then recovers it:
// any task that was Running is marked Failed (InterruptedByRestart), and a
// worker is spawned for every remaining Pending task.
func New(
	st *store.Store,
	state *store.State,
	conditions *ConditionFactory,
	operations *OperationFactory,
	cleaners *CleaningStrategyFactory,
	log zerolog.Logger,
) *Scheduler {
	s := &Scheduler{
		store:      st,
		state:      state,
		conditions: conditions,
		operations: operations,
		cleaners:   cleaners,
		cancel:     map[uuid.UUID]context.CancelFunc{},
		done:       map[uuid.UUID]chan struct{}{},
		log:        log.With().Str("component", "scheduler").Logger(),
	}
	s.recover()
	return s
}

// recover implements spec section 4.3's startup recovery: a Running record
// did not survive the process restart, so there's no way to know whether
// its subprocess completed. It's moved to Failed, and every task still
// Pending gets a fresh worker.
func (s *Scheduler) recover() {
	s.mu.Lock()

	for id := range s.state.Statuses {
		s.done[id] = closedIfTerminal(s.state.Statuses[id])
	}

	now := store.NewNaiveTime(time.Now().UTC())
	for id, rec := range s.state.Tasks.Running {
		failed := store.FailedRecord{
			Task:      rec.Task,
			Scheduled: rec.Scheduled,
			Started:   rec.Started,
			Failed:    now,
			Error:     errInterruptedByRestart.Error(),
		}
		delete(s.state.Tasks.Running, id)
		s.state.Tasks.Failed[id] = failed
		s.state.Statuses[id] = store.StatusFailed
		s.closeDoneLocked(id)
		metrics.TasksFinished.WithLabelValues(string(store.StatusFailed)).Inc()
		s.log.Warn().Str("task", id.String()).Msg("recovered task was running at shutdown, marking failed")
	}

	pending := make([]uuid.UUID, 0, len(s.state.Tasks.Pending))
	for id := range s.state.Tasks.Pending {
		pending = append(pending, id)
	}

	if err := s.persistLocked(); err != nil {
		s.log.Error().Err(err).Msg("failed to persist state after recovery")
	}
	s.mu.Unlock()

	for _, id := range pending {
		s.spawnWorker(id, true)
	}
}

func closedIfTerminal(status store.Status) chan struct{} {
	c := make(chan struct{})
	switch status {
	case store.StatusCancelled, store.StatusFailed, store.StatusCompleted:
		close(c)
	}
	return c
}

func (s *Scheduler) persistLocked() error {
	if err := s.store.Save(s.state); err != nil {
		s.log.Error().Err(err).Msg("failed to save state; will retry on next mutation")
		return err
	}
	return nil
}

func (s *Scheduler) closeDoneLocked(id uuid.UUID) {
	c, ok := s.done[id]
	if !ok {
		c = make(chan struct{})
		s.done[id] = c
	}
	select {
	case <-c:
		// already closed
	default:
		close(c)
	}
}

// Schedule validates operation/condition types and dependency references,
// appends a new Pending record, and spawns its worker.
func (s *Scheduler) Schedule(operation, condition store.Spec, dependencies map[string]uuid.UUID) (store.PendingRecord, error) {
	if _, ok := s.operations.Create(operation.Type); !ok {
		return store.PendingRecord{}, &InvalidOperationError{Type: operation.Type}
	}
	if _, ok := s.conditions.Create(condition.Type); !ok {
		return store.PendingRecord{}, &InvalidConditionError{Type: condition.Type}
	}

	s.mu.Lock()

	for _, depID := range dependencies {
		if _, ok := s.state.Statuses[depID]; !ok {
			s.mu.Unlock()
			return store.PendingRecord{}, &DependencyNotFoundError{ID: depID}
		}
	}

	id := uuid.New()
	task := store.Task{ID: id, Operation: operation, Condition: condition, Dependencies: cloneDeps(dependencies)}
	record := store.PendingRecord{Task: task, Scheduled: store.NewNaiveTime(time.Now().UTC())}

	s.state.Tasks.Pending[id] = record
	s.state.Statuses[id] = store.StatusPending
	s.done[id] = make(chan struct{})

	for _, depID := range dependencies {
		s.addEdgeLocked(depID, id)
	}

	if err := s.persistLocked(); err != nil {
		s.log.Error().Err(err).Str("task", id.String()).Msg("schedule: state persist failed, continuing in-memory")
	}

	s.mu.Unlock()

	s.log.Info().Str("task", id.String()).Str("operation", operation.Type).Str("condition", condition.Type).Msg("scheduled task")
	metrics.TasksScheduled.WithLabelValues(operation.Type).Inc()
	s.spawnWorker(id, false)

	return record, nil
}

func cloneDeps(m map[string]uuid.UUID) map[string]uuid.UUID {
	out := make(map[string]uuid.UUID, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Scheduler) addEdgeLocked(from, to uuid.UUID) {
	if s.state.Relationships.Dependents[from] == nil {
		s.state.Relationships.Dependents[from] = store.NewUUIDSet()
	}
	s.state.Relationships.Dependents[from].Add(to)

	if s.state.Relationships.Dependencies[to] == nil {
		s.state.Relationships.Dependencies[to] = store.NewUUIDSet()
	}
	s.state.Relationships.Dependencies[to].Add(from)
}

func (s *Scheduler) removeEdgesLocked(id uuid.UUID) {
	for depID := range s.state.Relationships.Dependencies[id] {
		if set, ok := s.state.Relationships.Dependents[depID]; ok {
			set.Remove(id)
		}
	}
	delete(s.state.Relationships.Dependencies, id)

	for depID := range s.state.Relationships.Dependents[id] {
		if set, ok := s.state.Relationships.Dependencies[depID]; ok {
			set.Remove(id)
		}
	}
	delete(s.state.Relationships.Dependents, id)
}

// Cancel moves a pending or running task to Cancelled and trips its
// worker's cancellation token. It is synchronous with respect to the state
// transition: by the time it returns, the task record says Cancelled, even
// though the worker's own teardown may still be in flight.
func (s *Scheduler) Cancel(id uuid.UUID) (store.CancelledRecord, error) {
	s.mu.Lock()

	status, ok := s.state.Statuses[id]
	if !ok {
		s.mu.Unlock()
		return store.CancelledRecord{}, &TaskNotFoundError{ID: id}
	}

	now := store.NewNaiveTime(time.Now().UTC())
	var cancelled store.CancelledRecord

	switch status {
	case store.StatusPending:
		rec := s.state.Tasks.Pending[id]
		cancelled = store.CancelledRecord{Task: rec.Task, Scheduled: rec.Scheduled, Started: nil, Cancelled: now}
		delete(s.state.Tasks.Pending, id)
		s.state.Tasks.Cancelled[id] = cancelled
		s.state.Statuses[id] = store.StatusCancelled

	case store.StatusRunning:
		rec := s.state.Tasks.Running[id]
		started := rec.Started
		cancelled = store.CancelledRecord{Task: rec.Task, Scheduled: rec.Scheduled, Started: &started, Cancelled: now}
		delete(s.state.Tasks.Running, id)
		s.state.Tasks.Cancelled[id] = cancelled
		s.state.Statuses[id] = store.StatusCancelled

	default:
		s.mu.Unlock()
		return store.CancelledRecord{}, &UnexpectedTaskStatusError{ID: id, Status: status}
	}

	cancelFn := s.cancel[id]
	delete(s.cancel, id)

	if err := s.persistLocked(); err != nil {
		s.log.Error().Err(err).Str("task", id.String()).Msg("cancel: state persist failed, continuing in-memory")
	}
	s.closeDoneLocked(id)

	s.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
	}

	metrics.TasksFinished.WithLabelValues(string(store.StatusCancelled)).Inc()
	s.log.Info().Str("task", id.String()).Msg("cancelled task")
	return cancelled, nil
}

// Clean removes tasks approved by strategy from {cancelled, failed,
// completed}, skipping any task still referenced as a dependency by a
// non-terminal task. It returns the set of removed ids.
func (s *Scheduler) Clean(strategyType string, parameters json.RawMessage) (store.UUIDSet, error) {
	strategy, ok := s.cleaners.Create(strategyType)
	if !ok {
		return nil, &InvalidCleaningStrategyError{Type: strategyType}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := store.NewUUIDSet()

	for id, rec := range s.state.Tasks.Cancelled {
		if s.hasNonTerminalDependentLocked(id) {
			continue
		}
		ok, err := strategy.Evaluate(FinishedTask{ID: id, Status: string(store.StatusCancelled), FinishedAt: rec.Cancelled.Time}, parameters)
		if err != nil {
			return nil, err
		}
		if ok {
			s.removeTaskLocked(id)
			removed.Add(id)
		}
	}
	for id, rec := range s.state.Tasks.Failed {
		if s.hasNonTerminalDependentLocked(id) {
			continue
		}
		ok, err := strategy.Evaluate(FinishedTask{ID: id, Status: string(store.StatusFailed), FinishedAt: rec.Failed.Time}, parameters)
		if err != nil {
			return nil, err
		}
		if ok {
			s.removeTaskLocked(id)
			removed.Add(id)
		}
	}
	for id, rec := range s.state.Tasks.Completed {
		if s.hasNonTerminalDependentLocked(id) {
			continue
		}
		ok, err := strategy.Evaluate(FinishedTask{ID: id, Status: string(store.StatusCompleted), FinishedAt: rec.Completed.Time}, parameters)
		if err != nil {
			return nil, err
		}
		if ok {
			s.removeTaskLocked(id)
			removed.Add(id)
		}
	}

	if len(removed) > 0 {
		if err := s.persistLocked(); err != nil {
			s.log.Error().Err(err).Msg("clean: state persist failed, continuing in-memory")
		}
	}

	metrics.TasksCleaned.Add(float64(len(removed)))
	s.log.Info().Int("removed", len(removed)).Str("strategy", strategyType).Msg("cleaned finished tasks")
	return removed, nil
}

func (s *Scheduler) hasNonTerminalDependentLocked(id uuid.UUID) bool {
	for dependentID := range s.state.Relationships.Dependents[id] {
		switch s.state.Statuses[dependentID] {
		case store.StatusPending, store.StatusRunning:
			return true
		}
	}
	return false
}

func (s *Scheduler) removeTaskLocked(id uuid.UUID) {
	delete(s.state.Tasks.Cancelled, id)
	delete(s.state.Tasks.Failed, id)
	delete(s.state.Tasks.Completed, id)
	delete(s.state.Statuses, id)
	delete(s.done, id)
	s.removeEdgesLocked(id)
}

// List returns the current five-way UUID partition.
func (s *Scheduler) List() store.TaskIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Index()
}

// Get returns the generic record for id, in whichever status it currently
// occupies, wrapped with its status tag for the caller to switch on.
func (s *Scheduler) Get(id uuid.UUID) (store.Status, any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.state.Statuses[id]
	if !ok {
		return "", nil, false
	}
	switch status {
	case store.StatusPending:
		return status, s.state.Tasks.Pending[id], true
	case store.StatusRunning:
		return status, s.state.Tasks.Running[id], true
	case store.StatusCancelled:
		return status, s.state.Tasks.Cancelled[id], true
	case store.StatusFailed:
		return status, s.state.Tasks.Failed[id], true
	case store.StatusCompleted:
		return status, s.state.Tasks.Completed[id], true
	}
	return "", nil, false
}

// GetPending, GetRunning, GetCancelled, GetFailed, GetCompleted back the
// status-specific HTTP routes; each returns ok=false if id isn't currently
// in that partition (including if it's in some other partition).
func (s *Scheduler) GetPending(id uuid.UUID) (store.PendingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Tasks.Pending[id]
	return r, ok
}

func (s *Scheduler) GetRunning(id uuid.UUID) (store.RunningRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Tasks.Running[id]
	return r, ok
}

func (s *Scheduler) GetCancelled(id uuid.UUID) (store.CancelledRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Tasks.Cancelled[id]
	return r, ok
}

func (s *Scheduler) GetFailed(id uuid.UUID) (store.FailedRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Tasks.Failed[id]
	return r, ok
}

func (s *Scheduler) GetCompleted(id uuid.UUID) (store.CompletedRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Tasks.Completed[id]
	return r, ok
}

// TaskStatus exposes a single task's current status tag, used by the
// synchronizer to decide which scheduler tasks are candidates for
// reconciliation.
type TaskStatus struct {
	ID     uuid.UUID
	Status store.Status
	Task   store.Task
}

// ListByOperation returns every task currently in one of the given statuses
// whose operation type matches opType. The synchronizer uses it to find
// "stream" tasks it owns.
func (s *Scheduler) ListByOperation(opType string, statuses ...store.Status) []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := map[store.Status]bool{}
	for _, st := range statuses {
		want[st] = true
	}

	var out []TaskStatus
	if want[store.StatusPending] {
		for id, rec := range s.state.Tasks.Pending {
			if rec.Task.Operation.Type == opType {
				out = append(out, TaskStatus{ID: id, Status: store.StatusPending, Task: rec.Task})
			}
		}
	}
	if want[store.StatusRunning] {
		for id, rec := range s.state.Tasks.Running {
			if rec.Task.Operation.Type == opType {
				out = append(out, TaskStatus{ID: id, Status: store.StatusRunning, Task: rec.Task})
			}
		}
	}
	return out
}
