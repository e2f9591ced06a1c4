package scheduling_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-aktywne/mantis/internal/scheduling"
	"github.com/radio-aktywne/mantis/internal/scheduling/cleaning"
	"github.com/radio-aktywne/mantis/internal/scheduling/conditions"
	"github.com/radio-aktywne/mantis/internal/scheduling/operations"
	"github.com/radio-aktywne/mantis/internal/store"
)

func newScheduler(t *testing.T) (*scheduling.Scheduler, *store.Store) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())
	state, err := st.Load()
	require.NoError(t, err)

	conditionFactory := scheduling.NewConditionFactory()
	conditions.Register(conditionFactory)

	operationFactory := scheduling.NewOperationFactory()
	operations.Register(operationFactory)

	cleaningFactory := scheduling.NewCleaningStrategyFactory()
	cleaning.Register(cleaningFactory)

	return scheduling.New(st, state, conditionFactory, operationFactory, cleaningFactory, zerolog.Nop()), st
}

func waitForStatus(t *testing.T, sched *scheduling.Scheduler, id uuid.UUID, want store.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, _, ok := sched.Get(id)
		if ok && status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %s never reached status %q", id, want)
}

// scenario 1: schedule-and-run a test task.
func TestScheduleAndRunTestTask(t *testing.T) {
	sched, _ := newScheduler(t)

	rec, err := sched.Schedule(
		store.Spec{Type: "test", Parameters: json.RawMessage(`{"k":1}`)},
		store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)},
		map[string]uuid.UUID{},
	)
	require.NoError(t, err)

	waitForStatus(t, sched, rec.Task.ID, store.StatusCompleted)

	completed, ok := sched.GetCompleted(rec.Task.ID)
	require.True(t, ok)
	assert.JSONEq(t, `{"parameters":{"k":1},"dependencies":{}}`, string(completed.Result))
}

// scenario 2: dependency chain.
func TestDependencyChainPropagatesResult(t *testing.T) {
	sched, _ := newScheduler(t)

	a, err := sched.Schedule(
		store.Spec{Type: "test", Parameters: json.RawMessage(`{"who":"a"}`)},
		store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)},
		map[string]uuid.UUID{},
	)
	require.NoError(t, err)
	waitForStatus(t, sched, a.Task.ID, store.StatusCompleted)

	b, err := sched.Schedule(
		store.Spec{Type: "test", Parameters: json.RawMessage(`{"who":"b"}`)},
		store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)},
		map[string]uuid.UUID{"a": a.Task.ID},
	)
	require.NoError(t, err)
	waitForStatus(t, sched, b.Task.ID, store.StatusCompleted)

	completedB, ok := sched.GetCompleted(b.Task.ID)
	require.True(t, ok)

	var result struct {
		Dependencies map[string]json.RawMessage `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(completedB.Result, &result))

	completedA, ok := sched.GetCompleted(a.Task.ID)
	require.True(t, ok)
	assert.JSONEq(t, string(completedA.Result), string(result.Dependencies["a"]))
}

// scenario 3: cancel a pending "at" task.
func TestCancelPendingAtTask(t *testing.T) {
	sched, _ := newScheduler(t)

	datetime := store.NewNaiveTime(time.Now().Add(time.Hour))
	condition, err := json.Marshal(map[string]any{"datetime": datetime})
	require.NoError(t, err)

	rec, err := sched.Schedule(
		store.Spec{Type: "test", Parameters: json.RawMessage(`{}`)},
		store.Spec{Type: "at", Parameters: condition},
		map[string]uuid.UUID{},
	)
	require.NoError(t, err)

	cancelled, err := sched.Cancel(rec.Task.ID)
	require.NoError(t, err)
	assert.Nil(t, cancelled.Started)

	waitForStatus(t, sched, rec.Task.ID, store.StatusCancelled)
}

// scenario 4: invalid operation type.
func TestScheduleRejectsInvalidOperationType(t *testing.T) {
	sched, _ := newScheduler(t)

	_, err := sched.Schedule(
		store.Spec{Type: "nope", Parameters: json.RawMessage(`{}`)},
		store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)},
		map[string]uuid.UUID{},
	)
	require.Error(t, err)

	var invalidOp *scheduling.InvalidOperationError
	assert.True(t, errors.As(err, &invalidOp))

	index := sched.List()
	assert.Empty(t, index.Pending)
}

// scenario 5: dependency failure propagates.
func TestDependencyFailurePropagates(t *testing.T) {
	sched, _ := newScheduler(t)

	a, err := sched.Schedule(
		store.Spec{Type: "nope-does-not-exist", Parameters: json.RawMessage(`{}`)},
		store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)},
		map[string]uuid.UUID{},
	)
	// "nope-does-not-exist" is rejected synchronously by Schedule's type
	// check, so this scenario instead seeds A through a registered
	// operation that a dependent can still observe failing: cancel A
	// while it's pending on an "at" condition far in the future, which
	// is the only built-in way to reach Failed/Cancelled without a
	// custom failing operation.
	if err != nil {
		datetime := store.NewNaiveTime(time.Now().Add(time.Hour))
		condition, marshalErr := json.Marshal(map[string]any{"datetime": datetime})
		require.NoError(t, marshalErr)

		a, err = sched.Schedule(
			store.Spec{Type: "test", Parameters: json.RawMessage(`{}`)},
			store.Spec{Type: "at", Parameters: condition},
			map[string]uuid.UUID{},
		)
		require.NoError(t, err)

		b, err := sched.Schedule(
			store.Spec{Type: "test", Parameters: json.RawMessage(`{}`)},
			store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)},
			map[string]uuid.UUID{"a": a.Task.ID},
		)
		require.NoError(t, err)

		_, err = sched.Cancel(a.Task.ID)
		require.NoError(t, err)

		waitForStatus(t, sched, b.Task.ID, store.StatusFailed)

		failedB, ok := sched.GetFailed(b.Task.ID)
		require.True(t, ok)
		assert.Contains(t, failedB.Error, "UnsuccessfulDependency")
		return
	}

	t.Fatalf("expected schedule of an unregistered operation to fail synchronously, got task %s", a.Task.ID)
}

// Cleaning with strategy "all" removes exactly and only all finished tasks,
// and never a terminal task still referenced as a dependency by a
// non-terminal one.
func TestCleanAllRemovesOnlyFinishedUnreferencedTasks(t *testing.T) {
	sched, _ := newScheduler(t)

	a, err := sched.Schedule(
		store.Spec{Type: "test", Parameters: json.RawMessage(`{}`)},
		store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)},
		map[string]uuid.UUID{},
	)
	require.NoError(t, err)
	waitForStatus(t, sched, a.Task.ID, store.StatusCompleted)

	datetime := store.NewNaiveTime(time.Now().Add(time.Hour))
	condition, err := json.Marshal(map[string]any{"datetime": datetime})
	require.NoError(t, err)

	b, err := sched.Schedule(
		store.Spec{Type: "test", Parameters: json.RawMessage(`{}`)},
		store.Spec{Type: "at", Parameters: condition},
		map[string]uuid.UUID{"a": a.Task.ID},
	)
	require.NoError(t, err)

	removed, err := sched.Clean("all", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, removed.Has(a.Task.ID), "a is still a dependency of pending b, must not be removed")

	_, err = sched.Cancel(b.Task.ID)
	require.NoError(t, err)
	waitForStatus(t, sched, b.Task.ID, store.StatusCancelled)

	removed, err = sched.Clean("all", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, removed.Has(a.Task.ID))
	assert.True(t, removed.Has(b.Task.ID))

	index := sched.List()
	assert.Empty(t, index.Completed)
	assert.Empty(t, index.Cancelled)
}

// Recovery: after load-then-crash-then-load, a previously Running task is
// Failed with InterruptedByRestart, and no Pending task is lost.
func TestRecoveryFailsRunningAndResumesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := store.New(path, zerolog.Nop())
	state, err := st.Load()
	require.NoError(t, err)

	runningID := uuid.New()
	state.Tasks.Running[runningID] = store.RunningRecord{
		Task:      store.Task{ID: runningID, Operation: store.Spec{Type: "test", Parameters: json.RawMessage(`{}`)}, Condition: store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)}, Dependencies: map[string]uuid.UUID{}},
		Scheduled: store.NewNaiveTime(time.Now().Add(-time.Minute)),
		Started:   store.NewNaiveTime(time.Now().Add(-time.Second)),
	}
	state.Statuses[runningID] = store.StatusRunning

	pendingID := uuid.New()
	state.Tasks.Pending[pendingID] = store.PendingRecord{
		Task:      store.Task{ID: pendingID, Operation: store.Spec{Type: "test", Parameters: json.RawMessage(`{"resumed":true}`)}, Condition: store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)}, Dependencies: map[string]uuid.UUID{}},
		Scheduled: store.NewNaiveTime(time.Now()),
	}
	state.Statuses[pendingID] = store.StatusPending

	require.NoError(t, st.Save(state))

	reloadedState, err := store.New(path, zerolog.Nop()).Load()
	require.NoError(t, err)

	conditionFactory := scheduling.NewConditionFactory()
	conditions.Register(conditionFactory)
	operationFactory := scheduling.NewOperationFactory()
	operations.Register(operationFactory)
	cleaningFactory := scheduling.NewCleaningStrategyFactory()
	cleaning.Register(cleaningFactory)

	sched := scheduling.New(st, reloadedState, conditionFactory, operationFactory, cleaningFactory, zerolog.Nop())

	failed, ok := sched.GetFailed(runningID)
	require.True(t, ok)
	assert.Equal(t, "InterruptedByRestart", failed.Error)

	waitForStatus(t, sched, pendingID, store.StatusCompleted)
}

var _ = context.Background
