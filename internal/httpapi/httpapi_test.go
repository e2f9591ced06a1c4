package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-aktywne/mantis/internal/httpapi"
	"github.com/radio-aktywne/mantis/internal/scheduling"
	"github.com/radio-aktywne/mantis/internal/store"
)

// fakeScheduler is a hand-rolled stand-in for scheduling.Scheduler,
// satisfying only the narrow httpapi.Scheduler interface.
type fakeScheduler struct {
	scheduleFn func(operation, condition store.Spec, dependencies map[string]uuid.UUID) (store.PendingRecord, error)
	cancelFn   func(id uuid.UUID) (store.CancelledRecord, error)
	cleanFn    func(strategyType string, parameters json.RawMessage) (store.UUIDSet, error)
	listFn     func() store.TaskIndex
	getFn      func(id uuid.UUID) (store.Status, any, bool)

	pending   map[uuid.UUID]store.PendingRecord
	running   map[uuid.UUID]store.RunningRecord
	cancelled map[uuid.UUID]store.CancelledRecord
	failed    map[uuid.UUID]store.FailedRecord
	completed map[uuid.UUID]store.CompletedRecord
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		pending:   map[uuid.UUID]store.PendingRecord{},
		running:   map[uuid.UUID]store.RunningRecord{},
		cancelled: map[uuid.UUID]store.CancelledRecord{},
		failed:    map[uuid.UUID]store.FailedRecord{},
		completed: map[uuid.UUID]store.CompletedRecord{},
	}
}

func (f *fakeScheduler) Schedule(operation, condition store.Spec, dependencies map[string]uuid.UUID) (store.PendingRecord, error) {
	return f.scheduleFn(operation, condition, dependencies)
}

func (f *fakeScheduler) Cancel(id uuid.UUID) (store.CancelledRecord, error) {
	return f.cancelFn(id)
}

func (f *fakeScheduler) Clean(strategyType string, parameters json.RawMessage) (store.UUIDSet, error) {
	return f.cleanFn(strategyType, parameters)
}

func (f *fakeScheduler) List() store.TaskIndex { return f.listFn() }

func (f *fakeScheduler) Get(id uuid.UUID) (store.Status, any, bool) { return f.getFn(id) }

func (f *fakeScheduler) GetPending(id uuid.UUID) (store.PendingRecord, bool) {
	r, ok := f.pending[id]
	return r, ok
}

func (f *fakeScheduler) GetRunning(id uuid.UUID) (store.RunningRecord, bool) {
	r, ok := f.running[id]
	return r, ok
}

func (f *fakeScheduler) GetCancelled(id uuid.UUID) (store.CancelledRecord, bool) {
	r, ok := f.cancelled[id]
	return r, ok
}

func (f *fakeScheduler) GetFailed(id uuid.UUID) (store.FailedRecord, bool) {
	r, ok := f.failed[id]
	return r, ok
}

func (f *fakeScheduler) GetCompleted(id uuid.UUID) (store.CompletedRecord, bool) {
	r, ok := f.completed[id]
	return r, ok
}

var _ httpapi.Scheduler = (*fakeScheduler)(nil)

func TestPing(t *testing.T) {
	router := httpapi.NewRouter(newFakeScheduler(), zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListTasksReportsCounts(t *testing.T) {
	fake := newFakeScheduler()
	id := uuid.New()
	fake.listFn = func() store.TaskIndex {
		return store.TaskIndex{Pending: []uuid.UUID{id}}
	}
	router := httpapi.NewRouter(fake, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Pending []uuid.UUID `json:"pending"`
		Counts  struct {
			Pending int `json:"pending"`
		} `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []uuid.UUID{id}, body.Pending)
	assert.Equal(t, 1, body.Counts.Pending)
}

func TestScheduleTaskReturnsCreated(t *testing.T) {
	fake := newFakeScheduler()
	taskID := uuid.New()
	fake.scheduleFn = func(operation, condition store.Spec, dependencies map[string]uuid.UUID) (store.PendingRecord, error) {
		assert.Equal(t, "test", operation.Type)
		assert.Equal(t, "now", condition.Type)
		return store.PendingRecord{Task: store.Task{ID: taskID, Operation: operation, Condition: condition, Dependencies: dependencies}}, nil
	}
	router := httpapi.NewRouter(fake, zerolog.Nop())

	body, err := json.Marshal(httpapi.ScheduleRequest{
		Operation:    store.Spec{Type: "test", Parameters: json.RawMessage(`{}`)},
		Condition:    store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)},
		Dependencies: map[string]uuid.UUID{},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp store.PendingRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, taskID, resp.Task.ID)
}

func TestScheduleTaskMapsInvalidOperationToBadRequest(t *testing.T) {
	fake := newFakeScheduler()
	fake.scheduleFn = func(_, _ store.Spec, _ map[string]uuid.UUID) (store.PendingRecord, error) {
		return store.PendingRecord{}, &scheduling.InvalidOperationError{Type: "nope"}
	}
	router := httpapi.NewRouter(fake, zerolog.Nop())

	body, err := json.Marshal(httpapi.ScheduleRequest{
		Operation: store.Spec{Type: "nope", Parameters: json.RawMessage(`{}`)},
		Condition: store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	fake := newFakeScheduler()
	fake.getFn = func(id uuid.UUID) (store.Status, any, bool) { return "", nil, false }
	router := httpapi.NewRouter(fake, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/"+uuid.New().String(), nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskFound(t *testing.T) {
	fake := newFakeScheduler()
	id := uuid.New()
	fake.getFn = func(requested uuid.UUID) (store.Status, any, bool) {
		require.Equal(t, id, requested)
		return store.StatusCompleted, store.CompletedRecord{Task: store.Task{ID: id}}, true
	}
	router := httpapi.NewRouter(fake, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/"+id.String(), nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(store.StatusCompleted), body.Status)
}

func TestCancelTaskConflictOnTerminalTask(t *testing.T) {
	fake := newFakeScheduler()
	id := uuid.New()
	fake.cancelFn = func(requested uuid.UUID) (store.CancelledRecord, error) {
		return store.CancelledRecord{}, &scheduling.UnexpectedTaskStatusError{ID: requested, Status: store.StatusCompleted}
	}
	router := httpapi.NewRouter(fake, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/tasks/"+id.String(), nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCleanReturnsRemovedSet(t *testing.T) {
	fake := newFakeScheduler()
	removedID := uuid.New()
	fake.cleanFn = func(strategyType string, _ json.RawMessage) (store.UUIDSet, error) {
		assert.Equal(t, "all", strategyType)
		set := store.NewUUIDSet()
		set.Add(removedID)
		return set, nil
	}
	router := httpapi.NewRouter(fake, zerolog.Nop())

	body, err := json.Marshal(httpapi.CleanRequest{Type: "all", Parameters: json.RawMessage(`{}`)})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks/clean", bytes.NewReader(body))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp httpapi.CleaningResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Removed, 1)
	assert.Equal(t, removedID, resp.Removed[0])
}

func TestGetCompletedNotFound(t *testing.T) {
	fake := newFakeScheduler()
	router := httpapi.NewRouter(fake, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/completed/"+uuid.New().String(), nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPendingFound(t *testing.T) {
	fake := newFakeScheduler()
	id := uuid.New()
	fake.pending[id] = store.PendingRecord{Task: store.Task{ID: id}}
	router := httpapi.NewRouter(fake, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/pending/"+id.String(), nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
