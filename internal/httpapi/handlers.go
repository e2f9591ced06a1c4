package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/radio-aktywne/mantis/internal/store"
)

// Scheduler is the subset of scheduling.Scheduler the HTTP surface needs.
// It's declared here, consumer-side, so this package can be tested against
// a fake without importing the scheduling package's internals.
type Scheduler interface {
	Schedule(operation, condition store.Spec, dependencies map[string]uuid.UUID) (store.PendingRecord, error)
	Cancel(id uuid.UUID) (store.CancelledRecord, error)
	Clean(strategyType string, parameters json.RawMessage) (store.UUIDSet, error)
	List() store.TaskIndex
	Get(id uuid.UUID) (store.Status, any, bool)
	GetPending(id uuid.UUID) (store.PendingRecord, bool)
	GetRunning(id uuid.UUID) (store.RunningRecord, bool)
	GetCancelled(id uuid.UUID) (store.CancelledRecord, bool)
	GetFailed(id uuid.UUID) (store.FailedRecord, bool)
	GetCompleted(id uuid.UUID) (store.CompletedRecord, bool)
}

type api struct {
	scheduler Scheduler
}

func (a *api) handlePing(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
}

func (a *api) handleListTasks(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, newTaskIndexResponse(a.scheduler.List()))
}

func (a *api) handleScheduleTask(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	record, err := a.scheduler.Schedule(req.Operation, req.Condition, req.Dependencies)
	if err != nil {
		writeError(w, statusForSchedulingError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (a *api) handleGetTask(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, record, ok := a.scheduler.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, errTaskNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, GenericTaskRecord{Status: status, Record: record})
}

func (a *api) handleCancelTask(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := a.scheduler.Cancel(id)
	if err != nil {
		writeError(w, statusForSchedulingError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *api) handleClean(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req CleanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	removed, err := a.scheduler.Clean(req.Type, req.Parameters)
	if err != nil {
		writeError(w, statusForSchedulingError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, CleaningResult{Removed: removed.Slice()})
}

func (a *api) handleGetPending(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, ok := a.scheduler.GetPending(id)
	if !ok {
		writeError(w, http.StatusNotFound, errTaskNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *api) handleGetRunning(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, ok := a.scheduler.GetRunning(id)
	if !ok {
		writeError(w, http.StatusNotFound, errTaskNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *api) handleGetCancelled(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, ok := a.scheduler.GetCancelled(id)
	if !ok {
		writeError(w, http.StatusNotFound, errTaskNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *api) handleGetFailed(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, ok := a.scheduler.GetFailed(id)
	if !ok {
		writeError(w, http.StatusNotFound, errTaskNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *api) handleGetCompleted(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, ok := a.scheduler.GetCompleted(id)
	if !ok {
		writeError(w, http.StatusNotFound, errTaskNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type taskNotFoundError struct{ id uuid.UUID }

func (e *taskNotFoundError) Error() string { return "task " + e.id.String() + " not found" }

func errTaskNotFound(id uuid.UUID) error { return &taskNotFoundError{id: id} }
