package httpapi

import (
	"github.com/google/uuid"

	"github.com/radio-aktywne/mantis/internal/store"
)

// ScheduleRequest is the POST /tasks request body.
type ScheduleRequest struct {
	Operation    store.Spec           `json:"operation"`
	Condition    store.Spec           `json:"condition"`
	Dependencies map[string]uuid.UUID `json:"dependencies"`
}

// CleanRequest is the POST /tasks/clean request body.
type CleanRequest store.Spec

// TaskIndexResponse is the GET /tasks response: the five UUID partitions
// plus a derived, non-authoritative counts summary (spec_full's dashboard
// supplement).
type TaskIndexResponse struct {
	store.TaskIndex
	Counts TaskCounts `json:"counts"`
}

type TaskCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
}

func newTaskIndexResponse(index store.TaskIndex) TaskIndexResponse {
	return TaskIndexResponse{
		TaskIndex: index,
		Counts: TaskCounts{
			Pending:   len(index.Pending),
			Running:   len(index.Running),
			Cancelled: len(index.Cancelled),
			Failed:    len(index.Failed),
			Completed: len(index.Completed),
		},
	}
}

// GenericTaskRecord wraps any one of the five record shapes with its status
// tag, for GET /tasks/{id} where the caller doesn't know in advance which
// partition the task lives in.
type GenericTaskRecord struct {
	Status store.Status `json:"status"`
	Record any          `json:"record"`
}

// CleaningResult is the POST /tasks/clean response.
type CleaningResult struct {
	Removed []uuid.UUID `json:"removed"`
}

// errorResponse mirrors the teacher's harpoon-scheduler envelope
// (status_code/status_text/error) for every non-2xx response.
type errorResponse struct {
	StatusCode int    `json:"status_code"`
	StatusText string `json:"status_text"`
	Error      string `json:"error"`
}
