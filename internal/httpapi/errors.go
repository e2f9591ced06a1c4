package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/radio-aktywne/mantis/internal/scheduling"
)

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		StatusCode: code,
		StatusText: http.StatusText(code),
		Error:      err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusForSchedulingError maps the scheduler's typed validation errors onto
// HTTP status codes, the way a thin controller switches on the original's
// exception hierarchy.
func statusForSchedulingError(err error) int {
	var (
		invalidOp        *scheduling.InvalidOperationError
		invalidCond      *scheduling.InvalidConditionError
		invalidClean     *scheduling.InvalidCleaningStrategyError
		depNotFound      *scheduling.DependencyNotFoundError
		taskNotFound     *scheduling.TaskNotFoundError
		unexpectedStatus *scheduling.UnexpectedTaskStatusError
	)
	switch {
	case errors.As(err, &invalidOp), errors.As(err, &invalidCond), errors.As(err, &invalidClean), errors.As(err, &depNotFound):
		return http.StatusBadRequest
	case errors.As(err, &taskNotFound):
		return http.StatusNotFound
	case errors.As(err, &unexpectedStatus):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
