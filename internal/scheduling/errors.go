package scheduling

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/radio-aktywne/mantis/internal/store"
)

// InvalidOperationError is returned by Schedule when the operation factory
// has no constructor for the requested type.
type InvalidOperationError struct{ Type string }

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation type %q", e.Type)
}

// InvalidConditionError is returned by Schedule when the condition factory
// has no constructor for the requested type.
type InvalidConditionError struct{ Type string }

func (e *InvalidConditionError) Error() string {
	return fmt.Sprintf("invalid condition type %q", e.Type)
}

// InvalidCleaningStrategyError is returned by Clean when the cleaning
// strategy factory has no constructor for the requested type.
type InvalidCleaningStrategyError struct{ Type string }

func (e *InvalidCleaningStrategyError) Error() string {
	return fmt.Sprintf("invalid cleaning strategy type %q", e.Type)
}

// DependencyNotFoundError is returned by Schedule when a named dependency
// does not reference a known task.
type DependencyNotFoundError struct{ ID uuid.UUID }

func (e *DependencyNotFoundError) Error() string {
	return fmt.Sprintf("dependency %s not found", e.ID)
}

// TaskNotFoundError is returned by Cancel when the requested id is unknown.
// The Get family reports an unknown id with ok=false instead.
type TaskNotFoundError struct{ ID uuid.UUID }

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

// UnexpectedTaskStatusError is returned by Cancel when the task is already
// terminal.
type UnexpectedTaskStatusError struct {
	ID     uuid.UUID
	Status store.Status
}

func (e *UnexpectedTaskStatusError) Error() string {
	return fmt.Sprintf("task %s has unexpected status %q", e.ID, e.Status)
}

// unsuccessfulDependencyError is recorded as a Failed.Error string when a
// worker discovers one of its dependencies finished unsuccessfully. It is
// formatted, not typed, because it only ever appears inside a FailedRecord.
func unsuccessfulDependencyError(id uuid.UUID) error {
	return fmt.Errorf("UnsuccessfulDependency:%s", id)
}

// errInterruptedByRestart is recorded on every task that was Running when
// the scheduler started: a running subprocess cannot be assumed to have
// survived the restart.
var errInterruptedByRestart = fmt.Errorf("InterruptedByRestart")
