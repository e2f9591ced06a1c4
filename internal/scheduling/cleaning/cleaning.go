// Package cleaning implements the built-in CleaningStrategy types: "all",
// which always approves removal, and "timedelta", which only approves a
// task that finished at least a configured duration ago.
package cleaning

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/radio-aktywne/mantis/internal/scheduling"
	"github.com/radio-aktywne/mantis/internal/store"
)

// All always approves removing a finished task. It backs the cleaner loop's
// periodic sweep.
type All struct{}

func NewAll() scheduling.CleaningStrategy { return All{} }

func (All) Evaluate(scheduling.FinishedTask, json.RawMessage) (bool, error) {
	return true, nil
}

// TimedeltaParameters is the JSON shape of the "timedelta" strategy's
// parameters.
type TimedeltaParameters struct {
	Delta store.Duration `json:"delta"`
}

// Timedelta approves removal once a finished task has been terminal for at
// least Delta.
type Timedelta struct{}

func NewTimedelta() scheduling.CleaningStrategy { return Timedelta{} }

func (Timedelta) Evaluate(task scheduling.FinishedTask, parameters json.RawMessage) (bool, error) {
	var params TimedeltaParameters
	if err := json.Unmarshal(parameters, &params); err != nil {
		return false, fmt.Errorf("parsing \"timedelta\" cleaning strategy parameters: %w", err)
	}
	return time.Since(task.FinishedAt) >= params.Delta.Duration, nil
}

// Register installs the built-in cleaning strategies into factory.
func Register(factory *scheduling.CleaningStrategyFactory) {
	factory.Register("all", NewAll)
	factory.Register("timedelta", NewTimedelta)
}
