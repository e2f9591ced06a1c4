// Package conditions implements the built-in Condition types: "now", which
// is immediately satisfied, and "at", which sleeps until a naive-UTC
// instant.
package conditions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/radio-aktywne/mantis/internal/scheduling"
	"github.com/radio-aktywne/mantis/internal/store"
)

// Now resolves immediately; it still honors cancellation so a task
// cancelled in the same instant it's scheduled doesn't race its worker.
type Now struct{}

func NewNow() scheduling.Condition { return Now{} }

func (Now) Wait(ctx context.Context, _ json.RawMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// AtParameters is the JSON shape of the "at" condition's parameters.
type AtParameters struct {
	Datetime store.NaiveTime `json:"datetime"`
}

// At sleeps until a fixed naive-UTC instant, or returns immediately (sleeps
// zero) if that instant has already passed.
type At struct{}

func NewAt() scheduling.Condition { return At{} }

func (At) Wait(ctx context.Context, parameters json.RawMessage) error {
	var params AtParameters
	if err := json.Unmarshal(parameters, &params); err != nil {
		return fmt.Errorf("parsing \"at\" condition parameters: %w", err)
	}

	d := time.Until(params.Datetime.Time)
	if d < 0 {
		d = 0
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Register installs the built-in conditions into factory.
func Register(factory *scheduling.ConditionFactory) {
	factory.Register("now", NewNow)
	factory.Register("at", NewAt)
}
