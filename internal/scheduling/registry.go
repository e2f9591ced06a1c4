// Package scheduling implements the task graph: durable lifecycle state,
// worker dispatch under a condition and dependency constraints, and the
// pluggable condition/operation/cleaning-strategy registries that spec
// section 4.2 calls factories.
//
// The original registries return duck-typed objects looked up by a string
// tag. Here each is a map from type name to constructor, and the returned
// value satisfies a narrow interface instead: Condition{Wait}, Operation
// {Run}, CleaningStrategy{Evaluate}.
package scheduling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Condition gates when a pending task is allowed to start running.
type Condition interface {
	Wait(ctx context.Context, parameters json.RawMessage) error
}

// Operation is the work a task performs once its condition and
// dependencies are satisfied.
type Operation interface {
	Run(ctx context.Context, parameters json.RawMessage, dependencies map[string]json.RawMessage) (json.RawMessage, error)
}

// FinishedTask is the view a CleaningStrategy gets of a terminal task: just
// enough to decide whether it should be purged.
type FinishedTask struct {
	ID         uuid.UUID
	Status     string
	FinishedAt time.Time
}

// CleaningStrategy decides whether a finished task is eligible for removal.
type CleaningStrategy interface {
	Evaluate(task FinishedTask, parameters json.RawMessage) (bool, error)
}

// ConditionConstructor builds a fresh Condition instance. Constructors are
// invoked once per worker, so implementations needing per-invocation state
// (e.g. a single-use timer) don't have to worry about reuse.
type ConditionConstructor func() Condition

type OperationConstructor func() Operation

type CleaningStrategyConstructor func() CleaningStrategy

// ConditionFactory maps a `type` string to a ConditionConstructor, the way
// the scheduling domain's pluggable registries work: register built-ins at
// startup, look them up by the string carried on each task's spec.
type ConditionFactory struct {
	mu           sync.RWMutex
	constructors map[string]ConditionConstructor
}

func NewConditionFactory() *ConditionFactory {
	return &ConditionFactory{constructors: map[string]ConditionConstructor{}}
}

func (f *ConditionFactory) Register(typ string, ctor ConditionConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[typ] = ctor
}

func (f *ConditionFactory) Create(typ string) (Condition, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ctor, ok := f.constructors[typ]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// OperationFactory is the Operation analogue of ConditionFactory.
type OperationFactory struct {
	mu           sync.RWMutex
	constructors map[string]OperationConstructor
}

func NewOperationFactory() *OperationFactory {
	return &OperationFactory{constructors: map[string]OperationConstructor{}}
}

func (f *OperationFactory) Register(typ string, ctor OperationConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[typ] = ctor
}

func (f *OperationFactory) Create(typ string) (Operation, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ctor, ok := f.constructors[typ]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// CleaningStrategyFactory is the CleaningStrategy analogue of
// ConditionFactory.
type CleaningStrategyFactory struct {
	mu           sync.RWMutex
	constructors map[string]CleaningStrategyConstructor
}

func NewCleaningStrategyFactory() *CleaningStrategyFactory {
	return &CleaningStrategyFactory{constructors: map[string]CleaningStrategyConstructor{}}
}

func (f *CleaningStrategyFactory) Register(typ string, ctor CleaningStrategyConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[typ] = ctor
}

func (f *CleaningStrategyFactory) Create(typ string) (CleaningStrategy, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ctor, ok := f.constructors[typ]
	if !ok {
		return nil, false
	}
	return ctor(), true
}
