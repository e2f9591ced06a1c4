// Package store persists the scheduling domain's task graph as a single
// JSON document, the way spec section 4.1 describes: load-or-initialize on
// open, atomic temp-file-plus-rename on every save.
package store

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Status tags which of the five lifecycle partitions a task currently
// occupies. It is kept redundantly in State.Statuses so lookups don't need
// to probe all five maps.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// Spec names a pluggable implementation (an operation, a condition, or a
// cleaning strategy) and the JSON parameters it should run with.
type Spec struct {
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters"`
}

// Task is the immutable descriptor created by Scheduler.Schedule. It never
// changes after creation; lifecycle state lives in the per-status record
// that wraps it.
type Task struct {
	ID           uuid.UUID            `json:"id"`
	Operation    Spec                 `json:"operation"`
	Condition    Spec                 `json:"condition"`
	Dependencies map[string]uuid.UUID `json:"dependencies"`
}

// PendingRecord is a task awaiting its condition and dependencies.
type PendingRecord struct {
	Task      Task      `json:"task"`
	Scheduled NaiveTime `json:"scheduled"`
}

// RunningRecord is a task whose operation is currently executing.
type RunningRecord struct {
	Task      Task      `json:"task"`
	Scheduled NaiveTime `json:"scheduled"`
	Started   NaiveTime `json:"started"`
}

// CancelledRecord is a task that was cancelled, either before or during
// execution. Started is nil when the task was cancelled while pending.
type CancelledRecord struct {
	Task      Task       `json:"task"`
	Scheduled NaiveTime  `json:"scheduled"`
	Started   *NaiveTime `json:"started"`
	Cancelled NaiveTime  `json:"cancelled"`
}

// FailedRecord is a task whose condition, dependencies, or operation raised
// an error. Error is always non-empty.
type FailedRecord struct {
	Task      Task      `json:"task"`
	Scheduled NaiveTime `json:"scheduled"`
	Started   NaiveTime `json:"started"`
	Failed    NaiveTime `json:"failed"`
	Error     string    `json:"error"`
}

// CompletedRecord is a task whose operation returned successfully.
type CompletedRecord struct {
	Task      Task            `json:"task"`
	Scheduled NaiveTime       `json:"scheduled"`
	Started   NaiveTime       `json:"started"`
	Completed NaiveTime       `json:"completed"`
	Result    json.RawMessage `json:"result"`
}

// UUIDSet is a set of UUIDs, represented on the wire as a JSON object whose
// keys are the UUIDs (values are ignored), since JSON has no native set
// type.
type UUIDSet map[uuid.UUID]struct{}

func NewUUIDSet() UUIDSet { return UUIDSet{} }

func (s UUIDSet) Add(id uuid.UUID)      { s[id] = struct{}{} }
func (s UUIDSet) Remove(id uuid.UUID)   { delete(s, id) }
func (s UUIDSet) Has(id uuid.UUID) bool { _, ok := s[id]; return ok }
func (s UUIDSet) Len() int              { return len(s) }

func (s UUIDSet) Slice() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Tasks partitions every task by lifecycle status. Each UUID appears in
// exactly one of these five maps (invariant 1 of the scheduling domain).
type Tasks struct {
	Pending   map[uuid.UUID]PendingRecord   `json:"pending"`
	Running   map[uuid.UUID]RunningRecord   `json:"running"`
	Cancelled map[uuid.UUID]CancelledRecord `json:"cancelled"`
	Failed    map[uuid.UUID]FailedRecord    `json:"failed"`
	Completed map[uuid.UUID]CompletedRecord `json:"completed"`
}

// Relationships keeps both directions of the dependency graph so the
// scheduler never has to walk every task to find dependents.
type Relationships struct {
	// Dependents maps a task to the set of tasks that depend on it.
	Dependents map[uuid.UUID]UUIDSet `json:"dependents"`
	// Dependencies maps a task to the set of tasks it depends on.
	Dependencies map[uuid.UUID]UUIDSet `json:"dependencies"`
}

// State is the complete, persisted task graph.
type State struct {
	Tasks         Tasks                `json:"tasks"`
	Statuses      map[uuid.UUID]Status `json:"statuses"`
	Relationships Relationships        `json:"relationships"`
}

// NewState returns an empty, fully-initialized State. A State decoded from
// JSON may have nil inner maps for partitions that were empty at save time;
// callers should route construction through NewState or call Normalize.
func NewState() *State {
	return &State{
		Tasks: Tasks{
			Pending:   map[uuid.UUID]PendingRecord{},
			Running:   map[uuid.UUID]RunningRecord{},
			Cancelled: map[uuid.UUID]CancelledRecord{},
			Failed:    map[uuid.UUID]FailedRecord{},
			Completed: map[uuid.UUID]CompletedRecord{},
		},
		Statuses: map[uuid.UUID]Status{},
		Relationships: Relationships{
			Dependents:   map[uuid.UUID]UUIDSet{},
			Dependencies: map[uuid.UUID]UUIDSet{},
		},
	}
}

// Normalize fills in nil maps left by json.Unmarshal decoding an omitted or
// empty object, so callers never have to nil-check before writing.
func (s *State) Normalize() {
	if s.Tasks.Pending == nil {
		s.Tasks.Pending = map[uuid.UUID]PendingRecord{}
	}
	if s.Tasks.Running == nil {
		s.Tasks.Running = map[uuid.UUID]RunningRecord{}
	}
	if s.Tasks.Cancelled == nil {
		s.Tasks.Cancelled = map[uuid.UUID]CancelledRecord{}
	}
	if s.Tasks.Failed == nil {
		s.Tasks.Failed = map[uuid.UUID]FailedRecord{}
	}
	if s.Tasks.Completed == nil {
		s.Tasks.Completed = map[uuid.UUID]CompletedRecord{}
	}
	if s.Statuses == nil {
		s.Statuses = map[uuid.UUID]Status{}
	}
	if s.Relationships.Dependents == nil {
		s.Relationships.Dependents = map[uuid.UUID]UUIDSet{}
	}
	if s.Relationships.Dependencies == nil {
		s.Relationships.Dependencies = map[uuid.UUID]UUIDSet{}
	}
}

// TaskIndex is the five-way UUID partition returned by tasks.list, without
// the record payloads.
type TaskIndex struct {
	Pending   []uuid.UUID `json:"pending"`
	Running   []uuid.UUID `json:"running"`
	Cancelled []uuid.UUID `json:"cancelled"`
	Failed    []uuid.UUID `json:"failed"`
	Completed []uuid.UUID `json:"completed"`
}

// Index reduces the full state down to a TaskIndex.
func (s *State) Index() TaskIndex {
	index := TaskIndex{}
	for id := range s.Tasks.Pending {
		index.Pending = append(index.Pending, id)
	}
	for id := range s.Tasks.Running {
		index.Running = append(index.Running, id)
	}
	for id := range s.Tasks.Cancelled {
		index.Cancelled = append(index.Cancelled, id)
	}
	for id := range s.Tasks.Failed {
		index.Failed = append(index.Failed, id)
	}
	for id := range s.Tasks.Completed {
		index.Completed = append(index.Completed, id)
	}
	return index
}
