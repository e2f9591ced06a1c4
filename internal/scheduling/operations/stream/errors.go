package stream

import (
	"fmt"

	"github.com/google/uuid"
)

// EventNotFoundError is returned when the calendar has no event with the
// requested id.
type EventNotFoundError struct{ ID uuid.UUID }

func (e *EventNotFoundError) Error() string { return fmt.Sprintf("event %s not found", e.ID) }

// InstanceNotFoundError is returned when the calendar's schedule for the
// event's local day has no instance starting at the requested time.
type InstanceNotFoundError struct {
	ID    uuid.UUID
	Start string
}

func (e *InstanceNotFoundError) Error() string {
	return fmt.Sprintf("no instance of event %s starting at %s", e.ID, e.Start)
}

// InstanceAlreadyEndedError is returned when the resolved instance's end
// has already passed.
type InstanceAlreadyEndedError struct{ ID uuid.UUID }

func (e *InstanceAlreadyEndedError) Error() string {
	return fmt.Sprintf("instance of event %s has already ended", e.ID)
}

// UnexpectedEventTypeError is returned when the event is neither
// "prerecorded" nor "replay".
type UnexpectedEventTypeError struct {
	ID   uuid.UUID
	Type string
}

func (e *UnexpectedEventTypeError) Error() string {
	return fmt.Sprintf("event %s has unexpected type %q", e.ID, e.Type)
}

// DownloadUnavailableError is returned when neither the prerecordings nor
// the records service (depending on event type) has matching media for
// the resolved instance.
type DownloadUnavailableError struct{ ID uuid.UUID }

func (e *DownloadUnavailableError) Error() string {
	return fmt.Sprintf("no media available for event %s instance", e.ID)
}
