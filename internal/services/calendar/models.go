package calendar

import (
	"time"

	"github.com/google/uuid"
)

// Event is the show's static programming metadata, as kept by the calendar
// service. Timezone is an IANA name; instance starts/ends in Schedule are
// always UTC, but the event's own local day boundaries are computed against
// Timezone.
type Event struct {
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
	ShowID   uuid.UUID `json:"show_id"`
	Timezone string    `json:"timezone"`
}

// EventInstance is one concrete occurrence of an event on the calendar.
type EventInstance struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Schedule pairs an event with the instances it produces inside a queried
// window.
type Schedule struct {
	Event     Event           `json:"event"`
	Instances []EventInstance `json:"instances"`
}

// EventsPage is the paginated response shape of GET /events.
type EventsPage struct {
	Count   int     `json:"count"`
	Entries []Event `json:"entries"`
}

// SchedulesPage is the paginated response shape of GET /schedule.
type SchedulesPage struct {
	Count   int        `json:"count"`
	Entries []Schedule `json:"entries"`
}

// ListEventsParams controls GET /events.
type ListEventsParams struct {
	Limit  int
	Offset int
	Where  string
}

// ListScheduleParams controls GET /schedule.
type ListScheduleParams struct {
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
	Where  string
}
