package calendar_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-aktywne/mantis/internal/services/calendar"
)

func TestGetEventNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "no such event"})
	}))
	defer server.Close()

	client, err := calendar.New(server.URL, server.Client())
	require.NoError(t, err)

	id := uuid.New()
	_, err = client.GetEvent(context.Background(), id)
	require.Error(t, err)

	var notFound *calendar.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, id, notFound.ID)
}

func TestGetEventDecodesSuccess(t *testing.T) {
	id := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/"+id.String(), r.URL.Path)
		json.NewEncoder(w).Encode(calendar.Event{ID: id, Type: "prerecorded", Timezone: "Europe/Warsaw"})
	}))
	defer server.Close()

	client, err := calendar.New(server.URL, server.Client())
	require.NoError(t, err)

	event, err := client.GetEvent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Warsaw", event.Timezone)
}

func TestListAllScheduleDrainsPages(t *testing.T) {
	event := calendar.Event{ID: uuid.New(), Type: "prerecorded", Timezone: "UTC"}
	total := 5
	pageSize := 2

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := 0
		if v := r.URL.Query().Get("offset"); v != "" {
			offset, _ = strconv.Atoi(v)
		}
		end := offset + pageSize
		if end > total {
			end = total
		}
		var entries []calendar.Schedule
		for i := offset; i < end; i++ {
			entries = append(entries, calendar.Schedule{Event: event})
		}
		json.NewEncoder(w).Encode(calendar.SchedulesPage{Count: total, Entries: entries})
	}))
	defer server.Close()

	client, err := calendar.New(server.URL, server.Client())
	require.NoError(t, err)

	all, err := client.ListAllSchedule(context.Background(), time.Now(), time.Now().Add(time.Hour), "")
	require.NoError(t, err)
	assert.Len(t, all, total)
}
