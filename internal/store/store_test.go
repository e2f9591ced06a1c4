package store_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-aktywne/mantis/internal/store"
)

func TestStoreLoadInitializesEmptyState(t *testing.T) {
	dir := t.TempDir()
	s := store.New(filepath.Join(dir, "state.json"), zerolog.Nop())

	state, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, state.Tasks.Pending)
	assert.Empty(t, state.Statuses)
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := store.New(path, zerolog.Nop())

	state, err := s.Load()
	require.NoError(t, err)

	id := uuid.New()
	state.Tasks.Pending[id] = store.PendingRecord{
		Task: store.Task{
			ID:           id,
			Operation:    store.Spec{Type: "test", Parameters: json.RawMessage(`{}`)},
			Condition:    store.Spec{Type: "now", Parameters: json.RawMessage(`{}`)},
			Dependencies: map[string]uuid.UUID{},
		},
		Scheduled: store.NewNaiveTime(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
	}
	state.Statuses[id] = store.StatusPending

	require.NoError(t, s.Save(state))

	reloaded, err := store.New(path, zerolog.Nop()).Load()
	require.NoError(t, err)

	rec, ok := reloaded.Tasks.Pending[id]
	require.True(t, ok)
	assert.Equal(t, "test", rec.Task.Operation.Type)
	assert.Equal(t, store.StatusPending, reloaded.Statuses[id])
}

func TestNaiveTimeRoundTrip(t *testing.T) {
	original := store.NewNaiveTime(time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC))

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Equal(t, `"2024-06-15T08:30:00"`, string(data))

	var decoded store.NaiveTime
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, original.Time.Equal(decoded.Time))
}

func TestNaiveTimeAcceptsZonedInput(t *testing.T) {
	var decoded store.NaiveTime
	require.NoError(t, json.Unmarshal([]byte(`"2024-06-15T10:30:00+02:00"`), &decoded))
	assert.True(t, decoded.Time.Equal(time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC)))
}

func TestDurationAcceptsSecondsOrString(t *testing.T) {
	var fromSeconds store.Duration
	require.NoError(t, json.Unmarshal([]byte(`90`), &fromSeconds))
	assert.Equal(t, 90*time.Second, fromSeconds.Duration)

	var fromString store.Duration
	require.NoError(t, json.Unmarshal([]byte(`"1h30m"`), &fromString))
	assert.Equal(t, 90*time.Minute, fromString.Duration)
}

func TestUUIDSet(t *testing.T) {
	s := store.NewUUIDSet()
	id := uuid.New()
	s.Add(id)
	assert.True(t, s.Has(id))
	assert.Equal(t, 1, s.Len())
	s.Remove(id)
	assert.False(t, s.Has(id))
}
