package cleaner_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-aktywne/mantis/internal/cleaner"
	"github.com/radio-aktywne/mantis/internal/store"
)

func TestNextAlignedExactMultipleReturnsNow(t *testing.T) {
	reference := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := reference.Add(2 * time.Hour)
	got := cleaner.NextAligned(reference, now, time.Hour)
	assert.True(t, got.Equal(now))
}

func TestNextAlignedSubIntervalRoundsUp(t *testing.T) {
	reference := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := reference.Add(90 * time.Minute)
	got := cleaner.NextAligned(reference, now, time.Hour)
	assert.True(t, got.Equal(reference.Add(2*time.Hour)))
}

func TestNextAlignedBeforeReferenceRoundsTowardReference(t *testing.T) {
	reference := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := reference.Add(-90 * time.Minute)
	got := cleaner.NextAligned(reference, now, time.Hour)
	assert.True(t, got.Equal(reference.Add(-time.Hour)))
}

func TestNextAlignedZeroIntervalReturnsNow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := cleaner.NextAligned(now, now, 0)
	assert.True(t, got.Equal(now))
}

type fakeCleaningScheduler struct {
	calls chan struct{}
}

func (f *fakeCleaningScheduler) Clean(strategyType string, _ json.RawMessage) (store.UUIDSet, error) {
	if strategyType != "all" {
		return nil, nil
	}
	f.calls <- struct{}{}
	return store.NewUUIDSet(), nil
}

func TestCleanerRunTicksOnInterval(t *testing.T) {
	fake := &fakeCleaningScheduler{calls: make(chan struct{}, 4)}
	c := cleaner.New(fake, cleaner.Config{Reference: time.Now().Add(-time.Millisecond), Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case <-fake.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("cleaner never ticked")
	}
}

func TestCleanerRunDisabledWithoutInterval(t *testing.T) {
	fake := &fakeCleaningScheduler{calls: make(chan struct{}, 1)}
	c := cleaner.New(fake, cleaner.Config{Reference: time.Now(), Interval: 0}, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleaner with zero interval should return immediately")
	}
	require.Empty(t, fake.calls)
}
