package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRunAfterPureCron(t *testing.T) {
	cs, err := Compile(Spec{Frequency: FreqDaily, Time: "09:00"})
	require.NoError(t, err)
	after := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	next, ok := cs.NextRunAfter(after)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfterSkipsGuardRejections(t *testing.T) {
	cs, err := Compile(Spec{Frequency: FreqDaily, Time: "09:00", Exclude: []string{"2026-01-01"}})
	require.NoError(t, err)
	after := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
	next, ok := cs.NextRunAfter(after)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfterRuntimeOnlyAdvancesByWholePeriods(t *testing.T) {
	cs, err := Compile(Spec{Frequency: FreqInterval, Every: "7m"})
	require.NoError(t, err)

	after := cs.anchor.Add(20 * time.Minute)
	next, ok := cs.NextRunAfter(after)
	require.True(t, ok)
	assert.True(t, next.After(after))
	assert.Equal(t, time.Duration(0), next.Sub(cs.anchor)%(7*time.Minute))
}

func TestNextRunTimesReturnsNInOrder(t *testing.T) {
	cs, err := Compile(Spec{Frequency: FreqInterval, Every: "15m"})
	require.NoError(t, err)
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	times := cs.NextRunTimes(after, 3)
	require.Len(t, times, 3)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC), times[0])
	assert.Equal(t, time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC), times[1])
	assert.Equal(t, time.Date(2026, 1, 1, 0, 45, 0, 0, time.UTC), times[2])
}

func TestNextRunTimesStopsWhenEndBoundReached(t *testing.T) {
	cs, err := Compile(Spec{
		Frequency: FreqInterval, Every: "15m",
		Start: "2026-01-01T00:00",
		End:   "2026-01-01T00:20",
	})
	require.NoError(t, err)
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	times := cs.NextRunTimes(after, 10)
	assert.Len(t, times, 1)
}
