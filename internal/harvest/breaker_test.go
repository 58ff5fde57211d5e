package harvest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	t.Parallel()

	b := NewWindowBreaker(10, 5, 0.5)
	for i := 0; i < 4; i++ {
		b.Record(false)
	}
	require.False(t, b.Tripped(), "four samples are below the five-sample floor")
}

func TestBreakerTripsOnFailureRate(t *testing.T) {
	t.Parallel()

	b := NewWindowBreaker(10, 5, 0.8)
	for i := 0; i < 5; i++ {
		b.Record(false)
	}
	require.True(t, b.Tripped())
	require.Equal(t, 1.0, b.FailureRate())
}

func TestBreakerToleratesMixedOutcomes(t *testing.T) {
	t.Parallel()

	b := NewWindowBreaker(10, 4, 0.8)
	outcomes := []bool{true, false, true, false, true, false, true, false}
	for _, ok := range outcomes {
		b.Record(ok)
	}
	require.False(t, b.Tripped(), "50%% failures under an 80%% threshold")
}

func TestBreakerSlidesWindow(t *testing.T) {
	t.Parallel()

	b := NewWindowBreaker(4, 4, 0.75)
	// Early failures age out once enough successes follow.
	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(true)
	require.False(t, b.Tripped())
	b.Record(true)
	b.Record(true)
	require.False(t, b.Tripped())
	require.Equal(t, 0.0, b.FailureRate())
}

func TestBreakerLatchesOnceTripped(t *testing.T) {
	t.Parallel()

	b := NewWindowBreaker(4, 2, 0.5)
	b.Record(false)
	b.Record(false)
	require.True(t, b.Tripped())
	for i := 0; i < 10; i++ {
		b.Record(true)
	}
	require.True(t, b.Tripped(), "a tripped breaker stays open")
}

func TestBreakerDefaults(t *testing.T) {
	t.Parallel()

	b := NewWindowBreaker(0, 0, 0)
	require.False(t, b.Tripped())
	require.Equal(t, 0.0, b.FailureRate())
}
