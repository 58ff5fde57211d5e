package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterPacesOneIdentity(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: 100 * time.Millisecond, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "proxy-1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "proxy-1"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterIdentitiesIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: time.Second, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "proxy-a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "proxy-b"))
	require.Less(t, time.Since(start), 100*time.Millisecond, "identity b must not inherit a's spacing")
}

func TestLimiterEmptyIdentityPaced(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: 80 * time.Millisecond, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, ""))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, ""))
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestLimiterRespectsCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: time.Hour, DefaultBurst: 1})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Wait(ctx, "proxy-x"))
	cancel()
	err := l.Wait(ctx, "proxy-x")
	require.Error(t, err)
}

func TestLimiterZeroDelayIsUnpaced(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(ctx, "proxy-1"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}
