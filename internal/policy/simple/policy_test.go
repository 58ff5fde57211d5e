package simple

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicyNeverWaits(t *testing.T) {
	t.Parallel()

	p := New()
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Wait(context.Background(), "proxy-1"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}
