package harvest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVisitSetMarkIfNew(t *testing.T) {
	t.Parallel()

	set := NewVisitSet()
	require.True(t, set.MarkIfNew("https://mp.weixin.qq.com/s/first"))
	require.False(t, set.MarkIfNew("https://mp.weixin.qq.com/s/first"))
	require.True(t, set.MarkIfNew("https://mp.weixin.qq.com/s/second"))
	require.False(t, set.MarkIfNew(""), "empty key is never new")
	require.Equal(t, 2, set.Len())
	require.True(t, set.Seen("https://mp.weixin.qq.com/s/first"))
	require.False(t, set.Seen("https://mp.weixin.qq.com/s/third"))
}

func TestVisitSetSharedAcrossDiscoveryPaths(t *testing.T) {
	t.Parallel()

	// One set per job: a URL surfaced both as a DOM anchor and through a
	// mined payload must only be claimed by the first caller, regardless
	// of which URL variant carried it.
	set := NewVisitSet()
	domKey, err := CanonicalizeURL("https://mp.weixin.qq.com/s/abc123?chksm=tr4ck#wechat_redirect")
	require.NoError(t, err)
	minedKey, err := CanonicalizeURL("https://mp.weixin.qq.com/s/abc123")
	require.NoError(t, err)
	require.Equal(t, domKey, minedKey)

	require.True(t, set.MarkIfNew(domKey))
	require.False(t, set.MarkIfNew(minedKey))
	require.Equal(t, 1, set.Len())
}

func TestVisitSetConcurrentClaims(t *testing.T) {
	t.Parallel()

	set := NewVisitSet()
	const claimers = 16
	wins := make(chan bool, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- set.MarkIfNew("https://mp.weixin.qq.com/s/contested")
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for claimed := range wins {
		if claimed {
			won++
		}
	}
	require.Equal(t, 1, won, "exactly one claimer should win")
	require.Equal(t, 1, set.Len())
}

func TestTimerPauserHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pauser := NewTimerPauser()
	start := time.Now()
	pauser.Pause(ctx, 5*time.Second)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}

func TestTimerPauserSkipsNonPositiveDelay(t *testing.T) {
	t.Parallel()

	pauser := NewTimerPauser()
	start := time.Now()
	pauser.Pause(context.Background(), 0)
	pauser.Pause(context.Background(), -time.Second)
	require.Less(t, time.Since(start), 100*time.Millisecond)
}
