package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyRetriesTransient(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)

	err := Transientf("navigation timeout")
	require.True(t, p.ShouldRetry(err, 0))
	require.True(t, p.ShouldRetry(err, 2))
	require.False(t, p.ShouldRetry(err, 3), "attempts at the ceiling stop retrying")
}

func TestRetryPolicyNeverRetriesPermanent(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)

	require.False(t, p.ShouldRetry(Permanentf("page removed"), 0))
	require.False(t, p.ShouldRetry(&ExtractionError{URL: "u", Err: errors.New("no title")}, 0))
}

func TestRetryPolicyRetriesDetection(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(2, 10*time.Millisecond, 100*time.Millisecond)
	require.True(t, p.ShouldRetry(&DetectionError{Marker: "body:captcha"}, 0))
}

func TestRetryPolicyStopsOnContextErrors(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 10*time.Millisecond, 100*time.Millisecond)
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
	require.False(t, p.ShouldRetry(WrapTransient("fetch", context.Canceled), 0))
}

func TestRetryPolicyBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)

	first := p.Backoff(0)
	require.GreaterOrEqual(t, first, 50*time.Millisecond)
	require.LessOrEqual(t, first, 100*time.Millisecond)

	capped := p.Backoff(10)
	require.LessOrEqual(t, capped, 400*time.Millisecond)
	require.GreaterOrEqual(t, capped, 200*time.Millisecond)
}

func TestRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(0, 0, 0)
	require.Equal(t, 3, p.MaxAttempts())
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	require.True(t, IsTransient(Transientf("timeout")))
	require.True(t, IsTransient(&DetectionError{Marker: "url:captcha"}))
	require.False(t, IsTransient(Permanentf("gone")))

	require.True(t, IsPermanent(Permanentf("gone")))
	require.True(t, IsPermanent(&ExtractionError{URL: "u", Err: errors.New("empty")}))
	require.False(t, IsPermanent(Transientf("later")))

	require.True(t, IsDetection(&DetectionError{Marker: "m"}))
	wrapped := WrapTransient("fetch", &DetectionError{Marker: "m"})
	require.True(t, IsDetection(wrapped))
}
