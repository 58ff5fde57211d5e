package harvest

import (
	"context"
	"time"
)

// Pauser abstracts how a worker waits out backoff and exhaustion delays.
// Waits end early when the context is cancelled.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// TimerPauser waits on a timer.
type TimerPauser struct{}

// NewTimerPauser creates a timer-backed Pauser.
func NewTimerPauser() *TimerPauser {
	return &TimerPauser{}
}

// Pause blocks for delay or until ctx is done, whichever comes first.
func (p *TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
