package harvest

import "sync"

// WindowBreaker is a job-scoped circuit breaker over a sliding window of
// recent fetch outcomes. It trips when the failure rate across the window
// exceeds the threshold, once enough samples exist to judge. Tripping is
// latched: a tripped breaker stays open for the rest of the job.
type WindowBreaker struct {
	mu        sync.Mutex
	window    []bool
	next      int
	filled    int
	failures  int
	minSample int
	threshold float64
	tripped   bool
}

// NewWindowBreaker builds a breaker over the last `window` outcomes,
// judging only after minSamples outcomes, tripping at failure rate
// >= threshold (0..1].
func NewWindowBreaker(window, minSamples int, threshold float64) *WindowBreaker {
	if window <= 0 {
		window = 20
	}
	if minSamples <= 0 || minSamples > window {
		minSamples = window / 2
		if minSamples == 0 {
			minSamples = 1
		}
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &WindowBreaker{
		window:    make([]bool, window),
		minSample: minSamples,
		threshold: threshold,
	}
}

// Record folds one fetch outcome into the window.
func (b *WindowBreaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		return
	}
	if b.filled == len(b.window) {
		if !b.window[b.next] {
			b.failures--
		}
	} else {
		b.filled++
	}
	b.window[b.next] = success
	if !success {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.window)

	if b.filled >= b.minSample {
		rate := float64(b.failures) / float64(b.filled)
		if rate >= b.threshold {
			b.tripped = true
		}
	}
}

// Tripped reports whether the breaker is open.
func (b *WindowBreaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// FailureRate returns the current windowed failure rate.
func (b *WindowBreaker) FailureRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.filled == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.filled)
}
