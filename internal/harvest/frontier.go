package harvest

import (
	"container/heap"
	"context"
	"sync"
)

// Frontier is the per-job queue of candidates awaiting processing. Pops are
// ordered by discovery depth (then submission order), so shallower pages are
// visited before the links they produced. The frontier also tracks in-flight
// candidates: Next blocks while the queue is empty but work is still pending,
// and reports exhaustion only once the queue is drained and every popped
// candidate has been marked Done. That is what lets several loops share one
// frontier without racing on "is the job finished yet".
type Frontier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    candidateHeap
	seq      int64
	inFlight int
	closed   bool
}

// NewFrontier creates an empty frontier.
func NewFrontier() *Frontier {
	f := &Frontier{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Push adds candidates to the frontier. Pushes after Close are dropped.
func (f *Frontier) Push(candidates ...Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, c := range candidates {
		f.seq++
		heap.Push(&f.items, frontierEntry{candidate: c, seq: f.seq})
	}
	f.cond.Broadcast()
}

// Next pops the shallowest pending candidate. It blocks while the queue is
// empty but other candidates are still in flight, since those may push more
// work. It returns ok=false once the frontier is exhausted, closed, or ctx is
// done. Every successful Next must be paired with exactly one Done.
func (f *Frontier) Next(ctx context.Context) (Candidate, bool) {
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.closed || ctx.Err() != nil {
			return Candidate{}, false
		}
		if f.items.Len() > 0 {
			entry := heap.Pop(&f.items).(frontierEntry)
			f.inFlight++
			return entry.candidate, true
		}
		if f.inFlight == 0 {
			f.closed = true
			f.cond.Broadcast()
			return Candidate{}, false
		}
		f.cond.Wait()
	}
}

// Done marks one popped candidate as fully processed, expansion included.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	f.cond.Broadcast()
}

// Close discards pending candidates and unblocks all waiters. Used when a job
// hits its budget, trips the breaker, or is cancelled.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.items = nil
	f.cond.Broadcast()
}

// Len returns the number of queued (not in-flight) candidates.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Len()
}

type frontierEntry struct {
	candidate Candidate
	seq       int64
}

type candidateHeap []frontierEntry

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	if h[i].candidate.Depth != h[j].candidate.Depth {
		return h[i].candidate.Depth < h[j].candidate.Depth
	}
	return h[i].seq < h[j].seq
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(frontierEntry))
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
