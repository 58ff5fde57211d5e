package harvest

import (
	"sync"
	"sync/atomic"
)

// VisitSet tracks canonicalized URLs already claimed within one job. All
// strategies share one set, so a URL discovered twice is fetched once.
type VisitSet struct {
	seen  sync.Map
	count atomic.Int64
}

// NewVisitSet creates an empty visit set.
func NewVisitSet() *VisitSet {
	return &VisitSet{}
}

// MarkIfNew claims url and returns true if it was not seen before.
func (s *VisitSet) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := s.seen.LoadOrStore(url, struct{}{})
	if !loaded {
		s.count.Add(1)
	}
	return !loaded
}

// Seen reports whether url has been claimed.
func (s *VisitSet) Seen(url string) bool {
	_, ok := s.seen.Load(url)
	return ok
}

// Len returns the number of distinct URLs claimed.
func (s *VisitSet) Len() int {
	return int(s.count.Load())
}
