package memory

import (
	"context"
	"errors"
	"sync"

	"mpharvester/internal/harvest"
)

// ArticleStore keeps article records in-memory keyed by canonical URL.
type ArticleStore struct {
	mu       sync.RWMutex
	articles map[string]harvest.ArticleRecord
}

// NewArticleStore constructs an ArticleStore.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{
		articles: make(map[string]harvest.ArticleRecord),
	}
}

// Save persists the record unless its canonical URL was already stored.
func (s *ArticleStore) Save(_ context.Context, record harvest.ArticleRecord) (harvest.SaveOutcome, error) {
	if record.URL == "" {
		return harvest.SaveStored, errors.New("article url is required")
	}
	key := harvest.CanonicalKey(record.URL)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.articles[key]; exists {
		return harvest.SaveDuplicate, nil
	}
	s.articles[key] = record
	return harvest.SaveStored, nil
}

// Exists reports whether the canonical URL has been stored.
func (s *ArticleStore) Exists(_ context.Context, url string) (bool, error) {
	key := harvest.CanonicalKey(url)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.articles[key]
	return ok, nil
}

// Close implements harvest.ArticleStore; it performs no action.
func (s *ArticleStore) Close() error {
	return nil
}

// Len reports the number of stored articles, primarily for tests.
func (s *ArticleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}
