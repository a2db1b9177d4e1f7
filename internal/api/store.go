package api

import (
	"sync"

	"github.com/samcharles93/ggload/internal/tensor"
	"golang.org/x/sync/singleflight"
)

// SummaryStore caches tensor summaries. Concurrent requests for the same
// tensor share one decode.
type SummaryStore struct {
	mu        sync.Mutex
	summaries map[string]tensor.Summary
	group     singleflight.Group
}

func NewSummaryStore() *SummaryStore {
	return &SummaryStore{summaries: make(map[string]tensor.Summary)}
}

func (s *SummaryStore) Get(name string) (tensor.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[name]
	return sum, ok
}

func (s *SummaryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.summaries)
}

// Compute returns the cached summary for name or builds it from t.
func (s *SummaryStore) Compute(name string, t tensor.Tensor) (tensor.Summary, error) {
	if sum, ok := s.Get(name); ok {
		return sum, nil
	}
	v, err, _ := s.group.Do(name, func() (any, error) {
		values, err := t.Materialize()
		if err != nil {
			return nil, err
		}
		sum := tensor.Summarize(values)
		s.mu.Lock()
		s.summaries[name] = sum
		s.mu.Unlock()
		return sum, nil
	})
	if err != nil {
		return tensor.Summary{}, err
	}
	return v.(tensor.Summary), nil
}
