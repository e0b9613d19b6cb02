package kvstore

import (
	"sort"
	"sync"

	"github.com/samber/do"
)

// Service is an ad hoc key/value store used by sibling tools on the same
// server instance. The map is constructed at startup and owned here, never
// lazily initialized.
type Service struct {
	mu     sync.RWMutex
	values map[string]string
}

func New(_ *do.Injector) (*Service, error) {
	return &Service{
		values: make(map[string]string),
	}, nil
}

func (s *Service) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
}

func (s *Service) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	return value, ok
}

func (s *Service) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.values[key]
	delete(s.values, key)
	return ok
}

func (s *Service) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}
