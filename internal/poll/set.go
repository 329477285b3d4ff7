package poll

import (
	"sort"
	"sync"
)

// Set tracks the controllers of one process run for status reporting.
type Set struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{controllers: make(map[string]*Controller)}
}

// Add registers c under its thread URL, replacing any earlier controller
// for the same URL.
func (s *Set) Add(c *Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controllers[c.Snapshot().URL] = c
}

// Get returns the controller for url.
func (s *Set) Get(url string) (*Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.controllers[url]
	return c, ok
}

// Len reports how many controllers are registered.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.controllers)
}

// Snapshots returns every controller's snapshot ordered by URL.
func (s *Set) Snapshots() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.controllers))
	for _, c := range s.controllers {
		out = append(out, c.Snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
