// Package random provides a goroutine-safe, seedable random source shared by
// the simulation components.
package random

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source is a mutex-guarded *rand.Rand
type Source struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New creates a Source with a fixed seed. The same seed yields the same
// sequence of draws.
func New(seed uint64) *Source {
	return &Source{
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// NewTimeSeeded creates a Source seeded from the current time
func NewTimeSeeded() *Source {
	return New(uint64(time.Now().UnixNano()))
}

// IntN returns a value in [0, n). It panics if n <= 0.
func (s *Source) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.IntN(n)
}

// Int64N returns a value in [0, n). It panics if n <= 0.
func (s *Source) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Int64N(n)
}

// Float64 returns a value in [0.0, 1.0)
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

// Between returns a value in [lo, hi]. It returns lo when hi <= lo.
func (s *Source) Between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.IntN(hi-lo+1)
}

// Duration returns a value in [lo, hi). It returns lo when hi <= lo.
func (s *Source) Duration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.Int64N(int64(hi-lo)))
}

// Pick returns a random element of items and false when items is empty
func Pick[T any](s *Source, items []T) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	return items[s.IntN(len(items))], true
}
