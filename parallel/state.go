package parallel

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// State is the coordination state shared by the workers of one scan. All
// fields are guarded by a spinlock; critical sections are a few loads and
// stores, so waiters yield instead of parking.
type State struct {
	_  cpu.CacheLinePad
	mu atomic.Uint32
	_  cpu.CacheLinePad

	launched  int
	remaining int
	total     int
}

// NewState creates the state for a scan over total segments.
func NewState(total int) *State {
	return &State{remaining: total, total: total}
}

// lock spins until the lock is held or ctx is done.
func (s *State) lock(ctx context.Context) bool {
	for !s.mu.CompareAndSwap(0, 1) {
		if ctx.Err() != nil {
			return false
		}
		runtime.Gosched()
	}
	return true
}

func (s *State) unlock() {
	s.mu.Store(0)
}

// Total returns the number of segments of the scan.
func (s *State) Total() int {
	return s.total
}

// SetLaunched publishes the number of participating workers.
func (s *State) SetLaunched(n int) {
	s.lock(context.Background())
	s.launched = n
	s.unlock()
}

// Launched returns the published worker count, zero until SetLaunched.
func (s *State) Launched() int {
	s.lock(context.Background())
	defer s.unlock()
	return s.launched
}

// WaitLaunched spins until the worker count is published.
func (s *State) WaitLaunched(ctx context.Context) (int, error) {
	for {
		if !s.lock(ctx) {
			return 0, ctx.Err()
		}
		n := s.launched
		s.unlock()
		if n > 0 {
			return n, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		runtime.Gosched()
	}
}

// Checkout claims the next segment, walking from the tail toward the head.
// It reports false once nothing is left or ctx is done.
func (s *State) Checkout(ctx context.Context) (int, bool) {
	if !s.lock(ctx) {
		return 0, false
	}
	defer s.unlock()

	if s.remaining == 0 {
		return 0, false
	}
	s.remaining--
	return s.remaining, true
}

// Remaining returns the number of unclaimed segments.
func (s *State) Remaining() int {
	s.lock(context.Background())
	defer s.unlock()
	return s.remaining
}

// Drain drops every unclaimed segment so no worker claims more.
func (s *State) Drain() int {
	s.lock(context.Background())
	defer s.unlock()
	n := s.remaining
	s.remaining = 0
	return n
}
