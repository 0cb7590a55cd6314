package pin

import (
	"sync"

	"github.com/hupe1980/mvccindex/internal/pagestore"
	"github.com/hupe1980/mvccindex/model"
)

// Pinner hands out buffer pins.
type Pinner interface {
	Pin(blk model.BlockNumber) (*pagestore.Pin, error)
}

// Set maps a location to the single pin held on it. Pinning a location twice
// keeps one pin; Unpin drops it regardless of how often it was pinned.
// Pins are only released through Unpin or ReleaseAll.
type Set struct {
	pages Pinner

	mu   sync.Mutex
	pins map[model.BlockNumber]*pagestore.Pin
}

// NewSet creates an empty set pinning through pages.
func NewSet(pages Pinner) *Set {
	return &Set{pages: pages, pins: make(map[model.BlockNumber]*pagestore.Pin)}
}

// Pin pins blk unless the set already holds it.
func (s *Set) Pin(blk model.BlockNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pins[blk]; ok {
		return nil
	}
	p, err := s.pages.Pin(blk)
	if err != nil {
		return err
	}
	s.pins[blk] = p
	return nil
}

// Unpin releases the pin on blk. It reports whether one was held.
func (s *Set) Unpin(blk model.BlockNumber) bool {
	s.mu.Lock()
	p, ok := s.pins[blk]
	delete(s.pins, blk)
	s.mu.Unlock()

	if ok {
		p.Release()
	}
	return ok
}

// IsPinned reports whether the set holds a pin on blk.
func (s *Set) IsPinned(blk model.BlockNumber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pins[blk]
	return ok
}

// Len returns the number of pinned locations.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pins)
}

// ReleaseAll drops every pin and returns how many were held.
func (s *Set) ReleaseAll() int {
	s.mu.Lock()
	pins := s.pins
	s.pins = make(map[model.BlockNumber]*pagestore.Pin)
	s.mu.Unlock()

	for _, p := range pins {
		p.Release()
	}
	return len(pins)
}
