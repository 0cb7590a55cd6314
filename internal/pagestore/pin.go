package pagestore

import (
	"fmt"
	"sync"

	"github.com/hupe1980/mvccindex/model"
)

// Pin is one buffer pin on a block. Release is idempotent.
type Pin struct {
	store *Store
	block model.BlockNumber
	once  sync.Once
}

// Block returns the pinned block.
func (p *Pin) Block() model.BlockNumber {
	return p.block
}

// Release drops the pin.
func (p *Pin) Release() {
	p.once.Do(func() {
		s := p.store
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pins[p.block] <= 1 {
			delete(s.pins, p.block)
			return
		}
		s.pins[p.block]--
	})
}

// Pin takes a buffer pin on blk.
func (s *Store) Pin(blk model.BlockNumber) (*Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint32(blk) >= s.nblocks {
		return nil, fmt.Errorf("pin %d: %w", blk, ErrBlockOutOfRange)
	}
	s.pins[blk]++
	return &Pin{store: s, block: blk}, nil
}

// PinCount returns the number of pins held on blk.
func (s *Store) PinCount(blk model.BlockNumber) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pins[blk]
}

// ConditionalCleanup reports whether blk may be reclaimed right now, i.e.
// whether nobody holds a pin on it. It never blocks.
func (s *Store) ConditionalCleanup(blk model.BlockNumber) bool {
	return s.PinCount(blk) == 0
}
