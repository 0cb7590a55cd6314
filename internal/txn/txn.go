package txn

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/mvccindex/model"
)

var (
	// ErrUnknownTransaction is returned when committing or aborting an xid
	// that was never started.
	ErrUnknownTransaction = errors.New("unknown transaction")
	// ErrNotInProgress is returned when finishing an already finished xid.
	ErrNotInProgress = errors.New("transaction not in progress")
)

// Status is the commit-log state of one xid.
type Status uint8

const (
	StatusInProgress Status = iota
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in-progress"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// StatusSource answers commit-log lookups.
type StatusSource interface {
	Status(xid model.XID) Status
}

// Manager allocates xids and records their outcome.
type Manager struct {
	mu     sync.RWMutex
	next   model.XID
	status map[model.XID]Status
	active map[model.XID]struct{}
	// held are acquired snapshots; their XMin bounds OldestActive.
	held map[*Snapshot]struct{}
}

// NewManager creates a manager whose first xid is model.FirstNormalXID.
func NewManager() *Manager {
	return &Manager{
		next:   model.FirstNormalXID,
		status: make(map[model.XID]Status),
		active: make(map[model.XID]struct{}),
		held:   make(map[*Snapshot]struct{}),
	}
}

// Begin starts a transaction.
func (m *Manager) Begin() model.XID {
	m.mu.Lock()
	defer m.mu.Unlock()

	xid := m.next
	m.next++
	m.status[xid] = StatusInProgress
	m.active[xid] = struct{}{}
	return xid
}

// Commit marks xid committed.
func (m *Manager) Commit(xid model.XID) error {
	return m.finish(xid, StatusCommitted)
}

// Abort marks xid aborted.
func (m *Manager) Abort(xid model.XID) error {
	return m.finish(xid, StatusAborted)
}

func (m *Manager) finish(xid model.XID, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.status[xid]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTransaction, xid)
	}
	if cur != StatusInProgress {
		return fmt.Errorf("%w: %d is %s", ErrNotInProgress, xid, cur)
	}
	m.status[xid] = s
	delete(m.active, xid)
	return nil
}

// Status implements StatusSource. FrozenXID is always committed; an xid the
// manager never handed out reads as aborted.
func (m *Manager) Status(xid model.XID) Status {
	if xid == model.FrozenXID {
		return StatusCommitted
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.status[xid]
	if !ok {
		return StatusAborted
	}
	return s
}

// Snapshot captures the current visibility horizon on behalf of self.
// self may be model.InvalidXID for read-only snapshots. The snapshot does not
// hold back OldestActive; use Acquire for snapshots that outlive a vacuum.
func (m *Manager) Snapshot(self model.XID) *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(self)
}

// Acquire captures a snapshot like Snapshot and keeps OldestActive at or
// below its XMin until the snapshot is released.
func (m *Manager) Acquire(self model.XID) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked(self)
	snap.owner = m
	m.held[snap] = struct{}{}
	return snap
}

// Release drops an acquired snapshot. Releasing twice is a no-op.
func (m *Manager) Release(snap *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, snap)
}

// HeldSnapshots returns the number of acquired, unreleased snapshots.
func (m *Manager) HeldSnapshots() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.held)
}

func (m *Manager) snapshotLocked(self model.XID) *Snapshot {
	snap := &Snapshot{
		XMax: m.next,
		Self: self,
	}
	snap.XMin = snap.XMax
	for xid := range m.active {
		if xid == self {
			continue
		}
		snap.InProgress = append(snap.InProgress, xid)
		snap.XMin = min(snap.XMin, xid)
	}
	if self.IsNormal() {
		snap.XMin = min(snap.XMin, self)
	}
	slices.Sort(snap.InProgress)
	return snap
}

// OldestActive returns the oldest xid any running transaction or held
// snapshot might still need to see as in progress. Versions deleted by xids
// committed below it are dead to every snapshot.
func (m *Manager) OldestActive() model.XID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	oldest := m.next
	for xid := range m.active {
		oldest = min(oldest, xid)
	}
	for snap := range m.held {
		oldest = min(oldest, snap.XMin)
	}
	return oldest
}

// Snapshot is a point-in-time view of committed transactions.
type Snapshot struct {
	// XMin is the oldest xid that was still running; everything below it
	// has finished.
	XMin model.XID `json:"xmin"`
	// XMax is the first xid not yet assigned; everything at or above it is
	// invisible.
	XMax model.XID `json:"xmax"`
	// InProgress lists running xids in [XMin, XMax), sorted.
	InProgress []model.XID `json:"xip,omitempty"`
	// Self is the transaction owning the snapshot, if any.
	Self model.XID `json:"self,omitempty"`

	owner *Manager
}

// Release gives an acquired snapshot back to its manager. It is a no-op for
// snapshots that were not acquired and for copies made by Clone.
func (s *Snapshot) Release() {
	if s != nil && s.owner != nil {
		s.owner.Release(s)
	}
}

// InProgressAt reports whether xid counts as still running for s.
func (s *Snapshot) InProgressAt(xid model.XID) bool {
	if xid == model.FrozenXID {
		return false
	}
	if xid >= s.XMax {
		return true
	}
	if xid < s.XMin {
		return false
	}
	_, found := slices.BinarySearch(s.InProgress, xid)
	return found
}

// Sees reports whether the effects of xid are visible to s.
func (s *Snapshot) Sees(xid model.XID, clog StatusSource) bool {
	switch {
	case xid == model.InvalidXID:
		return false
	case xid == model.FrozenXID:
		return true
	case s.Self.IsNormal() && xid == s.Self:
		return true
	case s.InProgressAt(xid):
		return false
	}
	return clog.Status(xid) == StatusCommitted
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.InProgress = slices.Clone(s.InProgress)
	c.owner = nil
	return &c
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot{xmin=%d xmax=%d xip=%v self=%d}", s.XMin, s.XMax, s.InProgress, s.Self)
}
