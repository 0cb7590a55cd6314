package txn

import (
	"maps"

	"github.com/hupe1980/mvccindex/model"
)

// Image is a point-in-time copy of the commit log.
type Image struct {
	Next   model.XID            `json:"next"`
	Status map[model.XID]Status `json:"status"`
}

// Image copies the commit log.
func (m *Manager) Image() Image {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Image{Next: m.next, Status: maps.Clone(m.status)}
}

// Restore rebuilds a manager from img. Transactions still in progress when
// the image was taken can never finish and are recorded as aborted.
func Restore(img Image) *Manager {
	m := NewManager()
	if img.Next > m.next {
		m.next = img.Next
	}
	for xid, s := range img.Status {
		if s == StatusInProgress {
			s = StatusAborted
		}
		m.status[xid] = s
	}
	return m
}
