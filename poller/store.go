// Package poller runs one concurrent polling task per configured
// component: read the device state, publish per-attribute telemetry and
// availability, and feed camera frames into the image pipeline.
package poller

import (
	"sync"

	"github.com/mawinkler/astrolive/observatory"
)

// Store keeps the latest snapshot per component. Camera pollers read it to
// source caption metadata from the mount and filter wheel, since an image
// header alone may lack pointing information.
type Store struct {
	mu     sync.RWMutex
	latest map[string]observatory.Snapshot
}

// NewStore creates an empty snapshot store
func NewStore() *Store {
	return &Store{latest: make(map[string]observatory.Snapshot)}
}

// Put records a component's newest snapshot, superseding the previous one
func (s *Store) Put(snapshot observatory.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[snapshot.ComponentID] = snapshot
}

// Latest returns the newest snapshot for a component
func (s *Store) Latest(componentID string) (observatory.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.latest[componentID]
	return snapshot, ok
}

// Attribute returns one attribute value from a component's newest
// connected snapshot, or "" when absent
func (s *Store) Attribute(componentID, attribute string) string {
	snapshot, ok := s.Latest(componentID)
	if !ok || !snapshot.Connected {
		return ""
	}
	return snapshot.Attributes[attribute]
}
