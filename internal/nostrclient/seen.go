package nostrclient

import "sync"

// seenIDs remembers event ids delivered by any relay during this process.
type seenIDs struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newSeenIDs() *seenIDs {
	return &seenIDs{ids: make(map[string]struct{})}
}

// Seen reports whether id was seen before and records it.
func (s *seenIDs) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return true
	}
	s.ids[id] = struct{}{}
	return false
}
