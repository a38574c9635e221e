package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps suppression marks in process memory for single-instance mode.
// Params: in-memory mark map and injected clock.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu    sync.RWMutex
	now   func() time.Time
	marks map[string]memoryMark
}

type memoryMark struct {
	deliveredAt time.Time
	expiresAt   time.Time
}

// NewMemoryStore creates in-memory suppression store.
// Params: now function (defaults to time.Now when nil).
// Returns: initialized in-memory store.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:   now,
		marks: make(map[string]memoryMark),
	}
}

// MarkDelivered records delivery mark for dedup key.
// Params: dedup key, delivery time, and suppression window TTL.
// Returns: nil (in-memory update).
func (s *MemoryStore) MarkDelivered(_ context.Context, dedupKey string, deliveredAt time.Time, window time.Duration) error {
	var expiresAt time.Time
	if window > 0 {
		expiresAt = deliveredAt.Add(window)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[dedupKey] = memoryMark{deliveredAt: deliveredAt, expiresAt: expiresAt}
	return nil
}

// Suppressed reports whether mark exists and is not expired.
// Params: dedup key.
// Returns: true when mark is present and unexpired.
func (s *MemoryStore) Suppressed(_ context.Context, dedupKey string) (bool, error) {
	s.mu.RLock()
	mark, ok := s.marks[dedupKey]
	if !ok {
		s.mu.RUnlock()
		return false, nil
	}
	expiresAt := mark.expiresAt
	if expiresAt.IsZero() || s.now().Before(expiresAt) {
		s.mu.RUnlock()
		return true, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	mark, ok = s.marks[dedupKey]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	expiresAt = mark.expiresAt
	if expiresAt.IsZero() || s.now().Before(expiresAt) {
		s.mu.Unlock()
		return true, nil
	}
	delete(s.marks, dedupKey)
	s.mu.Unlock()
	return false, nil
}

// Compact removes expired marks and enforces optional size cap.
// Params: max retained marks (0 disables the cap).
// Returns: number of evicted marks.
func (s *MemoryStore) Compact(maxMarks int) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, mark := range s.marks {
		if !mark.expiresAt.IsZero() && !now.Before(mark.expiresAt) {
			delete(s.marks, key)
			evicted++
		}
	}
	if maxMarks <= 0 || len(s.marks) <= maxMarks {
		return evicted
	}

	for len(s.marks) > maxMarks {
		oldestKey := ""
		var oldestAt time.Time
		for key, mark := range s.marks {
			if oldestKey == "" || mark.deliveredAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = mark.deliveredAt
			}
		}
		delete(s.marks, oldestKey)
		evicted++
	}
	return evicted
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}
