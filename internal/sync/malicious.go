package sync

import (
	"sync"
	"time"
)

// maliciousSet is an expiring set of peer ids, lazily evicted on
// access rather than by a background goroutine — the same shape as
// the teacher's networking/benchlist.Manager (IsBenched/Bench), here
// tracking peers that sent a malformed or non-verifying sync response
// (spec.md §4.7 "added to an expiring malicious set").
type maliciousSet struct {
	mu       sync.RWMutex
	until    map[string]time.Time
	duration time.Duration
}

func newMaliciousSet(duration time.Duration) *maliciousSet {
	return &maliciousSet{until: make(map[string]time.Time), duration: duration}
}

func (m *maliciousSet) IsMalicious(peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.until[peer]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(m.until, peer)
		return false
	}
	return true
}

func (m *maliciousSet) Mark(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.until[peer] = time.Now().Add(m.duration)
}
