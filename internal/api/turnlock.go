package api

import "sync"

// turnLocks enforces one in-flight turn per user. A second turn arriving
// while one is active is rejected rather than queued, mirroring the
// single-active-turn shape of the underlying conversation state machine.
type turnLocks struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

func newTurnLocks() *turnLocks {
	return &turnLocks{active: make(map[int64]struct{})}
}

// acquire reports whether the user may start a turn now.
func (t *turnLocks) acquire(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.active[userID]; busy {
		return false
	}
	t.active[userID] = struct{}{}
	return true
}

func (t *turnLocks) release(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, userID)
}
