package heap

import "sync"

// GCLocker gates collection pauses behind external critical sections. While
// any mutator holds a pin (a raw-address critical section, e.g. a foreign
// call into non-moving memory), a pause cannot begin; while a pause is
// pending or in progress, new pins block until it ends.
//
// Pins carry no timeout and must be matched: a leaked pin permanently
// blocks collection. That risk is the caller's discipline, not handled
// here.
type GCLocker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pins    int
	pending bool // a pause is waiting for pins to drain
	paused  bool // the pause has begun
}

func NewGCLocker() *GCLocker {
	l := &GCLocker{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// LockCritical enters a critical section for thread, blocking while a
// collection pause is pending or in progress rather than racing it.
func (l *GCLocker) LockCritical(t *Thread) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.pending || l.paused {
		l.cond.Wait()
	}
	l.pins++
	if t != nil {
		t.pins++
	}
}

// UnlockCritical leaves a critical section. Never blocks: a pending pause
// may be waiting for exactly this release.
func (l *GCLocker) UnlockCritical(t *Thread) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pins == 0 {
		panic("heap: unmatched UnlockCritical")
	}
	l.pins--
	if t != nil {
		t.pins--
	}
	if l.pins == 0 {
		l.cond.Broadcast()
	}
}

// Pins returns the current critical-section count.
func (l *GCLocker) Pins() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pins
}

// pauseBegin blocks until every held pin is released, then marks the
// pause begun. New pins block from the moment the pause becomes pending,
// so the wait is bounded by the currently held sections.
func (l *GCLocker) pauseBegin() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = true
	for l.pins > 0 {
		l.cond.Wait()
	}
	l.pending = false
	l.paused = true
}

// pauseEnd clears the pause and wakes blocked pinners.
func (l *GCLocker) pauseEnd() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
	l.cond.Broadcast()
}

// Paused reports whether a pause has begun and not yet ended. A pause
// still waiting for pins to drain does not count: no heap structure moves
// before the drain completes.
func (l *GCLocker) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}
