package serviceability

import (
	"sync"
	"time"
)

// Manager is one collection manager group: a name, the human-readable
// trigger description its completion event carries, and the ordered pools
// whose usage that collection can reduce.
type Manager struct {
	name    string
	trigger string

	mu            sync.Mutex
	pools         []*Pool
	collections   uint64
	lastDuration  time.Duration
	lastReclaimed uint64
	lastEnd       time.Time
}

// NewManager builds an empty manager group. Pools are attached during the
// heap's deferred serviceability initialization, once generation sizing is
// known.
func NewManager(name, trigger string) *Manager {
	return &Manager{name: name, trigger: trigger}
}

func (m *Manager) Name() string    { return m.name }
func (m *Manager) Trigger() string { return m.trigger }

// AddPool appends a pool to the ordered list.
func (m *Manager) AddPool(p *Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools = append(m.pools, p)
}

// Pools returns the ordered pool list.
func (m *Manager) Pools() []*Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Pool, len(m.pools))
	copy(out, m.pools)
	return out
}

// RecordCollection notes a completed collection attributed to this manager.
// Called by the heap controller after every relevant pause.
func (m *Manager) RecordCollection(d time.Duration, reclaimed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections++
	m.lastDuration = d
	m.lastReclaimed = reclaimed
	m.lastEnd = time.Now()
}

// Collections returns how many collections this manager has completed.
func (m *Manager) Collections() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collections
}

// ManagerSnapshot is one manager group's reported state.
type ManagerSnapshot struct {
	Name          string        `json:"name"`
	Trigger       string        `json:"trigger"`
	Collections   uint64        `json:"collections"`
	LastDuration  time.Duration `json:"last_duration_ns"`
	LastReclaimed uint64        `json:"last_reclaimed"`
	Pools         []Snapshot    `json:"pools"`
}

// Snapshot reads the manager's current state, pool values included.
func (m *Manager) Snapshot() ManagerSnapshot {
	m.mu.Lock()
	pools := make([]*Pool, len(m.pools))
	copy(pools, m.pools)
	snap := ManagerSnapshot{
		Name:          m.name,
		Trigger:       m.trigger,
		Collections:   m.collections,
		LastDuration:  m.lastDuration,
		LastReclaimed: m.lastReclaimed,
	}
	m.mu.Unlock()

	snap.Pools = make([]Snapshot, 0, len(pools))
	for _, p := range pools {
		snap.Pools = append(snap.Pools, p.Snapshot())
	}
	return snap
}
