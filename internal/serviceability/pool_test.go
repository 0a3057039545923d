package serviceability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	used, committed, max uint64
}

func (s *fakeSource) Used() uint64      { return s.used }
func (s *fakeSource) Committed() uint64 { return s.committed }
func (s *fakeSource) Max() uint64       { return s.max }

func TestPoolReadsSourceFresh(t *testing.T) {
	src := &fakeSource{used: 100, committed: 4096, max: 8192}
	p := NewEdenPool("Eden Space", src)

	assert.Equal(t, uint64(100), p.Used())
	src.used = 250
	assert.Equal(t, uint64(250), p.Used(), "pool must not cache usage")
	assert.Equal(t, uint64(4096), p.Committed())
	assert.Equal(t, uint64(8192), p.Max())
}

func TestPoolKinds(t *testing.T) {
	src := &fakeSource{}
	eden := NewEdenPool("Eden Space", src)
	surv := NewSurvivorPool("Survivor Space", src)
	gen := NewGenerationPool("Tenured Gen", src)

	assert.Equal(t, EdenPool, eden.Kind())
	assert.Equal(t, SurvivorPool, surv.Kind())
	assert.Equal(t, GenerationPool, gen.Kind())

	assert.False(t, eden.SupportsUsageThreshold())
	assert.False(t, surv.SupportsUsageThreshold())
	assert.True(t, gen.SupportsUsageThreshold())

	assert.Equal(t, "eden", EdenPool.String())
	assert.Equal(t, "survivor", SurvivorPool.String())
	assert.Equal(t, "generation", GenerationPool.String())
	assert.Equal(t, "unknown", PoolKind(42).String())
}

func TestPoolSnapshot(t *testing.T) {
	src := &fakeSource{used: 64, committed: 4096, max: 8192}
	p := NewGenerationPool("Tenured Gen", src)

	snap := p.Snapshot()
	assert.Equal(t, "Tenured Gen", snap.Name)
	assert.Equal(t, "generation", snap.Kind)
	assert.Equal(t, uint64(64), snap.Used)
	assert.Equal(t, uint64(4096), snap.Committed)
	assert.Equal(t, uint64(8192), snap.Max)
	assert.True(t, snap.SupportsThreshold)
}

func TestManagerRecordsCollections(t *testing.T) {
	m := NewManager("Copy", "end of minor GC")
	assert.Equal(t, "Copy", m.Name())
	assert.Equal(t, "end of minor GC", m.Trigger())
	assert.Zero(t, m.Collections())

	m.RecordCollection(5*time.Millisecond, 2048)
	m.RecordCollection(3*time.Millisecond, 1024)
	assert.Equal(t, uint64(2), m.Collections())

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Collections)
	assert.Equal(t, 3*time.Millisecond, snap.LastDuration)
	assert.Equal(t, uint64(1024), snap.LastReclaimed)
}

func TestManagerSnapshotIncludesPoolsInOrder(t *testing.T) {
	src := &fakeSource{used: 10, committed: 20, max: 30}
	m := NewManager("MarkSweepCompact", "end of major GC")
	m.AddPool(NewEdenPool("Eden Space", src))
	m.AddPool(NewSurvivorPool("Survivor Space", src))
	m.AddPool(NewGenerationPool("Tenured Gen", src))

	snap := m.Snapshot()
	if assert.Len(t, snap.Pools, 3) {
		assert.Equal(t, "Eden Space", snap.Pools[0].Name)
		assert.Equal(t, "Survivor Space", snap.Pools[1].Name)
		assert.Equal(t, "Tenured Gen", snap.Pools[2].Name)
	}
	assert.Len(t, m.Pools(), 3)
}
