package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeOld allocates an object and drives it through enough minor
// collections to tenure it into the old generation.
func makeOld(t *testing.T, h *Heap, th *Thread, slot int, payload uint64, refs int) Address {
	t.Helper()
	addr, err := h.Allocate(payload, refs, false)
	require.NoError(t, err)
	th.Frames[0].Slots[slot] = addr
	for i := 0; i < int(h.tenure); i++ {
		require.NoError(t, h.MinorCollect())
	}
	addr = th.Frames[0].Slots[slot]
	require.True(t, h.old.Contains(addr), "object did not tenure")
	return addr
}

func TestMinorCollectionPreservesReachableGraph(t *testing.T) {
	h := newTestHeap(t, nil)
	th := newRootedThread(h, 4)

	// root -> a -> b, with payload data past b's reference slots.
	a, err := h.Allocate(64, 1, false)
	require.NoError(t, err)
	b, err := h.Allocate(64, 1, false)
	require.NoError(t, err)
	require.NoError(t, h.WriteRef(a, 0, b))
	th.Frames[0].Slots[0] = a

	marker := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	copy(h.object(b).mem[HeaderSize+WordSize:], marker)

	require.NoError(t, h.MinorCollect())

	movedA := th.Frames[0].Slots[0]
	assert.NotEqual(t, a, movedA)
	assert.True(t, h.young.from.Contains(movedA))

	movedB, err := h.ReadRef(movedA, 0)
	require.NoError(t, err)
	assert.NotEqual(t, b, movedB)
	assert.True(t, h.young.from.Contains(movedB))
	assert.Equal(t, marker, []byte(h.object(movedB).mem[HeaderSize+WordSize:HeaderSize+WordSize+4]))
}

func TestMinorCollectionDropsUnreachable(t *testing.T) {
	h := newTestHeap(t, nil)
	newRootedThread(h, 4)

	_, err := h.Allocate(64, 0, false)
	require.NoError(t, err)

	require.NoError(t, h.MinorCollect())
	assert.Equal(t, uint64(0), h.young.Used())
	assert.Equal(t, uint64(0), h.old.Used())
}

func TestSharedObjectCopiedOnce(t *testing.T) {
	h := newTestHeap(t, nil)
	th := newRootedThread(h, 4)

	// Two roots and one object slot all reach the same target.
	shared, err := h.Allocate(64, 0, false)
	require.NoError(t, err)
	holder, err := h.Allocate(64, 1, false)
	require.NoError(t, err)
	require.NoError(t, h.WriteRef(holder, 0, shared))
	th.Frames[0].Slots[0] = shared
	th.Frames[0].Slots[1] = holder
	th.Frames[0].Slots[2] = shared

	require.NoError(t, h.MinorCollect())

	moved := th.Frames[0].Slots[0]
	assert.Equal(t, moved, th.Frames[0].Slots[2])
	viaHolder, err := h.ReadRef(th.Frames[0].Slots[1], 0)
	require.NoError(t, err)
	assert.Equal(t, moved, viaHolder)

	// Exactly two survivors: shared object and holder.
	expected := h.object(moved).TotalSize() + h.object(th.Frames[0].Slots[1]).TotalSize()
	assert.Equal(t, expected, h.young.from.Used())
}

func TestTenuringPromotesToOld(t *testing.T) {
	h := newTestHeap(t, nil)
	th := newRootedThread(h, 4)

	addr, err := h.Allocate(64, 0, false)
	require.NoError(t, err)
	th.Frames[0].Slots[0] = addr

	// First collection: eden -> survivor.
	require.NoError(t, h.MinorCollect())
	assert.True(t, h.young.from.Contains(th.Frames[0].Slots[0]))

	// Second collection: survivor -> old at tenure age 2.
	require.NoError(t, h.MinorCollect())
	assert.True(t, h.old.Contains(th.Frames[0].Slots[0]))
	assert.Positive(t, h.Stats().PromotedBytes)
}

func TestWriteBarrierRecordsOldToYoung(t *testing.T) {
	h := newTestHeap(t, nil)
	th := newRootedThread(h, 4)

	o := makeOld(t, h, th, 0, 64, 1)
	y, err := h.Allocate(64, 0, false)
	require.NoError(t, err)
	th.Frames[0].Slots[1] = y

	require.NoError(t, h.WriteRef(o, 0, y))
	slot := h.object(o).SlotAddr(0)
	assert.True(t, h.RememberedSet().Contains(slot))

	// Young-to-young and old-to-old stores must not be recorded.
	y2, err := h.Allocate(64, 1, false)
	require.NoError(t, err)
	require.NoError(t, h.WriteRef(y2, 0, y))
	assert.Equal(t, 1, h.RememberedSet().Len())
}

func TestRememberedSetKeepsYoungTargetAlive(t *testing.T) {
	h := newTestHeap(t, nil)
	th := newRootedThread(h, 4)

	o := makeOld(t, h, th, 0, 64, 1)
	y, err := h.Allocate(64, 0, false)
	require.NoError(t, err)
	require.NoError(t, h.WriteRef(o, 0, y))

	// y is reachable only through the old object's recorded slot.
	require.NoError(t, h.MinorCollect())

	moved, err := h.ReadRef(o, 0)
	require.NoError(t, err)
	assert.NotEqual(t, y, moved)
	assert.True(t, h.young.from.Contains(moved))

	// The slot entry survives the minor collection: the target is still
	// young, so the next minor collection needs it again.
	slot := h.object(o).SlotAddr(0)
	assert.True(t, h.RememberedSet().Contains(slot))
}

func TestRememberedSetRetiredAfterPromotion(t *testing.T) {
	h := newTestHeap(t, nil)
	th := newRootedThread(h, 4)

	o := makeOld(t, h, th, 0, 64, 1)
	y, err := h.Allocate(64, 0, false)
	require.NoError(t, err)
	require.NoError(t, h.WriteRef(o, 0, y))
	slot := h.object(o).SlotAddr(0)

	// Tenure the target: the slot now points old-to-old, the entry is
	// stale and the next major collection retires it.
	require.NoError(t, h.MinorCollect())
	require.NoError(t, h.MinorCollect())
	target, err := h.ReadRef(o, 0)
	require.NoError(t, err)
	require.True(t, h.old.Contains(target))
	assert.True(t, h.RememberedSet().Contains(slot))

	require.NoError(t, h.MajorCollect())
	assert.False(t, h.RememberedSet().Contains(slot))
}

func TestRememberedSetRetiredWhenHolderDies(t *testing.T) {
	h := newTestHeap(t, nil)
	th := newRootedThread(h, 4)

	o := makeOld(t, h, th, 0, 64, 1)
	y, err := h.Allocate(64, 0, false)
	require.NoError(t, err)
	th.Frames[0].Slots[1] = y
	require.NoError(t, h.WriteRef(o, 0, y))
	require.Equal(t, 1, h.RememberedSet().Len())

	// Drop the holder; the major collection sweeps it and its slot.
	th.Frames[0].Slots[0] = NilAddress
	require.NoError(t, h.MajorCollect())
	assert.Zero(t, h.RememberedSet().Len())
	assert.Zero(t, h.old.Used())
}

func TestMajorCollectionSweepsUnreachableOld(t *testing.T) {
	h := newTestHeap(t, nil)
	th := newRootedThread(h, 4)

	keep := makeOld(t, h, th, 0, 64, 0)
	drop := makeOld(t, h, th, 1, 64, 0)
	usedBefore := h.old.Used()
	dropSize := h.object(drop).TotalSize()

	th.Frames[0].Slots[1] = NilAddress
	require.NoError(t, h.MajorCollect())

	assert.Equal(t, keep, th.Frames[0].Slots[0])
	assert.True(t, h.old.Contains(keep))
	assert.Equal(t, usedBefore-dropSize, h.old.Used())
}

func TestCompiledCodeRelocationNotice(t *testing.T) {
	h := newTestHeap(t, nil)
	newRootedThread(h, 4)

	target, err := h.Allocate(64, 0, false)
	require.NoError(t, err)
	m := &CompiledMethod{Name: "Widget::frob", EmbeddedRefs: []Address{target}}
	h.Roots().RegisterCompiledMethod(m)

	require.NoError(t, h.MinorCollect())

	assert.True(t, m.NeedsRelocation)
	assert.Equal(t, uint64(1), m.RelocationCount())
	assert.NotEqual(t, target, m.EmbeddedRefs[0])
	assert.True(t, h.young.from.Contains(m.EmbeddedRefs[0]))
}

func TestClassLoaderHandlesScanned(t *testing.T) {
	h := newTestHeap(t, nil)

	obj, err := h.Allocate(64, 0, false)
	require.NoError(t, err)
	cld := &ClassLoaderData{Name: "boot", Handles: []Address{obj}}
	h.Roots().RegisterClassLoader(cld)

	require.NoError(t, h.MinorCollect())
	assert.NotEqual(t, obj, cld.Handles[0])
	assert.True(t, h.young.from.Contains(cld.Handles[0]))
}

func TestMinorEscalatesWhenPromotionUnsafe(t *testing.T) {
	h := newTestHeap(t, func(c *Config) {
		c.OldInitial = 4096
		c.OldMax = 4096
	})
	th := newRootedThread(h, 4)

	// Fill old close to capacity, then make the whole of eden live:
	// the promotion guarantee fails even after the emergency major
	// collection and the allocation surfaces out-of-memory.
	old := makeOld(t, h, th, 0, 3200, 0)
	require.True(t, h.old.Contains(old))

	a, err := h.Allocate(3000, 0, false)
	require.NoError(t, err)
	th.Frames[0].Slots[1] = a

	_, err = h.Allocate(3000, 0, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}
