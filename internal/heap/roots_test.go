package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanVisitsEverySlotExactlyOnce(t *testing.T) {
	c := NewRootScanCoordinator(nil, nil)
	th := &Thread{ID: 1, Frames: []Frame{
		{Slots: []Address{0x100, NilAddress, 0x200}},
		{Slots: []Address{0x300}},
	}}
	c.RegisterThread(th)
	cld := &ClassLoaderData{Name: "app", Handles: []Address{0x400}}
	c.RegisterClassLoader(cld)
	m := &CompiledMethod{Name: "m", EmbeddedRefs: []Address{0x500}}
	c.RegisterCompiledMethod(m)

	visits := map[Address]int{}
	count := func(a Address) Address {
		visits[a]++
		return a + 8
	}
	c.Scan(count, count, count)

	for _, a := range []Address{0x100, 0x200, 0x300, 0x400, 0x500} {
		assert.Equal(t, 1, visits[a], "slot holding %#x", uint64(a))
	}
	assert.Len(t, visits, 5, "nil slots must not be visited")

	// Returned values were written back to every slot.
	assert.Equal(t, Address(0x108), th.Frames[0].Slots[0])
	assert.Equal(t, NilAddress, th.Frames[0].Slots[1])
	assert.Equal(t, Address(0x308), th.Frames[1].Slots[0])
	assert.Equal(t, Address(0x408), cld.Handles[0])
	assert.Equal(t, Address(0x508), m.EmbeddedRefs[0])
	assert.True(t, m.NeedsRelocation)
}

func TestScanLeavesUnmovedCodeRefsAlone(t *testing.T) {
	c := NewRootScanCoordinator(nil, nil)
	m := &CompiledMethod{Name: "m", EmbeddedRefs: []Address{0x500}}
	c.RegisterCompiledMethod(m)

	identity := func(a Address) Address { return a }
	c.Scan(identity, identity, identity)

	assert.False(t, m.NeedsRelocation)
	assert.Zero(t, m.RelocationCount())
}

func TestUnregisterThread(t *testing.T) {
	c := NewRootScanCoordinator(nil, nil)
	th := &Thread{ID: 1, Frames: []Frame{{Slots: []Address{0x100}}}}
	c.RegisterThread(th)
	c.UnregisterThread(th)

	visited := false
	c.Scan(func(a Address) Address {
		visited = true
		return a
	}, nil, nil)
	assert.False(t, visited)
}
