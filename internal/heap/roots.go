package heap

import "sync"

// SlotVisitor receives the current value of one root slot and returns the
// value the slot should hold afterwards. Collectors return the relocation
// target for moved objects; the scanner writes changed values back.
type SlotVisitor func(Address) Address

// Frame is one activation record's heap references. ReturnPC models an
// embedded return address that needs fix-up bookkeeping when the frame is
// rescanned, mirroring how compiled frames carry raw code addresses.
type Frame struct {
	Slots    []Address
	ReturnPC uint64
}

// Thread is a registered mutator execution context. The embedder owns the
// frame contents; the heap only enumerates them during root scans, which
// run inside a pause while mutators are parked.
type Thread struct {
	ID     int64
	Name   string
	Frames []Frame

	pins int // critical sections held, guarded by the GCLocker
}

// ClassLoaderData is one class-loader metadata node with its handle slots.
type ClassLoaderData struct {
	Name    string
	Handles []Address
}

// CompiledMethod models a code-cache entry with embedded object addresses.
// Compiled code holds direct addresses, so any moved target requires a
// relocation pass; the scanner records that need on the method.
type CompiledMethod struct {
	Name            string
	EmbeddedRefs    []Address
	NeedsRelocation bool
	relocationCount uint64
}

// RelocationCount returns how many times targets of this method have moved.
func (m *CompiledMethod) RelocationCount() uint64 { return m.relocationCount }

// RootScanCoordinator enumerates every external reference into the managed
// heap: thread frames, class-loader data, and compiled-code embedded
// references, followed by the old generation's recorded cross-generation
// slots. Scanning is synchronous and complete before Scan returns.
type RootScanCoordinator struct {
	mu      sync.Mutex
	threads []*Thread
	loaders []*ClassLoaderData
	code    []*CompiledMethod

	remset *RememberedSet
	mem    slotMemory
}

// slotMemory reads and writes reference slots addressed inside the heap,
// used for remembered-set slots which live in old objects rather than in
// embedder-owned Go slices.
type slotMemory interface {
	LoadSlot(Address) Address
	StoreSlot(Address, Address)
}

func NewRootScanCoordinator(rs *RememberedSet, mem slotMemory) *RootScanCoordinator {
	return &RootScanCoordinator{remset: rs, mem: mem}
}

// RegisterThread adds a mutator context to the root set.
func (c *RootScanCoordinator) RegisterThread(t *Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads = append(c.threads, t)
}

// UnregisterThread removes a terminated mutator context.
func (c *RootScanCoordinator) UnregisterThread(t *Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cur := range c.threads {
		if cur == t {
			c.threads = append(c.threads[:i], c.threads[i+1:]...)
			return
		}
	}
}

// RegisterClassLoader adds a class-loader metadata node to the root set.
func (c *RootScanCoordinator) RegisterClassLoader(cld *ClassLoaderData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaders = append(c.loaders, cld)
}

// RegisterCompiledMethod adds a code-cache entry to the root set.
func (c *RootScanCoordinator) RegisterCompiledMethod(m *CompiledMethod) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = append(c.code, m)
}

// Scan enumerates all roots. Thread frames, class-loader handles and
// compiled-code references are fed to their visitors first; after the
// generation-spanning roots, the remembered-set slots are fed to
// oldToYoung, and only those — never a full old-generation sweep.
//
// Every root slot is visited exactly once per scan. Scan must run inside a
// collection pause.
func (c *RootScanCoordinator) Scan(young, oldToYoung, classLoader SlotVisitor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.threads {
		for fi := range t.Frames {
			f := &t.Frames[fi]
			for si, v := range f.Slots {
				if v == NilAddress {
					continue
				}
				f.Slots[si] = young(v)
			}
		}
	}

	for _, cld := range c.loaders {
		for i, v := range cld.Handles {
			if v == NilAddress {
				continue
			}
			cld.Handles[i] = classLoader(v)
		}
	}

	for _, m := range c.code {
		for i, v := range m.EmbeddedRefs {
			if v == NilAddress {
				continue
			}
			moved := young(v)
			if moved != v {
				m.EmbeddedRefs[i] = moved
				m.NeedsRelocation = true
				m.relocationCount++
			}
		}
	}

	if c.remset == nil {
		return
	}
	c.remset.IterateSlots(func(slot Address) {
		v := c.mem.LoadSlot(slot)
		if v == NilAddress {
			return
		}
		moved := oldToYoung(v)
		if moved != v {
			c.mem.StoreSlot(slot, moved)
		}
	})
}
