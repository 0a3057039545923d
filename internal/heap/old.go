package heap

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// OldGeneration is the tenured space: first-fit free-list allocation,
// collected by mark-sweep. Promotion and archive loading are its only
// allocation sources; mutators never allocate here directly.
type OldGeneration struct {
	space *FreeListSpace
}

// Contains reports whether addr is an old-generation address.
func (g *OldGeneration) Contains(addr Address) bool {
	return g.space.Contains(addr)
}

// Used returns live old bytes, headers included.
func (g *OldGeneration) Used() uint64 { return g.space.Used() }

// majorPhase runs the old generation's mark-sweep inside an already-open
// pause: mark the full object graph from all roots, treat archive objects
// as unconditionally live, sweep unmarked old blocks onto the free list,
// then retire remembered-set entries whose holder died or whose target
// left the young generation.
func (h *Heap) majorPhase(reason string) {
	start := time.Now()
	usedBefore := h.old.Used()

	visited := make(map[Address]struct{})
	markRoot := func(a Address) Address {
		h.markFrom(a, visited)
		return a
	}
	h.roots.Scan(markRoot, markRoot, markRoot)

	// Archive objects skip liveness marking but their referents must
	// still survive.
	h.old.space.walk(func(o Object) bool {
		if o.hasFlag(flagArchive) && !o.hasFlag(flagFree) {
			h.markFrom(o.Addr(), visited)
		}
		return true
	})

	var dead []Address
	h.old.space.walk(func(o Object) bool {
		if o.hasFlag(flagFree) {
			return true
		}
		if o.hasFlag(flagMarked) || o.hasFlag(flagArchive) {
			o.clearFlag(flagMarked)
			return true
		}
		dead = append(dead, o.Addr())
		return true
	})
	for _, a := range dead {
		h.old.space.Release(h.object(a))
	}

	h.rs.Retire(func(slot Address) bool {
		if !h.old.Contains(slot) || h.old.space.inFreeBlock(uint64(slot-h.old.space.base)) {
			return false
		}
		return h.young.Contains(h.LoadSlot(slot))
	})

	h.stats.MajorCollections++
	reclaimed := usedBefore - h.old.Used()
	h.stats.MajorReclaimed += reclaimed
	elapsed := time.Since(start)
	if h.svcInit {
		h.oldMgr.RecordCollection(elapsed, reclaimed)
	}
	h.log.WithFields(logrus.Fields{
		"reason":    reason,
		"reclaimed": reclaimed,
		"dead":      len(dead),
		"elapsed":   elapsed,
	}).Info("major collection complete")
}

// markFrom marks the transitive closure of a. Old objects get the mark
// flag; young objects are tracked in visited only, their headers stay
// untouched during a major collection.
func (h *Heap) markFrom(a Address, visited map[Address]struct{}) {
	stack := []Address{a}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == NilAddress {
			continue
		}
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}

		o, err := h.objectChecked(cur)
		if err != nil {
			// A root or reference slot pointing outside the heap is a
			// design invariant violation, not a recoverable state.
			panic(fmt.Sprintf("heap: dangling reference %#x during mark", uint64(cur)))
		}
		if h.old.Contains(cur) {
			o.setFlag(flagMarked)
		}
		for i := 0; i < o.Refs(); i++ {
			if v := o.Ref(i); v != NilAddress {
				stack = append(stack, v)
			}
		}
	}
}

// Region is a contiguous heap range, used for archive commitment.
type Region struct {
	Start Address
	Size  uint64
}

func (r Region) End() Address { return r.Start + Address(r.Size) }

// ReserveForArchive allocates size bytes directly from the old generation
// under the allocation lock, never from young. The region is raw until the
// snapshot loader formats objects into it and commits it; archive loading
// runs before mutators, so no collection observes the half-built region.
func (h *Heap) ReserveForArchive(size uint64) (Address, error) {
	if size == 0 {
		return NilAddress, fmt.Errorf("heap: zero-length archive reservation: %w", ErrAllocationFailure)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	size = alignUp(size, WordSize)
	addr, ok := h.old.space.Allocate(size)
	if !ok {
		if !h.old.space.Expand(size) {
			return NilAddress, fmt.Errorf("heap: %d byte archive reservation: %w", size, ErrAllocationFailure)
		}
		addr, ok = h.old.space.Allocate(size)
		if !ok {
			return NilAddress, fmt.Errorf("heap: %d byte archive reservation: %w", size, ErrAllocationFailure)
		}
	}
	return addr, nil
}

// FormatArchiveObject writes an object header at addr inside a reserved
// archive region. The snapshot loader lays out the region as a dense run
// of such objects before committing it.
func (h *Heap) FormatArchiveObject(addr Address, payload uint64, refs int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.old.Contains(addr) {
		return fmt.Errorf("heap: archive object at %#x: %w", uint64(addr), ErrArchiveRegionViolation)
	}
	if refs < 0 || refs > 0xFFFF || uint64(refs)*WordSize > alignUp(maxU64(payload, MinPayload), WordSize) {
		return fmt.Errorf("heap: archive object at %#x: bad reference slot count %d", uint64(addr), refs)
	}
	o := h.object(addr)
	writeHeader(o.mem, uint32(alignUp(maxU64(payload, MinPayload), WordSize)), uint16(refs), 0, 0)
	return nil
}

// CommitArchiveRegion validates that region lies fully within the old
// generation's used extent and walks as a dense object run, then marks
// every object in it permanently live. Validation happens before any flag
// is set, so a rejected region leaves the old generation unchanged.
func (h *Heap) CommitArchiveRegion(region Region) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	base := h.old.space.base
	extent := h.old.space.UsedExtent()
	if region.Size == 0 ||
		region.Start < base ||
		uint64(region.End()-base) > extent {
		return fmt.Errorf("heap: region [%#x,%#x): %w",
			uint64(region.Start), uint64(region.End()), ErrArchiveRegionViolation)
	}

	// First pass: validate the region is a dense, well-formed object run.
	var objects []Address
	for addr := region.Start; addr < region.End(); {
		o := h.object(addr)
		total := o.TotalSize()
		if o.hasFlag(flagFree) || o.Size() == 0 || addr+Address(total) > region.End() {
			return fmt.Errorf("heap: malformed archive object at %#x: %w",
				uint64(addr), ErrArchiveRegionViolation)
		}
		objects = append(objects, addr)
		addr += Address(total)
	}
	for _, addr := range objects {
		h.object(addr).setFlag(flagArchive)
	}
	return nil
}
