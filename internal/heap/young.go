package heap

import (
	"time"

	"github.com/sirupsen/logrus"
)

// YoungGeneration is eden plus a survivor pair. Eden takes all new
// allocation; minor collections evacuate live objects into the to-survivor
// or, past the tenure age, into the old generation, then swap the pair.
type YoungGeneration struct {
	eden *ContiguousSpace
	from *ContiguousSpace
	to   *ContiguousSpace
}

// Contains reports whether addr is a young-generation address.
func (g *YoungGeneration) Contains(addr Address) bool {
	return g.eden.Contains(addr) || g.from.Contains(addr) || g.to.Contains(addr)
}

// Used returns live young bytes across eden and the active survivor.
func (g *YoungGeneration) Used() uint64 {
	return g.eden.Used() + g.from.Used() + g.to.Used()
}

func (g *YoungGeneration) swapSurvivors() {
	g.from, g.to = g.to, g.from
}

// minorCollectLocked runs one minor collection. Caller holds the heap
// lock; the pause bracket is applied here.
//
// The root scan feeds every generation-spanning root to the evacuating
// visitor, then replays only the remembered-set slots for old-to-young
// references; the old generation is never swept linearly during a minor
// collection, which bounds its cost by young size and remembered-set size
// alone.
func (h *Heap) minorCollectLocked(reason string) error {
	if err := h.beginPauseLocked(); err != nil {
		return err
	}
	defer h.endPauseLocked()

	start := time.Now()
	usedBefore := h.young.Used()
	promotedBefore := h.stats.PromotedBytes

	// Promotion guarantee: in the worst case every live young byte
	// tenures. If the old generation cannot absorb that even after
	// expansion, run the emergency major collection up front; evacuation
	// must not fail midway.
	if !h.promotionSafe() {
		h.log.WithField("reason", reason).Warn("minor collection escalating to emergency major collection")
		h.majorPhase("promotion guarantee")
		if !h.promotionSafe() {
			return ErrOutOfMemory
		}
	}

	evacuate := func(a Address) Address { return h.evacuate(a) }
	h.roots.Scan(evacuate, evacuate, evacuate)
	h.drainEvacuationWork()

	h.young.eden.Reset()
	h.young.from.Reset()
	h.young.swapSurvivors()

	h.stats.MinorCollections++
	promoted := h.stats.PromotedBytes - promotedBefore
	reclaimed := usedBefore - h.young.Used() - promoted
	h.stats.MinorReclaimed += reclaimed
	elapsed := time.Since(start)
	if h.svcInit {
		h.youngMgr.RecordCollection(elapsed, reclaimed)
	}
	h.log.WithFields(logrus.Fields{
		"reason":    reason,
		"reclaimed": reclaimed,
		"promoted":  promoted,
		"survivor":  h.young.from.Used(),
		"elapsed":   elapsed,
	}).Info("minor collection complete")
	return nil
}

// promotionSafe reports whether the old generation could absorb the whole
// live young set, expanding committed memory if needed.
func (h *Heap) promotionSafe() bool {
	need := h.young.Used()
	free := h.old.space.FreeBytes()
	if free >= need {
		return true
	}
	return h.old.space.Expand(need - free)
}

// evacuate moves one young object and returns its new address. Old
// addresses pass through untouched. Already-moved objects resolve through
// their forwarding word, so each object is copied exactly once per
// collection regardless of how many roots reach it.
func (h *Heap) evacuate(a Address) Address {
	// Only eden and from-survivor objects move; to-space holds this
	// collection's copies and old addresses pass through.
	if !h.young.eden.Contains(a) && !h.young.from.Contains(a) {
		return a
	}
	o := h.object(a)
	if fwd, ok := o.ForwardedTo(); ok {
		return fwd
	}

	age := o.Age() + 1
	total := o.TotalSize()
	var dst Address

	if age < h.tenure {
		if addr, ok := h.young.to.Allocate(total); ok {
			dst = addr
		}
	}
	if dst == NilAddress {
		addr, ok := h.old.space.Allocate(total)
		if !ok {
			// promotionSafe ran before evacuation started; reaching
			// here is a heap invariant violation, not a recoverable
			// failure.
			panic("heap: promotion failed despite guarantee")
		}
		dst = addr
		h.stats.PromotedBytes += total
	}

	d := h.object(dst)
	copy(d.mem[:total], o.mem[:total])
	d.setAge(age)
	d.clearFlag(flagForwarded | flagMarked)
	o.Forward(dst)

	h.gcWork = append(h.gcWork, dst)
	return dst
}

// drainEvacuationWork scans every copied object's reference slots,
// evacuating young targets transitively. Slots of promoted objects that
// still point into young are recorded in the remembered set, since their
// holders now live in old.
func (h *Heap) drainEvacuationWork() {
	for len(h.gcWork) > 0 {
		a := h.gcWork[len(h.gcWork)-1]
		h.gcWork = h.gcWork[:len(h.gcWork)-1]

		o := h.object(a)
		inOld := h.old.Contains(a)
		for i := 0; i < o.Refs(); i++ {
			v := o.Ref(i)
			if v == NilAddress {
				continue
			}
			nv := h.evacuate(v)
			if nv != v {
				o.SetRef(i, nv)
			}
			if inOld && h.young.Contains(nv) {
				h.rs.Record(o.SlotAddr(i))
			}
		}
	}
}
