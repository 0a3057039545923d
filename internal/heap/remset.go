package heap

import "sort"

// RememberedSet is the cross-generation reference table: the set of old
// generation reference slots known to hold young-generation addresses.
// Minor collections scan exactly these slots instead of the whole old
// generation, which bounds minor-collection cost independent of old size.
//
// Entries are slot-precise (the virtual address of the reference slot, not
// of the holding object). Stale entries are tolerated between collections
// and retired during major collection.
type RememberedSet struct {
	slots map[Address]struct{}
}

func NewRememberedSet() *RememberedSet {
	return &RememberedSet{slots: make(map[Address]struct{})}
}

// Record notes that the old-generation slot at addr holds a young reference.
// Idempotent; the write barrier calls this on every qualifying store.
func (rs *RememberedSet) Record(slot Address) {
	rs.slots[slot] = struct{}{}
}

// Contains reports whether slot is recorded. Test and assertion hook.
func (rs *RememberedSet) Contains(slot Address) bool {
	_, ok := rs.slots[slot]
	return ok
}

// Len returns the number of recorded slots.
func (rs *RememberedSet) Len() int { return len(rs.slots) }

// IterateSlots visits every recorded slot in a stable order. The visitor
// runs inside a collection pause; it must not add or retire entries.
func (rs *RememberedSet) IterateSlots(fn func(slot Address)) {
	ordered := make([]Address, 0, len(rs.slots))
	for slot := range rs.slots {
		ordered = append(ordered, slot)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	for _, slot := range ordered {
		fn(slot)
	}
}

// Retire drops every entry for which keep returns false. Major collection
// uses this to shed slots whose holder died or whose target left the young
// generation.
func (rs *RememberedSet) Retire(keep func(slot Address) bool) {
	for slot := range rs.slots {
		if !keep(slot) {
			delete(rs.slots, slot)
		}
	}
}
