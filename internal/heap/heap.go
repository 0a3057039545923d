// Package heap implements the generational heap controller for the kestrel
// runtime: a young generation (eden plus a survivor pair) collected by
// copying with promotion, an old generation collected by mark-sweep, a
// slot-precise cross-generation remembered set, safepoint bracketing for
// the optional concurrent dedup worker, and the serviceability bridge the
// monitoring subsystem reads pool usage from.
package heap

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kestrel-lang/kestrel/internal/safepoint"
	"github.com/kestrel-lang/kestrel/internal/serviceability"
)

// Config carries the generation sizing accepted at construction time.
// Sizing is fixed for the heap's lifetime; only the tunables (tenure age)
// may change afterwards.
type Config struct {
	EdenInitial uint64
	EdenMax     uint64
	SurvivorMax uint64 // per survivor space; two are reserved
	OldInitial  uint64
	OldMax      uint64

	// TenureAge is the number of minor collections an object survives
	// before promotion to the old generation.
	TenureAge uint8

	// DedupWorker enables the concurrent auxiliary worker handshake. When
	// false the safepoint gate is permanently idle.
	DedupWorker      bool
	SafepointTimeout time.Duration

	Logger *logrus.Logger
}

// DefaultConfig returns a small general-purpose sizing.
func DefaultConfig() Config {
	return Config{
		EdenInitial: 4 << 20,
		EdenMax:     64 << 20,
		SurvivorMax: 8 << 20,
		OldInitial:  16 << 20,
		OldMax:      256 << 20,
		TenureAge:   2,
	}
}

func (c *Config) validate() error {
	if c.EdenInitial == 0 || c.EdenMax < c.EdenInitial {
		return fmt.Errorf("heap: bad eden sizing %d/%d", c.EdenInitial, c.EdenMax)
	}
	if c.SurvivorMax == 0 {
		return fmt.Errorf("heap: survivor size must be positive")
	}
	if c.OldInitial == 0 || c.OldMax < c.OldInitial {
		return fmt.Errorf("heap: bad old generation sizing %d/%d", c.OldInitial, c.OldMax)
	}
	if c.TenureAge == 0 {
		c.TenureAge = 1
	}
	return nil
}

// GCStats are cumulative collection counters.
type GCStats struct {
	MinorCollections uint64
	MajorCollections uint64
	PromotedBytes    uint64
	MinorReclaimed   uint64
	MajorReclaimed   uint64
}

// Heap is the generational heap controller. One instance owns all
// generation spaces; consumers receive it explicitly rather than through a
// process-global lookup.
type Heap struct {
	cfg Config
	log *logrus.Logger

	// mu is the heap-wide allocation lock: allocation, archive
	// reservation and collection triggering serialize on it.
	mu sync.Mutex

	young *YoungGeneration
	old   *OldGeneration

	rs     *RememberedSet
	roots  *RootScanCoordinator
	gate   *safepoint.Gate
	locker *GCLocker

	paused bool
	tenure uint8

	gcWork []Address // evacuation worklist, live only inside a pause

	svcInit      bool
	edenPool     *serviceability.Pool
	survivorPool *serviceability.Pool
	oldPool      *serviceability.Pool
	youngMgr     *serviceability.Manager
	oldMgr       *serviceability.Manager

	stats GCStats
}

// Virtual layout: each space gets a disjoint base with a guard page gap.
const layoutBase Address = 1 << 32

// New constructs a heap from cfg. The serviceability views are not built
// here; call InitServiceability once sizing-dependent consumers are ready.
func New(cfg Config) (*Heap, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	cursor := layoutBase
	next := func(max uint64) Address {
		base := cursor
		cursor += Address(alignUp(max, 4096) + 4096)
		return base
	}

	eden, err := NewContiguousSpace("eden", next(cfg.EdenMax), cfg.EdenInitial, cfg.EdenMax)
	if err != nil {
		return nil, err
	}
	from, err := NewContiguousSpace("survivor-from", next(cfg.SurvivorMax), cfg.SurvivorMax, cfg.SurvivorMax)
	if err != nil {
		return nil, err
	}
	to, err := NewContiguousSpace("survivor-to", next(cfg.SurvivorMax), cfg.SurvivorMax, cfg.SurvivorMax)
	if err != nil {
		return nil, err
	}
	oldSpace, err := NewFreeListSpace("old", next(cfg.OldMax), cfg.OldInitial, cfg.OldMax)
	if err != nil {
		return nil, err
	}

	h := &Heap{
		cfg:    cfg,
		log:    log,
		young:  &YoungGeneration{eden: eden, from: from, to: to},
		old:    &OldGeneration{space: oldSpace},
		rs:     NewRememberedSet(),
		gate:   safepoint.New(cfg.DedupWorker, cfg.SafepointTimeout),
		locker: NewGCLocker(),
		tenure: cfg.TenureAge,
	}
	h.roots = NewRootScanCoordinator(h.rs, h)
	return h, nil
}

// Roots returns the root scan coordinator the embedder registers threads,
// class loaders and compiled methods with.
func (h *Heap) Roots() *RootScanCoordinator { return h.roots }

// Gate returns the safepoint gate the auxiliary worker polls.
func (h *Heap) Gate() *safepoint.Gate { return h.gate }

// RememberedSet exposes the cross-generation table for assertions.
func (h *Heap) RememberedSet() *RememberedSet { return h.rs }

// Stats returns a copy of the cumulative collection counters.
func (h *Heap) Stats() GCStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// SetTenureAge adjusts the promotion threshold. Takes effect at the next
// minor collection.
func (h *Heap) SetTenureAge(age uint8) {
	if age == 0 {
		age = 1
	}
	h.mu.Lock()
	h.tenure = age
	h.mu.Unlock()
}

// Allocate carves a new object with payload bytes of storage, the first
// refs words of which are reference slots. Allocation bumps eden; on
// failure a minor collection runs and the allocation retries once. After a
// failed retry, temporary requests fail with ErrAllocationFailure while
// persistent requests escalate to a major collection before the final
// retry.
func (h *Heap) Allocate(payload uint64, refs int, temporary bool) (Address, error) {
	if refs < 0 || refs > 0xFFFF {
		return NilAddress, fmt.Errorf("heap: reference slot count %d out of range", refs)
	}
	if need := uint64(refs) * WordSize; payload < need {
		payload = need
	}
	total := objectSize(payload)

	h.mu.Lock()
	defer h.mu.Unlock()

	if addr, ok := h.young.eden.Allocate(total); ok {
		h.formatObject(addr, payload, refs)
		return addr, nil
	}

	if err := h.minorCollectLocked("allocation failure"); err != nil {
		return NilAddress, err
	}
	if addr, ok := h.young.eden.Allocate(total); ok {
		h.formatObject(addr, payload, refs)
		return addr, nil
	}

	if temporary {
		return NilAddress, fmt.Errorf("heap: %d byte temporary allocation: %w", payload, ErrAllocationFailure)
	}

	if err := h.majorCollectLocked("allocation failure escalation"); err != nil {
		return NilAddress, err
	}
	if addr, ok := h.young.eden.Allocate(total); ok {
		h.formatObject(addr, payload, refs)
		return addr, nil
	}
	if h.young.eden.Expand(total) {
		if addr, ok := h.young.eden.Allocate(total); ok {
			h.formatObject(addr, payload, refs)
			return addr, nil
		}
	}
	return NilAddress, fmt.Errorf("heap: %d byte allocation: %w", payload, ErrOutOfMemory)
}

func (h *Heap) formatObject(addr Address, payload uint64, refs int) {
	o := h.object(addr)
	writeHeader(o.mem, uint32(alignUp(maxU64(payload, MinPayload), WordSize)), uint16(refs), 0, 0)
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// WriteRef stores target into holder's reference slot, running the write
// barrier: a young target stored into an old holder is recorded in the
// remembered set. All mutator reference stores must go through here.
func (h *Heap) WriteRef(holder Address, slot int, target Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	o, err := h.objectChecked(holder)
	if err != nil {
		return err
	}
	if slot < 0 || slot >= o.Refs() {
		return fmt.Errorf("heap: slot %d out of range for object with %d reference slots", slot, o.Refs())
	}
	o.SetRef(slot, target)
	if h.old.Contains(holder) && h.young.Contains(target) {
		h.rs.Record(o.SlotAddr(slot))
	}
	return nil
}

// ReadRef loads holder's reference slot.
func (h *Heap) ReadRef(holder Address, slot int) (Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	o, err := h.objectChecked(holder)
	if err != nil {
		return NilAddress, err
	}
	if slot < 0 || slot >= o.Refs() {
		return NilAddress, fmt.Errorf("heap: slot %d out of range for object with %d reference slots", slot, o.Refs())
	}
	return o.Ref(slot), nil
}

// object resolves addr to a view without bounds ceremony. addr must lie in
// a reserved space range.
func (h *Heap) object(addr Address) Object {
	if s := h.spaceOf(addr); s != nil {
		return s.objectAt(addr)
	}
	panic(fmt.Sprintf("heap: address %#x outside all spaces", uint64(addr)))
}

func (h *Heap) objectChecked(addr Address) (Object, error) {
	if s := h.spaceOf(addr); s != nil {
		return s.objectAt(addr), nil
	}
	return Object{}, fmt.Errorf("heap: %#x: %w", uint64(addr), ErrBadAddress)
}

// spaceOf locates the space whose reserved range covers addr.
func (h *Heap) spaceOf(addr Address) *spaceBase {
	for _, s := range []*spaceBase{
		&h.young.eden.spaceBase,
		&h.young.from.spaceBase,
		&h.young.to.spaceBase,
		&h.old.space.spaceBase,
	} {
		if addr >= s.base && addr < s.base+Address(s.max) {
			return s
		}
	}
	return nil
}

// LoadSlot reads a reference slot by its virtual address. Part of the slot
// memory capability the root scanner uses for remembered-set entries.
func (h *Heap) LoadSlot(slot Address) Address {
	s := h.spaceOf(slot)
	if s == nil {
		panic(fmt.Sprintf("heap: slot %#x outside all spaces", uint64(slot)))
	}
	off := uint64(slot - s.base)
	return Address(binary.LittleEndian.Uint64(s.res.Bytes()[off : off+WordSize]))
}

// StoreSlot writes a reference slot by its virtual address, without the
// write barrier. Only collection internals may use this.
func (h *Heap) StoreSlot(slot Address, v Address) {
	s := h.spaceOf(slot)
	if s == nil {
		panic(fmt.Sprintf("heap: slot %#x outside all spaces", uint64(slot)))
	}
	off := uint64(slot - s.base)
	binary.LittleEndian.PutUint64(s.res.Bytes()[off:off+WordSize], uint64(v))
}

// Pin enters a critical section that prevents collection pauses from
// starting, blocking first if a collection is already in progress. Every
// Pin must be matched by exactly one Unpin.
func (h *Heap) Pin(t *Thread) { h.locker.LockCritical(t) }

// Unpin leaves the critical section entered by Pin.
func (h *Heap) Unpin(t *Thread) { h.locker.UnlockCritical(t) }

// Pins returns the current critical-section count.
func (h *Heap) Pins() int { return h.locker.Pins() }

// Paused reports whether a collection pause is in progress.
func (h *Heap) Paused() bool {
	return h.locker.Paused()
}

// BeginPause brackets the start of a stop-the-world pause: the auxiliary
// worker is synchronized to its safe point and held critical sections are
// drained. Mutator parking itself is the embedder's responsibility.
func (h *Heap) BeginPause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beginPauseLocked()
}

// EndPause releases the worker and unblocks pinners.
func (h *Heap) EndPause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endPauseLocked()
}

func (h *Heap) beginPauseLocked() error {
	if h.paused {
		panic("heap: nested pause")
	}
	if err := h.gate.Begin(); err != nil {
		// Worker liveness bug; not recoverable within this component.
		return fmt.Errorf("heap: begin pause: %w", err)
	}
	h.locker.pauseBegin()
	h.paused = true
	return nil
}

func (h *Heap) endPauseLocked() {
	if !h.paused {
		panic("heap: unmatched EndPause")
	}
	h.paused = false
	h.locker.pauseEnd()
	h.gate.End()
}

// MinorCollect runs a young-generation collection inside its own pause.
func (h *Heap) MinorCollect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.minorCollectLocked("explicit")
}

// MajorCollect runs an old-generation collection inside its own pause.
func (h *Heap) MajorCollect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.majorCollectLocked("explicit")
}

func (h *Heap) majorCollectLocked(reason string) error {
	if err := h.beginPauseLocked(); err != nil {
		return err
	}
	defer h.endPauseLocked()
	h.majorPhase(reason)
	return nil
}

// InitServiceability builds the memory pools and the two manager groups.
// Deferred until after construction because pool maximums derive from
// generation maximums; runs exactly once.
//
// The young manager owns eden and survivor: a minor collection cannot
// touch old-generation occupancy. The old manager owns all three pools: a
// major collection can reduce usage in every space.
func (h *Heap) InitServiceability() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.svcInit {
		return ErrServiceabilityInitialized
	}
	h.svcInit = true

	h.edenPool = serviceability.NewEdenPool("Eden Space", edenView{h})
	h.survivorPool = serviceability.NewSurvivorPool("Survivor Space", survivorView{h})
	h.oldPool = serviceability.NewGenerationPool("Tenured Gen", oldView{h})

	h.youngMgr = serviceability.NewManager("Copy", "end of minor GC")
	h.youngMgr.AddPool(h.edenPool)
	h.youngMgr.AddPool(h.survivorPool)

	h.oldMgr = serviceability.NewManager("MarkSweepCompact", "end of major GC")
	h.oldMgr.AddPool(h.edenPool)
	h.oldMgr.AddPool(h.survivorPool)
	h.oldMgr.AddPool(h.oldPool)
	return nil
}

// Managers returns the two manager groups, young first. Nil before
// InitServiceability.
func (h *Heap) Managers() []*serviceability.Manager {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.svcInit {
		return nil
	}
	return []*serviceability.Manager{h.youngMgr, h.oldMgr}
}

// Pools returns the three pools in eden, survivor, old order. Nil before
// InitServiceability.
func (h *Heap) Pools() []*serviceability.Pool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.svcInit {
		return nil
	}
	return []*serviceability.Pool{h.edenPool, h.survivorPool, h.oldPool}
}

// Pool views. Each read takes the allocation lock so reported values are
// consistent at quiescent observation points.

type edenView struct{ h *Heap }

func (v edenView) Used() uint64 {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	return v.h.young.eden.Used()
}

func (v edenView) Committed() uint64 {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	return v.h.young.eden.Committed()
}

func (v edenView) Max() uint64 { return v.h.cfg.EdenMax }

type survivorView struct{ h *Heap }

func (v survivorView) Used() uint64 {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	return v.h.young.from.Used()
}

func (v survivorView) Committed() uint64 {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	return v.h.young.from.Committed()
}

func (v survivorView) Max() uint64 { return v.h.cfg.SurvivorMax }

type oldView struct{ h *Heap }

func (v oldView) Used() uint64 {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	return v.h.old.space.Used()
}

func (v oldView) Committed() uint64 {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	return v.h.old.space.Committed()
}

func (v oldView) Max() uint64 { return v.h.cfg.OldMax }
