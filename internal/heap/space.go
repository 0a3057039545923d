package heap

import (
	"fmt"
	"sort"

	"github.com/kestrel-lang/kestrel/internal/mem"
)

// spaceBase carries the layout shared by all generation spaces: a virtual
// base address, a reservation of max bytes, and a commit watermark that
// allocation never crosses.
type spaceBase struct {
	name      string
	base      Address
	res       *mem.Reservation
	committed uint64
	max       uint64
}

func (s *spaceBase) Name() string      { return s.name }
func (s *spaceBase) Base() Address     { return s.base }
func (s *spaceBase) Committed() uint64 { return s.committed }
func (s *spaceBase) Max() uint64       { return s.max }

// expand raises the commit watermark to cover at least want bytes, page
// aligned, capped at max. Returns false when the space is already at max.
func (s *spaceBase) expand(want uint64) bool {
	if want <= s.committed {
		return true
	}
	grown := mem.AlignUp(want, mem.PageSize)
	if grown > s.max {
		grown = s.max
	}
	if grown <= s.committed || want > s.max {
		return false
	}
	s.committed = grown
	return true
}

// slice returns the committed bytes starting at off.
func (s *spaceBase) slice(off uint64) []byte {
	return s.res.Bytes()[off:s.committed]
}

func (s *spaceBase) objectAt(addr Address) Object {
	off := uint64(addr - s.base)
	return Object{addr: addr, mem: s.slice(off)}
}

func newSpaceBase(name string, base Address, initial, max uint64) (spaceBase, error) {
	if initial > max {
		return spaceBase{}, fmt.Errorf("heap: space %s initial %d exceeds max %d", name, initial, max)
	}
	res, err := mem.Reserve(max)
	if err != nil {
		return spaceBase{}, fmt.Errorf("heap: reserving space %s: %w", name, err)
	}
	return spaceBase{
		name:      name,
		base:      base,
		res:       res,
		committed: mem.AlignUp(initial, mem.PageSize),
		max:       res.Size(),
	}, nil
}

// ContiguousSpace is a bump-pointer space backing eden and the survivor
// pair. Allocation advances a single top offset; reclamation is wholesale
// via Reset after evacuation.
type ContiguousSpace struct {
	spaceBase
	top uint64
}

func NewContiguousSpace(name string, base Address, initial, max uint64) (*ContiguousSpace, error) {
	sb, err := newSpaceBase(name, base, initial, max)
	if err != nil {
		return nil, err
	}
	return &ContiguousSpace{spaceBase: sb}, nil
}

// Allocate carves total bytes (header included) off the top of the space.
// Fails when the committed watermark would be crossed; the controller
// decides whether to expand or collect.
func (s *ContiguousSpace) Allocate(total uint64) (Address, bool) {
	if s.top+total > s.committed {
		return NilAddress, false
	}
	addr := s.base + Address(s.top)
	// Fresh blocks must read as all-zero reference slots.
	blk := s.res.Bytes()[s.top : s.top+total]
	for i := range blk {
		blk[i] = 0
	}
	s.top += total
	return addr, true
}

// Expand raises the commit watermark so an allocation of total more bytes
// would fit, up to the space maximum.
func (s *ContiguousSpace) Expand(total uint64) bool {
	return s.expand(s.top + total)
}

// Reset empties the space. Every live object must have been evacuated.
func (s *ContiguousSpace) Reset() { s.top = 0 }

// Used returns the bump extent in bytes.
func (s *ContiguousSpace) Used() uint64 { return s.top }

// Contains reports whether addr falls inside the used extent.
func (s *ContiguousSpace) Contains(addr Address) bool {
	return addr >= s.base && addr < s.base+Address(s.top)
}

// walk visits each block in allocation order. fn returning false stops.
func (s *ContiguousSpace) walk(fn func(Object) bool) {
	for off := uint64(0); off < s.top; {
		o := s.objectAt(s.base + Address(off))
		if !fn(o) {
			return
		}
		off += o.TotalSize()
	}
}

// FreeListSpace backs the old generation: first-fit allocation from a
// sorted free list with coalescing, falling back to bumping the formatted
// extent. Free blocks carry headers too, so the space stays linearly
// walkable for sweeping.
type FreeListSpace struct {
	spaceBase
	extent uint64 // high-water mark of formatted blocks
	used   uint64 // live allocated bytes, headers included
	free   []freeBlock
}

type freeBlock struct {
	off  uint64
	size uint64
}

// minBlock is the smallest carvable block: header plus minimum payload.
// Remainders below this are absorbed into the allocation so the space
// remains walkable.
const minBlock = HeaderSize + MinPayload

func NewFreeListSpace(name string, base Address, initial, max uint64) (*FreeListSpace, error) {
	sb, err := newSpaceBase(name, base, initial, max)
	if err != nil {
		return nil, err
	}
	return &FreeListSpace{spaceBase: sb}, nil
}

// Allocate finds a block of total bytes (header included), first-fit from
// the free list, then by extending the formatted extent.
func (s *FreeListSpace) Allocate(total uint64) (Address, bool) {
	for i, fb := range s.free {
		// Exact fit or a remainder large enough to stay a walkable free
		// block; anything between would leave an unparseable sliver.
		remainder := fb.size - total
		if fb.size < total || (remainder > 0 && remainder < minBlock) {
			continue
		}
		if remainder == 0 {
			s.free = append(s.free[:i], s.free[i+1:]...)
		} else {
			s.free[i] = freeBlock{off: fb.off + total, size: remainder}
			s.writeFreeHeader(s.free[i])
		}
		s.clearBlock(fb.off, total)
		s.used += total
		return s.base + Address(fb.off), true
	}
	if s.extent+total <= s.committed {
		off := s.extent
		s.clearBlock(off, total)
		s.extent += total
		s.used += total
		return s.base + Address(off), true
	}
	return NilAddress, false
}

// Expand raises the commit watermark so an allocation of total more bytes
// would fit at the extent.
func (s *FreeListSpace) Expand(total uint64) bool {
	return s.expand(s.extent + total)
}

// Release returns a dead block to the free list, coalescing with free
// neighbors. The block keeps a header flagged free.
func (s *FreeListSpace) Release(o Object) {
	off := uint64(o.Addr() - s.base)
	size := o.TotalSize()
	s.used -= size

	idx := sort.Search(len(s.free), func(i int) bool { return s.free[i].off > off })
	s.free = append(s.free, freeBlock{})
	copy(s.free[idx+1:], s.free[idx:])
	s.free[idx] = freeBlock{off: off, size: size}

	// Coalesce with the following block, then the preceding one.
	if idx+1 < len(s.free) && s.free[idx].off+s.free[idx].size == s.free[idx+1].off {
		s.free[idx].size += s.free[idx+1].size
		s.free = append(s.free[:idx+1], s.free[idx+2:]...)
	}
	if idx > 0 && s.free[idx-1].off+s.free[idx-1].size == s.free[idx].off {
		s.free[idx-1].size += s.free[idx].size
		s.free = append(s.free[:idx], s.free[idx+1:]...)
	}
	// Find the block that now covers off and rewrite its header.
	for _, fb := range s.free {
		if fb.off <= off && off < fb.off+fb.size {
			s.writeFreeHeader(fb)
			break
		}
	}
}

func (s *FreeListSpace) writeFreeHeader(fb freeBlock) {
	writeHeader(s.res.Bytes()[fb.off:], uint32(fb.size-HeaderSize), 0, 0, flagFree)
}

func (s *FreeListSpace) clearBlock(off, total uint64) {
	blk := s.res.Bytes()[off : off+total]
	for i := range blk {
		blk[i] = 0
	}
}

// Used returns live allocated bytes, headers included.
func (s *FreeListSpace) Used() uint64 { return s.used }

// FreeBytes returns bytes available without expansion.
func (s *FreeListSpace) FreeBytes() uint64 {
	freeListed := uint64(0)
	for _, fb := range s.free {
		freeListed += fb.size
	}
	return freeListed + (s.committed - s.extent)
}

// UsedExtent returns the formatted extent; archive containment checks run
// against this range.
func (s *FreeListSpace) UsedExtent() uint64 { return s.extent }

// Contains reports whether addr falls inside the formatted extent.
func (s *FreeListSpace) Contains(addr Address) bool {
	return addr >= s.base && addr < s.base+Address(s.extent)
}

// inFreeBlock reports whether the offset lies inside a free-listed block.
func (s *FreeListSpace) inFreeBlock(off uint64) bool {
	idx := sort.Search(len(s.free), func(i int) bool { return s.free[i].off > off })
	if idx == 0 {
		return false
	}
	fb := s.free[idx-1]
	return off < fb.off+fb.size
}

// walk visits every formatted block, free blocks included. fn returning
// false stops the walk.
func (s *FreeListSpace) walk(fn func(Object) bool) {
	for off := uint64(0); off < s.extent; {
		o := s.objectAt(s.base + Address(off))
		if !fn(o) {
			return
		}
		off += o.TotalSize()
	}
}
