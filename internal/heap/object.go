package heap

import "encoding/binary"

// Address is a virtual heap address. Spaces are laid out at disjoint virtual
// bases at construction time, so an address identifies both its space and its
// offset. The zero Address is the null reference.
type Address uint64

// NilAddress is the null reference.
const NilAddress Address = 0

// Object layout. Every allocation carries an 8-byte packed header followed by
// the payload; the first Refs() payload words are reference slots holding
// Addresses. Payloads are 8-byte aligned and at least WordSize bytes so a
// forwarding address always fits over the first payload word.
//
//	offset 0: payload size in bytes (uint32, multiple of 8)
//	offset 4: reference slot count  (uint16)
//	offset 6: age                   (uint8, minor collections survived)
//	offset 7: flags                 (uint8)
const (
	HeaderSize = 8
	WordSize   = 8
	MinPayload = WordSize
)

// Header flag bits.
const (
	flagForwarded = 1 << iota // payload word 0 holds the relocation target
	flagFree                  // block is on a free list, not an object
	flagArchive               // archive object, permanently live
	flagMarked                // mark bit for old-generation collection
)

// Object is a view over one allocation's header and payload bytes.
type Object struct {
	addr Address
	mem  []byte // header + payload
}

func (o Object) Addr() Address { return o.addr }

// Size returns the payload size in bytes.
func (o Object) Size() uint32 {
	return binary.LittleEndian.Uint32(o.mem[0:4])
}

// Refs returns the number of leading reference slots in the payload.
func (o Object) Refs() int {
	return int(binary.LittleEndian.Uint16(o.mem[4:6]))
}

func (o Object) Age() uint8   { return o.mem[6] }
func (o Object) Flags() uint8 { return o.mem[7] }

// TotalSize returns header plus payload bytes, the full block footprint.
func (o Object) TotalSize() uint64 {
	return HeaderSize + uint64(o.Size())
}

func (o Object) setAge(age uint8)     { o.mem[6] = age }
func (o Object) setFlag(f uint8)      { o.mem[7] |= f }
func (o Object) clearFlag(f uint8)    { o.mem[7] &^= f }
func (o Object) hasFlag(f uint8) bool { return o.mem[7]&f != 0 }

// Ref returns the i'th reference slot value.
func (o Object) Ref(i int) Address {
	off := HeaderSize + i*WordSize
	return Address(binary.LittleEndian.Uint64(o.mem[off : off+WordSize]))
}

// SetRef stores target into the i'th reference slot. This is the raw store;
// mutators go through Heap.WriteRef so the write barrier runs.
func (o Object) SetRef(i int, target Address) {
	off := HeaderSize + i*WordSize
	binary.LittleEndian.PutUint64(o.mem[off:off+WordSize], uint64(target))
}

// SlotAddr returns the virtual address of the i'th reference slot.
func (o Object) SlotAddr(i int) Address {
	return o.addr + HeaderSize + Address(i*WordSize)
}

// Forward overwrites the first payload word with the relocation target and
// sets the forwarded flag. The header stays readable so tracing can still
// compute the block footprint.
func (o Object) Forward(to Address) {
	binary.LittleEndian.PutUint64(o.mem[HeaderSize:HeaderSize+WordSize], uint64(to))
	o.setFlag(flagForwarded)
}

// ForwardedTo returns the relocation target if the object has been moved.
func (o Object) ForwardedTo() (Address, bool) {
	if !o.hasFlag(flagForwarded) {
		return NilAddress, false
	}
	return Address(binary.LittleEndian.Uint64(o.mem[HeaderSize : HeaderSize+WordSize])), true
}

// writeHeader initializes a block header in mem.
func writeHeader(mem []byte, payload uint32, refs uint16, age, flags uint8) {
	binary.LittleEndian.PutUint32(mem[0:4], payload)
	binary.LittleEndian.PutUint16(mem[4:6], refs)
	mem[6] = age
	mem[7] = flags
}

// objectSize returns the aligned block footprint for a payload request.
func objectSize(payload uint64) uint64 {
	if payload < MinPayload {
		payload = MinPayload
	}
	return HeaderSize + alignUp(payload, WordSize)
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
