// Package mem provides the raw backing memory for generation spaces.
// Reservations are page-granular and come from the operating system where
// possible (mmap on unix), falling back to Go-managed buffers elsewhere.
package mem

// PageSize is the granularity used for reservations and commit growth.
const PageSize = 4096

// AlignUp rounds n up to the nearest multiple of align. align must be a
// power of two.
func AlignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// Reservation is a contiguous run of backing memory for one space.
type Reservation struct {
	buf    []byte
	mapped bool
}

// Bytes returns the full reserved range. The caller tracks its own commit
// watermark; bytes past that watermark must not be handed to mutators.
func (r *Reservation) Bytes() []byte {
	return r.buf
}

// Size returns the reserved length in bytes.
func (r *Reservation) Size() uint64 {
	return uint64(len(r.buf))
}
