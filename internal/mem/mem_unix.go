//go:build unix

package mem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Reserve maps an anonymous private region of at least size bytes.
func Reserve(size uint64) (*Reservation, error) {
	if size == 0 {
		return nil, fmt.Errorf("mem: zero-length reservation")
	}
	size = AlignUp(size, PageSize)

	buf, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mem: mmap %d bytes: %w", size, err)
	}
	return &Reservation{buf: buf, mapped: true}, nil
}

// Release returns the reservation to the operating system.
func (r *Reservation) Release() error {
	if !r.mapped || r.buf == nil {
		r.buf = nil
		return nil
	}
	buf := r.buf
	r.buf = nil
	r.mapped = false
	if err := unix.Munmap(buf); err != nil {
		return fmt.Errorf("mem: munmap: %w", err)
	}
	return nil
}
