//go:build !unix

package mem

import "fmt"

// Reserve allocates a Go-managed buffer of at least size bytes.
func Reserve(size uint64) (*Reservation, error) {
	if size == 0 {
		return nil, fmt.Errorf("mem: zero-length reservation")
	}
	size = AlignUp(size, PageSize)
	return &Reservation{buf: make([]byte, size)}, nil
}

// Release drops the buffer; the Go runtime reclaims it.
func (r *Reservation) Release() error {
	r.buf = nil
	return nil
}
