package heap

import "errors"

var (
	// ErrAllocationFailure indicates the heap could not satisfy an
	// allocation request. Recoverable: the caller may retry after an
	// explicit collection or report out-of-memory to the mutator.
	ErrAllocationFailure = errors.New("heap: allocation failure")

	// ErrOutOfMemory indicates that even an escalated major collection
	// could not reclaim enough space. Use IsAllocationFailure to match
	// both failure modes.
	ErrOutOfMemory = errors.New("heap: out of memory after full collection")

	// ErrArchiveRegionViolation indicates an archive region that is not
	// fully contained in the old generation's used extent. This is a
	// configuration error and terminates startup.
	ErrArchiveRegionViolation = errors.New("heap: archive region not contained in old generation")

	// ErrServiceabilityInitialized indicates a repeated attempt to build
	// the reporting views; they are wired exactly once.
	ErrServiceabilityInitialized = errors.New("heap: serviceability already initialized")

	// ErrBadAddress indicates an address that does not fall inside any
	// committed space.
	ErrBadAddress = errors.New("heap: address outside committed spaces")
)

// IsAllocationFailure reports whether err is (or wraps) an allocation
// failure, including the out-of-memory escalation.
func IsAllocationFailure(err error) bool {
	return errors.Is(err, ErrAllocationFailure) || errors.Is(err, ErrOutOfMemory)
}
