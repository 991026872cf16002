package memutils

import "github.com/pkg/errors"

var (
	// ErrOutOfMemory is returned when the heap break cannot be extended far enough to satisfy
	// an allocation. It is never retried internally.
	ErrOutOfMemory error = errors.New("out of memory")

	// ErrInvalidPointer is returned when a pointer passed to release or resize was not handed
	// out by the allocator, or has already been released.
	ErrInvalidPointer error = errors.New("pointer was not allocated by this allocator or was already released")

	// ErrCorruptFreeList is carried by panics raised when the free list is found in a state that
	// cannot be trusted for further allocations: self links, out-of-order nodes, overlapping
	// ranges, dangling cursors.
	ErrCorruptFreeList error = errors.New("free list is corrupt")

	// ErrInvalidSize is returned for negative allocation sizes and element counts.
	ErrInvalidSize error = errors.New("invalid allocation size")

	// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	PowerOfTwoError error = errors.New("number must be a power of two")
)
