package brkalloc

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/brkalloc/memutils"
)

var (
	// ErrOutOfMemory is returned when the heap cannot be extended far enough to satisfy a request
	ErrOutOfMemory = memutils.ErrOutOfMemory
	// ErrInvalidPointer is returned when releasing or resizing a Pointer that this Allocator did not
	// hand out, or that was already released
	ErrInvalidPointer = memutils.ErrInvalidPointer
	// ErrInvalidSize is returned for negative sizes and element counts
	ErrInvalidSize = memutils.ErrInvalidSize
	// ErrCorruptFreeList is carried by the panic raised when the allocator's free list is found to be
	// corrupt. The heap cannot be used after such a panic.
	ErrCorruptFreeList = memutils.ErrCorruptFreeList

	// ErrAllocatorDestroyed is returned by every operation on an Allocator after Destroy
	ErrAllocatorDestroyed = errors.New("allocator has been destroyed")
)
