// Package sbrk provides the single primitive the allocator consumes: a heap region whose
// upper boundary (the break) can only be moved forward.
package sbrk

import (
	"github.com/cockroachdb/errors"
)

//go:generate mockgen -source break.go -destination mocks/mock_break.go -package mocks

// Alignment is the alignment guaranteed for Base by every implementation in this package
const Alignment = 16

var (
	// ErrExhausted is returned by Extend when the reservation cannot grow by the requested amount
	ErrExhausted = errors.New("heap reservation exhausted")
	// ErrUnsupported is returned when a reservation strategy is not available on this platform
	ErrUnsupported = errors.New("reservation strategy not supported on this platform")
	// ErrReleased is returned by Extend once Release has been called
	ErrReleased = errors.New("heap reservation has been released")
)

// Break is a contiguous, monotonically growing heap region. Offsets handed out by Extend are
// relative to Base and remain valid (and at a stable address) until Release.
type Break interface {
	// Base is the address of offset 0 in the region
	Base() uintptr
	// Current returns the current break: the number of bytes of the region in use
	Current() int
	// Extend moves the break forward by increment bytes and returns the previous break. On
	// failure the break is left untouched.
	Extend(increment int) (int, error)
	// Bytes returns a view of the region from offset 0 to the current break. The view must be
	// re-fetched after Extend.
	Bytes() []byte
	// Release returns the whole reservation. The region must not be touched afterwards.
	Release() error
}

// NewSystemBreak reserves up to reserve bytes of address space using the best strategy available
// on this platform: an mmap reservation committed page by page where supported, and a Go-allocated
// slice otherwise.
func NewSystemBreak(reserve int) (Break, error) {
	brk, err := NewMappedBreak(reserve)
	if errors.Is(err, ErrUnsupported) {
		sliceBrk, sliceErr := NewSliceBreak(reserve)
		if sliceErr != nil {
			return nil, sliceErr
		}
		return sliceBrk, nil
	}
	return brk, err
}

func checkIncrement(increment int) error {
	if increment < 0 {
		return errors.Newf("attempted to move the break backwards by %d bytes", -increment)
	}
	return nil
}
