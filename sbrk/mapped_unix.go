//go:build linux || darwin

package sbrk

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/brkalloc/memutils"
	"golang.org/x/sys/unix"
)

// MappedBreak is a Break backed by an anonymous mapping. The full reservation is mapped
// PROT_NONE up front, and pages are made readable and writable only as the break passes them,
// the same two-step reserve/commit the runtime uses for its own arenas.
type MappedBreak struct {
	region    []byte
	committed int
	brk       int
	pageSize  int
}

var _ Break = &MappedBreak{}

// NewMappedBreak reserves reserve bytes of address space, rounded up to the page size.
func NewMappedBreak(reserve int) (Break, error) {
	if reserve <= 0 {
		return nil, errors.Newf("reservation size must be positive, but was %d", reserve)
	}

	pageSize := unix.Getpagesize()
	size, ok := memutils.RoundUpSize(reserve, pageSize)
	if !ok {
		return nil, errors.Newf("reservation size %d is too large", reserve)
	}

	region, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %d bytes of address space", size)
	}

	return &MappedBreak{
		region:   region,
		pageSize: pageSize,
	}, nil
}

func (b *MappedBreak) Base() uintptr {
	if len(b.region) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b.region)))
}

func (b *MappedBreak) Current() int { return b.brk }

func (b *MappedBreak) Extend(increment int) (int, error) {
	if b.region == nil {
		return 0, ErrReleased
	}
	if err := checkIncrement(increment); err != nil {
		return 0, err
	}
	if increment > len(b.region)-b.brk {
		return 0, errors.Wrapf(ErrExhausted, "cannot extend break %d by %d bytes: reservation is %d bytes", b.brk, increment, len(b.region))
	}

	newBrk := b.brk + increment
	if newBrk > b.committed {
		// The reservation is page-aligned, so rounding up never passes its end
		newCommitted := memutils.AlignUp(newBrk, b.pageSize)
		err := unix.Mprotect(b.region[b.committed:newCommitted], unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			return 0, errors.Wrapf(ErrExhausted, "failed to commit pages %d-%d: %v", b.committed, newCommitted, err)
		}
		b.committed = newCommitted
	}

	prev := b.brk
	b.brk = newBrk
	return prev, nil
}

func (b *MappedBreak) Bytes() []byte {
	return b.region[:b.brk:b.brk]
}

func (b *MappedBreak) Release() error {
	if b.region == nil {
		return ErrReleased
	}

	err := unix.Munmap(b.region)
	if err != nil {
		return errors.Wrap(err, "failed to unmap heap reservation")
	}

	b.region = nil
	b.committed = 0
	b.brk = 0
	return nil
}
