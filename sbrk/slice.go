package sbrk

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/brkalloc/memutils"
)

// SliceBreak is a Break backed by a single Go-allocated byte slice. The whole reservation is
// made up front so that addresses never move; Extend only advances the break within it.
type SliceBreak struct {
	reservation []byte
	brk         int
	released    bool
}

var _ Break = &SliceBreak{}

// NewSliceBreak reserves limit bytes. The base of the reservation is aligned to Alignment.
func NewSliceBreak(limit int) (*SliceBreak, error) {
	if limit <= 0 {
		return nil, errors.Newf("reservation size must be positive, but was %d", limit)
	}

	rawSize, ok := memutils.AddOverflowSafe(limit, Alignment-1)
	if !ok {
		return nil, errors.Newf("reservation size %d is too large", limit)
	}

	raw := make([]byte, rawSize)
	pad := int(memutils.AlignmentPadding(uintptr(unsafe.Pointer(unsafe.SliceData(raw))), Alignment))

	return &SliceBreak{
		reservation: raw[pad : pad+limit : pad+limit],
	}, nil
}

func (b *SliceBreak) Base() uintptr {
	if len(b.reservation) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b.reservation)))
}

func (b *SliceBreak) Current() int { return b.brk }

// Limit returns the size of the reservation
func (b *SliceBreak) Limit() int { return len(b.reservation) }

func (b *SliceBreak) Extend(increment int) (int, error) {
	if b.released {
		return 0, ErrReleased
	}
	if err := checkIncrement(increment); err != nil {
		return 0, err
	}

	if increment > len(b.reservation)-b.brk {
		return 0, errors.Wrapf(ErrExhausted, "cannot extend break %d by %d bytes: reservation is %d bytes", b.brk, increment, len(b.reservation))
	}

	prev := b.brk
	b.brk += increment
	return prev, nil
}

func (b *SliceBreak) Bytes() []byte {
	return b.reservation[:b.brk:b.brk]
}

func (b *SliceBreak) Release() error {
	if b.released {
		return ErrReleased
	}
	b.released = true
	b.reservation = nil
	b.brk = 0
	return nil
}
