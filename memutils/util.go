package memutils

import (
	"math"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uintptr
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two.
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two.
func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// AlignmentPadding returns the number of bytes that must be skipped from address to reach the
// next multiple of alignment. It is 0 when address is already aligned.
func AlignmentPadding(address uintptr, alignment uintptr) uintptr {
	return (alignment - address%alignment) % alignment
}

// AddOverflowSafe adds two non-negative sizes, returning false when the result does not fit in an int.
func AddOverflowSafe(a, b int) (int, bool) {
	if a < 0 || b < 0 || a > math.MaxInt-b {
		return 0, false
	}
	return a + b, true
}

// MulOverflowSafe multiplies two non-negative sizes, returning false when the result does not fit
// in an int. Used for count * elementSize calculations.
func MulOverflowSafe(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt/b {
		return 0, false
	}
	return a * b, true
}

// RoundUpSize rounds a requested size up to a multiple of alignment, returning false if the
// rounded size would overflow.
func RoundUpSize(size int, alignment int) (int, bool) {
	padded, ok := AddOverflowSafe(size, alignment-1)
	if !ok {
		return 0, false
	}
	return AlignDown(padded, alignment), true
}
