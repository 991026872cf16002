//go:build !linux && !darwin

package sbrk

// NewMappedBreak is not available on this platform and always returns ErrUnsupported.
func NewMappedBreak(reserve int) (Break, error) {
	return nil, ErrUnsupported
}
