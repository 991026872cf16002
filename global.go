package brkalloc

import (
	"sync"

	"github.com/vkngwrapper/brkalloc/sbrk"
	"golang.org/x/exp/slog"
)

var (
	defaultOnce      sync.Once
	defaultAllocator *Allocator
	defaultErr       error
)

// Default returns the process-wide Allocator used by the package-level functions, creating it on
// first use. It reserves DefaultHeapReserve bytes of address space with sbrk.NewSystemBreak and
// logs to slog.Default.
func Default() (*Allocator, error) {
	defaultOnce.Do(func() {
		var brk sbrk.Break
		brk, defaultErr = sbrk.NewSystemBreak(DefaultHeapReserve)
		if defaultErr != nil {
			return
		}

		defaultAllocator, defaultErr = New(slog.Default(), brk, CreateOptions{})
	})

	return defaultAllocator, defaultErr
}

// Allocate calls Allocator.Allocate on the Default allocator
func Allocate(size int) (Pointer, error) {
	allocator, err := Default()
	if err != nil {
		return Nil, err
	}
	return allocator.Allocate(size)
}

// ZeroAllocate calls Allocator.ZeroAllocate on the Default allocator
func ZeroAllocate(count, elementSize int) (Pointer, error) {
	allocator, err := Default()
	if err != nil {
		return Nil, err
	}
	return allocator.ZeroAllocate(count, elementSize)
}

// Resize calls Allocator.Resize on the Default allocator
func Resize(p Pointer, newSize int) (Pointer, error) {
	allocator, err := Default()
	if err != nil {
		return Nil, err
	}
	return allocator.Resize(p, newSize)
}

// Release calls Allocator.Release on the Default allocator
func Release(p Pointer) error {
	if p == Nil {
		return nil
	}

	allocator, err := Default()
	if err != nil {
		return err
	}
	return allocator.Release(p)
}

// Bytes calls Allocator.Bytes on the Default allocator
func Bytes(p Pointer) ([]byte, error) {
	allocator, err := Default()
	if err != nil {
		return nil, err
	}
	return allocator.Bytes(p)
}
