package sbrk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceBreakExtend(t *testing.T) {
	brk, err := NewSliceBreak(100)
	require.NoError(t, err)
	require.Equal(t, uintptr(0), brk.Base()%Alignment)
	require.Equal(t, 100, brk.Limit())
	require.Equal(t, 0, brk.Current())
	require.Len(t, brk.Bytes(), 0)

	prev, err := brk.Extend(64)
	require.NoError(t, err)
	require.Equal(t, 0, prev)
	require.Equal(t, 64, brk.Current())
	require.Len(t, brk.Bytes(), 64)

	prev, err = brk.Extend(0)
	require.NoError(t, err)
	require.Equal(t, 64, prev)

	_, err = brk.Extend(37)
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, 64, brk.Current())

	_, err = brk.Extend(-1)
	require.Error(t, err)

	prev, err = brk.Extend(36)
	require.NoError(t, err)
	require.Equal(t, 64, prev)
	require.Equal(t, 100, brk.Current())
}

func TestSliceBreakAddressesAreStable(t *testing.T) {
	brk, err := NewSliceBreak(4096)
	require.NoError(t, err)

	_, err = brk.Extend(16)
	require.NoError(t, err)
	brk.Bytes()[0] = 7
	first := &brk.Bytes()[0]

	_, err = brk.Extend(2048)
	require.NoError(t, err)
	require.Same(t, first, &brk.Bytes()[0])
	require.Equal(t, byte(7), brk.Bytes()[0])
}

func TestSliceBreakRelease(t *testing.T) {
	brk, err := NewSliceBreak(64)
	require.NoError(t, err)

	require.NoError(t, brk.Release())
	require.ErrorIs(t, brk.Release(), ErrReleased)

	_, err = brk.Extend(16)
	require.ErrorIs(t, err, ErrReleased)
}

func TestNewSliceBreakInvalidLimit(t *testing.T) {
	_, err := NewSliceBreak(0)
	require.Error(t, err)
}

func TestSystemBreak(t *testing.T) {
	brk, err := NewSystemBreak(1 << 20)
	require.NoError(t, err)
	require.Equal(t, uintptr(0), brk.Base()%Alignment)

	prev, err := brk.Extend(100)
	require.NoError(t, err)
	require.Equal(t, 0, prev)

	data := brk.Bytes()
	require.Len(t, data, 100)
	data[99] = 1

	require.NoError(t, brk.Release())
}
