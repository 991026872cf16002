package brkalloc

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/brkalloc/memutils"
	"github.com/vkngwrapper/brkalloc/sbrk"
	"github.com/vkngwrapper/brkalloc/sbrk/mocks"
	"go.uber.org/mock/gomock"
)

func readyAllocator(t *testing.T, limit int, flags CreateFlags) *Allocator {
	brk, err := sbrk.NewSliceBreak(limit)
	require.NoError(t, err)

	allocator, err := New(nil, brk, CreateOptions{Flags: flags | AllocatorCreateValidateEveryOperation})
	require.NoError(t, err)

	return allocator
}

func fill(t *testing.T, allocator *Allocator, p Pointer, value byte) {
	data, err := allocator.Bytes(p)
	require.NoError(t, err)

	for i := range data {
		data[i] = value
	}
}

func requireFilled(t *testing.T, allocator *Allocator, p Pointer, count int, value byte) {
	data, err := allocator.Bytes(p)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), count)

	for i := 0; i < count; i++ {
		require.Equal(t, value, data[i], "byte %d", i)
	}
}

func TestAllocateAndRelease(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	p, err := allocator.Allocate(100)
	require.NoError(t, err)
	require.NotEqual(t, Nil, p)

	data, err := allocator.Bytes(p)
	require.NoError(t, err)
	require.Len(t, data, 100)
	require.Equal(t, 112, cap(data))

	usable, err := allocator.UsableSize(p)
	require.NoError(t, err)
	require.Equal(t, 112, usable)

	fill(t, allocator, p, 0xAB)

	ptr, err := allocator.UnsafePointer(p)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), *(*byte)(ptr))

	require.NoError(t, allocator.Release(p))
	require.NoError(t, allocator.Validate())

	// The same block is handed out again
	q, err := allocator.Allocate(100)
	require.NoError(t, err)
	require.Equal(t, p, q)

	require.NoError(t, allocator.Release(q))
	require.NoError(t, allocator.Destroy())
}

func TestAllocateZeroSize(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	p, err := allocator.Allocate(0)
	require.NoError(t, err)
	require.NotEqual(t, Nil, p)

	data, err := allocator.Bytes(p)
	require.NoError(t, err)
	require.Len(t, data, 0)

	q, err := allocator.Allocate(0)
	require.NoError(t, err)
	require.NotEqual(t, p, q)

	_, err = allocator.Allocate(-5)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestAdjacentReleasesMerge(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	a, err := allocator.Allocate(64)
	require.NoError(t, err)
	b, err := allocator.Allocate(64)
	require.NoError(t, err)
	guard, err := allocator.Allocate(16)
	require.NoError(t, err)

	require.NoError(t, allocator.Release(a))
	require.NoError(t, allocator.Release(b))

	var stats memutils.DetailedStatistics
	allocator.CalculateStatistics(&stats)
	require.Equal(t, 1, stats.UnusedRangeCount)
	require.Equal(t, 144, stats.UnusedRangeBytes)

	// The merged block is large enough for a request neither half could hold
	c, err := allocator.Allocate(128)
	require.NoError(t, err)
	require.Equal(t, a, c)

	require.NoError(t, allocator.Release(c))
	require.NoError(t, allocator.Release(guard))
	require.NoError(t, allocator.Destroy())
}

func TestZeroAllocate(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	p, err := allocator.Allocate(96)
	require.NoError(t, err)
	fill(t, allocator, p, 0xFF)
	require.NoError(t, allocator.Release(p))

	q, err := allocator.ZeroAllocate(12, 8)
	require.NoError(t, err)
	require.Equal(t, p, q)

	data, err := allocator.Bytes(q)
	require.NoError(t, err)
	require.Len(t, data, 96)
	for _, b := range data[:cap(data)] {
		require.Equal(t, byte(0), b)
	}

	_, err = allocator.ZeroAllocate(math.MaxInt/2, 4)
	require.ErrorIs(t, err, ErrOutOfMemory)

	_, err = allocator.ZeroAllocate(-1, 4)
	require.ErrorIs(t, err, ErrInvalidSize)

	empty, err := allocator.ZeroAllocate(0, 16)
	require.NoError(t, err)
	require.NotEqual(t, Nil, empty)
}

func TestResizeGrowPreservesContents(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	p, err := allocator.Allocate(32)
	require.NoError(t, err)
	fill(t, allocator, p, 0x5A)

	_, err = allocator.Allocate(16)
	require.NoError(t, err)

	q, err := allocator.Resize(p, 200)
	require.NoError(t, err)
	require.NotEqual(t, p, q)
	requireFilled(t, allocator, q, 32, 0x5A)

	data, err := allocator.Bytes(q)
	require.NoError(t, err)
	require.Len(t, data, 200)

	_, err = allocator.Bytes(p)
	require.ErrorIs(t, err, ErrInvalidPointer)
}

func TestResizeShrinkPreservesContents(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	p, err := allocator.Allocate(256)
	require.NoError(t, err)

	data, err := allocator.Bytes(p)
	require.NoError(t, err)
	for i := range data {
		data[i] = byte(i)
	}

	q, err := allocator.Resize(p, 40)
	require.NoError(t, err)
	require.Equal(t, p, q)

	data, err = allocator.Bytes(q)
	require.NoError(t, err)
	require.Len(t, data, 40)
	for i := range data {
		require.Equal(t, byte(i), data[i])
	}

	var stats memutils.DetailedStatistics
	allocator.CalculateStatistics(&stats)
	require.Equal(t, 1, stats.UnusedRangeCount)
	require.Equal(t, 256-48-16, stats.UnusedRangeBytes)
}

func TestResizeIntoMergedPredecessor(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	a, err := allocator.Allocate(64)
	require.NoError(t, err)
	b, err := allocator.Allocate(64)
	require.NoError(t, err)
	_, err = allocator.Allocate(16)
	require.NoError(t, err)

	data, err := allocator.Bytes(b)
	require.NoError(t, err)
	for i := range data {
		data[i] = byte(200 - i)
	}

	require.NoError(t, allocator.Release(a))

	// b merges with a's free block, and the new block is split from the front of the merged
	// range. The residual header lands inside b's old payload.
	c, err := allocator.Resize(b, 100)
	require.NoError(t, err)
	require.Equal(t, a, c)

	data, err = allocator.Bytes(c)
	require.NoError(t, err)
	require.Len(t, data, 100)
	for i := 0; i < 64; i++ {
		require.Equal(t, byte(200-i), data[i])
	}
}

func TestResizeNilAndZero(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	p, err := allocator.Resize(Nil, 48)
	require.NoError(t, err)
	require.NotEqual(t, Nil, p)

	q, err := allocator.Resize(p, 0)
	require.NoError(t, err)
	require.NotEqual(t, Nil, q)

	usable, err := allocator.UsableSize(q)
	require.NoError(t, err)
	require.Equal(t, 16, usable)

	_, err = allocator.Resize(q, -1)
	require.ErrorIs(t, err, ErrInvalidSize)

	require.NoError(t, allocator.Release(q))
}

func TestInvalidPointers(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	p, err := allocator.Allocate(64)
	require.NoError(t, err)

	require.NoError(t, allocator.Release(Nil))
	require.ErrorIs(t, allocator.Release(p+16), ErrInvalidPointer)
	require.ErrorIs(t, allocator.Release(Pointer(100000)), ErrInvalidPointer)

	require.NoError(t, allocator.Release(p))
	require.ErrorIs(t, allocator.Release(p), ErrInvalidPointer)

	_, err = allocator.Resize(p, 128)
	require.ErrorIs(t, err, ErrInvalidPointer)

	var stats memutils.DetailedStatistics
	allocator.CalculateStatistics(&stats)
	require.Equal(t, 0, stats.AllocationCount)
	require.Equal(t, 1, stats.UnusedRangeCount)
	require.Equal(t, 80, stats.HeapBytes)
}

func TestOutOfMemory(t *testing.T) {
	ctrl := gomock.NewController(t)

	brk := mocks.NewMockBreak(ctrl)
	brk.EXPECT().Current().Return(0).AnyTimes()
	brk.EXPECT().Base().Return(uintptr(0x10000)).AnyTimes()
	brk.EXPECT().Extend(48).Return(0, sbrk.ErrExhausted)

	allocator, err := New(nil, brk, CreateOptions{})
	require.NoError(t, err)

	p, err := allocator.Allocate(20)
	require.ErrorIs(t, err, ErrOutOfMemory)
	require.Equal(t, Nil, p)
}

func TestOutOfMemoryLeavesHeapUsable(t *testing.T) {
	allocator := readyAllocator(t, 256, 0)

	p, err := allocator.Allocate(128)
	require.NoError(t, err)

	_, err = allocator.Allocate(128)
	require.ErrorIs(t, err, ErrOutOfMemory)

	q, err := allocator.Allocate(64)
	require.NoError(t, err)

	require.NoError(t, allocator.Release(p))
	require.NoError(t, allocator.Release(q))
	require.NoError(t, allocator.Destroy())
}

func TestDestroyReportsUnreleased(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	_, err := allocator.Allocate(10)
	require.NoError(t, err)

	require.Error(t, allocator.Destroy())
	require.ErrorIs(t, allocator.Destroy(), ErrAllocatorDestroyed)
}

func TestOperationsAfterDestroy(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	p, err := allocator.Allocate(10)
	require.NoError(t, err)
	require.NoError(t, allocator.Release(p))
	require.NoError(t, allocator.Destroy())

	_, err = allocator.Allocate(10)
	require.ErrorIs(t, err, ErrAllocatorDestroyed)

	_, err = allocator.ZeroAllocate(2, 8)
	require.ErrorIs(t, err, ErrAllocatorDestroyed)

	_, err = allocator.Resize(p, 20)
	require.ErrorIs(t, err, ErrAllocatorDestroyed)

	_, err = allocator.Resize(Nil, 20)
	require.ErrorIs(t, err, ErrAllocatorDestroyed)

	require.ErrorIs(t, allocator.Release(p), ErrAllocatorDestroyed)

	_, err = allocator.Bytes(p)
	require.ErrorIs(t, err, ErrAllocatorDestroyed)

	_, err = allocator.UnsafePointer(p)
	require.ErrorIs(t, err, ErrAllocatorDestroyed)

	_, err = allocator.UsableSize(p)
	require.ErrorIs(t, err, ErrAllocatorDestroyed)

	require.ErrorIs(t, allocator.Validate(), ErrAllocatorDestroyed)

	var stats memutils.DetailedStatistics
	allocator.CalculateStatistics(&stats)
	require.Equal(t, 0, stats.HeapBytes)

	var summary memutils.Statistics
	allocator.CalculateSummaryStatistics(&summary)
	require.Equal(t, memutils.Statistics{}, summary)

	require.JSONEq(t, `{"Flags": "AllocatorCreateValidateEveryOperation", "Destroyed": true}`, allocator.BuildStatsString(true))
}

func TestCalculateSummaryStatistics(t *testing.T) {
	allocator := readyAllocator(t, 4096, 0)

	a, err := allocator.Allocate(100)
	require.NoError(t, err)
	b, err := allocator.Allocate(20)
	require.NoError(t, err)
	_, err = allocator.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, allocator.Release(b))

	var summary memutils.Statistics
	allocator.CalculateSummaryStatistics(&summary)
	require.Equal(t, memutils.Statistics{
		BlockCount:      3,
		AllocationCount: 2,
		HeapBytes:       208,
		AllocationBytes: 128,
	}, summary)

	// The totals agree with a full walk of the heap
	var detailed memutils.DetailedStatistics
	allocator.CalculateStatistics(&detailed)
	require.Equal(t, summary, detailed.Statistics)

	require.NoError(t, allocator.Release(a))
}

func TestConcurrentAllocations(t *testing.T) {
	allocator := readyAllocator(t, 1<<20, 0)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(value byte) {
			defer wg.Done()

			for i := 0; i < 100; i++ {
				p, err := allocator.Allocate(24 + i)
				if !assert.NoError(t, err) {
					return
				}

				data, err := allocator.Bytes(p)
				if !assert.NoError(t, err) {
					return
				}
				for j := range data {
					data[j] = value
				}

				p, err = allocator.Resize(p, 48+i)
				if !assert.NoError(t, err) {
					return
				}

				data, err = allocator.Bytes(p)
				if !assert.NoError(t, err) {
					return
				}
				for j := 0; j < 24+i; j++ {
					if !assert.Equal(t, value, data[j], "byte %d", j) {
						return
					}
				}

				if !assert.NoError(t, allocator.Release(p)) {
					return
				}
			}
		}(byte(worker + 1))
	}
	wg.Wait()

	require.NoError(t, allocator.Validate())
	require.NoError(t, allocator.Destroy())
}

func TestBuildStatsString(t *testing.T) {
	allocator := readyAllocator(t, 4096, AllocatorCreateExternallySynchronized)

	_, err := allocator.Allocate(10)
	require.NoError(t, err)

	require.JSONEq(t, `{
		"Flags": "AllocatorCreateExternallySynchronized|AllocatorCreateValidateEveryOperation",
		"Total": {
			"BlockCount": 1,
			"AllocationCount": 1,
			"UnusedRangeCount": 0,
			"HeapBytes": 32,
			"AllocationBytes": 16,
			"UnusedBytes": 0,
			"HeaderBytes": 16,
			"PaddingBytes": 0,
			"AllocationSizeMin": 16,
			"AllocationSizeMax": 16
		}
	}`, allocator.BuildStatsString(false))

	require.Contains(t, allocator.BuildStatsString(true), `"Regions":[{"Offset":0,"Type":"Allocation","Size":16,"Payload":16,"RequestedSize":10}]`)
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "None", CreateFlags(0).String())
	require.Equal(t, "AllocatorCreateExternallySynchronized", AllocatorCreateExternallySynchronized.String())
	require.Equal(t, "AllocatorCreateExternallySynchronized|AllocatorCreateValidateEveryOperation",
		(AllocatorCreateExternallySynchronized | AllocatorCreateValidateEveryOperation).String())
}

func TestNewRequiresBreak(t *testing.T) {
	_, err := New(nil, nil, CreateOptions{})
	require.Error(t, err)
}
