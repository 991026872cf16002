package brkalloc

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/brkalloc/internal/utils"
	"github.com/vkngwrapper/brkalloc/memutils"
	"github.com/vkngwrapper/brkalloc/memutils/metadata"
	"github.com/vkngwrapper/brkalloc/sbrk"
	"golang.org/x/exp/slog"
)

// Pointer identifies an allocation: it is the byte offset of the allocation's first payload byte
// within the Allocator's heap region. Use Allocator.Bytes or Allocator.UnsafePointer to reach the
// memory itself.
type Pointer int

// Nil is the Pointer that never refers to an allocation
const Nil Pointer = 0

// Allocator hands out variable-sized blocks of memory from a single growing heap region, tracked
// by an address-ordered free list that is searched next-fit. Released blocks are merged with free
// neighbours; the region itself only grows until Destroy.
type Allocator struct {
	logger      *slog.Logger
	createFlags CreateFlags
	mutex       utils.OptionalRWMutex

	heap     sbrk.Break
	metadata *metadata.NextFitBlockMetadata
}

// Allocate returns a Pointer to a new allocation of at least size bytes. The memory is not
// initialized. A size of 0 returns a valid, minimum-sized allocation.
//
// Allocate returns ErrInvalidSize for negative sizes and ErrOutOfMemory if the heap could not grow
// far enough.
func (a *Allocator) Allocate(size int) (Pointer, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.checkDestroyed(); err != nil {
		return Nil, err
	}

	p, err := a.allocate(size)
	if err != nil {
		return Nil, err
	}

	memutils.DebugFillAllocation(a.payload(p))
	a.validateOperation()
	return p, nil
}

// ZeroAllocate returns a Pointer to a new allocation large enough for count elements of
// elementSize bytes each, with every byte set to zero.
//
// ZeroAllocate returns ErrInvalidSize if either value is negative and ErrOutOfMemory if their
// product overflows or the heap could not grow far enough.
func (a *Allocator) ZeroAllocate(count, elementSize int) (Pointer, error) {
	if count < 0 || elementSize < 0 {
		return Nil, errors.Wrapf(ErrInvalidSize, "requested %d elements of %d bytes", count, elementSize)
	}

	size, ok := memutils.MulOverflowSafe(count, elementSize)
	if !ok {
		return Nil, errors.Wrapf(ErrOutOfMemory, "%d elements of %d bytes overflows the address space", count, elementSize)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.checkDestroyed(); err != nil {
		return Nil, err
	}

	p, err := a.allocate(size)
	if err != nil {
		return Nil, err
	}

	payload := a.payload(p)
	for i := range payload {
		payload[i] = 0
	}

	a.validateOperation()
	return p, nil
}

// Resize changes the size of the allocation at p to newSize bytes, and returns a Pointer to the
// resized allocation. The first min(old size, newSize) bytes are preserved; any bytes beyond that
// are not initialized.
//
// The allocation at p is always released, and p must not be used again once Resize returns, even if
// it returns an error. Resizing Nil behaves like Allocate, and resizing to 0 returns a minimum-sized
// allocation. If p was not handed out by this Allocator or was already released, ErrInvalidPointer
// is returned and nothing changes.
func (a *Allocator) Resize(p Pointer, newSize int) (Pointer, error) {
	if newSize < 0 {
		return Nil, errors.Wrapf(ErrInvalidSize, "requested %d bytes", newSize)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.checkDestroyed(); err != nil {
		return Nil, err
	}

	if p == Nil {
		newPtr, err := a.allocate(newSize)
		if err != nil {
			return Nil, err
		}

		memutils.DebugFillAllocation(a.payload(newPtr))
		a.validateOperation()
		return newPtr, nil
	}

	_, oldCapacity, err := a.metadata.AllocationSize(int(p))
	if err != nil {
		a.logInvalidPointer("resize", p, err)
		return Nil, err
	}

	// Release never writes past the block's header, so the old contents stay readable until
	// the new block is committed
	err = a.metadata.Free(int(p))
	if err != nil {
		return Nil, err
	}

	request, err := a.metadata.CreateAllocationRequest(newSize)
	if err != nil {
		a.validateOperation()
		return Nil, err
	}

	copySize := oldCapacity
	if newSize < copySize {
		copySize = newSize
	}

	if request.Type == metadata.AllocationRequestFreeNode {
		// The new header and the split residual are written by Alloc; both lie outside the
		// copied range of the destination, but may lie inside the source
		data := a.heap.Bytes()
		copy(data[request.PayloadOffset():request.PayloadOffset()+copySize], data[int(p):int(p)+copySize])

		newOffset, err := a.metadata.Alloc(request, newSize)
		if err != nil {
			return Nil, err
		}

		a.logger.Debug("resized allocation in place", slog.Int("from", int(p)), slog.Int("to", newOffset), slog.Int("size", newSize))
		a.validateOperation()
		return Pointer(newOffset), nil
	}

	newOffset, err := a.commit(request, newSize)
	if err != nil {
		a.validateOperation()
		return Nil, err
	}

	data := a.heap.Bytes()
	copy(data[newOffset:newOffset+copySize], data[int(p):int(p)+copySize])

	a.validateOperation()
	return Pointer(newOffset), nil
}

// Release returns the allocation at p to the free list. Releasing Nil does nothing. If p was not
// handed out by this Allocator or was already released, ErrInvalidPointer is returned and nothing
// changes.
func (a *Allocator) Release(p Pointer) error {
	if p == Nil {
		return nil
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.checkDestroyed(); err != nil {
		return err
	}

	err := a.metadata.Free(int(p))
	if err != nil {
		a.logInvalidPointer("release", p, err)
		return err
	}

	a.validateOperation()
	return nil
}

// Bytes returns the memory of the allocation at p. The slice's length is the size that was
// requested and its capacity is the usable size of the block. It remains valid until the
// allocation is released or resized.
func (a *Allocator) Bytes(p Pointer) ([]byte, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if err := a.checkDestroyed(); err != nil {
		return nil, err
	}

	requested, capacity, err := a.metadata.AllocationSize(int(p))
	if err != nil {
		return nil, err
	}

	offset := int(p)
	return a.heap.Bytes()[offset : offset+requested : offset+capacity], nil
}

// UnsafePointer returns the address of the first byte of the allocation at p
func (a *Allocator) UnsafePointer(p Pointer) (unsafe.Pointer, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if err := a.checkDestroyed(); err != nil {
		return nil, err
	}

	_, _, err := a.metadata.AllocationSize(int(p))
	if err != nil {
		return nil, err
	}

	return unsafe.Pointer(&a.heap.Bytes()[int(p)]), nil
}

// UsableSize returns the number of bytes that can be used at p, which may be more than was requested
func (a *Allocator) UsableSize(p Pointer) (int, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if err := a.checkDestroyed(); err != nil {
		return 0, err
	}

	_, capacity, err := a.metadata.AllocationSize(int(p))
	return capacity, err
}

// Validate performs a full consistency check of the heap and the free list
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if err := a.checkDestroyed(); err != nil {
		return err
	}

	return a.metadata.Validate()
}

// CalculateStatistics populates a DetailedStatistics object with a snapshot of the heap. This walks
// every block in the heap; CalculateSummaryStatistics is cheaper when only totals are needed.
// A destroyed allocator reports empty statistics.
func (a *Allocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats.Clear()
	if a.metadata == nil {
		return
	}

	a.metadata.AddDetailedStatistics(stats)
}

// CalculateSummaryStatistics populates a Statistics object with the heap's totals, which are
// tracked as allocations are made and released
func (a *Allocator) CalculateSummaryStatistics(stats *memutils.Statistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats.Clear()
	if a.metadata == nil {
		return
	}

	a.metadata.AddStatistics(stats)
}

// BuildStatsString produces a json document describing the heap. If detailed is true, every
// region of the heap is listed.
func (a *Allocator) BuildStatsString(detailed bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Flags").String(a.createFlags.String())
	if a.metadata == nil {
		obj.Name("Destroyed").Bool(true)
		obj.End()
		return string(writer.Bytes())
	}

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.metadata.AddDetailedStatistics(&stats)

	totalObj := obj.Name("Total").Object()
	totalObj.Name("BlockCount").Int(stats.BlockCount)
	totalObj.Name("AllocationCount").Int(stats.AllocationCount)
	totalObj.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	totalObj.Name("HeapBytes").Int(stats.HeapBytes)
	totalObj.Name("AllocationBytes").Int(stats.AllocationBytes)
	totalObj.Name("UnusedBytes").Int(stats.UnusedRangeBytes)
	totalObj.Name("HeaderBytes").Int(stats.HeaderBytes)
	totalObj.Name("PaddingBytes").Int(stats.PaddingBytes)
	if stats.AllocationCount > 0 {
		totalObj.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		totalObj.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		totalObj.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		totalObj.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
	totalObj.End()

	if detailed {
		heapObj := obj.Name("Heap").Object()
		a.metadata.PrintDetailedMap(heapObj)
		heapObj.End()
	}

	obj.End()
	return string(writer.Bytes())
}

// Destroy releases the heap region. Every Pointer handed out by this Allocator is invalid afterward.
// Allocations that were never released are logged, and an error is returned, but the region is
// released regardless.
func (a *Allocator) Destroy() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.checkDestroyed(); err != nil {
		return err
	}

	var unreleasedErr error
	if !a.metadata.IsEmpty() {
		a.metadata.DebugLogAllAllocations(a.logger, func(log *slog.Logger, payload int, size int) {
			log.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unreleased allocation",
				slog.Int("pointer", payload),
				slog.Int("size", size),
			)
		})

		unreleasedErr = errors.Newf("%d allocations were not released before the destruction of this allocator", a.metadata.AllocationCount())
	}

	err := a.heap.Release()
	a.metadata = nil
	if err != nil {
		return errors.CombineErrors(unreleasedErr, errors.Wrap(err, "failed to release the heap"))
	}

	return unreleasedErr
}

func (a *Allocator) checkDestroyed() error {
	if a.metadata == nil {
		return ErrAllocatorDestroyed
	}
	return nil
}

func (a *Allocator) allocate(size int) (Pointer, error) {
	request, err := a.metadata.CreateAllocationRequest(size)
	if err != nil {
		return Nil, err
	}

	offset, err := a.commit(request, size)
	if err != nil {
		return Nil, err
	}

	return Pointer(offset), nil
}

func (a *Allocator) commit(request metadata.AllocationRequest, size int) (int, error) {
	offset, err := a.metadata.Alloc(request, size)
	if err != nil {
		if errors.Is(err, ErrOutOfMemory) {
			a.logger.LogAttrs(context.Background(), slog.LevelError, "out of memory",
				slog.Int("size", size),
				slog.Int("break", a.heap.Current()),
				slog.Any("error", err),
			)
		}
		return 0, err
	}

	if request.Type == metadata.AllocationRequestExtendHeap {
		a.logger.Debug("extended heap",
			slog.Int("from", request.Offset),
			slog.Int("to", a.heap.Current()),
			slog.Int("padding", request.Padding),
		)
	}

	return offset, nil
}

func (a *Allocator) payload(p Pointer) []byte {
	_, capacity, err := a.metadata.AllocationSize(int(p))
	if err != nil {
		panic(errors.Wrapf(err, "allocation at %d was not registered", p))
	}

	offset := int(p)
	return a.heap.Bytes()[offset : offset+capacity]
}

func (a *Allocator) validateOperation() {
	memutils.DebugValidate(a.metadata)

	if a.createFlags&AllocatorCreateValidateEveryOperation != 0 {
		err := a.metadata.Validate()
		if err != nil {
			panic(errors.Wrap(err, "heap failed validation"))
		}
	}
}

func (a *Allocator) logInvalidPointer(operation string, p Pointer, err error) {
	a.logger.LogAttrs(context.Background(), slog.LevelError, "invalid pointer",
		slog.String("operation", operation),
		slog.Int("pointer", int(p)),
		slog.Any("error", err),
	)
}
