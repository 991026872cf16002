package metadata

import (
	"github.com/pkg/errors"
	"github.com/vkngwrapper/brkalloc/memutils"
)

// CreateAllocationRequest decides where an allocation of size bytes will be placed.
//
// The free list is scanned next-fit: starting from the cursor left behind by the last allocation
// (or the head of the list), wrapping around from the tail to the head once, the first node with at
// least the rounded size is chosen. If the scan comes back to where it started without a match, or
// the free list is empty, the request extends the heap instead.
//
// A size of 0 is served as the smallest possible block. Negative sizes fail with
// memutils.ErrInvalidSize, and sizes too large to round up fail with memutils.ErrOutOfMemory.
func (m *NextFitBlockMetadata) CreateAllocationRequest(size int) (AllocationRequest, error) {
	if size < 0 {
		return AllocationRequest{}, errors.Wrapf(memutils.ErrInvalidSize, "requested %d bytes", size)
	}
	if size == 0 {
		size = 1
	}

	need, ok := memutils.RoundUpSize(size, Alignment)
	if !ok {
		return AllocationRequest{}, errors.Wrapf(memutils.ErrOutOfMemory, "requested %d bytes", size)
	}

	memutils.DebugValidate(m)

	if m.head == noNode {
		return m.extensionRequest(need), nil
	}

	data := m.heap.Bytes()
	start := m.cursor
	if start == noNode {
		start = m.head
	}

	node := start
	for steps := 0; ; steps++ {
		if steps > m.freeCount {
			panic(corruptf("next-fit search visited more than the %d nodes on record", m.freeCount))
		}

		nodeSize := readSize(data, node)
		if nodeSize >= need {
			request := AllocationRequest{
				Type:     AllocationRequestFreeNode,
				Offset:   node,
				Size:     need,
				Capacity: nodeSize,
				Split:    canSplit(nodeSize, need),
			}
			if request.Split {
				request.Capacity = need
			}
			return request, nil
		}

		next := readLink(data, node)
		if next == node {
			panic(corruptf("free node at offset %d links to itself", node))
		}
		if next == noNode {
			next = m.head
		}

		node = next
		if node == start {
			break
		}
	}

	return m.extensionRequest(need), nil
}

func (m *NextFitBlockMetadata) extensionRequest(need int) AllocationRequest {
	brk := m.heap.Current()
	padding := memutils.AlignmentPadding(m.heap.Base()+uintptr(brk), Alignment)

	return AllocationRequest{
		Type:     AllocationRequestExtendHeap,
		Offset:   brk,
		Padding:  int(padding),
		Size:     need,
		Capacity: need,
	}
}

// Alloc commits an AllocationRequest, writing the new block's header and registering it as a live
// allocation with the provided requested size. It returns the payload offset of the new block.
//
// Free node requests are checked again before anything is written: the node must still be free
// and large enough. Heap extension requests fail with memutils.ErrOutOfMemory if the break cannot
// be moved; nothing is changed in that case.
//
// For free node requests, the only bytes written inside the node's range are the new header at
// HeaderOffset and, when splitting, the residual node's header at PayloadOffset+Size. Callers may
// therefore fill the first Size bytes of the payload before committing.
func (m *NextFitBlockMetadata) Alloc(request AllocationRequest, requestedSize int) (int, error) {
	var block, capacity int

	switch request.Type {
	case AllocationRequestFreeNode:
		data := m.heap.Bytes()
		block = request.Offset

		if block < 0 || block+HeaderSize > len(data) {
			return 0, errors.Errorf("allocation request refers to offset %d, outside the heap", block)
		}
		if !m.isFree(data, block) {
			return 0, errors.Errorf("allocation request refers to block at offset %d, which is no longer free", block)
		}

		nodeSize := readSize(data, block)
		if nodeSize < request.Size {
			return 0, errors.Errorf("allocation request needs %d bytes but the free node at offset %d only has %d", request.Size, block, nodeSize)
		}

		if request.Split {
			if !canSplit(nodeSize, request.Size) {
				return 0, errors.Errorf("allocation request expected to split the free node at offset %d, but it is now too small", block)
			}
			m.split(data, block, request.Size)
			capacity = request.Size
		} else {
			next := readLink(data, block)
			m.remove(data, block)
			if next == noNode {
				next = m.head
			}
			m.cursor = next
			capacity = nodeSize
		}

		writeSize(data, block, capacity)
		writeTag(data, block)

	case AllocationRequestExtendHeap:
		if m.heap.Current() != request.Offset {
			return 0, errors.Errorf("allocation request was made at break %d, but the break is now %d", request.Offset, m.heap.Current())
		}

		increment, ok := memutils.AddOverflowSafe(request.Size, HeaderSize+request.Padding)
		if !ok {
			return 0, errors.Wrapf(memutils.ErrOutOfMemory, "cannot extend the heap by %d bytes", request.Size)
		}

		prev, err := m.heap.Extend(increment)
		if err != nil {
			return 0, errors.Wrapf(memutils.ErrOutOfMemory, "failed to extend the heap by %d bytes: %v", increment, err)
		}
		if prev != request.Offset {
			panic(corruptf("the break moved from %d to %d outside of the allocator", request.Offset, prev))
		}

		if request.Padding > 0 {
			m.paddings.Put(prev, request.Padding)
			m.paddingBytes += request.Padding
		}

		block = request.HeaderOffset()
		capacity = request.Size

		data := m.heap.Bytes()
		writeSize(data, block, capacity)
		writeTag(data, block)

	default:
		return 0, errors.Errorf("unknown allocation request type %d", request.Type)
	}

	m.allocations.Put(block+HeaderSize, requestedSize)
	m.allocationBytes += capacity

	return block + HeaderSize, nil
}

// Free returns the allocation whose payload begins at the provided offset to the free list and
// merges it with any free neighbours.
//
// The payload must have been returned by Alloc and not freed since; otherwise memutils.ErrInvalidPointer
// is returned and nothing changes. Free writes only the header-sized prefix of the block (and the
// headers of neighbouring free nodes). The payload bytes are left exactly as they were, which allows
// a resize to release a block before copying out of it.
func (m *NextFitBlockMetadata) Free(payload int) error {
	block, err := m.checkAllocation(payload)
	if err != nil {
		return err
	}

	data := m.heap.Bytes()
	m.allocations.Delete(payload)
	m.allocationBytes -= readSize(data, block)

	m.insert(data, block)
	m.coalesce(data, block)

	memutils.DebugValidate(m)
	return nil
}
