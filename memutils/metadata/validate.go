package metadata

import (
	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
)

// Validate performs internal consistency checks on the metadata and the heap bytes: the free list
// must be strictly address-ordered, free of self links and adjacent nodes, and agree with the
// recorded counts; the cursor must be a member; and headers, free nodes and padding must tile the
// heap from offset 0 to the break with no gaps or overlaps. These checks walk the whole heap and
// are expensive. When the implementation is functioning correctly, it should not be possible for
// this method to return an error.
func (m *NextFitBlockMetadata) Validate() error {
	data := m.heap.Bytes()
	brk := len(data)

	members := swiss.NewMap[int, struct{}](uint32(m.freeCount + 1))
	freeCount, freeBytes := 0, 0
	cursorFound := m.cursor == noNode

	prev := noNode
	for node := m.head; node != noNode; node = readLink(data, node) {
		if node < 0 || node+HeaderSize > brk {
			return errors.Errorf("free node at offset %d lies outside the heap, which ends at %d", node, brk)
		}
		if readLink(data, node) == node {
			return errors.Errorf("free node at offset %d links to itself", node)
		}
		if freeCount >= m.freeCount {
			return errors.Errorf("the free list holds more than the %d nodes on record", m.freeCount)
		}

		size := readSize(data, node)
		if size < 0 || blockEnd(data, node) > brk {
			return errors.Errorf("free node at offset %d has size %d, which runs past the end of the heap at %d", node, size, brk)
		}

		if prev != noNode {
			prevEnd := blockEnd(data, prev)
			if node <= prev {
				return errors.Errorf("free node at offset %d follows free node at offset %d, out of address order", node, prev)
			}
			if prevEnd > node {
				return errors.Errorf("free node at offset %d overlaps free node at offset %d", prev, node)
			}
			if prevEnd == node {
				return errors.Errorf("free nodes at offsets %d and %d are adjacent but were not merged", prev, node)
			}
		}

		if node == m.cursor {
			cursorFound = true
		}

		members.Put(node, struct{}{})
		freeCount++
		freeBytes += size
		prev = node
	}

	if freeCount != m.freeCount {
		return errors.Errorf("the free node count of the metadata is %d, but the free list holds %d nodes", m.freeCount, freeCount)
	}
	if freeBytes != m.freeBytes {
		return errors.Errorf("the free size of the metadata is %d, but the free nodes add up to %d", m.freeBytes, freeBytes)
	}
	if !cursorFound {
		return errors.Errorf("the next-fit cursor refers to offset %d, which is not in the free list", m.cursor)
	}

	// Walk the physical blocks from the bottom of the heap
	allocCount, allocBytes, physicalFree, paddingBytes := 0, 0, 0, 0
	offset := 0
	for offset < brk {
		if padding, isPadding := m.paddings.Get(offset); isPadding {
			offset += padding
			paddingBytes += padding
			continue
		}

		if offset+HeaderSize > brk {
			return errors.Errorf("the block at offset %d does not have room for a header before the end of the heap at %d", offset, brk)
		}

		size := readSize(data, offset)
		end := blockEnd(data, offset)
		if size < 0 || end > brk {
			return errors.Errorf("the block at offset %d has size %d, which runs past the end of the heap at %d", offset, size, brk)
		}

		if members.Has(offset) {
			physicalFree++
		} else {
			if readTag(data, offset) != BlockTag {
				return errors.Errorf("the block at offset %d is not free, but its header does not carry a valid tag", offset)
			}
			if !m.allocations.Has(offset + HeaderSize) {
				return errors.Errorf("the block at offset %d carries a valid tag but is not a registered allocation", offset)
			}
			allocCount++
			allocBytes += size
		}

		offset = end
	}

	if offset != brk {
		return errors.Errorf("the blocks of the heap end at offset %d, but the break is %d", offset, brk)
	}
	if physicalFree != freeCount {
		return errors.Errorf("the free list holds %d nodes, but only %d free blocks were found in the heap", freeCount, physicalFree)
	}
	if allocCount != m.allocations.Count() {
		return errors.Errorf("the allocation count of the metadata is %d, but the allocated blocks only added up to %d", m.allocations.Count(), allocCount)
	}
	if allocBytes != m.allocationBytes {
		return errors.Errorf("the allocated size of the metadata is %d, but the allocated blocks added up to %d", m.allocationBytes, allocBytes)
	}
	if paddingBytes != m.paddingBytes {
		return errors.Errorf("the padding size of the metadata is %d, but the heap contained %d bytes of padding", m.paddingBytes, paddingBytes)
	}

	return nil
}
