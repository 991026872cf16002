package metadata

// coalesce merges the free node at block with the free nodes directly before and after it in
// memory, and returns the offset of the node spanning the merged range. Coalescing a node that
// has no free neighbours changes nothing.
//
// Merging only rewrites the headers of the surviving nodes: no payload byte of block is touched.
func (m *NextFitBlockMetadata) coalesce(data []byte, block int) int {
	prev := m.findPrevious(data, block)
	if prev != noNode {
		if readLink(data, prev) != block {
			panic(corruptf("free node at offset %d borders block at offset %d but does not link to it", prev, block))
		}

		writeSize(data, prev, readSize(data, prev)+HeaderSize+readSize(data, block))
		writeLink(data, prev, readLink(data, block))
		m.freeCount--
		m.freeBytes += HeaderSize

		if m.cursor == block {
			m.cursor = prev
		}
		block = prev
	}

	next := m.findNext(data, block)
	if next != noNode {
		if readLink(data, block) != next {
			panic(corruptf("free node at offset %d borders free node at offset %d but does not link to it", block, next))
		}

		writeSize(data, block, readSize(data, block)+HeaderSize+readSize(data, next))
		writeLink(data, block, readLink(data, next))
		m.freeCount--
		m.freeBytes += HeaderSize

		if m.cursor == next {
			m.cursor = block
		}
	}

	return block
}
