package metadata

// walk visits free nodes in list order until visit returns false. Self links and lists longer
// than the recorded node count are treated as corruption, so traversal always terminates.
func (m *NextFitBlockMetadata) walk(data []byte, visit func(node, next int) bool) {
	steps := 0
	for node := m.head; node != noNode; {
		next := readLink(data, node)
		if next == node {
			panic(corruptf("free node at offset %d links to itself", node))
		}

		steps++
		if steps > m.freeCount {
			panic(corruptf("free list holds more than the %d nodes on record", m.freeCount))
		}

		if !visit(node, next) {
			return
		}
		node = next
	}
}

// findPrevious returns the free node whose range ends exactly where block begins, or noNode
func (m *NextFitBlockMetadata) findPrevious(data []byte, block int) int {
	found := noNode
	m.walk(data, func(node, next int) bool {
		if blockEnd(data, node) == block {
			found = node
			return false
		}
		return node < block
	})
	return found
}

// findNext returns the free node that begins exactly where block ends, or noNode
func (m *NextFitBlockMetadata) findNext(data []byte, block int) int {
	end := blockEnd(data, block)
	found := noNode
	m.walk(data, func(node, next int) bool {
		if node == end {
			found = node
			return false
		}
		return node < end
	})
	return found
}

// predecessor returns the node linking to block, or noNode if block is the head. The boolean
// is false if block is not in the list at all.
func (m *NextFitBlockMetadata) predecessor(data []byte, block int) (int, bool) {
	if m.head == block {
		return noNode, true
	}

	prev := noNode
	found := false
	m.walk(data, func(node, next int) bool {
		if next == block {
			prev = node
			found = true
			return false
		}
		return node < block
	})
	return prev, found
}

func (m *NextFitBlockMetadata) isFree(data []byte, block int) bool {
	_, found := m.predecessor(data, block)
	return found
}

// relink points whatever referenced old (the head or a predecessor) at replacement instead
func (m *NextFitBlockMetadata) relink(data []byte, prev, replacement int) {
	if prev == noNode {
		m.head = replacement
	} else {
		writeLink(data, prev, replacement)
	}
}

// remove unlinks block from the free list. The cursor moves on to the following node if it
// referenced block.
func (m *NextFitBlockMetadata) remove(data []byte, block int) {
	prev, found := m.predecessor(data, block)
	if !found {
		panic(corruptf("attempted to remove block at offset %d, which is not in the free list", block))
	}

	next := readLink(data, block)
	m.relink(data, prev, next)

	m.freeCount--
	m.freeBytes -= readSize(data, block)

	if m.cursor == block {
		m.cursor = next
		if m.cursor == noNode {
			m.cursor = m.head
		}
	}
}

// insert links block, whose size field is already written, into the free list in ascending
// address order. Only the block's header is written.
func (m *NextFitBlockMetadata) insert(data []byte, block int) {
	end := blockEnd(data, block)

	prev := noNode
	next := m.head
	m.walk(data, func(node, nodeNext int) bool {
		if node >= block {
			next = node
			return false
		}
		prev = node
		next = nodeNext
		return true
	})

	if next == block {
		panic(corruptf("block at offset %d is already in the free list", block))
	}
	if prev != noNode && blockEnd(data, prev) > block {
		panic(corruptf("block at offset %d overlaps the free node at offset %d", block, prev))
	}
	if next != noNode && end > next {
		panic(corruptf("block at offset %d overlaps the free node at offset %d", block, next))
	}

	writeLink(data, block, next)
	m.relink(data, prev, block)

	m.freeCount++
	m.freeBytes += readSize(data, block)
}
