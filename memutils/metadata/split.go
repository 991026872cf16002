package metadata

// canSplit reports whether a free node with nodeSize payload bytes can yield a block of need
// bytes and still leave a residual free node of at least MinResidual bytes behind
func canSplit(nodeSize, need int) bool {
	return nodeSize-need >= HeaderSize+MinResidual
}

// split carves need bytes off the front of the free node at block. A residual free node is
// written just past the carved payload, inherits block's successor and takes block's place in
// the list; the cursor moves to it. On return block is no longer a member of the free list and
// its size field is need.
func (m *NextFitBlockMetadata) split(data []byte, block int, need int) {
	nodeSize := readSize(data, block)
	if !canSplit(nodeSize, need) {
		panic(corruptf("free node at offset %d of size %d cannot be split for %d bytes", block, nodeSize, need))
	}

	prev, found := m.predecessor(data, block)
	if !found {
		panic(corruptf("attempted to split block at offset %d, which is not in the free list", block))
	}

	residual := block + HeaderSize + need
	writeSize(data, residual, nodeSize-need-HeaderSize)
	writeLink(data, residual, readLink(data, block))
	m.relink(data, prev, residual)

	writeSize(data, block, need)

	m.freeBytes -= need + HeaderSize
	m.cursor = residual
}
