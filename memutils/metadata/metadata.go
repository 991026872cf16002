package metadata

import (
	"encoding/binary"
	"math"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/brkalloc/memutils"
	"github.com/vkngwrapper/brkalloc/sbrk"
)

const (
	// HeaderSize is the size in bytes of both record layouts that can prefix a block: the
	// allocated Block Header (payload size, validation tag) and the Free Node (size, next link).
	HeaderSize = 16
	// Alignment is the alignment of every payload handed out, relative to the heap base.
	// Payload sizes are rounded up to it so that carved blocks stay aligned.
	Alignment = 16
	// MinResidual is the smallest payload a residual free node may have after a split. Nodes
	// that cannot leave at least this much behind are handed out whole.
	MinResidual = Alignment

	// BlockTag is written into the second word of every allocated header. Free node links are
	// always multiples of Alignment or linkSentinel, so a link can never pass for a tag.
	BlockTag uint64 = 0x7F84E666

	linkSentinel uint64 = math.MaxUint64
	noNode              = -1

	sizeField = 0
	linkField = 8
	tagField  = 8
)

func readSize(data []byte, block int) int {
	return int(binary.LittleEndian.Uint64(data[block+sizeField : block+sizeField+8]))
}

func writeSize(data []byte, block int, size int) {
	binary.LittleEndian.PutUint64(data[block+sizeField:block+sizeField+8], uint64(size))
}

func readLink(data []byte, node int) int {
	link := binary.LittleEndian.Uint64(data[node+linkField : node+linkField+8])
	if link == linkSentinel {
		return noNode
	}
	return int(link)
}

func writeLink(data []byte, node int, next int) {
	link := linkSentinel
	if next != noNode {
		link = uint64(next)
	}
	binary.LittleEndian.PutUint64(data[node+linkField:node+linkField+8], link)
}

func readTag(data []byte, block int) uint64 {
	return binary.LittleEndian.Uint64(data[block+tagField : block+tagField+8])
}

func writeTag(data []byte, block int) {
	binary.LittleEndian.PutUint64(data[block+tagField:block+tagField+8], BlockTag)
}

// blockEnd is the offset one past the last payload byte of the block at the provided offset
func blockEnd(data []byte, block int) int {
	return block + HeaderSize + readSize(data, block)
}

func corruptf(format string, args ...any) error {
	return errors.Wrapf(memutils.ErrCorruptFreeList, format, args...)
}

// Range is a contiguous run of heap bytes: a block header offset and the payload size after it.
type Range struct {
	Offset int
	Size   int
}

// NextFitBlockMetadata manages a growing heap region as a single address-ordered free list of
// nodes stored in the heap itself, searched next-fit, with free blocks split on allocation and
// coalesced on release. When no free node fits, the heap break is extended.
//
// All state that the allocator needs lives in this object or in the heap bytes, so several
// independent heaps can exist side by side. NextFitBlockMetadata does no locking of its own.
type NextFitBlockMetadata struct {
	heap sbrk.Break

	head   int
	cursor int

	freeCount       int
	freeBytes       int
	allocationBytes int
	paddingBytes    int

	// payload offset -> requested size for every live allocation
	allocations *swiss.Map[int, int]
	// break offset -> length of alignment padding skipped by a heap extension
	paddings *swiss.Map[int, int]
}

var _ memutils.Validatable = &NextFitBlockMetadata{}

// NewNextFitBlockMetadata creates metadata for the heap region behind the provided break. Any
// bytes already below the break are treated as foreign and skipped as padding.
func NewNextFitBlockMetadata(heap sbrk.Break) *NextFitBlockMetadata {
	memutils.DebugCheckPow2(Alignment, "Alignment")

	m := &NextFitBlockMetadata{
		heap:        heap,
		head:        noNode,
		cursor:      noNode,
		allocations: swiss.NewMap[int, int](42),
		paddings:    swiss.NewMap[int, int](4),
	}

	if existing := heap.Current(); existing > 0 {
		m.paddings.Put(0, existing)
		m.paddingBytes = existing
	}

	return m
}

// Heap returns the break this metadata allocates from
func (m *NextFitBlockMetadata) Heap() sbrk.Break { return m.heap }

// Size returns the size in bytes of the heap region managed so far
func (m *NextFitBlockMetadata) Size() int { return m.heap.Current() }

// AllocationCount returns the number of live allocations
func (m *NextFitBlockMetadata) AllocationCount() int { return m.allocations.Count() }

// FreeRegionsCount returns the number of nodes in the free list. Adjacent free blocks are
// always merged, so this is also the number of distinct free regions.
func (m *NextFitBlockMetadata) FreeRegionsCount() int { return m.freeCount }

// SumFreeSize returns the number of payload bytes held by free nodes
func (m *NextFitBlockMetadata) SumFreeSize() int { return m.freeBytes }

// IsEmpty will return true if there are no live allocations
func (m *NextFitBlockMetadata) IsEmpty() bool { return m.allocations.Count() == 0 }

// Cursor returns the header offset of the free node where the next search will begin, and false
// if the search will begin at the head of the list.
func (m *NextFitBlockMetadata) Cursor() (int, bool) {
	if m.cursor == noNode {
		return 0, false
	}
	return m.cursor, true
}

// FreeRanges lists the free list in list order
func (m *NextFitBlockMetadata) FreeRanges() []Range {
	data := m.heap.Bytes()
	ranges := make([]Range, 0, m.freeCount)
	m.walk(data, func(node, next int) bool {
		ranges = append(ranges, Range{Offset: node, Size: readSize(data, node)})
		return true
	})
	return ranges
}

// AllocationSize returns the size originally requested for the allocation whose payload begins
// at the provided offset, along with the capacity recorded in its header.
func (m *NextFitBlockMetadata) AllocationSize(payload int) (requested int, capacity int, err error) {
	block, err := m.checkAllocation(payload)
	if err != nil {
		return 0, 0, err
	}

	requested, _ = m.allocations.Get(payload)
	return requested, readSize(m.heap.Bytes(), block), nil
}

// checkAllocation verifies that payload is the start of a live allocation and returns the offset
// of its header
func (m *NextFitBlockMetadata) checkAllocation(payload int) (int, error) {
	if payload < HeaderSize || payload > m.heap.Current() {
		return 0, errors.Wrapf(memutils.ErrInvalidPointer, "offset %d is outside the heap", payload)
	}

	if !m.allocations.Has(payload) {
		return 0, errors.Wrapf(memutils.ErrInvalidPointer, "no live allocation begins at offset %d", payload)
	}

	block := payload - HeaderSize
	if readTag(m.heap.Bytes(), block) != BlockTag {
		return 0, errors.Wrapf(memutils.ErrInvalidPointer, "the header at offset %d does not carry a valid tag", block)
	}

	return block, nil
}
