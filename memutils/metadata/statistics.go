package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/brkalloc/memutils"
	"golang.org/x/exp/slog"
)

// RegionType identifies what occupies a region of the heap visited by VisitAllRegions
type RegionType uint32

const (
	// RegionAllocation is a block holding a live allocation
	RegionAllocation RegionType = iota
	// RegionFree is a node of the free list
	RegionFree
	// RegionPadding is a run of bytes skipped to align a heap extension. It has no header.
	RegionPadding
)

var regionTypeMapping = map[RegionType]string{
	RegionAllocation: "Allocation",
	RegionFree:       "Free",
	RegionPadding:    "Padding",
}

func (t RegionType) String() string {
	return regionTypeMapping[t]
}

// VisitAllRegions calls handleRegion for every region of the heap in address order, from offset 0
// to the break. For blocks, offset is the header offset and size is the payload capacity recorded
// in the header; requested is the size originally asked for and is only meaningful for allocations.
// For padding, size is the length of the padding run.
//
// If handleRegion returns an error, the walk stops and the error is returned.
func (m *NextFitBlockMetadata) VisitAllRegions(handleRegion func(offset int, size int, requested int, regionType RegionType) error) error {
	data := m.heap.Bytes()
	brk := len(data)

	offset := 0
	for offset < brk {
		if padding, isPadding := m.paddings.Get(offset); isPadding {
			err := handleRegion(offset, padding, 0, RegionPadding)
			if err != nil {
				return err
			}

			offset += padding
			continue
		}

		size := readSize(data, offset)
		requested, isAllocation := m.allocations.Get(offset + HeaderSize)
		regionType := RegionAllocation
		if !isAllocation {
			regionType = RegionFree
		}

		err := handleRegion(offset, size, requested, regionType)
		if err != nil {
			return err
		}

		next := offset + HeaderSize + size
		if next <= offset || next > brk {
			panic(corruptf("the block at offset %d has size %d, which runs past the break at %d", offset, size, brk))
		}
		offset = next
	}

	return nil
}

func (m *NextFitBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount += m.allocations.Count() + m.freeCount
	stats.AllocationCount += m.allocations.Count()
	stats.HeapBytes += m.heap.Current()
	stats.AllocationBytes += m.allocationBytes
}

func (m *NextFitBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.HeapBytes += m.heap.Current()
	stats.PaddingBytes += m.paddingBytes

	_ = m.VisitAllRegions(func(offset int, size int, requested int, regionType RegionType) error {
		switch regionType {
		case RegionAllocation:
			stats.BlockCount++
			stats.HeaderBytes += HeaderSize
			stats.AddAllocation(size)
		case RegionFree:
			stats.BlockCount++
			stats.HeaderBytes += HeaderSize
			stats.AddUnusedRange(size)
		}
		return nil
	})
}

// BlockJsonData populates a json object with summary information about the heap
func (m *NextFitBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	json.Name("TotalBytes").Int(m.heap.Current())
	json.Name("UnusedBytes").Int(m.freeBytes)
	json.Name("Allocations").Int(m.allocations.Count())
	json.Name("AllocationBytes").Int(m.allocationBytes)
	json.Name("UnusedRanges").Int(m.freeCount)
	json.Name("PaddingBytes").Int(m.paddingBytes)

	cursor, hasCursor := m.Cursor()
	if hasCursor {
		json.Name("Cursor").Int(cursor)
	} else {
		json.Name("Cursor").Null()
	}
}

// PrintDetailedMap writes the summary from BlockJsonData followed by a "Regions" array listing
// every region of the heap in address order
func (m *NextFitBlockMetadata) PrintDetailedMap(json jwriter.ObjectState) {
	m.BlockJsonData(json)

	arrayState := json.Name("Regions").Array()
	defer arrayState.End()

	_ = m.VisitAllRegions(func(offset int, size int, requested int, regionType RegionType) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Type").String(regionType.String())
		obj.Name("Size").Int(size)

		if regionType == RegionAllocation {
			obj.Name("Payload").Int(offset + HeaderSize)
			obj.Name("RequestedSize").Int(requested)
		}

		return nil
	})
}

// DebugLogAllAllocations calls logFunc once for each live allocation, in address order, with its
// payload offset and requested size
func (m *NextFitBlockMetadata) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, payload int, size int)) {
	_ = m.VisitAllRegions(func(offset int, size int, requested int, regionType RegionType) error {
		if regionType == RegionAllocation {
			logFunc(logger, offset+HeaderSize, requested)
		}
		return nil
	})
}
