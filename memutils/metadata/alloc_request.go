package metadata

// AllocationRequestType is an enum that indicates how an allocation will be satisfied.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestFreeNode indicates that the allocation will be carved from a node of the
	// free list, splitting it if it is large enough
	AllocationRequestFreeNode AllocationRequestType = iota
	// AllocationRequestExtendHeap indicates that no free node was large enough and the heap
	// break will be extended to make room for the allocation
	AllocationRequestExtendHeap
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestFreeNode:   "FreeNode",
	AllocationRequestExtendHeap: "ExtendHeap",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from NextFitBlockMetadata.CreateAllocationRequest which indicates
// where and how the metadata intends to place a new allocation. Creating a request changes nothing;
// the allocation is committed by passing the request to NextFitBlockMetadata.Alloc.
//
// Until the request is committed, the memory it describes still belongs to the free list or lies
// beyond the break, but PayloadOffset is already known. Callers that need to move data into the new
// allocation before any bookkeeping is written (see Alloc) can do so for AllocationRequestFreeNode
// requests.
type AllocationRequest struct {
	// Type identifies whether the request is satisfied from the free list or by heap extension
	Type AllocationRequestType
	// Offset is the header offset of the free node that will be consumed, or the break at the time
	// the request was made
	Offset int
	// Padding is the number of bytes that will be skipped past the break to align the new header.
	// It is always 0 for AllocationRequestFreeNode requests.
	Padding int
	// Size is the requested size rounded up to Alignment
	Size int
	// Capacity is the payload size the block will have once committed. It is larger than Size when
	// a free node too small to split is consumed whole.
	Capacity int
	// Split indicates that the free node will be split and a residual free node left behind
	Split bool
}

// HeaderOffset is the offset at which the new block's header will be written
func (r AllocationRequest) HeaderOffset() int {
	return r.Offset + r.Padding
}

// PayloadOffset is the offset of the first payload byte of the new block
func (r AllocationRequest) PayloadOffset() int {
	return r.Offset + r.Padding + HeaderSize
}
