package emulator

import "github.com/tetratelabs/wazero/api"

const (
	pageSize = 65536

	// lastErrorOffset mirrors the shim's static LAST_ERROR[256] buffer.
	lastErrorOffset = 16
	lastErrorSize   = 256

	heapBase  = 1024
	heapAlign = 8
)

type block struct {
	ptr  uint32
	size uint32
}

// heap is a first-fit allocator over guest linear memory. Freed blocks are
// reused whole and never coalesced.
type heap struct {
	live map[uint32]uint32
	free []block
	top  uint32
}

func newHeap() *heap {
	return &heap{
		live: make(map[uint32]uint32),
		top:  heapBase,
	}
}

// alloc returns a pointer to at least size bytes, or 0 when memory cannot grow.
func (h *heap) alloc(mem api.Memory, size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	if size > ^uint32(0)-heapAlign {
		return 0
	}
	size = (size + heapAlign - 1) &^ (heapAlign - 1)

	for i, b := range h.free {
		if b.size >= size {
			h.free = append(h.free[:i], h.free[i+1:]...)
			h.live[b.ptr] = b.size
			return b.ptr
		}
	}

	ptr := h.top
	end := uint64(ptr) + uint64(size)
	if end > uint64(^uint32(0)) {
		return 0
	}
	if cur := uint64(mem.Size()); end > cur {
		pages := (end - cur + pageSize - 1) / pageSize
		if _, ok := mem.Grow(uint32(pages)); !ok {
			return 0
		}
	}
	h.top = uint32(end)
	h.live[ptr] = size
	return ptr
}

// release frees ptr and reports whether it was a live allocation.
func (h *heap) release(ptr uint32) bool {
	size, ok := h.live[ptr]
	if !ok {
		return false
	}
	delete(h.live, ptr)
	h.free = append(h.free, block{ptr: ptr, size: size})
	return true
}
