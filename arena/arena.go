// Package arena moves byte ranges in and out of guest linear memory.
//
// A Bridge pairs the guest allocator with its memory view. A Scope records
// the allocations one logical operation makes and releases all of them when
// it closes, so every exit path frees what it took.
package arena

import (
	"context"

	wasmopenssl "github.com/wippyai/wasm-openssl"
	"github.com/wippyai/wasm-openssl/errors"
)

type Memory = wasmopenssl.Memory
type Allocator = wasmopenssl.Allocator

// Observer is notified of every allocation and release through a Bridge.
type Observer interface {
	OnAllocate(size uint32)
	OnRelease()
}

// Bridge is the host's only path to guest memory. It keeps no record of
// outstanding allocations; that is the Scope's job.
type Bridge struct {
	alloc    Allocator
	mem      Memory
	observer Observer
}

// New creates a bridge. observer may be nil.
func New(alloc Allocator, mem Memory, observer Observer) *Bridge {
	return &Bridge{alloc: alloc, mem: mem, observer: observer}
}

// Allocate reserves n bytes in guest memory. n must be positive.
func (b *Bridge) Allocate(ctx context.Context, n uint32) (uint32, error) {
	if n == 0 {
		return 0, errors.New(errors.PhaseAlloc, errors.KindInvalidInput).
			Detail("allocation size must be positive").
			Build()
	}
	if b.alloc == nil {
		return 0, errors.NotInitialized(errors.PhaseAlloc, "allocator")
	}
	ptr, err := b.alloc.Alloc(ctx, n)
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(n, nil)
	}
	if b.observer != nil {
		b.observer.OnAllocate(n)
	}
	return ptr, nil
}

// Release returns ptr to the guest allocator. Releasing 0 is a no-op.
func (b *Bridge) Release(ctx context.Context, ptr uint32) {
	if ptr == 0 || b.alloc == nil {
		return
	}
	b.alloc.Free(ctx, ptr)
	if b.observer != nil {
		b.observer.OnRelease()
	}
}

// View returns the guest memory. Slices read from it are valid only until
// the next guest call.
func (b *Bridge) View() Memory {
	return b.mem
}

// Allocation is one range handed out by a Scope.
type Allocation struct {
	Ptr  uint32
	Size uint32
}

// Scope tracks allocations for one operation.
type Scope struct {
	bridge      *Bridge
	allocations []Allocation
}

// NewScope opens a scope over b. Callers must Close it, normally with defer.
func NewScope(b *Bridge) *Scope {
	return &Scope{bridge: b, allocations: make([]Allocation, 0, 4)}
}

// Allocate reserves n bytes and records the allocation.
func (s *Scope) Allocate(ctx context.Context, n uint32) (uint32, error) {
	ptr, err := s.bridge.Allocate(ctx, n)
	if err != nil {
		return 0, err
	}
	s.allocations = append(s.allocations, Allocation{Ptr: ptr, Size: n})
	return ptr, nil
}

// Release frees ptr before the scope closes. Pointers the scope did not
// hand out, or already released, are ignored.
func (s *Scope) Release(ctx context.Context, ptr uint32) {
	for i, a := range s.allocations {
		if a.Ptr == ptr {
			s.allocations = append(s.allocations[:i], s.allocations[i+1:]...)
			s.bridge.Release(ctx, ptr)
			return
		}
	}
}

// View returns the bridge's memory view.
func (s *Scope) View() Memory {
	return s.bridge.View()
}

// Count returns the number of allocations still held.
func (s *Scope) Count() int {
	return len(s.allocations)
}

// Close releases every remaining allocation, newest first. Closing twice is
// a no-op.
func (s *Scope) Close(ctx context.Context) {
	for i := len(s.allocations) - 1; i >= 0; i-- {
		s.bridge.Release(ctx, s.allocations[i].Ptr)
	}
	s.allocations = s.allocations[:0]
}
