package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmopenssl "github.com/wippyai/wasm-openssl"
	"github.com/wippyai/wasm-openssl/errors"
)

const (
	MallocExport = "malloc"
	FreeExport   = "free"
)

// Allocator implements wasmopenssl.Allocator using the guest's malloc/free.
type Allocator struct {
	mallocFn api.Function
	freeFn   api.Function
	stackBuf []uint64
	mu       sync.Mutex
}

func newAllocator(mallocFn, freeFn api.Function) *Allocator {
	return &Allocator{
		mallocFn: mallocFn,
		freeFn:   freeFn,
		stackBuf: make([]uint64, 1),
	}
}

// Alloc calls malloc(size). A null result is an allocation failure.
func (a *Allocator) Alloc(ctx context.Context, size uint32) (uint32, error) {
	if a.mallocFn == nil {
		return 0, errors.MissingExport(MallocExport)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stackBuf[0] = api.EncodeU32(size)
	if err := a.mallocFn.CallWithStack(ctx, a.stackBuf); err != nil {
		return 0, errors.AllocationFailed(size, err)
	}
	ptr := api.DecodeU32(a.stackBuf[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(size, nil)
	}
	return ptr, nil
}

// Free calls free(ptr). Failures are logged; there is nothing a caller can
// do about a guest that traps while freeing.
func (a *Allocator) Free(ctx context.Context, ptr uint32) {
	if a.freeFn == nil || ptr == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stackBuf[0] = api.EncodeU32(ptr)
	if err := a.freeFn.CallWithStack(ctx, a.stackBuf); err != nil {
		Logger().Warn("Free: guest free trapped",
			zap.Uint32("ptr", ptr),
			zap.Error(err))
	}
}

// Compile-time check that Allocator implements wasmopenssl.Allocator
var _ wasmopenssl.Allocator = (*Allocator)(nil)
