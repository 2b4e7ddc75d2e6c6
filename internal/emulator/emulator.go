// Package emulator provides a stand-in for the OpenSSL WebAssembly build.
//
// The guest binary is generated in Go (see Build) and every export forwards
// to a host function implemented here with the same calling convention and
// failure behavior as the C shim: a static 256-byte last-error buffer that
// is overwritten on failure and never cleared, zero return on failure, and
// caller-provided output buffers that are never grown.
//
// It exists so the host side of the boundary can be exercised end to end
// through wazero without an OpenSSL toolchain.
package emulator

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostModuleName is the import module the guest binary links against.
const HostModuleName = "openssl_emulator"

// Export names, matching the OpenSSL build.
const (
	ExportInitialize   = "_initialize"
	ExportMalloc       = "malloc"
	ExportFree         = "free"
	ExportSHA256       = "wasm_sha256"
	ExportRandomBytes  = "wasm_random_bytes"
	ExportBase64Encode = "wasm_base64_encode"
	ExportBase64Decode = "wasm_base64_decode"
	ExportGetLastError = "wasm_get_last_error"
)

// fault is a scripted failure for the next call of one export.
type fault struct {
	message string
	trap    bool
}

// Emulator holds the host half of the emulated module. One Emulator serves
// one guest instance.
type Emulator struct {
	heap        *heap
	faults      map[string]fault
	reports     map[string]int32
	calls       map[string]int
	mu          sync.Mutex
	nullError   bool
	initialized int
}

// New creates an emulator with an empty heap.
func New() *Emulator {
	return &Emulator{
		heap:   newHeap(),
		faults:  make(map[string]fault),
		reports: make(map[string]int32),
		calls:   make(map[string]int),
	}
}

// Name returns the host module name the guest imports from.
func (e *Emulator) Name() string {
	return HostModuleName
}

// Instantiate registers the host functions in r. It must run before the
// guest binary is instantiated in the same runtime.
func (e *Emulator) Instantiate(ctx context.Context, r wazero.Runtime) error {
	i32 := api.ValueTypeI32
	b := r.NewHostModuleBuilder(HostModuleName)

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.initialize), nil, nil).
		Export(ExportInitialize)
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.malloc), []api.ValueType{i32}, []api.ValueType{i32}).
		Export(ExportMalloc)
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.free), []api.ValueType{i32}, nil).
		Export(ExportFree)
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.sha256), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}).
		Export(ExportSHA256)
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.randomBytes), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export(ExportRandomBytes)
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.base64Encode), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}).
		Export(ExportBase64Encode)
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.base64Decode), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}).
		Export(ExportBase64Decode)
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.getLastError), nil, []api.ValueType{i32}).
		Export(ExportGetLastError)

	if _, err := b.Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiate %s: %w", HostModuleName, err)
	}
	return nil
}

// FailNext makes the next call of export fail. A non-empty message is
// written to the last-error buffer; an empty one leaves the buffer as is.
func (e *Emulator) FailNext(export, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[export] = fault{message: message}
}

// TrapNext makes the next call of export abort with a trap instead of
// returning.
func (e *Emulator) TrapNext(export string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[export] = fault{trap: true}
}

// ReportNext makes the next call of export do its work and then return
// result instead of the real count or status.
func (e *Emulator) ReportNext(export string, result int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports[export] = result
}

// ReturnNullError makes wasm_get_last_error return a null pointer.
func (e *Emulator) ReturnNullError(null bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nullError = null
}

// Live returns the number of guest allocations not yet freed.
func (e *Emulator) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.heap.live)
}

// Calls returns how many times export has been invoked.
func (e *Emulator) Calls(export string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[export]
}

// Initialized returns how many times the guest's initializer ran.
func (e *Emulator) Initialized() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// enter records the call and reports a scripted fault, if any.
// Callers hold e.mu.
func (e *Emulator) enter(export string) (fault, bool) {
	e.calls[export]++
	f, ok := e.faults[export]
	if ok {
		delete(e.faults, export)
		if f.trap {
			panic(fmt.Sprintf("%s: injected trap", export))
		}
	}
	return f, ok
}

// report returns the encoded result of a successful call, or the scripted
// one. Callers hold e.mu.
func (e *Emulator) report(export string, result int32) uint64 {
	if r, ok := e.reports[export]; ok {
		delete(e.reports, export)
		result = r
	}
	return api.EncodeI32(result)
}

func (e *Emulator) initialize(_ context.Context, _ api.Module, _ []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[ExportInitialize]++
	e.initialized++
}

func (e *Emulator) malloc(_ context.Context, m api.Module, stack []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, failed := e.enter(ExportMalloc); failed {
		stack[0] = api.EncodeU32(0)
		return
	}
	stack[0] = api.EncodeU32(e.heap.alloc(m.Memory(), api.DecodeU32(stack[0])))
}

func (e *Emulator) free(_ context.Context, _ api.Module, stack []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[ExportFree]++
	ptr := api.DecodeU32(stack[0])
	if ptr == 0 {
		return
	}
	if !e.heap.release(ptr) {
		// A wild or double free traps the guest.
		panic(fmt.Sprintf("free of unallocated pointer %d", ptr))
	}
}

func (e *Emulator) sha256(_ context.Context, m api.Module, stack []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, length, out := api.DecodeU32(stack[0]), api.DecodeI32(stack[1]), api.DecodeU32(stack[2])
	mem := m.Memory()

	if f, failed := e.enter(ExportSHA256); failed {
		stack[0] = e.fail(mem, f.message)
		return
	}
	if length < 0 {
		stack[0] = e.fail(mem, "EVP_DigestUpdate failed")
		return
	}
	data, ok := mem.Read(in, uint32(length))
	if !ok {
		stack[0] = e.fail(mem, "EVP_DigestUpdate failed")
		return
	}
	sum := sha256.Sum256(data)
	if !mem.Write(out, sum[:]) {
		stack[0] = e.fail(mem, "EVP_DigestFinal_ex failed")
		return
	}
	stack[0] = e.report(ExportSHA256, sha256.Size)
}

func (e *Emulator) randomBytes(_ context.Context, m api.Module, stack []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out, length := api.DecodeU32(stack[0]), api.DecodeI32(stack[1])
	mem := m.Memory()

	if f, failed := e.enter(ExportRandomBytes); failed {
		stack[0] = e.fail(mem, f.message)
		return
	}
	if length < 0 {
		stack[0] = e.fail(mem, "RAND_bytes failed")
		return
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil || !mem.Write(out, buf) {
		stack[0] = e.fail(mem, "RAND_bytes failed")
		return
	}
	stack[0] = e.report(ExportRandomBytes, 1)
}

func (e *Emulator) base64Encode(_ context.Context, m api.Module, stack []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, length := api.DecodeU32(stack[0]), api.DecodeI32(stack[1])
	out, outSize := api.DecodeU32(stack[2]), api.DecodeI32(stack[3])
	mem := m.Memory()

	if f, failed := e.enter(ExportBase64Encode); failed {
		stack[0] = e.fail(mem, f.message)
		return
	}
	// BIO_write rejects empty payloads.
	if length <= 0 {
		stack[0] = e.fail(mem, "BIO_write/BIO_flush failed")
		return
	}
	data, ok := mem.Read(in, uint32(length))
	if !ok {
		stack[0] = e.fail(mem, "BIO_write/BIO_flush failed")
		return
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	if int64(len(encoded))+1 > int64(outSize) {
		stack[0] = e.fail(mem, "Output buffer too small")
		return
	}
	if !mem.Write(out, append([]byte(encoded), 0)) {
		stack[0] = e.fail(mem, "BIO_get_mem_ptr failed")
		return
	}
	stack[0] = e.report(ExportBase64Encode, int32(len(encoded)))
}

func (e *Emulator) base64Decode(_ context.Context, m api.Module, stack []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, out, outSize := api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), api.DecodeI32(stack[2])
	mem := m.Memory()

	if f, failed := e.enter(ExportBase64Decode); failed {
		stack[0] = e.fail(mem, f.message)
		return
	}
	input, ok := readCString(mem, in)
	if !ok || outSize <= 0 {
		stack[0] = e.fail(mem, "BIO_read failed or output buffer too small")
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(input)
	if err != nil || len(decoded) == 0 {
		stack[0] = e.fail(mem, "BIO_read failed or output buffer too small")
		return
	}
	// BIO_read fills at most outSize bytes and reports what it wrote.
	if len(decoded) > int(outSize) {
		decoded = decoded[:outSize]
	}
	if !mem.Write(out, decoded) {
		stack[0] = e.fail(mem, "BIO_read failed or output buffer too small")
		return
	}
	stack[0] = e.report(ExportBase64Decode, int32(len(decoded)))
}

func (e *Emulator) getLastError(_ context.Context, _ api.Module, stack []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[ExportGetLastError]++
	if e.nullError {
		stack[0] = api.EncodeU32(0)
		return
	}
	stack[0] = api.EncodeU32(lastErrorOffset)
}

// fail records msg in the last-error buffer and returns the failure code.
// An empty msg leaves the buffer untouched.
func (e *Emulator) fail(mem api.Memory, msg string) uint64 {
	if msg != "" {
		if len(msg) > lastErrorSize-1 {
			msg = msg[:lastErrorSize-1]
		}
		mem.Write(lastErrorOffset, append([]byte(msg), 0))
	}
	return api.EncodeI32(0)
}

func readCString(mem api.Memory, ptr uint32) (string, bool) {
	if ptr == 0 {
		return "", false
	}
	size := mem.Size()
	if ptr >= size {
		return "", false
	}
	data, ok := mem.Read(ptr, size-ptr)
	if !ok {
		return "", false
	}
	for i, c := range data {
		if c == 0 {
			return string(data[:i]), true
		}
	}
	return "", false
}
