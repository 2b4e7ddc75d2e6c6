package emulator

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func instantiate(t *testing.T, e *Emulator, wasm []byte) api.Module {
	t.Helper()
	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })

	if err := e.Instantiate(ctx, r); err != nil {
		t.Fatalf("Instantiate host failed: %v", err)
	}
	mod, err := r.InstantiateWithConfig(ctx, wasm, wazero.NewModuleConfig().WithStartFunctions())
	if err != nil {
		t.Fatalf("Instantiate guest failed: %v", err)
	}
	return mod
}

func call(t *testing.T, mod api.Module, name string, params ...uint64) []uint64 {
	t.Helper()
	fn := mod.ExportedFunction(name)
	if fn == nil {
		t.Fatalf("export %s not found", name)
	}
	res, err := fn.Call(context.Background(), params...)
	if err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	return res
}

func TestBinary_Exports(t *testing.T) {
	mod := instantiate(t, New(), Binary())

	if mod.Memory() == nil {
		t.Fatal("guest does not export memory")
	}
	for _, ex := range guestExports {
		fn := mod.ExportedFunction(ex.name)
		if fn == nil {
			t.Errorf("export %s missing", ex.name)
			continue
		}
		def := fn.Definition()
		if len(def.ParamTypes()) != ex.params || len(def.ResultTypes()) != ex.results {
			t.Errorf("%s: got %d params %d results, want %d and %d",
				ex.name, len(def.ParamTypes()), len(def.ResultTypes()), ex.params, ex.results)
		}
	}
}

func TestBuild_Options(t *testing.T) {
	mod := instantiate(t, New(), Build(Options{
		Omit:       []string{ExportFree},
		ExtraParam: []string{ExportSHA256},
	}))

	if mod.ExportedFunction(ExportFree) != nil {
		t.Error("free should be omitted")
	}
	fn := mod.ExportedFunction(ExportSHA256)
	if fn == nil {
		t.Fatal("wasm_sha256 missing")
	}
	if got := len(fn.Definition().ParamTypes()); got != 4 {
		t.Errorf("wasm_sha256 has %d params, want 4", got)
	}
}

func TestHeap_AllocFree(t *testing.T) {
	e := New()
	mod := instantiate(t, e, Binary())

	a := uint32(call(t, mod, ExportMalloc, 10)[0])
	b := uint32(call(t, mod, ExportMalloc, 10)[0])
	if a < heapBase || b <= a {
		t.Fatalf("unexpected pointers %d, %d", a, b)
	}
	if a%heapAlign != 0 || b%heapAlign != 0 {
		t.Errorf("pointers %d, %d not aligned to %d", a, b, heapAlign)
	}
	if e.Live() != 2 {
		t.Errorf("Live = %d, want 2", e.Live())
	}

	call(t, mod, ExportFree, uint64(a))
	if e.Live() != 1 {
		t.Errorf("Live = %d after free, want 1", e.Live())
	}

	// The freed block is reused for a request that fits.
	if c := uint32(call(t, mod, ExportMalloc, 4)[0]); c != a {
		t.Errorf("malloc reused %d, want %d", c, a)
	}

	call(t, mod, ExportFree, 0)
	if e.Calls(ExportFree) != 2 {
		t.Errorf("free calls = %d, want 2", e.Calls(ExportFree))
	}
}

func TestHeap_GrowsMemory(t *testing.T) {
	mod := instantiate(t, New(), Binary())
	before := mod.Memory().Size()

	ptr := uint32(call(t, mod, ExportMalloc, 3*pageSize)[0])
	if ptr == 0 {
		t.Fatal("large malloc failed")
	}
	if mod.Memory().Size() <= before {
		t.Errorf("memory did not grow: %d -> %d", before, mod.Memory().Size())
	}
}

func TestFree_DoubleFreeTraps(t *testing.T) {
	mod := instantiate(t, New(), Binary())
	ptr := call(t, mod, ExportMalloc, 8)[0]
	call(t, mod, ExportFree, ptr)

	if _, err := mod.ExportedFunction(ExportFree).Call(context.Background(), ptr); err == nil {
		t.Error("expected double free to trap")
	}
}

func TestFailNext_WritesLastError(t *testing.T) {
	e := New()
	mod := instantiate(t, e, Binary())
	mem := mod.Memory()

	in := uint32(call(t, mod, ExportMalloc, 4)[0])
	out := uint32(call(t, mod, ExportMalloc, 32)[0])
	mem.Write(in, []byte("abc\x00"))

	e.FailNext(ExportSHA256, "EVP_Digest failed")
	if got := int32(call(t, mod, ExportSHA256, uint64(in), 3, uint64(out))[0]); got != 0 {
		t.Fatalf("wasm_sha256 = %d, want 0", got)
	}

	ptr := uint32(call(t, mod, ExportGetLastError)[0])
	if ptr != lastErrorOffset {
		t.Fatalf("last error pointer = %d, want %d", ptr, lastErrorOffset)
	}
	if msg, ok := readCString(mem, ptr); !ok || msg != "EVP_Digest failed" {
		t.Errorf("last error = %q, %v", msg, ok)
	}

	// The fault is consumed and the message survives a later success.
	if got := int32(call(t, mod, ExportSHA256, uint64(in), 3, uint64(out))[0]); got != 32 {
		t.Errorf("wasm_sha256 = %d, want 32", got)
	}
	if msg, _ := readCString(mem, lastErrorOffset); msg != "EVP_Digest failed" {
		t.Errorf("last error after success = %q", msg)
	}
}

func TestTrapNext(t *testing.T) {
	e := New()
	mod := instantiate(t, e, Binary())

	e.TrapNext(ExportRandomBytes)
	out := call(t, mod, ExportMalloc, 8)[0]
	if _, err := mod.ExportedFunction(ExportRandomBytes).Call(context.Background(), out, 8); err == nil {
		t.Fatal("expected trap")
	}
	if got := int32(call(t, mod, ExportRandomBytes, out, 8)[0]); got != 1 {
		t.Errorf("wasm_random_bytes after trap = %d, want 1", got)
	}
}

func TestReturnNullError(t *testing.T) {
	e := New()
	mod := instantiate(t, e, Binary())

	e.ReturnNullError(true)
	if ptr := call(t, mod, ExportGetLastError)[0]; ptr != 0 {
		t.Errorf("pointer = %d, want 0", ptr)
	}
	e.ReturnNullError(false)
	if ptr := uint32(call(t, mod, ExportGetLastError)[0]); ptr != lastErrorOffset {
		t.Errorf("pointer = %d, want %d", ptr, lastErrorOffset)
	}
}

func TestInitialize(t *testing.T) {
	e := New()
	mod := instantiate(t, e, Binary())
	call(t, mod, ExportInitialize)
	if e.Initialized() != 1 {
		t.Errorf("Initialized = %d, want 1", e.Initialized())
	}
}

func TestReportNext(t *testing.T) {
	e := New()
	mod := instantiate(t, e, Binary())
	mem := mod.Memory()

	in := uint32(call(t, mod, ExportMalloc, 4)[0])
	out := uint32(call(t, mod, ExportMalloc, 32)[0])
	mem.Write(in, []byte("abc\x00"))

	e.ReportNext(ExportSHA256, 16)
	if got := int32(call(t, mod, ExportSHA256, uint64(in), 3, uint64(out))[0]); got != 16 {
		t.Errorf("wasm_sha256 = %d, want scripted 16", got)
	}
	if got := int32(call(t, mod, ExportSHA256, uint64(in), 3, uint64(out))[0]); got != 32 {
		t.Errorf("wasm_sha256 = %d, want 32", got)
	}
}
