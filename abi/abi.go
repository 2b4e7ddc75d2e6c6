// Package abi binds the exports of the OpenSSL WebAssembly build to typed Go
// calls.
//
// Every export takes and returns i32. Pointers are offsets into guest
// linear memory; lengths and return values are signed as in the C shim.
// Bind checks names and signatures once, so later calls cannot fail for
// lack of an export.
package abi

import (
	"context"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-openssl/errors"
)

// Export names as linked into the OpenSSL build.
const (
	ExportMalloc       = "malloc"
	ExportFree         = "free"
	ExportSHA256       = "wasm_sha256"
	ExportRandomBytes  = "wasm_random_bytes"
	ExportBase64Encode = "wasm_base64_encode"
	ExportBase64Decode = "wasm_base64_decode"
	ExportGetLastError = "wasm_get_last_error"
)

// Signature is an export's wasm parameter and result types.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

func (s Signature) String() string {
	return "(" + valueTypes(s.Params) + ") -> (" + valueTypes(s.Results) + ")"
}

func (s Signature) matches(def api.FunctionDefinition) bool {
	return equalTypes(s.Params, def.ParamTypes()) && equalTypes(s.Results, def.ResultTypes())
}

func i32s(n int) []api.ValueType {
	types := make([]api.ValueType, n)
	for i := range types {
		types[i] = api.ValueTypeI32
	}
	return types
}

// Signatures is the foreign module contract.
var Signatures = map[string]Signature{
	ExportMalloc:       {Params: i32s(1), Results: i32s(1)},
	ExportFree:         {Params: i32s(1), Results: nil},
	ExportSHA256:       {Params: i32s(3), Results: i32s(1)},
	ExportRandomBytes:  {Params: i32s(2), Results: i32s(1)},
	ExportBase64Encode: {Params: i32s(4), Results: i32s(1)},
	ExportBase64Decode: {Params: i32s(3), Results: i32s(1)},
	ExportGetLastError: {Params: nil, Results: i32s(1)},
}

// bindOrder fixes the order exports are checked in, so the first reported
// problem is stable.
var bindOrder = []string{
	ExportMalloc,
	ExportFree,
	ExportSHA256,
	ExportRandomBytes,
	ExportBase64Encode,
	ExportBase64Decode,
	ExportGetLastError,
}

// Resolver looks up exported functions; *engine.Instance satisfies it.
type Resolver interface {
	ExportedFunction(name string) api.Function
}

// Exports holds the bound guest functions.
type Exports struct {
	sha256       api.Function
	randomBytes  api.Function
	base64Encode api.Function
	base64Decode api.Function
	getLastError api.Function
}

// Bind resolves and checks every export of the contract except malloc and
// free, which are checked here but called through the engine's allocator.
func Bind(r Resolver) (*Exports, error) {
	fns := make(map[string]api.Function, len(bindOrder))
	for _, name := range bindOrder {
		fn := r.ExportedFunction(name)
		if fn == nil {
			return nil, errors.MissingExport(name)
		}
		want := Signatures[name]
		def := fn.Definition()
		if !want.matches(def) {
			got := Signature{Params: def.ParamTypes(), Results: def.ResultTypes()}
			return nil, errors.SignatureMismatch(name, want.String(), got.String())
		}
		fns[name] = fn
	}

	return &Exports{
		sha256:       fns[ExportSHA256],
		randomBytes:  fns[ExportRandomBytes],
		base64Encode: fns[ExportBase64Encode],
		base64Decode: fns[ExportBase64Decode],
		getLastError: fns[ExportGetLastError],
	}, nil
}

// SHA256 calls wasm_sha256(in, length, out) and returns the digest length
// written, or a non-positive value on failure.
func (e *Exports) SHA256(ctx context.Context, in, length, out uint32) (int32, error) {
	return call(ctx, e.sha256, api.EncodeU32(in), api.EncodeU32(length), api.EncodeU32(out))
}

// RandomBytes calls wasm_random_bytes(out, length) and returns 1 on success.
func (e *Exports) RandomBytes(ctx context.Context, out, length uint32) (int32, error) {
	return call(ctx, e.randomBytes, api.EncodeU32(out), api.EncodeU32(length))
}

// Base64Encode calls wasm_base64_encode(in, length, out, outCap) and returns
// the encoded length excluding the NUL terminator.
func (e *Exports) Base64Encode(ctx context.Context, in, length, out, outCap uint32) (int32, error) {
	return call(ctx, e.base64Encode, api.EncodeU32(in), api.EncodeU32(length), api.EncodeU32(out), api.EncodeU32(outCap))
}

// Base64Decode calls wasm_base64_decode(in, out, outCap). in must point at a
// NUL-terminated string. Returns the decoded length.
func (e *Exports) Base64Decode(ctx context.Context, in, out, outCap uint32) (int32, error) {
	return call(ctx, e.base64Decode, api.EncodeU32(in), api.EncodeU32(out), api.EncodeU32(outCap))
}

// LastError calls wasm_get_last_error and returns the pointer, possibly 0.
func (e *Exports) LastError(ctx context.Context) (uint32, error) {
	results, err := e.getLastError.Call(ctx)
	if err != nil {
		return 0, err
	}
	return api.DecodeU32(results[0]), nil
}

func call(ctx context.Context, fn api.Function, params ...uint64) (int32, error) {
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, err
	}
	return api.DecodeI32(results[0]), nil
}

func valueTypes(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
