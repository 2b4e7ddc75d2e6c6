// Package wasmopenssl is a Go host for an OpenSSL build compiled to a
// WebAssembly core module.
//
// The cryptography itself lives inside the guest. This library owns the
// boundary: it allocates guest memory, copies UTF-8 strings and byte buffers
// in and out, reads the guest's last-error string, and returns ordinary Go
// values and errors.
//
// # Architecture Overview
//
//	wasmopenssl/        Root package with core Memory and Allocator interfaces
//	├── openssl/        Loader and typed facade (Sha256, RandomBytes, Base64...)
//	├── marshal/        UTF-8 and C-string transfer, output size formulas
//	├── arena/          Allocation bridge and scoped release guard
//	├── abi/            Typed bindings for the guest's exported functions
//	├── engine/         wazero integration: compile, host imports, instantiate
//	├── metrics/        Prometheus counters for allocations and operations
//	├── config/         Environment configuration
//	└── errors/         Structured error types
//
// # Quick Start
//
//	mod, err := openssl.Load(ctx) // module path from WASMCRYPTO_MODULE_PATH
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	digest, err := mod.Sha256(ctx, "hello")
//	encoded, err := mod.Base64Encode(ctx, "hi") // "aGk="
//
// # Thread Safety
//
// A loaded Module is safe for concurrent use. Every operation holds the
// module lock from its first allocation until its last release, because the
// guest heap and allocator are shared and not safe for concurrent mutation.
//
// # Memory Model
//
// Every guest allocation is owned by the call that made it and is released
// before that call returns, on success and on failure. Nothing is pooled or
// cached across calls.
package wasmopenssl
