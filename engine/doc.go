// Package engine provides the low-level wazero integration for the foreign
// OpenSSL module.
//
// # Architecture
//
// The engine package provides three main types:
//
//	Engine   - Owns a wazero runtime and the host modules registered in it
//	Module   - A compiled guest, ready to instantiate
//	Instance - The running guest with its memory and malloc/free allocator
//
// # Instantiation Flow
//
//  1. Engine.RegisterHostModule() instantiates custom host imports
//  2. Engine.Compile() validates and compiles the guest binary
//  3. Module.Instantiate() provides WASI and emscripten "env" imports on
//     demand, instantiates the guest and runs _initialize (or
//     __wasm_call_ctors) exactly once
//  4. Instance exposes Memory, Allocator and exported functions
//
// Imports from any other module fail instantiation with a
// MissingImportsError listing every unresolved function.
//
// # Randomness and Clocks
//
// wazero defaults to deterministic randomness and fake clocks. OpenSSL seeds
// its DRBG through WASI random_get, so instances are configured with
// crypto/rand and the real system clocks.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Instance is not; its memory and
// allocator share guest state and callers must serialize access.
package engine
