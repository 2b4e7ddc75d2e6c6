// Package openssl is the Go facade over OpenSSL compiled to WebAssembly.
//
// # Loading
//
// A Loader compiles and instantiates the module on first use and returns
// the same *Module to every caller afterwards:
//
//	loader, err := openssl.NewLoader(config.Default(),
//	    openssl.WithModuleFile("openssl.wasm"))
//	mod, err := loader.Load(ctx)
//
// The package-level Load does the same with a process-wide loader
// configured from WASMCRYPTO_* environment variables.
//
// # Operations
//
//	digest, err := mod.Sha256(ctx, "hello")     // 32 bytes
//	buf, err := mod.RandomBytes(ctx, 16)        // 16 bytes
//	enc, err := mod.Base64Encode(ctx, "hi")     // "aGk="
//	dec, err := mod.Base64Decode(ctx, "aGk=")   // "hi"
//
// Text inputs are sent to the guest as UTF-8. Base64Encode and Base64Decode
// reject empty input; Sha256 accepts it.
//
// # Errors
//
// Failures are *errors.Error values. When the guest reports a failure its
// diagnostic is in the Foreign field; otherwise Detail holds a fixed
// fallback message. LastError returns the guest's diagnostic directly. The
// guest never clears it, so it still describes the last failure after later
// operations succeed.
//
// # Memory
//
// Each operation allocates its input and output buffers with the guest's
// malloc, and frees all of them before returning, whether it succeeds,
// fails or traps. Results are copied out of guest memory. Operations on one
// Module are serialized.
package openssl
