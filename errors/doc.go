// Package errors provides structured error types for the wasm-openssl library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the facade operation name, the guest's last-error text when
// the guest reported one, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInvoke, errors.KindOperation).
//		Op("base64-encode").
//		Foreign("Output buffer too small").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OperationFailed("sha256", lastErr, "SHA-256 failed")
//	err := errors.OutOfBounds(errors.PhaseDecode, ptr, n)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
