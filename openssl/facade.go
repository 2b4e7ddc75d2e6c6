package openssl

import (
	"context"
	stderrors "errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	wasmopenssl "github.com/wippyai/wasm-openssl"
	"github.com/wippyai/wasm-openssl/abi"
	"github.com/wippyai/wasm-openssl/arena"
	"github.com/wippyai/wasm-openssl/engine"
	"github.com/wippyai/wasm-openssl/errors"
	"github.com/wippyai/wasm-openssl/marshal"
	"github.com/wippyai/wasm-openssl/metrics"
)

// Operation names used in errors, logs and metrics.
const (
	OpSHA256       = "sha256"
	OpRandomBytes  = "random-bytes"
	OpBase64Encode = "base64-encode"
	OpBase64Decode = "base64-decode"
)

// Messages used when an operation fails without a guest diagnostic.
const (
	FallbackSHA256       = "SHA-256 failed"
	FallbackRandomBytes  = "Random bytes failed"
	FallbackBase64Encode = "Base64 encode failed"
	FallbackBase64Decode = "Base64 decode failed"
)

// MaxRandomBytes is the largest RandomBytes request; the guest takes the
// length as a signed 32-bit value.
const MaxRandomBytes = math.MaxInt32

// Module is a loaded OpenSSL instance.
//
// Every operation allocates its buffers in guest memory, calls the guest,
// copies the result out and releases the buffers before returning. One
// operation runs at a time; concurrent callers wait on an internal lock.
type Module struct {
	mu      sync.Mutex
	inst    *engine.Instance
	exports *abi.Exports
	bridge  *arena.Bridge
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func newModule(inst *engine.Instance, m *metrics.Metrics, logger *zap.Logger) (*Module, error) {
	exports, err := abi.Bind(inst)
	if err != nil {
		return nil, err
	}
	mem := inst.Memory()
	if mem == nil {
		return nil, errors.MissingExport("memory")
	}
	return &Module{
		inst:    inst,
		exports: exports,
		bridge:  arena.New(inst.Allocator(), mem, m),
		metrics: m,
		logger:  logger,
	}, nil
}

// Sha256 returns the SHA-256 digest of text's UTF-8 encoding.
// The empty string is a valid input.
func (m *Module) Sha256(ctx context.Context, text string) (digest []byte, err error) {
	defer m.observe(OpSHA256, time.Now(), &err)

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.scope()
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx)

	in, n, err := marshal.WriteUTF8(ctx, s, text)
	if err != nil {
		return nil, withOp(err, OpSHA256)
	}
	out, err := s.Allocate(ctx, marshal.DigestSize)
	if err != nil {
		return nil, withOp(err, OpSHA256)
	}

	written, err := m.exports.SHA256(ctx, in, n, out)
	if err != nil {
		return nil, errors.Trap(OpSHA256, abi.ExportSHA256, err)
	}
	s.Release(ctx, in)

	if written <= 0 {
		return nil, m.operationFailed(ctx, OpSHA256, FallbackSHA256)
	}
	if written != marshal.DigestSize {
		return nil, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Op(OpSHA256).
			Value(written).
			Detail("guest reported a %d byte digest, want %d", written, marshal.DigestSize).
			Build()
	}
	return m.readOutput(OpSHA256, out, written, marshal.DigestSize)
}

// RandomBytes returns n cryptographically secure random bytes from the
// guest's RAND_bytes. n must be positive.
func (m *Module) RandomBytes(ctx context.Context, n int) (buf []byte, err error) {
	defer m.observe(OpRandomBytes, time.Now(), &err)

	if n <= 0 {
		return nil, errors.InvalidInput(OpRandomBytes, "length must be positive")
	}
	if n > MaxRandomBytes {
		return nil, errors.New(errors.PhaseValidate, errors.KindOverflow).
			Op(OpRandomBytes).
			Value(n).
			Detail("length %d exceeds %d", n, MaxRandomBytes).
			Build()
	}
	size := uint32(n)

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.scope()
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx)

	out, err := s.Allocate(ctx, size)
	if err != nil {
		return nil, withOp(err, OpRandomBytes)
	}

	status, err := m.exports.RandomBytes(ctx, out, size)
	if err != nil {
		return nil, errors.Trap(OpRandomBytes, abi.ExportRandomBytes, err)
	}
	if status != 1 {
		return nil, m.operationFailed(ctx, OpRandomBytes, FallbackRandomBytes)
	}

	buf, err = marshal.ReadBytes(m.bridge.View(), out, size)
	if err != nil {
		return nil, withOp(err, OpRandomBytes)
	}
	return buf, nil
}

// Base64Encode returns the standard, padded Base64 encoding of text's UTF-8
// bytes. Empty input is rejected.
func (m *Module) Base64Encode(ctx context.Context, text string) (encoded string, err error) {
	defer m.observe(OpBase64Encode, time.Now(), &err)

	if text == "" {
		return "", errors.InvalidInput(OpBase64Encode, "input is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.scope()
	if err != nil {
		return "", err
	}
	defer s.Close(ctx)

	in, n, err := marshal.WriteUTF8(ctx, s, text)
	if err != nil {
		return "", withOp(err, OpBase64Encode)
	}
	outCap, err := marshal.Base64EncodedSize(n)
	if err != nil {
		return "", withOp(err, OpBase64Encode)
	}
	out, err := s.Allocate(ctx, outCap)
	if err != nil {
		return "", withOp(err, OpBase64Encode)
	}

	written, err := m.exports.Base64Encode(ctx, in, n, out, outCap)
	if err != nil {
		return "", errors.Trap(OpBase64Encode, abi.ExportBase64Encode, err)
	}
	s.Release(ctx, in)

	if written <= 0 {
		return "", m.operationFailed(ctx, OpBase64Encode, FallbackBase64Encode)
	}
	// The terminator occupies the last byte of the buffer.
	data, err := m.readOutput(OpBase64Encode, out, written, outCap-1)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Base64Decode decodes Base64 text and returns the result as a string.
// Empty input is rejected, as is a result that is not valid UTF-8; use
// Base64DecodeBytes for binary payloads.
func (m *Module) Base64Decode(ctx context.Context, text string) (decoded string, err error) {
	defer m.observe(OpBase64Decode, time.Now(), &err)

	err = m.base64Decode(ctx, text, func(mem wasmopenssl.Memory, ptr, n uint32) error {
		var rerr error
		decoded, rerr = marshal.ReadUTF8(mem, ptr, n)
		return rerr
	})
	if err != nil {
		return "", err
	}
	return decoded, nil
}

// Base64DecodeBytes decodes Base64 text and returns the raw bytes.
func (m *Module) Base64DecodeBytes(ctx context.Context, text string) (decoded []byte, err error) {
	defer m.observe(OpBase64Decode, time.Now(), &err)

	err = m.base64Decode(ctx, text, func(mem wasmopenssl.Memory, ptr, n uint32) error {
		var rerr error
		decoded, rerr = marshal.ReadBytes(mem, ptr, n)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// base64Decode runs the guest decoder and hands the written bytes to lift
// while the output buffer is still allocated.
func (m *Module) base64Decode(ctx context.Context, text string, lift func(mem wasmopenssl.Memory, ptr, n uint32) error) error {
	if text == "" {
		return errors.InvalidInput(OpBase64Decode, "input is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.scope()
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	// The guest reads the input up to its NUL terminator.
	in, n, err := marshal.WriteUTF8(ctx, s, text)
	if err != nil {
		return withOp(err, OpBase64Decode)
	}
	outCap, err := marshal.Base64DecodedSize(n)
	if err != nil {
		return withOp(err, OpBase64Decode)
	}
	out, err := s.Allocate(ctx, outCap)
	if err != nil {
		return withOp(err, OpBase64Decode)
	}

	written, err := m.exports.Base64Decode(ctx, in, out, outCap)
	if err != nil {
		return errors.Trap(OpBase64Decode, abi.ExportBase64Decode, err)
	}
	s.Release(ctx, in)

	if written <= 0 {
		return m.operationFailed(ctx, OpBase64Decode, FallbackBase64Decode)
	}
	if err := checkWritten(OpBase64Decode, written, outCap); err != nil {
		return err
	}
	return withOp(lift(m.bridge.View(), out, uint32(written)), OpBase64Decode)
}

// LastError returns the diagnostic recorded by the most recent failing guest
// operation. It is not cleared when later operations succeed. The boolean
// is false when the guest has recorded nothing.
func (m *Module) LastError(ctx context.Context) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inst == nil {
		return "", false
	}
	return m.readLastError(ctx)
}

// Close releases the guest instance. Operations on a closed module fail.
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inst == nil {
		return nil
	}
	err := m.inst.Close(ctx)
	m.inst = nil
	return err
}

// scope opens an allocation scope. Callers hold m.mu.
func (m *Module) scope() (*arena.Scope, error) {
	if m.inst == nil {
		return nil, errors.NotInitialized(errors.PhaseInvoke, "module")
	}
	return arena.NewScope(m.bridge), nil
}

// readOutput copies written bytes out of the output buffer.
func (m *Module) readOutput(op string, out uint32, written int32, capacity uint32) ([]byte, error) {
	if err := checkWritten(op, written, capacity); err != nil {
		return nil, err
	}
	data, err := marshal.ReadBytes(m.bridge.View(), out, uint32(written))
	if err != nil {
		return nil, withOp(err, op)
	}
	return data, nil
}

// checkWritten rejects a count past the buffer's capacity; the guest broke
// its contract.
func checkWritten(op string, written int32, capacity uint32) error {
	if uint32(written) > capacity {
		return errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Op(op).
			Value(written).
			Detail("guest reported %d bytes written into a %d byte buffer", written, capacity).
			Build()
	}
	return nil
}

func (m *Module) observe(op string, start time.Time, errp *error) {
	m.metrics.ObserveOperation(op, start, *errp)
}

// withOp tags a structured error with the operation that produced it.
func withOp(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if stderrors.As(err, &e) && e.Op == "" {
		e.Op = op
	}
	return err
}
