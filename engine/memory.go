package engine

import (
	"github.com/tetratelabs/wazero/api"

	wasmopenssl "github.com/wippyai/wasm-openssl"
	"github.com/wippyai/wasm-openssl/errors"
)

// Memory wraps wazero memory to implement wasmopenssl.Memory.
// Slices returned by Read alias guest memory and are only valid until the
// next guest call; copy before retaining them.
type Memory struct {
	mem api.Memory
}

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseDecode, offset, length)
	}
	return data, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseEncode, offset, uint32(len(data)))
	}
	return nil
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseDecode, offset, 1)
	}
	return v, nil
}

func (m *Memory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return errors.OutOfBounds(errors.PhaseEncode, offset, 1)
	}
	return nil
}

func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Compile-time check that Memory implements wasmopenssl.Memory and MemorySizer
var _ wasmopenssl.Memory = (*Memory)(nil)
var _ wasmopenssl.MemorySizer = (*Memory)(nil)
