// Package marshal converts Go values to and from guest linear memory.
//
// Strings cross the boundary as UTF-8 followed by a NUL terminator, so
// guest code that treats them as C strings and code that takes an explicit
// length both work. Byte results are copied out before the guest runs
// again.
package marshal

import (
	"bytes"
	"context"
	"math"
	"unicode/utf8"

	wasmopenssl "github.com/wippyai/wasm-openssl"
	"github.com/wippyai/wasm-openssl/arena"
	"github.com/wippyai/wasm-openssl/errors"
)

// DigestSize is the SHA-256 output length in bytes.
const DigestSize = 32

// MaxCString bounds ReadCString.
const MaxCString = 4096

// WriteUTF8 copies text into a fresh allocation of len(text)+1 bytes owned
// by s and NUL-terminates it. It returns the pointer and the payload length,
// excluding the terminator.
func WriteUTF8(ctx context.Context, s *arena.Scope, text string) (ptr, n uint32, err error) {
	if !utf8.ValidString(text) {
		return 0, 0, errors.InvalidUTF8(errors.PhaseEncode, "", []byte(text))
	}
	if uint64(len(text)) >= math.MaxUint32 {
		return 0, 0, errors.Overflow(errors.PhaseEncode, len(text), "uint32")
	}
	n = uint32(len(text))

	ptr, err = s.Allocate(ctx, n+1)
	if err != nil {
		return 0, 0, err
	}

	buf := make([]byte, n+1)
	copy(buf, text)
	if err := s.View().Write(ptr, buf); err != nil {
		return 0, 0, err
	}
	return ptr, n, nil
}

// ReadBytes copies n bytes at ptr out of guest memory.
func ReadBytes(mem wasmopenssl.Memory, ptr, n uint32) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	data, err := mem.Read(ptr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, data)
	return out, nil
}

// ReadUTF8 copies n bytes at ptr and checks they are valid UTF-8.
func ReadUTF8(mem wasmopenssl.Memory, ptr, n uint32) (string, error) {
	data, err := ReadBytes(mem, ptr, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, "", data)
	}
	return string(data), nil
}

// ReadCString reads the NUL-terminated string at ptr, up to MaxCString bytes.
func ReadCString(mem wasmopenssl.Memory, ptr uint32) (string, error) {
	return ReadCStringN(mem, ptr, MaxCString)
}

// ReadCStringN reads the bytes at ptr up to the first NUL. A null pointer
// reads as "". The scan stops at maxLen bytes or the end of memory; a string
// not terminated within that range is an out-of-bounds error.
func ReadCStringN(mem wasmopenssl.Memory, ptr, maxLen uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}

	limit := maxLen
	if sizer, ok := mem.(wasmopenssl.MemorySizer); ok {
		size := sizer.Size()
		if ptr >= size {
			return "", errors.OutOfBounds(errors.PhaseDecode, ptr, 1)
		}
		if avail := size - ptr; avail < limit {
			limit = avail
		}
	}
	if limit == 0 {
		return "", errors.OutOfBounds(errors.PhaseDecode, ptr, 0)
	}

	data, err := mem.Read(ptr, limit)
	if err != nil {
		return "", err
	}
	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return "", errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Detail("no NUL terminator within %d bytes at %d", limit, ptr).
			Value(ptr).
			Build()
	}
	return string(data[:end]), nil
}

// Base64EncodedSize returns the output buffer size for encoding n bytes:
// four characters per started three-byte group plus the NUL terminator.
func Base64EncodedSize(n uint32) (uint32, error) {
	size := (uint64(n)+2)/3*4 + 1
	if size > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseEncode, size, "uint32")
	}
	return uint32(size), nil
}

// Base64DecodedSize returns the output buffer size for decoding n bytes of
// Base64 text: floor(n*3/4) plus one spare byte.
func Base64DecodedSize(n uint32) (uint32, error) {
	size := uint64(n)*3/4 + 1
	if size > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseEncode, size, "uint32")
	}
	return uint32(size), nil
}
