package emulator

import (
	"bytes"
	"slices"
)

// WebAssembly binary format constants used by the guest encoder.
const (
	magic   = "\x00asm"
	version = "\x01\x00\x00\x00"

	sectionType     byte = 1
	sectionImport   byte = 2
	sectionFunction byte = 3
	sectionMemory   byte = 5
	sectionExport   byte = 7
	sectionCode     byte = 10

	kindFunc   byte = 0
	kindMemory byte = 2

	funcTypeByte byte = 0x60
	valI32       byte = 0x7F

	opLocalGet byte = 0x20
	opCall     byte = 0x10
	opEnd      byte = 0x0B

	// initialPages is the guest's starting linear memory size (64KiB pages).
	initialPages = 2
)

// export describes one guest function. Every parameter and result is i32.
type export struct {
	name    string
	params  int
	results int
}

// guestExports lists the functions the guest defines, in index order. Each
// one is a thin wrapper that forwards its parameters to the host import of
// the same name, so the host sees the guest as the calling module.
var guestExports = []export{
	{name: ExportInitialize, params: 0, results: 0},
	{name: ExportMalloc, params: 1, results: 1},
	{name: ExportFree, params: 1, results: 0},
	{name: ExportSHA256, params: 3, results: 1},
	{name: ExportRandomBytes, params: 2, results: 1},
	{name: ExportBase64Encode, params: 4, results: 1},
	{name: ExportBase64Decode, params: 3, results: 1},
	{name: ExportGetLastError, params: 0, results: 1},
}

// Options adjusts the generated guest binary.
type Options struct {
	// Omit leaves the named functions unexported.
	Omit []string
	// ExtraParam gives the named exports one additional, unused i32
	// parameter, producing a signature the host will reject.
	ExtraParam []string
}

// Binary returns the guest module with every export present.
func Binary() []byte {
	return Build(Options{})
}

// Build encodes the guest module. The module imports one host function per
// export from HostModuleName, defines a wrapper for each, and exports the
// wrappers together with its linear memory as "memory".
func Build(opts Options) []byte {
	n := uint32(len(guestExports))

	var out bytes.Buffer
	out.WriteString(magic)
	out.WriteString(version)

	// Types: index i is the host import's type, index n+i the wrapper's.
	var sec bytes.Buffer
	writeU32(&sec, 2*n)
	for _, e := range guestExports {
		writeFuncType(&sec, e.params, e.results)
	}
	for _, e := range guestExports {
		params := e.params
		if slices.Contains(opts.ExtraParam, e.name) {
			params++
		}
		writeFuncType(&sec, params, e.results)
	}
	writeSection(&out, sectionType, sec.Bytes())

	sec.Reset()
	writeU32(&sec, n)
	for i, e := range guestExports {
		writeName(&sec, HostModuleName)
		writeName(&sec, e.name)
		sec.WriteByte(kindFunc)
		writeU32(&sec, uint32(i))
	}
	writeSection(&out, sectionImport, sec.Bytes())

	sec.Reset()
	writeU32(&sec, n)
	for i := range guestExports {
		writeU32(&sec, n+uint32(i))
	}
	writeSection(&out, sectionFunction, sec.Bytes())

	sec.Reset()
	writeU32(&sec, 1)
	sec.WriteByte(0x00) // limits: min only
	writeU32(&sec, initialPages)
	writeSection(&out, sectionMemory, sec.Bytes())

	sec.Reset()
	var count uint32 = 1
	for _, e := range guestExports {
		if !slices.Contains(opts.Omit, e.name) {
			count++
		}
	}
	writeU32(&sec, count)
	writeName(&sec, "memory")
	sec.WriteByte(kindMemory)
	writeU32(&sec, 0)
	for i, e := range guestExports {
		if slices.Contains(opts.Omit, e.name) {
			continue
		}
		writeName(&sec, e.name)
		sec.WriteByte(kindFunc)
		writeU32(&sec, n+uint32(i))
	}
	writeSection(&out, sectionExport, sec.Bytes())

	sec.Reset()
	writeU32(&sec, n)
	for i, e := range guestExports {
		var body bytes.Buffer
		body.WriteByte(0x00) // no locals
		for p := 0; p < e.params; p++ {
			body.WriteByte(opLocalGet)
			writeU32(&body, uint32(p))
		}
		body.WriteByte(opCall)
		writeU32(&body, uint32(i))
		body.WriteByte(opEnd)

		writeU32(&sec, uint32(body.Len()))
		sec.Write(body.Bytes())
	}
	writeSection(&out, sectionCode, sec.Bytes())

	return out.Bytes()
}

func writeFuncType(w *bytes.Buffer, params, results int) {
	w.WriteByte(funcTypeByte)
	writeU32(w, uint32(params))
	for i := 0; i < params; i++ {
		w.WriteByte(valI32)
	}
	writeU32(w, uint32(results))
	for i := 0; i < results; i++ {
		w.WriteByte(valI32)
	}
}

func writeSection(w *bytes.Buffer, id byte, data []byte) {
	w.WriteByte(id)
	writeU32(w, uint32(len(data)))
	w.Write(data)
}

func writeName(w *bytes.Buffer, s string) {
	writeU32(w, uint32(len(s)))
	w.WriteString(s)
}

// writeU32 writes an unsigned LEB128 value
func writeU32(w *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			break
		}
	}
}
