package abi

import (
	"context"
	"strings"
	"testing"

	"github.com/wippyai/wasm-openssl/engine"
	"github.com/wippyai/wasm-openssl/errors"
	"github.com/wippyai/wasm-openssl/internal/emulator"
)

func instantiate(t *testing.T, opts emulator.Options) (*emulator.Emulator, *engine.Instance) {
	t.Helper()
	ctx := context.Background()

	eng, err := engine.New(ctx, nil)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	t.Cleanup(func() { eng.Close(ctx) })

	emu := emulator.New()
	if err := eng.RegisterHostModule(ctx, emu); err != nil {
		t.Fatalf("RegisterHostModule failed: %v", err)
	}
	mod, err := eng.Compile(ctx, emulator.Build(opts))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	return emu, inst
}

func TestBind(t *testing.T) {
	_, inst := instantiate(t, emulator.Options{})

	exports, err := Bind(inst)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if exports.sha256 == nil || exports.getLastError == nil {
		t.Error("expected bound functions")
	}
}

func TestBind_MissingExport(t *testing.T) {
	for _, name := range []string{ExportMalloc, ExportFree, ExportSHA256, ExportBase64Decode, ExportGetLastError} {
		t.Run(name, func(t *testing.T) {
			_, inst := instantiate(t, emulator.Options{Omit: []string{name}})

			_, err := Bind(inst)
			if !errors.HasKind(err, errors.KindMissingExport) {
				t.Fatalf("expected missing export error, got %v", err)
			}
			if !strings.Contains(err.Error(), name) {
				t.Errorf("error should name %s: %v", name, err)
			}
		})
	}
}

func TestBind_SignatureMismatch(t *testing.T) {
	_, inst := instantiate(t, emulator.Options{ExtraParam: []string{ExportRandomBytes}})

	_, err := Bind(inst)
	if !errors.HasKind(err, errors.KindSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "(i32, i32, i32) -> (i32)") {
		t.Errorf("error should show the actual signature: %v", msg)
	}
	if !strings.Contains(msg, "want (i32, i32) -> (i32)") {
		t.Errorf("error should show the expected signature: %v", msg)
	}
}

func TestSignature_String(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{ExportFree, "(i32) -> ()"},
		{ExportGetLastError, "() -> (i32)"},
		{ExportBase64Encode, "(i32, i32, i32, i32) -> (i32)"},
	}
	for _, tc := range tests {
		if got := Signatures[tc.name].String(); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestExports_SHA256(t *testing.T) {
	ctx := context.Background()
	_, inst := instantiate(t, emulator.Options{})
	exports, err := Bind(inst)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	mem := inst.Memory()

	const in, out = 4096, 8192
	if err := mem.Write(in, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	written, err := exports.SHA256(ctx, in, 3, out)
	if err != nil {
		t.Fatalf("SHA256 failed: %v", err)
	}
	if written != 32 {
		t.Fatalf("written = %d, want 32", written)
	}
	digest, _ := mem.Read(out, 4)
	if digest[0] != 0xba || digest[1] != 0x78 || digest[2] != 0x16 || digest[3] != 0xbf {
		t.Errorf("unexpected digest prefix %x", digest)
	}
}

func TestExports_FailureLeavesLastError(t *testing.T) {
	ctx := context.Background()
	_, inst := instantiate(t, emulator.Options{})
	exports, err := Bind(inst)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	mem := inst.Memory()

	const in, out = 4096, 8192
	if err := mem.Write(in, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	// "hello" encodes to 8 characters; a 4-byte buffer is too small.
	written, err := exports.Base64Encode(ctx, in, 5, out, 4)
	if err != nil {
		t.Fatalf("Base64Encode trapped: %v", err)
	}
	if written != 0 {
		t.Fatalf("written = %d, want 0", written)
	}

	ptr, err := exports.LastError(ctx)
	if err != nil {
		t.Fatalf("LastError failed: %v", err)
	}
	if ptr == 0 {
		t.Fatal("expected last error pointer")
	}
	msg, _ := mem.Read(ptr, uint32(len("Output buffer too small")+1))
	if string(msg) != "Output buffer too small\x00" {
		t.Errorf("last error = %q", msg)
	}
}

func TestExports_RandomAndDecode(t *testing.T) {
	ctx := context.Background()
	_, inst := instantiate(t, emulator.Options{})
	exports, err := Bind(inst)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	mem := inst.Memory()

	status, err := exports.RandomBytes(ctx, 4096, 16)
	if err != nil || status != 1 {
		t.Fatalf("RandomBytes = %d, %v", status, err)
	}

	if err := mem.Write(8192, []byte("aGk=\x00")); err != nil {
		t.Fatal(err)
	}
	written, err := exports.Base64Decode(ctx, 8192, 12288, 4)
	if err != nil {
		t.Fatalf("Base64Decode failed: %v", err)
	}
	if written != 2 {
		t.Fatalf("written = %d, want 2", written)
	}
	decoded, _ := mem.Read(12288, 2)
	if string(decoded) != "hi" {
		t.Errorf("decoded = %q, want hi", decoded)
	}
}
