package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-openssl/config"
	"github.com/wippyai/wasm-openssl/openssl"
)

func TestBytesToHex(t *testing.T) {
	got := bytesToHex([]byte{0, 15, 16, 255})
	if got != "000f10ff" {
		t.Errorf("bytesToHex = %q, want 000f10ff", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in    []byte
		group int
		want  string
	}{
		{[]byte{0, 1, 2, 3, 4, 5, 6, 7}, 2, "0001 0203 0405 0607"},
		{[]byte{0, 1, 2, 3, 4, 5, 6, 7}, 4, "00010203 04050607"},
		{[]byte{0xaa, 0xbb, 0xcc}, 2, "aabb cc"},
		{[]byte{0xaa}, 0, "aa"},
		{nil, 4, ""},
	}
	for _, tc := range tests {
		if got := formatBytes(tc.in, tc.group); got != tc.want {
			t.Errorf("formatBytes(%x, %d) = %q, want %q", tc.in, tc.group, got, tc.want)
		}
	}
}

func newTestLoader(t *testing.T) *openssl.Loader {
	t.Helper()
	loader, err := newLoader(config.Default(), "", true, prometheus.NewRegistry(), zap.NewNop())
	if err != nil {
		t.Fatalf("newLoader failed: %v", err)
	}
	t.Cleanup(func() { loader.Close(context.Background()) })
	return loader
}

func TestRun(t *testing.T) {
	tests := []struct {
		action string
		input  string
		want   string
	}{
		{actionHash, "abc", "SHA-256\nba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad\n"},
		{actionEncode, "hi", "Base64 (encoded)\naGk=\n"},
		{actionDecode, "aGk=", "Base64 (decoded)\nhi\n"},
	}

	loader := newTestLoader(t)
	for _, tc := range tests {
		t.Run(tc.action, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(context.Background(), loader, &out, tc.action, tc.input, 0); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if out.String() != tc.want {
				t.Errorf("output = %q, want %q", out.String(), tc.want)
			}
		})
	}
}

func TestRun_Random(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), newTestLoader(t), &out, actionRandom, "", 8); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || lines[0] != "Random bytes" {
		t.Fatalf("unexpected output %q", out.String())
	}
	groups := strings.Fields(lines[1])
	if len(groups) != 2 || len(groups[0]) != 8 || len(groups[1]) != 8 {
		t.Errorf("expected two 4-byte hex groups, got %q", lines[1])
	}
}

func TestRun_Errors(t *testing.T) {
	loader := newTestLoader(t)
	ctx := context.Background()

	err := run(ctx, loader, &bytes.Buffer{}, actionHash, "   ", 0)
	if err == nil || !strings.Contains(err.Error(), "please provide input text first") {
		t.Errorf("blank input: got %v", err)
	}
	if !strings.Contains(err.Error(), "OpenSSL: <none>") {
		t.Errorf("blank input should show no OpenSSL diagnostic: %v", err)
	}

	err = run(ctx, loader, &bytes.Buffer{}, actionDecode, "!!!!", 0)
	if err == nil {
		t.Fatal("expected decode failure")
	}
	if !strings.Contains(err.Error(), "OpenSSL: BIO_read failed") {
		t.Errorf("decode failure should show the OpenSSL diagnostic: %v", err)
	}

	err = run(ctx, loader, &bytes.Buffer{}, "sign", "x", 0)
	if err == nil || !strings.Contains(err.Error(), "unknown action: sign") {
		t.Errorf("unknown action: got %v", err)
	}
}

func TestRun_LoadFailure(t *testing.T) {
	loader, err := newLoader(config.Default(), "/nonexistent/openssl.wasm", false, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("newLoader failed: %v", err)
	}

	err = run(context.Background(), loader, &bytes.Buffer{}, actionHash, "x", 0)
	if err == nil || !strings.HasPrefix(err.Error(), "load OpenSSL:") {
		t.Errorf("expected load failure, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "debug"
	logger, err := newLogger(cfg)
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug level should be enabled")
	}

	cfg.LogLevel = "chatty"
	if _, err := newLogger(cfg); err == nil {
		t.Error("expected invalid level to be rejected")
	}
}
