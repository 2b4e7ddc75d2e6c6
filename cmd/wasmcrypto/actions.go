package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/wippyai/wasm-openssl/openssl"
)

// Actions offered by the CLI, in menu order.
const (
	actionHash   = "hash"
	actionRandom = "random"
	actionEncode = "encode"
	actionDecode = "decode"
)

var actions = []string{actionHash, actionRandom, actionEncode, actionDecode}

var actionLabels = map[string]string{
	actionHash:   "Hash (SHA-256)",
	actionRandom: "Random bytes",
	actionEncode: "Base64 Encode",
	actionDecode: "Base64 Decode",
}

// defaultRandomBytes is how many bytes the random action draws by default.
const defaultRandomBytes = 32

// result is the rendered outcome of one action.
type result struct {
	title string
	body  string
}

func (r result) String() string {
	return r.title + "\n" + r.body
}

// runAction performs action against mod. input is ignored by the random
// action, which draws n bytes instead.
func runAction(ctx context.Context, mod *openssl.Module, action, input string, n int) (result, error) {
	if action != actionRandom && strings.TrimSpace(input) == "" {
		return result{}, fmt.Errorf("please provide input text first")
	}

	switch action {
	case actionHash:
		digest, err := mod.Sha256(ctx, input)
		if err != nil {
			return result{}, err
		}
		return result{title: "SHA-256", body: bytesToHex(digest)}, nil

	case actionRandom:
		buf, err := mod.RandomBytes(ctx, n)
		if err != nil {
			return result{}, err
		}
		return result{title: "Random bytes", body: formatBytes(buf, 4)}, nil

	case actionEncode:
		encoded, err := mod.Base64Encode(ctx, input)
		if err != nil {
			return result{}, err
		}
		return result{title: "Base64 (encoded)", body: encoded}, nil

	case actionDecode:
		decoded, err := mod.Base64Decode(ctx, input)
		if err != nil {
			return result{}, err
		}
		return result{title: "Base64 (decoded)", body: decoded}, nil

	default:
		return result{}, fmt.Errorf("unknown action: %s", action)
	}
}

// lastError returns the module's last OpenSSL diagnostic, or "<none>".
func lastError(ctx context.Context, mod *openssl.Module) string {
	if mod != nil {
		if msg, ok := mod.LastError(ctx); ok {
			return msg
		}
	}
	return "<none>"
}

// bytesToHex returns lowercase hex with no separators.
func bytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// formatBytes returns lowercase hex split into space-separated groups of
// groupSize bytes.
func formatBytes(b []byte, groupSize int) string {
	if groupSize <= 0 {
		groupSize = 4
	}
	h := bytesToHex(b)
	step := groupSize * 2

	var sb strings.Builder
	for i := 0; i < len(h); i += step {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(h[i:min(i+step, len(h))])
	}
	return sb.String()
}
