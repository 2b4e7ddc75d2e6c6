package openssl

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-openssl/errors"
	"github.com/wippyai/wasm-openssl/marshal"
)

// lastErrorLimit bounds how much of the guest's diagnostic is read.
const lastErrorLimit = 4096

// readLastError returns the guest's last-error string. A null pointer, an
// empty string, or a string that cannot be read all count as absent.
// The guest owns the buffer; nothing is allocated or freed here.
// Callers hold m.mu.
func (m *Module) readLastError(ctx context.Context) (string, bool) {
	ptr, err := m.exports.LastError(ctx)
	if err != nil {
		m.logger.Debug("wasm_get_last_error trapped", zap.Error(err))
		return "", false
	}
	if ptr == 0 {
		return "", false
	}
	msg, err := marshal.ReadCStringN(m.bridge.View(), ptr, lastErrorLimit)
	if err != nil {
		m.logger.Debug("unreadable last error", zap.Uint32("ptr", ptr), zap.Error(err))
		return "", false
	}
	if msg == "" {
		return "", false
	}
	return msg, true
}

// operationFailed builds the error for a guest call that reported failure,
// attaching the guest's diagnostic when it has one.
func (m *Module) operationFailed(ctx context.Context, op, fallback string) *errors.Error {
	msg, _ := m.readLastError(ctx)
	m.logger.Debug("operation failed",
		zap.String("op", op),
		zap.String("openssl", msg))
	return errors.OperationFailed(op, msg, fallback)
}
