package wasm

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
	"github.com/woxQAQ/wasmllm/internal/memview"
)

// maxLogMessage bounds how much of a guest log line is read.
const maxLogMessage = 64 << 10

// HostFunctionsImpl implements host functions for engine modules.
type HostFunctionsImpl struct {
	logger *zap.Logger
}

var _ wasmapi.HostFunctions = (*HostFunctionsImpl)(nil)

// NewHostFunctions creates a new host functions implementation.
func NewHostFunctions(logger *zap.Logger) *HostFunctionsImpl {
	return &HostFunctionsImpl{
		logger: logger.With(zap.String("component", "wasm-host")),
	}
}

// LogMessage writes a guest log line at the given level.
// Unknown levels are logged as info.
func (h *HostFunctionsImpl) LogMessage(ctx context.Context, level uint32, msg string) {
	h.logAt(level, msg)
}

func (h *HostFunctionsImpl) logAt(level uint32, msg string, fields ...zap.Field) {
	switch level {
	case wasmapi.LogDebug:
		h.logger.Debug(msg, fields...)
	case wasmapi.LogInfo:
		h.logger.Info(msg, fields...)
	case wasmapi.LogWarn:
		h.logger.Warn(msg, fields...)
	case wasmapi.LogError:
		h.logger.Error(msg, fields...)
	default:
		h.logger.Info(msg, fields...)
	}
}

// logMessage is called by engine modules to log messages.
// Signature: log_message(level, ptr, length)
func (h *HostFunctionsImpl) logMessage(ctx context.Context, mod api.Module, level uint32, ptr uint32, length uint32) {
	if length > maxLogMessage {
		length = maxLogMessage
	}
	view, err := memview.NewBytes(mod.Memory(), ptr, length)
	if err != nil {
		h.logger.Error("Failed to read log message from Wasm memory",
			zap.String("instance_id", mod.Name()),
			zap.Error(err),
		)
		return
	}
	h.logAt(level, string(view.Bytes()), zap.String("instance_id", mod.Name()))
}
