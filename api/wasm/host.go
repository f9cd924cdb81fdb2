package wasm

import "context"

// HostModule is the import module name the engine uses for host functions.
const HostModule = "host"

// ImportLogMessage is the host function the engine logs through.
// Signature: log_message(level, ptr, length)
const ImportLogMessage = "log_message"

// Log levels passed to log_message.
const (
	LogDebug uint32 = 0
	LogInfo  uint32 = 1
	LogWarn  uint32 = 2
	LogError uint32 = 3
)

// EnvLogLevel names the environment variable that sets the engine's minimum
// log level ("debug", "info", "warn" or "error"). Unset means info.
const EnvLogLevel = "WASMLLM_ENGINE_LOG_LEVEL"

// HostFunctions defines the interface for host-provided functions
type HostFunctions interface {
	// Logging
	LogMessage(ctx context.Context, level uint32, msg string)
}
