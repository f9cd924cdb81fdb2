// This file defines the Wasm export interface of the inference engine.
// The guest (cmd/engine) implements these functions using //go:wasmexport
// and the host (internal/wasm) resolves them by name.
//
// NOTE: uint32 is used for pointers and lengths because WebAssembly uses a 32-bit
// linear memory model. All Wasm memory addresses are represented as 32-bit integers
// (addresses 0 to 4GB). This ensures compatibility with Wasm's memory architecture.
// See: https://github.com/golang/go/issues/59156
//
// Exported functions:
//
//	//go:wasmexport load_model
//	func loadModel(ptr, length uint32)
//
//	//go:wasmexport run_inference
//	func runInference(inputPtr, inputLen, outputPtr, outputLen uint32)
//
//	//go:wasmexport unload_model
//	func unloadModel()
//
//	//go:wasmexport last_error
//	func lastError() uint32
//
//	//go:wasmexport last_written
//	func lastWritten() uint32
//
//	//go:wasmexport model_status
//	func modelStatus() uint32
//
//	//go:wasmexport dump_model
//	func dumpModel() uint64 // ptr<<32 | length, 0 when no model is loaded
//
//	//go:wasmexport alloc
//	func alloc(size uint32) uint32
//
//	//go:wasmexport free
//	func free(ptr uint32)
//
// load_model and run_inference return nothing. A host that needs to know why
// a call did nothing polls last_error right after it.
package wasm

// Export names.
const (
	ExportLoadModel    = "load_model"
	ExportRunInference = "run_inference"
	ExportUnloadModel  = "unload_model"
	ExportLastError    = "last_error"
	ExportLastWritten  = "last_written"
	ExportModelStatus  = "model_status"
	ExportDumpModel    = "dump_model"
	ExportAlloc        = "alloc"
	ExportFree         = "free"

	// ExportInitialize is generated by the Go toolchain for -buildmode=c-shared
	// and must run before any other export.
	ExportInitialize = "_initialize"
)

// Exports lists every function the host expects the engine module to export.
var Exports = []string{
	ExportLoadModel,
	ExportRunInference,
	ExportUnloadModel,
	ExportLastError,
	ExportLastWritten,
	ExportModelStatus,
	ExportDumpModel,
	ExportAlloc,
	ExportFree,
}

// Code is the value reported by last_error.
type Code uint32

const (
	CodeOK Code = iota
	CodeInvalidBuffer
	CodeEmpty
	CodeMalformedHeader
	CodeUnsupportedFormat
	CodeNoModel
	CodeTokenOutOfRange
	CodeIncompatibleModel
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidBuffer:
		return "invalid buffer"
	case CodeEmpty:
		return "empty model buffer"
	case CodeMalformedHeader:
		return "malformed header"
	case CodeUnsupportedFormat:
		return "unsupported format"
	case CodeNoModel:
		return "no model loaded"
	case CodeTokenOutOfRange:
		return "token out of range"
	case CodeIncompatibleModel:
		return "incompatible model layout"
	default:
		return "unknown error"
	}
}

// ModelStatus is the value reported by model_status.
type ModelStatus uint32

const (
	StatusUnloaded ModelStatus = iota
	StatusLoaded
)

// PackResult combines a pointer and length into a dump_model result.
func PackResult(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackResult is the inverse of PackResult.
func UnpackResult(v uint64) (ptr, length uint32) {
	return uint32(v >> 32), uint32(v)
}
