//go:build wasip1

package main

import (
	"os"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
	"github.com/woxQAQ/wasmllm/internal/guest"
)

// engine is the state of this module instance. Each instantiation gets its
// own linear memory and therefore its own engine. The host picks the log
// level through the module environment.
var engine = guest.NewInstance(guest.NewLogger(guest.HostSink,
	guest.ParseLevel(os.Getenv(wasmapi.EnvLogLevel))))

// main is unused; the host calls _initialize and then the exports.
func main() {}

//go:wasmexport load_model
func loadModel(ptr, length uint32) {
	engine.LoadModel(ptr, length)
}

//go:wasmexport run_inference
func runInference(inputPtr, inputLen, outputPtr, outputLen uint32) {
	engine.RunInference(inputPtr, inputLen, outputPtr, outputLen)
}

//go:wasmexport unload_model
func unloadModel() {
	engine.UnloadModel()
}

//go:wasmexport last_error
func lastError() uint32 {
	return engine.LastError()
}

//go:wasmexport last_written
func lastWritten() uint32 {
	return engine.LastWritten()
}

//go:wasmexport model_status
func modelStatus() uint32 {
	return engine.ModelStatus()
}

//go:wasmexport dump_model
func dumpModel() uint64 {
	return engine.DumpModel()
}

//go:wasmexport alloc
func alloc(size uint32) uint32 {
	return engine.Alloc(size)
}

//go:wasmexport free
func free(ptr uint32) {
	engine.Free(ptr)
}
