// Package guest implements the engine's exported functions as methods on an
// Instance. cmd/engine binds one Instance to the wasm exports; tests drive it
// natively over the same arena.
package guest

import (
	"errors"

	"go.uber.org/zap"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
	"github.com/woxQAQ/wasmllm/internal/engine"
	"github.com/woxQAQ/wasmllm/internal/memview"
	"github.com/woxQAQ/wasmllm/internal/model"
	"github.com/woxQAQ/wasmllm/internal/state"
)

// Instance is the state of one engine module instance. Calls must not
// overlap.
type Instance struct {
	logger *zap.Logger
	arena  *Arena
	state  state.State

	lastErr     wasmapi.Code
	lastWritten uint32
}

// NewInstance creates an instance with no model loaded.
func NewInstance(logger *zap.Logger) *Instance {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instance{
		logger: logger.With(zap.String("component", "engine")),
		arena:  NewArena(),
	}
}

// Arena returns the allocator backing this instance's buffers.
func (in *Instance) Arena() *Arena {
	return in.arena
}

// LoadModel decodes the WMDL buffer at [ptr, ptr+length) and makes it the
// current model. On any failure the previous model stays loaded.
func (in *Instance) LoadModel(ptr, length uint32) {
	if length == 0 {
		in.fail(wasmapi.CodeEmpty, "load_model: empty buffer")
		return
	}
	view, err := memview.NewBytes(in.arena, ptr, length)
	if err != nil {
		in.fail(wasmapi.CodeInvalidBuffer, "load_model: invalid buffer", zap.Error(err))
		return
	}

	w, err := model.Decode(view.Bytes())
	if err != nil {
		in.fail(loadCode(err), "load_model: decode failed", zap.Error(err))
		return
	}
	m, err := engine.Compile(w)
	if err != nil {
		in.fail(wasmapi.CodeIncompatibleModel, "load_model: incompatible model", zap.Error(err))
		return
	}

	in.state.Set(m)
	in.lastErr = wasmapi.CodeOK
	in.logger.Info("model loaded",
		zap.Int("tensors", w.Len()),
		zap.Int("vocab", m.Vocab()),
		zap.Int("dim", m.Dim()),
		zap.Int("blocks", m.Blocks()))
}

// RunInference reads in_len tokens at in_ptr and writes at most out_len tokens
// at out_ptr. Slots after the written count are never touched.
func (in *Instance) RunInference(inPtr, inLen, outPtr, outLen uint32) {
	in.lastWritten = 0

	m, ok := in.state.Current()
	if !ok {
		in.fail(wasmapi.CodeNoModel, "run_inference: no model loaded")
		return
	}
	if inPtr == 0 || outPtr == 0 {
		in.fail(wasmapi.CodeInvalidBuffer, "run_inference: null pointer",
			zap.Uint32("in_ptr", inPtr), zap.Uint32("out_ptr", outPtr))
		return
	}
	src, err := memview.NewU32(in.arena, inPtr, inLen)
	if err != nil {
		in.fail(wasmapi.CodeInvalidBuffer, "run_inference: invalid input buffer", zap.Error(err))
		return
	}
	dst, err := memview.NewU32(in.arena, outPtr, outLen)
	if err != nil {
		in.fail(wasmapi.CodeInvalidBuffer, "run_inference: invalid output buffer", zap.Error(err))
		return
	}

	n, err := m.Run(src, dst)
	in.lastWritten = uint32(n)
	if err != nil {
		in.fail(wasmapi.CodeTokenOutOfRange, "run_inference: stopped early",
			zap.Int("written", n), zap.Error(err))
		return
	}
	in.lastErr = wasmapi.CodeOK
	in.logger.Debug("inference complete", zap.Uint32("input", inLen), zap.Int("written", n))
}

// UnloadModel drops the current model.
func (in *Instance) UnloadModel() {
	in.state.Clear()
	in.lastErr = wasmapi.CodeOK
	in.logger.Info("model unloaded")
}

// LastError returns the code of the most recent load, run, unload or dump.
func (in *Instance) LastError() uint32 {
	return uint32(in.lastErr)
}

// LastWritten returns how many tokens the most recent run_inference wrote.
func (in *Instance) LastWritten() uint32 {
	return in.lastWritten
}

// ModelStatus reports whether a model is loaded.
func (in *Instance) ModelStatus() uint32 {
	if in.state.Status() == state.Loaded {
		return uint32(wasmapi.StatusLoaded)
	}
	return uint32(wasmapi.StatusUnloaded)
}

// DumpModel re-encodes the loaded weights into a new guest buffer and
// returns its packed address and length, or 0 when there is nothing to dump.
// The caller releases the buffer with Free.
func (in *Instance) DumpModel() uint64 {
	m, ok := in.state.Current()
	if !ok {
		in.fail(wasmapi.CodeNoModel, "dump_model: no model loaded")
		return 0
	}
	data, err := model.Encode(m.Weights())
	if err != nil {
		// Decoded weights always re-encode.
		in.fail(wasmapi.CodeMalformedHeader, "dump_model: encode failed", zap.Error(err))
		return 0
	}
	ptr, buf := in.arena.Alloc(uint32(len(data)))
	if ptr == 0 {
		in.fail(wasmapi.CodeInvalidBuffer, "dump_model: allocation failed", zap.Int("size", len(data)))
		return 0
	}
	copy(buf, data)
	in.lastErr = wasmapi.CodeOK
	return wasmapi.PackResult(ptr, uint32(len(buf)))
}

// Alloc returns a zeroed guest buffer of size bytes, or 0.
func (in *Instance) Alloc(size uint32) uint32 {
	ptr, _ := in.arena.Alloc(size)
	return ptr
}

// Free releases a buffer returned by Alloc or DumpModel.
func (in *Instance) Free(ptr uint32) {
	if ptr != 0 && !in.arena.Free(ptr) {
		in.logger.Warn("free of unknown pointer", zap.Uint32("ptr", ptr))
	}
}

func (in *Instance) fail(code wasmapi.Code, msg string, fields ...zap.Field) {
	in.lastErr = code
	in.logger.Warn(msg, append(fields, zap.Stringer("code", code))...)
}

func loadCode(err error) wasmapi.Code {
	switch {
	case errors.Is(err, model.ErrEmpty):
		return wasmapi.CodeEmpty
	case errors.Is(err, model.ErrUnsupportedFormat):
		return wasmapi.CodeUnsupportedFormat
	default:
		return wasmapi.CodeMalformedHeader
	}
}
