package wasm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
)

// LoadModel copies a WMDL buffer into the engine and loads it. A failed load
// leaves the previously loaded model in place.
func (i *Instance) LoadModel(ctx context.Context, data []byte) error {
	mem, err := i.allocator()
	if err != nil {
		return err
	}
	ptr, err := mem.WriteBytes(ctx, data)
	if err != nil {
		return err
	}
	defer i.free(ctx, ptr)

	if _, err := i.call(ctx, wasmapi.ExportLoadModel, uint64(ptr), uint64(len(data))); err != nil {
		return err
	}
	if err := i.check(ctx, wasmapi.ExportLoadModel); err != nil {
		return err
	}
	i.logger.Info("Model loaded", zap.Int("size_bytes", len(data)))
	return nil
}

// Infer runs the engine over tokens and returns at most capacity output
// tokens. When the engine stops early on a bad token, the tokens it wrote
// are returned together with the *GuestError.
func (i *Instance) Infer(ctx context.Context, tokens []uint32, capacity int) ([]uint32, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("negative capacity %d", capacity)
	}
	mem, err := i.allocator()
	if err != nil {
		return nil, err
	}

	inPtr, err := mem.WriteTokens(ctx, tokens)
	if err != nil {
		return nil, err
	}
	defer i.free(ctx, inPtr)

	outPtr, err := mem.Alloc(ctx, uint32(max(4*capacity, 1)))
	if err != nil {
		return nil, err
	}
	defer i.free(ctx, outPtr)

	if _, err := i.call(ctx, wasmapi.ExportRunInference,
		uint64(inPtr), uint64(len(tokens)), uint64(outPtr), uint64(capacity)); err != nil {
		return nil, err
	}
	callErr := i.check(ctx, wasmapi.ExportRunInference)

	res, err := i.call(ctx, wasmapi.ExportLastWritten)
	if err != nil {
		return nil, err
	}
	written := uint32(res[0])
	if written > uint32(capacity) {
		return nil, &MemoryAccessError{Operation: "run_inference", Address: outPtr, Length: written,
			Err: fmt.Errorf("engine reported %d tokens for capacity %d", written, capacity)}
	}

	out, err := mem.ReadTokens(outPtr, written)
	if err != nil {
		return nil, err
	}
	return out, callErr
}

// Unload drops the loaded model.
func (i *Instance) Unload(ctx context.Context) error {
	if _, err := i.call(ctx, wasmapi.ExportUnloadModel); err != nil {
		return err
	}
	return i.check(ctx, wasmapi.ExportUnloadModel)
}

// Status reports whether the engine holds a model.
func (i *Instance) Status(ctx context.Context) (wasmapi.ModelStatus, error) {
	res, err := i.call(ctx, wasmapi.ExportModelStatus)
	if err != nil {
		return 0, err
	}
	return wasmapi.ModelStatus(res[0]), nil
}

// DumpModel returns the loaded model re-encoded as WMDL.
func (i *Instance) DumpModel(ctx context.Context) ([]byte, error) {
	mem, err := i.allocator()
	if err != nil {
		return nil, err
	}
	res, err := i.call(ctx, wasmapi.ExportDumpModel)
	if err != nil {
		return nil, err
	}
	if err := i.check(ctx, wasmapi.ExportDumpModel); err != nil {
		return nil, err
	}
	ptr, length := wasmapi.UnpackResult(res[0])
	defer i.free(ctx, ptr)
	return mem.ReadBytes(ptr, length)
}

// LastError returns the engine's code for its most recent call.
func (i *Instance) LastError(ctx context.Context) (wasmapi.Code, error) {
	res, err := i.call(ctx, wasmapi.ExportLastError)
	if err != nil {
		return 0, err
	}
	return wasmapi.Code(res[0]), nil
}

// check turns a non-zero last_error into a *GuestError.
func (i *Instance) check(ctx context.Context, function string) error {
	code, err := i.LastError(ctx)
	if err != nil {
		return err
	}
	if code != wasmapi.CodeOK {
		return &GuestError{Function: function, Code: code}
	}
	return nil
}

func (i *Instance) allocator() (*Memory, error) {
	if i.memory == nil {
		return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: wasmapi.ExportAlloc}
	}
	return i.memory, nil
}

func (i *Instance) free(ctx context.Context, ptr uint32) {
	if i.Broken() {
		return
	}
	// Buffers are returned even when the request was canceled.
	if err := i.memory.Free(context.WithoutCancel(ctx), ptr); err != nil {
		i.logger.Warn("Failed to free guest buffer", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}
