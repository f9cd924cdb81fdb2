package wasm

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
	"github.com/woxQAQ/wasmllm/internal/memview"
)

// Memory provides safe memory operations for engine module interaction.
//
// The engine's Go heap owns its linear memory, so the host never picks
// addresses itself: every buffer it writes is obtained from the guest's
// alloc export and returned with free. Reads go through memview, which
// bounds-checks every range against the module's memory.
type Memory struct {
	module string
	mem    api.Memory
	call   callFunc
}

// callFunc invokes a guest export by name.
type callFunc func(ctx context.Context, name string, params ...uint64) ([]uint64, error)

// NewMemory creates a memory helper. The module must export alloc and free.
func NewMemory(module api.Module) (*Memory, error) {
	m := &Memory{module: module.Name(), mem: module.Memory()}
	if m.mem == nil {
		return nil, &MemoryAccessError{Operation: "memory", Err: fmt.Errorf("module %s exports no memory", module.Name())}
	}
	for _, name := range []string{wasmapi.ExportAlloc, wasmapi.ExportFree} {
		if module.ExportedFunction(name) == nil {
			return nil, &FunctionNotFoundError{ModuleName: module.Name(), FunctionName: name}
		}
	}
	m.call = func(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
		return module.ExportedFunction(name).Call(ctx, params...)
	}
	return m, nil
}

// Alloc reserves size bytes inside the guest.
func (m *Memory) Alloc(ctx context.Context, size uint32) (uint32, error) {
	res, err := m.call(ctx, wasmapi.ExportAlloc, uint64(size))
	if err != nil {
		return 0, err
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, &MemoryAccessError{Operation: "alloc", Length: size, Err: fmt.Errorf("guest returned a null pointer")}
	}
	return ptr, nil
}

// Free releases a buffer obtained from Alloc or dump_model.
func (m *Memory) Free(ctx context.Context, ptr uint32) error {
	_, err := m.call(ctx, wasmapi.ExportFree, uint64(ptr))
	return err
}

// WriteBytes copies data into a fresh guest buffer. The buffer is never
// empty, so the returned pointer is valid even for zero-length data.
func (m *Memory) WriteBytes(ctx context.Context, data []byte) (uint32, error) {
	ptr, err := m.Alloc(ctx, uint32(max(len(data), 1)))
	if err != nil {
		return 0, err
	}
	if !m.mem.Write(ptr, data) {
		_ = m.Free(ctx, ptr)
		return 0, &MemoryAccessError{Operation: "write", Address: ptr, Length: uint32(len(data)), Err: memview.ErrInvalidBuffer}
	}
	return ptr, nil
}

// WriteTokens stores tokens as little-endian u32 values in a fresh guest buffer.
func (m *Memory) WriteTokens(ctx context.Context, tokens []uint32) (uint32, error) {
	buf := make([]byte, 4*len(tokens))
	for i, v := range tokens {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	return m.WriteBytes(ctx, buf)
}

// ReadBytes copies length bytes at ptr out of guest memory.
func (m *Memory) ReadBytes(ptr, length uint32) ([]byte, error) {
	view, err := memview.NewBytes(m.mem, ptr, length)
	if err != nil {
		return nil, &MemoryAccessError{Operation: "read", Address: ptr, Length: length, Err: err}
	}
	return view.CopyOut(), nil
}

// ReadTokens copies n u32 tokens at ptr out of guest memory.
func (m *Memory) ReadTokens(ptr, n uint32) ([]uint32, error) {
	view, err := memview.NewU32(m.mem, ptr, n)
	if err != nil {
		return nil, &MemoryAccessError{Operation: "read", Address: ptr, Length: n, Err: err}
	}
	out := make([]uint32, view.Len())
	for i := range out {
		out[i], _ = view.At(i)
	}
	return out, nil
}
