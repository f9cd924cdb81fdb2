package wasm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wasmllm/internal/memview"
)

// emptyModule is a valid Wasm 1.0 module with no sections.
var emptyModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // Magic number: \0asm
	0x01, 0x00, 0x00, 0x00, // Version: 1
}

// memoryModule defines one page of memory exported as "memory".
var memoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // Magic
	0x01, 0x00, 0x00, 0x00, // Version
	0x05, 0x03, 0x01, 0x00, 0x01, // Memory section: 1 memory, min 1 page
	0x07, 0x0a, 0x01, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, // export "memory" as memory 0
}

// TestLoadModuleFromMemory tests loading a simple Wasm module from memory.
func TestLoadModuleFromMemory(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	module, err := loader.LoadModuleFromMemory(ctx, "test-module", emptyModule)
	if err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}

	if module.Name != "test-module" {
		t.Errorf("Module name = %s, want 'test-module'", module.Name)
	}
	if module.SizeBytes != int64(len(emptyModule)) {
		t.Errorf("SizeBytes = %d, want %d", module.SizeBytes, len(emptyModule))
	}

	// Test caching - load again should hit cache.
	module2, err := loader.LoadModuleFromMemory(ctx, "test-module", emptyModule)
	if err != nil {
		t.Fatalf("Failed to load module from cache: %v", err)
	}

	if module2 != module {
		t.Error("Cache should return the same module instance")
	}
}

func TestLoadModuleSharesIdenticalBytes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	first, err := loader.LoadModuleFromMemory(ctx, "bundle-a/engine.wasm", memoryModule)
	if err != nil {
		t.Fatal(err)
	}
	second, err := loader.LoadModuleFromMemory(ctx, "bundle-b/engine.wasm", memoryModule)
	if err != nil {
		t.Fatal(err)
	}

	if second.Name != "bundle-b/engine.wasm" {
		t.Errorf("alias name = %s", second.Name)
	}
	if first.Module != second.Module {
		t.Error("identical bytes should share one compilation")
	}
	if first.Digest != second.Digest || len(first.Digest) != 64 {
		t.Errorf("digests differ or malformed: %s vs %s", first.Digest, second.Digest)
	}

	other, err := loader.LoadModuleFromMemory(ctx, "empty", emptyModule)
	if err != nil {
		t.Fatal(err)
	}
	if other.Module == first.Module {
		t.Error("different bytes must not share a compilation")
	}

	// An alias still gets the export check, and a failed check is not cached.
	wasmFile := filepath.Join(t.TempDir(), "engine.wasm")
	if err := os.WriteFile(wasmFile, memoryModule, 0644); err != nil {
		t.Fatal(err)
	}
	var notFound *FunctionNotFoundError
	if _, err := loader.LoadEngineFromFile(ctx, wasmFile); !errors.As(err, &notFound) {
		t.Fatalf("expected *FunctionNotFoundError, got %v", err)
	}
	if _, ok := runtime.GetCompiledModule(wasmFile); ok {
		t.Error("rejected alias should not be cached")
	}
}

func TestLoadModuleInvalidBytes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	_, err = loader.LoadModuleFromMemory(ctx, "garbage", []byte("not wasm"))
	if _, ok := err.(*CompilationError); !ok {
		t.Fatalf("expected *CompilationError, got %T (%v)", err, err)
	}
}

// TestLoadEngineRequiresExports checks that a module missing the engine
// interface is rejected at load time.
func TestLoadEngineRequiresExports(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	wasmFile := filepath.Join(t.TempDir(), "test.wasm")
	if err := os.WriteFile(wasmFile, emptyModule, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err = loader.LoadEngineFromFile(ctx, wasmFile)
	var notFound *FunctionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *FunctionNotFoundError, got %v", err)
	}
	if notFound.FunctionName != "load_model" {
		t.Errorf("FunctionName = %s, want load_model", notFound.FunctionName)
	}
	if _, ok := runtime.GetCompiledModule(wasmFile); ok {
		t.Error("rejected module should not be cached")
	}
}

// TestHostFunctions tests host function creation.
func TestHostFunctions(t *testing.T) {
	logger := zaptest.NewLogger(t)

	hostFuncs := NewHostFunctions(logger)
	if hostFuncs == nil {
		t.Fatal("HostFunctionsImpl is nil")
	}

	if hostFuncs.logger == nil {
		t.Error("Logger not initialized")
	}
}

func TestInstantiateUnknownModule(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	mgr := NewInstanceManager(runtime, NewHostFunctions(logger), logger)
	_, err = mgr.Instantiate(ctx, &InstanceConfig{ModuleName: "missing"})
	if _, ok := err.(*ModuleNotFoundError); !ok {
		t.Fatalf("expected *ModuleNotFoundError, got %T", err)
	}
}

// TestMemoryHelpers reads guest memory through the memview-backed helpers.
func TestMemoryHelpers(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)
	if _, err := loader.LoadModuleFromMemory(ctx, "memory-test", memoryModule); err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}

	instanceMgr := NewInstanceManager(runtime, NewHostFunctions(logger), logger)
	instance, err := instanceMgr.Instantiate(ctx, &InstanceConfig{ModuleName: "memory-test"})
	if err != nil {
		t.Fatalf("Failed to instantiate: %v", err)
	}
	defer instance.Close(ctx)

	if instance.ID == "" {
		t.Error("instance ID should be generated")
	}

	// No alloc export: engine calls fail cleanly.
	if _, err := NewMemory(instance.module); err == nil {
		t.Error("NewMemory should require an alloc export")
	}
	if err := instance.LoadModel(ctx, []byte("WMDL")); err == nil {
		t.Error("LoadModel should fail without a guest allocator")
	}
	if instance.Memory() != nil {
		t.Error("instance without a guest allocator should have no memory helper")
	}

	mem := &Memory{module: instance.Name, mem: instance.module.Memory()}
	if !instance.module.Memory().WriteUint32Le(8, 0x12345678) {
		t.Fatal("Failed to write to memory")
	}

	tokens, err := mem.ReadTokens(8, 1)
	if err != nil {
		t.Fatalf("ReadTokens failed: %v", err)
	}
	if tokens[0] != 0x12345678 {
		t.Errorf("ReadTokens = %#x, want 0x12345678", tokens[0])
	}

	// One page is 65536 bytes.
	_, err = mem.ReadBytes(65530, 8)
	if !errors.Is(err, memview.ErrInvalidBuffer) {
		t.Errorf("out-of-range read: got %v, want ErrInvalidBuffer", err)
	}
	if _, err := mem.ReadBytes(0, 4); !errors.Is(err, memview.ErrInvalidBuffer) {
		t.Errorf("null pointer read: got %v, want ErrInvalidBuffer", err)
	}
}

func TestInstanceLimit(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	config := DefaultRuntimeConfig()
	config.MaxInstances = 1
	runtime, err := NewRuntime(ctx, logger, config)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)
	if _, err := loader.LoadModuleFromMemory(ctx, "memory-test", memoryModule); err != nil {
		t.Fatal(err)
	}
	mgr := NewInstanceManager(runtime, NewHostFunctions(logger), logger)

	first, err := mgr.Instantiate(ctx, &InstanceConfig{ModuleName: "memory-test"})
	if err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := mgr.Instantiate(waitCtx, &InstanceConfig{ModuleName: "memory-test"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second instance: got %v, want context.DeadlineExceeded", err)
	}

	if err := first.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if runtime.ActiveInstances() != 0 {
		t.Errorf("ActiveInstances() = %d after Close, want 0", runtime.ActiveInstances())
	}

	second, err := mgr.Instantiate(ctx, &InstanceConfig{ModuleName: "memory-test", InstanceID: "again"})
	if err != nil {
		t.Fatalf("slot should be free after Close: %v", err)
	}
	second.Close(ctx)
}

func TestInstanceReclaim(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	config := DefaultRuntimeConfig()
	config.MaxInstances = 1
	runtime, err := NewRuntime(ctx, logger, config)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)
	if _, err := loader.LoadModuleFromMemory(ctx, "memory-test", memoryModule); err != nil {
		t.Fatal(err)
	}
	mgr := NewInstanceManager(runtime, NewHostFunctions(logger), logger)

	var idle []*Instance
	mgr.SetReclaimer(func(ctx context.Context) bool {
		if len(idle) == 0 {
			return false
		}
		inst := idle[0]
		idle = idle[1:]
		inst.Close(ctx)
		return true
	})

	first, err := mgr.Instantiate(ctx, &InstanceConfig{ModuleName: "memory-test"})
	if err != nil {
		t.Fatal(err)
	}
	idle = append(idle, first)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	second, err := mgr.Instantiate(waitCtx, &InstanceConfig{ModuleName: "memory-test"})
	if err != nil {
		t.Fatalf("idle instance should have been reclaimed: %v", err)
	}
	defer second.Close(ctx)
	if !first.Broken() {
		t.Error("reclaimed instance should be closed")
	}

	// Nothing left to reclaim: the caller waits for a slot.
	shortCtx, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelShort()
	if _, err := mgr.Instantiate(shortCtx, &InstanceConfig{ModuleName: "memory-test"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestInstanceBrokenWhenModuleClosed(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	if _, err := NewModuleLoader(runtime, logger).LoadModuleFromMemory(ctx, "memory-test", memoryModule); err != nil {
		t.Fatal(err)
	}
	instance, err := NewInstanceManager(runtime, NewHostFunctions(logger), logger).
		Instantiate(ctx, &InstanceConfig{ModuleName: "memory-test"})
	if err != nil {
		t.Fatal(err)
	}

	if instance.Broken() {
		t.Fatal("new instance reported broken")
	}
	// The runtime closes a module on its own when a call's context is done.
	if err := instance.module.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if !instance.Broken() {
		t.Error("instance with a closed module should be broken")
	}

	if err := instance.Close(ctx); err != nil {
		t.Errorf("Close after the module closed: %v", err)
	}
	if runtime.ActiveInstances() != 0 {
		t.Errorf("ActiveInstances() = %d, want 0", runtime.ActiveInstances())
	}
}
