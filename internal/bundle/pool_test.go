package bundle

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wasmllm/internal/wasm"
)

// emptyEngine is a module with no exports; enough to hold an instance slot.
var emptyEngine = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestPool_PutAndEvict(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := wasm.NewRuntime(ctx, logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runtime.Close(ctx) })

	compiled, err := wasm.NewModuleLoader(runtime, logger).LoadModuleFromMemory(ctx, "empty", emptyEngine)
	if err != nil {
		t.Fatal(err)
	}
	instanceMgr := wasm.NewInstanceManager(runtime, wasm.NewHostFunctions(logger), logger)
	pool := NewPool(&Bundle{Manifest: &Manifest{Name: "empty"}, Compiled: compiled}, instanceMgr, 2, logger)

	start := func() *wasm.Instance {
		t.Helper()
		inst, err := instanceMgr.Instantiate(ctx, &wasm.InstanceConfig{ModuleName: compiled.Name})
		if err != nil {
			t.Fatal(err)
		}
		return inst
	}

	// A closed instance is never pooled.
	closed := start()
	closed.Close(ctx)
	pool.Put(ctx, closed)
	if idle := pool.Idle(); idle != 0 {
		t.Errorf("closed instance was pooled, idle = %d", idle)
	}

	first, second := start(), start()
	pool.Put(ctx, first)
	pool.Put(ctx, second)
	if idle := pool.Idle(); idle != 2 {
		t.Fatalf("idle = %d, want 2", idle)
	}

	// An instance closed while idle is skipped by Get.
	second.Close(ctx)
	got, err := pool.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != first {
		t.Errorf("Get returned %s, want the healthy instance %s", got.ID, first.ID)
	}
	pool.Put(ctx, got)

	if !pool.Evict(ctx) {
		t.Fatal("Evict should close the idle instance")
	}
	if !first.Broken() {
		t.Error("evicted instance should be closed")
	}
	if pool.Evict(ctx) {
		t.Error("Evict on an empty pool should report false")
	}
	if runtime.ActiveInstances() != 0 {
		t.Errorf("ActiveInstances() = %d, want 0", runtime.ActiveInstances())
	}
}
