package wasm

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
	"github.com/woxQAQ/wasmllm/internal/enginetest"
)

// newEngine builds the engine module and returns one instance of it.
func newEngine(t *testing.T) *Instance {
	t.Helper()
	return newEngineWithConfig(t, zaptest.NewLogger(t), nil)
}

func newEngineWithConfig(t *testing.T, logger *zap.Logger, config *RuntimeConfig) *Instance {
	t.Helper()
	path := enginetest.BuildEngine(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runtime.Close(context.Background()) })

	compiled, err := NewModuleLoader(runtime, logger).LoadEngineFromFile(ctx, path)
	if err != nil {
		t.Fatalf("Failed to load engine: %v", err)
	}
	instance, err := NewInstanceManager(runtime, NewHostFunctions(logger), logger).
		Instantiate(ctx, &InstanceConfig{ModuleName: compiled.Name})
	if err != nil {
		t.Fatalf("Failed to instantiate engine: %v", err)
	}
	t.Cleanup(func() { instance.Close(context.Background()) })
	return instance
}

func TestEngineEndToEnd(t *testing.T) {
	instance := newEngine(t)
	ctx := context.Background()

	status, err := instance.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status != wasmapi.StatusUnloaded {
		t.Errorf("initial status = %d, want unloaded", status)
	}

	_, err = instance.Infer(ctx, []uint32{5, 6, 7}, 3)
	if ge, ok := err.(*GuestError); !ok || ge.Code != wasmapi.CodeNoModel {
		t.Fatalf("inference without model: got %v, want NoModel", err)
	}

	identity := enginetest.IdentityModel(t, 8)
	if err := instance.LoadModel(ctx, identity); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	out, err := instance.Infer(ctx, []uint32{1, 2, 3}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{1, 2, 3}, out); diff != "" {
		t.Errorf("capacity 3 (-want +got):\n%s", diff)
	}

	out, err = instance.Infer(ctx, []uint32{1, 2, 3}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{1, 2}, out); diff != "" {
		t.Errorf("capacity 2 (-want +got):\n%s", diff)
	}

	// A malformed buffer leaves the identity model loaded.
	err = instance.LoadModel(ctx, identity[:len(identity)-1])
	if ge, ok := err.(*GuestError); !ok || ge.Code != wasmapi.CodeMalformedHeader {
		t.Fatalf("malformed load: got %v, want MalformedHeader", err)
	}
	out, err = instance.Infer(ctx, []uint32{4}, 1)
	if err != nil || len(out) != 1 || out[0] != 4 {
		t.Errorf("after failed load: got %v, %v; want [4]", out, err)
	}

	dumped, err := instance.DumpModel(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(identity, dumped) {
		t.Error("dumped model differs from the loaded buffer")
	}

	if err := instance.Unload(ctx); err != nil {
		t.Fatal(err)
	}
	if status, _ := instance.Status(ctx); status != wasmapi.StatusUnloaded {
		t.Errorf("status after unload = %d", status)
	}
}

func TestEngineGeneration(t *testing.T) {
	instance := newEngine(t)
	ctx := context.Background()

	if err := instance.LoadModel(ctx, enginetest.SuccessorModel(t, 4, 2, 8)); err != nil {
		t.Fatal(err)
	}

	out, err := instance.Infer(ctx, []uint32{3}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{0, 1, 2}, out); diff != "" {
		t.Errorf("generation (-want +got):\n%s", diff)
	}

	out, err = instance.Infer(ctx, []uint32{0, 9}, 4)
	if ge, ok := err.(*GuestError); !ok || ge.Code != wasmapi.CodeTokenOutOfRange {
		t.Fatalf("got %v, want TokenOutOfRange", err)
	}
	if diff := cmp.Diff([]uint32{1}, out); diff != "" {
		t.Errorf("prefix before bad token (-want +got):\n%s", diff)
	}
}

func TestEngineCanceledCallKeepsInstance(t *testing.T) {
	instance := newEngine(t)
	ctx := context.Background()

	if err := instance.LoadModel(ctx, enginetest.IdentityModel(t, 8)); err != nil {
		t.Fatal(err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := instance.Infer(canceled, []uint32{1, 2}, 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("Infer with a canceled context: got %v, want context.Canceled", err)
	}
	if instance.Broken() {
		t.Fatal("a request canceled before it started should not break the instance")
	}

	out, err := instance.Infer(ctx, []uint32{3, 4}, 2)
	if err != nil {
		t.Fatalf("request after a canceled one failed: %v", err)
	}
	if diff := cmp.Diff([]uint32{3, 4}, out); diff != "" {
		t.Errorf("identity (-want +got):\n%s", diff)
	}
}

func TestEngineDebugLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	config := DefaultRuntimeConfig()
	config.DebugEnabled = true
	instance := newEngineWithConfig(t, zap.New(core), config)
	ctx := context.Background()

	if err := instance.LoadModel(ctx, enginetest.IdentityModel(t, 8)); err != nil {
		t.Fatal(err)
	}
	if _, err := instance.Infer(ctx, []uint32{1}, 1); err != nil {
		t.Fatal(err)
	}

	entries := logs.FilterLevelExact(zap.DebugLevel).FilterMessageSnippet("inference complete").All()
	if len(entries) != 1 {
		t.Errorf("expected one debug entry from the engine, got %d", len(entries))
	}
}
