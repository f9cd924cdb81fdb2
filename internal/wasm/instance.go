package wasm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
	"golang.org/x/sync/semaphore"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
)

// InstanceManager creates and manages engine instances.
type InstanceManager struct {
	runtime   *Runtime
	logger    *zap.Logger
	hostFuncs *HostFunctionsImpl

	// Caps live instances at RuntimeConfig.MaxInstances.
	slots *semaphore.Weighted

	// reclaim closes one idle instance held elsewhere and reports whether it
	// did. Called when every slot is taken.
	reclaim func(ctx context.Context) bool
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostFuncs *HostFunctionsImpl, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime:   runtime,
		hostFuncs: hostFuncs,
		logger:    logger.With(zap.String("component", "wasm-instance")),
		slots:     semaphore.NewWeighted(int64(runtime.config.MaxInstances)),
	}
}

// SetReclaimer installs the function Instantiate uses to free a slot held by
// an idle instance before it waits for one. Call it before the first
// Instantiate.
func (m *InstanceManager) SetReclaimer(reclaim func(ctx context.Context) bool) {
	m.reclaim = reclaim
}

// acquire takes an instance slot, reclaiming idle instances first and
// blocking only when none are left.
func (m *InstanceManager) acquire(ctx context.Context) error {
	for !m.slots.TryAcquire(1) {
		if m.reclaim == nil || !m.reclaim(ctx) {
			return m.slots.Acquire(ctx, 1)
		}
	}
	return nil
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, generates UUID).
	InstanceID string
}

// Instance represents one instantiated engine module. Calls on an Instance
// must not overlap; the bundle pool hands each instance to one caller at a
// time.
type Instance struct {
	// wazero module instance.
	module api.Module
	memory *Memory

	// Instance metadata.
	ID        string
	Name      string
	CreatedAt int64

	// Exported functions (cached for performance).
	exports map[string]api.Function

	timeout time.Duration
	logger  *zap.Logger
	stderr  *zapio.Writer

	release   func()
	closeOnce sync.Once
	closeErr  error
	broken    bool
}

// Instantiate creates a new instance from a compiled module.
// It blocks while MaxInstances instances are live and none can be reclaimed.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	// Get compiled module from cache.
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	if err := m.runtime.instantiateHostModule(ctx, m.hostFuncs); err != nil {
		return nil, err
	}

	if err := m.acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for an instance slot: %w", err)
	}
	release := func() { m.slots.Release(1) }

	// Generate instance ID if not provided.
	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	logger := m.logger.With(
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)
	logger.Debug("Instantiating Wasm module")

	// Guest panics and runtime messages arrive on stderr.
	stderr := &zapio.Writer{Log: logger, Level: zap.WarnLevel}

	// -buildmode=c-shared modules are reactors: _initialize sets up the Go
	// runtime and then the exports may be called.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStderr(stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithStartFunctions(wasmapi.ExportInitialize)
	if m.runtime.config.DebugEnabled {
		moduleConfig = moduleConfig.WithEnv(wasmapi.EnvLogLevel, "debug")
	}

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		release()
		_ = stderr.Close()
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	instance := &Instance{
		module:    module,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		exports:   cacheExportedFunctions(module),
		timeout:   m.runtime.config.CallTimeout,
		logger:    logger,
		stderr:    stderr,
	}
	instance.release = func() {
		m.runtime.DeleteInstance(instanceID)
		release()
	}

	if mem, err := NewMemory(module); err == nil {
		// Buffer calls share the instance's timeout and broken tracking.
		mem.call = instance.call
		instance.memory = mem
	} else {
		logger.Debug("Module has no guest allocator", zap.Error(err))
	}

	// Track active instance.
	m.runtime.StoreInstance(instanceID, instance)

	logger.Info("Module instantiated successfully",
		zap.Int("exported_functions", len(instance.exports)),
	)

	return instance, nil
}

// Close closes the instance and releases its slot. Safe to call more than once.
func (i *Instance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		i.closeErr = i.module.Close(ctx)
		_ = i.stderr.Close()
		i.release()
	})
	return i.closeErr
}

// Broken reports whether a call failed or the module was closed underneath
// the instance, for example by a canceled context. A broken instance must be
// discarded.
func (i *Instance) Broken() bool {
	return i.broken || i.module.IsClosed()
}

// Memory returns the guest memory helper.
func (i *Instance) Memory() *Memory {
	return i.memory
}

// call invokes an export under the configured call timeout.
func (i *Instance) call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, ok := i.exports[name]
	if !ok {
		return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
	}
	// A done context would make the runtime close the module; fail before
	// entering the guest so the instance stays usable.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", name, i.ID, err)
	}
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	res, err := fn.Call(ctx, params...)
	if err != nil {
		i.broken = true
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Function: name, Duration: i.timeout}
		}
		return nil, fmt.Errorf("calling %s on %s: %w", name, i.ID, err)
	}
	return res, nil
}

// cacheExportedFunctions caches references to the engine exports.
// This improves performance by avoiding repeated lookups.
func cacheExportedFunctions(module api.Module) map[string]api.Function {
	exports := make(map[string]api.Function, len(wasmapi.Exports))
	for _, name := range wasmapi.Exports {
		if fn := module.ExportedFunction(name); fn != nil {
			exports[name] = fn
		}
	}
	return exports
}
