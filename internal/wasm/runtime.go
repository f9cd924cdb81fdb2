package wasm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
)

// Runtime manages the wazero runtime lifecycle.
// One Runtime is shared by every engine instance in the process.
type Runtime struct {
	// wazero runtime (singleton)
	runtime wazero.Runtime

	// Compiled modules by name (bundle engine path or caller-chosen name).
	modules sync.Map // map[string]*CompiledModule

	// First compilation of each distinct binary, by SHA-256.
	digests sync.Map // map[string]*CompiledModule

	// Active engine instances (for cleanup on shutdown)
	// key: instance ID -> value: *Instance
	instances sync.Map

	// Optional on-disk compilation cache, closed with the runtime.
	cache wazero.CompilationCache

	// The "host" import module is instantiated once per runtime.
	hostOnce sync.Once
	hostErr  error

	// Configuration
	config *RuntimeConfig

	// Logger
	logger *zap.Logger

	// Shutdown management
	closeOnce sync.Once
	closed    chan struct{}
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limit for each engine instance (in pages, 64KB each)
	// Default: 1024 pages = 64MB max memory per instance
	MemoryPages uint32

	// Forward the engine's debug log entries to the host logger
	DebugEnabled bool

	// Compilation cache directory (for persistent caching)
	// If empty, uses in-memory caching only
	CacheDir string

	// Maximum number of live instances; Instantiate blocks while the limit is reached
	MaxInstances int

	// Upper bound for a single exported call. Zero disables the limit.
	CallTimeout time.Duration
}

// CompiledModule wraps a wazero.CompiledModule with metadata.
type CompiledModule struct {
	// wazero compiled module
	Module wazero.CompiledModule

	// Module metadata
	Name      string
	Digest    string // hex SHA-256 of the module bytes
	SizeBytes int64

	// Compilation timestamp
	CompiledAt int64
}

// NewRuntime creates and initializes a new wazero runtime with WASI
// preview1 available to guests.
// This should be called once during application startup.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig) (*Runtime, error) {
	// Validate config
	if config == nil {
		config = DefaultRuntimeConfig()
	}
	if config.MaxInstances <= 0 {
		return nil, fmt.Errorf("max instances must be positive, got %d", config.MaxInstances)
	}

	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true)
	if config.MemoryPages > 0 {
		rc = rc.WithMemoryLimitPages(config.MemoryPages)
	}

	var cache wazero.CompilationCache
	if config.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache %s: %w", config.CacheDir, err)
		}
		rc = rc.WithCompilationCache(cache)
	}

	r := wazero.NewRuntimeWithConfig(ctx, rc)

	// Go wasip1 guests import the preview1 API even when they never touch files.
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	runtime := &Runtime{
		runtime: r,
		cache:   cache,
		config:  config,
		logger:  logger.With(zap.String("component", "wasm-runtime")),
		closed:  make(chan struct{}),
	}

	runtime.logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.Bool("debug_enabled", config.DebugEnabled),
		zap.String("cache_dir", config.CacheDir),
		zap.Int("max_instances", config.MaxInstances),
		zap.Duration("call_timeout", config.CallTimeout),
	)

	return runtime, nil
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:  1024, // 64MB
		DebugEnabled: false,
		CacheDir:     "",
		MaxInstances: 100,
		CallTimeout:  30 * time.Second,
	}
}

// Config returns the runtime configuration.
func (r *Runtime) Config() RuntimeConfig {
	return *r.config
}

// instantiateHostModule registers the functions the engine imports. It runs
// at most once per runtime; later calls return the first result.
func (r *Runtime) instantiateHostModule(ctx context.Context, host *HostFunctionsImpl) error {
	r.hostOnce.Do(func() {
		builder := r.runtime.NewHostModuleBuilder(wasmapi.HostModule)

		// Engine modules call this to log through the host logger.
		builder.NewFunctionBuilder().
			WithFunc(host.logMessage).
			WithParameterNames("level", "ptr", "length").
			Export(wasmapi.ImportLogMessage)

		if _, err := builder.Instantiate(ctx); err != nil {
			r.hostErr = fmt.Errorf("failed to instantiate host module: %w", err)
		}
	})
	return r.hostErr
}

// Close gracefully shuts down the runtime.
// Safe to call multiple times (idempotent).
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Shutting down Wasm runtime")

		// Close all active instances first
		r.instances.Range(func(key, value any) bool {
			if inst, ok := value.(interface{ Close(context.Context) error }); ok {
				if closeErr := inst.Close(ctx); closeErr != nil {
					r.logger.Warn("Failed to close instance",
						zap.String("instance_id", key.(string)),
						zap.Error(closeErr),
					)
				}
			}
			return true
		})

		// Close the runtime (closes compiled modules)
		err = r.runtime.Close(ctx)

		if r.cache != nil {
			if cacheErr := r.cache.Close(ctx); cacheErr != nil && err == nil {
				err = cacheErr
			}
		}

		close(r.closed)
		r.logger.Info("Wasm runtime shutdown complete")
	})

	return err
}

// GetCompiledModule retrieves a compiled module from cache.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	if val, ok := r.modules.Load(name); ok {
		if mod, ok := val.(*CompiledModule); ok {
			return mod, true
		}
	}
	return nil, false
}

// StoreCompiledModule stores a compiled module in cache.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// storeCompiled caches a fresh compilation by name and by digest.
func (r *Runtime) storeCompiled(module *CompiledModule) {
	r.digests.LoadOrStore(module.Digest, module)
	r.StoreCompiledModule(module)
}

func (r *Runtime) compiledByDigest(digest string) (*CompiledModule, bool) {
	if val, ok := r.digests.Load(digest); ok {
		return val.(*CompiledModule), true
	}
	return nil, false
}

// GetInstance retrieves an active instance.
func (r *Runtime) GetInstance(instanceID string) (any, bool) {
	return r.instances.Load(instanceID)
}

// StoreInstance stores an active instance.
func (r *Runtime) StoreInstance(instanceID string, instance any) {
	r.instances.Store(instanceID, instance)
}

// DeleteInstance removes an instance from tracking.
func (r *Runtime) DeleteInstance(instanceID string) {
	r.instances.Delete(instanceID)
}

// ActiveInstances returns the number of tracked instances.
func (r *Runtime) ActiveInstances() int {
	n := 0
	r.instances.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
