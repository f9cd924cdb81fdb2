package wasm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
)

// ModuleLoader compiles engine modules into the runtime's module cache.
type ModuleLoader struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewModuleLoader creates a new module loader.
func NewModuleLoader(runtime *Runtime, logger *zap.Logger) *ModuleLoader {
	return &ModuleLoader{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-loader")),
	}
}

// LoadEngineFromFile compiles the engine at path and checks that it exports
// every function in wasmapi.Exports. The module is cached under its path.
func (l *ModuleLoader) LoadEngineFromFile(ctx context.Context, path string) (*CompiledModule, error) {
	if cached, ok := l.runtime.GetCompiledModule(path); ok {
		l.logger.Debug("Module cache hit", zap.String("module", path))
		return cached, nil
	}

	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", path, err)
	}
	return l.load(ctx, path, wasmBytes, true)
}

// LoadModuleFromMemory compiles data under name without checking exports.
func (l *ModuleLoader) LoadModuleFromMemory(ctx context.Context, name string, data []byte) (*CompiledModule, error) {
	if cached, ok := l.runtime.GetCompiledModule(name); ok {
		l.logger.Debug("Module cache hit", zap.String("module", name))
		return cached, nil
	}
	return l.load(ctx, name, data, false)
}

// load registers wasmBytes under name. Bytes that were already compiled under
// another name share that compilation.
func (l *ModuleLoader) load(ctx context.Context, name string, wasmBytes []byte, requireExports bool) (*CompiledModule, error) {
	sum := sha256.Sum256(wasmBytes)
	digest := hex.EncodeToString(sum[:])

	if shared, ok := l.runtime.compiledByDigest(digest); ok {
		if requireExports {
			if err := checkExports(name, shared); err != nil {
				return nil, err
			}
		}
		alias := *shared
		alias.Name = name
		l.runtime.StoreCompiledModule(&alias)
		l.logger.Debug("Reusing compiled module",
			zap.String("module", name),
			zap.String("compiled_as", shared.Name),
		)
		return &alias, nil
	}

	l.logger.Info("Compiling Wasm module",
		zap.String("module", name),
		zap.Int("size_bytes", len(wasmBytes)),
		zap.String("sha256", digest[:12]),
	)
	start := time.Now()

	compiled, err := l.runtime.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, &CompilationError{ModuleName: name, Err: err}
	}

	module := &CompiledModule{
		Module:     compiled,
		Name:       name,
		Digest:     digest,
		SizeBytes:  int64(len(wasmBytes)),
		CompiledAt: time.Now().Unix(),
	}
	if requireExports {
		if err := checkExports(name, module); err != nil {
			_ = compiled.Close(ctx)
			return nil, err
		}
	}

	l.runtime.storeCompiled(module)

	l.logger.Info("Module compiled successfully",
		zap.String("module", name),
		zap.Duration("duration", time.Since(start)),
	)
	return module, nil
}

func checkExports(name string, module *CompiledModule) error {
	exported := module.Module.ExportedFunctions()
	for _, fn := range wasmapi.Exports {
		if _, ok := exported[fn]; !ok {
			return &CompilationError{
				ModuleName: name,
				Err:        &FunctionNotFoundError{ModuleName: name, FunctionName: fn},
			}
		}
	}
	return nil
}
