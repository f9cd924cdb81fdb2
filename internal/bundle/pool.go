package bundle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasmllm/internal/wasm"
)

// Pool keeps idle engine instances of one bundle with its weights already
// loaded. Each instance serves one caller at a time.
type Pool struct {
	bundle      *Bundle
	instanceMgr *wasm.InstanceManager
	logger      *zap.Logger

	mu     sync.Mutex
	idle   []*wasm.Instance
	size   int
	closed bool
}

// NewPool creates a pool that keeps at most size idle instances.
func NewPool(bundle *Bundle, instanceMgr *wasm.InstanceManager, size int, logger *zap.Logger) *Pool {
	return &Pool{
		bundle:      bundle,
		instanceMgr: instanceMgr,
		size:        max(size, 1),
		logger: logger.With(
			zap.String("component", "bundle-pool"),
			zap.String("bundle", bundle.Name()),
		),
	}
}

// Get returns an idle instance or starts a new one and loads the bundle's
// weights into it.
func (p *Pool) Get(ctx context.Context) (*wasm.Instance, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool for bundle '%s' is closed", p.bundle.Name())
	}
	for n := len(p.idle); n > 0; n = len(p.idle) {
		inst := p.idle[n-1]
		p.idle = p.idle[:n-1]
		if !inst.Broken() {
			p.mu.Unlock()
			return inst, nil
		}
		_ = inst.Close(ctx)
	}
	p.mu.Unlock()

	inst, err := p.instanceMgr.Instantiate(ctx, &wasm.InstanceConfig{ModuleName: p.bundle.Compiled.Name})
	if err != nil {
		return nil, err
	}
	if err := inst.LoadModel(ctx, p.bundle.Weights); err != nil {
		_ = inst.Close(ctx)
		return nil, &BundleLoadError{BundleName: p.bundle.Name(), Err: err}
	}
	p.logger.Debug("Instance started", zap.String("instance_id", inst.ID))
	return inst, nil
}

// Put returns an instance to the pool. Broken or closed instances and
// instances beyond the pool size are closed.
func (p *Pool) Put(ctx context.Context, inst *wasm.Instance) {
	p.mu.Lock()
	if !p.closed && !inst.Broken() && len(p.idle) < p.size {
		p.idle = append(p.idle, inst)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if inst.Broken() {
		p.logger.Warn("Discarding broken instance", zap.String("instance_id", inst.ID))
	}
	if err := inst.Close(ctx); err != nil {
		p.logger.Warn("Failed to close instance", zap.String("instance_id", inst.ID), zap.Error(err))
	}
}

// Evict closes the oldest idle instance and reports whether there was one.
func (p *Pool) Evict(ctx context.Context) bool {
	p.mu.Lock()
	if len(p.idle) == 0 {
		p.mu.Unlock()
		return false
	}
	inst := p.idle[0]
	p.idle = p.idle[1:]
	p.mu.Unlock()

	p.logger.Debug("Evicting idle instance", zap.String("instance_id", inst.ID))
	if err := inst.Close(ctx); err != nil {
		p.logger.Warn("Failed to close instance", zap.String("instance_id", inst.ID), zap.Error(err))
	}
	return true
}

// Idle returns the number of idle instances.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close closes every idle instance. Instances still in use are closed when
// they are returned.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, inst := range idle {
		if err := inst.Close(ctx); err != nil {
			p.logger.Warn("Failed to close instance", zap.String("instance_id", inst.ID), zap.Error(err))
		}
	}
}
