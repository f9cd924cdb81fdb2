package bundle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/woxQAQ/wasmllm/internal/config"
	"github.com/woxQAQ/wasmllm/internal/wasm"
)

// Result is the output of one inference request. Err is set when the engine
// rejected the request; Tokens then holds whatever was written before it
// stopped.
type Result struct {
	Tokens []uint32
	Err    *wasm.GuestError
}

// Manager manages bundle lifecycle and routes inference to instance pools.
type Manager struct {
	cfg         *config.ServerConfig
	runtime     *wasm.Runtime
	loader      *Loader
	registry    *Registry
	instanceMgr *wasm.InstanceManager
	logger      *zap.Logger

	mu     sync.RWMutex
	pools  map[string]*Pool
	loaded bool
}

// NewManager creates a new bundle manager.
func NewManager(
	cfg *config.ServerConfig,
	runtime *wasm.Runtime,
	hostFuncs *wasm.HostFunctionsImpl,
	logger *zap.Logger,
) *Manager {
	m := &Manager{
		cfg:         cfg,
		runtime:     runtime,
		loader:      NewLoader(runtime, logger),
		registry:    NewRegistry(logger),
		instanceMgr: wasm.NewInstanceManager(runtime, hostFuncs, logger),
		pools:       make(map[string]*Pool),
		logger:      logger.With(zap.String("component", "bundle-manager")),
	}
	m.instanceMgr.SetReclaimer(m.evictIdle)
	return m
}

// evictIdle closes one idle instance from any pool so another bundle can
// start an instance when the runtime is at MaxInstances.
func (m *Manager) evictIdle(ctx context.Context) bool {
	m.mu.RLock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, pool := range m.pools {
		pools = append(pools, pool)
	}
	m.mu.RUnlock()

	for _, pool := range pools {
		if pool.Evict(ctx) {
			return true
		}
	}
	return false
}

// LoadAll discovers and loads all bundles from configured paths.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return fmt.Errorf("bundles already loaded")
	}

	m.logger.Info("Loading bundles",
		zap.Strings("paths", m.cfg.BundlePaths),
	)

	// Discover bundles
	bundles, err := m.loader.DiscoverBundles(ctx, m.cfg.BundlePaths)
	if err != nil {
		// Check if it's a NoBundlesFoundError - log warning but don't fail
		if _, ok := err.(*NoBundlesFoundError); ok {
			m.logger.Warn("No bundles found in configured paths",
				zap.Strings("paths", m.cfg.BundlePaths),
			)
			m.loaded = true
			return nil
		}
		return err
	}

	// Register all bundles
	for _, bundle := range bundles {
		if err := m.register(bundle); err != nil {
			m.logger.Error("Failed to register bundle",
				zap.String("name", bundle.Manifest.Name),
				zap.Error(err),
			)
			continue
		}
	}

	m.loaded = true

	m.logger.Info("Bundles loaded successfully",
		zap.Int("count", m.registry.Count()),
	)

	return nil
}

// Add registers a bundle loaded from dir outside of discovery.
func (m *Manager) Add(ctx context.Context, dir string) (*Bundle, error) {
	bundle, err := m.loader.LoadBundle(ctx, dir)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.register(bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

// register must be called with m.mu held.
func (m *Manager) register(bundle *Bundle) error {
	if err := m.registry.Register(bundle); err != nil {
		return err
	}
	m.pools[bundle.Name()] = NewPool(bundle, m.instanceMgr, m.cfg.Inference.PoolSize, m.logger)
	return nil
}

// GetBundle retrieves a bundle by name.
func (m *Manager) GetBundle(name string) (*Bundle, error) {
	bundle, ok := m.registry.Get(name)
	if !ok {
		return nil, &BundleNotFoundError{BundleName: name}
	}

	return bundle, nil
}

// FindBundleForFamily finds a bundle of a model family.
func (m *Manager) FindBundleForFamily(family string) (*Bundle, error) {
	bundles := m.registry.LookupByFamily(family)
	if len(bundles) == 0 {
		return nil, fmt.Errorf("no bundle found for family '%s'", family)
	}

	// Return first match (future: support version selection)
	return bundles[0], nil
}

// List returns every registered bundle.
func (m *Manager) List() []*Bundle {
	return m.registry.List()
}

// Infer runs one request on an instance of the named bundle. A capacity of
// zero or less uses the bundle's default.
func (m *Manager) Infer(ctx context.Context, name string, tokens []uint32, capacity int) (Result, error) {
	pool, bundle, err := m.pool(name)
	if err != nil {
		return Result{}, err
	}
	return m.infer(ctx, pool, bundle, tokens, capacity)
}

// InferBatch runs requests against the named bundle concurrently, bounded by
// the configured batch concurrency. Results keep the order of requests.
// Engine rejections are reported per result; any other failure aborts the
// batch.
func (m *Manager) InferBatch(ctx context.Context, name string, requests [][]uint32, capacity int) ([]Result, error) {
	pool, bundle, err := m.pool(name)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.cfg.Inference.BatchConcurrency, 1))
	for i, tokens := range requests {
		g.Go(func() error {
			res, err := m.infer(gctx, pool, bundle, tokens, capacity)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *Manager) pool(name string) (*Pool, *Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pool, ok := m.pools[name]
	if !ok {
		return nil, nil, &BundleNotFoundError{BundleName: name}
	}
	return pool, pool.bundle, nil
}

func (m *Manager) infer(ctx context.Context, pool *Pool, bundle *Bundle, tokens []uint32, capacity int) (Result, error) {
	if capacity <= 0 {
		capacity = bundle.Capacity(len(tokens))
	}
	if limit := m.cfg.Inference.MaxCapacity; limit > 0 && capacity > limit {
		return Result{}, &CapacityError{Capacity: capacity, Limit: limit}
	}

	inst, err := pool.Get(ctx)
	if err != nil {
		return Result{}, err
	}
	defer pool.Put(context.WithoutCancel(ctx), inst)

	out, err := inst.Infer(ctx, tokens, capacity)
	var guestErr *wasm.GuestError
	if errors.As(err, &guestErr) {
		return Result{Tokens: out, Err: guestErr}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Tokens: out}, nil
}

// Shutdown gracefully shuts down all bundles.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down bundle manager")

	m.mu.Lock()
	for _, pool := range m.pools {
		pool.Close(ctx)
	}
	m.mu.Unlock()

	// Runtime close handles instance cleanup
	if err := m.runtime.Close(ctx); err != nil {
		m.logger.Error("Failed to shutdown runtime", zap.Error(err))
		return err
	}

	m.logger.Info("Bundle manager shutdown complete")
	return nil
}

// Registry returns the bundle registry (for testing/inspection).
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded returns whether bundles have been loaded.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}
