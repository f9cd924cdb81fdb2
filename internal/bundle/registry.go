package bundle

import (
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry manages loaded bundles.
type Registry struct {
	sync.RWMutex
	bundles  map[string]*Bundle   // name -> bundle
	byFamily map[string][]*Bundle // family -> bundles
	logger   *zap.Logger
}

// NewRegistry creates a new bundle registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		bundles:  make(map[string]*Bundle),
		byFamily: make(map[string][]*Bundle),
		logger:   logger.With(zap.String("component", "bundle-registry")),
	}
}

// Register adds a bundle to the registry.
func (r *Registry) Register(bundle *Bundle) error {
	r.Lock()
	defer r.Unlock()

	name := bundle.Manifest.Name

	// Check for duplicates
	if _, exists := r.bundles[name]; exists {
		return &BundleAlreadyRegisteredError{BundleName: name}
	}

	r.bundles[name] = bundle

	// Index by family
	family := bundle.Manifest.Family
	if family != "" {
		r.byFamily[family] = append(r.byFamily[family], bundle)
	}

	r.logger.Info("Bundle registered",
		zap.String("name", name),
		zap.String("family", family),
	)

	return nil
}

// Get retrieves a bundle by name.
func (r *Registry) Get(name string) (*Bundle, bool) {
	r.RLock()
	defer r.RUnlock()

	bundle, ok := r.bundles[name]
	return bundle, ok
}

// LookupByFamily finds bundles of a model family.
func (r *Registry) LookupByFamily(family string) []*Bundle {
	r.RLock()
	defer r.RUnlock()

	// Return copy to avoid race conditions
	return slices.Clone(r.byFamily[family])
}

// List returns all registered bundles sorted by name.
func (r *Registry) List() []*Bundle {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Bundle, 0, len(r.bundles))
	for _, bundle := range r.bundles {
		result = append(result, bundle)
	}
	slices.SortFunc(result, func(a, b *Bundle) int {
		return strings.Compare(a.Manifest.Name, b.Manifest.Name)
	})
	return result
}

// Unregister removes a bundle from the registry.
func (r *Registry) Unregister(name string) {
	r.Lock()
	defer r.Unlock()

	bundle, ok := r.bundles[name]
	if !ok {
		return
	}

	// Remove from family index
	family := bundle.Manifest.Family
	r.byFamily[family] = slices.DeleteFunc(r.byFamily[family], func(b *Bundle) bool {
		return b.Manifest.Name == name
	})
	if len(r.byFamily[family]) == 0 {
		delete(r.byFamily, family)
	}

	// Remove from main map
	delete(r.bundles, name)

	r.logger.Info("Bundle unregistered", zap.String("name", name))
}

// Count returns the number of registered bundles.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.bundles)
}
