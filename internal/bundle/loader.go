package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasmllm/internal/engine"
	"github.com/woxQAQ/wasmllm/internal/model"
	"github.com/woxQAQ/wasmllm/internal/wasm"
)

// Loader handles loading bundles from disk.
type Loader struct {
	moduleLoader *wasm.ModuleLoader
	logger       *zap.Logger
}

// NewLoader creates a new bundle loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		logger:       logger.With(zap.String("component", "bundle-loader")),
	}
}

// LoadBundle loads a single bundle from a directory. The weights are decoded
// and compiled here so a broken bundle fails at startup rather than on first
// use.
func (l *Loader) LoadBundle(ctx context.Context, dir string) (*Bundle, error) {
	l.logger.Debug("Loading bundle", zap.String("dir", dir))

	// Parse manifest
	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loading bundle",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.String("family", manifest.Family),
	)

	weights, err := os.ReadFile(manifest.WeightsPath())
	if err != nil {
		return nil, &BundleLoadError{BundleName: manifest.Name, Err: err}
	}
	header, err := checkWeights(weights)
	if err != nil {
		return nil, &BundleLoadError{
			BundleName: manifest.Name,
			Err:        fmt.Errorf("weights %s: %w", manifest.Weights.File, err),
		}
	}

	// Compile engine module (uses internal caching, so bundles sharing an
	// engine file compile it once)
	compiled, err := l.moduleLoader.LoadEngineFromFile(ctx, manifest.EnginePath())
	if err != nil {
		return nil, &BundleLoadError{
			BundleName: manifest.Name,
			Err:        err,
		}
	}

	bundle := &Bundle{
		Manifest: manifest,
		Compiled: compiled,
		Weights:  weights,
		Header:   header,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Bundle loaded successfully",
		zap.String("name", manifest.Name),
		zap.Int64("engine_bytes", compiled.SizeBytes),
		zap.Int("weights_bytes", len(weights)),
		zap.Uint32("tensors", header.TensorCount),
	)

	return bundle, nil
}

// checkWeights decodes a WMDL buffer and compiles it the way the engine
// module will, returning its header.
func checkWeights(buf []byte) (model.Header, error) {
	header, err := model.PeekHeader(buf)
	if err != nil {
		return model.Header{}, err
	}
	w, err := model.Decode(buf)
	if err != nil {
		return model.Header{}, err
	}
	if _, err := engine.Compile(w); err != nil {
		return model.Header{}, err
	}
	return header, nil
}

// DiscoverBundles scans directories for bundles.
func (l *Loader) DiscoverBundles(ctx context.Context, paths []string) ([]*Bundle, error) {
	var bundles []*Bundle
	var errs []error

	for _, basePath := range paths {
		l.logger.Debug("Scanning bundle directory", zap.String("path", basePath))

		// Read subdirectories
		entries, err := os.ReadDir(basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Bundle path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		// Try to load each subdirectory as a bundle
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			bundleDir := filepath.Join(basePath, entry.Name())

			bundle, err := l.LoadBundle(ctx, bundleDir)
			if err != nil {
				l.logger.Error("Failed to load bundle",
					zap.String("dir", bundleDir),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}

			bundles = append(bundles, bundle)
		}
	}

	// If we found some bundles but had errors, log warning but continue
	if len(bundles) > 0 && len(errs) > 0 {
		l.logger.Warn("Some bundles failed to load",
			zap.Int("loaded", len(bundles)),
			zap.Int("failed", len(errs)),
		)
	}

	// If no bundles loaded, return error
	if len(bundles) == 0 {
		return nil, &NoBundlesFoundError{Paths: paths}
	}

	return bundles, nil
}
