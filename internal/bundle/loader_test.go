package bundle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasmllm/internal/engine"
	"github.com/woxQAQ/wasmllm/internal/model"
	"github.com/woxQAQ/wasmllm/internal/wasm"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	runtime, err := wasm.NewRuntime(ctx, logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { runtime.Close(ctx) })

	return NewLoader(runtime, logger)
}

func TestLoader_LoadBundle_ManifestNotFound(t *testing.T) {
	loader := newTestLoader(t)

	_, err := loader.LoadBundle(context.Background(), filepath.Join("testdata", "bundles", "nonexistent"))
	if _, ok := err.(*ManifestNotFoundError); !ok {
		t.Errorf("expected ManifestNotFoundError, got %T", err)
	}
}

func TestLoader_LoadBundle_BadWeights(t *testing.T) {
	loader := newTestLoader(t)

	_, err := loader.LoadBundle(context.Background(), filepath.Join("testdata", "bundles", "bad-weights"))
	loadErr, ok := err.(*BundleLoadError)
	if !ok {
		t.Fatalf("expected BundleLoadError, got %T (%v)", err, err)
	}
	if loadErr.BundleName != "bad-weights" {
		t.Errorf("expected bundle 'bad-weights', got '%s'", loadErr.BundleName)
	}
	if !errors.Is(err, model.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat in chain, got %v", err)
	}
}

func TestLoader_LoadBundle_IncompatibleLayout(t *testing.T) {
	loader := newTestLoader(t)

	// A well-formed container without the embed tensor.
	head, err := model.NewTensor("head", model.F32, []int{2, 2}, []float32{1, 0, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	w, err := model.NewWeights(0, 0, head)
	if err != nil {
		t.Fatal(err)
	}
	weights, err := model.Encode(w)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	manifest := "name: headless\nversion: 0.1.0\nfamily: toy\n" +
		"engine:\n  file: engine.wasm\nweights:\n  file: model.wmdl\n"
	for file, data := range map[string][]byte{
		ManifestFile:  []byte(manifest),
		"engine.wasm": emptyEngine,
		"model.wmdl":  weights,
	} {
		if err := os.WriteFile(filepath.Join(dir, file), data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	_, err = loader.LoadBundle(context.Background(), dir)
	if _, ok := err.(*BundleLoadError); !ok {
		t.Fatalf("expected BundleLoadError, got %T (%v)", err, err)
	}
	var layoutErr *engine.LayoutError
	if !errors.As(err, &layoutErr) {
		t.Fatalf("expected LayoutError in chain, got %v", err)
	}
	if layoutErr.Tensor != engine.TensorEmbed {
		t.Errorf("expected missing %q, got %q", engine.TensorEmbed, layoutErr.Tensor)
	}
}

func TestLoader_LoadBundle_EngineWithoutExports(t *testing.T) {
	loader := newTestLoader(t)

	// valid-identity ships an empty module as its engine.
	_, err := loader.LoadBundle(context.Background(), filepath.Join("testdata", "bundles", "valid-identity"))
	var notFound *wasm.FunctionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected FunctionNotFoundError in chain, got %v", err)
	}
}

func TestLoader_DiscoverBundles_NoneLoadable(t *testing.T) {
	loader := newTestLoader(t)

	_, err := loader.DiscoverBundles(context.Background(), []string{
		filepath.Join("testdata", "bundles"),
		filepath.Join("testdata", "does-not-exist"),
	})
	noBundles, ok := err.(*NoBundlesFoundError)
	if !ok {
		t.Fatalf("expected NoBundlesFoundError, got %T (%v)", err, err)
	}
	if len(noBundles.Paths) != 2 {
		t.Errorf("expected 2 paths in error, got %v", noBundles.Paths)
	}
}
