package bundle

import (
	"path/filepath"
	"testing"
)

func TestParseManifest_Valid(t *testing.T) {
	dir := filepath.Join("testdata", "bundles", "valid-identity")

	manifest, err := ParseManifest(dir)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if manifest.Name != "identity" {
		t.Errorf("expected Name 'identity', got '%s'", manifest.Name)
	}

	if manifest.Version != "1.0.0" {
		t.Errorf("expected Version '1.0.0', got '%s'", manifest.Version)
	}

	if manifest.Family != "toy" {
		t.Errorf("expected Family 'toy', got '%s'", manifest.Family)
	}

	if manifest.Engine.File != "engine.wasm" {
		t.Errorf("expected Engine.File 'engine.wasm', got '%s'", manifest.Engine.File)
	}

	if manifest.WeightsPath() != filepath.Join(dir, "identity.wmdl") {
		t.Errorf("unexpected WeightsPath %s", manifest.WeightsPath())
	}

	if manifest.Defaults.Capacity != 16 {
		t.Errorf("expected capacity 16, got %d", manifest.Defaults.Capacity)
	}
}

func TestParseManifest_NotFound(t *testing.T) {
	dir := filepath.Join("testdata", "bundles", "nonexistent")

	_, err := ParseManifest(dir)
	if err == nil {
		t.Fatal("ParseManifest() should fail for nonexistent directory")
	}

	_, ok := err.(*ManifestNotFoundError)
	if !ok {
		t.Errorf("expected ManifestNotFoundError, got %T", err)
	}
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	dir := filepath.Join("testdata", "bundles", "invalid-yaml")

	_, err := ParseManifest(dir)
	if err == nil {
		t.Fatal("ParseManifest() should fail for invalid YAML")
	}

	_, ok := err.(*ManifestParseError)
	if !ok {
		t.Errorf("expected ManifestParseError, got %T", err)
	}
}

func TestParseManifest_MissingRequiredFields(t *testing.T) {
	dir := filepath.Join("testdata", "bundles", "missing-fields")

	_, err := ParseManifest(dir)
	if err == nil {
		t.Fatal("ParseManifest() should fail for missing required fields")
	}

	validationErr, ok := err.(*ManifestValidationError)
	if !ok {
		t.Fatalf("expected ManifestValidationError, got %T", err)
	}

	if validationErr.Field != "version" {
		t.Errorf("expected field 'version', got '%s'", validationErr.Field)
	}
}

func TestParseManifest_MissingWeights(t *testing.T) {
	dir := filepath.Join("testdata", "bundles", "missing-weights")

	_, err := ParseManifest(dir)
	notFound, ok := err.(*FileNotFoundError)
	if !ok {
		t.Fatalf("expected FileNotFoundError, got %T (%v)", err, err)
	}

	if notFound.Field != "weights.file" || notFound.File != "model.wmdl" {
		t.Errorf("unexpected error fields: %+v", notFound)
	}
}

func TestManifest_Validate(t *testing.T) {
	dir := filepath.Join("testdata", "bundles", "valid-identity")

	tests := []struct {
		name     string
		manifest Manifest
		field    string
	}{
		{"missing name", Manifest{Version: "1", Engine: FileRef{"engine.wasm"}, Weights: FileRef{"identity.wmdl"}}, "name"},
		{"missing engine", Manifest{Name: "x", Version: "1", Weights: FileRef{"identity.wmdl"}}, "engine.file"},
		{"missing weights", Manifest{Name: "x", Version: "1", Engine: FileRef{"engine.wasm"}}, "weights.file"},
		{"negative capacity", Manifest{
			Name: "x", Version: "1",
			Engine: FileRef{"engine.wasm"}, Weights: FileRef{"identity.wmdl"},
			Defaults: DefaultsConfig{Capacity: -1},
		}, "defaults.capacity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.manifest
			m.dir = dir
			err := m.Validate()
			validationErr, ok := err.(*ManifestValidationError)
			if !ok {
				t.Fatalf("expected ManifestValidationError, got %T (%v)", err, err)
			}
			if validationErr.Field != tt.field {
				t.Errorf("expected field '%s', got '%s'", tt.field, validationErr.Field)
			}
		})
	}
}
