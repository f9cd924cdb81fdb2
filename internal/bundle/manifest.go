package bundle

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the manifest inside a bundle directory.
const ManifestFile = "manifest.yaml"

// Manifest represents the bundle manifest.yaml structure.
type Manifest struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Family      string         `yaml:"family"`
	Description string         `yaml:"description"`
	Engine      FileRef        `yaml:"engine"`
	Weights     FileRef        `yaml:"weights"`
	Defaults    DefaultsConfig `yaml:"defaults"`

	// Internal fields
	dir string // Directory containing manifest
}

// FileRef points at a file relative to the bundle directory.
type FileRef struct {
	File string `yaml:"file"`
}

// DefaultsConfig holds per-bundle request defaults.
type DefaultsConfig struct {
	// Output capacity used when a request does not set one.
	Capacity int `yaml:"capacity"`
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir

	// Validate manifest
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	// Check required fields
	if m.Name == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: "name is required",
		}
	}

	if m.Version == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "version",
			Message: "version is required",
		}
	}

	if m.Engine.File == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "engine.file",
			Message: "engine.file is required",
		}
	}

	if m.Weights.File == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "weights.file",
			Message: "weights.file is required",
		}
	}

	if m.Defaults.Capacity < 0 {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "defaults.capacity",
			Message: "capacity must not be negative",
		}
	}

	// Validate referenced files exist
	if _, err := os.Stat(m.EnginePath()); os.IsNotExist(err) {
		return &FileNotFoundError{
			ManifestPath: m.Path(),
			Field:        "engine.file",
			File:         m.Engine.File,
		}
	}
	if _, err := os.Stat(m.WeightsPath()); os.IsNotExist(err) {
		return &FileNotFoundError{
			ManifestPath: m.Path(),
			Field:        "weights.file",
			File:         m.Weights.File,
		}
	}

	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// EnginePath returns the path to the engine module.
func (m *Manifest) EnginePath() string {
	return filepath.Join(m.dir, m.Engine.File)
}

// WeightsPath returns the path to the WMDL weights file.
func (m *Manifest) WeightsPath() string {
	return filepath.Join(m.dir, m.Weights.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
