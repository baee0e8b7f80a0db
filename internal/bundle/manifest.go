package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/wasm-host-bridge/internal/wasm"
)

// ManifestFile is the name of the manifest inside a bundle directory.
const ManifestFile = "bridge.yaml"

// Manifest represents the bundle bridge.yaml structure.
type Manifest struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	// Artifact is the module path relative to the bundle directory.
	// Empty means the co-located <name>_bg.wasm.
	Artifact string              `yaml:"artifact"`
	Closures []wasm.ClosureShape `yaml:"closures"`

	// Internal fields
	dir string // Directory containing manifest
}

// ParseManifest reads and parses bridge.yaml from a directory.
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

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields and that the artifact exists.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: "name is required",
		}
	}

	if strings.ContainsAny(m.Name, `/\`) || m.Name == "." || m.Name == ".." {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: fmt.Sprintf("invalid bundle name: %s", m.Name),
		}
	}

	wrappers := make(map[string]bool, len(m.Closures))
	for i, shape := range m.Closures {
		field := fmt.Sprintf("closures[%d]", i)
		if err := shape.Validate(); err != nil {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   field,
				Message: err.Error(),
			}
		}
		if wrappers[shape.Wrapper] {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   field,
				Message: fmt.Sprintf("duplicate closure wrapper: %s", shape.Wrapper),
			}
		}
		wrappers[shape.Wrapper] = true
	}

	if _, err := os.Stat(m.ArtifactPath()); os.IsNotExist(err) {
		return &ArtifactNotFoundError{
			ManifestPath: m.Path(),
			Artifact:     m.ArtifactPath(),
		}
	}

	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// ArtifactPath returns the path to the module artifact.
func (m *Manifest) ArtifactPath() string {
	return m.Source().Path
}

// Source returns the module source of the bundle.
func (m *Manifest) Source() *wasm.FileSource {
	if m.Artifact == "" {
		return wasm.ArtifactSource(m.dir, m.Name)
	}
	return &wasm.FileSource{Path: filepath.Join(m.dir, m.Artifact)}
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
