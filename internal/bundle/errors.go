package bundle

import (
	"fmt"
)

// ManifestNotFoundError occurs when bridge.yaml is not found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when bridge.yaml cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when bridge.yaml fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// ArtifactNotFoundError occurs when the module artifact of a bundle doesn't exist.
type ArtifactNotFoundError struct {
	ManifestPath string
	Artifact     string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("artifact '%s' not found (referenced in manifest '%s')",
		e.Artifact, e.ManifestPath)
}

// BundleLoadError occurs when a bundle's module fails to load.
type BundleLoadError struct {
	BundleName string
	Err        error
}

func (e *BundleLoadError) Error() string {
	return fmt.Sprintf("failed to load bundle '%s': %v", e.BundleName, e.Err)
}

func (e *BundleLoadError) Unwrap() error {
	return e.Err
}

// BundleNotFoundError occurs when no bundle with a name exists in the search paths.
type BundleNotFoundError struct {
	BundleName string
	Paths      []string
}

func (e *BundleNotFoundError) Error() string {
	return fmt.Sprintf("bundle '%s' not found in paths: %v", e.BundleName, e.Paths)
}
