package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-host-bridge/internal/wasm"
)

// Loader handles loading bundles from disk.
type Loader struct {
	runtime *wasm.Runtime
	opts    []wasm.LoaderOption
	root    *zap.Logger
	logger  *zap.Logger
}

// NewLoader creates a new bundle loader. opts are applied to every module
// loader it creates, before the bundle's closure shapes.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger, opts ...wasm.LoaderOption) *Loader {
	return &Loader{
		runtime: runtime,
		opts:    opts,
		root:    logger,
		logger:  logger.With(zap.String("component", "bundle-loader")),
	}
}

// Load parses the bundle in dir and instantiates its module.
func (l *Loader) Load(ctx context.Context, dir string) (*Bundle, error) {
	l.logger.Debug("Loading bundle", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}
	return l.LoadManifest(ctx, manifest)
}

// LoadManifest instantiates the module of an already parsed manifest.
func (l *Loader) LoadManifest(ctx context.Context, manifest *Manifest) (*Bundle, error) {
	l.logger.Info("Loading bundle",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.Int("closure_shapes", len(manifest.Closures)),
	)

	opts := append([]wasm.LoaderOption(nil), l.opts...)
	opts = append(opts, wasm.WithClosureShapes(manifest.Closures...))
	loader := wasm.NewLoader(l.runtime, l.root, opts...)

	bridge, err := loader.Init(ctx, manifest.Source())
	if err != nil {
		return nil, &BundleLoadError{
			BundleName: manifest.Name,
			Err:        err,
		}
	}

	b := &Bundle{
		Manifest: manifest,
		Bridge:   bridge,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Bundle loaded successfully",
		zap.String("name", manifest.Name),
		zap.String("bridge_id", bridge.ID),
	)

	return b, nil
}

// Discover scans directories for bundles and returns their manifests.
// Subdirectories without a manifest are skipped; invalid manifests are logged
// and reported in the joined error alongside the valid ones.
func (l *Loader) Discover(paths []string) ([]*Manifest, error) {
	var manifests []*Manifest
	var errs []error

	for _, basePath := range paths {
		l.logger.Debug("Scanning bundle directory", zap.String("path", basePath))

		entries, err := os.ReadDir(basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Bundle path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			dir := filepath.Join(basePath, entry.Name())

			manifest, err := ParseManifest(dir)
			if err != nil {
				var notFound *ManifestNotFoundError
				if errors.As(err, &notFound) {
					continue
				}
				l.logger.Error("Invalid bundle",
					zap.String("dir", dir),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}

			manifests = append(manifests, manifest)
		}
	}

	if len(manifests) > 0 && len(errs) > 0 {
		l.logger.Warn("Some bundles are invalid",
			zap.Int("valid", len(manifests)),
			zap.Int("invalid", len(errs)),
		)
	}

	return manifests, errors.Join(errs...)
}

// Find returns the manifest of the bundle called name in paths. The first
// match in path order wins.
func (l *Loader) Find(paths []string, name string) (*Manifest, error) {
	manifests, err := l.Discover(paths)
	for _, m := range manifests {
		if m.Name == name {
			return m, nil
		}
	}
	notFound := &BundleNotFoundError{BundleName: name, Paths: paths}
	if err != nil {
		return nil, errors.Join(notFound, err)
	}
	return nil, notFound
}
