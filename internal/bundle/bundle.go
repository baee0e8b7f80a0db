// Package bundle loads modules packaged as a directory holding a bridge.yaml
// manifest next to the module artifact.
package bundle

import (
	"context"
	"time"

	"github.com/woxQAQ/wasm-host-bridge/internal/wasm"
)

// Bundle is a loaded bundle with its manifest and running bridge.
type Bundle struct {
	// Manifest is the parsed bundle metadata
	Manifest *Manifest

	// Bridge is the instantiated module
	Bridge *wasm.Bridge

	// LoadedAt is the timestamp when the bundle was loaded
	LoadedAt time.Time
}

// Name returns the bundle name.
func (b *Bundle) Name() string {
	return b.Manifest.Name
}

// Version returns the bundle version.
func (b *Bundle) Version() string {
	return b.Manifest.Version
}

// Close tears down the bundle's bridge.
func (b *Bundle) Close(ctx context.Context) error {
	return b.Bridge.Close(ctx)
}
