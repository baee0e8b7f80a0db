package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

// Runtime owns the wazero runtime, the compiled-module cache and the bridge
// running on it. A Runtime hosts at most one running Bridge at a time,
// because every guest imports from the same host namespace.
type Runtime struct {
	runtime wazero.Runtime

	// modules caches compiled modules by source name.
	modules sync.Map // map[string]*CompiledModule

	// bridges holds the running bridge, keyed by ID, so Close can tear it
	// down.
	bridges sync.Map // map[string]*Bridge

	config *RuntimeConfig
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limits for Wasm modules (in pages, 64KB each)
	// Default: 16384 pages = 1GB max memory per module
	MemoryPages uint32

	// Log every host import call at debug level
	DebugEnabled bool

	// Compilation cache directory (for persistent caching)
	// If empty, uses in-memory caching only
	CacheDir string
}

// CompiledModule wraps a wazero.CompiledModule with metadata.
type CompiledModule struct {
	// wazero compiled module
	Module wazero.CompiledModule

	// Module metadata
	Name      string
	Source    string // File path, URL or identifier
	SizeBytes int64

	// Streamed is true when the module was compiled from a response
	// rather than from a buffered byte slice.
	Streamed bool

	// Compilation timestamp
	CompiledAt int64
}

// NewRuntime creates and initializes a new wazero runtime.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig) (*Runtime, error) {
	if config == nil {
		config = DefaultRuntimeConfig()
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if config.MemoryPages > 0 {
		rc = rc.WithMemoryLimitPages(config.MemoryPages)
	}
	if config.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache %s: %w", config.CacheDir, err)
		}
		rc = rc.WithCompilationCache(cache)
	}

	r := wazero.NewRuntimeWithConfig(ctx, rc)

	runtime := &Runtime{
		runtime: r,
		config:  config,
		logger:  logger.With(zap.String("component", "wasm-runtime")),
		closed:  make(chan struct{}),
	}

	runtime.logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.Bool("debug_enabled", config.DebugEnabled),
		zap.String("cache_dir", config.CacheDir),
	)

	return runtime, nil
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:  16384, // 1GB
		DebugEnabled: false,
		CacheDir:     "",
	}
}

// Close gracefully shuts down the runtime.
// Safe to call multiple times (idempotent).
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Shutting down Wasm runtime")

		r.bridges.Range(func(key, value any) bool {
			if b, ok := value.(*Bridge); ok {
				if closeErr := b.Close(ctx); closeErr != nil {
					r.logger.Warn("Failed to close bridge",
						zap.String("bridge_id", key.(string)),
						zap.Error(closeErr),
					)
				}
			}
			return true
		})

		// Closes every compiled module too.
		err = r.runtime.Close(ctx)

		close(r.closed)
		r.logger.Info("Wasm runtime shutdown complete")
	})

	return err
}

// GetCompiledModule retrieves a compiled module from cache.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	if val, ok := r.modules.Load(name); ok {
		if mod, ok := val.(*CompiledModule); ok {
			return mod, true
		}
	}
	return nil, false
}

// StoreCompiledModule stores a compiled module in cache.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// ActiveBridge returns the bridge currently running on r, if any.
func (r *Runtime) ActiveBridge() (*Bridge, bool) {
	var found *Bridge
	r.bridges.Range(func(_, value any) bool {
		found, _ = value.(*Bridge)
		return found == nil
	})
	return found, found != nil
}

func (r *Runtime) trackBridge(b *Bridge) {
	r.bridges.Store(b.ID, b)
}

func (r *Runtime) forgetBridge(id string) {
	r.bridges.Delete(id)
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
