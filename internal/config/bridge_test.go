package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBridgeConfigDefaults(t *testing.T) {
	cfg, err := LoadBridgeConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Default log level mismatch: got %s, want info", cfg.LogLevel)
	}

	if len(cfg.BundlePaths) != 1 || cfg.BundlePaths[0] != "./bundles" {
		t.Errorf("Default bundle paths mismatch: got %v, want [./bundles]", cfg.BundlePaths)
	}

	if cfg.Wasm.MemoryPages != 16384 {
		t.Errorf("Default memory pages mismatch: got %d, want 16384", cfg.Wasm.MemoryPages)
	}

	if cfg.Wasm.CacheDir != "" {
		t.Errorf("Compilation cache should default to memory, got %q", cfg.Wasm.CacheDir)
	}

	if cfg.Window.Width != 1280 || cfg.Window.Height != 720 || cfg.Window.PixelRatio != 1 {
		t.Errorf("Default window mismatch: got %+v", cfg.Window)
	}

	if cfg.Window.FrameRate != 60 {
		t.Errorf("Default frame rate mismatch: got %v, want 60", cfg.Window.FrameRate)
	}
}

func TestLoadBridgeConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge-config.yaml")
	configContent := `
log_level: debug
bundle_paths:
  - /srv/bundles
  - ./local
wasm:
  memory_pages: 512
  debug: true
window:
  width: 800
  node: true
`
	if err := os.WriteFile(path, []byte(configContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadBridgeConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("Log level mismatch: got %s, want debug", cfg.LogLevel)
	}

	if len(cfg.BundlePaths) != 2 || cfg.BundlePaths[0] != "/srv/bundles" {
		t.Errorf("Bundle paths mismatch: got %v", cfg.BundlePaths)
	}

	if cfg.Wasm.MemoryPages != 512 || !cfg.Wasm.Debug {
		t.Errorf("Wasm config mismatch: got %+v", cfg.Wasm)
	}

	if cfg.Window.Width != 800 || cfg.Window.Height != 720 || !cfg.Window.Node {
		t.Errorf("Window config mismatch: got %+v", cfg.Window)
	}
}

func TestLoadBridgeConfigEnvOverride(t *testing.T) {
	t.Setenv("BRIDGE_LOG_LEVEL", "warn")
	t.Setenv("BRIDGE_WASM_MEMORY_PAGES", "256")
	t.Setenv("BRIDGE_WINDOW_FRAME_RATE", "30")

	cfg, err := LoadBridgeConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("Log level mismatch: got %s, want warn", cfg.LogLevel)
	}

	if cfg.Wasm.MemoryPages != 256 {
		t.Errorf("Memory pages mismatch: got %d, want 256", cfg.Wasm.MemoryPages)
	}

	if cfg.Window.FrameRate != 30 {
		t.Errorf("Frame rate mismatch: got %v, want 30", cfg.Window.FrameRate)
	}
}

func TestLoadBridgeConfigMissingFile(t *testing.T) {
	_, err := LoadBridgeConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
