package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. BRIDGE_WASM_MEMORY_PAGES.
const EnvPrefix = "BRIDGE"

type BridgeConfig struct {
	BundlePaths []string     `mapstructure:"bundle_paths"`
	LogLevel    string       `mapstructure:"log_level"`
	Wasm        WasmConfig   `mapstructure:"wasm"`
	Window      WindowConfig `mapstructure:"window"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Log every host import call.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory. Empty keeps the cache in memory.
	CacheDir string `mapstructure:"cache_dir"`
}

// WindowConfig describes the headless environment served to the module.
type WindowConfig struct {
	Width      float64 `mapstructure:"width"`
	Height     float64 `mapstructure:"height"`
	PixelRatio float64 `mapstructure:"pixel_ratio"`
	// Animation frames per second. Zero or less runs frames unpaced.
	FrameRate float64 `mapstructure:"frame_rate"`
	// Expose the node-style process and require globals.
	Node bool `mapstructure:"node"`
}

func LoadBridgeConfig(configPath string) (*BridgeConfig, error) {
	v := viper.New()

	v.SetDefault("bundle_paths", []string{"./bundles"})
	v.SetDefault("log_level", "info")

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 16384) // 1GB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")

	// Window defaults
	v.SetDefault("window.width", 1280)
	v.SetDefault("window.height", 720)
	v.SetDefault("window.pixel_ratio", 1)
	v.SetDefault("window.frame_rate", 60)
	v.SetDefault("window.node", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg BridgeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
