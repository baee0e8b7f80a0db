package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-host-bridge/internal/bundle"
	"github.com/woxQAQ/wasm-host-bridge/internal/config"
	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
	"github.com/woxQAQ/wasm-host-bridge/internal/wasm"
)

// target is what a run argument resolved to: a bundle manifest or a bare
// module source. A nil source with a nil manifest means the default artifact.
type target struct {
	manifest *bundle.Manifest
	source   wasm.Source
}

// resolveTarget interprets the run argument.
func resolveTarget(arg string, bundles *bundle.Loader, paths []string) (target, error) {
	switch {
	case arg == "":
		return target{}, nil
	case strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://"):
		return target{source: &wasm.HTTPSource{URL: arg}}, nil
	}

	info, err := os.Stat(arg)
	switch {
	case err == nil && info.IsDir():
		m, err := bundle.ParseManifest(arg)
		if err != nil {
			return target{}, err
		}
		return target{manifest: m}, nil
	case err == nil:
		return target{source: &wasm.FileSource{Path: arg}}, nil
	case filepath.Ext(arg) == ".wasm" || strings.ContainsRune(arg, filepath.Separator):
		return target{}, &wasm.FetchError{Source: arg, Err: err}
	}

	m, err := bundles.Find(paths, arg)
	if err != nil {
		return target{}, err
	}
	return target{manifest: m}, nil
}

// run loads the target and drives the window's loop until ctx is done.
func run(ctx context.Context, cfg *config.BridgeConfig, logger *zap.Logger, arg string) error {
	runtime, err := wasm.NewRuntime(ctx, logger, &wasm.RuntimeConfig{
		MemoryPages:  cfg.Wasm.MemoryPages,
		DebugEnabled: cfg.Wasm.Debug,
		CacheDir:     cfg.Wasm.CacheDir,
	})
	if err != nil {
		return err
	}
	defer runtime.Close(context.Background())

	loop := dom.NewLoop(logger, dom.WithFrameRate(cfg.Window.FrameRate))
	defer loop.Close()
	window := dom.NewHeadlessWindow(loop, dom.Viewport{
		Width:      cfg.Window.Width,
		Height:     cfg.Window.Height,
		PixelRatio: cfg.Window.PixelRatio,
	}, logger)

	opts := []wasm.LoaderOption{wasm.WithEnv(wasm.HeadlessEnv(window, cfg.Window.Node, logger))}
	bundles := bundle.NewLoader(runtime, logger, opts...)

	t, err := resolveTarget(arg, bundles, cfg.BundlePaths)
	if err != nil {
		return err
	}

	var bridge *wasm.Bridge
	if t.manifest != nil {
		b, err := bundles.LoadManifest(ctx, t.manifest)
		if err != nil {
			return err
		}
		bridge = b.Bridge
	} else {
		if t.source == nil {
			artifact, err := wasm.DefaultArtifact()
			if err != nil {
				return fmt.Errorf("failed to locate the co-located module: %w", err)
			}
			opts = append(opts, wasm.WithDefaultSource(artifact))
		}
		bridge, err = wasm.NewLoader(runtime, logger, opts...).Init(ctx, t.source)
		if err != nil {
			return err
		}
	}
	defer bridge.Close(context.Background())

	logger.Info("Module running",
		zap.String("bridge_id", bridge.ID),
		zap.Int("pending_callbacks", loop.Pending()),
	)

	err = loop.Run(ctx)
	if ctx.Err() != nil {
		// A deadline or signal is a normal stop, whatever the loop returned.
		err = nil
	}

	logger.Info("Module stopped",
		zap.Int("live_handles", bridge.Heap().Len()),
		zap.Int("pending_callbacks", loop.Pending()),
	)
	return err
}

// list prints the bundles found in the configured paths.
func list(out io.Writer, cfg *config.BridgeConfig, logger *zap.Logger) error {
	manifests, err := bundle.NewLoader(nil, logger).Discover(cfg.BundlePaths)
	for _, m := range manifests {
		fmt.Fprintf(out, "%s\t%s\t%s\n", m.Name, m.Version, m.ArtifactPath())
	}
	if err != nil && len(manifests) > 0 {
		logger.Warn("Skipped invalid bundles", zap.Error(err))
		return nil
	}
	if err == nil && len(manifests) == 0 {
		fmt.Fprintln(out, "no bundles found")
	}
	return err
}
