package wasm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wbg "github.com/woxQAQ/wasm-host-bridge/api/wasm"
)

// errRuntimeBusy is returned when a second bridge is instantiated on a
// runtime that already serves the import namespace.
var errRuntimeBusy = errors.New("runtime already hosts a running bridge")

// resolveImports matches every function the module imports against the
// catalogue and the closure shapes. The first import that cannot be served
// aborts the load.
func (b *Bridge) resolveImports(compiled wazero.CompiledModule, catalogue *Catalogue) (map[string]ImportBinding, error) {
	resolved := make(map[string]ImportBinding)
	for _, def := range compiled.ImportedFunctions() {
		modName, name, _ := def.Import()
		params, results := def.ParamTypes(), def.ResultTypes()

		if modName != wbg.ImportModule {
			return nil, unknownImport(modName, name, params, results)
		}

		var ib ImportBinding
		if strings.HasPrefix(name, wbg.ClosureWrapperPrefix) {
			if _, ok := b.shapes[name]; !ok {
				return nil, unknownImport(modName, name, params, results)
			}
			ib = closureWrapper(name)
			if !ib.matches(params, results) {
				return nil, unknownImport(modName, name, params, results)
			}
		} else {
			var ok bool
			ib, ok = catalogue.Resolve(name, params, results)
			if !ok {
				return nil, unknownImport(modName, name, params, results)
			}
		}
		resolved[name] = ib
	}
	return resolved, nil
}

func unknownImport(modName, name string, params, results []api.ValueType) *UnknownImportError {
	return &UnknownImportError{
		Module:    modName,
		Name:      name,
		Signature: formatSignature(valueTypeNames(params), valueTypeNames(results)),
	}
}

func valueTypeNames(types []api.ValueType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return names
}

// instantiate links the host import module and the guest, then binds the
// exports the bridge relies on. The start export is not called here.
func (b *Bridge) instantiate(ctx context.Context, compiled *CompiledModule, catalogue *Catalogue) error {
	rt := b.runtime.runtime

	if _, busy := b.runtime.ActiveBridge(); busy || rt.Module(wbg.ImportModule) != nil {
		return &InstantiationError{ModuleName: compiled.Name, InstanceID: b.ID, Err: errRuntimeBusy}
	}

	resolved, err := b.resolveImports(compiled.Module, catalogue)
	if err != nil {
		return err
	}

	b.logger.Info("Instantiating Wasm module",
		zap.String("module", compiled.Name),
		zap.Int("imports", len(resolved)),
	)

	// Build host module with the resolved imports, exported under the exact
	// names the guest declares.
	hostBuilder := rt.NewHostModuleBuilder(wbg.ImportModule)
	for _, def := range compiled.Module.ImportedFunctions() {
		_, name, _ := def.Import()
		hostBuilder.NewFunctionBuilder().
			WithGoModuleFunction(b.hostFunc(name, resolved[name]), def.ParamTypes(), def.ResultTypes()).
			WithName(name).
			Export(name)
	}

	hostModule, err := hostBuilder.Instantiate(ctx)
	if err != nil {
		return &InstantiationError{ModuleName: compiled.Name, InstanceID: b.ID,
			Err: fmt.Errorf("host module %s: %w", wbg.ImportModule, err)}
	}
	b.hostModule = hostModule

	// The entry point is invoked explicitly once exports are bound.
	moduleConfig := wazero.NewModuleConfig().
		WithName(b.ID).
		WithStartFunctions()

	mod, err := rt.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		_ = hostModule.Close(ctx)
		b.hostModule = nil
		return &InstantiationError{ModuleName: compiled.Name, InstanceID: b.ID, Err: err}
	}
	b.module = mod

	if err := b.bindExports(); err != nil {
		_ = mod.Close(ctx)
		_ = hostModule.Close(ctx)
		b.module, b.hostModule = nil, nil
		return err
	}

	b.runtime.trackBridge(b)

	b.logger.Info("Module instantiated successfully",
		zap.String("module", compiled.Name),
		zap.Uint32("memory_bytes", mod.ExportedMemory(wbg.ExportMemory).Size()),
	)
	return nil
}

// bindExports caches the allocator, exception and entry point exports and
// sets up the memory views over the exported memory.
func (b *Bridge) bindExports() error {
	mem := b.module.ExportedMemory(wbg.ExportMemory)
	if mem == nil {
		return &FunctionNotFoundError{ModuleName: b.ID, FunctionName: wbg.ExportMemory}
	}

	b.exports = exports{
		malloc:   b.module.ExportedFunction(wbg.ExportMalloc),
		realloc:  b.module.ExportedFunction(wbg.ExportRealloc),
		free:     b.module.ExportedFunction(wbg.ExportFree),
		exnStore: b.module.ExportedFunction(wbg.ExportExnStore),
		start:    b.module.ExportedFunction(wbg.ExportStart),
	}
	if b.exports.malloc == nil {
		return &FunctionNotFoundError{ModuleName: b.ID, FunctionName: wbg.ExportMalloc}
	}

	b.views = NewViewCache(memoryBuffer(mem))
	b.marshal = NewMarshaller(b.views, optionalFunc(b.exports.malloc),
		optionalFunc(b.exports.realloc), optionalFunc(b.exports.free))

	b.logger.Debug("Exports bound",
		zap.Bool("realloc", b.exports.realloc != nil),
		zap.Bool("free", b.exports.free != nil),
		zap.Bool("exn_store", b.exports.exnStore != nil),
		zap.Bool("start", b.exports.start != nil),
	)
	return nil
}

// optionalFunc keeps a missing export a nil guestFunc.
func optionalFunc(fn api.Function) guestFunc {
	if fn == nil {
		return nil
	}
	return fn
}
