package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/emscripten"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-openssl/errors"
)

const (
	wasiModule       = wasi_snapshot_preview1.ModuleName
	emscriptenModule = "env"
)

// resolveImports makes sure every module the guest imports from exists in
// the runtime. WASI and the emscripten "env" helpers are provided on demand;
// anything else must come from a registered host module.
func (e *Engine) resolveImports(ctx context.Context, compiled wazero.CompiledModule) error {
	var missing []string
	needWASI, needEnv := false, false

	for _, def := range compiled.ImportedFunctions() {
		modName, name, isImport := def.Import()
		if !isImport {
			continue
		}
		if _, ok := e.hostModules[modName]; ok {
			continue
		}
		switch modName {
		case wasiModule:
			needWASI = true
		case emscriptenModule:
			needEnv = true
		default:
			missing = append(missing, modName+"#"+name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.New(errors.PhaseInstantiate, errors.KindMissingImport).
			Detail("resolve imports").
			Cause(errors.NewMissingImportsError(missing)).
			Build()
	}

	if needWASI {
		if err := e.InitWASI(ctx); err != nil {
			return err
		}
	}
	if needEnv && e.runtime.Module(emscriptenModule) == nil {
		if _, err := emscripten.InstantiateForModule(ctx, e.runtime, compiled); err != nil {
			return errors.Instantiation("instantiate emscripten env", err)
		}
		Logger().Debug("emscripten env instantiated")
	}
	return nil
}

// InitWASI instantiates the WASI preview1 host module once per engine.
func (e *Engine) InitWASI(ctx context.Context) error {
	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone {
		return nil
	}

	if e.runtime.Module(wasiModule) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
			return errors.Instantiation(fmt.Sprintf("instantiate %s", wasiModule), err)
		}
		Logger().Debug("WASI instantiated", zap.String("module", wasiModule))
	}

	e.wasiInitDone = true
	return nil
}
