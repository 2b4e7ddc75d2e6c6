package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-openssl/errors"
)

// DefaultModuleName is the instance name used when Config.ModuleName is empty.
const DefaultModuleName = "openssl"

// Initializers are exports called once after instantiation, first match
// wins. Reactor builds export _initialize; older emscripten builds only
// export __wasm_call_ctors.
var Initializers = []string{"_initialize", "__wasm_call_ctors"}

// Config holds configuration for engine creation
type Config struct {
	// ModuleName names the guest instance inside the runtime.
	ModuleName string

	// CompilationCacheDir enables wazero's on-disk compilation cache.
	// Empty means compile in memory on every process start.
	CompilationCacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 2048 = 128MB, the OpenSSL build's initial memory.
	MemoryLimitPages uint32
}

// HostModule is a set of host functions the guest imports. It is
// instantiated into the runtime before the guest.
type HostModule interface {
	Name() string
	Instantiate(ctx context.Context, r wazero.Runtime) error
}

// Engine owns one wazero runtime. The foreign module lives inside it for the
// engine's lifetime.
type Engine struct {
	runtime      wazero.Runtime
	cache        wazero.CompilationCache
	hostModules  map[string]struct{}
	moduleName   string
	wasiInitMu   sync.Mutex
	wasiInitDone bool
}

// New creates a new wazero-based engine
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	name := DefaultModuleName

	var cache wazero.CompilationCache
	if cfg != nil {
		if cfg.ModuleName != "" {
			name = cfg.ModuleName
		}
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.CompilationCacheDir != "" {
			c, err := wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "open compilation cache")
			}
			cache = c
			runtimeCfg = runtimeCfg.WithCompilationCache(c)
		}
	}

	return &Engine{
		runtime:     wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cache:       cache,
		hostModules: make(map[string]struct{}),
		moduleName:  name,
	}, nil
}

// Close releases the runtime, every module in it, and the compilation cache.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cerr := e.cache.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// RegisterHostModule instantiates h in the runtime so the guest can import it.
// Must be called before Instantiate.
func (e *Engine) RegisterHostModule(ctx context.Context, h HostModule) error {
	if err := h.Instantiate(ctx, e.runtime); err != nil {
		return errors.Instantiation(fmt.Sprintf("host module %q", h.Name()), err)
	}
	e.hostModules[h.Name()] = struct{}{}
	Logger().Debug("host module registered", zap.String("module", h.Name()))
	return nil
}

// Compile validates and compiles a core WebAssembly module.
func (e *Engine) Compile(ctx context.Context, wasmBytes []byte) (*Module, error) {
	if len(wasmBytes) == 0 {
		return nil, errors.Load("empty module binary", nil)
	}
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "compile module")
	}
	return &Module{engine: e, compiled: compiled}, nil
}

// Module is a compiled, not yet instantiated, guest.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

// Instantiate resolves the guest's imports, instantiates it, and runs its
// initializer. The engine supports one instance per module name.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	if err := m.engine.resolveImports(ctx, m.compiled); err != nil {
		return nil, err
	}

	modConfig := wazero.NewModuleConfig().
		WithName(m.engine.moduleName).
		WithRandSource(rand.Reader).
		WithSysWalltime().
		WithSysNanotime().
		WithStartFunctions()

	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, errors.Instantiation("instantiate module", err)
	}

	for _, name := range Initializers {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			continue
		}
		if _, err := fn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, errors.Instantiation(fmt.Sprintf("run %s", name), err)
		}
		Logger().Debug("module initialized", zap.String("initializer", name))
		break
	}

	inst := &Instance{module: mod}
	if mem := mod.Memory(); mem != nil {
		inst.memory = &Memory{mem: mem}
	}
	inst.alloc = newAllocator(mod.ExportedFunction(MallocExport), mod.ExportedFunction(FreeExport))
	return inst, nil
}

// Instance is a running guest.
// It is NOT safe for concurrent use from multiple goroutines; callers
// serialize access to its memory and allocator.
type Instance struct {
	module api.Module
	memory *Memory
	alloc  *Allocator
}

// Memory returns the guest's exported linear memory, or nil if it has none.
func (i *Instance) Memory() *Memory {
	return i.memory
}

// Allocator returns the allocator backed by the guest's malloc/free.
func (i *Instance) Allocator() *Allocator {
	return i.alloc
}

// ExportedFunction returns an exported function by name, or nil.
func (i *Instance) ExportedFunction(name string) api.Function {
	return i.module.ExportedFunction(name)
}

// Name returns the instance name inside the runtime.
func (i *Instance) Name() string {
	return i.module.Name()
}

// Close closes the guest instance. The engine stays usable.
func (i *Instance) Close(ctx context.Context) error {
	if i.module == nil {
		return nil
	}
	err := i.module.Close(ctx)
	i.module = nil
	i.memory = nil
	i.alloc = nil
	return err
}
