package openssl

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/wasm-openssl/config"
	"github.com/wippyai/wasm-openssl/engine"
	"github.com/wippyai/wasm-openssl/errors"
	"github.com/wippyai/wasm-openssl/metrics"
)

const loadKey = "load"

// Source returns the module binary.
type Source func(ctx context.Context) ([]byte, error)

// loaderConfig holds configuration for the Loader.
type loaderConfig struct {
	source      Source
	hostModules []engine.HostModule
	logger      *zap.Logger
	registerer  prometheus.Registerer
	retry       bool
}

// LoaderOption configures the Loader.
type LoaderOption func(*loaderConfig)

// WithSource sets where the module binary comes from.
func WithSource(src Source) LoaderOption {
	return func(c *loaderConfig) {
		c.source = src
	}
}

// WithModuleBytes loads the module from an in-memory binary.
func WithModuleBytes(b []byte) LoaderOption {
	return WithSource(func(context.Context) ([]byte, error) {
		return b, nil
	})
}

// WithModuleFile loads the module from path, overriding the configured
// module path.
func WithModuleFile(path string) LoaderOption {
	return WithSource(fileSource(path))
}

// WithHostModule registers host functions the module imports.
func WithHostModule(h engine.HostModule) LoaderOption {
	return func(c *loaderConfig) {
		c.hostModules = append(c.hostModules, h)
	}
}

// WithLogger sets the loader's logger. Modules it loads log through it too.
func WithLogger(l *zap.Logger) LoaderOption {
	return func(c *loaderConfig) {
		c.logger = l
	}
}

// WithMetrics registers arena and operation metrics with reg.
func WithMetrics(reg prometheus.Registerer) LoaderOption {
	return func(c *loaderConfig) {
		c.registerer = reg
	}
}

// WithRetryFailedLoad overrides the configured failure policy. When false,
// the first failed load is returned by every later Load.
func WithRetryFailedLoad(retry bool) LoaderOption {
	return func(c *loaderConfig) {
		c.retry = retry
	}
}

// Loader instantiates the module once and hands the same Module to every
// caller. Concurrent Load calls share a single instantiation.
type Loader struct {
	cfg     config.Config
	opts    loaderConfig
	metrics *metrics.Metrics
	group   singleflight.Group

	mu     sync.Mutex
	mod    *Module
	engine *engine.Engine
	err    error
	// gen advances on Close; a load started before it discards its result.
	gen uint64
}

// NewLoader creates a loader. Nothing is loaded until the first Load.
func NewLoader(cfg config.Config, opts ...LoaderOption) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lc := loaderConfig{
		retry: cfg.RetryFailedLoad,
	}
	if cfg.ModulePath != "" {
		lc.source = fileSource(cfg.ModulePath)
	}
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.logger == nil {
		lc.logger = Logger()
	}

	m, err := metrics.New(lc.registerer)
	if err != nil {
		return nil, err
	}

	return &Loader{cfg: cfg, opts: lc, metrics: m}, nil
}

// Load returns the loaded module, instantiating it on first use.
//
// Instantiation is not tied to ctx: a caller that gives up gets ctx.Err()
// while the load carries on for everyone else. After a failure the next
// Load tries again unless retrying was disabled.
func (l *Loader) Load(ctx context.Context) (*Module, error) {
	l.mu.Lock()
	if l.mod != nil {
		mod := l.mod
		l.mu.Unlock()
		return mod, nil
	}
	if l.err != nil {
		err := l.err
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	ch := l.group.DoChan(loadKey, func() (any, error) {
		return l.load(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Module), nil
	}
}

// Loaded reports whether a module is ready.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mod != nil
}

// Close releases the module and its runtime. A later Load starts over.
// A load still in flight is discarded when it finishes.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.gen++
	l.group.Forget(loadKey)

	var err error
	if l.mod != nil {
		err = l.mod.Close(ctx)
		l.mod = nil
	}
	if l.engine != nil {
		if cerr := l.engine.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
		l.engine = nil
	}
	l.err = nil
	return err
}

// load runs inside the single flight.
func (l *Loader) load(ctx context.Context) (*Module, error) {
	l.mu.Lock()
	if l.mod != nil {
		mod := l.mod
		l.mu.Unlock()
		return mod, nil
	}
	if l.err != nil {
		err := l.err
		l.mu.Unlock()
		return nil, err
	}
	gen := l.gen
	l.mu.Unlock()

	log := l.opts.logger
	start := time.Now()

	mod, eng, err := l.instantiate(ctx)
	l.metrics.ObserveLoad(err)

	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.gen {
		if eng != nil {
			_ = eng.Close(ctx)
		}
		log.Debug("load discarded after Close")
		return nil, errors.New(errors.PhaseLoad, errors.KindNotInitialized).
			Detail("loader closed during load").
			Cause(err).
			Build()
	}

	if err != nil {
		log.Warn("module load failed",
			zap.Error(err),
			zap.Bool("retry", l.opts.retry))
		if !l.opts.retry {
			l.err = err
		}
		return nil, err
	}

	l.mod = mod
	l.engine = eng
	log.Info("module loaded",
		zap.String("name", l.cfg.ModuleName),
		zap.Duration("elapsed", time.Since(start)))
	return mod, nil
}

func (l *Loader) instantiate(ctx context.Context) (*Module, *engine.Engine, error) {
	if l.opts.source == nil {
		return nil, nil, errors.Load("no module configured; set "+config.Prefix+"_MODULE_PATH", nil)
	}
	wasmBytes, err := l.opts.source(ctx)
	if err != nil {
		return nil, nil, errors.Load("read module", err)
	}

	eng, err := engine.New(ctx, l.cfg.Engine())
	if err != nil {
		return nil, nil, err
	}

	mod, err := l.build(ctx, eng, wasmBytes)
	if err != nil {
		_ = eng.Close(ctx)
		return nil, nil, err
	}
	return mod, eng, nil
}

func (l *Loader) build(ctx context.Context, eng *engine.Engine, wasmBytes []byte) (*Module, error) {
	for _, h := range l.opts.hostModules {
		if err := eng.RegisterHostModule(ctx, h); err != nil {
			return nil, err
		}
	}

	compiled, err := eng.Compile(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}
	inst, err := compiled.Instantiate(ctx)
	if err != nil {
		return nil, err
	}
	l.opts.logger.Debug("module instantiated",
		zap.String("name", inst.Name()),
		zap.Int("bytes", len(wasmBytes)))

	return newModule(inst, l.metrics, l.opts.logger)
}

func fileSource(path string) Source {
	return func(context.Context) ([]byte, error) {
		return os.ReadFile(path)
	}
}

var defaultLoader = sync.OnceValues(func() (*Loader, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	return NewLoader(cfg, WithMetrics(prometheus.DefaultRegisterer))
})

// Load returns the process-wide module, configured from the environment
// (see package config). The first call instantiates it.
func Load(ctx context.Context) (*Module, error) {
	l, err := defaultLoader()
	if err != nil {
		return nil, err
	}
	return l.Load(ctx)
}
