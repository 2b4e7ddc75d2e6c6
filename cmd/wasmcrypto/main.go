package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-openssl/config"
	"github.com/wippyai/wasm-openssl/engine"
	"github.com/wippyai/wasm-openssl/internal/emulator"
	"github.com/wippyai/wasm-openssl/openssl"
)

func main() {
	var (
		wasmFile    = pflag.String("module", "", "Path to the OpenSSL wasm module (default $WASMCRYPTO_MODULE_PATH)")
		emulate     = pflag.Bool("emulate", false, "Use the built-in emulated module instead of a wasm file")
		action      = pflag.String("op", actionHash, "Operation: hash, random, encode, decode")
		input       = pflag.String("input", "", "Input text")
		count       = pflag.IntP("bytes", "n", defaultRandomBytes, "Number of random bytes")
		logLevel    = pflag.String("log-level", "", "Log level: debug, info, warn, error (default $WASMCRYPTO_LOG_LEVEL)")
		dumpMetrics = pflag.Bool("metrics", false, "Print metrics to stderr on exit")
		interactive = pflag.BoolP("interactive", "i", false, "Interactive mode with TUI")
	)
	pflag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *wasmFile == "" && cfg.ModulePath == "" && !*emulate {
		fmt.Fprintln(os.Stderr, "Usage: wasmcrypto --module <openssl.wasm> --op hash|random|encode|decode [--input text] [-n count]")
		fmt.Fprintln(os.Stderr, "       wasmcrypto --emulate ...  (built-in emulated module)")
		fmt.Fprintln(os.Stderr, "       wasmcrypto --module <openssl.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	engine.SetLogger(logger)
	openssl.SetLogger(logger)

	reg := prometheus.NewRegistry()
	loader, err := newLoader(cfg, *wasmFile, *emulate, reg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		err = runInteractive(loader, *count)
	} else {
		err = run(context.Background(), loader, os.Stdout, *action, *input, *count)
	}

	if *dumpMetrics {
		if merr := writeMetrics(os.Stderr, reg); merr != nil {
			logger.Warn("write metrics", zap.Error(merr))
		}
	}
	_ = loader.Close(context.Background())

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(cfg.Level())
	zcfg.DisableStacktrace = true
	return zcfg.Build()
}

func newLoader(cfg config.Config, wasmFile string, emulate bool, reg prometheus.Registerer, logger *zap.Logger) (*openssl.Loader, error) {
	opts := []openssl.LoaderOption{
		openssl.WithLogger(logger),
		openssl.WithMetrics(reg),
	}
	switch {
	case emulate:
		opts = append(opts,
			openssl.WithModuleBytes(emulator.Binary()),
			openssl.WithHostModule(emulator.New()))
	case wasmFile != "":
		opts = append(opts, openssl.WithModuleFile(wasmFile))
	}
	return openssl.NewLoader(cfg, opts...)
}

// run loads the module, performs one action and writes the result to w.
// A failed action's error carries the OpenSSL diagnostic on a second line.
func run(ctx context.Context, loader *openssl.Loader, w io.Writer, action, input string, n int) error {
	mod, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load OpenSSL: %w", err)
	}

	res, err := runAction(ctx, mod, action, input, n)
	if err != nil {
		return fmt.Errorf("%w\nOpenSSL: %s", err, lastError(ctx, mod))
	}
	fmt.Fprintln(w, res)
	return nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
