package openssl

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wippyai/wasm-openssl/config"
	"github.com/wippyai/wasm-openssl/errors"
	"github.com/wippyai/wasm-openssl/internal/emulator"
)

func TestLoader_ConcurrentLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	emu := emulator.New()

	var reads atomic.Int32
	loader, err := NewLoader(config.Default(),
		WithSource(func(context.Context) ([]byte, error) {
			reads.Add(1)
			return emulator.Binary(), nil
		}),
		WithHostModule(emu))
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	defer loader.Close(ctx)

	const callers = 16
	mods := make([]*Module, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			mods[i], errs[i] = loader.Load(ctx)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if mods[i] != mods[0] {
			t.Errorf("caller %d got a different module handle", i)
		}
	}
	if got := emu.Initialized(); got != 1 {
		t.Errorf("module initialized %d times, want 1", got)
	}
	if got := reads.Load(); got != 1 {
		t.Errorf("module binary read %d times, want 1", got)
	}

	again, err := loader.Load(ctx)
	if err != nil || again != mods[0] {
		t.Errorf("later Load returned %p, %v; want memoized %p", again, err, mods[0])
	}
	if !loader.Loaded() {
		t.Error("Loaded() = false after successful load")
	}
}

func TestLoader_RetryAfterFailure(t *testing.T) {
	ctx := context.Background()

	var reads atomic.Int32
	loader, err := NewLoader(config.Default(),
		WithSource(func(context.Context) ([]byte, error) {
			if reads.Add(1) == 1 {
				return nil, os.ErrNotExist
			}
			return emulator.Binary(), nil
		}),
		WithHostModule(emulator.New()))
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	defer loader.Close(ctx)

	_, err = loader.Load(ctx)
	if !stderrors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected first load to fail with ErrNotExist, got %v", err)
	}
	if loader.Loaded() {
		t.Error("Loaded() = true after failure")
	}

	mod, err := loader.Load(ctx)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if _, err := mod.Sha256(ctx, "retry"); err != nil {
		t.Errorf("Sha256 after retry failed: %v", err)
	}
}

func TestLoader_FailureMemoized(t *testing.T) {
	ctx := context.Background()

	var reads atomic.Int32
	loader, err := NewLoader(config.Default(),
		WithSource(func(context.Context) ([]byte, error) {
			reads.Add(1)
			return []byte("not wasm"), nil
		}),
		WithRetryFailedLoad(false))
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	defer loader.Close(ctx)

	_, first := loader.Load(ctx)
	if first == nil {
		t.Fatal("expected load to fail")
	}
	_, second := loader.Load(ctx)
	if second != first {
		t.Errorf("second Load returned %v, want memoized %v", second, first)
	}
	if got := reads.Load(); got != 1 {
		t.Errorf("source read %d times, want 1", got)
	}

	// Close clears the memoized failure.
	if err := loader.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_, _ = loader.Load(ctx)
	if got := reads.Load(); got != 2 {
		t.Errorf("source read %d times after Close, want 2", got)
	}
}

func TestLoader_CancelledCaller(t *testing.T) {
	release := make(chan struct{})
	var reads atomic.Int32
	loader, err := NewLoader(config.Default(),
		WithSource(func(context.Context) ([]byte, error) {
			reads.Add(1)
			<-release
			return emulator.Binary(), nil
		}),
		WithHostModule(emulator.New()))
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	defer loader.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := loader.Load(ctx)
		done <- err
	}()

	cancel()
	if err := <-done; !stderrors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Load returned %v, want context.Canceled", err)
	}

	close(release)
	mod, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load after cancelled waiter failed: %v", err)
	}
	if mod == nil {
		t.Fatal("expected module")
	}
	if got := reads.Load(); got != 1 {
		t.Errorf("source read %d times, want 1", got)
	}
}

func TestLoader_NoModuleConfigured(t *testing.T) {
	loader, err := NewLoader(config.Default())
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}

	_, err = loader.Load(context.Background())
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Phase != errors.PhaseLoad {
		t.Fatalf("expected load phase error, got %v", err)
	}
}

func TestLoader_ModuleFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "openssl.wasm")
	if err := os.WriteFile(path, emulator.Binary(), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.ModulePath = path
	loader, err := NewLoader(cfg, WithHostModule(emulator.New()))
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	defer loader.Close(ctx)

	mod, err := loader.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	enc, err := mod.Base64Encode(ctx, "hi")
	if err != nil || enc != "aGk=" {
		t.Errorf("Base64Encode = %q, %v", enc, err)
	}
}

func TestLoader_MissingExport(t *testing.T) {
	loader, err := NewLoader(config.Default(),
		WithModuleBytes(emulator.Build(emulator.Options{Omit: []string{emulator.ExportGetLastError}})),
		WithHostModule(emulator.New()))
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}

	_, err = loader.Load(context.Background())
	if !errors.HasKind(err, errors.KindMissingExport) {
		t.Fatalf("expected missing export, got %v", err)
	}
}

func TestLoader_MissingHostModule(t *testing.T) {
	loader, err := NewLoader(config.Default(), WithModuleBytes(emulator.Binary()))
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}

	_, err = loader.Load(context.Background())
	var missing *errors.MissingImportsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("expected MissingImportsError, got %v", err)
	}
}

func TestNewLoader_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "loud"

	if _, err := NewLoader(cfg); !errors.HasKind(err, errors.KindInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestLoad_DefaultLoaderFromEnv(t *testing.T) {
	t.Setenv("WASMCRYPTO_MODULE_PATH", "")

	_, err := Load(context.Background())
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Phase != errors.PhaseLoad {
		t.Fatalf("expected load phase error without a configured module, got %v", err)
	}
}

func TestLoader_CloseDuringLoad(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	var reads atomic.Int32
	loader, err := NewLoader(config.Default(),
		WithSource(func(context.Context) ([]byte, error) {
			if reads.Add(1) == 1 {
				close(started)
				<-release
			}
			return emulator.Binary(), nil
		}),
		WithHostModule(emulator.New()))
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	defer loader.Close(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := loader.Load(ctx)
		done <- err
	}()

	<-started
	if err := loader.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	close(release)

	if err := <-done; !errors.HasKind(err, errors.KindNotInitialized) {
		t.Fatalf("load interrupted by Close returned %v, want not initialized", err)
	}
	if loader.Loaded() {
		t.Fatal("Loaded() = true after Close; the interrupted load was kept")
	}

	mod, err := loader.Load(ctx)
	if err != nil {
		t.Fatalf("Load after Close failed: %v", err)
	}
	if _, err := mod.Sha256(ctx, "again"); err != nil {
		t.Errorf("Sha256 failed: %v", err)
	}
	if got := reads.Load(); got != 2 {
		t.Errorf("source read %d times, want 2", got)
	}
}
