// Package config loads host settings from the environment.
//
// Variables are read with the WASMCRYPTO_ prefix, for example
// WASMCRYPTO_MODULE_PATH, and validated before use.
package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-openssl/engine"
	"github.com/wippyai/wasm-openssl/errors"
)

// Prefix is the environment variable prefix.
const Prefix = "WASMCRYPTO"

// MaxMemoryPages is the wasm32 address space in 64KiB pages.
const MaxMemoryPages = 65536

var validate = validator.New()

// Config holds the settings for loading the OpenSSL module.
type Config struct {
	// ModulePath is the OpenSSL .wasm file.
	ModulePath string `envconfig:"MODULE_PATH" validate:"omitempty,file"`

	// ModuleName names the instance inside the runtime.
	ModuleName string `envconfig:"MODULE_NAME" default:"openssl" validate:"required,max=255"`

	// MemoryLimitPages caps guest memory; 0 keeps the runtime default.
	MemoryLimitPages uint32 `envconfig:"MEMORY_LIMIT_PAGES" validate:"lte=65536"`

	// CacheDir enables the on-disk compilation cache.
	CacheDir string `envconfig:"CACHE_DIR"`

	// RetryFailedLoad lets Load try again after a failed instantiation
	// instead of returning the first failure forever.
	RetryFailedLoad bool `envconfig:"RETRY_FAILED_LOAD" default:"true"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ModuleName:      engine.DefaultModuleName,
		RetryFailedLoad: true,
		LogLevel:        "info",
	}
}

// FromEnv reads and validates the configuration from the environment.
func FromEnv() (Config, error) {
	c := Config{}
	if err := envconfig.Process(Prefix, &c); err != nil {
		return Config{}, errors.InvalidConfig("read environment", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.InvalidConfig("config validation failed", err)
	}
	return nil
}

// Engine returns the engine settings.
func (c Config) Engine() *engine.Config {
	return &engine.Config{
		ModuleName:          c.ModuleName,
		CompilationCacheDir: c.CacheDir,
		MemoryLimitPages:    c.MemoryLimitPages,
	}
}

// Level returns the zap level for LogLevel, defaulting to info.
func (c Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
