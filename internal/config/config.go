package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/drafter-wasm/internal/protocol"
	"github.com/woxQAQ/drafter-wasm/internal/wasm"
)

// EnvPrefix prefixes environment overrides, e.g. DRAFTER_ENGINE_PROTOCOL.
const EnvPrefix = "DRAFTER"

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Engine   EngineConfig  `mapstructure:"engine"`
	Wasm     WasmConfig    `mapstructure:"wasm"`
	Tracing  TracingConfig `mapstructure:"tracing"`
}

// EngineConfig locates the engine build. Manifest wins over WasmPath.
type EngineConfig struct {
	// Path to engine.yaml or the directory holding it.
	Manifest string `mapstructure:"manifest"`
	// Bare wasm file, used with Protocol when there is no manifest.
	WasmPath string `mapstructure:"wasm_path"`
	// Calling convention of a bare wasm file: "bitpacked" or "positional".
	Protocol string `mapstructure:"protocol"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Log engine stdout at debug instead of info.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory. Empty keeps compiled code in memory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum live instances.
	MaxInstances int `mapstructure:"max_instances"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// Load reads configuration from defaults, the optional file at configPath and
// DRAFTER_* environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")

	v.SetDefault("engine.manifest", "")
	v.SetDefault("engine.wasm_path", "")
	v.SetDefault("engine.protocol", string(protocol.Bitpacked))

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 512) // 32MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 16)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "drafter")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if _, err := protocol.New(protocol.Version(c.Engine.Protocol)); err != nil {
		return fmt.Errorf("invalid engine.protocol: %w", err)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("invalid tracing.sample_rate %v: must be within [0, 1]", c.Tracing.SampleRate)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// RuntimeConfig converts the wasm section for the runtime.
func (c *Config) RuntimeConfig() *wasm.RuntimeConfig {
	return &wasm.RuntimeConfig{
		MemoryPages:  c.Wasm.MemoryPages,
		DebugEnabled: c.Wasm.Debug,
		CacheDir:     c.Wasm.CacheDir,
		MaxInstances: c.Wasm.MaxInstances,
	}
}
