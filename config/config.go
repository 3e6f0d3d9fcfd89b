package config

import (
	stderrors "errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/lua-threads/errors"
)

// Environment overrides, applied after the config file.
const (
	EnvLogLevel       = "LTHREAD_LOG_LEVEL"
	EnvLogFormat      = "LTHREAD_LOG_FORMAT"
	EnvMaxThreads     = "LTHREAD_MAX_THREADS"
	EnvCallStackSize  = "LTHREAD_CALL_STACK_SIZE"
	EnvRegistrySize   = "LTHREAD_REGISTRY_SIZE"
	EnvMaxRefs        = "LTHREAD_MAX_REFS"
	EnvWasmEnabled    = "LTHREAD_WASM_ENABLED"
	EnvWasmMemPages   = "LTHREAD_WASM_MEMORY_PAGES"
	EnvMetricsEnabled = "LTHREAD_METRICS_ENABLED"
)

// DefaultEnvFile is read when Load is given no env files.
const DefaultEnvFile = ".env"

// Config is the runtime configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Threads     ThreadsConfig     `yaml:"threads"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Wasm        WasmConfig        `yaml:"wasm"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

type ThreadsConfig struct {
	// Max caps live spawned threads. 0 means unlimited.
	Max int `yaml:"max"`
}

type InterpreterConfig struct {
	CallStackSize int `yaml:"call_stack_size"`
	RegistrySize  int `yaml:"registry_size"`
	// MaxRefs caps live value references. 0 means unlimited.
	MaxRefs int `yaml:"max_refs"`
}

type WasmConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MemoryPages uint32 `yaml:"memory_pages"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Wasm: WasmConfig{
			Enabled: true,
		},
	}
}

// Load reads the YAML file at path (skipped when empty), then applies
// environment overrides from envFiles and the process environment, and
// validates the result. Process variables win over env file entries.
// Missing env files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse "+path)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}
	fileEnv := make(map[string]string)
	for _, f := range envFiles {
		vars, err := godotenv.Read(f)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read "+f)
		}
		for k, v := range vars {
			fileEnv[k] = v
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the LTHREAD_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, key)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := cast.ToBoolE(v)
		if err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, key)
		}
		*dst = b
		return nil
	}

	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)

	for key, dst := range map[string]*int{
		EnvMaxThreads:    &c.Threads.Max,
		EnvCallStackSize: &c.Interpreter.CallStackSize,
		EnvRegistrySize:  &c.Interpreter.RegistrySize,
		EnvMaxRefs:       &c.Interpreter.MaxRefs,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}

	if err := boolean(EnvWasmEnabled, &c.Wasm.Enabled); err != nil {
		return err
	}
	if err := boolean(EnvMetricsEnabled, &c.Metrics.Enabled); err != nil {
		return err
	}

	if v, ok := lookup(EnvWasmMemPages); ok && v != "" {
		pages, err := cast.ToUint32E(v)
		if err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, EnvWasmMemPages)
		}
		c.Wasm.MemoryPages = pages
	}
	return nil
}

// Validate rejects negative sizes and unknown log settings.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.InvalidInput(errors.PhaseConfig, "unknown log level "+c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return errors.InvalidInput(errors.PhaseConfig, "unknown log format "+c.Log.Format)
	}

	for name, v := range map[string]int{
		"threads.max":                 c.Threads.Max,
		"interpreter.call_stack_size": c.Interpreter.CallStackSize,
		"interpreter.registry_size":   c.Interpreter.RegistrySize,
		"interpreter.max_refs":        c.Interpreter.MaxRefs,
	} {
		if v < 0 {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Value(v).
				Detail("%s must not be negative", name).
				Build()
		}
	}
	// wazero caps memory at 65536 pages
	if c.Wasm.MemoryPages > 65536 {
		return errors.Limit(errors.PhaseConfig, "wasm.memory_pages", 65536)
	}
	return nil
}

// Logger builds a zap logger: JSON production output or console development
// output, at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}

	var zc zap.Config
	if strings.EqualFold(c.Log.Format, "json") {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
