package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. WASMLLM_WASM_MAX_INSTANCES.
const EnvPrefix = "WASMLLM"

type ServerConfig struct {
	BundlePaths []string    `mapstructure:"bundle_paths"`
	LogLevel    string      `mapstructure:"log_level"`
	Port        int         `mapstructure:"port"` // 0 serves JSON lines on stdio
	Inference   InferConfig `mapstructure:"inference"`
	Wasm        WasmConfig  `mapstructure:"wasm"`
}

// InferConfig holds request handling limits.
type InferConfig struct {
	// Idle instances kept per bundle.
	PoolSize int `mapstructure:"pool_size"`
	// Requests of one batch run concurrently up to this limit.
	BatchConcurrency int `mapstructure:"batch_concurrency"`
	// Upper bound on any request's output capacity.
	MaxCapacity int `mapstructure:"max_capacity"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per instance (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Enable debug logging.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum concurrent instances.
	MaxInstances int `mapstructure:"max_instances"`
	// Per-call execution timeout (seconds).
	ExecutionTimeout int `mapstructure:"execution_timeout"`
}

func LoadServerConfig(configPath string) (*ServerConfig, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("bundle_paths", []string{"./bundles"})
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 0)

	// Inference defaults
	v.SetDefault("inference.pool_size", 4)
	v.SetDefault("inference.batch_concurrency", 4)
	v.SetDefault("inference.max_capacity", 4096)

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 1024) // 64MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "./build/wasm-cache")
	v.SetDefault("wasm.max_instances", 100)
	v.SetDefault("wasm.execution_timeout", 30)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
