// Package config loads the layer configuration from a YAML file, the
// environment and built-in defaults.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/Nathan-Paranhos/AithosRag-sub003/batcher"
	"github.com/Nathan-Paranhos/AithosRag-sub003/cache"
	"github.com/Nathan-Paranhos/AithosRag-sub003/connectivity"
	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/logging"
	"github.com/Nathan-Paranhos/AithosRag-sub003/storage"
	"github.com/Nathan-Paranhos/AithosRag-sub003/syncqueue"
)

// EnvPrefix prefixes environment overrides, e.g. RESILIENCE_CACHE_MAX_SIZE
const EnvPrefix = "RESILIENCE"

// Config is the configuration of the whole layer
type Config struct {
	Logging      logging.Config      `mapstructure:"logging"`
	Storage      StorageConfig       `mapstructure:"storage"`
	Cache        cache.Config        `mapstructure:"cache"`
	Batcher      batcher.Config      `mapstructure:"batcher"`
	Sync         syncqueue.Config    `mapstructure:"sync"`
	Connectivity connectivity.Config `mapstructure:"connectivity"`
	Metrics      MetricsConfig       `mapstructure:"metrics"`
	API          APIConfig           `mapstructure:"api"`
}

// StorageConfig selects the durable backend and the key namespace
type StorageConfig struct {
	storage.Config `mapstructure:",squash"`
	// Namespace prefixes the sync queue key
	Namespace string `mapstructure:"namespace" validate:"required"`
}

// MetricsConfig controls the Prometheus endpoint of resilctl serve
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"required_if=Enabled true"`
}

// APIConfig locates the backend API
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Default returns the built-in configuration
func Default() Config {
	sq := syncqueue.DefaultConfig()
	return Config{
		Logging: logging.DefaultConfig(),
		Storage: StorageConfig{
			Config:    storage.Config{Backend: storage.BackendMemory},
			Namespace: sq.Namespace,
		},
		Cache:        cache.DefaultConfig(),
		Batcher:      batcher.DefaultConfig(),
		Sync:         sq,
		Connectivity: connectivity.DefaultConfig(),
		Metrics:      MetricsConfig{Enabled: true, Listen: ":9090"},
		API:          APIConfig{Timeout: 30 * time.Second},
	}
}

// Load reads configPath (optional) over the defaults and applies
// RESILIENCE_* environment overrides.
//
// Precedence, highest first: environment, file, defaults.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	setDefaults(v, Default())

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills derived values. storage.namespace names the sync
// queue key.
func ApplyDefaults(cfg *Config) {
	if cfg.Storage.Namespace != "" {
		cfg.Sync.Namespace = cfg.Storage.Namespace
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = storage.BackendMemory
	}
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
}

var validate = validator.New()

// Validate checks every section
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return errors.WrapError("Validate", nil, errors.Join(errors.ErrInvalidConfig, err))
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

// decodeHooks parses durations ("30s") and human byte sizes ("10MB") given
// as strings
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		byteSizeDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var durationType = reflect.TypeOf(time.Duration(0))

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(strings.TrimSpace(v))
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// byteSizeDecodeHook treats a string decoded into an int64 field as a byte
// size; the only int64 settings are sizes and quotas
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to == durationType || to.Kind() != reflect.Int64 || from.Kind() != reflect.String {
			return data, nil
		}
		n, err := humanize.ParseBytes(strings.TrimSpace(data.(string)))
		if err != nil {
			return nil, fmt.Errorf("invalid byte size %q: %w", data, err)
		}
		return int64(n), nil
	}
}
