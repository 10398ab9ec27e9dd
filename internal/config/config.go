// Package config loads SDK, storage, tracing and mock server settings from
// a YAML file overlaid by TESTERNEST_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is read when Load is given an empty path.
const DefaultPath = "testernest.yaml"

// EnvPrefix prefixes every environment override. Double underscores
// separate levels: TESTERNEST_SDK__PUBLIC_KEY sets sdk.public_key.
const EnvPrefix = "TESTERNEST_"

// Storage types.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

type Config struct {
	SDK     SDKConfig     `koanf:"sdk"`
	Storage StorageConfig `koanf:"storage"`
	Tracing TracingConfig `koanf:"tracing"`
	Mock    MockConfig    `koanf:"mock"`
}

type SDKConfig struct {
	BaseURL       string          `koanf:"base_url"`
	PublicKey     string          `koanf:"public_key"`
	EnableLogs    bool            `koanf:"enable_logs"`
	FlushInterval time.Duration   `koanf:"flush_interval"`
	Threshold     int             `koanf:"threshold"`
	BatchSize     int             `koanf:"batch_size"`
	RetryDelays   []time.Duration `koanf:"retry_delays"`
	Timeout       time.Duration   `koanf:"timeout"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// MockConfig configures the development ingest server.
type MockConfig struct {
	Port            int           `koanf:"port"`
	SigningSecret   string        `koanf:"signing_secret"`
	TokenTTL        time.Duration `koanf:"token_ttl"`
	PublicKeyHashes []string      `koanf:"public_key_hashes"`
	ConnectCodes    []string      `koanf:"connect_codes"`
	EnableAdmin     bool          `koanf:"enable_admin"`
}

// Load reads path (DefaultPath when empty), then environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	setDefaults(k)

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.SDK.PublicKey = substituteEnvVars(cfg.SDK.PublicKey)
	cfg.SDK.BaseURL = substituteEnvVars(cfg.SDK.BaseURL)
	cfg.Mock.SigningSecret = substituteEnvVars(cfg.Mock.SigningSecret)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"sdk.flush_interval":   "12s",
		"sdk.threshold":        10,
		"sdk.batch_size":       50,
		"sdk.timeout":          "15s",
		"storage.type":         StorageMemory,
		"storage.sqlite.path":  "testernest.db",
		"tracing.service_name": "testernest",
		"mock.port":            8787,
		"mock.token_ttl":       "1h",
	}
	for key, v := range defaults {
		k.Set(key, v)
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case StorageMemory, StorageSQLite:
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Storage.Type == StorageSQLite && c.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path is required for sqlite storage")
	}
	if c.SDK.Threshold <= 0 || c.SDK.BatchSize <= 0 {
		return fmt.Errorf("sdk.threshold and sdk.batch_size must be positive")
	}
	if c.SDK.FlushInterval <= 0 {
		return fmt.Errorf("sdk.flush_interval must be positive")
	}
	for _, d := range c.SDK.RetryDelays {
		if d < 0 {
			return fmt.Errorf("sdk.retry_delays must not be negative")
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
