// Package cachexconfig loads the connection settings for cachex's remote
// storage backends (Redis, Memcached, Mongo) and their default TTLs from
// a TOML file, environment variables, and built-in defaults, layered with
// viper + go-viper/mapstructure/v2 + pelletier/go-toml/v2.
package cachexconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// DefaultConfigFilename is the config file name searched for in the
// current directory and $HOME/.cachex.
const DefaultConfigFilename = "cachex.toml"

var configPtr atomic.Pointer[Config]
var loadedConfigFile atomic.Value

// Get returns the current Config, defaulting to DefaultConfig if none has
// been loaded yet. Safe for concurrent use.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

func set(cfg *Config) { configPtr.Store(cfg) }

// Config is the top-level connection and default-TTL configuration for
// cachex's remote storage backends.
type Config struct {
	Defaults  DefaultsConfig  `mapstructure:"defaults"  toml:"defaults"`
	Redis     RedisConfig     `mapstructure:"redis"     toml:"redis"`
	Memcached MemcachedConfig `mapstructure:"memcached" toml:"memcached"`
	Mongo     MongoConfig     `mapstructure:"mongo"     toml:"mongo"`
	File      FileConfig      `mapstructure:"file"      toml:"file"`
}

// DefaultsConfig holds default decorator settings loaded and validated
// with the rest of Config. Nothing in this module applies them to
// decorators or backends; valuecache options are set per decorator.
type DefaultsConfig struct {
	ExpiresIn       time.Duration `mapstructure:"expires_in"       toml:"expires_in"`
	AllowConcurrent bool          `mapstructure:"allow_concurrent" toml:"allow_concurrent"`
}

// RedisConfig configures the Redis storage factory.
type RedisConfig struct {
	URL       string `mapstructure:"url"        toml:"url"`
	KeyPrefix string `mapstructure:"key_prefix" toml:"key_prefix"`
	KeyRef    string `mapstructure:"key_ref"    toml:"key_ref"`
}

// MemcachedConfig configures the Memcached storage factory.
type MemcachedConfig struct {
	Servers   []string `mapstructure:"servers"    toml:"servers"`
	KeyPrefix string   `mapstructure:"key_prefix" toml:"key_prefix"`
}

// MongoConfig configures the Mongo storage factory, including the
// truncated-exponential-backoff retry parameters.
type MongoConfig struct {
	URI         string        `mapstructure:"uri"          toml:"uri"`
	Database    string        `mapstructure:"database"     toml:"database"`
	Collection  string        `mapstructure:"collection"   toml:"collection"`
	KeyPrefix   string        `mapstructure:"key_prefix"   toml:"key_prefix"`
	KeyRef      string        `mapstructure:"key_ref"      toml:"key_ref"`
	BaseBackoff time.Duration `mapstructure:"base_backoff" toml:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"  toml:"max_backoff"`
	MaxFailures int           `mapstructure:"max_failures" toml:"max_failures"`
}

// FileConfig configures the filesystem storage factory.
type FileConfig struct {
	Root      string `mapstructure:"root"       toml:"root"`
	KeyPrefix string `mapstructure:"key_prefix" toml:"key_prefix"`
}

// DefaultConfig returns the built-in configuration used when no file or
// environment override is present.
func DefaultConfig() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			ExpiresIn:       0,
			AllowConcurrent: true,
		},
		Redis: RedisConfig{
			URL:       "redis://localhost:6379/0",
			KeyPrefix: "cachex",
		},
		Memcached: MemcachedConfig{
			Servers:   []string{"localhost:11211"},
			KeyPrefix: "cachex",
		},
		Mongo: MongoConfig{
			URI:         "mongodb://localhost:27017",
			Database:    "cachex",
			Collection:  "cachex",
			KeyPrefix:   "cachex",
			BaseBackoff: 8 * time.Millisecond,
			MaxBackoff:  512 * time.Millisecond,
			MaxFailures: 4,
		},
		File: FileConfig{
			Root:      ".cachex",
			KeyPrefix: "cachex",
		},
	}
}

// Load reads configuration with the following precedence: environment
// variables (CACHEX_ prefix, "_" as separator) override the file at
// explicitPath (or ./cachex.toml / $HOME/.cachex/cachex.toml), which
// overrides DefaultConfig. The result is validated and stored globally.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setViperDefaults(v)

	v.SetEnvPrefix("CACHEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cachex"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("cachex")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("cachexconfig: reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("cachexconfig: unmarshalling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Mongo.MaxFailures < 0 {
		return fmt.Errorf("cachexconfig: mongo.max_failures must be >= 0")
	}
	if cfg.Mongo.BaseBackoff < 0 || cfg.Mongo.MaxBackoff < 0 {
		return fmt.Errorf("cachexconfig: mongo backoff durations must be >= 0")
	}
	if cfg.Defaults.ExpiresIn < 0 {
		return fmt.Errorf("cachexconfig: defaults.expires_in must be >= 0")
	}
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if none was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// ExportConfig writes the current config to path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cachexconfig: marshalling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("defaults.expires_in", d.Defaults.ExpiresIn)
	v.SetDefault("defaults.allow_concurrent", d.Defaults.AllowConcurrent)

	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("redis.key_ref", d.Redis.KeyRef)

	v.SetDefault("memcached.servers", d.Memcached.Servers)
	v.SetDefault("memcached.key_prefix", d.Memcached.KeyPrefix)

	v.SetDefault("mongo.uri", d.Mongo.URI)
	v.SetDefault("mongo.database", d.Mongo.Database)
	v.SetDefault("mongo.collection", d.Mongo.Collection)
	v.SetDefault("mongo.key_prefix", d.Mongo.KeyPrefix)
	v.SetDefault("mongo.key_ref", d.Mongo.KeyRef)
	v.SetDefault("mongo.base_backoff", d.Mongo.BaseBackoff)
	v.SetDefault("mongo.max_backoff", d.Mongo.MaxBackoff)
	v.SetDefault("mongo.max_failures", d.Mongo.MaxFailures)

	v.SetDefault("file.root", d.File.Root)
	v.SetDefault("file.key_prefix", d.File.KeyPrefix)
}
