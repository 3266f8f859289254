package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/jcdickinson/cratedoc/internal/walker"
)

type BuildConfig struct {
	Strict     bool   `mapstructure:"strict"`
	Workers    int    `mapstructure:"workers"`
	LinkScheme string `mapstructure:"link_scheme"`
}

type DaemonConfig struct {
	ExpirationSeconds int `mapstructure:"expiration_seconds"`
}

type StoreConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type CacheConfig struct {
	Entries int `mapstructure:"entries"`
}

type Config struct {
	Build  BuildConfig   `mapstructure:"build"`
	Daemon DaemonConfig  `mapstructure:"daemon"`
	Store  StoreConfig   `mapstructure:"store"`
	Cache  CacheConfig   `mapstructure:"cache"`
	Crates []walker.Root `mapstructure:"crates"`
}

// cacheBase returns the base cache directory for cratedoc.
// Checks XDG_CACHE_HOME, then ~/.cache, then /tmp/cratedoc as fallback.
func cacheBase() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "cratedoc")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "cratedoc")
	}
	return filepath.Join(os.TempDir(), "cratedoc")
}

// DBPath returns the path to the DuckDB database file.
func DBPath() string {
	return filepath.Join(cacheBase(), "index.db")
}

// CASDir returns the path to the content-addressable storage directory.
func CASDir() string {
	return filepath.Join(cacheBase(), "cas")
}

// SnapshotDir holds zstd-compressed output trees keyed by index hash.
func SnapshotDir() string {
	return filepath.Join(cacheBase(), "snapshots")
}

// LogPath returns the path to the daemon's log file.
func LogPath() string {
	return filepath.Join(cacheBase(), "daemon.log")
}

// SocketPath returns the path to the daemon's unix socket.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "cratedoc", "daemon.sock")
	}
	return filepath.Join(fmt.Sprintf("/run/user/%d", os.Getuid()), "cratedoc", "daemon.sock")
}

func InitializeViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")

	viper.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		viper.AddConfigPath(filepath.Join(xdg, "cratedoc"))
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "cratedoc"))
	}

	viper.SetDefault("build.strict", false)
	viper.SetDefault("build.workers", 0)
	viper.SetDefault("build.link_scheme", "item:")
	viper.SetDefault("daemon.expiration_seconds", 600)
	viper.SetDefault("store.enabled", true)
	viper.SetDefault("cache.entries", 16)
	viper.SetDefault("crates", []string{})

	viper.SetEnvPrefix("CRATEDOC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// stringToRootHookFunc accepts a crate given as a bare string, either a path
// or name=path.
func stringToRootHookFunc() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(walker.Root{}) || f.Kind() != reflect.String {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if name, path, ok := strings.Cut(s, "="); ok {
			return walker.Root{Name: name, Path: path}, nil
		}
		return walker.Root{Path: s}, nil
	}
}

func Load() (*Config, error) {
	if err := InitializeViper(); err != nil {
		return nil, err
	}

	var config Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToRootHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(viper.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range config.Crates {
		config.Crates[i].Path = ExpandPath(config.Crates[i].Path)
	}
	return &config, nil
}

// ExpandPath expands a leading ~/ and makes p absolute.
func ExpandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
