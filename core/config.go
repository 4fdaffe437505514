package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

// CacheConfig selects and parameterizes the credential snapshot store.
type CacheConfig struct {
	// Driver is one of "file", "sqlite3", "postgres".
	Driver string `koanf:"driver" mapstructure:"driver"`
	// Path is the snapshot file path (file driver) or database file
	// (sqlite3 driver).
	Path string `koanf:"path" mapstructure:"path"`
	// DSN is the connection string for the postgres driver.
	DSN string `koanf:"dsn" mapstructure:"dsn"`
}

type Config struct {
	ClientID     string      `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string      `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectHost string      `koanf:"redirect_host" mapstructure:"redirect_host"`
	SocketPath   string      `koanf:"socket_path" mapstructure:"socket_path"`
	Cache        CacheConfig `koanf:"cache" mapstructure:"cache"`
	FilterDir    string      `koanf:"filter_dir" mapstructure:"filter_dir"`
	Scopes       []string    `koanf:"scopes" mapstructure:"scopes"`
}

func DefaultConfig() Config {
	return Config{
		RedirectHost: "127.0.0.1:31337",
		SocketPath:   defaultSocketPath(),
		Cache: CacheConfig{
			Driver: "file",
			Path:   defaultCachePath(),
		},
		Scopes: []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
	}
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/sumid.sock"
	}
	return os.TempDir() + "/sumid.sock"
}

func defaultCachePath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/sumid/credentials.json"
	}
	return "credentials.json"
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("core: client_id is required")
	}
	if strings.TrimSpace(c.RedirectHost) == "" {
		return fmt.Errorf("core: redirect_host is required")
	}
	if strings.TrimSpace(c.SocketPath) == "" {
		return fmt.Errorf("core: socket_path is required")
	}
	if len(NormalizeScopes(c.Scopes)) == 0 {
		return fmt.Errorf("core: at least one scope is required")
	}
	switch c.Cache.Driver {
	case "file", "sqlite3":
		if strings.TrimSpace(c.Cache.Path) == "" {
			return fmt.Errorf("core: cache.path is required for the %s driver", c.Cache.Driver)
		}
	case "postgres":
		if strings.TrimSpace(c.Cache.DSN) == "" {
			return fmt.Errorf("core: cache.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("core: cache.driver must be file, sqlite3, or postgres")
	}
	return nil
}

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	return copyAnyMap(l.Values), nil
}

// FileRawConfigLoader reads a YAML config file and applies SUMID_-prefixed
// environment overrides on top. A missing file is not an error; the
// environment alone may carry the whole configuration.
type FileRawConfigLoader struct {
	Path    string
	Environ func() []string
}

func (l FileRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}
	if strings.TrimSpace(l.Path) != "" {
		data, err := os.ReadFile(l.Path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("core: config file %s: %w", l.Path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("core: config file %s: %w", l.Path, err)
		}
	}
	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	applyEnvOverrides(raw, environ())
	return raw, nil
}

// applyEnvOverrides folds SUMID_* variables into the raw map. A double
// underscore descends one nesting level, so SUMID_CACHE__DRIVER sets
// cache.driver.
func applyEnvOverrides(raw map[string]any, environ []string) {
	const prefix = "SUMID_"
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, prefix)), "__")
		node := raw
		for _, segment := range path[:len(path)-1] {
			child, ok := node[segment].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[segment] = child
			}
			node = child
		}
		leaf := path[len(path)-1]
		if leaf == "scopes" {
			node[leaf] = strings.Fields(value)
			continue
		}
		node[leaf] = value
	}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ClientID) != "" {
		layer["client_id"] = cfg.ClientID
	}
	if includeZero || strings.TrimSpace(cfg.ClientSecret) != "" {
		layer["client_secret"] = cfg.ClientSecret
	}
	if includeZero || strings.TrimSpace(cfg.RedirectHost) != "" {
		layer["redirect_host"] = cfg.RedirectHost
	}
	if includeZero || strings.TrimSpace(cfg.SocketPath) != "" {
		layer["socket_path"] = cfg.SocketPath
	}
	if includeZero || strings.TrimSpace(cfg.FilterDir) != "" {
		layer["filter_dir"] = cfg.FilterDir
	}
	if includeZero || len(cfg.Scopes) > 0 {
		layer["scopes"] = cloneStringSlice(cfg.Scopes)
	}
	cache := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Cache.Driver) != "" {
		cache["driver"] = cfg.Cache.Driver
	}
	if includeZero || strings.TrimSpace(cfg.Cache.Path) != "" {
		cache["path"] = cfg.Cache.Path
	}
	if includeZero || strings.TrimSpace(cfg.Cache.DSN) != "" {
		cache["dsn"] = cfg.Cache.DSN
	}
	if len(cache) > 0 {
		layer["cache"] = cache
	}
	return layer
}
