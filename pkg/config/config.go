package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/ordersync/pkg/enums"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App    AppConfig
	Stream StreamConfig
	Poller PollerConfig
	Remote RemoteConfig
	Store  StoreConfig
	Redis  RedisConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if _, err := enums.ParseStoreBackend(cfg.Store.Backend); err != nil {
		return nil, fmt.Errorf("store config: %w", err)
	}
	if cfg.Store.BackendEnum() == enums.StoreBackendRedis && cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		return nil, fmt.Errorf("store config: redis backend requires ORDERSYNC_REDIS_URL or ORDERSYNC_REDIS_ADDRESS")
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERSYNC_APP_ENV" default:"dev"`
	Port         string `envconfig:"ORDERSYNC_APP_PORT" default:"8787"`
	LogLevel     string `envconfig:"ORDERSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// StreamConfig tunes the reconnecting push client.
type StreamConfig struct {
	URL                   string        `envconfig:"ORDERSYNC_STREAM_URL" required:"true"`
	ConnectTimeout        time.Duration `envconfig:"ORDERSYNC_STREAM_CONNECT_TIMEOUT" default:"5s"`
	BackoffBase           time.Duration `envconfig:"ORDERSYNC_STREAM_BACKOFF_BASE" default:"5s"`
	BackoffCap            time.Duration `envconfig:"ORDERSYNC_STREAM_BACKOFF_CAP" default:"30s"`
	AttemptCeiling        int           `envconfig:"ORDERSYNC_STREAM_ATTEMPT_CEILING" default:"5"`
	FallbackRetryInterval time.Duration `envconfig:"ORDERSYNC_STREAM_FALLBACK_RETRY" default:"60s"`
}

// PollerConfig tunes the fallback full-fetch loop.
type PollerConfig struct {
	Interval time.Duration `envconfig:"ORDERSYNC_POLL_INTERVAL" default:"20s"`
}

// RemoteConfig points at the authoritative order store API.
type RemoteConfig struct {
	BaseURL        string        `envconfig:"ORDERSYNC_REMOTE_BASE_URL" required:"true"`
	Token          string        `envconfig:"ORDERSYNC_REMOTE_TOKEN"`
	RequestTimeout time.Duration `envconfig:"ORDERSYNC_REMOTE_TIMEOUT" default:"10s"`
}

// StoreConfig selects and locates the durable local store.
type StoreConfig struct {
	Backend string `envconfig:"ORDERSYNC_STORE_BACKEND" default:"pebble"`
	Path    string `envconfig:"ORDERSYNC_STORE_PATH" default:"ordersync-data"`
}

func (s StoreConfig) BackendEnum() enums.StoreBackend {
	backend, err := enums.ParseStoreBackend(s.Backend)
	if err != nil {
		return enums.StoreBackendPebble
	}
	return backend
}

type RedisConfig struct {
	URL      string `envconfig:"ORDERSYNC_REDIS_URL"`
	Address  string `envconfig:"ORDERSYNC_REDIS_ADDRESS"`
	Password string `envconfig:"ORDERSYNC_REDIS_PASSWORD"`
	DB       int    `envconfig:"ORDERSYNC_REDIS_DB" default:"0"`
}
