package config

import "time"

// Config is the root configuration of the offline proxy.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// UpstreamConfig points at the authoritative Kanban server.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url" env:"UPSTREAM_BASE_URL" env-required:"true"`
	Token   string        `yaml:"token"    env:"UPSTREAM_TOKEN"`
	Timeout time.Duration `yaml:"timeout"  env:"UPSTREAM_TIMEOUT"  env-default:"15s"`
}

// RedisConfig accepts either a redis:// URL or "host:port,password=...,ssl=true".
type RedisConfig struct {
	ConnectionString string `yaml:"connection_string" env:"REDIS_CONNECTION_STRING" env-required:"true"`
}

// CacheConfig describes the durable response cache.
type CacheConfig struct {
	Name        string        `yaml:"name"         env:"CACHE_NAME"         env-default:"trelow-offline-v1"`
	OfflinePage string        `yaml:"offline_page" env:"CACHE_OFFLINE_PAGE" env-default:"/offline"`
	Precache    []string      `yaml:"precache"     env:"CACHE_PRECACHE"     env-default:"/,/offline,/manifest.json,/icon-192x192.png,/favicon.ico" env-separator:","`
	TTL         time.Duration `yaml:"ttl"          env:"CACHE_TTL"          env-default:"0s"`
}

// SyncConfig tunes the cache-side mailbox and preloading.
type SyncConfig struct {
	MailboxBuffer  int           `yaml:"mailbox_buffer"  env:"SYNC_MAILBOX_BUFFER"  env-default:"256"`
	HandoffTimeout time.Duration `yaml:"handoff_timeout" env:"SYNC_HANDOFF_TIMEOUT" env-default:"15ms"`
	PreloadBatch   int           `yaml:"preload_batch"   env:"SYNC_PRELOAD_BATCH"   env-default:"3"`
	Channel        string        `yaml:"channel"         env:"SYNC_CHANNEL"         env-default:"trelow:cache"`
}

// LogConfig holds logging settings. Debug forces the debug level.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Debug bool   `yaml:"debug" env:"DEBUG"     env-default:"false"`
}
