package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("UPSTREAM_BASE_URL", "https://trelow.example")
	t.Setenv("REDIS_CONNECTION_STRING", "localhost:6379")
}

func writeYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

func TestLoadFromEnvWithDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	validEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	require.Equal(t, "trelow-offline-v1", cfg.Cache.Name)
	require.Equal(t, "/offline", cfg.Cache.OfflinePage)
	require.Equal(t, []string{"/", "/offline", "/manifest.json", "/icon-192x192.png", "/favicon.ico"}, cfg.Cache.Precache)
	require.Equal(t, 3, cfg.Sync.PreloadBatch)
	require.Equal(t, 15*time.Millisecond, cfg.Sync.HandoffTimeout)
	require.Equal(t, 15*time.Second, cfg.Upstream.Timeout)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeYAML(t, t.TempDir(), `
server:
  port: 9090
upstream:
  base_url: "http://localhost:3000"
  token: "secret"
redis:
  connection_string: "redis://localhost:6379/0"
cache:
  name: "trelow-offline-v2"
sync:
  preload_batch: 5
log:
  level: "warn"
`)
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "secret", cfg.Upstream.Token)
	require.Equal(t, "trelow-offline-v2", cfg.Cache.Name)
	require.Equal(t, 5, cfg.Sync.PreloadBatch)
	lvl, err := cfg.Log.ParseLevel()
	require.NoError(t, err)
	require.Equal(t, log.WarnLevel, lvl)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeYAML(t, t.TempDir(), `
upstream:
  base_url: "http://localhost:3000"
redis:
  connection_string: "localhost:6379"
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SYNC_PRELOAD_BATCH", "7")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Sync.PreloadBatch)
	lvl, err := cfg.Log.ParseLevel()
	require.NoError(t, err)
	require.Equal(t, log.DebugLevel, lvl)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestLoadPicksUpDefaultFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_PATH", "")
	writeYAML(t, dir, `
upstream:
  base_url: "http://localhost:3000"
redis:
  connection_string: "localhost:6379"
cache:
  name: "from-default-file"
`)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-default-file", cfg.Cache.Name)
}

func TestLoadRequiresUpstream(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("UPSTREAM_BASE_URL", "")
	t.Setenv("REDIS_CONNECTION_STRING", "localhost:6379")
	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	base := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Upstream: UpstreamConfig{BaseURL: "https://trelow.example"},
			Cache:    CacheConfig{Name: "c", OfflinePage: "/offline"},
			Sync:     SyncConfig{MailboxBuffer: 1, PreloadBatch: 3, Channel: "ch"},
			Log:      LogConfig{Level: "info"},
		}
	}
	ok := base()
	require.NoError(t, ok.Validate())

	cases := map[string]func(*Config){
		"relative upstream": func(c *Config) { c.Upstream.BaseURL = "/api" },
		"port":              func(c *Config) { c.Server.Port = 0 },
		"offline page":      func(c *Config) { c.Cache.OfflinePage = "offline" },
		"precache":          func(c *Config) { c.Cache.Precache = []string{"manifest.json"} },
		"mailbox":           func(c *Config) { c.Sync.MailboxBuffer = 0 },
		"batch":             func(c *Config) { c.Sync.PreloadBatch = 0 },
		"level":             func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
