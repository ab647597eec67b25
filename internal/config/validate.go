package config

import (
	"fmt"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Validate checks values the struct tags cannot express. Load calls it.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute URL (got %q)", c.Upstream.BaseURL)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range (got %d)", c.Server.Port)
	}
	if strings.TrimSpace(c.Cache.Name) == "" {
		return fmt.Errorf("cache.name is required")
	}
	if !strings.HasPrefix(c.Cache.OfflinePage, "/") {
		return fmt.Errorf("cache.offline_page must be a path (got %q)", c.Cache.OfflinePage)
	}
	for _, p := range c.Cache.Precache {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("cache.precache entries must be paths (got %q)", p)
		}
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be >= 0 (got %v)", c.Cache.TTL)
	}
	if c.Sync.MailboxBuffer <= 0 {
		return fmt.Errorf("sync.mailbox_buffer must be > 0 (got %d)", c.Sync.MailboxBuffer)
	}
	if c.Sync.PreloadBatch <= 0 {
		return fmt.Errorf("sync.preload_batch must be > 0 (got %d)", c.Sync.PreloadBatch)
	}
	if c.Sync.Channel == "" {
		return fmt.Errorf("sync.channel is required")
	}
	if _, err := c.Log.ParseLevel(); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ParseLevel returns the logrus level, honoring Debug.
func (l LogConfig) ParseLevel() (log.Level, error) {
	if l.Debug {
		return log.DebugLevel, nil
	}
	return log.ParseLevel(l.Level)
}
