package intercept

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"trelow-offline/storage"
)

// DefaultAssets are the essential resources cached at install time.
var DefaultAssets = []string{"/", "/offline", "/manifest.json", "/icon-192x192.png", "/favicon.ico"}

// Install fetches every asset and caches it. It is all or nothing: when any
// asset fails nothing is written.
func (i *Interceptor) Install(ctx context.Context, assets []string) error {
	entries := make([]storage.Entry, len(assets))
	for n, path := range assets {
		e, err := i.fetchPath(ctx, path)
		if err != nil {
			return fmt.Errorf("install %s: %w", path, err)
		}
		if !e.OK() {
			return fmt.Errorf("install %s: status %d", path, e.Status)
		}
		entries[n] = e
	}
	var errs []error
	for n, path := range assets {
		errs = append(errs, i.cache.Put(ctx, path, entries[n]))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	i.log.WithField("assets", len(assets)).Info("essential assets cached")
	return nil
}

// CacheRegistry enumerates and drops named caches.
type CacheRegistry interface {
	DeleteExcept(ctx context.Context, keep string) ([]string, error)
}

// Activate removes every cache other than current.
func Activate(ctx context.Context, caches CacheRegistry, current string, logger *log.Logger) error {
	removed, err := caches.DeleteExcept(ctx, current)
	if err != nil {
		return err
	}
	for _, name := range removed {
		logger.WithField("cache", name).Info("old cache removed")
	}
	return nil
}
