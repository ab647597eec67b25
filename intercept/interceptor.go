// Package intercept serves same-origin GET requests according to their
// resource class, falling back to the durable cache and to synthesized
// responses when the network is unavailable.
package intercept

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"trelow-offline/storage"
)

// Cache is the subset of the cache layer used for reads and refreshes.
type Cache interface {
	Match(ctx context.Context, path string) (storage.Entry, bool, error)
	Put(ctx context.Context, path string, e storage.Entry) error
}

// Source says where an intercepted response came from.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceFallback    Source = "fallback"
	SourcePassthrough Source = "passthrough"
)

// Outcome describes how a request was served.
type Outcome struct {
	Class  Class
	Source Source
}

type Interceptor struct {
	origin      *url.URL
	cache       Cache
	next        http.RoundTripper
	log         *log.Logger
	offlinePage string
	token       string

	refresh sync.WaitGroup
}

type Option func(*Interceptor)

// WithOfflinePage sets the cached path served to HTML navigations when both
// network and cache miss.
func WithOfflinePage(path string) Option {
	return func(i *Interceptor) { i.offlinePage = path }
}

// WithToken sets the bearer token sent on requests the interceptor issues on
// its own (preload, install). Forwarded requests keep their own headers.
func WithToken(token string) Option {
	return func(i *Interceptor) { i.token = token }
}

func New(origin string, cache Cache, next http.RoundTripper, logger *log.Logger, opts ...Option) (*Interceptor, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, errors.New("intercept: origin must be an absolute URL")
	}
	if cache == nil {
		panic("cache is not initialized")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	if next == nil {
		next = http.DefaultTransport
	}
	i := &Interceptor{
		origin:      &url.URL{Scheme: u.Scheme, Host: u.Host},
		cache:       cache,
		next:        next,
		log:         logger,
		offlinePage: "/offline",
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Origin is the scheme and host the interceptor answers for.
func (i *Interceptor) Origin() *url.URL {
	u := *i.origin
	return &u
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, _, err := i.Serve(req)
	return resp, err
}

// Serve answers req. Requests that are not same-origin GETs go straight to the
// network and may fail; intercepted reads never return an error.
func (i *Interceptor) Serve(req *http.Request) (*http.Response, Outcome, error) {
	if req.Method != http.MethodGet || !i.sameOrigin(req.URL) {
		resp, err := i.next.RoundTrip(req)
		return resp, Outcome{Class: Classify(req.URL.Path), Source: SourcePassthrough}, err
	}

	class := Classify(req.URL.Path)
	var (
		resp *http.Response
		src  Source
	)
	switch class {
	case ClassAuth:
		resp, src = i.networkFirst(req)
	case ClassCollection:
		resp, src = i.cacheFirstRefresh(req)
	case ClassAPI:
		resp, src = i.networkOnly(req)
	default:
		resp, src = i.cacheFirst(req)
	}
	return resp, Outcome{Class: class, Source: src}, nil
}

// Wait blocks until background refreshes have finished.
func (i *Interceptor) Wait() { i.refresh.Wait() }

func (i *Interceptor) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, i.origin.Scheme) && strings.EqualFold(u.Host, i.origin.Host)
}

// cacheFirst serves static assets and pages.
func (i *Interceptor) cacheFirst(req *http.Request) (*http.Response, Source) {
	key := cacheKey(req.URL)
	if e, ok := i.match(req.Context(), key); ok {
		return entryResponse(req, e), SourceCache
	}
	e, err := i.fetch(req)
	if err == nil {
		if e.Status == http.StatusOK {
			i.store(req.Context(), key, e)
		}
		return entryResponse(req, e), SourceNetwork
	}
	i.log.WithError(err).WithField("path", key).Debug("static fetch failed")
	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		if page, ok := i.match(req.Context(), i.offlinePage); ok {
			return entryResponse(req, page), SourceFallback
		}
	}
	return synthesized(req, http.StatusNotFound, "text/plain; charset=utf-8", "resource not available offline"), SourceFallback
}

// networkFirst serves /api/auth/. Non-success responses count as failures.
func (i *Interceptor) networkFirst(req *http.Request) (*http.Response, Source) {
	key := cacheKey(req.URL)
	e, err := i.fetch(req)
	if err == nil && e.OK() {
		i.store(req.Context(), key, e)
		return entryResponse(req, e), SourceNetwork
	}
	if err == nil {
		err = errors.New(e.StatusText)
	}
	i.log.WithError(err).WithField("path", key).Debug("auth request failed, using cache")
	if cached, ok := i.match(req.Context(), key); ok {
		return entryResponse(req, cached), SourceCache
	}
	if strings.HasPrefix(req.URL.Path, "/api/auth/session") {
		return jsonResponse(req, http.StatusOK, `{"user":null}`), SourceFallback
	}
	return unavailable(req), SourceFallback
}

// cacheFirstRefresh serves board, column and task collections: a cached copy
// is returned at once while the network refreshes it in the background.
// Requests carrying Cache-Control: no-cache try the network first.
func (i *Interceptor) cacheFirstRefresh(req *http.Request) (*http.Response, Source) {
	key := cacheKey(req.URL)
	if noCache(req.Header) {
		e, err := i.fetch(req)
		if err == nil {
			if e.OK() {
				i.store(req.Context(), key, e)
			}
			return entryResponse(req, e), SourceNetwork
		}
		i.log.WithError(err).WithField("path", key).Debug("revalidation failed, using cache")
		if cached, ok := i.match(req.Context(), key); ok {
			return entryResponse(req, cached), SourceCache
		}
		return collectionFallback(req), SourceFallback
	}
	if e, ok := i.match(req.Context(), key); ok {
		bg := req.Clone(context.WithoutCancel(req.Context()))
		i.refresh.Add(1)
		go func() {
			defer i.refresh.Done()
			fresh, err := i.fetch(bg)
			if err != nil {
				i.log.WithError(err).WithField("path", key).Debug("background refresh failed")
				return
			}
			if fresh.OK() {
				i.store(bg.Context(), key, fresh)
			}
		}()
		return entryResponse(req, e), SourceCache
	}

	e, err := i.fetch(req)
	if err == nil {
		if e.OK() {
			i.store(req.Context(), key, e)
		}
		return entryResponse(req, e), SourceNetwork
	}
	i.log.WithError(err).WithField("path", key).Debug("collection unavailable")
	return collectionFallback(req), SourceFallback
}

func collectionFallback(req *http.Request) *http.Response {
	if emptyCollection(req.URL.Path) {
		return jsonResponse(req, http.StatusOK, `[]`)
	}
	return unavailable(req)
}

func noCache(h http.Header) bool {
	for _, v := range h.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(directive), "no-cache") {
				return true
			}
		}
	}
	return false
}

// networkOnly serves any other /api/ path; the cache is only read.
func (i *Interceptor) networkOnly(req *http.Request) (*http.Response, Source) {
	e, err := i.fetch(req)
	if err == nil {
		return entryResponse(req, e), SourceNetwork
	}
	key := cacheKey(req.URL)
	i.log.WithError(err).WithField("path", key).Debug("api request failed, using cache")
	if cached, ok := i.match(req.Context(), key); ok {
		return entryResponse(req, cached), SourceCache
	}
	return unavailable(req), SourceFallback
}

func (i *Interceptor) fetch(req *http.Request) (storage.Entry, error) {
	resp, err := i.next.RoundTrip(req)
	if err != nil {
		return storage.Entry{}, err
	}
	return readEntry(resp)
}

// fetchPath issues a request of the interceptor's own to the origin.
func (i *Interceptor) fetchPath(ctx context.Context, path string) (storage.Entry, error) {
	u := i.origin.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return storage.Entry{}, err
	}
	req.Header.Set("Accept", "application/json")
	if i.token != "" {
		req.Header.Set("Authorization", "Bearer "+i.token)
	}
	return i.fetch(req)
}

func (i *Interceptor) match(ctx context.Context, key string) (storage.Entry, bool) {
	e, ok, err := i.cache.Match(ctx, key)
	if err != nil {
		i.log.WithError(err).WithField("path", key).Error("cache read failed")
		return storage.Entry{}, false
	}
	return e, ok
}

func (i *Interceptor) store(ctx context.Context, key string, e storage.Entry) {
	if err := i.cache.Put(ctx, key, e); err != nil {
		i.log.WithError(err).WithField("path", key).Error("cache write failed")
	}
}

func cacheKey(u *url.URL) string {
	if u.RawQuery == "" {
		return u.Path
	}
	return u.Path + "?" + u.RawQuery
}
