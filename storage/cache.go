package storage

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// ErrNoClient is returned by cache operations that need Redis when none is
// configured.
var ErrNoClient = errors.New("storage: redis client is not configured")

// Entry is a stored response: status line metadata, headers and the exact body
// bytes returned by the network.
type Entry struct {
	Status     int         `json:"status"`
	StatusText string      `json:"statusText,omitempty"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"storedAt"`
}

// OK reports whether the entry holds a 2xx response.
func (e Entry) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// Caches is the registry of named response caches kept in Redis.
type Caches struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCaches creates the registry. A zero ttl keeps entries until they are
// deleted explicitly.
func NewCaches(client *redis.Client, ttl time.Duration) *Caches {
	if ttl < 0 {
		ttl = 0
	}
	return &Caches{redis: client, ttl: ttl}
}

// Open returns the cache with the given name, registering it if needed.
func (c *Caches) Open(ctx context.Context, name string) (*Cache, error) {
	if c.redis == nil {
		return nil, ErrNoClient
	}
	if err := c.redis.SAdd(ctx, namesKey, name).Err(); err != nil {
		return nil, err
	}
	return &Cache{name: name, redis: c.redis, ttl: c.ttl}, nil
}

// Names lists registered caches in lexical order.
func (c *Caches) Names(ctx context.Context) ([]string, error) {
	if c.redis == nil {
		return nil, ErrNoClient
	}
	names, err := c.redis.SMembers(ctx, namesKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Delete drops a whole cache and reports whether it existed.
func (c *Caches) Delete(ctx context.Context, name string) (bool, error) {
	if c.redis == nil {
		return false, ErrNoClient
	}
	removed, err := c.redis.SRem(ctx, namesKey, name).Result()
	if err != nil {
		return false, err
	}
	cache := &Cache{name: name, redis: c.redis}
	keys, err := c.redis.SMembers(ctx, cache.indexKey()).Result()
	if err != nil {
		return removed > 0, err
	}
	del := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		del = append(del, cache.entryKey(k))
	}
	del = append(del, cache.indexKey())
	if err := c.redis.Del(ctx, del...).Err(); err != nil {
		return removed > 0, err
	}
	return removed > 0, nil
}

// DeleteExcept removes every cache except keep and returns the removed names.
func (c *Caches) DeleteExcept(ctx context.Context, keep string) ([]string, error) {
	names, err := c.Names(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, name := range names {
		if name == keep {
			continue
		}
		if _, err := c.Delete(ctx, name); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// Cache maps request paths to stored responses.
type Cache struct {
	name  string
	redis *redis.Client
	ttl   time.Duration
}

func (c *Cache) Name() string { return c.name }

// Match returns the entry stored for path. Undecodable entries are dropped and
// reported as a miss.
func (c *Cache) Match(ctx context.Context, path string) (Entry, bool, error) {
	data, err := c.redis.Get(ctx, c.entryKey(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var e Entry
	if err := sonic.Unmarshal(data, &e); err != nil {
		_, _ = c.Delete(ctx, path)
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Put stores e under path, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, path string, e Entry) error {
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	data, err := sonic.Marshal(e)
	if err != nil {
		return err
	}
	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.entryKey(path), data, c.ttl)
		pipe.SAdd(ctx, c.indexKey(), path)
		return nil
	})
	return err
}

// Delete removes the entry for path and reports whether it existed.
func (c *Cache) Delete(ctx context.Context, path string) (bool, error) {
	var del *redis.IntCmd
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, c.entryKey(path))
		pipe.SRem(ctx, c.indexKey(), path)
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

// Keys lists the stored request paths in lexical order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.redis.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

const namesKey = "rc:names"

func (c *Cache) entryKey(path string) string {
	return "rc:" + c.name + ":e:" + path
}

func (c *Cache) indexKey() string {
	return "rc:" + c.name + ":keys"
}
