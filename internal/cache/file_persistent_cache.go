package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

// FilePersistentCache is a JSON file-backed cache. Values must survive a
// JSON round trip; completions are plain strings.
type FilePersistentCache struct {
	store    map[string]cacheItem
	mutex    sync.RWMutex
	ttl      time.Duration
	filePath string

	stop     chan struct{}
	stopOnce sync.Once
}

// NewFilePersistentCache creates a persistent cache, loading any entries
// already stored at filePath.
func NewFilePersistentCache(defaultTTL time.Duration, filePath string) (*FilePersistentCache, error) {
	c := &FilePersistentCache{
		store:    make(map[string]cacheItem),
		ttl:      defaultTTL,
		filePath: filePath,
		stop:     make(chan struct{}),
	}
	if err := c.loadFromFile(); err != nil {
		return nil, err
	}
	go c.cleanupLoop(DefaultCleanupInterval)
	return c, nil
}

func (c *FilePersistentCache) loadFromFile() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read cache %s", c.filePath)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &c.store); err != nil {
		logger.KV(xlog.WARNING, "status", "corrupt_cache_file", "path", c.filePath, "err", err.Error())
		c.store = make(map[string]cacheItem)
	}
	return nil
}

// saveLocked writes the store atomically. The caller holds c.mutex.
func (c *FilePersistentCache) saveLocked() error {
	data, err := json.Marshal(c.store)
	if err != nil {
		return errors.WithStack(err)
	}
	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WithStack(err)
	}
	tmp, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp.Name(), c.filePath))
}

// Get retrieves an item from the cache.
func (c *FilePersistentCache) Get(ctx context.Context, key string) (any, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}
	c.mutex.RLock()
	item, found := c.store[key]
	c.mutex.RUnlock()
	if !found {
		return nil, notFound("cache item not found")
	}
	if item.expired(time.Now().UnixNano()) {
		logger.KV(xlog.DEBUG, "status", "expired", "key", key)
		return nil, notFound("cache item expired")
	}
	return item.Value, nil
}

// Set adds or updates an item and persists the store.
func (c *FilePersistentCache) Set(ctx context.Context, key string, value any) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.store[key] = cacheItem{
		Value:      value,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	if err := c.saveLocked(); err != nil {
		return errors.Wrapf(err, "persist cache %s", c.filePath)
	}
	logger.KV(xlog.DEBUG, "status", "set", "key", key, "path", c.filePath)
	return nil
}

// Close stops the cleanup goroutine.
func (c *FilePersistentCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *FilePersistentCache) purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := time.Now().UnixNano()
	removed := 0
	for key, item := range c.store {
		if item.expired(now) {
			delete(c.store, key)
			removed++
		}
	}
	if removed == 0 {
		return
	}
	if err := c.saveLocked(); err != nil {
		logger.KV(xlog.ERROR, "status", "persist_failed", "path", c.filePath, "err", err.Error())
	}
}

func (c *FilePersistentCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purge()
		}
	}
}
