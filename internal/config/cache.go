package config

import "sync"

// Cache is a single-slot memo for a config file. The first successful Load
// is cached; repeated calls return the cached record without touching the
// file until Invalidate clears the slot. Failed loads are never cached, so
// a broken file is retried on every call.
//
// Each bridge owns its cache instance; there is no process-wide state.
type Cache struct {
	path string

	mu  sync.Mutex
	cfg *PowerConfig
}

// NewCache returns a cache backed by the config file at path.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Path returns the backing file path.
func (c *Cache) Path() string {
	return c.path
}

// Load returns the cached record, reading and validating the file only when
// the slot is empty. Concurrent callers observe either the old or the new
// record, never a torn value.
func (c *Cache) Load() (*PowerConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg != nil {
		return c.cfg, nil
	}

	cfg, err := Load(c.path)
	if err != nil {
		return nil, err
	}

	c.cfg = cfg
	return cfg, nil
}

// Invalidate clears the slot. The next Load re-reads the file even if its
// content is unchanged.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cfg = nil
	c.mu.Unlock()
}

// Loaded reports whether a record is currently cached.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg != nil
}
