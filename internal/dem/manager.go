package dem

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Faultbox/heightmapgen/internal/logger"
)

// CacheSourceName is the Result.Source of rasters served from memory.
const CacheSourceName = "cache"

// DefaultCacheBytes is the raster budget of a Manager's cache.
const DefaultCacheBytes = 256 << 20

// Result is a raster returned by the Manager.
type Result struct {
	Data   []byte
	Source string // Name of the source that produced Data
	Cached bool
}

// Manager resolves DEM requests against a list of sources. Rasters are cached
// by bounding box, so sites sharing coordinates and radius share a download,
// and concurrent loads of the same box are merged into one.
type Manager struct {
	sources []Source
	cache   *Cache
	group   singleflight.Group
	log     *zap.Logger
	mu      sync.RWMutex
}

// NewManager creates a new DEM manager. A nil logger disables logging.
func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		cache: NewCache(DefaultCacheBytes),
		log:   logger.OrNop(log).Named("dem"),
	}
}

// AddSource adds a source to the manager.
// Sources are searched in reverse order (last added = highest priority).
func (m *Manager) AddSource(src Source) {
	m.mu.Lock()
	m.sources = append(m.sources, src)
	m.mu.Unlock()
}

// Load returns the raster for req. Sources reporting ErrNotFound are
// skipped; any other error stops the search.
func (m *Manager) Load(ctx context.Context, req Request) (Result, error) {
	key := req.Box.String()
	if data, ok := m.cache.Get(key); ok {
		m.log.Debug("cache hit", zap.String("site", req.ID), zap.String("box", key))
		return Result{Data: data, Source: CacheSourceName, Cached: true}, nil
	}

	v, err, shared := m.group.Do(key, func() (any, error) {
		res, err := m.search(ctx, req)
		if err != nil {
			return nil, err
		}
		m.cache.Set(key, res.Data)
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	if shared {
		m.log.Debug("merged concurrent load", zap.String("site", req.ID), zap.String("source", res.Source))
	}
	return res, nil
}

func (m *Manager) search(ctx context.Context, req Request) (Result, error) {
	m.mu.RLock()
	sources := make([]Source, len(m.sources))
	copy(sources, m.sources)
	m.mu.RUnlock()

	for i := len(sources) - 1; i >= 0; i-- {
		src := sources[i]
		data, err := src.Fetch(ctx, req)
		if errors.Is(err, ErrNotFound) {
			m.log.Debug("source miss", zap.String("site", req.ID), zap.String("source", src.Name()))
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", src.Name(), err)
		}
		return Result{Data: data, Source: src.Name()}, nil
	}
	return Result{}, fmt.Errorf("%w: %s", ErrNotFound, req.ID)
}

// Stats returns cache statistics.
func (m *Manager) Stats() CacheStats {
	return m.cache.Stats()
}

// Close drops cached rasters.
func (m *Manager) Close() {
	m.cache.Clear()
}

// CacheStats is a snapshot of cache activity.
type CacheStats struct {
	Hits, Misses, Evictions int
	Entries                 int
	Bytes                   int64
}

// Cache keeps recently loaded rasters in memory up to a byte budget,
// evicting the least recently used first.
type Cache struct {
	mu      sync.Mutex
	budget  int64
	order   *list.List // front is most recent
	entries map[string]*list.Element
	stats   CacheStats
}

type cacheEntry struct {
	key  string
	data []byte
}

// NewCache creates a cache holding at most budget bytes of raster data.
func NewCache(budget int64) *Cache {
	return &Cache{
		budget:  budget,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Get returns the raster stored under key and marks it as recently used.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).data, true
}

// Set stores data under key. Rasters larger than the whole budget are not
// cached.
func (c *Cache) Set(key string, data []byte) {
	size := int64(len(data))
	if size > c.budget {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
	for c.stats.Bytes+size > c.budget && c.order.Len() > 0 {
		c.remove(c.order.Back())
		c.stats.Evictions++
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, data: data})
	c.stats.Bytes += size
	c.stats.Entries = c.order.Len()
}

func (c *Cache) remove(el *list.Element) {
	e := c.order.Remove(el).(*cacheEntry)
	delete(c.entries, e.key)
	c.stats.Bytes -= int64(len(e.data))
	c.stats.Entries = c.order.Len()
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.stats = CacheStats{}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
