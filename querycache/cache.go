package querycache

import (
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is the number of entries kept by a cache created with a non-positive size.
const DefaultSize = 1000

// Cache is a bounded, concurrency-safe store of compiled commands. Entries are
// published with GetOrAdd: the first writer for a key wins and later writers adopt
// the stored value.
type Cache[V any] struct {
	lru     *lru.Cache[Key, V]
	size    int
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	adds    atomic.Int64
	races   atomic.Int64
	evicted atomic.Int64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for cache events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a cache holding up to size entries.
func New[V any](size int, opts ...Option) (*Cache[V], error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New[Key, V](size)
	if err != nil {
		return nil, err
	}
	return &Cache[V]{lru: l, size: size, logger: o.logger}, nil
}

// Get returns the entry stored under key.
func (c *Cache[V]) Get(key Key) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
		c.logger.Debug("query cache hit", slog.String("key", string(key)))
	} else {
		c.misses.Add(1)
		c.logger.Debug("query cache miss", slog.String("key", string(key)))
	}
	return v, ok
}

// GetOrAdd stores v under key unless an entry exists. It returns the stored entry and
// whether v was added. A caller that gets added == false lost the race and must use
// the returned value in place of its own.
func (c *Cache[V]) GetOrAdd(key Key, v V) (V, bool) {
	prev, found, evicted := c.lru.PeekOrAdd(key, v)
	if found {
		c.races.Add(1)
		c.logger.Debug("query cache publish lost race", slog.String("key", string(key)))
		return prev, false
	}
	c.adds.Add(1)
	if evicted {
		c.evicted.Add(1)
	}
	c.logger.Debug("query cache publish", slog.String("key", string(key)), slog.Bool("evicted", evicted))
	return v, true
}

// Remove removes the entry stored under key.
func (c *Cache[V]) Remove(key Key) bool {
	return c.lru.Remove(key)
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Purge removes all entries.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

// Stats holds cache statistics.
type Stats struct {
	Hits      int64
	Misses    int64
	Adds      int64
	LostRaces int64
	Evictions int64
	Size      int
	MaxSize   int
}

// HitRate returns the ratio of hits to lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns a snapshot of the cache statistics.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Adds:      c.adds.Load(),
		LostRaces: c.races.Load(),
		Evictions: c.evicted.Load(),
		Size:      c.lru.Len(),
		MaxSize:   c.size,
	}
}
