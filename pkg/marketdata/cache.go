// Package marketdata puts a bounded TTL cache in front of a market data
// provider. Snapshots go stale in seconds, bars in minutes, and the cache
// evicts the least recently touched entry once full.
package marketdata

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

const (
	// DefaultSnapshotTTL keeps quotes near real time.
	DefaultSnapshotTTL = 5 * time.Second
	// DefaultBarsTTL suits historical queries that rarely change.
	DefaultBarsTTL = 5 * time.Minute
	// DefaultMaxEntries bounds total cache size across both kinds.
	DefaultMaxEntries = 1000
)

type cacheEntry struct {
	key      string
	kind     string // "snapshot" or "bars"
	value    any
	storedAt time.Time
	ttl      time.Duration
}

// Stats is a point-in-time view of cache contents and effectiveness.
type Stats struct {
	SnapshotCount int   `json:"snapshot_count"`
	BarsCount     int   `json:"bars_count"`
	TotalSize     int   `json:"total_size"`
	MaxSize       int   `json:"max_size"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
}

// Cache is a thread-safe LRU with separate TTLs for snapshots and bars.
// Stale entries are dropped on read; eviction happens on the write path.
type Cache struct {
	mu    sync.Mutex
	clock func() time.Time

	snapshotTTL time.Duration
	barsTTL     time.Duration
	maxEntries  int

	entries map[string]*list.Element
	order   *list.List // front = most recently used

	hits   int64
	misses int64
}

// NewCache creates a cache with the default TTLs and size cap.
func NewCache() *Cache {
	return &Cache{
		clock:       time.Now,
		snapshotTTL: DefaultSnapshotTTL,
		barsTTL:     DefaultBarsTTL,
		maxEntries:  DefaultMaxEntries,
		entries:     make(map[string]*list.Element),
		order:       list.New(),
	}
}

// WithTTLs overrides the snapshot and bars TTLs.
func (c *Cache) WithTTLs(snapshot, bars time.Duration) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotTTL = snapshot
	c.barsTTL = bars
	return c
}

// WithMaxEntries overrides the size cap.
func (c *Cache) WithMaxEntries(n int) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxEntries = n
	return c
}

// WithClock overrides the time source for testing.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
	return c
}

// Snapshot returns the cached quote for symbol if present and fresh.
func (c *Cache) Snapshot(symbol string) (*contracts.MarketSnapshot, bool) {
	v, ok := c.get("snapshot:" + symbol)
	if !ok {
		return nil, false
	}
	return v.(*contracts.MarketSnapshot), true
}

// PutSnapshot caches a quote under the snapshot TTL.
func (c *Cache) PutSnapshot(symbol string, snap *contracts.MarketSnapshot) {
	c.put("snapshot:"+symbol, "snapshot", snap, c.snapshotTTL)
}

// Bars returns the cached window for the query if present and fresh.
func (c *Cache) Bars(q contracts.BarQuery) ([]contracts.Bar, bool) {
	v, ok := c.get(barsKey(q))
	if !ok {
		return nil, false
	}
	return v.([]contracts.Bar), true
}

// PutBars caches a bar window under the bars TTL.
func (c *Cache) PutBars(q contracts.BarQuery, bars []contracts.Bar) {
	c.put(barsKey(q), "bars", bars, c.barsTTL)
}

// Clear drops all entries. Hit and miss counters survive.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Stats snapshots size and counter state.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		TotalSize: len(c.entries),
		MaxSize:   c.maxEntries,
		Hits:      c.hits,
		Misses:    c.misses,
	}
	for _, el := range c.entries {
		if el.Value.(*cacheEntry).kind == "snapshot" {
			s.SnapshotCount++
		} else {
			s.BarsCount++
		}
	}
	return s
}

func (c *Cache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.clock().Sub(entry.storedAt) > entry.ttl {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return entry.value, true
}

func (c *Cache) put(key, kind string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.storedAt = c.clock()
		entry.ttl = ttl
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{
		key:      key,
		kind:     kind,
		value:    value,
		storedAt: c.clock(),
		ttl:      ttl,
	})
	c.entries[key] = el
	for len(c.entries) > c.maxEntries {
		c.removeLocked(c.order.Back())
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	delete(c.entries, el.Value.(*cacheEntry).key)
	c.order.Remove(el)
}

func barsKey(q contracts.BarQuery) string {
	start, end := "none", "none"
	if q.Start != nil {
		start = q.Start.UTC().Format(time.RFC3339)
	}
	if q.End != nil {
		end = q.End.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("bars:%s:%s:%s:%s", q.Instrument, q.Timeframe, start, end)
}
