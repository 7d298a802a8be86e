package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/metrics"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// Response is a cached model completion. Token counts are kept so a hit
// can be reported without re-billing.
type Response struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

type entry struct {
	key       string
	resp      *Response
	expiresAt time.Time
}

// Cache is a bounded LRU with TTL expiry for model responses. A
// background janitor evicts expired entries; capacity eviction happens
// inline on Store.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List // front = most recently used
	maxEntries int
	ttl        time.Duration

	cleanupInterval time.Duration
	stopCh          chan struct{}
}

// NewCache creates a cache. maxEntries <= 0 means unbounded; ttl <= 0
// means entries never expire.
func NewCache(maxEntries int, ttl, cleanupInterval time.Duration) *Cache {
	return &Cache{
		entries:         make(map[string]*list.Element),
		lru:             list.New(),
		maxEntries:      maxEntries,
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
}

// Start begins the expiry janitor.
func (c *Cache) Start() {
	if c.ttl <= 0 || c.cleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cleanupInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				c.evictExpired()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the janitor.
func (c *Cache) Stop() {
	close(c.stopCh)
}

// keyMaterial is marshalled with fixed field order so the digest is
// stable across processes.
type keyMaterial struct {
	Provider    string          `json:"provider"`
	Model       string          `json:"model"`
	Temperature float64         `json:"temperature"`
	Messages    []types.Message `json:"messages"`
}

// Key derives the cache key for a call. Temperature is bucketed to 0.1
// so near-identical sampling settings share an entry.
func Key(provider, model string, temperature float64, msgs []types.Message) string {
	material := keyMaterial{
		Provider:    provider,
		Model:       model,
		Temperature: math.Round(temperature*10) / 10,
		Messages:    msgs,
	}
	data, err := json.Marshal(material)
	if err != nil {
		// Message content is always marshallable; this path is dead in
		// practice.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached response for key, refreshing its LRU
// position. Expired entries are removed on access.
func (c *Cache) Lookup(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeLocked(el)
		metrics.CacheMisses.Inc()
		return nil, false
	}
	c.lru.MoveToFront(el)
	metrics.CacheHits.Inc()
	return e.resp, true
}

// Store inserts or replaces the response for key, evicting the least
// recently used entry when over capacity.
func (c *Cache) Store(key string, resp *Response) {
	if key == "" || resp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.resp = resp
		e.expiresAt = expiresAt
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&entry{key: key, resp: resp, expiresAt: expiresAt})
	c.entries[key] = el

	if c.maxEntries > 0 {
		for c.lru.Len() > c.maxEntries {
			c.removeLocked(c.lru.Back())
		}
	}
	metrics.CacheEntries.Set(float64(c.lru.Len()))
}

// Invalidate removes one entry.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

// InvalidateMatching drops every entry the predicate selects.
func (c *Cache) InvalidateMatching(pred func(provider, model string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for el := c.lru.Front(); el != nil; el = next {
		next = el.Next()
		resp := el.Value.(*entry).resp
		if pred(resp.Provider, resp.Model) {
			c.removeLocked(el)
		}
	}
}

// InvalidateProvider drops every entry cached from the given provider.
// Used when a provider's models are reconfigured.
func (c *Cache) InvalidateProvider(provider string) {
	c.InvalidateMatching(func(p, _ string) bool { return p == provider })
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	evicted := 0
	var next *list.Element
	for el := c.lru.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(*entry)
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			c.removeLocked(el)
			evicted++
		}
	}
	if evicted > 0 {
		log.WithComponent("cache").Debug().Int("evicted", evicted).Msg("Expired cache entries removed")
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.entries, e.key)
	metrics.CacheEntries.Set(float64(c.lru.Len()))
}
