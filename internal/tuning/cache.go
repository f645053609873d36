package tuning

import (
	"sync"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// Entry is a memoised evaluation outcome.
type Entry struct {
	Energy float64
	Err    error
}

// Cache memoises energies by state. Unevaluable outcomes are stored too so
// a crashing configuration is not benchmarked again.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	hits    uint64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Get returns the stored outcome for st.
func (c *Cache) Get(st optimization.State) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[st.String()]
	if ok {
		c.hits++
	}
	return e, ok
}

// Put stores the outcome for st.
func (c *Cache) Put(st optimization.State, energy float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[st.String()] = Entry{Energy: energy, Err: err}
}

// Contains reports whether st has been evaluated, without counting a hit.
func (c *Cache) Contains(st optimization.State) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[st.String()]
	return ok
}

// Len returns the number of stored states.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Hits returns how many lookups were answered from the cache.
func (c *Cache) Hits() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits
}
