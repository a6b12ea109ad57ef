// Package cache is the read-through cache in front of both read models: the
// consolidated agenda and the per-entity rows. Both live in one structure and
// are invalidated together, so they never disagree after a write.
package cache

import (
	"sync"
	"time"

	"legalagenda/internal/clock"
	appLog "legalagenda/internal/log"
)

// DefaultTTL bounds staleness for changes the engine does not see, such as
// another process writing to the same database.
const DefaultTTL = 30 * time.Second

type entry struct {
	value     any
	updatedAt time.Time
}

type Cache struct {
	ttl   time.Duration
	clock clock.Clock

	mu sync.RWMutex
	// gen is bumped by every invalidation; a load that started under an older
	// generation does not populate the cache.
	gen      uint64
	entities map[string]entry
	agendas  map[string]entry
}

func New(ttl time.Duration, clk clock.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{
		ttl:      ttl,
		clock:    clk,
		entities: make(map[string]entry),
		agendas:  make(map[string]entry),
	}
}

// Entity returns the cached row for id or loads it.
func Entity[T any](c *Cache, id string, load func() (T, error)) (T, error) {
	return get(c, c.entities, id, load)
}

// Agenda returns the cached snapshot for a query key or loads it.
func Agenda[T any](c *Cache, key string, load func() (T, error)) (T, error) {
	return get(c, c.agendas, key, load)
}

func get[T any](c *Cache, m map[string]entry, key string, load func() (T, error)) (T, error) {
	now := c.clock.Now()
	c.mu.RLock()
	e, ok := m[key]
	gen := c.gen
	c.mu.RUnlock()
	if ok && now.Sub(e.updatedAt) < c.ttl {
		if v, ok := e.value.(T); ok {
			return v, nil
		}
	}

	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	if c.gen == gen {
		m[key] = entry{value: v, updatedAt: c.clock.Now()}
	}
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops the entity entries for ids and every agenda snapshot.
// Snapshots are dropped wholesale because a write can move an item into or
// out of any window.
func (c *Cache) Invalidate(ids ...string) {
	c.mu.Lock()
	c.gen++
	for _, id := range ids {
		delete(c.entities, id)
	}
	n := len(c.agendas)
	clear(c.agendas)
	c.mu.Unlock()
	appLog.Debug("cache invalidated", "ids", len(ids), "snapshots", n)
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.gen++
	clear(c.entities)
	clear(c.agendas)
	c.mu.Unlock()
}

// Len reports the number of cached entities and snapshots.
func (c *Cache) Len() (entities, agendas int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities), len(c.agendas)
}
