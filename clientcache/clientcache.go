// Package clientcache is the RSU-side mapping from an OBU client's MAC to
// the mesh neighbor it was last observed arriving through, used by the
// downstream forwarding path to unicast rather than flood a reply frame.
package clientcache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/cvsouth/vanet-mesh/mac"
)

// DefaultTTL ages out a client that roamed off this RSU's mesh without
// ever sending another upstream frame to refresh its entry.
const DefaultTTL = 5 * time.Minute

// DefaultSweep is how often go-cache scans for expired entries.
const DefaultSweep = 1 * time.Minute

// Cache maps an OBU's MAC to the mesh neighbor (a direct link-layer peer
// of this RSU) it was last seen arriving via. Safe for concurrent use;
// go-cache's own locking makes both reads and writes fine-grained, so the
// forwarding plane's hot path never blocks behind a single table-wide
// mutex the way the routing table's control-plane writer does.
type Cache struct {
	c *gocache.Cache
}

// New constructs a Cache with the given TTL and sweep interval. Passing
// ttl <= 0 selects DefaultTTL.
func New(ttl, sweep time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweep <= 0 {
		sweep = DefaultSweep
	}
	return &Cache{c: gocache.New(ttl, sweep)}
}

// Observe records that client was last seen arriving via neighbor,
// resetting its TTL.
func (c *Cache) Observe(client, via mac.Addr) {
	c.c.Set(client.String(), via, gocache.DefaultExpiration)
}

// Lookup returns the neighbor client was last observed via, or false if
// the client is unknown or its entry has expired.
func (c *Cache) Lookup(client mac.Addr) (mac.Addr, bool) {
	v, ok := c.c.Get(client.String())
	if !ok {
		return mac.Addr{}, false
	}
	return v.(mac.Addr), true
}

// Len reports the number of live (non-expired) entries.
func (c *Cache) Len() int {
	return c.c.ItemCount()
}
