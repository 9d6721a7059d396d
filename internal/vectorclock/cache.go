// Package vectorclock is the thread-safe NodeId→{Timestamp,Hash} cache of
// spec §4.4. Unlike a counter-keyed VectorClock, entries are ordered by the
// total HLC order rather than dominance, since every write already carries a
// globally comparable timestamp.
package vectorclock

import (
	"sync"

	"github.com/riftdb/riftdb/internal/hlc"
)

// Entry pairs the latest known timestamp for a node with the hash of the
// Oplog entry that produced it.
type Entry struct {
	Timestamp hlc.Timestamp
	Hash      string
}

// Cache is the Vector Clock Service of spec §4.4.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Update records the HLC/hash pair for entry.Timestamp.NodeID iff it is
// strictly greater than what is already stored (spec §4.4 monotonicity).
func (c *Cache) Update(ts hlc.Timestamp, hash string) {
	c.UpdateNode(ts.NodeID, ts, hash)
}

// UpdateNode is the same monotonic write, addressed directly by nodeId
// rather than derived from a timestamp's embedded NodeID; Update
// delegates to it.
func (c *Cache) UpdateNode(nodeID string, ts hlc.Timestamp, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.entries[nodeID]
	if ok && !ts.Greater(existing.Timestamp) {
		return
	}
	c.entries[nodeID] = Entry{Timestamp: ts, Hash: hash}
}

// GetVectorClock returns a defensive copy of the full NodeId→Entry map.
func (c *Cache) GetVectorClock() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// GetLatestTimestamp returns the maximum timestamp across all entries, or
// the zero timestamp (0, 0, "") if the cache is empty (spec §4.4).
func (c *Cache) GetLatestTimestamp() hlc.Timestamp {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var latest hlc.Timestamp
	first := true
	for _, e := range c.entries {
		if first || e.Timestamp.Greater(latest) {
			latest = e.Timestamp
			first = false
		}
	}
	return latest
}

// GetLastHash returns the cached hash for nodeID.
func (c *Cache) GetLastHash(nodeID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[nodeID]
	return e.Hash, ok
}

// Invalidate clears the cache. The next query must re-seed from the Oplog
// and SnapshotMetadata (spec §4.4); the cache itself holds no reference to
// either so the caller (document.Store) performs the reseed.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Seed bulk-loads entries, keeping an existing entry unless the seeded
// timestamp is strictly greater, used once at
// startup or immediately after Invalidate to repopulate from persisted
// state (oplog.Store.HighestPhysicalPerNode + GetLastHash, or
// SnapshotMetadata for pruned nodes).
func (c *Cache) Seed(entries map[string]Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for node, e := range entries {
		existing, ok := c.entries[node]
		if !ok || e.Timestamp.Greater(existing.Timestamp) {
			c.entries[node] = e
		}
	}
}
