package discovery

import (
	"sync"
	"time"
)

// PeerTable holds the persistent, replicated RemotePeerConfiguration set
// (spec §4.9). Mutations arrive via a document.Store.OnChange listener
// watching the PeerCollection ("__peers") — registered in cmd/riftd's
// main, see peerdoc.go for the wire encoding — so the table itself is a
// plain guarded map with no replication logic of its own.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[string]RemotePeerConfiguration
}

func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[string]RemotePeerConfiguration)}
}

func (t *PeerTable) Upsert(cfg RemotePeerConfiguration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[cfg.NodeID] = cfg
}

func (t *PeerTable) Remove(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, nodeID)
}

// Enabled returns the subset of persistent peers with IsEnabled set, each
// surfaced with lastSeen = now (spec §4.9: "A refresher reads the enabled
// subset every N minutes and exposes them as active peers with
// lastSeen = now").
func (t *PeerTable) Enabled() []RemotePeer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	out := make([]RemotePeer, 0, len(t.peers))
	for _, cfg := range t.peers {
		if !cfg.IsEnabled {
			continue
		}
		out = append(out, RemotePeer{
			NodeID:   cfg.NodeID,
			Address:  cfg.Address,
			Type:     cfg.Type,
			LastSeen: now,
		})
	}
	return out
}

// Registry is the unified view of spec §4.9: GetActivePeers() combining
// the UDP beacon's ephemeral table with the persistent peer table's
// enabled subset.
type Registry struct {
	nodeID string
	beacon *Beacon
	table  *PeerTable
}

func NewRegistry(nodeID string, beacon *Beacon, table *PeerTable) *Registry {
	return &Registry{nodeID: nodeID, beacon: beacon, table: table}
}

// GetActivePeers returns the union of beacon-discovered and persistent
// enabled peers, excluding the local node, deduplicated by NodeID
// (persistent entries take precedence over a same-node beacon sighting).
func (r *Registry) GetActivePeers() []RemotePeer {
	seen := make(map[string]bool)
	var out []RemotePeer

	for _, p := range r.table.Enabled() {
		if p.NodeID == r.nodeID {
			continue
		}
		seen[p.NodeID] = true
		out = append(out, p)
	}
	for _, p := range r.beacon.ActivePeers() {
		if p.NodeID == r.nodeID || seen[p.NodeID] {
			continue
		}
		out = append(out, p)
	}
	return out
}
