package oplog

import (
	"sort"
	"sync"

	"github.com/riftdb/riftdb/internal/hlc"
)

// SnapshotMetadataLookup is the minimal view the Store needs of the
// snapshot store's prune checkpoints (spec §4.6's GetLastHash fallback).
// The concrete snapshot.Store implements this.
type SnapshotMetadataLookup interface {
	LastHashForNode(nodeID string) (hash string, ts hlc.Timestamp, ok bool)
}

// Store is the in-memory Oplog backend from spec §4.6. A hash index serves
// point lookups and idempotent merges; a per-node ordered slice maintains
// the hash chain.
type Store struct {
	mu sync.RWMutex

	byHash    map[string]Entry
	byNode    map[string][]Entry // ordered ascending by timestamp, per node
	snapshots SnapshotMetadataLookup
}

func NewStore(snapshots SnapshotMetadataLookup) *Store {
	return &Store{
		byHash:    make(map[string]Entry),
		byNode:    make(map[string][]Entry),
		snapshots: snapshots,
	}
}

// Append inserts entry verbatim. The caller (document.Store's CDC path) is
// responsible for supplying a correct PreviousHash; the store does not
// re-derive it on Append, only on GetLastHash queries (spec §4.6).
func (s *Store) Append(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(e)
}

func (s *Store) appendLocked(e Entry) {
	if _, exists := s.byHash[e.Hash]; exists {
		return // idempotent merge
	}
	s.byHash[e.Hash] = e
	node := e.Timestamp.NodeID
	chain := s.byNode[node]
	idx := sort.Search(len(chain), func(i int) bool {
		return chain[i].Timestamp.Compare(e.Timestamp) >= 0
	})
	chain = append(chain, Entry{})
	copy(chain[idx+1:], chain[idx:])
	chain[idx] = e
	s.byNode[node] = chain
}

// Merge appends a batch, dropping entries whose hash already exists
// (spec §4.6 "idempotent on merge").
func (s *Store) Merge(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.appendLocked(e)
	}
}

// GetLastHash returns the hash of the latest entry known from nodeID,
// falling back to the Oplog tail and then to SnapshotMetadata once the
// pre-prune entries are gone (spec §4.6).
func (s *Store) GetLastHash(nodeID string) (string, bool) {
	s.mu.RLock()
	chain := s.byNode[nodeID]
	if len(chain) > 0 {
		hash := chain[len(chain)-1].Hash
		s.mu.RUnlock()
		return hash, true
	}
	s.mu.RUnlock()

	if s.snapshots != nil {
		if hash, _, ok := s.snapshots.LastHashForNode(nodeID); ok {
			return hash, true
		}
	}
	return "", false
}

// GetOplogAfter returns entries strictly greater than ts, ascending,
// optionally filtered to collections (spec §4.6).
func (s *Store) GetOplogAfter(ts hlc.Timestamp, collections map[string]bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, chain := range s.byNode {
		for _, e := range chain {
			if e.Timestamp.Compare(ts) <= 0 {
				continue
			}
			if collections != nil && !collections[e.Collection] {
				continue
			}
			out = append(out, e)
		}
	}
	sortByTimestamp(out)
	return out
}

// GetOplogForNodeAfter returns entries from a single originating node,
// strictly greater than since, ascending, optionally filtered to
// collections (spec §4.6).
func (s *Store) GetOplogForNodeAfter(nodeID string, since hlc.Timestamp, collections map[string]bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.byNode[nodeID]
	idx := sort.Search(len(chain), func(i int) bool {
		return chain[i].Timestamp.Compare(since) > 0
	})
	out := make([]Entry, 0, len(chain)-idx)
	for _, e := range chain[idx:] {
		if collections != nil && !collections[e.Collection] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// GetChainRange returns the entries of startHash's originating node with
// timestamp strictly greater than start and less-than-or-equal to end,
// ascending (spec §4.6).
func (s *Store) GetChainRange(startHash, endHash string) ([]Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, ok := s.byHash[startHash]
	if !ok {
		return nil, false
	}
	end, ok := s.byHash[endHash]
	if !ok {
		return nil, false
	}
	node := start.Timestamp.NodeID
	chain := s.byNode[node]

	var out []Entry
	for _, e := range chain {
		if e.Timestamp.Compare(start.Timestamp) > 0 && e.Timestamp.Compare(end.Timestamp) <= 0 {
			out = append(out, e)
		}
	}
	return out, true
}

// GetEntryByHash is a point lookup (spec §4.6).
func (s *Store) GetEntryByHash(hash string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byHash[hash]
	return e, ok
}

// Prune deletes entries with timestamp <= cutoff. Callers must already
// have persisted a SnapshotMetadata covering the pruned region (spec §4.6,
// §4.7, property 6).
func (s *Store) Prune(cutoff hlc.Timestamp) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for node, chain := range s.byNode {
		idx := sort.Search(len(chain), func(i int) bool {
			return chain[i].Timestamp.Compare(cutoff) > 0
		})
		for _, e := range chain[:idx] {
			delete(s.byHash, e.Hash)
		}
		removed += idx
		remaining := make([]Entry, len(chain)-idx)
		copy(remaining, chain[idx:])
		s.byNode[node] = remaining
	}
	return removed
}

// AllEntries returns every live entry, ascending per node, for snapshot
// export (spec §4.7).
func (s *Store) AllEntries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, chain := range s.byNode {
		out = append(out, chain...)
	}
	sortByTimestamp(out)
	return out
}

// HighestPhysicalPerNode returns, for every node with at least one entry,
// the maximum timestamp.Physical seen — used to seed reconcile.GapTracker
// on startup (spec §4.8).
func (s *Store) HighestPhysicalPerNode() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64, len(s.byNode))
	for node, chain := range s.byNode {
		if len(chain) == 0 {
			continue
		}
		out[node] = chain[len(chain)-1].Timestamp.Physical
	}
	return out
}

func sortByTimestamp(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Compare(entries[j].Timestamp) < 0
	})
}
