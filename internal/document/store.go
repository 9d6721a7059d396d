package document

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/errs"
	"github.com/riftdb/riftdb/internal/hlc"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/resolver"
	"github.com/riftdb/riftdb/internal/vectorclock"
)

// ChangeListener is notified after every mutation — local (Put/Delete) or
// remote (ApplyBatch) — with the entries that were applied (spec §4.5
// step 6, "Emit a ChangesApplied notification").
type ChangeListener func(entries []oplog.Entry)

// Store is the Document store with Change Data Capture of spec §4.5. A
// single golang.org/x/sync/semaphore.Weighted(1) guard — the spec's
// "binary semaphore or equivalent" — distinguishes the local-write path
// (which emits Oplog entries) from the remote-apply path (which must not,
// since it would duplicate what it is importing).
type Store struct {
	mu        sync.RWMutex
	nodeID    string
	documents map[string]Document // "collection/key" -> Document

	clock    *hlc.Clock
	oplog    *oplog.Store
	vc       *vectorclock.Cache
	resolver resolver.Resolver
	guard    *semaphore.Weighted

	listenersMu sync.Mutex
	listeners   []ChangeListener
}

func NewStore(nodeID string, clock *hlc.Clock, log *oplog.Store, vc *vectorclock.Cache, res resolver.Resolver) *Store {
	return &Store{
		nodeID:    nodeID,
		documents: make(map[string]Document),
		clock:     clock,
		oplog:     log,
		vc:        vc,
		resolver:  res,
		guard:     semaphore.NewWeighted(1),
	}
}

func docKey(collection, key string) string {
	return collection + "/" + key
}

// Get returns the materialized document for (collection, key), if present
// and not a tombstone.
func (s *Store) Get(collection, key string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[docKey(collection, key)]
	if !ok || d.IsDeleted {
		return Document{}, false
	}
	return d, true
}

// OnChange registers a listener invoked after every local write (Put or
// Delete) and every successful ApplyBatch.
func (s *Store) OnChange(l ChangeListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Put is the local write path of spec §4.5: mutate storage, generate an
// HLC timestamp, chain it onto this node's previous hash, persist the
// Oplog entry, and advance the Vector Clock. Local writes always win —
// they are this node's own causally-next event, so no resolver runs.
func (s *Store) Put(collection, key string, content doc.Value) (oplog.Entry, error) {
	return s.localWrite(collection, key, oplog.OpPut, content)
}

// Delete is the local tombstone write path.
func (s *Store) Delete(collection, key string) (oplog.Entry, error) {
	return s.localWrite(collection, key, oplog.OpDelete, doc.Null())
}

func (s *Store) localWrite(collection, key string, op oplog.Op, content doc.Value) (oplog.Entry, error) {
	s.mu.Lock()

	ts := s.clock.Now()
	prevHash, _ := s.previousHashLocked(s.nodeID)

	entry := oplog.New(collection, key, op, content, ts, prevHash, 0)

	dk := docKey(collection, key)
	s.documents[dk] = Document{
		Collection: collection,
		Key:        key,
		Content:    content,
		UpdatedAt:  ts,
		IsDeleted:  op == oplog.OpDelete,
	}

	s.oplog.Append(entry)
	s.vc.Update(ts, entry.Hash)
	s.mu.Unlock()

	s.notify([]oplog.Entry{entry})
	return entry, nil
}

// notify fans entries out to every registered ChangeListener.
func (s *Store) notify(entries []oplog.Entry) {
	s.listenersMu.Lock()
	listeners := append([]ChangeListener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, l := range listeners {
		l(entries)
	}
}

// previousHashLocked resolves the previous-hash for nodeID from the Vector
// Clock cache first, falling back to the Oplog store (spec §4.5 step:
// "read previous-hash for this node from Vector Clock (or Oplog)").
// Caller must hold s.mu.
func (s *Store) previousHashLocked(nodeID string) (string, bool) {
	if hash, ok := s.vc.GetLastHash(nodeID); ok {
		return hash, true
	}
	return s.oplog.GetLastHash(nodeID)
}

// ApplyBatch is the remote-apply path of spec §4.5. It acquires the
// remote-sync guard so local-write CDC emission and this import never
// interleave, groups entries by (collection, key), resolves each group
// through the configured Resolver, merges all entries into the Oplog
// (idempotently), reseeds the Vector Clock, and notifies listeners.
// Entries whose hash does not verify are skipped; the rest are applied
// and a Chain error reports how many were skipped.
func (s *Store) ApplyBatch(ctx context.Context, entries []oplog.Entry) error {
	valid := make([]oplog.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Valid() {
			valid = append(valid, e)
		}
	}
	var chainErr error
	if skipped := len(entries) - len(valid); skipped > 0 {
		chainErr = errs.New(errs.Chain, "document.ApplyBatch", fmt.Errorf("%d entries failed hash verification", skipped))
	}
	entries = valid
	if len(entries) == 0 {
		return chainErr
	}
	if err := s.guard.Acquire(ctx, 1); err != nil {
		return errs.New(errs.Concurrency, "document.ApplyBatch", err)
	}
	defer s.guard.Release(1)

	s.mu.Lock()
	groups := groupByDocument(entries)
	for _, group := range groups {
		resolver.SortEntriesByTimestamp(group)
		s.applyGroupLocked(group)
	}
	s.mu.Unlock()

	s.oplog.Merge(entries)
	s.reseedVectorClock()
	s.notify(entries)
	return chainErr
}

// applyGroupLocked folds one (collection,key) group, already sorted
// ascending by HLC, through the resolver. If the group holds a Delete, the
// document becomes a tombstone at the first Delete's timestamp and the
// group's Puts are skipped. Caller must hold s.mu.
func (s *Store) applyGroupLocked(group []oplog.Entry) {
	dk := docKey(group[0].Collection, group[0].Key)

	for _, e := range group {
		if e.Op == oplog.OpDelete {
			s.documents[dk] = Document{Collection: e.Collection, Key: e.Key, Content: e.Payload, UpdatedAt: e.Timestamp, IsDeleted: true}
			return
		}
	}

	var current *Document
	if d, ok := s.documents[dk]; ok {
		current = &d
	}

	for _, e := range group {
		res := s.resolver.Resolve(current, e)
		if res.Apply {
			current = &res.Merged
		}
	}

	if current != nil {
		s.documents[dk] = *current
	}
}

// groupByDocument partitions entries by (collection, key), preserving
// first-seen group order for determinism.
func groupByDocument(entries []oplog.Entry) [][]oplog.Entry {
	index := make(map[string]int)
	var groups [][]oplog.Entry
	for _, e := range entries {
		dk := docKey(e.Collection, e.Key)
		i, ok := index[dk]
		if !ok {
			index[dk] = len(groups)
			groups = append(groups, []oplog.Entry{e})
			continue
		}
		groups[i] = append(groups[i], e)
	}
	return groups
}

// reseedVectorClock invalidates the cache and rebuilds it from the Oplog's
// per-node chain tails (spec §4.5 step 5, §4.4 Invalidate contract).
func (s *Store) reseedVectorClock() {
	s.vc.Invalidate()

	s.mu.RLock()
	defer s.mu.RUnlock()

	highest := s.oplog.HighestPhysicalPerNode()
	nodes := make([]string, 0, len(highest))
	for node := range highest {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	seed := make(map[string]vectorclock.Entry, len(nodes))
	for _, node := range nodes {
		hash, ok := s.oplog.GetLastHash(node)
		if !ok {
			continue
		}
		entries := s.oplog.GetOplogForNodeAfter(node, hlc.Timestamp{}, nil)
		if len(entries) == 0 {
			continue
		}
		last := entries[len(entries)-1]
		seed[node] = vectorclock.Entry{Timestamp: last.Timestamp, Hash: hash}
	}
	s.vc.Seed(seed)
}

// AllDocuments returns every live (non-tombstone) document, used by
// snapshot export (spec §4.7).
func (s *Store) AllDocuments() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Document, 0, len(s.documents))
	for _, d := range s.documents {
		if !d.IsDeleted {
			out = append(out, d)
		}
	}
	return out
}

// LoadVerbatim installs documents without going through the resolver —
// used by snapshot.ReplaceDatabase (spec §4.7), which imports a peer's
// state wholesale rather than merging it.
func (s *Store) LoadVerbatim(docs []Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = make(map[string]Document, len(docs))
	for _, d := range docs {
		s.documents[docKey(d.Collection, d.Key)] = d
	}
}
