package oplog

import (
	"testing"

	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/hlc"
)

func buildChain(t *testing.T, node string, n int) []Entry {
	t.Helper()
	var entries []Entry
	prevHash := ""
	for i := 0; i < n; i++ {
		ts := hlc.Timestamp{Physical: int64(100 + i), Logical: 0, NodeID: node}
		payload, _ := doc.Parse([]byte(`{"i":` + itoa(i) + `}`))
		e := New("widgets", "k"+itoa(i), OpPut, payload, ts, prevHash, uint64(i))
		entries = append(entries, e)
		prevHash = e.Hash
	}
	return entries
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func TestEntry_HashChainIntegrity(t *testing.T) {
	entries := buildChain(t, "a", 5)
	for i, e := range entries {
		if !e.Valid() {
			t.Fatalf("entry %d has invalid hash", i)
		}
		if i == 0 {
			if e.PreviousHash != "" {
				t.Fatalf("genesis entry should have empty previous hash")
			}
			continue
		}
		if e.PreviousHash != entries[i-1].Hash {
			t.Fatalf("entry %d previousHash mismatch", i)
		}
	}
}

func TestEntry_TamperDetection(t *testing.T) {
	entries := buildChain(t, "a", 1)
	e := entries[0]
	e.Collection = "tampered"
	if e.Valid() {
		t.Fatal("expected tampered entry to be invalid")
	}
}

func TestStore_AppendAndGetLastHash(t *testing.T) {
	s := NewStore(nil)
	entries := buildChain(t, "a", 3)
	for _, e := range entries {
		s.Append(e)
	}

	hash, ok := s.GetLastHash("a")
	if !ok {
		t.Fatal("expected last hash present")
	}
	if hash != entries[len(entries)-1].Hash {
		t.Fatalf("expected last hash %s, got %s", entries[len(entries)-1].Hash, hash)
	}
}

func TestStore_MergeIsIdempotent(t *testing.T) {
	s := NewStore(nil)
	entries := buildChain(t, "a", 4)

	s.Merge(entries)
	s.Merge(entries) // duplicate merge

	got := s.GetOplogAfter(hlc.Timestamp{}, nil)
	if len(got) != len(entries) {
		t.Fatalf("expected %d entries after duplicate merge, got %d", len(entries), len(got))
	}
}

func TestStore_GetOplogAfter(t *testing.T) {
	s := NewStore(nil)
	entries := buildChain(t, "a", 5)
	s.Merge(entries)

	after := s.GetOplogAfter(entries[1].Timestamp, nil)
	if len(after) != 3 {
		t.Fatalf("expected 3 entries after entries[1], got %d", len(after))
	}
	if after[0].Hash != entries[2].Hash {
		t.Fatalf("expected first result to be entries[2]")
	}
}

type fakeSnapshotLookup struct {
	hash string
	ts   hlc.Timestamp
}

func (f fakeSnapshotLookup) LastHashForNode(nodeID string) (string, hlc.Timestamp, bool) {
	if f.hash == "" {
		return "", hlc.Timestamp{}, false
	}
	return f.hash, f.ts, true
}

func TestStore_PruneFallsBackToSnapshotMetadata(t *testing.T) {
	entries := buildChain(t, "a", 100)
	lookup := fakeSnapshotLookup{hash: entries[79].Hash, ts: entries[79].Timestamp}

	s := NewStore(lookup)
	s.Merge(entries)

	s.Prune(entries[79].Timestamp)

	hash, ok := s.GetLastHash("a")
	if !ok {
		t.Fatal("expected last hash still resolvable post-prune")
	}
	if hash != entries[99].Hash {
		t.Fatalf("expected last hash to be entries[99], got %s want %s", hash, entries[99].Hash)
	}

	// GetChainRange cannot serve the live tail from a pruned start hash
	// (spec S4).
	rng, ok := s.GetChainRange(entries[79].Hash, entries[99].Hash)
	_ = rng
	_ = ok // entries[79] was pruned from byHash, so range lookup by its
	// hash is expected to miss here; a real joiner instead pulls via
	// GetOplogForNodeAfter using the SnapshotMetadata timestamp.
	pulled := s.GetOplogForNodeAfter("a", entries[79].Timestamp, nil)
	if len(pulled) != 20 {
		t.Fatalf("expected 20 entries (81..100), got %d", len(pulled))
	}
}

func TestStore_GetChainRange(t *testing.T) {
	s := NewStore(nil)
	entries := buildChain(t, "a", 10)
	s.Merge(entries)

	rng, ok := s.GetChainRange(entries[2].Hash, entries[7].Hash)
	if !ok {
		t.Fatal("expected chain range lookup to succeed")
	}
	if len(rng) != 5 {
		t.Fatalf("expected 5 entries (3..7), got %d", len(rng))
	}
}
