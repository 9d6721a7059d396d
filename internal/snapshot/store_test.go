package snapshot

import (
	"bytes"
	"context"
	"testing"

	"github.com/riftdb/riftdb/internal/discovery"
	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/document"
	"github.com/riftdb/riftdb/internal/hlc"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/resolver"
	"github.com/riftdb/riftdb/internal/vectorclock"
)

func newHarness(t *testing.T, nodeID string) (*document.Store, *oplog.Store, *discovery.PeerTable, *Store) {
	t.Helper()
	log := oplog.NewStore(nil)
	docs := document.NewStore(nodeID, hlc.NewClock(nodeID), log, vectorclock.NewCache(), resolver.RecursiveMerge{})
	peers := discovery.NewPeerTable()
	snap := NewStore(nodeID, docs, log, peers)
	return docs, log, peers, snap
}

func TestSnapshot_CreateThenReplaceDatabaseRoundTrips(t *testing.T) {
	docs, _, peers, snap := newHarness(t, "a")

	v, _ := doc.Parse([]byte(`{"name":"widget"}`))
	docs.Put("widgets", "k1", v)
	peers.Upsert(discovery.RemotePeerConfiguration{NodeID: "b", Address: "10.0.0.2:9000", Type: discovery.StaticRemote, IsEnabled: true})

	var buf bytes.Buffer
	if err := snap.CreateSnapshot(&buf, 123456); err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	docs2, log2, peers2, snap2 := newHarness(t, "b")
	if err := snap2.ReplaceDatabase(&buf); err != nil {
		t.Fatalf("ReplaceDatabase failed: %v", err)
	}

	d, ok := docs2.Get("widgets", "k1")
	if !ok {
		t.Fatal("expected document imported")
	}
	name, _ := d.Content.ObjectVal().Get("name")
	if name.StringVal() != "widget" {
		t.Fatalf("expected name=widget, got %s", name.StringVal())
	}

	if len(log2.AllEntries()) != 1 {
		t.Fatalf("expected 1 oplog entry imported, got %d", len(log2.AllEntries()))
	}

	enabled := peers2.Enabled()
	if len(enabled) != 1 || enabled[0].NodeID != "b" {
		t.Fatalf("expected peer b imported, got %+v", enabled)
	}

	hash, ok := snap2.LastHashForNode("a")
	if !ok || hash == "" {
		t.Fatal("expected snapshot checkpoint recorded for node a")
	}
}

func TestSnapshot_MergeSnapshotUsesResolver(t *testing.T) {
	docsA, _, _, snapA := newHarness(t, "a")
	v, _ := doc.Parse([]byte(`{"name":"widget"}`))
	docsA.Put("widgets", "k1", v)

	var buf bytes.Buffer
	if err := snapA.CreateSnapshot(&buf, 1); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	docsB, _, _, snapB := newHarness(t, "b")
	// Seed a pre-existing local doc at the same key so MergeSnapshot must
	// go through the resolver rather than overwrite verbatim.
	vLocal, _ := doc.Parse([]byte(`{"color":"red"}`))
	docsB.Put("widgets", "k1", vLocal)

	err := snapB.MergeSnapshot(&buf, func(entries []oplog.Entry) error {
		return docsB.ApplyBatch(context.Background(), entries)
	})
	if err != nil {
		t.Fatalf("MergeSnapshot failed: %v", err)
	}

	d, ok := docsB.Get("widgets", "k1")
	if !ok {
		t.Fatal("expected merged document present")
	}
	obj := d.Content.ObjectVal()
	if _, ok := obj.Get("color"); !ok {
		t.Fatal("expected local-only field preserved by recursive merge")
	}
	if name, ok := obj.Get("name"); !ok || name.StringVal() != "widget" {
		t.Fatal("expected remote field merged in")
	}
}
