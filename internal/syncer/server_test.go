package syncer

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/riftdb/riftdb/internal/auth"
	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/document"
	"github.com/riftdb/riftdb/internal/hlc"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/resolver"
	"github.com/riftdb/riftdb/internal/snapshot"
	"github.com/riftdb/riftdb/internal/vectorclock"
)

type harness struct {
	store    *document.Store
	oplogLog *oplog.Store
	vc       *vectorclock.Cache
	listener net.Listener
}

func newServerHarness(t *testing.T, nodeID, secret string) *harness {
	t.Helper()
	oplogLog := oplog.NewStore(nil)
	vc := vectorclock.NewCache()
	clock := hlc.NewClock(nodeID)
	store := document.NewStore(nodeID, clock, oplogLog, vc, resolver.LWW{})

	authenticator, err := auth.NewSharedSecretAuthenticator(secret)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := NewServer(nodeID, listener, authenticator, false, store, oplogLog, vc, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(cancel)

	return &harness{store: store, oplogLog: oplogLog, vc: vc, listener: listener}
}

func TestServer_HandshakeRejectsBadSecret(t *testing.T) {
	h := newServerHarness(t, "node-a", "correct-secret")

	_, err := DialClient(h.listener.Addr().String(), time.Second,
		auth.Credential{NodeID: "node-b", SharedSecret: "wrong-secret"}, false)
	if err == nil {
		t.Fatal("expected handshake with wrong secret to fail")
	}
}

func TestServer_GetClockAndPullChanges(t *testing.T) {
	h := newServerHarness(t, "node-a", "shared-secret")

	if _, err := h.store.Put("widgets", "k1", doc.String("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}

	client, err := DialClient(h.listener.Addr().String(), time.Second,
		auth.Credential{NodeID: "node-b", SharedSecret: "shared-secret"}, false)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	clock, err := client.GetClock()
	if err != nil {
		t.Fatalf("GetClock: %v", err)
	}
	if clock.IsZero() {
		t.Fatal("expected non-zero latest clock after a local write")
	}

	entries, err := client.PullChanges(hlc.Timestamp{})
	if err != nil {
		t.Fatalf("PullChanges: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "k1" {
		t.Fatalf("expected 1 entry for k1, got %+v", entries)
	}
}

// newSnapshotServerHarness is like newServerHarness but wires a real
// snapshot.Store, for tests exercising MsgSnapshotRequest/MsgSnapshotOffer.
func newSnapshotServerHarness(t *testing.T, nodeID, secret string) *harness {
	t.Helper()
	oplogLog := oplog.NewStore(nil)
	vc := vectorclock.NewCache()
	clock := hlc.NewClock(nodeID)
	store := document.NewStore(nodeID, clock, oplogLog, vc, resolver.LWW{})
	snapshots := snapshot.NewStore(nodeID, store, oplogLog, nil)

	authenticator, err := auth.NewSharedSecretAuthenticator(secret)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := NewServer(nodeID, listener, authenticator, false, store, oplogLog, vc, snapshots, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(cancel)

	return &harness{store: store, oplogLog: oplogLog, vc: vc, listener: listener}
}

// TestServer_SnapshotRequestReturnsOffer: a node with no local knowledge of
// a peer can pull a full snapshot over the sync connection itself and merge
// it in, rather than only being able to bootstrap from a local snapshot.bin
// (spec §4.7: "used to bootstrap a brand-new joining node").
func TestServer_SnapshotRequestReturnsOffer(t *testing.T) {
	h := newSnapshotServerHarness(t, "node-a", "shared-secret")

	if _, err := h.store.Put("widgets", "k1", doc.String("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}

	client, err := DialClient(h.listener.Addr().String(), time.Second,
		auth.Credential{NodeID: "node-b", SharedSecret: "shared-secret"}, false)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	data, err := client.PullSnapshot()
	if err != nil {
		t.Fatalf("PullSnapshot: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty snapshot bytes")
	}

	joinerOplog := oplog.NewStore(nil)
	joinerVC := vectorclock.NewCache()
	joinerClock := hlc.NewClock("node-c")
	joiner := document.NewStore("node-c", joinerClock, joinerOplog, joinerVC, resolver.LWW{})
	joinerSnapshots := snapshot.NewStore("node-c", joiner, joinerOplog, nil)

	err = joinerSnapshots.MergeSnapshot(bytes.NewReader(data), func(entries []oplog.Entry) error {
		return joiner.ApplyBatch(context.Background(), entries)
	})
	if err != nil {
		t.Fatalf("MergeSnapshot: %v", err)
	}

	got, ok := joiner.Get("widgets", "k1")
	if !ok || got.Content.StringVal() != "hello" {
		t.Fatalf("expected joiner to have widgets/k1 after merging snapshot, got %+v ok=%v", got, ok)
	}
}

func TestServer_PushChangesAppliesRemoteEntry(t *testing.T) {
	h := newServerHarness(t, "node-a", "shared-secret")

	client, err := DialClient(h.listener.Addr().String(), time.Second,
		auth.Credential{NodeID: "node-b", SharedSecret: "shared-secret"}, false)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	remote := oplog.New("widgets", "k2", oplog.OpPut, doc.String("from node-b"),
		hlc.Timestamp{Physical: 1000, NodeID: "node-b"}, "", 1)

	ack, err := client.PushChanges([]oplog.Entry{remote})
	if err != nil {
		t.Fatalf("PushChanges: %v", err)
	}
	if ack.Accepted != 1 || ack.Rejected != 0 {
		t.Fatalf("expected 1 accepted 0 rejected, got %+v", ack)
	}

	got, ok := h.store.Get("widgets", "k2")
	if !ok || got.Content.StringVal() != "from node-b" {
		t.Fatalf("expected pushed entry to be applied, got %+v ok=%v", got, ok)
	}
}
