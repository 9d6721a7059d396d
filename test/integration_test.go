// Package test carries end-to-end convergence scenarios exercising
// multiple nodes together, as opposed to the single-package unit tests
// living alongside each internal package.
package test

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/riftdb/riftdb/internal/auth"
	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/document"
	"github.com/riftdb/riftdb/internal/hlc"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/resolver"
	"github.com/riftdb/riftdb/internal/snapshot"
	"github.com/riftdb/riftdb/internal/syncer"
	"github.com/riftdb/riftdb/internal/vectorclock"
)

func parseJSON(t *testing.T, raw string) doc.Value {
	t.Helper()
	v, err := doc.Parse([]byte(raw))
	require.NoError(t, err, "parse %q", raw)
	return v
}

// node bundles one in-process node's state for scenario tests.
type node struct {
	id       string
	clock    *hlc.Clock
	oplogLog *oplog.Store
	vc       *vectorclock.Cache
	store    *document.Store
	listener net.Listener
	server   *syncer.Server
}

func newNode(t *testing.T, id, secret string) *node {
	t.Helper()
	oplogLog := oplog.NewStore(nil)
	vc := vectorclock.NewCache()
	clock := hlc.NewClock(id)
	store := document.NewStore(id, clock, oplogLog, vc, resolver.LWW{})

	authenticator, err := auth.NewSharedSecretAuthenticator(secret)
	require.NoError(t, err, "new authenticator")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := syncer.NewServer(id, listener, authenticator, false, store, oplogLog, vc, nil, zap.NewNop())

	return &node{id: id, clock: clock, oplogLog: oplogLog, vc: vc, store: store, listener: listener, server: srv}
}

func (n *node) serve(ctx context.Context, t *testing.T) {
	t.Helper()
	go n.server.Serve(ctx)
}

// syncOnce pulls everything from's node doesn't have yet into to, simulating
// one gossip cycle without waiting for the real orchestrator's timer.
func syncOnce(t *testing.T, from *node, to *node, secret string) {
	t.Helper()
	client, err := syncer.DialClient(from.listener.Addr().String(), time.Second,
		auth.Credential{NodeID: to.id, SharedSecret: secret}, false)
	require.NoError(t, err, "dial %s", from.id)
	defer client.Close()

	entries, err := client.PullChanges(to.vc.GetLatestTimestamp())
	require.NoError(t, err, "pull from %s", from.id)
	if len(entries) == 0 {
		return
	}
	require.NoError(t, to.store.ApplyBatch(context.Background(), entries), "apply pulled entries on %s", to.id)
}

// TestS1_TwoNodePutGet: A writes users/u1; after one sync cycle B observes
// the same value.
func TestS1_TwoNodePutGet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newNode(t, "a", "shared-secret")
	b := newNode(t, "b", "shared-secret")
	a.serve(ctx, t)
	b.serve(ctx, t)

	_, err := a.store.Put("users", "u1", parseJSON(t, `{"name":"Alice","age":30}`))
	require.NoError(t, err, "put on a")

	syncOnce(t, a, b, "shared-secret")

	got, ok := b.store.Get("users", "u1")
	require.True(t, ok, "expected b to have users/u1 after sync")
	name, _ := got.Content.ObjectVal().Get("name")
	require.Equal(t, "Alice", name.StringVal())
}

// TestS2_ConflictLWW: concurrent writes at different HLC timestamps
// converge to the higher-timestamp value on both nodes.
func TestS2_ConflictLWW(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newNode(t, "a", "shared-secret")
	b := newNode(t, "b", "shared-secret")
	a.serve(ctx, t)
	b.serve(ctx, t)

	seed := oplog.New("users", "u1", oplog.OpPut, parseJSON(t, `{"name":"X"}`),
		hlc.Timestamp{Physical: 100, NodeID: "a"}, "", 1)
	require.NoError(t, a.store.ApplyBatch(ctx, []oplog.Entry{seed}), "seed a")
	require.NoError(t, b.store.ApplyBatch(ctx, []oplog.Entry{seed}), "seed b")

	entryA := oplog.New("users", "u1", oplog.OpPut, parseJSON(t, `{"name":"A"}`),
		hlc.Timestamp{Physical: 200, NodeID: "a"}, seed.Hash, 2)
	entryB := oplog.New("users", "u1", oplog.OpPut, parseJSON(t, `{"name":"B"}`),
		hlc.Timestamp{Physical: 210, NodeID: "b"}, "", 1)

	require.NoError(t, a.store.ApplyBatch(ctx, []oplog.Entry{entryA}), "apply a-write on a")
	require.NoError(t, b.store.ApplyBatch(ctx, []oplog.Entry{entryB}), "apply b-write on b")

	// cross-apply the other side's concurrent write, simulating convergence.
	require.NoError(t, a.store.ApplyBatch(ctx, []oplog.Entry{entryB}), "apply b-write on a")
	require.NoError(t, b.store.ApplyBatch(ctx, []oplog.Entry{entryA}), "apply a-write on b")

	gotA, _ := a.store.Get("users", "u1")
	gotB, _ := b.store.Get("users", "u1")
	nameA, _ := gotA.Content.ObjectVal().Get("name")
	nameB, _ := gotB.Content.ObjectVal().Get("name")
	require.Equal(t, "B", nameA.StringVal(), "a should converge to the higher-timestamp write")
	require.Equal(t, "B", nameB.StringVal(), "b should converge to the higher-timestamp write")
}

// TestS3_ConflictStructuralMerge: concurrent edits to a shared
// object-array document merge by id rather than one side clobbering the
// other: ids unique to either side survive, and ids touched by both sides
// take the side folded in last.
func TestS3_ConflictStructuralMerge(t *testing.T) {
	local := &document.Document{
		Collection: "lists", Key: "todo",
		Content:   parseJSON(t, `{"items":[{"id":"1","done":true},{"id":"2","done":false},{"id":"3","done":false}]}`),
		UpdatedAt: hlc.Timestamp{Physical: 100, NodeID: "a"},
	}
	remote := oplog.New("lists", "todo", oplog.OpPut,
		parseJSON(t, `{"items":[{"id":"1","done":false},{"id":"2","done":true},{"id":"4","done":false}]}`),
		hlc.Timestamp{Physical: 110, NodeID: "b"}, "", 1)

	res := resolver.RecursiveMerge{}.Resolve(local, remote)
	require.True(t, res.Apply, "expected merge to apply")

	itemsField, ok := res.Merged.Content.ObjectVal().Get("items")
	require.True(t, ok, "expected merged document to retain the items field")
	items := itemsField.ArrayItems()
	require.Len(t, items, 4, "expected 4 merged items (ids 1,2,3,4 exactly once)")

	seen := make(map[string]bool)
	for _, item := range items {
		id, ok := doc.ArrayID(item)
		require.True(t, ok, "expected every merged item to carry an id")
		require.False(t, seen[id], "expected id %s to appear exactly once in the merge", id)
		seen[id] = true
	}
	for _, id := range []string{"1", "2", "3", "4"} {
		require.True(t, seen[id], "expected item %s present in merge", id)
	}
}

// TestS4_ChainAfterPrune: after pruning entries covered by a checkpoint,
// GetLastHash still reports the latest entry's hash rather than a stale
// pre-prune one.
func TestS4_ChainAfterPrune(t *testing.T) {
	oplogLog := oplog.NewStore(nil)
	vc := vectorclock.NewCache()
	clock := hlc.NewClock("a")
	store := document.NewStore("a", clock, oplogLog, vc, resolver.LWW{})
	snapshots := snapshot.NewStore("a", store, oplogLog, nil)

	var last oplog.Entry
	for i := 1; i <= 100; i++ {
		e := oplog.New("widgets", "k", oplog.OpPut, doc.Number(json.Number(strconv.Itoa(i))),
			hlc.Timestamp{Physical: int64(i), NodeID: "a"}, last.Hash, uint64(i))
		require.NoError(t, store.ApplyBatch(context.Background(), []oplog.Entry{e}), "apply entry %d", i)
		last = e
		if i == 80 {
			require.NoError(t, snapshots.CreateSnapshot(&memBuffer{}, 80), "create snapshot")
			oplogLog.Prune(hlc.Timestamp{Physical: 80, NodeID: "a"})
		}
	}

	hash, ok := oplogLog.GetLastHash("a")
	require.True(t, ok)
	require.Equal(t, last.Hash, hash, "expected last hash to equal entry 100's hash")
}

type memBuffer struct{ data []byte }

func (b *memBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// TestS6_AuthRejectionDoesNotCrash: a bad credential is rejected cleanly
// and the server keeps serving subsequent, correctly-authenticated
// connections.
func TestS6_AuthRejectionDoesNotCrash(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newNode(t, "a", "correct-secret")
	a.serve(ctx, t)

	_, err := syncer.DialClient(a.listener.Addr().String(), time.Second,
		auth.Credential{NodeID: "b", SharedSecret: "wrong-secret"}, false)
	require.Error(t, err, "expected handshake with wrong secret to fail")

	client, err := syncer.DialClient(a.listener.Addr().String(), time.Second,
		auth.Credential{NodeID: "b", SharedSecret: "correct-secret"}, false)
	require.NoError(t, err, "expected subsequent correct handshake to succeed")
	defer client.Close()

	_, err = client.GetClock()
	require.NoError(t, err, "expected server to keep serving after a rejected handshake")
}
