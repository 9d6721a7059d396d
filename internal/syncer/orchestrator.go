package syncer

import (
	"bytes"
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riftdb/riftdb/internal/discovery"
	"github.com/riftdb/riftdb/internal/document"
	"github.com/riftdb/riftdb/internal/hlc"
	"github.com/riftdb/riftdb/internal/offlinequeue"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/reconcile"
	"github.com/riftdb/riftdb/internal/snapshot"
	"github.com/riftdb/riftdb/internal/vectorclock"
)

// Orchestrator runs the periodic gossip loop of spec §4.10: each cycle,
// pick up to Fanout active peers and reconcile clocks with each.
type Orchestrator struct {
	nodeID    string
	registry  *discovery.Registry
	pool      *Pool
	tracker   *Tracker
	retry     RetryPolicy
	documents *document.Store
	oplogLog  *oplog.Store
	vc        *vectorclock.Cache
	gaps      *reconcile.GapTracker
	snapshots *snapshot.Store
	queue     *offlinequeue.Queue
	logger    *zap.Logger

	Interval time.Duration
	Fanout   int

	// MaxIncrementalGap bounds how far behind a node's locally-applied
	// physical time may trail a peer's claim before reconcileVectorClocks
	// defers the pull pending a snapshot restore (spec §4.8).
	MaxIncrementalGap int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewOrchestrator(nodeID string, registry *discovery.Registry, pool *Pool, tracker *Tracker, documents *document.Store, oplogLog *oplog.Store, vc *vectorclock.Cache, gaps *reconcile.GapTracker, snapshots *snapshot.Store, queue *offlinequeue.Queue, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		nodeID:            nodeID,
		registry:          registry,
		pool:              pool,
		tracker:           tracker,
		retry:             DefaultRetryPolicy(),
		documents:         documents,
		oplogLog:          oplogLog,
		vc:                vc,
		gaps:              gaps,
		snapshots:         snapshots,
		queue:             queue,
		logger:            logger,
		Interval:          2 * time.Second,
		Fanout:            3,
		MaxIncrementalGap: 24 * 60 * 60 * 1000, // 24h of HLC physical millis
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRetryPolicy overrides the default per-peer retry policy.
func (o *Orchestrator) SetRetryPolicy(p RetryPolicy) {
	o.retry = p
}

// Run blocks, running one gossip cycle per Interval until ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.cycle(ctx)
		}
	}
}

func (o *Orchestrator) cycle(ctx context.Context) {
	peers := o.registry.GetActivePeers()
	targets := o.pickFanout(peers)

	var wg sync.WaitGroup
	for _, peer := range targets {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.syncWithPeer(ctx, peer)
		}()
	}
	wg.Wait()
}

// pickFanout selects up to Fanout peers, biased toward healthier ones:
// each candidate's selection weight is its PeerStats.Score(), so a
// struggling peer is chosen less often without ever being excluded
// entirely (spec §4.10 "pick up to F peers at random", enriched by
// syncer.PeerStats).
func (o *Orchestrator) pickFanout(peers []discovery.RemotePeer) []discovery.RemotePeer {
	if len(peers) <= o.Fanout {
		return peers
	}

	remaining := append([]discovery.RemotePeer{}, peers...)
	picked := make([]discovery.RemotePeer, 0, o.Fanout)

	for len(picked) < o.Fanout && len(remaining) > 0 {
		idx := o.weightedPick(remaining)
		picked = append(picked, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return picked
}

func (o *Orchestrator) weightedPick(candidates []discovery.RemotePeer) int {
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, c := range candidates {
		weights[i] = o.tracker.For(c.NodeID).Score() + 0.01 // never fully zero out a peer
		total += weights[i]
	}

	o.rngMu.Lock()
	r := o.rng.Float64() * total
	o.rngMu.Unlock()

	cum := 0.0
	for i, w := range weights {
		cum += w
		if r <= cum {
			return i
		}
	}
	return len(candidates) - 1
}

// syncWithPeer implements the per-peer protocol of spec §4.10: ensure a
// connection, compare clocks, pull or push as needed.
func (o *Orchestrator) syncWithPeer(ctx context.Context, peer discovery.RemotePeer) {
	stats := o.tracker.For(peer.NodeID)
	logger := o.logger.With(zap.String("peer", peer.NodeID), zap.String("addr", peer.Address))

	start := time.Now()
	client, err := o.pool.Get(peer.NodeID, peer.Address)
	if err != nil {
		stats.RecordFailure()
		o.pool.Drop(peer.NodeID)
		logger.Warn("dial/handshake failed", zap.Error(err))
		return
	}

	var peerClock hlc.Timestamp
	err = o.retry.Do(ctx, func() error {
		var rpcErr error
		peerClock, rpcErr = client.GetClock()
		return rpcErr
	})
	if err != nil {
		stats.RecordFailure()
		o.pool.Drop(peer.NodeID)
		logger.Warn("GetClock failed", zap.Error(err))
		return
	}

	localClock := o.vc.GetLatestTimestamp()

	switch {
	case peerClock.Greater(localClock):
		entries, err := client.PullChanges(localClock)
		if err != nil {
			stats.RecordFailure()
			o.pool.Drop(peer.NodeID)
			logger.Warn("PullChanges failed", zap.Error(err))
			return
		}
		if len(entries) > 0 {
			if err := o.documents.ApplyBatch(ctx, entries); err != nil {
				logger.Warn("applying pulled entries failed", zap.Error(err))
			} else {
				o.advanceGaps(entries)
			}
		}
		o.reconcileVectorClocks(ctx, client, peer.NodeID)

	case localClock.Greater(peerClock):
		push := o.oplogLog.GetOplogAfter(peerClock, nil)
		if len(push) > 0 {
			if _, err := client.PushChanges(push); err != nil {
				stats.RecordFailure()
				o.pool.Drop(peer.NodeID)
				logger.Warn("PushChanges failed", zap.Error(err))
				return
			}
		}

	default:
		// Equal latest timestamps: still worth a Vector Clock compare in
		// case the two sides diverged on different originating nodes
		// (spec §4.10: "For richer convergence...").
		o.reconcileVectorClocks(ctx, client, peer.NodeID)
	}

	stats.RecordSuccess(time.Since(start))
	o.flushOfflineQueue(peer, client)
}

// flushOfflineQueue replays every operation queued while no peer was
// reachable (spec §7: "replayed by a flush routine when connectivity
// returns"), pushing them to the peer just reconnected to rather than
// waiting for the next regular gossip cycle to notice them. Entries are
// re-queued if the push itself fails.
func (o *Orchestrator) flushOfflineQueue(peer discovery.RemotePeer, client *Client) {
	if o.queue == nil || o.queue.Len() == 0 {
		return
	}
	ops := o.queue.Drain()
	entries := make([]oplog.Entry, 0, len(ops))
	for _, op := range ops {
		entries = append(entries, op.Entry)
	}
	if _, err := client.PushChanges(entries); err != nil {
		o.logger.Warn("offline queue flush failed, re-queuing", zap.String("peer", peer.NodeID), zap.Error(err))
		for _, op := range ops {
			o.queue.Enqueue(op)
		}
	}
}

// reconcileVectorClocks compares full Vector Clocks and issues
// per-originating-node pulls where the peer is ahead (spec §4.10's
// optional enrichment, adopted here as the default convergence path).
func (o *Orchestrator) reconcileVectorClocks(ctx context.Context, client *Client, peerNodeID string) {
	peerVC, err := client.GetVectorClock()
	if err != nil {
		o.logger.Warn("GetVectorClock failed", zap.String("peer", peerNodeID), zap.Error(err))
		return
	}
	localVC := o.vc.GetVectorClock()

	for node, peerEntry := range peerVC {
		localEntry, known := localVC[node]
		if known && !peerEntry.Timestamp.Greater(localEntry.Timestamp) {
			continue
		}

		if o.gaps != nil && !o.gaps.Reachable(node, peerEntry.Timestamp.Physical, o.MaxIncrementalGap) {
			o.logger.Warn("gap to peer exceeds incremental bound, requesting snapshot restore",
				zap.String("node", node), zap.Int64("peer_physical", peerEntry.Timestamp.Physical))
			o.pullSnapshotFrom(ctx, client, peerNodeID)
			continue
		}

		since := hlc.Timestamp{}
		if known {
			since = localEntry.Timestamp
		}
		entries, err := client.PullForNode(node, since)
		if err != nil {
			o.logger.Warn("PullForNode failed", zap.String("node", node), zap.Error(err))
			continue
		}
		if len(entries) == 0 {
			continue
		}
		if err := o.documents.ApplyBatch(ctx, entries); err != nil {
			o.logger.Warn("applying per-node pull failed", zap.String("node", node), zap.Error(err))
			continue
		}
		o.advanceGaps(entries)
	}
}

// pullSnapshotFrom requests a full snapshot from peerNodeID and merges it
// through the normal resolver path (spec §4.7), used once a peer's
// claimed progress for some originating node exceeds MaxIncrementalGap
// (spec §4.8) and an incremental per-node pull is no longer trusted to
// catch up in one cycle.
func (o *Orchestrator) pullSnapshotFrom(ctx context.Context, client *Client, peerNodeID string) {
	if o.snapshots == nil {
		return
	}
	data, err := client.PullSnapshot()
	if err != nil {
		o.logger.Warn("PullSnapshot failed", zap.String("peer", peerNodeID), zap.Error(err))
		return
	}
	err = o.snapshots.MergeSnapshot(bytes.NewReader(data), func(entries []oplog.Entry) error {
		return o.documents.ApplyBatch(ctx, entries)
	})
	if err != nil {
		o.logger.Warn("MergeSnapshot failed", zap.String("peer", peerNodeID), zap.Error(err))
		return
	}
	if o.gaps != nil {
		o.gaps.Seed(o.oplogLog.HighestPhysicalPerNode())
	}
}

// advanceGaps records, for every originating node present in a
// successfully-applied batch, the highest physical time now known
// locally (spec §4.8).
func (o *Orchestrator) advanceGaps(entries []oplog.Entry) {
	if o.gaps == nil {
		return
	}
	highest := make(map[string]int64)
	for _, e := range entries {
		if cur, ok := highest[e.Timestamp.NodeID]; !ok || e.Timestamp.Physical > cur {
			highest[e.Timestamp.NodeID] = e.Timestamp.Physical
		}
	}
	for node, physical := range highest {
		o.gaps.Advance(node, physical)
	}
}
