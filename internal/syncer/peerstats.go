package syncer

import (
	"math"
	"sync"
	"time"
)

// window is a circular buffer for sliding-window sampling, adapted from
// the teacher's MetricsWindow (internal/adaptive/ccs.go): same
// add/average shape, generalized to feed a health Score instead of a CCS
// weighted sum.
type window struct {
	samples []float64
	index   int
	count   int
}

func newWindow(size int) *window {
	return &window{samples: make([]float64, size)}
}

func (w *window) add(v float64) {
	w.samples[w.index] = v
	w.index = (w.index + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
}

func (w *window) average() float64 {
	if w.count == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < w.count; i++ {
		sum += w.samples[i]
	}
	return sum / float64(w.count)
}

// PeerStats tracks a sliding window of RTT and error samples for one
// peer, biasing gossip fanout selection toward healthier peers (spec
// §4.10 "implementations MAY additionally..." — this package's
// enrichment over the bare random pick).
type PeerStats struct {
	mu         sync.RWMutex
	rtt        *window
	errorRate  *window
	rttBad      float64 // RTT (seconds) considered bad; health floors at 0 past this
	lastResult  time.Time
	lastSuccess time.Time
}

func NewPeerStats() *PeerStats {
	return &PeerStats{
		rtt:       newWindow(10),
		errorRate: newWindow(10),
		rttBad:    0.5, // 500ms
	}
}

// RecordSuccess logs a successful RPC round trip.
func (p *PeerStats) RecordSuccess(rtt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rtt.add(rtt.Seconds())
	p.errorRate.add(0)
	p.lastResult = time.Now()
	p.lastSuccess = p.lastResult
}

// LastSuccess returns the time of the most recent successful RPC round
// trip with this peer, or the zero time if none has ever succeeded.
func (p *PeerStats) LastSuccess() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSuccess
}

// RecordFailure logs a failed RPC attempt (timeout, socket error, auth
// rejection) without an RTT sample.
func (p *PeerStats) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorRate.add(1)
	p.lastResult = time.Now()
}

// Score returns a 0..1 health score: 1 is a fast, reliable peer, 0 is a
// slow or consistently failing one. Peers with no samples yet score 1 so
// they get an initial chance in the fanout pick.
func (p *PeerStats) Score() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.rtt.count == 0 && p.errorRate.count == 0 {
		return 1
	}

	rttHealth := 1.0 - math.Min(p.rtt.average()/p.rttBad, 1.0)
	errorHealth := 1.0 - p.errorRate.average()
	if p.rtt.count == 0 {
		return errorHealth
	}
	return 0.5*rttHealth + 0.5*errorHealth
}

// Tracker owns one PeerStats per known node, lazily created.
type Tracker struct {
	mu    sync.Mutex
	peers map[string]*PeerStats
}

func NewTracker() *Tracker {
	return &Tracker{peers: make(map[string]*PeerStats)}
}

func (t *Tracker) For(nodeID string) *PeerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps, ok := t.peers[nodeID]
	if !ok {
		ps = NewPeerStats()
		t.peers[nodeID] = ps
	}
	return ps
}

// Snapshot returns a shallow copy of the known-peer set, for reporting
// endpoints that enumerate every peer the orchestrator has contacted.
func (t *Tracker) Snapshot() map[string]*PeerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*PeerStats, len(t.peers))
	for id, ps := range t.peers {
		out[id] = ps
	}
	return out
}
