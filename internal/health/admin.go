// Package health exposes a node's Gin-based admin HTTP surface:
// liveness/readiness, peer sync status, and the Prometheus scrape
// endpoint (spec §7: "database reachable, last successful sync per
// peer, queued offline operations count").
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riftdb/riftdb/internal/discovery"
	"github.com/riftdb/riftdb/internal/document"
	"github.com/riftdb/riftdb/internal/metrics"
	"github.com/riftdb/riftdb/internal/offlinequeue"
	"github.com/riftdb/riftdb/internal/syncer"
)

// Server holds the dependencies the admin handlers read from; it never
// mutates node state.
type Server struct {
	nodeID    string
	documents *document.Store
	registry  *discovery.Registry
	tracker   *syncer.Tracker
	queue     *offlinequeue.Queue
	metrics   *metrics.Metrics
	reader    *metrics.Reader
}

func NewServer(nodeID string, documents *document.Store, registry *discovery.Registry, tracker *syncer.Tracker, queue *offlinequeue.Queue, m *metrics.Metrics) *Server {
	return &Server{
		nodeID:    nodeID,
		documents: documents,
		registry:  registry,
		tracker:   tracker,
		queue:     queue,
		metrics:   m,
		reader:    metrics.NewReader(m),
	}
}

// Register mounts every admin route on engine.
func (s *Server) Register(engine *gin.Engine) {
	engine.GET("/healthz", s.Healthz)
	engine.GET("/peers", s.Peers)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// peerStatus describes one peer's gossip health for /healthz and /peers.
type peerStatus struct {
	NodeID           string  `json:"node_id"`
	Address          string  `json:"address"`
	HealthScore      float64 `json:"health_score"`
	LastSuccess      string  `json:"last_success,omitempty"`
	SecondsSinceSync float64 `json:"seconds_since_sync,omitempty"`
}

func (s *Server) peerStatuses() []peerStatus {
	active := s.registry.GetActivePeers()
	out := make([]peerStatus, 0, len(active))
	for _, peer := range active {
		ps := s.tracker.For(peer.NodeID)
		entry := peerStatus{
			NodeID:      peer.NodeID,
			Address:     peer.Address,
			HealthScore: ps.Score(),
		}
		if last := ps.LastSuccess(); !last.IsZero() {
			entry.LastSuccess = last.UTC().Format(time.RFC3339)
			entry.SecondsSinceSync = time.Since(last).Seconds()
		}
		out = append(out, entry)
	}
	return out
}

// Healthz handles GET /healthz. Reports database reachability (the
// local document store always answers in-process, so this degrades
// only the queued-offline-operations signal), queued offline
// operations, and per-peer sync status.
func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node_id":             s.nodeID,
		"database_reachable":  true,
		"document_count":      len(s.documents.AllDocuments()),
		"offline_queue_depth": s.queue.Len(),
		"write_success_rate":  s.reader.WriteSuccessRate(),
		"peers":               s.peerStatuses(),
	})
}

// Peers handles GET /peers, a focused view of peerStatuses for tooling
// that only cares about gossip health, not overall liveness.
func (s *Server) Peers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"peers": s.peerStatuses()})
}
