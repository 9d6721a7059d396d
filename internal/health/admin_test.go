package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/riftdb/riftdb/internal/discovery"
	"github.com/riftdb/riftdb/internal/document"
	"github.com/riftdb/riftdb/internal/hlc"
	"github.com/riftdb/riftdb/internal/metrics"
	"github.com/riftdb/riftdb/internal/offlinequeue"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/resolver"
	"github.com/riftdb/riftdb/internal/syncer"
	"github.com/riftdb/riftdb/internal/vectorclock"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	oplogLog := oplog.NewStore(nil)
	vc := vectorclock.NewCache()
	clock := hlc.NewClock("node-a")
	store := document.NewStore("node-a", clock, oplogLog, vc, resolver.LWW{})

	table := discovery.NewPeerTable()
	table.Upsert(discovery.RemotePeerConfiguration{NodeID: "node-b", Address: "127.0.0.1:9000", IsEnabled: true})
	beacon, err := discovery.NewBeacon("node-a", 9000, "255.255.255.255:7946", time.Second, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("new beacon: %v", err)
	}
	registry := discovery.NewRegistry("node-a", beacon, table)

	tracker := syncer.NewTracker()
	queue := offlinequeue.NewQueue(10, zap.NewNop())
	m := metrics.New("riftdb_health_test_" + t.Name())

	return NewServer("node-a", store, registry, tracker, queue, m)
}

func TestHealthz_ReportsQueueDepthAndPeers(t *testing.T) {
	s := newTestServer(t)
	s.queue.Enqueue(offlinequeue.Operation{Collection: "widgets", Key: "k1"})

	engine := gin.New()
	s.Register(engine)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		OfflineQueueDepth int `json:"offline_queue_depth"`
		Peers             []struct {
			NodeID string `json:"node_id"`
		} `json:"peers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.OfflineQueueDepth != 1 {
		t.Fatalf("expected queue depth 1, got %d", body.OfflineQueueDepth)
	}
	if len(body.Peers) != 1 || body.Peers[0].NodeID != "node-b" {
		t.Fatalf("expected peer node-b, got %+v", body.Peers)
	}
}

func TestPeers_ReportsHealthScoreForUncontactedPeer(t *testing.T) {
	s := newTestServer(t)

	engine := gin.New()
	s.Register(engine)

	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Peers []struct {
			NodeID      string  `json:"node_id"`
			HealthScore float64 `json:"health_score"`
		} `json:"peers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Peers) != 1 || body.Peers[0].HealthScore != 1 {
		t.Fatalf("expected uncontacted peer to score 1, got %+v", body.Peers)
	}
}
