package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/riftdb/riftdb/internal/auth"
	"github.com/riftdb/riftdb/internal/config"
	"github.com/riftdb/riftdb/internal/discovery"
	"github.com/riftdb/riftdb/internal/document"
	"github.com/riftdb/riftdb/internal/health"
	"github.com/riftdb/riftdb/internal/hlc"
	"github.com/riftdb/riftdb/internal/metrics"
	"github.com/riftdb/riftdb/internal/offlinequeue"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/reconcile"
	"github.com/riftdb/riftdb/internal/resolver"
	"github.com/riftdb/riftdb/internal/snapshot"
	"github.com/riftdb/riftdb/internal/syncer"
	"github.com/riftdb/riftdb/internal/vectorclock"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("starting riftdb node",
		zap.String("node_id", cfg.NodeID),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Strings("peers", cfg.Peers),
		zap.Bool("use_encryption", cfg.UseEncryption))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", zap.String("dir", cfg.DataDir), zap.Error(err))
		os.Exit(2)
	}

	m := metrics.New("riftdb")

	peerTable := discovery.NewPeerTable()
	for _, addr := range cfg.Peers {
		peerTable.Upsert(discovery.RemotePeerConfiguration{
			NodeID: addr, Address: addr, Type: discovery.StaticRemote, IsEnabled: true,
		})
	}

	clock := hlc.NewClock(cfg.NodeID)
	oplogLog := oplog.NewStore(nil)
	vc := vectorclock.NewCache()
	documents := document.NewStore(cfg.NodeID, clock, oplogLog, vc, resolver.LWW{})
	snapshots := snapshot.NewStore(cfg.NodeID, documents, oplogLog, peerTable)
	queue := offlinequeue.NewQueue(cfg.OfflineQueueSize, logger)

	// RemotePeerConfiguration is replicated through the normal Oplog
	// machinery (spec §9): a write to the "__peers" collection, local or
	// gossiped in, upserts/removes the live PeerTable entry directly.
	documents.OnChange(func(entries []oplog.Entry) {
		for _, e := range entries {
			if e.Collection != discovery.PeerCollection {
				continue
			}
			if e.Op == oplog.OpDelete {
				peerTable.Remove(e.Key)
				continue
			}
			cfg, err := discovery.DecodePeerConfig(e.Payload)
			if err != nil {
				logger.Warn("invalid peer configuration entry", zap.String("key", e.Key), zap.Error(err))
				continue
			}
			peerTable.Upsert(cfg)
		}
	})

	snapshotPath := filepath.Join(cfg.DataDir, "snapshot.bin")
	if f, err := os.Open(snapshotPath); err == nil {
		if err := snapshots.ReplaceDatabase(f); err != nil {
			logger.Warn("failed to load snapshot at startup", zap.String("path", snapshotPath), zap.Error(err))
		} else {
			logger.Info("loaded snapshot at startup", zap.String("path", snapshotPath))
		}
		f.Close()
	}

	authenticator, err := buildAuthenticator(cfg)
	if err != nil {
		logger.Error("failed to build authenticator", zap.Error(err))
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to bind sync listener", zap.String("addr", cfg.ListenAddr), zap.Error(err))
		os.Exit(3)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncServer := syncer.NewServer(cfg.NodeID, listener, authenticator, cfg.UseEncryption, documents, oplogLog, vc, snapshots, logger)
	go func() {
		if err := syncServer.Serve(ctx); err != nil {
			logger.Error("sync server stopped", zap.Error(err))
		}
	}()

	tcpPort := listener.Addr().(*net.TCPAddr).Port
	beacon, err := discovery.NewBeacon(cfg.NodeID, tcpPort, cfg.BeaconAddr, cfg.BeaconInterval, cfg.BeaconTTL, logger)
	if err != nil {
		logger.Error("failed to initialise discovery beacon", zap.Error(err))
		os.Exit(1)
	}
	go func() {
		if err := beacon.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("discovery beacon stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := beacon.Listen(ctx, beaconListenAddr(cfg.BeaconAddr)); err != nil && ctx.Err() == nil {
			logger.Warn("discovery beacon listener stopped", zap.Error(err))
		}
	}()

	registry := discovery.NewRegistry(cfg.NodeID, beacon, peerTable)

	// User writes made while no peer is reachable go into the bounded
	// offline queue (spec §7) instead of waiting on the next gossip cycle
	// to notice them; orchestrator.go's flushOfflineQueue replays them as
	// soon as any peer is reconnected to. Entries we just pulled in from a
	// peer are never originated locally, so this only ever enqueues this
	// node's own writes.
	documents.OnChange(func(entries []oplog.Entry) {
		if len(registry.GetActivePeers()) > 0 {
			return
		}
		for _, e := range entries {
			if e.Collection == discovery.PeerCollection || e.Timestamp.NodeID != cfg.NodeID {
				continue
			}
			queue.Enqueue(offlinequeue.Operation{
				Collection: e.Collection,
				Key:        e.Key,
				IsDelete:   e.Op == oplog.OpDelete,
				Content:    e.Payload,
				Entry:      e,
			})
		}
	})

	cred := auth.Credential{NodeID: cfg.NodeID, SharedSecret: cfg.SharedSecret}
	pool := syncer.NewPool(cred, cfg.DialTimeout, cfg.UseEncryption, logger)
	defer pool.CloseAll()

	tracker := syncer.NewTracker()
	gaps := reconcile.NewGapTracker()
	gaps.Seed(oplogLog.HighestPhysicalPerNode())
	orchestrator := syncer.NewOrchestrator(cfg.NodeID, registry, pool, tracker, documents, oplogLog, vc, gaps, snapshots, queue, logger)
	orchestrator.Interval = cfg.GossipInterval
	orchestrator.Fanout = cfg.GossipFanout
	orchestrator.SetRetryPolicy(syncer.RetryPolicy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay})
	go orchestrator.Run(ctx)

	go runSnapshotLoop(ctx, snapshots, snapshotPath, cfg.SnapshotInterval, logger)
	go runPruneLoop(ctx, oplogLog, cfg.OplogRetention, logger)

	adminEngine := gin.New()
	adminEngine.Use(gin.Recovery())
	health.NewServer(cfg.NodeID, documents, registry, tracker, queue, m).Register(adminEngine)
	adminServer := &http.Server{Addr: cfg.HealthAddr, Handler: adminEngine}
	go func() {
		logger.Info("admin http server listening", zap.String("addr", cfg.HealthAddr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gracefully")
	cancel()
	listener.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	adminServer.Shutdown(shutdownCtx)
	shutdownCancel()

	if f, err := os.Create(snapshotPath); err == nil {
		if err := snapshots.CreateSnapshot(f, time.Now().UnixMilli()); err != nil {
			logger.Warn("failed to write snapshot on shutdown", zap.Error(err))
		}
		f.Close()
	}
	logger.Info("shutdown complete")
}

// beaconListenAddr derives a wildcard-IP listen address from a broadcast
// address (e.g. "255.255.255.255:7946" -> ":7946") since binding a UDP
// socket to a broadcast IP fails on most platforms.
func beaconListenAddr(broadcastAddr string) string {
	if idx := strings.LastIndex(broadcastAddr, ":"); idx >= 0 {
		return broadcastAddr[idx:]
	}
	return broadcastAddr
}

func buildAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	if cfg.JWTIssuer != "" {
		secret := []byte(cfg.JWTHMACSecret)
		keyFunc := func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		}
		return auth.NewJWTAuthenticator(cfg.JWTIssuer, cfg.JWTAudience, keyFunc), nil
	}
	return auth.NewSharedSecretAuthenticator(cfg.SharedSecret)
}

func runSnapshotLoop(ctx context.Context, snapshots *snapshot.Store, path string, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f, err := os.Create(path)
			if err != nil {
				logger.Warn("snapshot create failed", zap.Error(err))
				continue
			}
			if err := snapshots.CreateSnapshot(f, time.Now().UnixMilli()); err != nil {
				logger.Warn("snapshot write failed", zap.Error(err))
			}
			f.Close()
		case <-ctx.Done():
			return
		}
	}
}

func runPruneLoop(ctx context.Context, oplogLog *oplog.Store, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(retention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := hlc.Timestamp{Physical: time.Now().Add(-retention).UnixMilli()}
			pruned := oplogLog.Prune(cutoff)
			if pruned > 0 {
				logger.Info("pruned oplog entries", zap.Int("count", pruned))
			}
		case <-ctx.Done():
			return
		}
	}
}
