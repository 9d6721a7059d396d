package discovery

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// beaconPayload is the UDP wire format of spec §6: JSON, snake_case keys.
type beaconPayload struct {
	NodeID  string `json:"node_id"`
	TCPPort int    `json:"tcp_port"`
}

// Beacon broadcasts {node_id, tcp_port} on a fixed interval and maintains
// an in-memory, TTL-expiring table of received beacons (spec §4.9).
type Beacon struct {
	nodeID  string
	tcpPort int
	addr    *net.UDPAddr
	logger  *zap.Logger

	interval time.Duration
	ttl      time.Duration

	mu    sync.RWMutex
	table map[string]RemotePeer
}

func NewBeacon(nodeID string, tcpPort int, broadcastAddr string, interval, ttl time.Duration, logger *zap.Logger) (*Beacon, error) {
	addr, err := net.ResolveUDPAddr("udp4", broadcastAddr)
	if err != nil {
		return nil, err
	}
	return &Beacon{
		nodeID:   nodeID,
		tcpPort:  tcpPort,
		addr:     addr,
		logger:   logger,
		interval: interval,
		ttl:      ttl,
		table:    make(map[string]RemotePeer),
	}, nil
}

// Run sends this node's beacon on `interval` until ctx is cancelled.
// Suspension points are the ticker wait and the UDP write (spec §5).
func (b *Beacon) Run(ctx context.Context) error {
	conn, err := net.DialUDP("udp4", nil, b.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	payload, err := json.Marshal(beaconPayload{NodeID: b.nodeID, TCPPort: b.tcpPort})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := conn.Write(payload); err != nil {
				b.logger.Warn("beacon broadcast failed", zap.Error(err))
			}
		}
	}
}

// Listen receives beacons on listenAddr, populating the peer table until
// ctx is cancelled. Beacons whose node_id equals the local node id are
// ignored (spec §6).
func (b *Beacon) Listen(ctx context.Context, listenAddr string) error {
	addr, err := net.ResolveUDPAddr("udp4", listenAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("beacon read failed", zap.Error(err))
			continue
		}

		var p beaconPayload
		if err := json.Unmarshal(buf[:n], &p); err != nil {
			continue
		}
		if p.NodeID == "" || p.NodeID == b.nodeID {
			continue
		}

		b.mu.Lock()
		b.table[p.NodeID] = RemotePeer{
			NodeID:   p.NodeID,
			Address:  net.JoinHostPort(src.IP.String(), itoa(p.TCPPort)),
			Type:     LanDiscovered,
			LastSeen: time.Now(),
		}
		b.mu.Unlock()
	}
}

// ActivePeers returns beacon-discovered peers with LastSeen within ttl,
// expiring stale entries as a side effect.
func (b *Beacon) ActivePeers() []RemotePeer {
	cutoff := time.Now().Add(-b.ttl)

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []RemotePeer
	for id, p := range b.table {
		if p.LastSeen.Before(cutoff) {
			delete(b.table, id)
			continue
		}
		out = append(out, p)
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}
