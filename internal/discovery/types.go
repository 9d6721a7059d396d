// Package discovery unifies the UDP beacon and persistent-peer table of
// spec §4.9 behind one GetActivePeers view.
package discovery

import "time"

// PeerType classifies how a RemotePeerConfiguration was established.
type PeerType int

const (
	LanDiscovered PeerType = iota
	StaticRemote
	CloudRemote
)

func (t PeerType) String() string {
	switch t {
	case LanDiscovered:
		return "lan_discovered"
	case StaticRemote:
		return "static_remote"
	case CloudRemote:
		return "cloud_remote"
	default:
		return "unknown"
	}
}

// RemotePeerConfiguration is a persistent peer entry (spec §3 glossary).
// LanDiscovered peers are ephemeral and never take this form; only
// StaticRemote/CloudRemote peers are durable and replicated through the
// Oplog like any other collection.
type RemotePeerConfiguration struct {
	NodeID    string
	Address   string
	Type      PeerType
	OAuth2    *OAuth2Config
	IsEnabled bool
}

// OAuth2Config carries the JWT validation parameters for a CloudRemote
// peer (spec §4.11 handshake: "OAuth2 JWT validation: structural check,
// signature verification per configured issuer/audience, exp/nbf").
type OAuth2Config struct {
	Issuer   string
	Audience string
}

// RemotePeer is the unified view GetActivePeers returns, whether the peer
// came from the UDP beacon table or the persistent peer table.
type RemotePeer struct {
	NodeID   string
	Address  string
	Type     PeerType
	LastSeen time.Time
}
