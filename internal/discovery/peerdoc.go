package discovery

import (
	"fmt"

	"github.com/riftdb/riftdb/internal/doc"
)

// PeerCollection is the well-known Oplog collection RemotePeerConfiguration
// entries live in. Writing to it goes through the same document.Store.Put
// / ApplyBatch path as any other collection, so peer configuration is
// "replicated through the normal Oplog machinery" per spec §9, rather
// than needing its own gossip message.
const PeerCollection = "__peers"

// EncodePeerConfig renders cfg as the doc.Value stored at
// PeerCollection/cfg.NodeID.
func EncodePeerConfig(cfg RemotePeerConfiguration) doc.Value {
	obj := doc.NewObject()
	obj.Set("node_id", doc.String(cfg.NodeID))
	obj.Set("address", doc.String(cfg.Address))
	obj.Set("type", doc.String(cfg.Type.String()))
	obj.Set("is_enabled", doc.Bool(cfg.IsEnabled))
	if cfg.OAuth2 != nil {
		oauth := doc.NewObject()
		oauth.Set("issuer", doc.String(cfg.OAuth2.Issuer))
		oauth.Set("audience", doc.String(cfg.OAuth2.Audience))
		obj.Set("oauth2", doc.Obj(oauth))
	}
	return doc.Obj(obj)
}

// DecodePeerConfig parses a PeerCollection document's content back into a
// RemotePeerConfiguration.
func DecodePeerConfig(v doc.Value) (RemotePeerConfiguration, error) {
	obj := v.ObjectVal()
	if obj == nil {
		return RemotePeerConfiguration{}, fmt.Errorf("discovery: peer config payload is not an object")
	}

	var cfg RemotePeerConfiguration
	if nodeID, ok := obj.Get("node_id"); ok {
		cfg.NodeID = nodeID.StringVal()
	}
	if addr, ok := obj.Get("address"); ok {
		cfg.Address = addr.StringVal()
	}
	if typ, ok := obj.Get("type"); ok {
		cfg.Type = parsePeerType(typ.StringVal())
	}
	if enabled, ok := obj.Get("is_enabled"); ok {
		cfg.IsEnabled = enabled.Bool()
	}
	if oauthVal, ok := obj.Get("oauth2"); ok && !oauthVal.IsNull() {
		if oauthObj := oauthVal.ObjectVal(); oauthObj != nil {
			var oauth OAuth2Config
			if issuer, ok := oauthObj.Get("issuer"); ok {
				oauth.Issuer = issuer.StringVal()
			}
			if aud, ok := oauthObj.Get("audience"); ok {
				oauth.Audience = aud.StringVal()
			}
			cfg.OAuth2 = &oauth
		}
	}
	if cfg.NodeID == "" {
		return cfg, fmt.Errorf("discovery: peer config missing node_id")
	}
	return cfg, nil
}

func parsePeerType(s string) PeerType {
	switch s {
	case "lan_discovered":
		return LanDiscovered
	case "cloud_remote":
		return CloudRemote
	default:
		return StaticRemote
	}
}
