// Package client is the public-facing wrapper a CLI or embedding
// application dials to talk to one riftdb node over its sync protocol
// (spec §4.11): handshake, optional encryption, then typed RPCs.
package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/riftdb/riftdb/internal/auth"
	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/hlc"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/syncer"
	"github.com/riftdb/riftdb/internal/vectorclock"
)

// Client is a single handshaked connection to one riftdb node.
type Client struct {
	inner *syncer.Client
}

// Dial connects to addr, authenticating with a shared secret and
// optionally performing the ECDH key exchange.
func Dial(addr string, dialTimeout time.Duration, nodeID, sharedSecret string, useEncryption bool) (*Client, error) {
	inner, err := syncer.DialClient(addr, dialTimeout, auth.Credential{NodeID: nodeID, SharedSecret: sharedSecret}, useEncryption)
	if err != nil {
		return nil, err
	}
	return &Client{inner: inner}, nil
}

func (c *Client) Close() error {
	return c.inner.Close()
}

// Put writes a JSON-encoded value to collection/key.
func (c *Client) Put(collection, key string, jsonContent []byte) (oplog.Entry, error) {
	value, err := doc.Parse(jsonContent)
	if err != nil {
		return oplog.Entry{}, err
	}
	return c.inner.Put(collection, key, value.CanonicalBytes())
}

// Get reads collection/key's current value as canonical JSON.
func (c *Client) Get(collection, key string) (found bool, jsonContent []byte, err error) {
	return c.inner.Get(collection, key)
}

// Clock returns the node's current HLC timestamp.
func (c *Client) Clock() (hlc.Timestamp, error) {
	return c.inner.GetClock()
}

// VectorClock returns the node's current Vector Clock cache contents.
func (c *Client) VectorClock() (map[string]vectorclock.Entry, error) {
	return c.inner.GetVectorClock()
}

// Changes pulls every Oplog entry strictly after since.
func (c *Client) Changes(since hlc.Timestamp) ([]oplog.Entry, error) {
	return c.inner.PullChanges(since)
}

// Push sends locally-known entries to the node and reports how many were
// accepted vs rejected by hash-chain verification.
func (c *Client) Push(entries []oplog.Entry) (accepted, rejected int, err error) {
	ack, err := c.inner.PushChanges(entries)
	if err != nil {
		return 0, 0, err
	}
	return ack.Accepted, ack.Rejected, nil
}

// AdminClient talks to a node's admin HTTP surface (internal/health)
// rather than its sync TCP protocol, for liveness and peer reporting.
type AdminClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAdminClient wraps baseURL, e.g. "http://127.0.0.1:8081".
func NewAdminClient(baseURL string, timeout time.Duration) *AdminClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &AdminClient{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

func (c *AdminClient) getJSON(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin request %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Healthz reports node liveness and the offline queue/peer status.
func (c *AdminClient) Healthz() (map[string]any, error) {
	var out map[string]any
	err := c.getJSON("/healthz", &out)
	return out, err
}

// Peers reports per-peer gossip health.
func (c *AdminClient) Peers() (map[string]any, error) {
	var out map[string]any
	err := c.getJSON("/peers", &out)
	return out, err
}
