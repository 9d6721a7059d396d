// Package syncer implements the gossip-based anti-entropy orchestrator and
// the TCP sync server of spec §4.10/§4.11: a periodic fanout loop that
// keeps peers converged, and a per-connection handler that serves the
// pull/push RPCs the loop issues.
package syncer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/hlc"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/vectorclock"
	"github.com/riftdb/riftdb/internal/wire"
)

func parseCanonical(raw []byte) (doc.Value, error) { return doc.Parse(raw) }

func newBuffer() *bytes.Buffer   { return new(bytes.Buffer) }
func newReader(b []byte) io.Reader { return bytes.NewReader(b) }

func writeEntryTo(w io.Writer, e oplog.Entry) error {
	if err := wire.WriteString(w, e.Collection); err != nil {
		return err
	}
	if err := wire.WriteString(w, e.Key); err != nil {
		return err
	}
	if err := wire.WriteUint32(w, uint32(e.Op)); err != nil {
		return err
	}
	if err := wire.WriteBytes(w, e.Payload.CanonicalBytes()); err != nil {
		return err
	}
	if err := wire.WriteTimestamp(w, e.Timestamp); err != nil {
		return err
	}
	if err := wire.WriteString(w, e.PreviousHash); err != nil {
		return err
	}
	if err := wire.WriteString(w, e.Hash); err != nil {
		return err
	}
	return wire.WriteUint64(w, e.SequenceNumber)
}

func readEntryFrom(r io.Reader) (oplog.Entry, error) {
	var e oplog.Entry
	var err error
	if e.Collection, err = wire.ReadString(r); err != nil {
		return e, err
	}
	if e.Key, err = wire.ReadString(r); err != nil {
		return e, err
	}
	op, err := wire.ReadUint32(r)
	if err != nil {
		return e, err
	}
	e.Op = oplog.Op(op)
	raw, err := wire.ReadBytes(r)
	if err != nil {
		return e, err
	}
	if e.Payload, err = parseCanonical(raw); err != nil {
		return e, err
	}
	if e.Timestamp, err = wire.ReadTimestamp(r); err != nil {
		return e, err
	}
	if e.PreviousHash, err = wire.ReadString(r); err != nil {
		return e, err
	}
	if e.Hash, err = wire.ReadString(r); err != nil {
		return e, err
	}
	if e.SequenceNumber, err = wire.ReadUint64(r); err != nil {
		return e, err
	}
	return e, nil
}

// MessageType tags every request/response frame exchanged over a
// FrameConn once the handshake (and optional key exchange) completes.
type MessageType uint32

const (
	MsgHandshake MessageType = iota + 1
	MsgHandshakeAck
	MsgKeyExchange
	MsgKeyExchangeAck
	MsgGetClock
	MsgClockReply
	MsgGetVectorClock
	MsgVectorClockReply
	MsgPullChanges
	MsgPullForNode
	MsgChangesReply
	MsgPushChanges
	MsgPushAck
	MsgSnapshotRequest
	MsgSnapshotOffer
	MsgPutRequest
	MsgPutAck
	MsgGetRequest
	MsgGetReply
	MsgError
)

// Envelope is the generic frame shape: a type tag followed by a
// type-specific payload, matching spec §4.11's "length-prefixed,
// optionally-encrypted frame containing one of: GetClock, ...".
type Envelope struct {
	Type    MessageType
	Payload []byte
}

func WriteEnvelope(w io.Writer, env Envelope) error {
	if err := wire.WriteUint32(w, uint32(env.Type)); err != nil {
		return err
	}
	return wire.WriteBytes(w, env.Payload)
}

func ReadEnvelope(r io.Reader) (Envelope, error) {
	var env Envelope
	t, err := wire.ReadUint32(r)
	if err != nil {
		return env, err
	}
	env.Type = MessageType(t)
	env.Payload, err = wire.ReadBytes(r)
	return env, err
}

// HandshakeRequest carries the connecting node's identity and credential.
type HandshakeRequest struct {
	NodeID       string
	SharedSecret string
	JWT          string
}

func EncodeHandshakeRequest(h HandshakeRequest) []byte {
	buf := newBuffer()
	_ = wire.WriteString(buf, h.NodeID)
	_ = wire.WriteString(buf, h.SharedSecret)
	_ = wire.WriteString(buf, h.JWT)
	return buf.Bytes()
}

func DecodeHandshakeRequest(b []byte) (HandshakeRequest, error) {
	var h HandshakeRequest
	r := newReader(b)
	var err error
	if h.NodeID, err = wire.ReadString(r); err != nil {
		return h, err
	}
	if h.SharedSecret, err = wire.ReadString(r); err != nil {
		return h, err
	}
	h.JWT, err = wire.ReadString(r)
	return h, err
}

// HandshakeAck reports whether the handshake succeeded and whether the
// responder wants to proceed to ECDH key exchange.
type HandshakeAck struct {
	Accepted    bool
	Reason      string
	WantKeyExch bool
}

func EncodeHandshakeAck(a HandshakeAck) []byte {
	buf := newBuffer()
	_ = wire.WriteBool(buf, a.Accepted)
	_ = wire.WriteString(buf, a.Reason)
	_ = wire.WriteBool(buf, a.WantKeyExch)
	return buf.Bytes()
}

func DecodeHandshakeAck(b []byte) (HandshakeAck, error) {
	var a HandshakeAck
	r := newReader(b)
	var err error
	if a.Accepted, err = wire.ReadBool(r); err != nil {
		return a, err
	}
	if a.Reason, err = wire.ReadString(r); err != nil {
		return a, err
	}
	a.WantKeyExch, err = wire.ReadBool(r)
	return a, err
}

// KeyExchange carries one side's ephemeral ECDH public key.
type KeyExchange struct {
	PublicKey []byte
}

func EncodeKeyExchange(k KeyExchange) []byte {
	buf := newBuffer()
	_ = wire.WriteBytes(buf, k.PublicKey)
	return buf.Bytes()
}

func DecodeKeyExchange(b []byte) (KeyExchange, error) {
	var k KeyExchange
	r := newReader(b)
	var err error
	k.PublicKey, err = wire.ReadBytes(r)
	return k, err
}

func EncodeClockReply(ts hlc.Timestamp) []byte {
	buf := newBuffer()
	_ = wire.WriteTimestamp(buf, ts)
	return buf.Bytes()
}

func DecodeClockReply(b []byte) (hlc.Timestamp, error) {
	return wire.ReadTimestamp(newReader(b))
}

func EncodeVectorClockReply(vc map[string]vectorclock.Entry) []byte {
	buf := newBuffer()
	_ = wire.WriteUint32(buf, uint32(len(vc)))
	for node, entry := range vc {
		_ = wire.WriteString(buf, node)
		_ = wire.WriteTimestamp(buf, entry.Timestamp)
		_ = wire.WriteString(buf, entry.Hash)
	}
	return buf.Bytes()
}

func DecodeVectorClockReply(b []byte) (map[string]vectorclock.Entry, error) {
	r := newReader(b)
	n, err := wire.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	out := make(map[string]vectorclock.Entry, n)
	for i := uint32(0); i < n; i++ {
		node, err := wire.ReadString(r)
		if err != nil {
			return nil, err
		}
		ts, err := wire.ReadTimestamp(r)
		if err != nil {
			return nil, err
		}
		hash, err := wire.ReadString(r)
		if err != nil {
			return nil, err
		}
		out[node] = vectorclock.Entry{Timestamp: ts, Hash: hash}
	}
	return out, nil
}

// PullChangesRequest asks for every entry with timestamp strictly after
// Since, across all originating nodes.
type PullChangesRequest struct {
	Since hlc.Timestamp
}

func EncodePullChangesRequest(p PullChangesRequest) []byte {
	buf := newBuffer()
	_ = wire.WriteTimestamp(buf, p.Since)
	return buf.Bytes()
}

func DecodePullChangesRequest(b []byte) (PullChangesRequest, error) {
	ts, err := wire.ReadTimestamp(newReader(b))
	return PullChangesRequest{Since: ts}, err
}

// PullForNodeRequest asks for one originating node's entries after Since,
// the per-node pull used for Vector-Clock convergence (spec §4.10).
type PullForNodeRequest struct {
	NodeID string
	Since  hlc.Timestamp
}

func EncodePullForNodeRequest(p PullForNodeRequest) []byte {
	buf := newBuffer()
	_ = wire.WriteString(buf, p.NodeID)
	_ = wire.WriteTimestamp(buf, p.Since)
	return buf.Bytes()
}

func DecodePullForNodeRequest(b []byte) (PullForNodeRequest, error) {
	r := newReader(b)
	var p PullForNodeRequest
	var err error
	if p.NodeID, err = wire.ReadString(r); err != nil {
		return p, err
	}
	p.Since, err = wire.ReadTimestamp(r)
	return p, err
}

func EncodeEntries(entries []oplog.Entry) []byte {
	buf := newBuffer()
	_ = wire.WriteUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		_ = writeEntryTo(buf, e)
	}
	return buf.Bytes()
}

func DecodeEntries(b []byte) ([]oplog.Entry, error) {
	r := newReader(b)
	n, err := wire.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	entries := make([]oplog.Entry, 0, n)
	for i := uint32(0); i < n; i++ {
		e, err := readEntryFrom(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PushAck reports how many of the pushed entries were accepted, matching
// spec §4.13: a hash-chain failure on one entry must not halt the batch.
type PushAck struct {
	Accepted int
	Rejected int
}

func EncodePushAck(a PushAck) []byte {
	buf := newBuffer()
	_ = wire.WriteUint32(buf, uint32(a.Accepted))
	_ = wire.WriteUint32(buf, uint32(a.Rejected))
	return buf.Bytes()
}

func DecodePushAck(b []byte) (PushAck, error) {
	r := newReader(b)
	accepted, err := wire.ReadUint32(r)
	if err != nil {
		return PushAck{}, err
	}
	rejected, err := wire.ReadUint32(r)
	return PushAck{Accepted: int(accepted), Rejected: int(rejected)}, err
}

// PutRequest is a direct client write issued by rift-cli or an embedding
// application against one node, as opposed to the pull/push entries the
// gossip orchestrator exchanges between peers.
type PutRequest struct {
	Collection string
	Key        string
	Content    []byte // canonical JSON, parsed via doc.Parse server-side
}

func EncodePutRequest(p PutRequest) []byte {
	buf := newBuffer()
	_ = wire.WriteString(buf, p.Collection)
	_ = wire.WriteString(buf, p.Key)
	_ = wire.WriteBytes(buf, p.Content)
	return buf.Bytes()
}

func DecodePutRequest(b []byte) (PutRequest, error) {
	r := newReader(b)
	var p PutRequest
	var err error
	if p.Collection, err = wire.ReadString(r); err != nil {
		return p, err
	}
	if p.Key, err = wire.ReadString(r); err != nil {
		return p, err
	}
	p.Content, err = wire.ReadBytes(r)
	return p, err
}

// PutAck reports the Entry produced by applying a PutRequest locally.
type PutAck struct {
	Entry oplog.Entry
}

func EncodePutAck(a PutAck) []byte {
	buf := newBuffer()
	_ = writeEntryTo(buf, a.Entry)
	return buf.Bytes()
}

func DecodePutAck(b []byte) (PutAck, error) {
	e, err := readEntryFrom(newReader(b))
	return PutAck{Entry: e}, err
}

// GetRequest asks a node for one document's current value.
type GetRequest struct {
	Collection string
	Key        string
}

func EncodeGetRequest(g GetRequest) []byte {
	buf := newBuffer()
	_ = wire.WriteString(buf, g.Collection)
	_ = wire.WriteString(buf, g.Key)
	return buf.Bytes()
}

func DecodeGetRequest(b []byte) (GetRequest, error) {
	r := newReader(b)
	var g GetRequest
	var err error
	if g.Collection, err = wire.ReadString(r); err != nil {
		return g, err
	}
	g.Key, err = wire.ReadString(r)
	return g, err
}

// GetReply carries a document's current content, or Found=false.
type GetReply struct {
	Found   bool
	Content []byte // canonical JSON
}

func EncodeGetReply(g GetReply) []byte {
	buf := newBuffer()
	_ = wire.WriteBool(buf, g.Found)
	_ = wire.WriteBytes(buf, g.Content)
	return buf.Bytes()
}

func DecodeGetReply(b []byte) (GetReply, error) {
	r := newReader(b)
	var g GetReply
	var err error
	if g.Found, err = wire.ReadBool(r); err != nil {
		return g, err
	}
	g.Content, err = wire.ReadBytes(r)
	return g, err
}

// SnapshotOffer carries a full snapshot stream (spec §4.7, produced by
// snapshot.Store.CreateSnapshot) sent in reply to a SnapshotRequest.
type SnapshotOffer struct {
	Data []byte
}

func EncodeSnapshotOffer(o SnapshotOffer) []byte {
	buf := newBuffer()
	_ = wire.WriteBytes(buf, o.Data)
	return buf.Bytes()
}

func DecodeSnapshotOffer(b []byte) (SnapshotOffer, error) {
	data, err := wire.ReadBytes(newReader(b))
	return SnapshotOffer{Data: data}, err
}

func EncodeErrorMessage(msg string) []byte {
	buf := newBuffer()
	_ = wire.WriteString(buf, msg)
	return buf.Bytes()
}

func DecodeErrorMessage(b []byte) (string, error) {
	return wire.ReadString(newReader(b))
}

func errUnexpectedType(got, want MessageType) error {
	return fmt.Errorf("syncer: unexpected message type %d, want %d", got, want)
}

// frameSender and frameReceiver are satisfied by *transport.FrameConn;
// SendEnvelope and RecvEnvelope take them so they accept any value with
// the same Send/Recv methods.
type frameSender interface {
	Send(payload []byte) error
}

type frameReceiver interface {
	Recv() ([]byte, error)
}

func SendEnvelope(conn frameSender, env Envelope) error {
	buf := newBuffer()
	if err := WriteEnvelope(buf, env); err != nil {
		return err
	}
	return conn.Send(buf.Bytes())
}

func RecvEnvelope(conn frameReceiver) (Envelope, error) {
	payload, err := conn.Recv()
	if err != nil {
		return Envelope{}, err
	}
	return ReadEnvelope(newReader(payload))
}
