package syncer

import (
	"bytes"
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/riftdb/riftdb/internal/auth"
	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/document"
	"github.com/riftdb/riftdb/internal/errs"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/snapshot"
	"github.com/riftdb/riftdb/internal/transport"
	"github.com/riftdb/riftdb/internal/vectorclock"
)

// Server accepts TCP connections and runs one handler per connection
// (spec §4.11, §5: "the sync server (one handler per accepted
// connection)").
type Server struct {
	nodeID        string
	listener      net.Listener
	authenticator auth.Authenticator
	requireCrypto bool
	documents     *document.Store
	oplogLog      *oplog.Store
	vc            *vectorclock.Cache
	snapshots     *snapshot.Store
	logger        *zap.Logger
}

func NewServer(nodeID string, listener net.Listener, authenticator auth.Authenticator, requireCrypto bool, documents *document.Store, oplogLog *oplog.Store, vc *vectorclock.Cache, snapshots *snapshot.Store, logger *zap.Logger) *Server {
	return &Server{
		nodeID:        nodeID,
		listener:      listener,
		authenticator: authenticator,
		requireCrypto: requireCrypto,
		documents:     documents,
		oplogLog:      oplogLog,
		vc:            vc,
		snapshots:     snapshots,
		logger:        logger,
	}
}

// Serve accepts connections until ctx is cancelled or Accept fails.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errs.New(errs.Network, "syncer.Server.Serve", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	frame := transport.NewFrameConn(conn)

	peerID, ok := s.handshake(frame)
	if !ok {
		return
	}
	logger := s.logger.With(zap.String("peer", peerID), zap.String("remote_addr", conn.RemoteAddr().String()))

	if s.requireCrypto {
		if err := s.keyExchange(frame, false); err != nil {
			logger.Warn("key exchange failed", zap.Error(err))
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := RecvEnvelope(frame)
		if err != nil {
			return // EOF or socket error: caller's next gossip cycle reconnects.
		}
		if err := s.dispatch(ctx, frame, env); err != nil {
			logger.Warn("request handling failed", zap.Error(err))
			return
		}
	}
}

// handshake receives the identity+credential frame and replies with
// accept/reject (spec §4.11 step 1).
func (s *Server) handshake(frame *transport.FrameConn) (string, bool) {
	env, err := RecvEnvelope(frame)
	if err != nil || env.Type != MsgHandshake {
		return "", false
	}
	req, err := DecodeHandshakeRequest(env.Payload)
	if err != nil {
		return "", false
	}

	cred := auth.Credential{NodeID: req.NodeID, SharedSecret: req.SharedSecret, JWT: req.JWT}
	if err := s.authenticator.Authenticate(cred); err != nil {
		_ = SendEnvelope(frame, Envelope{Type: MsgHandshakeAck, Payload: EncodeHandshakeAck(HandshakeAck{Accepted: false, Reason: err.Error()})})
		return "", false
	}

	ack := HandshakeAck{Accepted: true, WantKeyExch: s.requireCrypto}
	if err := SendEnvelope(frame, Envelope{Type: MsgHandshakeAck, Payload: EncodeHandshakeAck(ack)}); err != nil {
		return "", false
	}
	return req.NodeID, true
}

// keyExchange performs the ECDH handshake of spec §4.11 step 2. The
// responder decrypts with key1/encrypts with key2 (swapped relative to
// the initiator).
func (s *Server) keyExchange(frame *transport.FrameConn, initiator bool) error {
	local, err := transport.GenerateEphemeralKeypair()
	if err != nil {
		return errs.New(errs.Crypto, "syncer.Server.keyExchange", err)
	}

	env, err := RecvEnvelope(frame)
	if err != nil || env.Type != MsgKeyExchange {
		return errUnexpectedType(env.Type, MsgKeyExchange)
	}
	peerExch, err := DecodeKeyExchange(env.Payload)
	if err != nil {
		return err
	}

	if err := SendEnvelope(frame, Envelope{Type: MsgKeyExchangeAck, Payload: EncodeKeyExchange(KeyExchange{PublicKey: local.PublicBytes()})}); err != nil {
		return err
	}

	keys, err := local.DeriveSessionKeys(peerExch.PublicKey)
	if err != nil {
		return errs.New(errs.Crypto, "syncer.Server.keyExchange", err)
	}

	var cipher *transport.Cipher
	if initiator {
		cipher = transport.NewCipher(keys.Key1, keys.Key2)
	} else {
		cipher = transport.NewCipher(keys.Key2, keys.Key1)
	}
	frame.Upgrade(cipher)
	return nil
}

func (s *Server) dispatch(ctx context.Context, frame *transport.FrameConn, env Envelope) error {
	switch env.Type {
	case MsgGetClock:
		return SendEnvelope(frame, Envelope{Type: MsgClockReply, Payload: EncodeClockReply(s.vc.GetLatestTimestamp())})

	case MsgGetVectorClock:
		return SendEnvelope(frame, Envelope{Type: MsgVectorClockReply, Payload: EncodeVectorClockReply(s.vc.GetVectorClock())})

	case MsgPullChanges:
		req, err := DecodePullChangesRequest(env.Payload)
		if err != nil {
			return err
		}
		entries := s.oplogLog.GetOplogAfter(req.Since, nil)
		return SendEnvelope(frame, Envelope{Type: MsgChangesReply, Payload: EncodeEntries(entries)})

	case MsgPullForNode:
		req, err := DecodePullForNodeRequest(env.Payload)
		if err != nil {
			return err
		}
		entries := s.oplogLog.GetOplogForNodeAfter(req.NodeID, req.Since, nil)
		return SendEnvelope(frame, Envelope{Type: MsgChangesReply, Payload: EncodeEntries(entries)})

	case MsgPushChanges:
		entries, err := DecodeEntries(env.Payload)
		if err != nil {
			return err
		}
		accepted, rejected := s.applyTolerant(ctx, entries)
		return SendEnvelope(frame, Envelope{Type: MsgPushAck, Payload: EncodePushAck(PushAck{Accepted: accepted, Rejected: rejected})})

	case MsgPutRequest:
		req, err := DecodePutRequest(env.Payload)
		if err != nil {
			return err
		}
		content, err := doc.Parse(req.Content)
		if err != nil {
			return SendEnvelope(frame, Envelope{Type: MsgError, Payload: EncodeErrorMessage(err.Error())})
		}
		entry, err := s.documents.Put(req.Collection, req.Key, content)
		if err != nil {
			return SendEnvelope(frame, Envelope{Type: MsgError, Payload: EncodeErrorMessage(err.Error())})
		}
		return SendEnvelope(frame, Envelope{Type: MsgPutAck, Payload: EncodePutAck(PutAck{Entry: entry})})

	case MsgGetRequest:
		req, err := DecodeGetRequest(env.Payload)
		if err != nil {
			return err
		}
		d, ok := s.documents.Get(req.Collection, req.Key)
		if !ok || d.IsDeleted {
			return SendEnvelope(frame, Envelope{Type: MsgGetReply, Payload: EncodeGetReply(GetReply{Found: false})})
		}
		return SendEnvelope(frame, Envelope{Type: MsgGetReply, Payload: EncodeGetReply(GetReply{Found: true, Content: d.Content.CanonicalBytes()})})

	case MsgSnapshotRequest:
		// Full snapshot transfer over the sync connection itself (spec
		// §4.7: "used to bootstrap a brand-new joining node"), driven by
		// orchestrator.go when a peer's claimed progress exceeds the
		// incremental gap bound.
		if s.snapshots == nil {
			return SendEnvelope(frame, Envelope{Type: MsgError, Payload: EncodeErrorMessage("snapshot export not configured on this node")})
		}
		buf := new(bytes.Buffer)
		if err := s.snapshots.CreateSnapshot(buf, time.Now().UnixMilli()); err != nil {
			return SendEnvelope(frame, Envelope{Type: MsgError, Payload: EncodeErrorMessage(err.Error())})
		}
		return SendEnvelope(frame, Envelope{Type: MsgSnapshotOffer, Payload: EncodeSnapshotOffer(SnapshotOffer{Data: buf.Bytes()})})

	default:
		return SendEnvelope(frame, Envelope{Type: MsgError, Payload: EncodeErrorMessage("unknown message type")})
	}
}

// applyTolerant applies entries one at a time so a hash-chain failure on
// one does not block the rest (spec §4.13: "does not halt batch").
func (s *Server) applyTolerant(ctx context.Context, entries []oplog.Entry) (accepted, rejected int) {
	for _, e := range entries {
		if err := s.documents.ApplyBatch(ctx, []oplog.Entry{e}); err != nil {
			rejected++
			s.logger.Warn("rejected remote entry", zap.Error(err),
				zap.String("collection", e.Collection), zap.String("key", e.Key))
			continue
		}
		accepted++
	}
	return accepted, rejected
}
