package snapshot

import (
	"fmt"
	"io"

	"github.com/riftdb/riftdb/internal/discovery"
	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/document"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/wire"
)

// Bundle is the full decoded contents of a snapshot stream.
type Bundle struct {
	Version     uint32
	CreatedAt   int64 // ms since epoch
	ExportingID string
	Documents   []document.Document
	Entries     []oplog.Entry
	Metadata    []Metadata
	Peers       []discovery.RemotePeerConfiguration
}

func writeDocument(w io.Writer, d document.Document) error {
	if err := wire.WriteString(w, d.Collection); err != nil {
		return err
	}
	if err := wire.WriteString(w, d.Key); err != nil {
		return err
	}
	if err := wire.WriteBytes(w, d.Content.CanonicalBytes()); err != nil {
		return err
	}
	if err := wire.WriteTimestamp(w, d.UpdatedAt); err != nil {
		return err
	}
	return wire.WriteBool(w, d.IsDeleted)
}

func readDocument(r io.Reader) (document.Document, error) {
	var d document.Document
	var err error
	if d.Collection, err = wire.ReadString(r); err != nil {
		return d, err
	}
	if d.Key, err = wire.ReadString(r); err != nil {
		return d, err
	}
	raw, err := wire.ReadBytes(r)
	if err != nil {
		return d, err
	}
	if d.Content, err = doc.Parse(raw); err != nil {
		return d, fmt.Errorf("decoding document content: %w", err)
	}
	if d.UpdatedAt, err = wire.ReadTimestamp(r); err != nil {
		return d, err
	}
	if d.IsDeleted, err = wire.ReadBool(r); err != nil {
		return d, err
	}
	return d, nil
}

func writeEntry(w io.Writer, e oplog.Entry) error {
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

func readEntry(r io.Reader) (oplog.Entry, error) {
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
	if e.Payload, err = doc.Parse(raw); err != nil {
		return e, fmt.Errorf("decoding entry payload: %w", err)
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

func writeMetadata(w io.Writer, m Metadata) error {
	if err := wire.WriteString(w, m.NodeID); err != nil {
		return err
	}
	if err := wire.WriteTimestamp(w, m.Timestamp); err != nil {
		return err
	}
	return wire.WriteString(w, m.Hash)
}

func readMetadata(r io.Reader) (Metadata, error) {
	var m Metadata
	var err error
	if m.NodeID, err = wire.ReadString(r); err != nil {
		return m, err
	}
	if m.Timestamp, err = wire.ReadTimestamp(r); err != nil {
		return m, err
	}
	if m.Hash, err = wire.ReadString(r); err != nil {
		return m, err
	}
	return m, nil
}

func writePeer(w io.Writer, p discovery.RemotePeerConfiguration) error {
	if err := wire.WriteString(w, p.NodeID); err != nil {
		return err
	}
	if err := wire.WriteString(w, p.Address); err != nil {
		return err
	}
	if err := wire.WriteUint32(w, uint32(p.Type)); err != nil {
		return err
	}
	hasOAuth := p.OAuth2 != nil
	if err := wire.WriteBool(w, hasOAuth); err != nil {
		return err
	}
	if hasOAuth {
		if err := wire.WriteString(w, p.OAuth2.Issuer); err != nil {
			return err
		}
		if err := wire.WriteString(w, p.OAuth2.Audience); err != nil {
			return err
		}
	}
	return wire.WriteBool(w, p.IsEnabled)
}

func readPeer(r io.Reader) (discovery.RemotePeerConfiguration, error) {
	var p discovery.RemotePeerConfiguration
	var err error
	if p.NodeID, err = wire.ReadString(r); err != nil {
		return p, err
	}
	if p.Address, err = wire.ReadString(r); err != nil {
		return p, err
	}
	t, err := wire.ReadUint32(r)
	if err != nil {
		return p, err
	}
	p.Type = discovery.PeerType(t)
	hasOAuth, err := wire.ReadBool(r)
	if err != nil {
		return p, err
	}
	if hasOAuth {
		p.OAuth2 = &discovery.OAuth2Config{}
		if p.OAuth2.Issuer, err = wire.ReadString(r); err != nil {
			return p, err
		}
		if p.OAuth2.Audience, err = wire.ReadString(r); err != nil {
			return p, err
		}
	}
	if p.IsEnabled, err = wire.ReadBool(r); err != nil {
		return p, err
	}
	return p, nil
}
