package snapshot

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/riftdb/riftdb/internal/discovery"
	"github.com/riftdb/riftdb/internal/document"
	"github.com/riftdb/riftdb/internal/hlc"
	"github.com/riftdb/riftdb/internal/oplog"
	"github.com/riftdb/riftdb/internal/wire"
)

// Store holds the SnapshotMetadata checkpoints used by oplog.Store's
// GetLastHash fallback (spec §4.6) and drives export/import of the
// snapshot stream (spec §4.7). It satisfies oplog.SnapshotMetadataLookup.
type Store struct {
	mu       sync.RWMutex
	byNode   map[string]Metadata
	nodeID   string
	documents *document.Store
	oplogLog  *oplog.Store
	peers     *discovery.PeerTable
}

func NewStore(nodeID string, documents *document.Store, oplogLog *oplog.Store, peers *discovery.PeerTable) *Store {
	return &Store{
		byNode:    make(map[string]Metadata),
		nodeID:    nodeID,
		documents: documents,
		oplogLog:  oplogLog,
		peers:     peers,
	}
}

// LastHashForNode implements oplog.SnapshotMetadataLookup.
func (s *Store) LastHashForNode(nodeID string) (string, hlc.Timestamp, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byNode[nodeID]
	if !ok {
		return "", hlc.Timestamp{}, false
	}
	return m.Hash, m.Timestamp, true
}

// recordCheckpoint stores a new SnapshotMetadata if it advances (or
// introduces) the node's highest-included checkpoint.
func (s *Store) recordCheckpoint(m Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byNode[m.NodeID]
	if !ok || m.Timestamp.Greater(existing.Timestamp) {
		s.byNode[m.NodeID] = m
	}
}

// CreateSnapshot writes a versioned, self-describing dump (spec §4.7):
// version tag, creation time, exporting node id, then documents, oplog
// entries, snapshot-metadata checkpoints, and remote-peer configurations.
// It records, for every NodeId present in the Oplog, a checkpoint at the
// highest-included timestamp/hash so a subsequent Prune is safe.
func (s *Store) CreateSnapshot(w io.Writer, nowMs int64) error {
	entries := s.oplogLog.AllEntries()
	docs := s.documents.AllDocuments()
	var peerCfgs []discovery.RemotePeerConfiguration
	if s.peers != nil {
		for _, p := range s.peers.Enabled() {
			peerCfgs = append(peerCfgs, discovery.RemotePeerConfiguration{
				NodeID: p.NodeID, Address: p.Address, Type: p.Type, IsEnabled: true,
			})
		}
	}

	highest := s.oplogLog.HighestPhysicalPerNode()
	nodes := make([]string, 0, len(highest))
	for node := range highest {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	var checkpoints []Metadata
	for _, node := range nodes {
		hash, ok := s.oplogLog.GetLastHash(node)
		if !ok {
			continue
		}
		tail := s.oplogLog.GetOplogForNodeAfter(node, hlc.Timestamp{}, nil)
		if len(tail) == 0 {
			continue
		}
		m := Metadata{NodeID: node, Timestamp: tail[len(tail)-1].Timestamp, Hash: hash}
		checkpoints = append(checkpoints, m)
		s.recordCheckpoint(m)
	}

	if err := wire.WriteUint32(w, formatVersion); err != nil {
		return err
	}
	if err := wire.WriteInt64(w, nowMs); err != nil {
		return err
	}
	if err := wire.WriteString(w, s.nodeID); err != nil {
		return err
	}

	if err := wire.WriteUint32(w, uint32(len(docs))); err != nil {
		return err
	}
	for _, d := range docs {
		if err := writeDocument(w, d); err != nil {
			return err
		}
	}

	if err := wire.WriteUint32(w, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeEntry(w, e); err != nil {
			return err
		}
	}

	if err := wire.WriteUint32(w, uint32(len(checkpoints))); err != nil {
		return err
	}
	for _, m := range checkpoints {
		if err := writeMetadata(w, m); err != nil {
			return err
		}
	}

	if err := wire.WriteUint32(w, uint32(len(peerCfgs))); err != nil {
		return err
	}
	for _, p := range peerCfgs {
		if err := writePeer(w, p); err != nil {
			return err
		}
	}

	return nil
}

// decode parses a snapshot stream into a Bundle without applying it.
func decode(r io.Reader) (Bundle, error) {
	var b Bundle
	var err error

	if b.Version, err = wire.ReadUint32(r); err != nil {
		return b, err
	}
	if b.Version != formatVersion {
		return b, fmt.Errorf("snapshot: unsupported format version %d", b.Version)
	}
	if b.CreatedAt, err = wire.ReadInt64(r); err != nil {
		return b, err
	}
	if b.ExportingID, err = wire.ReadString(r); err != nil {
		return b, err
	}

	numDocs, err := wire.ReadUint32(r)
	if err != nil {
		return b, err
	}
	for i := uint32(0); i < numDocs; i++ {
		d, err := readDocument(r)
		if err != nil {
			return b, err
		}
		b.Documents = append(b.Documents, d)
	}

	numEntries, err := wire.ReadUint32(r)
	if err != nil {
		return b, err
	}
	for i := uint32(0); i < numEntries; i++ {
		e, err := readEntry(r)
		if err != nil {
			return b, err
		}
		b.Entries = append(b.Entries, e)
	}

	numMeta, err := wire.ReadUint32(r)
	if err != nil {
		return b, err
	}
	for i := uint32(0); i < numMeta; i++ {
		m, err := readMetadata(r)
		if err != nil {
			return b, err
		}
		b.Metadata = append(b.Metadata, m)
	}

	numPeers, err := wire.ReadUint32(r)
	if err != nil {
		return b, err
	}
	for i := uint32(0); i < numPeers; i++ {
		p, err := readPeer(r)
		if err != nil {
			return b, err
		}
		b.Peers = append(b.Peers, p)
	}

	return b, nil
}

// ReplaceDatabase imports the stream without the resolver (spec §4.7:
// "used when a peer is catastrophically behind"): the document set and the
// SnapshotMetadata checkpoints are replaced by the stream's, while its
// Oplog entries and peer configurations are merged into the existing
// ones, which are not cleared.
func (s *Store) ReplaceDatabase(r io.Reader) error {
	bundle, err := decode(r)
	if err != nil {
		return err
	}

	s.documents.LoadVerbatim(bundle.Documents)
	s.oplogLog.Merge(bundle.Entries)

	s.mu.Lock()
	s.byNode = make(map[string]Metadata, len(bundle.Metadata))
	for _, m := range bundle.Metadata {
		s.byNode[m.NodeID] = m
	}
	s.mu.Unlock()

	if s.peers != nil {
		for _, p := range bundle.Peers {
			s.peers.Upsert(p)
		}
	}
	return nil
}

// MergeSnapshot imports the stream's Oplog entries under the normal
// resolver via ApplyBatchFn (spec §4.7: "used to bootstrap a brand-new
// joining node"). The caller supplies the apply function (document.Store
// .ApplyBatch) to avoid this package depending on a context.Context type
// it otherwise has no use for.
func (s *Store) MergeSnapshot(r io.Reader, applyBatch func(entries []oplog.Entry) error) error {
	bundle, err := decode(r)
	if err != nil {
		return err
	}
	if err := applyBatch(bundle.Entries); err != nil {
		return err
	}

	s.mu.Lock()
	for _, m := range bundle.Metadata {
		existing, ok := s.byNode[m.NodeID]
		if !ok || m.Timestamp.Greater(existing.Timestamp) {
			s.byNode[m.NodeID] = m
		}
	}
	s.mu.Unlock()

	if s.peers != nil {
		for _, p := range bundle.Peers {
			s.peers.Upsert(p)
		}
	}
	return nil
}
