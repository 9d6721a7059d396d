// Package oplog implements the immutable, hash-chained operation record
// described in spec §3/§4.2, and the per-node store operations of §4.6.
package oplog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/hlc"
)

type Op int

const (
	OpPut Op = iota
	OpDelete
)

func (o Op) String() string {
	if o == OpDelete {
		return "DELETE"
	}
	return "PUT"
}

// Entry is the immutable Oplog record from spec §3. Construction is a pure
// function of the fields: Hash is always recomputed, PreviousHash is
// supplied by the caller (the Store, per §4.6).
//
// SequenceNumber is carried and serialized with the entry (spec §9 Open
// Question: the source carries both a hash chain and a sequence number),
// but no component reads it and the local write path sets it to 0; the
// hash chain alone is authoritative for convergence.
type Entry struct {
	Collection     string
	Key            string
	Op             Op
	Payload        doc.Value // absent (zero Value, IsNull) for Delete
	Timestamp      hlc.Timestamp
	PreviousHash   string
	Hash           string
	SequenceNumber uint64
}

// New constructs an Entry and computes its hash. previousHash must be the
// hash of the prior entry produced by timestamp.NodeID, or "" for that
// node's genesis entry.
func New(collection, key string, op Op, payload doc.Value, ts hlc.Timestamp, previousHash string, seq uint64) Entry {
	e := Entry{
		Collection:     collection,
		Key:            key,
		Op:             op,
		Payload:        payload,
		Timestamp:      ts,
		PreviousHash:   previousHash,
		SequenceNumber: seq,
	}
	e.Hash = computeHash(e)
	return e
}

// Valid reports whether recomputing the entry's hash matches its stored
// hash (spec §3: "An entry is valid iff recomputing its hash matches its
// stored hash").
func (e Entry) Valid() bool {
	return computeHash(e) == e.Hash
}

// computeHash follows spec §3 exactly:
//
//	hash = SHA-256(collection | key | op | payloadRawText | timestamp | previousHash)
//
// formatted with a culture-invariant, fixed representation (spec §4.2).
func computeHash(e Entry) string {
	h := sha256.New()
	h.Write([]byte(e.Collection))
	h.Write([]byte{'|'})
	h.Write([]byte(e.Key))
	h.Write([]byte{'|'})
	h.Write([]byte(e.Op.String()))
	h.Write([]byte{'|'})
	if !e.Payload.IsNull() || e.Op == OpPut {
		h.Write(e.Payload.CanonicalBytes())
	}
	h.Write([]byte{'|'})
	fmt.Fprintf(h, "%d:%d:%s", e.Timestamp.Physical, e.Timestamp.Logical, e.Timestamp.NodeID)
	h.Write([]byte{'|'})
	h.Write([]byte(e.PreviousHash))
	return hex.EncodeToString(h.Sum(nil))
}
