// Package snapshot implements the versioned, self-describing dump format
// of spec §4.7 over a plain io.Writer/io.Reader stream: a hand-rolled
// length-prefixed binary framing, chosen so the wire format is fully
// specified rather than tied to gob's Go-version-coupled encoding.
package snapshot

import "github.com/riftdb/riftdb/internal/hlc"

const formatVersion uint32 = 1

// Metadata is the per-originating-node prune checkpoint of spec §3:
// "marking the last Oplog entry included in the most recent snapshot".
type Metadata struct {
	NodeID    string
	Timestamp hlc.Timestamp
	Hash      string
}
