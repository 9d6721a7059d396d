// Package document holds the materialized Document/Metadata types of spec
// §3 and, in store.go, the CDC-guarded store of spec §4.5.
package document

import (
	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/hlc"
)

// Document is the materialized current value of a (collection, key) pair.
// Documents are derived state: they can always be rebuilt by replaying the
// ordered Oplog from genesis.
type Document struct {
	Collection string
	Key        string
	Content    doc.Value
	UpdatedAt  hlc.Timestamp
	IsDeleted  bool
}

// Metadata tracks per-document last-applied HLC without the payload, for
// delta sync without rescanning document bodies (spec §3).
type Metadata struct {
	Collection string
	Key        string
	UpdatedAt  hlc.Timestamp
	IsDeleted  bool
}

func (d Document) Metadata() Metadata {
	return Metadata{
		Collection: d.Collection,
		Key:        d.Key,
		UpdatedAt:  d.UpdatedAt,
		IsDeleted:  d.IsDeleted,
	}
}
