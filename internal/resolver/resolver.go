// Package resolver implements the conflict resolution strategies of spec
// §4.3: Last-Write-Wins and a recursive structural merge over the
// doc.Value sum type, generalizing the teacher's single-timestamp LWW
// tiebreak into a pluggable Resolver interface.
package resolver

import (
	"sort"

	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/document"
	"github.com/riftdb/riftdb/internal/oplog"
)

// Result is the outcome of resolving a remote Oplog entry against the
// current local document (spec §4.3: Resolve(local, remote) -> {apply,
// merged}).
type Result struct {
	Apply  bool
	Merged document.Document
}

// Resolver is satisfied by LWW and RecursiveMerge.
type Resolver interface {
	Resolve(local *document.Document, remote oplog.Entry) Result
}

// LWW applies remote iff there is no local document, or remote's timestamp
// strictly exceeds local.UpdatedAt in the total HLC order.
type LWW struct{}

func (LWW) Resolve(local *document.Document, remote oplog.Entry) Result {
	if local == nil {
		return Result{Apply: true, Merged: fromEntry(remote)}
	}
	if !remote.Timestamp.Greater(local.UpdatedAt) {
		return Result{Apply: false, Merged: *local}
	}
	return Result{Apply: true, Merged: fromEntry(remote)}
}

func fromEntry(e oplog.Entry) document.Document {
	return document.Document{
		Collection: e.Collection,
		Key:        e.Key,
		Content:    e.Payload,
		UpdatedAt:  e.Timestamp,
		IsDeleted:  e.Op == oplog.OpDelete,
	}
}

// RecursiveMerge implements spec §4.3's structural merge: a Delete always
// resolves by LWW; a Put vs an existing local document merges payloads
// key-by-key (and id-by-id for object-arrays) rather than discarding one
// side outright.
type RecursiveMerge struct{}

func (RecursiveMerge) Resolve(local *document.Document, remote oplog.Entry) Result {
	if remote.Op == oplog.OpDelete {
		return LWW{}.Resolve(local, remote)
	}
	if local == nil || local.IsDeleted {
		return Result{Apply: true, Merged: fromEntry(remote)}
	}

	merged := mergeValue(local.Content, remote.Payload)
	updatedAt := local.UpdatedAt
	if remote.Timestamp.Greater(updatedAt) {
		updatedAt = remote.Timestamp
	}
	return Result{
		Apply: true,
		Merged: document.Document{
			Collection: local.Collection,
			Key:        local.Key,
			Content:    merged,
			UpdatedAt:  updatedAt,
			IsDeleted:  false,
		},
	}
}

// mergeValue recursively merges local and remote per spec §4.3:
//   - Kinds differ -> LWW on the whole value (remote wins, since it is the
//     side being folded in and callers only invoke this when remote is
//     already known to be relevant).
//   - Equal primitives -> keep either; unequal -> remote wins.
//   - Objects -> union keys, recurse on shared keys, carry unique keys
//     from either side verbatim.
//   - Arrays -> merge-by-id when both sides are object-arrays with
//     non-duplicated ids; otherwise LWW the whole array (remote wins).
func mergeValue(local, remote doc.Value) doc.Value {
	if local.Kind() != remote.Kind() {
		return remote
	}
	switch local.Kind() {
	case doc.KindObject:
		return mergeObjects(local, remote)
	case doc.KindArray:
		return mergeArrays(local, remote)
	default:
		if doc.Equal(local, remote) {
			return local
		}
		return remote
	}
}

func mergeObjects(local, remote doc.Value) doc.Value {
	lo, ro := local.ObjectVal(), remote.ObjectVal()
	out := doc.NewObject()

	seen := make(map[string]bool)
	for _, k := range lo.Keys() {
		seen[k] = true
		lv, _ := lo.Get(k)
		if rv, ok := ro.Get(k); ok {
			out.Set(k, mergeValue(lv, rv))
		} else {
			out.Set(k, lv)
		}
	}
	for _, k := range ro.Keys() {
		if seen[k] {
			continue
		}
		rv, _ := ro.Get(k)
		out.Set(k, rv)
	}
	return doc.Obj(out)
}

func mergeArrays(local, remote doc.Value) doc.Value {
	localItems, remoteItems := local.ArrayItems(), remote.ArrayItems()

	if !canMergeByID(localItems) || !canMergeByID(remoteItems) {
		return remote
	}

	localIndex := make(map[string]doc.Value, len(localItems))
	localOrder := make([]string, 0, len(localItems))
	for _, item := range localItems {
		id, _ := doc.ArrayID(item)
		localIndex[id] = item
		localOrder = append(localOrder, id)
	}

	remoteIndex := make(map[string]doc.Value, len(remoteItems))
	remoteOrder := make([]string, 0, len(remoteItems))
	for _, item := range remoteItems {
		id, _ := doc.ArrayID(item)
		remoteIndex[id] = item
		remoteOrder = append(remoteOrder, id)
	}

	var out []doc.Value
	for _, id := range localOrder {
		lv := localIndex[id]
		if rv, ok := remoteIndex[id]; ok {
			out = append(out, mergeValue(lv, rv))
		} else {
			out = append(out, lv)
		}
	}
	for _, id := range remoteOrder {
		if _, ok := localIndex[id]; ok {
			continue // already merged above
		}
		out = append(out, remoteIndex[id])
	}
	return doc.Array(out)
}

// canMergeByID reports whether items is a non-empty object-array where
// every element carries a non-duplicated id/_id field (spec §4.3).
func canMergeByID(items []doc.Value) bool {
	if len(items) == 0 || !doc.IsObjectArray(doc.Array(items)) {
		return false
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		id, ok := doc.ArrayID(item)
		if !ok || seen[id] {
			return false
		}
		seen[id] = true
	}
	return true
}

// SortEntriesByTimestamp is used by the document store's ApplyBatch path
// (spec §4.5 step 2: "sort each group by HLC ascending") before folding
// entries through a Resolver.
func SortEntriesByTimestamp(entries []oplog.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Less(entries[j].Timestamp)
	})
}
