// Package reconcile folds the three sources of truth — the authoritative
// remote list, the locally cached list, and the tombstone records — into one
// deduplicated, ordered view, and applies single update events on top without
// reintroducing deleted data. All operations are pure: given identical inputs
// they return identical outputs and never mutate their arguments.
package reconcile

import (
	"sort"

	"github.com/angelmondragon/ordersync/internal/orders"
	"github.com/angelmondragon/ordersync/internal/tombstone"
)

// Comparator orders the merged view. The default sorts by CreatedAt
// descending; sorting is always stable so equal timestamps preserve
// insertion order (remote before local-only).
type Comparator func(a, b orders.OrderRecord) bool

// ByCreatedAtDesc is the default view order: newest orders first.
func ByCreatedAtDesc(a, b orders.OrderRecord) bool {
	return a.CreatedAt.After(b.CreatedAt)
}

// MergeAll merges with the default comparator.
func MergeAll(remote, local []orders.OrderRecord, t tombstone.Tombstones) []orders.OrderRecord {
	return MergeAllFunc(remote, local, t, ByCreatedAtDesc)
}

// MergeAllFunc builds the deduplicated view: remote entries first as
// authoritative, then local-cache-only entries that have no remote
// counterpart, then partial-removal patches, then full-removal and
// empty-order filtering, then a stable sort.
func MergeAllFunc(remote, local []orders.OrderRecord, t tombstone.Tombstones, less Comparator) []orders.OrderRecord {
	ix := newIndex()
	for _, rec := range remote {
		ix.upsert(rec.Clone())
	}
	for _, rec := range local {
		if _, found := ix.find(rec); !found {
			ix.insert(rec.Clone())
		}
	}

	merged := make([]orders.OrderRecord, 0, len(ix.records))
	for _, rec := range ix.records {
		if patch, ok := t.PatchFor(rec); ok {
			rec.Items = cloneItems(patch.Items)
		}
		rec.Total = rec.RecomputeTotal()
		if t.OrderRemoved(rec) || rec.Empty() {
			continue
		}
		merged = append(merged, rec)
	}

	if less != nil {
		sort.SliceStable(merged, func(i, j int) bool {
			return less(merged[i], merged[j])
		})
	}
	return merged
}

// ApplyEvent folds one event into the view. Unmatched keys are no-ops, not
// errors: the order may simply not be visible to this session. Removal
// always wins over a status change for the same order regardless of arrival
// order, because tombstones and removed keys are re-checked on every apply.
func ApplyEvent(view []orders.OrderRecord, ev orders.Event, t tombstone.Tombstones) []orders.OrderRecord {
	switch event := ev.(type) {
	case orders.StatusChanged:
		return applyStatusChange(view, event, t)
	case orders.Removed:
		return applyRemoval(view, event.Key)
	case orders.Updated:
		return applyUpdate(view, event.Record, t)
	case orders.FullResync:
		return MergeAll(event.Records, view, t)
	case orders.Heartbeat:
		return view
	}
	return view
}

func applyStatusChange(view []orders.OrderRecord, ev orders.StatusChanged, t tombstone.Tombstones) []orders.OrderRecord {
	out := make([]orders.OrderRecord, len(view))
	copy(out, view)
	for i, rec := range out {
		if !rec.MatchesKey(ev.Key) {
			continue
		}
		if t.OrderRemoved(rec) {
			return applyRemoval(view, ev.Key)
		}
		updated := rec.Clone()
		updated.Status = ev.NewStatus
		out[i] = updated
		return out
	}
	return out
}

func applyRemoval(view []orders.OrderRecord, key string) []orders.OrderRecord {
	out := make([]orders.OrderRecord, 0, len(view))
	for _, rec := range view {
		if rec.MatchesKey(key) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func applyUpdate(view []orders.OrderRecord, record orders.OrderRecord, t tombstone.Tombstones) []orders.OrderRecord {
	record = record.Clone()
	if patch, ok := t.PatchFor(record); ok {
		record.Items = cloneItems(patch.Items)
	}
	record.Total = record.RecomputeTotal()

	if t.OrderRemoved(record) || record.Empty() {
		return applyRemoval(view, record.Key())
	}

	out := make([]orders.OrderRecord, 0, len(view)+1)
	replaced := false
	for _, rec := range view {
		if orders.SameOrder(rec, record) {
			out = append(out, record)
			replaced = true
			continue
		}
		out = append(out, rec)
	}
	if !replaced {
		out = append(out, record)
		sort.SliceStable(out, func(i, j int) bool {
			return ByCreatedAtDesc(out[i], out[j])
		})
	}
	return out
}

// index deduplicates by the identity triple. A record is looked up by
// InternalID when both sides have one, else OrderNumber, else ClientTempID.
type index struct {
	records    []orders.OrderRecord
	byInternal map[string]int
	byNumber   map[string]int
	byTemp     map[string]int
}

func newIndex() *index {
	return &index{
		byInternal: make(map[string]int),
		byNumber:   make(map[string]int),
		byTemp:     make(map[string]int),
	}
}

func (ix *index) find(rec orders.OrderRecord) (int, bool) {
	if rec.InternalID != "" {
		if at, ok := ix.byInternal[rec.InternalID]; ok {
			return at, true
		}
	}
	// the secondary keys only count when SameOrder agrees, so two records
	// with distinct internal ids never collapse onto a shared order number
	if rec.OrderNumber != "" {
		if at, ok := ix.byNumber[rec.OrderNumber]; ok && orders.SameOrder(ix.records[at], rec) {
			return at, true
		}
	}
	if rec.ClientTempID != "" {
		if at, ok := ix.byTemp[rec.ClientTempID]; ok && orders.SameOrder(ix.records[at], rec) {
			return at, true
		}
	}
	return 0, false
}

func (ix *index) upsert(rec orders.OrderRecord) {
	if at, found := ix.find(rec); found {
		ix.records[at] = rec
		ix.register(rec, at)
		return
	}
	ix.insert(rec)
}

func (ix *index) insert(rec orders.OrderRecord) {
	ix.records = append(ix.records, rec)
	ix.register(rec, len(ix.records)-1)
}

func (ix *index) register(rec orders.OrderRecord, at int) {
	if rec.InternalID != "" {
		ix.byInternal[rec.InternalID] = at
	}
	if rec.OrderNumber != "" {
		ix.byNumber[rec.OrderNumber] = at
	}
	if rec.ClientTempID != "" {
		ix.byTemp[rec.ClientTempID] = at
	}
}

func cloneItems(items []orders.OrderItem) []orders.OrderItem {
	if items == nil {
		return []orders.OrderItem{}
	}
	out := make([]orders.OrderItem, len(items))
	copy(out, items)
	return out
}
