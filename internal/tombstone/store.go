// Package tombstone keeps the durable record of local removals: orders the
// user fully deleted from their own view, and per-order item removals. The
// reconciler consults these on every merge so deleted data never reappears
// from a stale remote copy.
package tombstone

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/angelmondragon/ordersync/internal/localstore"
	"github.com/angelmondragon/ordersync/internal/orders"
	pkgerrors "github.com/angelmondragon/ordersync/pkg/errors"
	"github.com/shopspring/decimal"
)

// RemovedItemPatch is the replacement items/total spliced onto an order that
// had some of its items removed locally.
type RemovedItemPatch struct {
	Items []orders.OrderItem `json:"items"`
	Total decimal.Decimal    `json:"total"`
}

// Tombstones is an immutable snapshot consumed by the reconciler.
type Tombstones struct {
	RemovedOrderKeys map[string]struct{}
	PartialRemovals  map[string]RemovedItemPatch
}

// OrderRemoved reports whether any of the record's identifiers carries a
// full-removal tombstone.
func (t Tombstones) OrderRemoved(rec orders.OrderRecord) bool {
	for key := range t.RemovedOrderKeys {
		if rec.MatchesKey(key) {
			return true
		}
	}
	return false
}

// PatchFor returns the partial-removal patch addressing the record, if any.
func (t Tombstones) PatchFor(rec orders.OrderRecord) (RemovedItemPatch, bool) {
	for key, patch := range t.PartialRemovals {
		if rec.MatchesKey(key) {
			return patch, true
		}
	}
	return RemovedItemPatch{}, false
}

// Store persists tombstones across restarts. Writes are whole-record
// replacements; marking the same key removed twice is a no-op, and a new
// item-removal patch overwrites any prior patch for that key because the
// latest local action reflects explicit user intent.
type Store struct {
	mu      sync.Mutex
	backing localstore.Store
}

// NewStore wires the tombstone store to its durable backing.
func NewStore(backing localstore.Store) (*Store, error) {
	if backing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStore, "localstore backing required")
	}
	return &Store{backing: backing}, nil
}

// MarkOrderRemoved records a full local deletion of the order.
func (s *Store) MarkOrderRemoved(ctx context.Context, key string) error {
	if key == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.loadRemoved(ctx)
	if err != nil {
		return err
	}
	for _, existing := range removed {
		if existing == key {
			return nil
		}
	}
	removed = append(removed, key)
	return s.saveJSON(ctx, localstore.KeyRemovedOrders, removed)
}

// MarkItemsRemoved records the items/total that remain on the order after a
// local single-item removal.
func (s *Store) MarkItemsRemoved(ctx context.Context, key string, remaining []orders.OrderItem, total decimal.Decimal) error {
	if key == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	patches, err := s.loadPatches(ctx)
	if err != nil {
		return err
	}
	if remaining == nil {
		remaining = []orders.OrderItem{}
	}
	patches[key] = RemovedItemPatch{Items: remaining, Total: total}
	return s.saveJSON(ctx, localstore.KeyPartialRemovals, patches)
}

// Clear drops all tombstones for the key. Called once the remote store has
// confirmed the order gone; pruning bounds memory but is not required for
// correctness.
func (s *Store) Clear(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.loadRemoved(ctx)
	if err != nil {
		return err
	}
	kept := removed[:0]
	for _, existing := range removed {
		if existing != key {
			kept = append(kept, existing)
		}
	}
	if len(kept) != len(removed) {
		if err := s.saveJSON(ctx, localstore.KeyRemovedOrders, kept); err != nil {
			return err
		}
	}

	patches, err := s.loadPatches(ctx)
	if err != nil {
		return err
	}
	if _, ok := patches[key]; ok {
		delete(patches, key)
		return s.saveJSON(ctx, localstore.KeyPartialRemovals, patches)
	}
	return nil
}

// Snapshot returns the current tombstones for a reconciliation pass.
func (s *Store) Snapshot(ctx context.Context) (Tombstones, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.loadRemoved(ctx)
	if err != nil {
		return Tombstones{}, err
	}
	patches, err := s.loadPatches(ctx)
	if err != nil {
		return Tombstones{}, err
	}

	keys := make(map[string]struct{}, len(removed))
	for _, key := range removed {
		keys[key] = struct{}{}
	}
	return Tombstones{RemovedOrderKeys: keys, PartialRemovals: patches}, nil
}

func (s *Store) loadRemoved(ctx context.Context) ([]string, error) {
	raw, ok, err := s.backing.Get(ctx, localstore.KeyRemovedOrders)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, "loading removed orders")
	}
	if !ok {
		return []string{}, nil
	}
	var removed []string
	if err := json.Unmarshal(raw, &removed); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, "decoding removed orders")
	}
	return removed, nil
}

func (s *Store) loadPatches(ctx context.Context) (map[string]RemovedItemPatch, error) {
	raw, ok, err := s.backing.Get(ctx, localstore.KeyPartialRemovals)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, "loading partial removals")
	}
	if !ok {
		return map[string]RemovedItemPatch{}, nil
	}
	var patches map[string]RemovedItemPatch
	if err := json.Unmarshal(raw, &patches); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, "decoding partial removals")
	}
	if patches == nil {
		patches = map[string]RemovedItemPatch{}
	}
	return patches, nil
}

func (s *Store) saveJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStore, err, "encoding tombstones")
	}
	if err := s.backing.Set(ctx, key, raw); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStore, err, "persisting tombstones")
	}
	return nil
}
