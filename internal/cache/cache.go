// Package cache persists the last reconciled order list so a restart renders
// a recent view before the first fetch completes.
package cache

import (
	"context"
	"encoding/json"

	"github.com/angelmondragon/ordersync/internal/localstore"
	"github.com/angelmondragon/ordersync/internal/orders"
	pkgerrors "github.com/angelmondragon/ordersync/pkg/errors"
)

type Cache struct {
	backing localstore.Store
}

func New(backing localstore.Store) (*Cache, error) {
	if backing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStore, "localstore backing required")
	}
	return &Cache{backing: backing}, nil
}

// Put replaces the cached list with the given view.
func (c *Cache) Put(ctx context.Context, view []orders.OrderRecord) error {
	if view == nil {
		view = []orders.OrderRecord{}
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStore, err, "encoding order cache")
	}
	if err := c.backing.Set(ctx, localstore.KeyOrderCache, raw); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStore, err, "persisting order cache")
	}
	return nil
}

// List returns the cached list; absent cache means an empty list.
func (c *Cache) List(ctx context.Context) ([]orders.OrderRecord, error) {
	raw, ok, err := c.backing.Get(ctx, localstore.KeyOrderCache)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, "loading order cache")
	}
	if !ok {
		return []orders.OrderRecord{}, nil
	}
	var view []orders.OrderRecord
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStore, err, "decoding order cache")
	}
	return view, nil
}
