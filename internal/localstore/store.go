// Package localstore provides the durable key-value storage behind the
// cached order list and the tombstone records. Keys are namespaced strings,
// values are JSON blobs; an absent key is not an error.
package localstore

import "context"

// Keys for the three independently stored records. Each is safe to be absent
// on first run.
const (
	KeyOrderCache      = "orders/cache"
	KeyRemovedOrders   = "tombstones/removed"
	KeyPartialRemovals = "tombstones/partial"
)

// Store is the minimal durable KV surface. Implementations must tolerate
// concurrent whole-record writes; last writer wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
