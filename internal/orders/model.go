package orders

import (
	"time"

	"github.com/angelmondragon/ordersync/pkg/enums"
	"github.com/shopspring/decimal"
)

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Image     string          `json:"image,omitempty"`
}

// OrderRecord is the client-held view of one order. Identity is a triple of
// possibly-partial keys: InternalID is the store's opaque key and may be absent
// for orders pending confirmation, OrderNumber is the human-facing number, and
// ClientTempID is generated locally before the store assigns an InternalID.
type OrderRecord struct {
	InternalID    string            `json:"internalId,omitempty"`
	OrderNumber   string            `json:"orderNumber,omitempty"`
	ClientTempID  string            `json:"clientTempId,omitempty"`
	CustomerEmail string            `json:"customerEmail,omitempty"`
	Status        enums.OrderStatus `json:"status"`
	Items         []OrderItem       `json:"items"`
	Total         decimal.Decimal   `json:"total"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Key returns the most authoritative identifier available. Tombstones and the
// local view API address orders by this value.
func (o OrderRecord) Key() string {
	if o.InternalID != "" {
		return o.InternalID
	}
	if o.OrderNumber != "" {
		return o.OrderNumber
	}
	return o.ClientTempID
}

// MatchesKey reports whether any of the record's identifiers equals key.
func (o OrderRecord) MatchesKey(key string) bool {
	if key == "" {
		return false
	}
	return o.InternalID == key || o.OrderNumber == key || o.ClientTempID == key
}

// SameOrder applies the dedup equality rule: InternalID when both records have
// one, otherwise OrderNumber, otherwise ClientTempID.
func SameOrder(a, b OrderRecord) bool {
	if a.InternalID != "" && b.InternalID != "" {
		return a.InternalID == b.InternalID
	}
	if a.OrderNumber != "" && b.OrderNumber != "" {
		return a.OrderNumber == b.OrderNumber
	}
	if a.ClientTempID != "" && b.ClientTempID != "" {
		return a.ClientTempID == b.ClientTempID
	}
	return false
}

// Empty reports whether the order has no live items. An empty order is
// equivalent to being removed and must not render as a live order.
func (o OrderRecord) Empty() bool {
	return len(o.Items) == 0
}

// RecomputeTotal returns the sum of quantity*unitPrice over items. Cached
// totals are never trusted; callers overwrite Total with this value.
func (o OrderRecord) RecomputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity)))
	}
	return total
}

// Clone returns a deep copy so callers can mutate without aliasing the view.
func (o OrderRecord) Clone() OrderRecord {
	dup := o
	if o.Items != nil {
		dup.Items = make([]OrderItem, len(o.Items))
		copy(dup.Items, o.Items)
	}
	return dup
}
