package orders

import (
	"testing"
	"time"

	"github.com/angelmondragon/ordersync/pkg/enums"
	"github.com/shopspring/decimal"
)

func TestKeyPrefersInternalID(t *testing.T) {
	rec := OrderRecord{InternalID: "int-1", OrderNumber: "ORD-1", ClientTempID: "tmp-1"}
	if rec.Key() != "int-1" {
		t.Fatalf("expected internal id, got %q", rec.Key())
	}

	rec.InternalID = ""
	if rec.Key() != "ORD-1" {
		t.Fatalf("expected order number, got %q", rec.Key())
	}

	rec.OrderNumber = ""
	if rec.Key() != "tmp-1" {
		t.Fatalf("expected client temp id, got %q", rec.Key())
	}
}

func TestSameOrderEqualityRule(t *testing.T) {
	cases := []struct {
		name string
		a, b OrderRecord
		want bool
	}{
		{
			name: "internal ids match",
			a:    OrderRecord{InternalID: "int-1", OrderNumber: "ORD-1"},
			b:    OrderRecord{InternalID: "int-1", OrderNumber: "ORD-2"},
			want: true,
		},
		{
			name: "internal ids differ even when numbers match",
			a:    OrderRecord{InternalID: "int-1", OrderNumber: "ORD-1"},
			b:    OrderRecord{InternalID: "int-2", OrderNumber: "ORD-1"},
			want: false,
		},
		{
			name: "order number used when one side lacks internal id",
			a:    OrderRecord{InternalID: "int-1", OrderNumber: "ORD-1"},
			b:    OrderRecord{OrderNumber: "ORD-1"},
			want: true,
		},
		{
			name: "client temp id as last resort",
			a:    OrderRecord{ClientTempID: "tmp-1"},
			b:    OrderRecord{ClientTempID: "tmp-1"},
			want: true,
		},
		{
			name: "no shared identity",
			a:    OrderRecord{InternalID: "int-1"},
			b:    OrderRecord{OrderNumber: "ORD-1"},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SameOrder(tc.a, tc.b); got != tc.want {
				t.Fatalf("SameOrder=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatchesKeyAnyIdentifier(t *testing.T) {
	rec := OrderRecord{InternalID: "int-1", OrderNumber: "ORD-1", ClientTempID: "tmp-1"}
	for _, key := range []string{"int-1", "ORD-1", "tmp-1"} {
		if !rec.MatchesKey(key) {
			t.Fatalf("expected %q to match", key)
		}
	}
	if rec.MatchesKey("") {
		t.Fatalf("empty key must never match")
	}
	if rec.MatchesKey("other") {
		t.Fatalf("unrelated key matched")
	}
}

func TestRecomputeTotal(t *testing.T) {
	rec := OrderRecord{
		Items: []OrderItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("19.99")},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("5.50")},
		},
		Total: decimal.RequireFromString("999.00"),
	}
	if got := rec.RecomputeTotal(); !got.Equal(decimal.RequireFromString("45.48")) {
		t.Fatalf("expected 45.48, got %s", got)
	}

	empty := OrderRecord{}
	if got := empty.RecomputeTotal(); !got.IsZero() {
		t.Fatalf("expected zero total for empty order, got %s", got)
	}
}

func TestCloneDoesNotAliasItems(t *testing.T) {
	rec := OrderRecord{
		Status:    enums.OrderStatusPending,
		Items:     []OrderItem{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		CreatedAt: time.Now(),
	}
	dup := rec.Clone()
	dup.Items[0].Quantity = 9

	if rec.Items[0].Quantity != 1 {
		t.Fatalf("clone aliased the items slice")
	}
}
