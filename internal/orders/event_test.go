package orders

import (
	"testing"

	"github.com/angelmondragon/ordersync/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordersync/pkg/errors"
)

func TestParseEnvelopeStatusChanged(t *testing.T) {
	raw := []byte(`{"type":"order_status_changed","orderId":"int-1","newStatus":"shipped"}`)
	ev, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	changed, ok := ev.(StatusChanged)
	if !ok {
		t.Fatalf("expected StatusChanged, got %T", ev)
	}
	if changed.Key != "int-1" || changed.NewStatus != enums.OrderStatusShipped {
		t.Fatalf("unexpected event %+v", changed)
	}
}

func TestParseEnvelopeFallsBackToOrderNumber(t *testing.T) {
	raw := []byte(`{"type":"order_removed","orderNumber":"ORD-7"}`)
	ev, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	removed, ok := ev.(Removed)
	if !ok {
		t.Fatalf("expected Removed, got %T", ev)
	}
	if removed.Key != "ORD-7" {
		t.Fatalf("unexpected key %q", removed.Key)
	}
}

func TestParseEnvelopePingIsHeartbeat(t *testing.T) {
	for _, raw := range []string{`{"type":"ping"}`, `{"type":"heartbeat"}`} {
		ev, err := ParseEnvelope([]byte(raw))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if _, ok := ev.(Heartbeat); !ok {
			t.Fatalf("expected Heartbeat for %s, got %T", raw, ev)
		}
	}
}

func TestParseEnvelopeOrderUpdated(t *testing.T) {
	raw := []byte(`{"type":"order_updated","data":{"internalId":"int-1","status":"processing","items":[{"productId":"p1","name":"Widget","quantity":2,"unitPrice":"4.25"}]}}`)
	ev, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	updated, ok := ev.(Updated)
	if !ok {
		t.Fatalf("expected Updated, got %T", ev)
	}
	if updated.Record.InternalID != "int-1" || len(updated.Record.Items) != 1 {
		t.Fatalf("unexpected record %+v", updated.Record)
	}
}

func TestParseEnvelopeFullResync(t *testing.T) {
	raw := []byte(`{"type":"full_resync","data":[{"internalId":"int-1","status":"pending","items":[]},{"orderNumber":"ORD-2","status":"shipped","items":[]}]}`)
	ev, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	resync, ok := ev.(FullResync)
	if !ok {
		t.Fatalf("expected FullResync, got %T", ev)
	}
	if len(resync.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(resync.Records))
	}
}

func TestParseEnvelopeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":               `{"type":`,
		"unknown type":           `{"type":"order_exploded"}`,
		"status without key":     `{"type":"order_status_changed","newStatus":"shipped"}`,
		"status invalid value":   `{"type":"order_status_changed","orderId":"int-1","newStatus":"teleported"}`,
		"removal without key":    `{"type":"order_removed"}`,
		"update without record":  `{"type":"order_updated"}`,
		"update without identiy": `{"type":"order_updated","data":{"status":"pending"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEnvelope([]byte(raw))
			if err == nil {
				t.Fatalf("expected error for %s", raw)
			}
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeMalformedPayload {
				t.Fatalf("expected MALFORMED_PAYLOAD, got %v", err)
			}
		})
	}
}
