package orders

import (
	"encoding/json"

	"github.com/angelmondragon/ordersync/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordersync/pkg/errors"
)

// Event is a parsed update received from the backend, or synthesized by the
// fallback poller. Events carry no sequence numbers; consumers must be
// idempotent under redelivery.
type Event interface {
	EventType() enums.EventType
}

// StatusChanged replaces only the status of the matching order.
type StatusChanged struct {
	Key       string
	NewStatus enums.OrderStatus
}

func (StatusChanged) EventType() enums.EventType { return enums.EventOrderStatusChanged }

// Removed drops the matching order from the view.
type Removed struct {
	Key string
}

func (Removed) EventType() enums.EventType { return enums.EventOrderRemoved }

// Updated replaces the full record at its key, inserting when new.
type Updated struct {
	Record OrderRecord
}

func (Updated) EventType() enums.EventType { return enums.EventOrderUpdated }

// FullResync carries the authoritative order list from a full fetch.
type FullResync struct {
	Records []OrderRecord
}

func (FullResync) EventType() enums.EventType { return enums.EventFullResync }

// Heartbeat keeps the channel alive and is otherwise ignored.
type Heartbeat struct{}

func (Heartbeat) EventType() enums.EventType { return enums.EventHeartbeat }

// Envelope is the wire shape of one newline-delimited stream payload.
type Envelope struct {
	Type        string          `json:"type"`
	OrderID     string          `json:"orderId,omitempty"`
	OrderNumber string          `json:"orderNumber,omitempty"`
	NewStatus   string          `json:"newStatus,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// EventKey returns the identifier the envelope addresses, preferring the
// store's opaque id over the human-facing number.
func (e Envelope) EventKey() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.OrderNumber
}

// ParseEnvelope decodes one raw payload into a typed Event. Malformed
// payloads return a MALFORMED_PAYLOAD error and must be dropped by the
// caller, never treated as fatal to the connection.
func ParseEnvelope(raw []byte) (Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "decoding envelope")
	}

	eventType, err := enums.ParseEventType(envelope.Type)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "unknown event type")
	}

	switch eventType {
	case enums.EventHeartbeat:
		return Heartbeat{}, nil
	case enums.EventOrderStatusChanged:
		key := envelope.EventKey()
		if key == "" {
			return nil, pkgerrors.New(pkgerrors.CodeMalformedPayload, "status change without order key")
		}
		status, err := enums.ParseOrderStatus(envelope.NewStatus)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "status change with invalid status")
		}
		return StatusChanged{Key: key, NewStatus: status}, nil
	case enums.EventOrderRemoved:
		key := envelope.EventKey()
		if key == "" {
			return nil, pkgerrors.New(pkgerrors.CodeMalformedPayload, "removal without order key")
		}
		return Removed{Key: key}, nil
	case enums.EventOrderUpdated:
		var record OrderRecord
		if err := json.Unmarshal(envelope.Data, &record); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "decoding updated record")
		}
		if record.Key() == "" {
			return nil, pkgerrors.New(pkgerrors.CodeMalformedPayload, "updated record without identity")
		}
		return Updated{Record: record}, nil
	case enums.EventFullResync:
		var records []OrderRecord
		if err := json.Unmarshal(envelope.Data, &records); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "decoding resync list")
		}
		return FullResync{Records: records}, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeMalformedPayload, "unhandled event type")
}
