package enums

import "fmt"

// EventType tags an update envelope received from the backend.
type EventType string

const (
	EventOrderStatusChanged EventType = "order_status_changed"
	EventOrderRemoved       EventType = "order_removed"
	EventOrderUpdated       EventType = "order_updated"
	EventFullResync         EventType = "full_resync"
	EventHeartbeat          EventType = "heartbeat"
)

var validEventTypes = []EventType{
	EventOrderStatusChanged,
	EventOrderRemoved,
	EventOrderUpdated,
	EventFullResync,
	EventHeartbeat,
}

// String implements fmt.Stringer.
func (e EventType) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EventType.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into an EventType. The wire keep-alive
// marker "ping" is an alias for heartbeat.
func ParseEventType(value string) (EventType, error) {
	if value == "ping" {
		return EventHeartbeat, nil
	}
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
