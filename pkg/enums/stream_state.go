package enums

// StreamState names a phase of the push connection lifecycle.
type StreamState string

const (
	StreamStateIdle       StreamState = "idle"
	StreamStateConnecting StreamState = "connecting"
	StreamStateOpen       StreamState = "open"
	StreamStateBackoff    StreamState = "backoff"
	StreamStateFallback   StreamState = "fallback"
	StreamStateStopped    StreamState = "stopped"
)

// String implements fmt.Stringer.
func (s StreamState) String() string {
	return string(s)
}

// Live reports whether the push channel is delivering events in this state.
func (s StreamState) Live() bool {
	return s == StreamStateOpen
}
