package feed

// Status is the client's connection status. Exactly one is current at
// any instant.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// State is a point-in-time snapshot of the client's observable state.
// Every field is updated synchronously with the event that caused it.
type State struct {
	Connected   bool
	Status      Status
	LastMessage *Message
	Err         error

	// Session metadata from the server's connection acknowledgment.
	SessionID  string
	UserID     string
	ServerTime int64

	// ReconnectAttempts counts automatic reconnects since the last
	// successful open.
	ReconnectAttempts int

	// ParseErrors counts malformed frames dropped since construction.
	ParseErrors int64
}
