package feed

import (
	"encoding/json"
	"time"
)

// Message is an inbound frame after decoding. Beyond Type being present
// no schema is enforced; Payload carries whatever the server sent.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`

	// ReceivedAt is the local time the frame was read off the transport.
	ReceivedAt time.Time `json:"-"`

	// Raw is the full frame as delivered, for handlers whose payloads
	// live at the top level rather than under "payload".
	Raw json.RawMessage `json:"-"`
}

// Handler consumes messages of one registered type. Registering a new
// handler for a type replaces the previous one.
type Handler func(msg Message)

// Special message types handled by the client itself, independent of
// user-registered handlers.
const (
	TypeConnectionAck = "connection_ack"
	TypePing          = "ping"
	TypePong          = "pong"
)

// connectionAck is the payload of a connection_ack message.
type connectionAck struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	ServerTime int64  `json:"server_time"`
}
