package feed

import (
	"encoding/json"
	"time"
)

// dispatch decodes one inbound frame and routes it. Malformed frames are
// counted and dropped; the connection stays alive. Well-formed frames
// update the last-message observable unconditionally, then go to the
// registered handler for their type, if any. Unknown types are dropped
// silently.
func (c *Client) dispatch(gen uint64, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.parseErrors++
		}
		c.mu.Unlock()
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}
	msg.Raw = data
	msg.ReceivedAt = time.Now()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.lastMessage = &msg

	switch msg.Type {
	case TypeConnectionAck:
		c.applyAckLocked(msg)
	case TypePong:
		if msg.Timestamp != 0 {
			c.serverTime = msg.Timestamp
		}
	}

	handler := c.handlers[msg.Type]
	c.mu.Unlock()

	if handler != nil {
		handler(msg)
	}
}

// applyAckLocked records session metadata from a connection_ack message.
// The payload may sit under "payload" or at the top level depending on
// the deployment; both are accepted. Caller holds c.mu.
func (c *Client) applyAckLocked(msg Message) {
	var ack connectionAck
	if len(msg.Payload) > 0 {
		json.Unmarshal(msg.Payload, &ack)
	}
	if ack.SessionID == "" && ack.UserID == "" {
		json.Unmarshal(msg.Raw, &ack)
	}

	if ack.SessionID != "" {
		c.sessionID = ack.SessionID
	}
	if ack.UserID != "" {
		c.userID = ack.UserID
	}
	if ack.ServerTime != 0 {
		c.serverTime = ack.ServerTime
	} else if msg.Timestamp != 0 {
		c.serverTime = msg.Timestamp
	}

	c.logger.Debug("connection acknowledged",
		"session_id", c.sessionID,
		"server_time", c.serverTime,
	)
}
