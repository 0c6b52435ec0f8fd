// Package transport implements the Transport Wrapper component.
//
// A Conn owns exactly one duplex WebSocket connection and surfaces
// every open/message/error/close event through the Events slots.
// Reconnection policy lives above it, in the feed package; a Conn is
// used once and replaced after it closes.
package transport
