// Package feed implements the resilient market-data subscription client.
//
// A Client owns one transport connection at a time and keeps a logical
// subscription set synchronized across connection drops: after every
// successful (re)connect the full set is replayed to the server, so the
// server's view of what this client wants is always rebuilt from
// client-side state.
//
// Reconnection uses a fixed interval and a strict attempt cap. The cap
// keeps a permanently unreachable endpoint from producing an infinite
// retry loop; when the budget is exhausted the client settles in a
// terminal error state until Connect is called again.
package feed
