// Package session runs the client-facing chat server.
//
// Each accepted connection gets one goroutine for its whole lifetime and
// moves through Connecting → Active → Closed:
//
//   - Connecting: the node sends a prompt line and reads one line as the
//     nickname (empty means DefaultNickname), then registers with the hub.
//   - Active: newline-delimited frames. "/users" lists nicknames; any other
//     non-empty frame is chat text that is stamped by the Lamport clock,
//     persisted, broadcast to every other local client and pushed to the peer.
//   - Closed: unregister, announce the departure, release the transport.
//
// Store and peer failures never end a session. Delivery and durability are
// decoupled: a message that failed to persist is still broadcast.
package session
