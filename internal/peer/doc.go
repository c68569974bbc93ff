// Package peer replicates the chat log between the two nodes of a pair.
//
// The replicator runs three activities that share one liveness flag:
//
//   - Heartbeat loop: probes the peer every HeartbeatInterval; success marks
//     the peer up, any failure marks it down. No back-off.
//   - Push path: called inline for every locally produced message. Skipped
//     when the peer is down; a failed push marks the peer down and is never
//     retried. Anti-entropy is the only recovery for a dropped push.
//   - Sync loop: every SyncInterval, pulls whatever the peer has after this
//     node's last position, merges it idempotently and delivers new entries
//     to local clients.
//
// # Full pulls
//
// An incremental cursor cannot see peer entries that sort below the local
// maximum, which is exactly what a partition leaves behind. A sync cycle
// therefore pulls the whole history (cursor (0, "")) on the first cycle,
// after the peer recovers from down, after a push was skipped or failed,
// and every FullSyncEvery cycles. Merging is idempotent so a full pull is
// always safe.
//
// Handler serves the other side of the same RPC surface over HTTP/JSON:
// GET /heartbeat, GET /sync, POST /push and GET /history.
package peer
