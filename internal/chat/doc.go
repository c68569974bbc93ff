// Package chat provides the data model shared by every pairchat component.
//
// This package contains type definitions only. All other internal packages
// import chat; chat imports nothing internal.
//
// Key design constraints:
//   - A message is identified by its Position: (lamport, origin)
//   - The total order is lamport ascending, then origin compared bytewise
//   - Timestamps are informational and never used for ordering
//   - All JSON tags use snake_case and match the peer wire format
package chat
