// Package transport provides the byte-stream link between the bridge and a
// camera's control endpoint.
//
// The transport layer handles:
//   - Endpoint parsing (tcp://host:port and ipc:///path)
//   - Length-prefixed message framing
//   - Optimistic connect with background (re)dial
//   - Bounded send queue while the stream is down
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   JSON (or CBOR) messages      │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│     TCP or Unix socket         │
//	└────────────────────────────────┘
//
// # Link Semantics
//
// A Link behaves like a message-queue client socket: Dial succeeds as soon
// as the endpoint parses, frames sent before the stream exists are queued
// (oldest dropped past the high-water mark) and a broken stream is
// re-established in the background. Nothing above the link learns about any
// of this except through missing replies.
package transport
