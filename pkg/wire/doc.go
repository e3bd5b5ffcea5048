// Package wire defines the control message format spoken by camera endpoints.
//
// Every exchange is a correlated command/reply pair. Commands carry a type
// tag, a command name, a per-session correlation id and a named-parameter
// mapping:
//
//	{"msg_type":"cmd","msg_val":"configure","id":12,
//	 "timestamp":"2026-03-01T12:00:00.000000",
//	 "params":{"camera":{"exposure_time":0.01}}}
//
// Replies echo the command name and id with msg_type "ack" or "nack".
//
// # Conventional Commands
//
//   - status: reply params.status holds the status mapping
//   - request_configuration: reply params.camera holds the full configuration
//   - configure: params.camera is a partial configuration, or params.command
//     is an opaque verb (connect, disconnect, capture, end_capture); the
//     reply is an acknowledgement only
//
// # Codecs
//
// JSON is the default encoding and matches what odin-data endpoints expect.
// CBOR carries the same structure for endpoints that speak it.
package wire
