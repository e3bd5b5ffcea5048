// Package log provides protocol capture for camera control links.
//
// Capture is separate from operational logging (slog). Operational logs tell
// an operator what the bridge is doing; protocol capture records every frame,
// decoded message and state transition on a link so that a misbehaving
// camera can be analysed after the fact.
//
// # Basic Usage
//
//	// Development: mirror events to the console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Production: append to a capture file
//	fl, _ := log.NewFileLogger("/var/log/orca/control.olog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Layers
//
//   - Transport: raw length-prefixed frames (FrameEvent)
//   - Wire: decoded command and reply messages (MessageEvent)
//   - Session: link, session and poller state changes (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with the .olog
// extension. The orca-log tool views and summarises them.
package log
