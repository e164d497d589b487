// Package log captures node-setup protocol traffic for later analysis.
//
// Protocol capture is separate from operational logging (slog). Every
// configuration request, acknowledgement, retry and step transition of a
// node-setup session can be recorded as an Event and correlated by the
// session ID.
//
// # Basic Usage
//
//	// Development: print events through slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Production: append to a capture file
//	fl, _ := log.NewFileLogger("/var/lib/meshcfg/provisioner.mlog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - MessageEvent: an access message sent to or received from a node
//   - StateChangeEvent: a session or step transition
//   - RetryEvent: a busy resend, timeout resend, or node-level retry
//   - ErrorEventData: a failure at any layer
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys
// (.mlog extension). The meshcfg-log tool views, filters and summarises them.
package log
