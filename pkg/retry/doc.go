// Package retry computes the delay before a failed node is configured again.
//
// Request-level retries (busy sends, acknowledgement timeouts) belong to the
// node setup state machine. When a whole session fails the provisioner
// waits, starting at DefaultInitial and doubling up to DefaultMax with up to
// 25% jitter, and then restarts the node from its first step.
package retry
