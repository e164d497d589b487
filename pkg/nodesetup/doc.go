// Package nodesetup drives a freshly provisioned node through its remote
// configuration.
//
// A Machine runs one setup session at a time. Each session walks a step
// list (fetch composition data, add the application key, bind and publish
// the health model) and then, for every vendor service model found in the
// node's composition data, a per-model list (bind, publish, subscribe).
// Every step sends exactly one acknowledged request and waits for its
// status message.
//
// The machine never blocks. Requests leave through a ConfigClient and
// outcomes arrive later through HandleEvent, which the caller must invoke
// from a single goroutine together with any Scheduler callbacks:
//
//	m, _ := nodesetup.New(cfg)
//	m.SetCallbacks(onSuccess, onFailure)
//	m.Start(0x0010, 2, appKey, 0)
//	...
//	m.HandleEvent(nodesetup.MessageEvent(op, params))
//
// Busy sends are retried after Config.SendRetryDelay. Acknowledgement
// timeouts are retried from the budget given to Start. Rejected status
// codes, unexpected opcodes and exhausted budgets end the session through
// the failure callback with a *SetupError. Retrying the whole node is the
// caller's job.
package nodesetup
